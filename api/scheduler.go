/*
scheduler.go - Periodic overdue report

PURPOSE:
  Periodically folds the ledger into overdue totals per direction and logs
  them, so operators see receivables to chase and payables to settle
  without opening the UI. Status is derived on read, so nothing is written.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Checks once on start, then on every tick
  - A failed check is logged and retried on the next tick

CONFIGURATION:
  - monitor.interval: how often to check (default 1h, 0 disables)

USAGE:
  m := NewOverdueMonitor(financeService, time.Hour, logger)
  m.Start()
  // ... later
  m.Stop()

SEE ALSO:
  - finance/summary.go: Summary with a status filter
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/oleoverde/ledger-engine/finance"
	"go.uber.org/zap"
)

// OverdueReport is the result of one check.
type OverdueReport struct {
	Receivable finance.Summary `json:"receivable"`
	Payable    finance.Summary `json:"payable"`
}

// OverdueMonitor logs overdue totals on a fixed interval.
type OverdueMonitor struct {
	Finance       *finance.Service
	CheckInterval time.Duration
	Logger        *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverdueMonitor creates a monitor. A non-positive interval disables it.
func NewOverdueMonitor(fin *finance.Service, interval time.Duration, logger *zap.Logger) *OverdueMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverdueMonitor{
		Finance:       fin,
		CheckInterval: interval,
		Logger:        logger.Named("overdue"),
	}
}

// Start begins the periodic check. Calling Start twice is a no-op.
func (m *OverdueMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CheckInterval <= 0 {
		m.Logger.Info("overdue monitor disabled")
		return
	}
	if m.ticker != nil {
		return
	}

	m.ticker = time.NewTicker(m.CheckInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.run(m.ticker, m.stop)

	m.Logger.Info("overdue monitor started", zap.Duration("interval", m.CheckInterval))
}

// Stop halts the monitor and waits for a running check to finish.
func (m *OverdueMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.wg.Wait()
	m.ticker = nil
	m.Logger.Info("overdue monitor stopped")
}

func (m *OverdueMonitor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer m.wg.Done()

	m.checkAndLog()
	for {
		select {
		case <-ticker.C:
			m.checkAndLog()
		case <-stop:
			return
		}
	}
}

func (m *OverdueMonitor) checkAndLog() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report, err := m.Check(ctx)
	if err != nil {
		m.Logger.Error("overdue check failed", zap.Error(err))
		return
	}
	if report.Receivable.Count == 0 && report.Payable.Count == 0 {
		m.Logger.Debug("no overdue entries")
		return
	}
	m.Logger.Warn("overdue entries",
		zap.Int("receivable_count", report.Receivable.Count),
		zap.String("receivable_balance", report.Receivable.TotalBalance.String()),
		zap.Int("payable_count", report.Payable.Count),
		zap.String("payable_balance", report.Payable.TotalBalance.String()),
	)
}

// Check computes the overdue totals for both directions.
func (m *OverdueMonitor) Check(ctx context.Context) (OverdueReport, error) {
	var report OverdueReport
	var err error

	report.Receivable, err = m.Finance.Summary(ctx, finance.EntryFilter{
		Direction: finance.DirectionCredit,
		Status:    finance.StatusOverdue,
	})
	if err != nil {
		return OverdueReport{}, err
	}
	report.Payable, err = m.Finance.Summary(ctx, finance.EntryFilter{
		Direction: finance.DirectionDebit,
		Status:    finance.StatusOverdue,
	})
	if err != nil {
		return OverdueReport{}, err
	}
	return report, nil
}
