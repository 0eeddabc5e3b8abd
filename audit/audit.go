/*
Package audit delivers mutation events to the logging collaborator.

PURPOSE:
  After every successful or failed mutation the engine emits one
  (action, payload) event. Delivery is fire-and-forget: a slow or broken
  audit backend never blocks a payment and never turns a success into a
  failure.

DELIVERY:
  AsyncSink buffers events in a channel drained by one goroutine. When the
  buffer is full the event is dropped and counted, the caller is not held.
  Each event is written to the zap logger and, when configured, persisted
  through a Store (store/sqlite keeps an audit_log table).

SEE ALSO:
  - finance/service.go, stock/service.go, coleta/service.go: emitters
*/
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oleoverde/ledger-engine/generic"
	"go.uber.org/zap"
)

type Action string

const (
	ActionContractSaved       Action = "contract_saved"
	ActionEntryCreated        Action = "entry_created"
	ActionScheduleReplaced    Action = "entry_schedule_replaced"
	ActionEntryCanceled       Action = "entry_canceled"
	ActionPaymentRegistered   Action = "payment_registered"
	ActionInstallmentCanceled Action = "installment_canceled"
	ActionMovementCreated     Action = "movement_created"
	ActionMovementUpdated     Action = "movement_updated"
	ActionMovementDeleted     Action = "movement_deleted"
	ActionMovementLinked      Action = "movement_linked"
	ActionMovementUnlinked    Action = "movement_unlinked"
	ActionCollectionCreated   Action = "collection_created"
	ActionCollectionEdited    Action = "collection_edited"
	ActionCollectionDeleted   Action = "collection_deleted"
)

// Event is one audit record.
type Event struct {
	Action  Action
	ActorID string
	Success bool
	Code    string // reason code when Success is false
	Payload map[string]any
	At      time.Time
}

// NewEvent fills actor, outcome and timestamp from ctx and err.
func NewEvent(ctx context.Context, action Action, err error, payload map[string]any) Event {
	e := Event{
		Action:  action,
		ActorID: generic.ActorFrom(ctx),
		Success: err == nil,
		Payload: payload,
		At:      time.Now().UTC(),
	}
	if err != nil {
		e.Code = generic.CodeOf(err)
	}
	return e
}

// Sink receives events. Implementations must not block the caller.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// Store persists events.
type Store interface {
	AppendAudit(ctx context.Context, e Event) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// =============================================================================
// ASYNC SINK
// =============================================================================

type AsyncSink struct {
	events  chan Event
	logger  *zap.Logger
	store   Store
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsyncSink starts the drain goroutine. store may be nil.
func NewAsyncSink(logger *zap.Logger, store Store, bufferSize int) *AsyncSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &AsyncSink{
		events: make(chan Event, bufferSize),
		logger: logger.Named("audit"),
		store:  store,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Record enqueues e, dropping it when the buffer is full.
func (s *AsyncSink) Record(_ context.Context, e Event) {
	defer func() {
		// Record after Close must not panic the caller
		if recover() != nil {
			s.dropped.Add(1)
		}
	}()
	select {
	case s.events <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded.
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Close stops accepting events and waits for the buffer to drain.
func (s *AsyncSink) Close() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
	<-s.done
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for e := range s.events {
		s.write(e)
	}
}

func (s *AsyncSink) write(e Event) {
	fields := []zap.Field{
		zap.String("action", string(e.Action)),
		zap.String("actor_id", e.ActorID),
		zap.Bool("success", e.Success),
		zap.Any("payload", e.Payload),
	}
	if e.Code != "" {
		fields = append(fields, zap.String("code", e.Code))
	}
	s.logger.Info("audit", fields...)

	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.logger.Warn("failed to persist audit event", zap.String("action", string(e.Action)), zap.Error(err))
	}
}
