package api

import (
	"github.com/oleoverde/ledger-engine/audit"
	"github.com/oleoverde/ledger-engine/coleta"
	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/stock"
	"go.uber.org/zap"
)

// Backend is everything the services need from storage. store/sqlite and
// store/memory both satisfy it.
type Backend interface {
	generic.TxRunner
	pricing.Repository
	finance.Repository
	stock.Repository
	coleta.Repository
	audit.Store
	Pinger
}

// Options tune the wired services.
type Options struct {
	Clock          generic.Clock
	Logger         *zap.Logger
	Audit          audit.Sink
	FallbackFactor int
}

// Wire builds every service over one backend and returns the handler.
func Wire(b Backend, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = generic.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}

	prc := pricing.NewService(b, opts.Clock, opts.Logger)
	prc.Audit = opts.Audit
	fin := finance.NewService(b, b, opts.Clock, opts.Logger, opts.Audit)
	stk := stock.NewService(b, b, opts.Logger, opts.Audit)
	col := coleta.NewService(b, b, prc.Resolver, fin, stk, opts.Logger, opts.Audit)
	col.FallbackFactor = opts.FallbackFactor

	return NewHandler(prc, fin, stk, col, b, opts.Logger)
}
