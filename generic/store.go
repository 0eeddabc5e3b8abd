/*
store.go - Transaction boundary and request-scoped values

PURPOSE:
  Repositories live next to their domain (finance.Repository,
  stock.Repository, ...). What they share is the transaction boundary: a
  collection registration writes a collection, a ledger entry with its
  installments and a stock movement, and either all of it commits or none.

TRANSACTION IN CONTEXT:
  TxRunner.WithTx opens a transaction and hands fn a context carrying it.
  Every repository method called with that context joins the transaction.
  A nested WithTx joins the outer one instead of opening a second.
  Implementations pass fn a context marked with WithinTx, so services can
  tell when they run as one step of a larger operation.

ATOMICITY:
  If fn returns an error the whole transaction is rolled back. There is no
  best-effort partial commit anywhere in the engine.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: database/sql transaction
  - store/memory/memory.go: snapshot and restore under a mutex

SEE ALSO:
  - finance/service.go, stock/service.go, coleta/service.go
*/
package generic

import "context"

// TxRunner executes fn atomically.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txOpenKey struct{}

// WithinTx marks ctx as carrying an open transaction.
func WithinTx(ctx context.Context) context.Context {
	return context.WithValue(ctx, txOpenKey{}, true)
}

// InTx reports whether ctx belongs to a transaction that has not committed
// yet. Audit events recorded under such a context could describe writes that
// are later rolled back.
func InTx(ctx context.Context) bool {
	open, _ := ctx.Value(txOpenKey{}).(bool)
	return open
}

// =============================================================================
// ACTOR - Acting user attached to every mutation
// =============================================================================

type actorKey struct{}

// WithActor records the authenticated user performing the request.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFrom returns the acting user, or "system" when none was attached.
func ActorFrom(ctx context.Context) string {
	if id, ok := ctx.Value(actorKey{}).(string); ok && id != "" {
		return id
	}
	return "system"
}
