// Package memory provides an in-memory implementation of every repository
// (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/oleoverde/ledger-engine/audit"
	"github.com/oleoverde/ledger-engine/coleta"
	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/stock"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps every table in maps guarded by one mutex. WithTx holds the
// write lock for the whole transaction, so transactions are serialized and
// a rollback restores a snapshot taken at the start.
type Store struct {
	mu   sync.RWMutex
	data tables
}

type tables struct {
	contracts    map[string]pricing.Contract
	collections  map[string]coleta.Collection
	entries      map[string]finance.Entry // installments live in their own map
	installments map[string]finance.Installment
	payments     []finance.Payment
	movements    map[string]stock.Movement
	products     map[string]stock.Product
	audit        []audit.Event
}

func New() *Store {
	return &Store{data: tables{
		contracts:    make(map[string]pricing.Contract),
		collections:  make(map[string]coleta.Collection),
		entries:      make(map[string]finance.Entry),
		installments: make(map[string]finance.Installment),
		movements:    make(map[string]stock.Movement),
		products:     make(map[string]stock.Product),
	}}
}

var (
	_ generic.TxRunner   = (*Store)(nil)
	_ pricing.Repository = (*Store)(nil)
	_ finance.Repository = (*Store)(nil)
	_ stock.Repository   = (*Store)(nil)
	_ coleta.Repository  = (*Store)(nil)
	_ audit.Store        = (*Store)(nil)
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

type txKey struct{}

// WithTx runs fn under the write lock. Any error restores the state seen
// when the transaction began. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(generic.WithinTx(context.WithValue(ctx, txKey{}, s))); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// read and write lock unless ctx already holds the transaction lock.
func (s *Store) read(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) write(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (t tables) clone() tables {
	out := tables{
		contracts:    make(map[string]pricing.Contract, len(t.contracts)),
		collections:  make(map[string]coleta.Collection, len(t.collections)),
		entries:      make(map[string]finance.Entry, len(t.entries)),
		installments: make(map[string]finance.Installment, len(t.installments)),
		payments:     append([]finance.Payment(nil), t.payments...),
		movements:    make(map[string]stock.Movement, len(t.movements)),
		products:     make(map[string]stock.Product, len(t.products)),
		audit:        append([]audit.Event(nil), t.audit...),
	}
	for k, v := range t.contracts {
		out.contracts[k] = v
	}
	for k, v := range t.collections {
		out.collections[k] = v
	}
	for k, v := range t.entries {
		out.entries[k] = v
	}
	for k, v := range t.installments {
		out.installments[k] = v
	}
	for k, v := range t.movements {
		out.movements[k] = v
	}
	for k, v := range t.products {
		out.products[k] = v
	}
	return out
}

// =============================================================================
// CONTRACTS
// =============================================================================

func (s *Store) SaveContract(ctx context.Context, c pricing.Contract) error {
	defer s.write(ctx)()
	if c.UnitPrice != nil {
		price := *c.UnitPrice
		c.UnitPrice = &price
	}
	s.data.contracts[c.ID] = c
	return nil
}

func (s *Store) GetContract(ctx context.Context, id string) (*pricing.Contract, error) {
	defer s.read(ctx)()
	c, ok := s.data.contracts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) ListContracts(ctx context.Context, clientID string) ([]pricing.Contract, error) {
	defer s.read(ctx)()
	var out []pricing.Contract
	for _, c := range s.data.contracts {
		if clientID == "" || c.ClientID == clientID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// ENTRIES AND INSTALLMENTS
// =============================================================================

func (s *Store) InsertEntry(ctx context.Context, e finance.Entry) error {
	defer s.write(ctx)()
	if _, exists := s.data.entries[e.ID]; exists {
		return generic.Detail(generic.ErrValidation, "entry %s already exists", e.ID)
	}
	for _, inst := range e.Installments {
		s.data.installments[inst.ID] = inst
	}
	e.Installments = nil
	s.data.entries[e.ID] = e
	return nil
}

func (s *Store) UpdateEntry(ctx context.Context, e finance.Entry) error {
	defer s.write(ctx)()
	if _, ok := s.data.entries[e.ID]; !ok {
		return generic.NotFound("entry", e.ID)
	}
	e.Installments = nil
	s.data.entries[e.ID] = e
	return nil
}

func (s *Store) ReplaceInstallments(ctx context.Context, entryID string, installments []finance.Installment) error {
	defer s.write(ctx)()
	for id, inst := range s.data.installments {
		if inst.EntryID == entryID {
			delete(s.data.installments, id)
		}
	}
	for _, inst := range installments {
		s.data.installments[inst.ID] = inst
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (*finance.Entry, error) {
	defer s.read(ctx)()
	e, ok := s.data.entries[id]
	if !ok {
		return nil, nil
	}
	e.Installments = s.installmentsOf(id)
	return &e, nil
}

func (s *Store) FindEntryByCollection(ctx context.Context, collectionID string) (*finance.Entry, error) {
	defer s.read(ctx)()
	for _, e := range s.data.entries {
		if e.CollectionID == collectionID {
			e.Installments = s.installmentsOf(e.ID)
			return &e, nil
		}
	}
	return nil, nil
}

func (s *Store) ListEntries(ctx context.Context, filter finance.EntryFilter) ([]finance.Entry, error) {
	defer s.read(ctx)()
	var out []finance.Entry
	for _, e := range s.data.entries {
		if !filter.Range.Contains(e.IssueDate) ||
			(filter.Direction != "" && e.Direction != filter.Direction) ||
			(filter.OwnerID != "" && e.OwnerID != filter.OwnerID) {
			continue
		}
		e.Installments = s.installmentsOf(e.ID)
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) installmentsOf(entryID string) []finance.Installment {
	var out []finance.Installment
	for _, inst := range s.data.installments {
		if inst.EntryID == entryID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (s *Store) GetInstallment(ctx context.Context, id string) (*finance.Installment, error) {
	defer s.read(ctx)()
	inst, ok := s.data.installments[id]
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

func (s *Store) SaveInstallmentState(ctx context.Context, inst finance.Installment, expectedVersion int) error {
	defer s.write(ctx)()
	current, ok := s.data.installments[inst.ID]
	if !ok {
		return generic.NotFound("installment", inst.ID)
	}
	if current.Version != expectedVersion {
		return generic.Detail(generic.ErrConcurrentModification,
			"installment %s is at version %d, expected %d", inst.ID, current.Version, expectedVersion)
	}
	current.Paid = inst.Paid
	current.Canceled = inst.Canceled
	current.Version = inst.Version
	s.data.installments[inst.ID] = current
	return nil
}

func (s *Store) InsertPayment(ctx context.Context, p finance.Payment) error {
	defer s.write(ctx)()
	s.data.payments = append(s.data.payments, p)
	return nil
}

func (s *Store) ListPayments(ctx context.Context, installmentID string) ([]finance.Payment, error) {
	defer s.read(ctx)()
	var out []finance.Payment
	for _, p := range s.data.payments {
		if p.InstallmentID == installmentID {
			out = append(out, p)
		}
	}
	return out, nil
}

// =============================================================================
// STOCK
// =============================================================================

func (s *Store) InsertMovement(ctx context.Context, m stock.Movement) error {
	defer s.write(ctx)()
	m.Lines = append([]stock.Line(nil), m.Lines...)
	s.data.movements[m.ID] = m
	return nil
}

func (s *Store) UpdateMovement(ctx context.Context, m stock.Movement) error {
	defer s.write(ctx)()
	if _, ok := s.data.movements[m.ID]; !ok {
		return generic.NotFound("movement", m.ID)
	}
	m.Lines = append([]stock.Line(nil), m.Lines...)
	s.data.movements[m.ID] = m
	return nil
}

func (s *Store) DeleteMovement(ctx context.Context, id string) error {
	defer s.write(ctx)()
	delete(s.data.movements, id)
	return nil
}

func (s *Store) GetMovement(ctx context.Context, id string) (*stock.Movement, error) {
	defer s.read(ctx)()
	m, ok := s.data.movements[id]
	if !ok {
		return nil, nil
	}
	m.Lines = append([]stock.Line(nil), m.Lines...)
	return &m, nil
}

func (s *Store) FindMovementByCollection(ctx context.Context, collectionID string) (*stock.Movement, error) {
	defer s.read(ctx)()
	for _, m := range s.data.movements {
		if m.CollectionID == collectionID {
			m.Lines = append([]stock.Line(nil), m.Lines...)
			return &m, nil
		}
	}
	return nil, nil
}

func (s *Store) ListMovements(ctx context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	defer s.read(ctx)()
	var out []stock.Movement
	for _, m := range s.data.movements {
		if !filter.Range.Contains(m.MovedAt) {
			continue
		}
		m.Lines = append([]stock.Line(nil), m.Lines...)
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) ProductLines(ctx context.Context, productID string) ([]stock.ProductLine, error) {
	defer s.read(ctx)()
	var out []stock.ProductLine
	for _, m := range s.data.movements {
		for _, l := range m.Lines {
			if l.ProductID == productID {
				out = append(out, stock.ProductLine{MovementID: m.ID, Direction: l.DirectionIn(m.Direction), Quantity: l.Quantity})
			}
		}
	}
	return out, nil
}

func (s *Store) SaveProduct(ctx context.Context, p stock.Product) error {
	defer s.write(ctx)()
	s.data.products[p.ID] = p
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*stock.Product, error) {
	defer s.read(ctx)()
	p, ok := s.data.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]stock.Product, error) {
	defer s.read(ctx)()
	out := make([]stock.Product, 0, len(s.data.products))
	for _, p := range s.data.products {
		out = append(out, p)
	}
	return out, nil
}

// =============================================================================
// COLLECTIONS
// =============================================================================

func (s *Store) InsertCollection(ctx context.Context, c coleta.Collection) error {
	defer s.write(ctx)()
	s.data.collections[c.ID] = c
	return nil
}

func (s *Store) UpdateCollection(ctx context.Context, c coleta.Collection) error {
	defer s.write(ctx)()
	if _, ok := s.data.collections[c.ID]; !ok {
		return generic.NotFound("collection", c.ID)
	}
	s.data.collections[c.ID] = c
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	defer s.write(ctx)()
	delete(s.data.collections, id)
	return nil
}

func (s *Store) GetCollection(ctx context.Context, id string) (*coleta.Collection, error) {
	defer s.read(ctx)()
	c, ok := s.data.collections[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) ListCollections(ctx context.Context, clientID string) ([]coleta.Collection, error) {
	defer s.read(ctx)()
	var out []coleta.Collection
	for _, c := range s.data.collections {
		if clientID == "" || c.ClientID == clientID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CollectedAt.Equal(out[j].CollectedAt) {
			return out[i].CollectedAt.After(out[j].CollectedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e audit.Event) error {
	defer s.write(ctx)()
	s.data.audit = append(s.data.audit, e)
	return nil
}

// AuditEvents returns a copy of every persisted audit event.
func (s *Store) AuditEvents() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event(nil), s.data.audit...)
}
