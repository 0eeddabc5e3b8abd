package coleta_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oleoverde/ledger-engine/audit"
	"github.com/oleoverde/ledger-engine/coleta"
	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/stock"
	"github.com/oleoverde/ledger-engine/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var today = generic.NewDate(2024, time.May, 20)

type fixture struct {
	store   *memory.Store
	pricing *pricing.Service
	finance *finance.Service
	stock   *stock.Service
	coleta  *coleta.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clock := generic.FixedClock(today)
	f := &fixture{store: store}
	f.pricing = pricing.NewService(store, clock, nil)
	f.finance = finance.NewService(store, store, clock, nil, nil)
	f.stock = stock.NewService(store, store, nil, nil)
	f.coleta = coleta.NewService(store, store, f.pricing.Resolver, f.finance, f.stock, nil, nil)

	for _, p := range []stock.Product{{ID: "oleo", Name: "Óleo usado"}, {ID: "sabao", Name: "Sabão", Unit: "un"}} {
		_, err := f.stock.SaveProduct(context.Background(), p)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) contract(t *testing.T, c pricing.Contract) {
	t.Helper()
	c.Status = pricing.StatusActive
	_, err := f.pricing.SaveContract(context.Background(), c)
	require.NoError(t, err)
}

func input(client string, kg int64) coleta.Input {
	return coleta.Input{
		ClientID:     client,
		Counterparty: finance.Counterparty{Name: "Cliente " + client},
		CollectedAt:  today,
		QuantityKg:   decimal.NewFromInt(kg),
		ProductID:    "oleo",
	}
}

func price(s string) *generic.Amount {
	a := generic.NewAmountFromString(s)
	return &a
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) all() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

type failingInsert struct{ coleta.Repository }

func (failingInsert) InsertCollection(context.Context, coleta.Collection) error {
	return errors.New("disk full")
}

// =============================================================================
// REGISTER
// =============================================================================

func TestRegister_Troca(t *testing.T) {
	// GIVEN: a Troca contract with factor 6
	f := newFixture(t)
	f.contract(t, pricing.Contract{ClientID: "sol", Mode: pricing.ModeTroca, ExchangeFactor: 6})
	ctx := context.Background()

	// WHEN: 120 kg are collected and soap is handed over
	in := input("sol", 120)
	in.DeliveredProductID = "sabao"
	c, err := f.coleta.Register(ctx, in)

	// THEN: 20 units, no ledger entry, one linked movement with two lines
	require.NoError(t, err)
	assert.Equal(t, int64(20), c.Outcome.DeliveredUnits)
	assert.Empty(t, c.EntryID)
	require.NotEmpty(t, c.MovementID)

	m, err := f.stock.GetMovement(ctx, c.MovementID)
	require.NoError(t, err)
	assert.Equal(t, stock.OriginCollection, m.Origin)
	assert.Equal(t, c.ID, m.CollectionID)
	assert.Equal(t, stock.DirectionIn, m.Direction)
	require.Len(t, m.Lines, 2)
	assert.True(t, m.Lines[1].Quantity.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, stock.DirectionOut, m.Lines[1].Direction)

	// the oil comes in, the soap goes out
	oil, err := f.stock.ProductBalance(ctx, "oleo")
	require.NoError(t, err)
	assert.True(t, oil.Equal(decimal.NewFromInt(120)))
	soap, err := f.stock.ProductBalance(ctx, "sabao")
	require.NoError(t, err)
	assert.True(t, soap.Equal(decimal.NewFromInt(-20)))
}

func TestRegister_CompraCreatesPayable(t *testing.T) {
	f := newFixture(t)
	f.contract(t, pricing.Contract{ClientID: "lua", Mode: pricing.ModeCompra, UnitPrice: price("1.20")})
	ctx := context.Background()

	c, err := f.coleta.Register(ctx, input("lua", 50))
	require.NoError(t, err)

	assert.Equal(t, "60.00", c.Outcome.Amount.String())
	require.NotEmpty(t, c.EntryID)
	entry, err := f.finance.GetEntry(ctx, c.EntryID)
	require.NoError(t, err)
	assert.Equal(t, finance.DirectionDebit, entry.Direction)
	assert.Equal(t, "60.00", entry.Total.String())
	assert.Equal(t, c.ID, entry.CollectionID)
	require.Len(t, entry.Installments, 1)
	assert.Equal(t, today, entry.Installments[0].DueDate)
}

func TestRegister_Doacao(t *testing.T) {
	f := newFixture(t)
	f.contract(t, pricing.Contract{ClientID: "igreja", Mode: pricing.ModeDoacao})

	c, err := f.coleta.Register(context.Background(), input("igreja", 30))
	require.NoError(t, err)

	assert.Equal(t, pricing.DonationNote, c.Outcome.Note)
	assert.Empty(t, c.EntryID)
	assert.NotEmpty(t, c.MovementID)
}

func TestRegister_NoContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coleta.Register(ctx, input("novo", 60))
	assert.ErrorIs(t, err, generic.ErrNoActiveContract)

	// explicit fallback uses the configured factor
	f.coleta.FallbackFactor = 5
	in := input("novo", 60)
	in.AllowFallback = true
	c, err := f.coleta.Register(ctx, in)
	require.NoError(t, err)
	assert.True(t, c.Pricing.Fallback)
	assert.Equal(t, int64(12), c.Outcome.DeliveredUnits)
}

func TestRegister_FailureWritesNothing(t *testing.T) {
	// GIVEN: a Compra with a schedule that does not add up
	f := newFixture(t)
	f.contract(t, pricing.Contract{ClientID: "lua", Mode: pricing.ModeCompra, UnitPrice: price("1.20")})
	ctx := context.Background()
	in := input("lua", 50)
	in.Schedule = []finance.ScheduledInstallment{{DueDate: today, Amount: generic.NewAmountFromString("59.99")}}

	// WHEN
	_, err := f.coleta.Register(ctx, in)

	// THEN: no collection, entry or movement survives
	assert.ErrorIs(t, err, generic.ErrScheduleMismatch)
	cols, err := f.coleta.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, cols)
	page, err := f.stock.ListMovements(ctx, stock.MovementFilter{}, generic.Page{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestRegister_AuditOnlyTheCommittedOutcome(t *testing.T) {
	// GIVEN: services sharing one audit sink, and a collection insert that fails
	// after the entry and the movement were written
	f := newFixture(t)
	f.contract(t, pricing.Contract{ClientID: "lua", Mode: pricing.ModeCompra, UnitPrice: price("1.20")})
	ctx := context.Background()
	sink := &recordingSink{}
	fin := finance.NewService(f.store, f.store, generic.FixedClock(today), nil, sink)
	stk := stock.NewService(f.store, f.store, nil, sink)
	broken := coleta.NewService(failingInsert{f.store}, f.store, f.pricing.Resolver, fin, stk, nil, sink)

	// WHEN
	_, err := broken.Register(ctx, input("lua", 50))

	// THEN: only the failed collection is audited, nothing claims the entry exists
	require.Error(t, err)
	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionCollectionCreated, events[0].Action)
	assert.False(t, events[0].Success)
	page, err := fin.ListEntries(ctx, finance.EntryFilter{}, generic.Page{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	// a committed registration is one event too
	working := coleta.NewService(f.store, f.store, f.pricing.Resolver, fin, stk, nil, sink)
	_, err = working.Register(ctx, input("lua", 50))
	require.NoError(t, err)
	events = sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionCollectionCreated, events[1].Action)
	assert.True(t, events[1].Success)

	// called on their own, the inner services still audit
	_, err = stk.CreateManual(ctx, stock.MovementInput{
		Direction: stock.DirectionIn,
		MovedAt:   today,
		Lines:     []stock.Line{{ProductID: "sabao", Quantity: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)
	events = sink.all()
	require.Len(t, events, 3)
	assert.Equal(t, audit.ActionMovementCreated, events[2].Action)
}

// =============================================================================
// EDIT
// =============================================================================

func TestEdit_UsesSnapshotNotCurrentContract(t *testing.T) {
	// GIVEN: a collection priced at 1.20, then the contract price changes
	f := newFixture(t)
	f.contract(t, pricing.Contract{ClientID: "lua", Mode: pricing.ModeCompra, UnitPrice: price("1.20")})
	ctx := context.Background()
	c, err := f.coleta.Register(ctx, input("lua", 50))
	require.NoError(t, err)
	f.contract(t, pricing.Contract{ClientID: "lua", Mode: pricing.ModeCompra, UnitPrice: price("2.00")})

	// WHEN: the quantity is edited
	edited, err := f.coleta.Edit(ctx, c.ID, input("lua", 100))

	// THEN: the entry is regenerated at the snapshot price, movement kept in place
	require.NoError(t, err)
	assert.Equal(t, "120.00", edited.Outcome.Amount.String())
	assert.Equal(t, c.EntryID, edited.EntryID)
	assert.Equal(t, c.MovementID, edited.MovementID)

	entry, err := f.finance.GetEntry(ctx, edited.EntryID)
	require.NoError(t, err)
	assert.Equal(t, "120.00", entry.Total.String())

	balance, err := f.stock.ProductBalance(ctx, "oleo")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)))
}

func TestEdit_LockedAfterPaymentRollsBack(t *testing.T) {
	f := newFixture(t)
	f.contract(t, pricing.Contract{ClientID: "lua", Mode: pricing.ModeCompra, UnitPrice: price("1.20")})
	ctx := context.Background()
	c, err := f.coleta.Register(ctx, input("lua", 50))
	require.NoError(t, err)
	entry, err := f.finance.GetEntry(ctx, c.EntryID)
	require.NoError(t, err)
	_, err = f.finance.RegisterPayment(ctx, finance.PaymentInput{
		InstallmentID: entry.Installments[0].ID,
		Amount:        generic.NewAmountFromString("10.00"),
		Method:        finance.MethodCash,
	})
	require.NoError(t, err)

	_, err = f.coleta.Edit(ctx, c.ID, input("lua", 80))
	assert.ErrorIs(t, err, generic.ErrInstallmentLocked)

	stored, err := f.coleta.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.QuantityKg.Equal(decimal.NewFromInt(50)))
	balance, err := f.stock.ProductBalance(ctx, "oleo")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(50)), "movement untouched after rollback")
}

func TestEdit_RejectsClientChange(t *testing.T) {
	// GIVEN: a collection priced under the first client's contract
	f := newFixture(t)
	f.contract(t, pricing.Contract{ClientID: "lua", Mode: pricing.ModeCompra, UnitPrice: price("1.20")})
	f.contract(t, pricing.Contract{ClientID: "sol", Mode: pricing.ModeTroca, ExchangeFactor: 6})
	ctx := context.Background()
	c, err := f.coleta.Register(ctx, input("lua", 50))
	require.NoError(t, err)

	// WHEN: the edit names another client
	_, err = f.coleta.Edit(ctx, c.ID, input("sol", 50))

	// THEN: rejected, nothing changed
	assert.Equal(t, "CLIENT_CHANGE_NOT_ALLOWED", generic.CodeOf(err))
	assert.True(t, generic.IsClientError(err))
	stored, err := f.coleta.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "lua", stored.ClientID)
	assert.Equal(t, pricing.ModeCompra, stored.Pricing.Mode)
}

func TestEdit_ZeroQuantityCancelsEntryAndUnlinks(t *testing.T) {
	f := newFixture(t)
	f.contract(t, pricing.Contract{ClientID: "lua", Mode: pricing.ModeCompra, UnitPrice: price("1.20")})
	ctx := context.Background()
	c, err := f.coleta.Register(ctx, input("lua", 50))
	require.NoError(t, err)

	edited, err := f.coleta.Edit(ctx, c.ID, input("lua", 0))
	require.NoError(t, err)
	assert.Empty(t, edited.MovementID)

	entry, err := f.finance.GetEntry(ctx, c.EntryID)
	require.NoError(t, err)
	assert.Equal(t, finance.StatusCanceled, finance.EntryStatus(*entry, today))
}

// =============================================================================
// DELETE
// =============================================================================

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.contract(t, pricing.Contract{ClientID: "lua", Mode: pricing.ModeCompra, UnitPrice: price("1.20")})
	ctx := context.Background()
	c, err := f.coleta.Register(ctx, input("lua", 50))
	require.NoError(t, err)

	require.NoError(t, f.coleta.Delete(ctx, c.ID))

	_, err = f.coleta.Get(ctx, c.ID)
	assert.True(t, generic.IsNotFound(err))
	_, err = f.stock.GetMovement(ctx, c.MovementID)
	assert.True(t, generic.IsNotFound(err))
	entry, err := f.finance.GetEntry(ctx, c.EntryID)
	require.NoError(t, err)
	assert.Equal(t, finance.StatusCanceled, finance.EntryStatus(*entry, today))

	assert.True(t, generic.IsNotFound(f.coleta.Delete(ctx, c.ID)))
}

func TestLinkedMovementCannotBeEditedDirectly(t *testing.T) {
	f := newFixture(t)
	f.contract(t, pricing.Contract{ClientID: "sol", Mode: pricing.ModeTroca, ExchangeFactor: 6})
	ctx := context.Background()
	c, err := f.coleta.Register(ctx, input("sol", 60))
	require.NoError(t, err)

	err = f.stock.DeleteManual(ctx, c.MovementID)
	assert.ErrorIs(t, err, generic.ErrLinkedMovement)
}
