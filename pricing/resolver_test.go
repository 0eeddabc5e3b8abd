package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var today = generic.NewDate(2024, time.March, 15)

func newTestService(t *testing.T) *pricing.Service {
	t.Helper()
	return pricing.NewService(memory.New(), generic.FixedClock(today), nil)
}

func price(s string) *generic.Amount {
	a := generic.NewAmountFromString(s)
	return &a
}

func kg(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// =============================================================================
// OUTCOME
// =============================================================================

func TestOutcome_Troca_FloorsDeliveredUnits(t *testing.T) {
	// GIVEN: Troca with factor 6
	p := pricing.Pricing{Mode: pricing.ModeTroca, ExchangeFactor: 6}

	// WHEN: 120 kg and 125 kg are collected
	out120, err := p.Outcome(kg(120))
	require.NoError(t, err)
	out125, err := p.Outcome(kg(125))
	require.NoError(t, err)

	// THEN: 20 units each, no monetary value
	assert.Equal(t, int64(20), out120.DeliveredUnits)
	assert.Equal(t, int64(20), out125.DeliveredUnits)
	assert.True(t, out120.Amount.IsZero())
}

func TestOutcome_Compra_MultipliesAndRounds(t *testing.T) {
	p := pricing.Pricing{Mode: pricing.ModeCompra, UnitPrice: generic.NewAmountFromString("1.20")}

	out, err := p.Outcome(kg(50))
	require.NoError(t, err)
	assert.Equal(t, "60.00", out.Amount.String())
	assert.Zero(t, out.DeliveredUnits)

	frac, err := p.Outcome(decimal.RequireFromString("10.333"))
	require.NoError(t, err)
	assert.Equal(t, "12.40", frac.Amount.String())
}

func TestOutcome_Doacao_HasNoteOnly(t *testing.T) {
	out, err := pricing.Pricing{Mode: pricing.ModeDoacao}.Outcome(kg(40))
	require.NoError(t, err)

	assert.Equal(t, pricing.DonationNote, out.Note)
	assert.True(t, out.Amount.IsZero())
	assert.Zero(t, out.DeliveredUnits)
}

func TestOutcome_RejectsInvalidInput(t *testing.T) {
	_, err := pricing.Pricing{Mode: pricing.ModeTroca, ExchangeFactor: 0}.Outcome(kg(10))
	assert.Equal(t, "INVALID_FACTOR", generic.CodeOf(err))

	_, err = pricing.Pricing{Mode: pricing.ModeTroca, ExchangeFactor: 6}.Outcome(kg(-1))
	assert.Equal(t, "INVALID_QUANTITY", generic.CodeOf(err))

	_, err = pricing.Pricing{Mode: "Leilão"}.Outcome(kg(1))
	assert.Equal(t, "INVALID_MODE", generic.CodeOf(err))
}

func TestManualDefault(t *testing.T) {
	p := pricing.ManualDefault()

	assert.Equal(t, pricing.ModeTroca, p.Mode)
	assert.Equal(t, pricing.DefaultExchangeFactor, p.ExchangeFactor)
	assert.True(t, p.Fallback)
	assert.Empty(t, p.ContractID)
}

// =============================================================================
// CONTRACT VALIDATION
// =============================================================================

func TestContract_Validate(t *testing.T) {
	cases := []struct {
		name string
		c    pricing.Contract
		code string
	}{
		{"missing client", pricing.Contract{Mode: pricing.ModeDoacao, Status: pricing.StatusActive}, "CLIENT_REQUIRED"},
		{"bad mode", pricing.Contract{ClientID: "c", Mode: "x", Status: pricing.StatusActive}, "INVALID_MODE"},
		{"bad status", pricing.Contract{ClientID: "c", Mode: pricing.ModeDoacao, Status: "Vigente"}, "INVALID_STATUS"},
		{"troca without factor", pricing.Contract{ClientID: "c", Mode: pricing.ModeTroca, Status: pricing.StatusActive}, "INVALID_FACTOR"},
		{"compra without price", pricing.Contract{ClientID: "c", Mode: pricing.ModeCompra, Status: pricing.StatusActive}, "PRICE_REQUIRED"},
		{"compra negative price", pricing.Contract{ClientID: "c", Mode: pricing.ModeCompra, UnitPrice: price("-1"), Status: pricing.StatusActive}, "INVALID_PRICE"},
		{"inverted validity", pricing.Contract{
			ClientID: "c", Mode: pricing.ModeDoacao, Status: pricing.StatusActive,
			StartDate: generic.NewDate(2024, 5, 1), EndDate: generic.NewDate(2024, 4, 1),
		}, "INVALID_VALIDITY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.c.Validate()
			require.Error(t, err)
			assert.Equal(t, tc.code, generic.CodeOf(err))
		})
	}
}

// =============================================================================
// ACTIVE CONTRACT SELECTION
// =============================================================================

func TestSelectActive_LatestEndDateWins(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	contracts := []pricing.Contract{
		{ID: "short", Status: pricing.StatusActive, EndDate: generic.NewDate(2024, 6, 30), CreatedAt: created},
		{ID: "long", Status: pricing.StatusActive, EndDate: generic.NewDate(2024, 12, 31), CreatedAt: created},
		{ID: "inactive", Status: pricing.StatusInactive, CreatedAt: created},
		{ID: "expired", Status: pricing.StatusActive, EndDate: generic.NewDate(2024, 3, 14), CreatedAt: created},
	}

	got, ok := pricing.SelectActive(contracts, today)
	require.True(t, ok)
	assert.Equal(t, "long", got.ID)
}

func TestSelectActive_OpenEndedAndTieBreak(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	// open end beats any dated contract
	got, ok := pricing.SelectActive([]pricing.Contract{
		{ID: "dated", Status: pricing.StatusActive, EndDate: generic.NewDate(2030, 1, 1), CreatedAt: newer},
		{ID: "open", Status: pricing.StatusActive, CreatedAt: older},
	}, today)
	require.True(t, ok)
	assert.Equal(t, "open", got.ID)

	// same end date: most recently created
	got, ok = pricing.SelectActive([]pricing.Contract{
		{ID: "first", Status: pricing.StatusActive, CreatedAt: older},
		{ID: "second", Status: pricing.StatusActive, CreatedAt: newer},
	}, today)
	require.True(t, ok)
	assert.Equal(t, "second", got.ID)
}

func TestSelectActive_EndDateTodayStillCurrent(t *testing.T) {
	_, ok := pricing.SelectActive([]pricing.Contract{
		{ID: "ends-today", Status: pricing.StatusActive, EndDate: today},
	}, today)
	assert.True(t, ok)
}

// =============================================================================
// SERVICE
// =============================================================================

func TestService_ResolveUsesActiveContract(t *testing.T) {
	// GIVEN: a client with a Compra contract and an old canceled Troca
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SaveContract(ctx, pricing.Contract{
		ClientID: "cli-1", Mode: pricing.ModeTroca, ExchangeFactor: 5, Status: pricing.StatusCanceled,
	})
	require.NoError(t, err)
	saved, err := svc.SaveContract(ctx, pricing.Contract{
		ClientID: "cli-1", Mode: pricing.ModeCompra, UnitPrice: price("1,20"), Status: pricing.StatusActive,
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	// WHEN: resolving for the client
	p, err := svc.Resolve(ctx, "cli-1", nil)

	// THEN: the Compra contract is snapshotted
	require.NoError(t, err)
	assert.Equal(t, pricing.ModeCompra, p.Mode)
	assert.Equal(t, "1.20", p.UnitPrice.String())
	assert.Equal(t, saved.ID, p.ContractID)
	assert.False(t, p.Fallback)
}

func TestService_ResolveWithoutContract(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Resolve(context.Background(), "nobody", nil)

	assert.ErrorIs(t, err, generic.ErrNoActiveContract)
	assert.True(t, generic.IsRuleViolation(err))
}

func TestService_ResolveOverrideSkipsLookup(t *testing.T) {
	svc := newTestService(t)
	override := &pricing.Contract{ID: "manual", ClientID: "cli-9", Mode: pricing.ModeTroca, ExchangeFactor: 4, Status: pricing.StatusActive}

	p, err := svc.Resolve(context.Background(), "cli-9", override)
	require.NoError(t, err)
	assert.Equal(t, 4, p.ExchangeFactor)

	_, err = svc.Resolve(context.Background(), "cli-9", &pricing.Contract{ClientID: "cli-9", Mode: pricing.ModeTroca, Status: pricing.StatusActive})
	assert.Equal(t, "INVALID_FACTOR", generic.CodeOf(err))
}

func TestService_SaveContractClearsForeignFields(t *testing.T) {
	svc := newTestService(t)

	c, err := svc.SaveContract(context.Background(), pricing.Contract{
		ClientID: "cli-2", Mode: pricing.ModeTroca, ExchangeFactor: 6, UnitPrice: price("2.00"), Status: pricing.StatusActive,
	})
	require.NoError(t, err)
	assert.Nil(t, c.UnitPrice)

	got, err := svc.GetContract(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.ExchangeFactor)

	_, err = svc.GetContract(context.Background(), "missing")
	assert.True(t, generic.IsNotFound(err))
}
