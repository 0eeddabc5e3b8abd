package factory_test

import (
	"testing"
	"time"

	"github.com/oleoverde/ledger-engine/factory"
	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/stock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ENTRY JSON
// =============================================================================

const entryJSON = `{
	"direction": "credito",
	"counterparty": {"name": "Restaurante Sol", "tax_id": "12.345.678/0001-90"},
	"total": "1.000,00",
	"issue_date": "2024-03-01",
	"down_payment": "200,00",
	"installment_count": 2,
	"schedule": [
		{"due_date": "2024-03-31", "amount": "400,00"},
		{"due_date": "2024-04-30", "amount": "R$ 400,00"}
	]
}`

func TestParseEntry_NormalizesAmountsAndDates(t *testing.T) {
	in, err := factory.NewEntryFactory().ParseEntry(entryJSON)
	require.NoError(t, err)

	assert.Equal(t, finance.DirectionCredit, in.Direction)
	assert.Equal(t, "Restaurante Sol", in.Counterparty.Name)
	assert.Equal(t, "1000.00", in.Total.String())
	assert.Equal(t, "200.00", in.DownPayment.String())
	assert.Equal(t, generic.NewDate(2024, time.March, 1), in.IssueDate)
	require.Len(t, in.Schedule, 2)
	assert.Equal(t, "400.00", in.Schedule[1].Amount.String())
	assert.Equal(t, "2024-04-30", in.Schedule[1].DueDate.String())

	installments, err := finance.BuildInstallments("e-1", in)
	require.NoError(t, err)
	assert.Len(t, installments, 3)
}

func TestParseEntry_Errors(t *testing.T) {
	f := factory.NewEntryFactory()

	_, err := f.ParseEntry(`{not json`)
	assert.Equal(t, "INVALID_JSON", generic.CodeOf(err))

	_, err = f.ParseEntry(`{"direction": "credito", "total": "abc", "issue_date": "2024-03-01"}`)
	assert.Equal(t, "INVALID_AMOUNT", generic.CodeOf(err))

	_, err = f.ParseEntry(`{"direction": "credito", "total": "10", "issue_date": "2024-03-01",
		"schedule": [{"due_date": "31/03/2024", "amount": "10"}]}`)
	assert.Equal(t, "INVALID_DATE", generic.CodeOf(err))
	assert.Contains(t, err.Error(), "installment 1")
}

func TestToJSON_RoundTripsThroughTheLedger(t *testing.T) {
	f := factory.NewEntryFactory()
	in, err := f.ParseEntry(entryJSON)
	require.NoError(t, err)
	installments, err := finance.BuildInstallments("e-1", in)
	require.NoError(t, err)

	ej := f.ToJSON(finance.Entry{
		Direction:    in.Direction,
		Counterparty: in.Counterparty,
		Total:        in.Total,
		IssueDate:    in.IssueDate,
		Installments: installments,
	})

	assert.Equal(t, "200.00", ej.DownPayment)
	assert.Equal(t, 2, ej.InstallmentCount)
	back, err := f.FromJSON(ej)
	require.NoError(t, err)
	assert.True(t, back.Total.Equal(in.Total))
	assert.Len(t, back.Schedule, 2)
}

func TestToJSON_SingleInstallmentShape(t *testing.T) {
	due := generic.NewDate(2024, 5, 10)
	ej := factory.NewEntryFactory().ToJSON(finance.Entry{
		Direction: finance.DirectionDebit,
		Total:     generic.NewAmountFromString("60.00"),
		IssueDate: due,
		Installments: []finance.Installment{
			{Sequence: 1, DueDate: due, Expected: generic.NewAmountFromString("60.00")},
		},
	})

	assert.Equal(t, "2024-05-10", ej.DueDate)
	assert.Empty(t, ej.Schedule)
	assert.Zero(t, ej.InstallmentCount)
}

// =============================================================================
// SPLIT
// =============================================================================

func TestSplitEvenly_RemainderOnLast(t *testing.T) {
	first := generic.NewDate(2024, 1, 31)

	rows, err := factory.SplitEvenly(generic.NewAmountFromString("100.00"), 3, first, 30)
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, "33.33", rows[0].Amount.String())
	assert.Equal(t, "33.33", rows[1].Amount.String())
	assert.Equal(t, "33.34", rows[2].Amount.String())
	assert.Equal(t, "2024-03-01", rows[1].DueDate.String())
	assert.Equal(t, "2024-03-31", rows[2].DueDate.String())
}

func TestSplitEvenly_Rejects(t *testing.T) {
	first := generic.NewDate(2024, 1, 31)

	_, err := factory.SplitEvenly(generic.NewAmountFromString("10"), 0, first, 30)
	assert.Equal(t, "INVALID_INSTALLMENT_COUNT", generic.CodeOf(err))

	_, err = factory.SplitEvenly(generic.ZeroAmount(), 2, first, 30)
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = factory.SplitEvenly(generic.NewAmountFromString("0.02"), 3, first, 30)
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = factory.SplitEvenly(generic.NewAmountFromString("10"), 2, generic.Date{}, 30)
	assert.Equal(t, "DUE_DATE_REQUIRED", generic.CodeOf(err))
}

// =============================================================================
// CONTRACT AND COLLECTION
// =============================================================================

func TestParseContract(t *testing.T) {
	c, err := factory.ParseContract(factory.ContractJSON{
		ClientID:  "lua",
		Mode:      "Compra",
		UnitPrice: "1,20",
		StartDate: "2024-01-01",
		Status:    "Ativo",
	})
	require.NoError(t, err)

	assert.Equal(t, pricing.ModeCompra, c.Mode)
	require.NotNil(t, c.UnitPrice)
	assert.Equal(t, "1.20", c.UnitPrice.String())
	assert.True(t, c.EndDate.IsZero())
	require.NoError(t, c.Validate())

	back := factory.ContractToJSON(c)
	assert.Equal(t, "1.20", back.UnitPrice)
	assert.Empty(t, back.EndDate)

	_, err = factory.ParseContract(factory.ContractJSON{ClientID: "x", EndDate: "tomorrow"})
	assert.Equal(t, "INVALID_DATE", generic.CodeOf(err))
}

func TestParseCollection(t *testing.T) {
	in, err := factory.ParseCollection(factory.CollectionJSON{
		ClientID:     "sol",
		Counterparty: factory.CounterpartyJSON{Name: "Restaurante Sol"},
		CollectedAt:  "2024-05-20",
		QuantityKg:   "120,5",
		ProductID:    "oleo",
		Flow:         "saida",
		Contract:     &factory.ContractJSON{ClientID: "sol", Mode: "Troca", ExchangeFactor: 4, Status: "Ativo"},
	})
	require.NoError(t, err)

	assert.Equal(t, "120.5", in.QuantityKg.String())
	assert.Equal(t, stock.DirectionOut, in.Flow)
	require.NotNil(t, in.Contract)
	assert.Equal(t, 4, in.Contract.ExchangeFactor)
	assert.False(t, in.Contract.CreatedAt.IsZero())
	assert.True(t, in.DownPayment.IsZero())

	_, err = factory.ParseCollection(factory.CollectionJSON{CollectedAt: "2024-05-20", QuantityKg: "muito"})
	assert.Equal(t, "INVALID_QUANTITY", generic.CodeOf(err))
}
