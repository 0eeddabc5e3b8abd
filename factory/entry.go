/*
Package factory converts wire-format definitions into domain inputs.

PURPOSE:
  Forms and API clients send amounts as decimal strings ("1.234,56",
  "R$ 60,00", "400.00") and dates as YYYY-MM-DD. The factory normalizes
  those into generic.Amount / generic.Date and builds the typed inputs the
  engine accepts, so nothing loosely typed reaches finance or pricing.

JSON SCHEMA (entry):
  {
    "direction": "credito",
    "counterparty": {"name": "Restaurante Sol", "tax_id": "12.345.678/0001-90"},
    "total": "1.000,00",
    "issue_date": "2024-03-01",
    "down_payment": "200,00",
    "installment_count": 2,
    "schedule": [
      {"due_date": "2024-03-31", "amount": "400,00"},
      {"due_date": "2024-04-30", "amount": "400,00"}
    ]
  }

USAGE:
  f := NewEntryFactory()
  input, err := f.ParseEntry(jsonStr)
  entry, err := financeService.CreateEntry(ctx, input)

  // UI preview of an even split, validated later by the ledger
  rows, err := SplitEvenly(remainder, 3, firstDue, 30)

SEE ALSO:
  - finance/schedule.go: the validation the built input goes through
  - api/dto.go: request bodies embed these JSON types
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type CounterpartyJSON struct {
	Name        string `json:"name" validate:"required,max=200"`
	FantasyName string `json:"fantasy_name,omitempty" validate:"max=200"`
	TaxID       string `json:"tax_id,omitempty" validate:"max=32"`
}

type ScheduleRowJSON struct {
	DueDate   string `json:"due_date" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	AccountID string `json:"account_id,omitempty"`
}

// EntryJSON is the wire representation of a ledger entry request.
type EntryJSON struct {
	Direction        string            `json:"direction" validate:"required,oneof=credito debito"`
	Counterparty     CounterpartyJSON  `json:"counterparty"`
	Description      string            `json:"description,omitempty"`
	CostCenter       string            `json:"cost_center,omitempty"`
	Total            string            `json:"total" validate:"required"`
	IssueDate        string            `json:"issue_date" validate:"required"`
	DownPayment      string            `json:"down_payment,omitempty"`
	InstallmentCount int               `json:"installment_count,omitempty" validate:"gte=0"`
	DueDate          string            `json:"due_date,omitempty"`
	Schedule         []ScheduleRowJSON `json:"schedule,omitempty" validate:"dive"`
	OwnerID          string            `json:"owner_id,omitempty"`
}

// =============================================================================
// ENTRY FACTORY
// =============================================================================

type EntryFactory struct{}

func NewEntryFactory() *EntryFactory {
	return &EntryFactory{}
}

// ParseEntry decodes a JSON entry definition into an EntryInput.
func (f *EntryFactory) ParseEntry(jsonStr string) (finance.EntryInput, error) {
	var ej EntryJSON
	if err := json.Unmarshal([]byte(jsonStr), &ej); err != nil {
		return finance.EntryInput{}, generic.NewValidationError("INVALID_JSON", fmt.Sprintf("failed to parse entry JSON: %v", err))
	}
	return f.FromJSON(ej)
}

// FromJSON normalizes every amount and date of ej.
func (f *EntryFactory) FromJSON(ej EntryJSON) (finance.EntryInput, error) {
	total, err := generic.ParseAmount(ej.Total)
	if err != nil {
		return finance.EntryInput{}, err
	}
	down, err := OptionalAmount(ej.DownPayment)
	if err != nil {
		return finance.EntryInput{}, err
	}
	issue, err := generic.ParseDate(ej.IssueDate)
	if err != nil {
		return finance.EntryInput{}, err
	}
	due, err := OptionalDate(ej.DueDate)
	if err != nil {
		return finance.EntryInput{}, err
	}
	schedule, err := f.parseSchedule(ej.Schedule)
	if err != nil {
		return finance.EntryInput{}, err
	}

	return finance.EntryInput{
		Direction:        finance.Direction(ej.Direction),
		Counterparty:     ej.Counterparty.ToDomain(),
		Description:      ej.Description,
		CostCenter:       ej.CostCenter,
		Total:            total,
		IssueDate:        issue,
		DownPayment:      down,
		InstallmentCount: ej.InstallmentCount,
		SingleDueDate:    due,
		Schedule:         schedule,
		OwnerID:          ej.OwnerID,
	}, nil
}

// ToJSON renders an entry back into its wire definition.
func (f *EntryFactory) ToJSON(e finance.Entry) EntryJSON {
	ej := EntryJSON{
		Direction: string(e.Direction),
		Counterparty: CounterpartyJSON{
			Name:        e.Counterparty.Name,
			FantasyName: e.Counterparty.FantasyName,
			TaxID:       e.Counterparty.TaxID,
		},
		Description: e.Description,
		CostCenter:  e.CostCenter,
		Total:       e.Total.String(),
		IssueDate:   e.IssueDate.String(),
		OwnerID:     e.OwnerID,
	}

	for _, inst := range e.Installments {
		if inst.Sequence == 0 {
			ej.DownPayment = inst.Expected.String()
			continue
		}
		ej.Schedule = append(ej.Schedule, ScheduleRowJSON{
			DueDate:   inst.DueDate.String(),
			Amount:    inst.Expected.String(),
			AccountID: inst.AccountID,
		})
	}
	ej.InstallmentCount = len(ej.Schedule)

	// A lone installment is the single due date shape.
	if ej.DownPayment == "" && len(ej.Schedule) == 1 && ej.Schedule[0].Amount == ej.Total {
		ej.DueDate = ej.Schedule[0].DueDate
		ej.Schedule = nil
		ej.InstallmentCount = 0
	}
	return ej
}

func (f *EntryFactory) parseSchedule(rows []ScheduleRowJSON) ([]finance.ScheduledInstallment, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]finance.ScheduledInstallment, 0, len(rows))
	for i, row := range rows {
		amount, err := generic.ParseAmount(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("installment %d: %w", i+1, err)
		}
		due, err := generic.ParseDate(row.DueDate)
		if err != nil {
			return nil, fmt.Errorf("installment %d: %w", i+1, err)
		}
		out = append(out, finance.ScheduledInstallment{DueDate: due, Amount: amount, AccountID: row.AccountID})
	}
	return out, nil
}

func (c CounterpartyJSON) ToDomain() finance.Counterparty {
	return finance.Counterparty{Name: c.Name, FantasyName: c.FantasyName, TaxID: c.TaxID}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// OptionalAmount parses s, treating the empty string as zero.
func OptionalAmount(s string) (generic.Amount, error) {
	if s == "" {
		return generic.ZeroAmount(), nil
	}
	return generic.ParseAmount(s)
}

// OptionalDate parses s, treating the empty string as the zero date.
func OptionalDate(s string) (generic.Date, error) {
	if s == "" {
		return generic.Date{}, nil
	}
	return generic.ParseDate(s)
}

// SplitEvenly spreads remainder over n installments spaced intervalDays
// apart, starting at firstDue. Cents that do not divide evenly go to the
// last installment.
func SplitEvenly(remainder generic.Amount, n int, firstDue generic.Date, intervalDays int) ([]finance.ScheduledInstallment, error) {
	if n <= 0 {
		return nil, generic.NewValidationError("INVALID_INSTALLMENT_COUNT", "installment count must be positive")
	}
	if !remainder.IsPositive() {
		return nil, generic.Detail(generic.ErrInvalidAmount, "amount to split must be positive, got %s", remainder)
	}
	if firstDue.IsZero() {
		return nil, generic.NewValidationError("DUE_DATE_REQUIRED", "first due date is required")
	}
	if intervalDays <= 0 {
		intervalDays = 30
	}

	cents := remainder.Cents()
	if cents < int64(n) {
		return nil, generic.Detail(generic.ErrInvalidAmount, "%s cannot be split into %d installments", remainder, n)
	}
	base := cents / int64(n)
	last := cents - base*int64(n-1)

	rows := make([]finance.ScheduledInstallment, n)
	for i := range rows {
		c := base
		if i == n-1 {
			c = last
		}
		rows[i] = finance.ScheduledInstallment{
			DueDate: firstDue.AddDays(i * intervalDays),
			Amount:  centsToAmount(c),
		}
	}
	return rows, nil
}

func centsToAmount(cents int64) generic.Amount {
	return generic.NewAmountFromDecimal(decimal.New(cents, -generic.CentsPlaces))
}
