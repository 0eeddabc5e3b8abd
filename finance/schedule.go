package finance

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/oleoverde/ledger-engine/generic"
)

// =============================================================================
// ENTRY INPUT
// =============================================================================

// ScheduledInstallment is one caller-provided row of the regular schedule.
type ScheduledInstallment struct {
	DueDate   generic.Date
	Amount    generic.Amount
	AccountID string
}

// EntryInput is everything needed to create or regenerate an entry.
//
// Shapes accepted:
//   - DownPayment == 0 and no Schedule: one installment (sequence 1) for the
//     full Total, due on SingleDueDate.
//   - DownPayment > 0: installment 0 due on IssueDate, plus Schedule as
//     installments 1..N.
//   - DownPayment == 0 with a Schedule: installments 1..N only.
//
// The factory never splits the remainder itself; it only validates.
type EntryInput struct {
	Direction        Direction
	Counterparty     Counterparty
	Description      string
	CostCenter       string
	Total            generic.Amount
	IssueDate        generic.Date
	DownPayment      generic.Amount
	InstallmentCount int // optional; when > 0 it must match len(Schedule)
	SingleDueDate    generic.Date
	Schedule         []ScheduledInstallment
	CollectionID     string
	OwnerID          string
}

// Validate checks the header fields. Amount and schedule rules live in
// BuildInstallments.
func (in EntryInput) Validate() error {
	if !in.Direction.IsValid() {
		return generic.NewValidationError("INVALID_DIRECTION", fmt.Sprintf("direction must be credito or debito, got %q", in.Direction))
	}
	if in.Counterparty.Name == "" {
		return generic.NewValidationError("COUNTERPARTY_REQUIRED", "counterparty name is required")
	}
	if in.IssueDate.IsZero() {
		return generic.NewValidationError("ISSUE_DATE_REQUIRED", "issue date is required")
	}
	if in.InstallmentCount < 0 {
		return generic.NewValidationError("INVALID_INSTALLMENT_COUNT", "installment count cannot be negative")
	}
	return nil
}

// BuildInstallments turns an input into the installment rows of a new
// entry. It fails with ErrInvalidAmount or ErrScheduleMismatch and never
// returns a partial schedule.
func BuildInstallments(entryID string, in EntryInput) ([]Installment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	total := in.Total.Round()
	down := in.DownPayment.Round()

	if !total.IsPositive() {
		return nil, generic.Detail(generic.ErrInvalidAmount, "total value must be positive, got %s", total)
	}
	if down.IsNegative() {
		return nil, generic.Detail(generic.ErrInvalidAmount, "down payment cannot be negative, got %s", down)
	}
	if down.IsPositive() && !down.LessThan(total) {
		return nil, generic.Detail(generic.ErrInvalidAmount, "down payment %s must be less than the total %s", down, total)
	}
	if in.InstallmentCount > 0 && in.InstallmentCount != len(in.Schedule) {
		return nil, generic.Detail(generic.ErrScheduleMismatch,
			"installment count %d does not match %d scheduled installments", in.InstallmentCount, len(in.Schedule))
	}

	// Single installment for the full value.
	if down.IsZero() && len(in.Schedule) == 0 {
		if in.SingleDueDate.IsZero() {
			return nil, generic.NewValidationError("DUE_DATE_REQUIRED", "a due date is required for a single installment")
		}
		return []Installment{newInstallment(entryID, 1, in.SingleDueDate, total, "")}, nil
	}

	installments := make([]Installment, 0, len(in.Schedule)+1)
	sum := generic.ZeroAmount()

	if down.IsPositive() {
		installments = append(installments, newInstallment(entryID, 0, in.IssueDate, down, ""))
		sum = sum.Add(down)
	}

	for i, row := range in.Schedule {
		amount := row.Amount.Round()
		if !amount.IsPositive() {
			return nil, generic.Detail(generic.ErrInvalidAmount, "installment %d amount must be positive, got %s", i+1, amount)
		}
		if row.DueDate.IsZero() {
			return nil, generic.NewValidationError("DUE_DATE_REQUIRED", fmt.Sprintf("installment %d has no due date", i+1))
		}
		installments = append(installments, newInstallment(entryID, i+1, row.DueDate, amount, row.AccountID))
		sum = sum.Add(amount)
	}

	if !sum.Equal(total) {
		return nil, generic.Detail(generic.ErrScheduleMismatch,
			"down payment %s plus installments sum to %s, expected %s", down, sum.Sub(down).Round(), total)
	}
	return installments, nil
}

func newInstallment(entryID string, seq int, due generic.Date, amount generic.Amount, accountID string) Installment {
	return Installment{
		ID:        uuid.NewString(),
		EntryID:   entryID,
		Sequence:  seq,
		DueDate:   due,
		Expected:  amount,
		Paid:      generic.ZeroAmount(),
		AccountID: accountID,
		Version:   1,
	}
}
