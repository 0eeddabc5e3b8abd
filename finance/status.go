package finance

import "github.com/oleoverde/ledger-engine/generic"

// =============================================================================
// STATUS - Derived, never stored
// =============================================================================

type Status string

const (
	StatusPending       Status = "pending"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusOverdue       Status = "overdue"
	StatusCanceled      Status = "canceled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPartiallyPaid, StatusPaid, StatusOverdue, StatusCanceled:
		return true
	}
	return false
}

// DeriveStatus is a pure function of its inputs:
//
//	canceled                           -> canceled
//	paid >= expected                   -> paid
//	due < today                        -> overdue
//	paid > 0                           -> partially_paid
//	otherwise                          -> pending
//
// Amounts are compared after rounding to cents.
func DeriveStatus(expected, paid generic.Amount, due generic.Date, canceled bool, today generic.Date) Status {
	switch {
	case canceled:
		return StatusCanceled
	case !paid.LessThan(expected):
		return StatusPaid
	case due.Before(today):
		return StatusOverdue
	case paid.IsPositive():
		return StatusPartiallyPaid
	default:
		return StatusPending
	}
}

// EntryStatus rolls installment statuses up to the badge shown per entry.
// Canceled installments are ignored unless every installment is canceled.
func EntryStatus(e Entry, today generic.Date) Status {
	if len(e.Installments) == 0 {
		return StatusPending
	}

	var live, paid int
	var overdue, partial bool
	for _, inst := range e.Installments {
		st := inst.StatusAt(today)
		if st == StatusCanceled {
			continue
		}
		live++
		switch st {
		case StatusPaid:
			paid++
		case StatusOverdue:
			overdue = true
		case StatusPartiallyPaid:
			partial = true
		}
		if inst.Paid.IsPositive() {
			partial = true
		}
	}

	switch {
	case live == 0:
		return StatusCanceled
	case paid == live:
		return StatusPaid
	case overdue:
		return StatusOverdue
	case partial:
		return StatusPartiallyPaid
	default:
		return StatusPending
	}
}
