/*
Package finance is the ledger: receivables, payables and their installments.

PURPOSE:
  Turns a priced event into a ledger entry (credito = receivable, debito =
  payable) split into installments, applies payments against them, and
  derives statuses and balances by folding, never from stored counters.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry:       One logical receivable or payable with a counterparty snapshot
  - Installment: One scheduled amount due. Sequence 0 is the down payment
  - Payment:     Append-only record applied to exactly one installment
  - Status:      Derived per installment (status.go), never stored

INVARIANTS:
  1. down payment + sum(installments) == total value, to the cent
  2. paid <= expected for every installment, paid never decreases
  3. Payments are immutable; there is no update or delete
  4. Entry paid/balance is always the fold of its installments

SEE ALSO:
  - schedule.go: Building and validating installments
  - payment.go:  RegisterPayment state machine
  - summary.go:  Period totals and paginated listings
*/
package finance

import (
	"fmt"
	"time"

	"github.com/oleoverde/ledger-engine/generic"
)

// =============================================================================
// DIRECTION
// =============================================================================

type Direction string

const (
	DirectionCredit Direction = "credito" // receivable
	DirectionDebit  Direction = "debito"  // payable
)

func (d Direction) IsValid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// =============================================================================
// COUNTERPARTY - Captured at creation, not a live join
// =============================================================================

type Counterparty struct {
	Name        string
	FantasyName string
	TaxID       string
}

// =============================================================================
// ENTRY
// =============================================================================

type Entry struct {
	ID           string
	Direction    Direction
	Counterparty Counterparty
	Description  string
	Total        generic.Amount
	IssueDate    generic.Date
	CostCenter   string
	CollectionID string // empty unless the entry was derived from a collection
	OwnerID      string // authorization scope supplied by the caller
	Installments []Installment
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Totals folds the installments into the entry's paid amount and balance.
func (e Entry) Totals() (paid, balance generic.Amount) {
	paid = generic.ZeroAmount()
	for _, inst := range e.Installments {
		paid = paid.Add(inst.Paid)
	}
	return paid, e.Total.Sub(paid)
}

// DownPayment returns the sequence 0 installment, if any.
func (e Entry) DownPayment() (Installment, bool) {
	for _, inst := range e.Installments {
		if inst.Sequence == 0 {
			return inst, true
		}
	}
	return Installment{}, false
}

// HasPayments reports whether any installment already received money.
func (e Entry) HasPayments() bool {
	for _, inst := range e.Installments {
		if inst.Paid.IsPositive() {
			return true
		}
	}
	return false
}

// =============================================================================
// INSTALLMENT
// =============================================================================

type Installment struct {
	ID        string
	EntryID   string
	Sequence  int // 0 = down payment, 1..N regular
	DueDate   generic.Date
	Expected  generic.Amount
	Paid      generic.Amount
	Canceled  bool
	AccountID string // settlement bank account, optional
	Version   int    // optimistic lock, bumped on every state change
}

// Balance is expected minus paid.
func (i Installment) Balance() generic.Amount {
	return i.Expected.Sub(i.Paid)
}

func (i Installment) IsSettled() bool {
	return i.Canceled || !i.Paid.LessThan(i.Expected)
}

// StatusAt derives the installment status on the given day.
func (i Installment) StatusAt(today generic.Date) Status {
	return DeriveStatus(i.Expected, i.Paid, i.DueDate, i.Canceled, today)
}

// Label is the human name used on receipts.
func (i Installment) Label() string {
	if i.Sequence == 0 {
		return "Entrada"
	}
	return fmt.Sprintf("Parcela %d", i.Sequence)
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentMethod string

const (
	MethodPix          PaymentMethod = "pix"
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodDebitCard    PaymentMethod = "debit_card"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case MethodPix, MethodCash, MethodBankTransfer, MethodCreditCard, MethodDebitCard:
		return true
	}
	return false
}

// Payment is immutable once recorded.
type Payment struct {
	ID            string
	InstallmentID string
	EntryID       string
	Amount        generic.Amount
	PaidAt        generic.Date
	Method        PaymentMethod
	AccountID     string
	Note          string
	CreatedBy     string
	CreatedAt     time.Time
}
