/*
Package coleta registers used-oil collections and keeps their ledger entry
and stock movement consistent with them.

PURPOSE:
  A collection is priced once, at registration, from the client's contract
  in force. The pricing is copied onto the collection; later contract
  changes never touch it. Edits re-derive the outcome from that snapshot.

ONE TRANSACTION PER OPERATION:
  Register  - collection + payable entry (Compra) + linked movement
  Edit      - collection + entry schedule replaced or canceled + movement
              updated in place
  Delete    - collection removed, movement unlinked, unpaid entry canceled

  Any failure rolls every write back, including ErrInstallmentLocked when
  the entry already received payments.
*/
package coleta

import (
	"time"

	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/stock"
	"github.com/shopspring/decimal"
)

type Collection struct {
	ID                 string
	ClientID           string
	Counterparty       finance.Counterparty
	CollectedAt        generic.Date
	QuantityKg         decimal.Decimal
	Pricing            pricing.Pricing
	Outcome            pricing.Outcome
	Flow               stock.Direction
	ProductID          string
	DeliveredProductID string
	DocumentNumber     string
	EntryID            string
	MovementID         string
	OwnerID            string
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Input is the caller-supplied part of a collection.
type Input struct {
	ClientID           string
	Counterparty       finance.Counterparty
	CollectedAt        generic.Date
	QuantityKg         decimal.Decimal
	ProductID          string
	DeliveredProductID string // Troca: product handed over, added as a second line
	Flow               stock.Direction
	DocumentNumber     string
	CostCenter         string
	OwnerID            string

	// Pricing selection, Register only.
	Contract      *pricing.Contract // explicit override
	AllowFallback bool              // use pricing.ManualDefault when no contract is active

	// Payable schedule for Compra. Zero values give one installment due on
	// DueDate, or on CollectedAt when DueDate is zero.
	DueDate     generic.Date
	DownPayment generic.Amount
	Schedule    []finance.ScheduledInstallment
}

func (in Input) Validate() error {
	if in.ClientID == "" {
		return generic.NewValidationError("CLIENT_REQUIRED", "client id is required")
	}
	if in.Counterparty.Name == "" {
		return generic.NewValidationError("COUNTERPARTY_REQUIRED", "counterparty name is required")
	}
	if in.CollectedAt.IsZero() {
		return generic.NewValidationError("DATE_REQUIRED", "collection date is required")
	}
	if in.QuantityKg.IsNegative() {
		return generic.NewValidationError("INVALID_QUANTITY", "collected quantity cannot be negative")
	}
	if in.ProductID == "" {
		return generic.NewValidationError("PRODUCT_REQUIRED", "collected product is required")
	}
	if in.Flow != "" && !in.Flow.IsValid() {
		return generic.NewValidationError("INVALID_FLOW", "flow must be entrada or saida")
	}
	return nil
}

func (in Input) flow() stock.Direction {
	if in.Flow == "" {
		return stock.DirectionIn
	}
	return in.Flow
}

// entryInput builds the payable derived from a Compra outcome.
func (c Collection) entryInput(in Input) finance.EntryInput {
	due := in.DueDate
	if due.IsZero() {
		due = c.CollectedAt
	}
	return finance.EntryInput{
		Direction:     finance.DirectionDebit,
		Counterparty:  c.Counterparty,
		Description:   "Compra de óleo - coleta " + c.CollectedAt.String(),
		CostCenter:    in.CostCenter,
		Total:         c.Outcome.Amount,
		IssueDate:     c.CollectedAt,
		DownPayment:   in.DownPayment,
		SingleDueDate: due,
		Schedule:      in.Schedule,
		CollectionID:  c.ID,
		OwnerID:       c.OwnerID,
	}
}

// linkInput mirrors the collection as a stock movement. Units handed to
// the client in a Troca always leave stock, whatever the collection flow.
func (c Collection) linkInput() stock.LinkInput {
	lines := []stock.Line{{ProductID: c.ProductID, Quantity: c.QuantityKg}}
	if c.Pricing.Mode == pricing.ModeTroca && c.DeliveredProductID != "" && c.Outcome.DeliveredUnits > 0 {
		lines = append(lines, stock.Line{
			ProductID: c.DeliveredProductID,
			Quantity:  decimal.NewFromInt(c.Outcome.DeliveredUnits),
			Direction: stock.DirectionOut,
		})
	}
	return stock.LinkInput{
		CollectionID: c.ID,
		MovementInput: stock.MovementInput{
			Direction:      c.Flow,
			DocumentNumber: c.DocumentNumber,
			Counterparty:   c.Counterparty.Name,
			MovedAt:        c.CollectedAt,
			Lines:          lines,
			OwnerID:        c.OwnerID,
		},
	}
}

// payable reports whether the collection owes the client money.
func (c Collection) payable() bool {
	return c.Pricing.Mode == pricing.ModeCompra && c.Outcome.Amount.IsPositive()
}
