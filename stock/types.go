/*
Package stock tracks product movements and the balances folded from them.

PURPOSE:
  Every stock change is a Movement (entrada or saida) with one or more
  lines. Balances are never stored: a product's balance is the fold of the
  lines that reference it.

ORIGINS:
  manual - created and edited directly by users
  coleta - derived from a collection, exactly one per collection, edited or
           removed only through the collection (Link / Unlink)

INSUFFICIENT STOCK:
  Manual changes that would drive a product negative are rejected, with the
  balance re-read inside the transaction that writes. Collection-linked
  movements are not checked; a collection records what physically happened.
*/
package stock

import (
	"sort"
	"time"

	"github.com/oleoverde/ledger-engine/generic"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMS
// =============================================================================

type Direction string

const (
	DirectionIn  Direction = "entrada"
	DirectionOut Direction = "saida"
)

func (d Direction) IsValid() bool { return d == DirectionIn || d == DirectionOut }

// Sign is +1 for entrada and -1 for saida.
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionOut {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

type Origin string

const (
	OriginManual     Origin = "manual"
	OriginCollection Origin = "coleta"
)

// =============================================================================
// MOVEMENT
// =============================================================================

// Line is one product quantity of a movement. Direction overrides the
// movement's direction for this line; empty follows the movement.
type Line struct {
	ProductID string
	Quantity  decimal.Decimal
	Direction Direction
}

// DirectionIn resolves the line direction within a movement going dir.
func (l Line) DirectionIn(dir Direction) Direction {
	if l.Direction != "" {
		return l.Direction
	}
	return dir
}

type Movement struct {
	ID             string
	Direction      Direction
	Origin         Origin
	CollectionID   string
	DocumentNumber string
	Counterparty   string
	MovedAt        generic.Date
	Lines          []Line
	OwnerID        string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLinked reports whether the movement belongs to a collection.
func (m Movement) IsLinked() bool { return m.Origin == OriginCollection }

// Contribution returns the signed quantity per product.
func (m Movement) Contribution() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m.Lines))
	for _, l := range m.Lines {
		sign := l.DirectionIn(m.Direction).Sign()
		out[l.ProductID] = out[l.ProductID].Add(l.Quantity.Mul(sign))
	}
	return out
}

// Quantity sums the unsigned line quantities.
func (m Movement) Quantity() decimal.Decimal {
	total := decimal.Zero
	for _, l := range m.Lines {
		total = total.Add(l.Quantity)
	}
	return total
}

// sameContent compares the fields a collection controls.
func (m Movement) sameContent(o Movement) bool {
	if m.Direction != o.Direction ||
		m.DocumentNumber != o.DocumentNumber ||
		m.Counterparty != o.Counterparty ||
		!m.MovedAt.Equal(o.MovedAt) ||
		m.OwnerID != o.OwnerID ||
		len(m.Lines) != len(o.Lines) {
		return false
	}
	a, b := sortedLines(m.Lines), sortedLines(o.Lines)
	for i := range a {
		if a[i].ProductID != b[i].ProductID || !a[i].Quantity.Equal(b[i].Quantity) ||
			a[i].DirectionIn(m.Direction) != b[i].DirectionIn(o.Direction) {
			return false
		}
	}
	return true
}

func sortedLines(lines []Line) []Line {
	out := append([]Line(nil), lines...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Quantity.LessThan(out[j].Quantity)
	})
	return out
}

// =============================================================================
// PRODUCT
// =============================================================================

type Product struct {
	ID        string
	Name      string
	Unit      string // "kg", "L", "un"
	CreatedAt time.Time
}

// ProductLine is one movement line as seen from a product's balance.
type ProductLine struct {
	MovementID string
	Direction  Direction
	Quantity   decimal.Decimal
}

// Balance folds product lines into a signed quantity.
func Balance(lines []ProductLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Quantity.Mul(l.Direction.Sign()))
	}
	return total
}

// =============================================================================
// INPUTS
// =============================================================================

// MovementInput is the caller-controlled part of a movement.
type MovementInput struct {
	Direction      Direction
	DocumentNumber string
	Counterparty   string
	MovedAt        generic.Date
	Lines          []Line
	OwnerID        string
}

func (in MovementInput) Validate() error {
	if !in.Direction.IsValid() {
		return generic.NewValidationError("INVALID_DIRECTION", "direction must be entrada or saida")
	}
	if in.MovedAt.IsZero() {
		return generic.NewValidationError("DATE_REQUIRED", "movement date is required")
	}
	if len(in.Lines) == 0 {
		return generic.NewValidationError("LINES_REQUIRED", "a movement needs at least one line")
	}
	for _, l := range in.Lines {
		if l.ProductID == "" {
			return generic.NewValidationError("PRODUCT_REQUIRED", "every line needs a product")
		}
		if !l.Quantity.IsPositive() {
			return generic.NewValidationError("INVALID_QUANTITY", "line quantity must be positive")
		}
		if l.Direction != "" && !l.Direction.IsValid() {
			return generic.NewValidationError("INVALID_DIRECTION", "line direction must be entrada or saida")
		}
	}
	return nil
}

// LinkInput is a movement derived from a collection.
type LinkInput struct {
	CollectionID string
	MovementInput
}

func (in LinkInput) Validate() error {
	if in.CollectionID == "" {
		return generic.NewValidationError("COLLECTION_REQUIRED", "collection id is required")
	}
	return in.MovementInput.Validate()
}
