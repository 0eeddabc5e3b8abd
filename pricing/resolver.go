package pricing

import (
	"context"
	"fmt"
	"sort"

	"github.com/oleoverde/ledger-engine/generic"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultExchangeFactor is the factor used by the manual fallback path.
const DefaultExchangeFactor = 6

// DonationNote replaces the monetary outcome of a donated collection.
const DonationNote = "Doação - sem contrapartida financeira ou de produto"

// =============================================================================
// PRICING SNAPSHOT AND OUTCOME
// =============================================================================

// Pricing is what a collection copies from its contract.
type Pricing struct {
	Mode           Mode
	ExchangeFactor int
	UnitPrice      generic.Amount
	ContractID     string // empty for manual pricing
	Fallback       bool   // true when ManualDefault was used
}

// Outcome is the computed result of pricing a collected quantity.
type Outcome struct {
	DeliveredUnits int64          // Troca: floor(kg / factor)
	Amount         generic.Amount // Compra: kg * unit price
	Note           string         // Doação: descriptive note instead of a value
}

// ManualDefault is the documented fallback when the client has no active
// contract: Troca with factor 6. The outcome stays zero until a quantity is
// entered.
func ManualDefault() Pricing {
	return Pricing{
		Mode:           ModeTroca,
		ExchangeFactor: DefaultExchangeFactor,
		UnitPrice:      generic.ZeroAmount(),
		Fallback:       true,
	}
}

// Validate checks a snapshot before it is used to compute an outcome.
func (p Pricing) Validate() error {
	switch p.Mode {
	case ModeTroca:
		if p.ExchangeFactor <= 0 {
			return generic.NewValidationError("INVALID_FACTOR", "exchange factor must be a positive integer for Troca")
		}
	case ModeCompra:
		if p.UnitPrice.IsNegative() {
			return generic.NewValidationError("INVALID_PRICE", "unit price cannot be negative")
		}
	case ModeDoacao:
	default:
		return generic.NewValidationError("INVALID_MODE", fmt.Sprintf("unknown pricing mode %q", p.Mode))
	}
	return nil
}

// Outcome computes the result of collecting quantityKg under this pricing.
func (p Pricing) Outcome(quantityKg decimal.Decimal) (Outcome, error) {
	if quantityKg.IsNegative() {
		return Outcome{}, generic.NewValidationError("INVALID_QUANTITY", "collected quantity cannot be negative")
	}
	if err := p.Validate(); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Amount: generic.ZeroAmount()}
	switch p.Mode {
	case ModeTroca:
		out.DeliveredUnits = quantityKg.Div(decimal.NewFromInt(int64(p.ExchangeFactor))).Floor().IntPart()
	case ModeCompra:
		out.Amount = generic.NewAmountFromDecimal(quantityKg.Mul(p.UnitPrice.Value))
	case ModeDoacao:
		out.Note = DonationNote
	}
	return out, nil
}

// =============================================================================
// RESOLVER
// =============================================================================

// ContractReader is the read side the resolver needs.
type ContractReader interface {
	ListContracts(ctx context.Context, clientID string) ([]Contract, error)
}

// Resolver picks the contract in force for a client.
type Resolver struct {
	Contracts ContractReader
	Clock     generic.Clock
	Logger    *zap.Logger
}

func NewResolver(contracts ContractReader, clock generic.Clock, logger *zap.Logger) *Resolver {
	if clock == nil {
		clock = generic.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{Contracts: contracts, Clock: clock, Logger: logger}
}

// Resolve returns the pricing for clientID. An explicit override contract is
// validated and used as is. Otherwise the Ativo, current contract with the
// latest end date wins (ties: most recently created). No such contract
// yields ErrNoActiveContract; the caller decides whether to fall back to
// ManualDefault.
func (r *Resolver) Resolve(ctx context.Context, clientID string, override *Contract) (Pricing, error) {
	if override != nil {
		if err := override.Validate(); err != nil {
			return Pricing{}, err
		}
		return override.Pricing(), nil
	}

	contracts, err := r.Contracts.ListContracts(ctx, clientID)
	if err != nil {
		return Pricing{}, fmt.Errorf("failed to load contracts: %w", err)
	}

	active, ok := SelectActive(contracts, r.Clock())
	if !ok {
		r.Logger.Debug("no active contract", zap.String("client_id", clientID))
		return Pricing{}, generic.Detail(generic.ErrNoActiveContract, "client %s has no active contract", clientID)
	}
	return active.Pricing(), nil
}

// SelectActive applies the selection rule to an already loaded contract list.
func SelectActive(contracts []Contract, today generic.Date) (Contract, bool) {
	var candidates []Contract
	for _, c := range contracts {
		if c.IsCurrent(today) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return Contract{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.EndDate.Equal(b.EndDate) {
			// open-ended contracts outlive any dated one
			if a.EndDate.IsZero() {
				return true
			}
			if b.EndDate.IsZero() {
				return false
			}
			return a.EndDate.After(b.EndDate)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return candidates[0], true
}
