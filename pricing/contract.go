/*
Package pricing resolves how a collection is priced for a client.

PURPOSE:
  A client's contract decides what a kilogram of used oil is worth: new oil
  in exchange (Troca), cash per kilogram (Compra), or nothing (Doação). This
  package reads the contracts, picks the one in force, and turns a collected
  quantity into an outcome. It never writes.

KEY CONCEPTS:
  - Contract: Client agreement with a pricing mode and a validity window
  - Pricing:  Snapshot of the mode and its factor/price used for one collection
  - Outcome:  Delivered units (Troca), amount due (Compra) or a note (Doação)

SNAPSHOT RULE:
  A collection copies the Pricing at registration time. Editing the contract
  later never changes past collections.

FALLBACK:
  When no contract is active the UI historically fell back to Troca with an
  exchange factor of 6 and zero outcome until a quantity is typed. That path
  is preserved as ManualDefault and is only taken when a caller asks for it.

SEE ALSO:
  - resolver.go: Resolve algorithm
  - coleta/service.go: Uses the snapshot on registration and edit
*/
package pricing

import (
	"fmt"
	"time"

	"github.com/oleoverde/ledger-engine/generic"
)

// =============================================================================
// MODE AND STATUS
// =============================================================================

type Mode string

const (
	ModeTroca  Mode = "Troca"
	ModeCompra Mode = "Compra"
	ModeDoacao Mode = "Doação"
)

func (m Mode) IsValid() bool {
	switch m {
	case ModeTroca, ModeCompra, ModeDoacao:
		return true
	}
	return false
}

type ContractStatus string

const (
	StatusAwaitingSignature ContractStatus = "Aguardando Assinatura"
	StatusActive            ContractStatus = "Ativo"
	StatusInactive          ContractStatus = "Inativo"
	StatusCanceled          ContractStatus = "Cancelado"
)

func (s ContractStatus) IsValid() bool {
	switch s {
	case StatusAwaitingSignature, StatusActive, StatusInactive, StatusCanceled:
		return true
	}
	return false
}

// =============================================================================
// CONTRACT
// =============================================================================

type Contract struct {
	ID             string
	ClientID       string
	Mode           Mode
	ExchangeFactor int             // kg of used oil per delivered unit, Troca only
	UnitPrice      *generic.Amount // per kg, Compra only
	StartDate      generic.Date
	EndDate        generic.Date
	Status         ContractStatus
	CreatedAt      time.Time
}

// Validate checks the mode-dependent fields.
func (c Contract) Validate() error {
	if c.ClientID == "" {
		return generic.NewValidationError("CLIENT_REQUIRED", "contract must belong to a client")
	}
	if !c.Mode.IsValid() {
		return generic.NewValidationError("INVALID_MODE", fmt.Sprintf("unknown pricing mode %q", c.Mode))
	}
	if !c.Status.IsValid() {
		return generic.NewValidationError("INVALID_STATUS", fmt.Sprintf("unknown contract status %q", c.Status))
	}

	switch c.Mode {
	case ModeTroca:
		if c.ExchangeFactor <= 0 {
			return generic.NewValidationError("INVALID_FACTOR", "exchange factor must be a positive integer for Troca")
		}
	case ModeCompra:
		if c.UnitPrice == nil {
			return generic.NewValidationError("PRICE_REQUIRED", "unit price is required for Compra")
		}
		if c.UnitPrice.IsNegative() {
			return generic.NewValidationError("INVALID_PRICE", "unit price cannot be negative")
		}
	}

	if !c.StartDate.IsZero() && !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return generic.NewValidationError("INVALID_VALIDITY", "contract end date is before its start date")
	}
	return nil
}

// IsCurrent reports whether the contract is Ativo and not past its end date.
// An open end date never expires.
func (c Contract) IsCurrent(today generic.Date) bool {
	if c.Status != StatusActive {
		return false
	}
	return c.EndDate.IsZero() || c.EndDate.AfterOrEqual(today)
}

// Pricing snapshots the contract for a collection.
func (c Contract) Pricing() Pricing {
	p := Pricing{Mode: c.Mode, ContractID: c.ID, UnitPrice: generic.ZeroAmount()}
	switch c.Mode {
	case ModeTroca:
		p.ExchangeFactor = c.ExchangeFactor
	case ModeCompra:
		if c.UnitPrice != nil {
			p.UnitPrice = c.UnitPrice.Round()
		}
	}
	return p
}
