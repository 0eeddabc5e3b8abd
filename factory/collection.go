package factory

import (
	"time"

	"github.com/oleoverde/ledger-engine/coleta"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/stock"
)

// =============================================================================
// CONTRACT
// =============================================================================

type ContractJSON struct {
	ID             string `json:"id,omitempty"`
	ClientID       string `json:"client_id" validate:"required"`
	Mode           string `json:"mode" validate:"required,oneof=Troca Compra Doação"`
	ExchangeFactor int    `json:"exchange_factor,omitempty" validate:"gte=0"`
	UnitPrice      string `json:"unit_price,omitempty"`
	StartDate      string `json:"start_date,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
	Status         string `json:"status" validate:"required"`
}

// ParseContract normalizes a contract definition. Rule checks happen in
// pricing.Contract.Validate.
func ParseContract(cj ContractJSON) (pricing.Contract, error) {
	start, err := OptionalDate(cj.StartDate)
	if err != nil {
		return pricing.Contract{}, err
	}
	end, err := OptionalDate(cj.EndDate)
	if err != nil {
		return pricing.Contract{}, err
	}

	c := pricing.Contract{
		ID:             cj.ID,
		ClientID:       cj.ClientID,
		Mode:           pricing.Mode(cj.Mode),
		ExchangeFactor: cj.ExchangeFactor,
		StartDate:      start,
		EndDate:        end,
		Status:         pricing.ContractStatus(cj.Status),
	}
	if cj.UnitPrice != "" {
		price, err := generic.ParseAmount(cj.UnitPrice)
		if err != nil {
			return pricing.Contract{}, err
		}
		c.UnitPrice = &price
	}
	return c, nil
}

func ContractToJSON(c pricing.Contract) ContractJSON {
	cj := ContractJSON{
		ID:             c.ID,
		ClientID:       c.ClientID,
		Mode:           string(c.Mode),
		ExchangeFactor: c.ExchangeFactor,
		StartDate:      c.StartDate.String(),
		EndDate:        c.EndDate.String(),
		Status:         string(c.Status),
	}
	if c.UnitPrice != nil {
		cj.UnitPrice = c.UnitPrice.String()
	}
	return cj
}

// =============================================================================
// COLLECTION
// =============================================================================

type CollectionJSON struct {
	ClientID           string            `json:"client_id" validate:"required"`
	Counterparty       CounterpartyJSON  `json:"counterparty"`
	CollectedAt        string            `json:"collected_at" validate:"required"`
	QuantityKg         string            `json:"quantity_kg" validate:"required"`
	ProductID          string            `json:"product_id" validate:"required"`
	DeliveredProductID string            `json:"delivered_product_id,omitempty"`
	Flow               string            `json:"flow,omitempty" validate:"omitempty,oneof=entrada saida"`
	DocumentNumber     string            `json:"document_number,omitempty"`
	CostCenter         string            `json:"cost_center,omitempty"`
	OwnerID            string            `json:"owner_id,omitempty"`
	Contract           *ContractJSON     `json:"contract,omitempty"`
	AllowFallback      bool              `json:"allow_fallback,omitempty"`
	DueDate            string            `json:"due_date,omitempty"`
	DownPayment        string            `json:"down_payment,omitempty"`
	Schedule           []ScheduleRowJSON `json:"schedule,omitempty" validate:"dive"`
}

// ParseCollection normalizes a collection definition into coleta.Input.
func ParseCollection(cj CollectionJSON) (coleta.Input, error) {
	collected, err := generic.ParseDate(cj.CollectedAt)
	if err != nil {
		return coleta.Input{}, err
	}
	qty, err := generic.ParseQuantity(cj.QuantityKg)
	if err != nil {
		return coleta.Input{}, err
	}
	due, err := OptionalDate(cj.DueDate)
	if err != nil {
		return coleta.Input{}, err
	}
	down, err := OptionalAmount(cj.DownPayment)
	if err != nil {
		return coleta.Input{}, err
	}
	schedule, err := NewEntryFactory().parseSchedule(cj.Schedule)
	if err != nil {
		return coleta.Input{}, err
	}

	in := coleta.Input{
		ClientID:           cj.ClientID,
		Counterparty:       cj.Counterparty.ToDomain(),
		CollectedAt:        collected,
		QuantityKg:         qty,
		ProductID:          cj.ProductID,
		DeliveredProductID: cj.DeliveredProductID,
		Flow:               stock.Direction(cj.Flow),
		DocumentNumber:     cj.DocumentNumber,
		CostCenter:         cj.CostCenter,
		OwnerID:            cj.OwnerID,
		AllowFallback:      cj.AllowFallback,
		DueDate:            due,
		DownPayment:        down,
		Schedule:           schedule,
	}
	if cj.Contract != nil {
		c, err := ParseContract(*cj.Contract)
		if err != nil {
			return coleta.Input{}, err
		}
		// An inline contract is a one-off override, never stored.
		c.CreatedAt = time.Now().UTC()
		in.Contract = &c
	}
	return in, nil
}
