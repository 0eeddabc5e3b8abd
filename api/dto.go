/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request bodies reuse
  the factory JSON types so every amount and date goes through the same
  normalization as any other collaborator input.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers (lists, errors)

VALIDATION:
  Struct tags are checked by go-playground/validator before the body reaches
  the factory. Rule checks (schedule sums, balances, stock) stay in the
  domain packages.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/entry.go, factory/collection.go: embedded JSON types
*/
package api

import (
	"time"

	"github.com/oleoverde/ledger-engine/coleta"
	"github.com/oleoverde/ledger-engine/factory"
	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/stock"
	"github.com/shopspring/decimal"
)

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the body of every non-2xx response except payments,
// which answer with finance.PaymentResult.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Kind      string `json:"kind"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ListResponse wraps a paginated listing.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// =============================================================================
// PRICING
// =============================================================================

type ContractDTO struct {
	factory.ContractJSON
	CreatedAt string `json:"created_at,omitempty"`
}

type PricingDTO struct {
	Mode           string `json:"mode"`
	ExchangeFactor int    `json:"exchange_factor,omitempty"`
	UnitPrice      string `json:"unit_price,omitempty"`
	ContractID     string `json:"contract_id,omitempty"`
	Fallback       bool   `json:"fallback"`
}

func toContractDTO(c pricing.Contract) ContractDTO {
	return ContractDTO{ContractJSON: factory.ContractToJSON(c), CreatedAt: formatTime(c.CreatedAt)}
}

func toPricingDTO(p pricing.Pricing) PricingDTO {
	dto := PricingDTO{
		Mode:           string(p.Mode),
		ExchangeFactor: p.ExchangeFactor,
		ContractID:     p.ContractID,
		Fallback:       p.Fallback,
	}
	if p.Mode == pricing.ModeCompra {
		dto.UnitPrice = p.UnitPrice.String()
	}
	return dto
}

// =============================================================================
// LEDGER
// =============================================================================

type EntryDTO struct {
	ID           string                   `json:"id"`
	Direction    string                   `json:"direction"`
	Counterparty factory.CounterpartyJSON `json:"counterparty"`
	Description  string                   `json:"description,omitempty"`
	CostCenter   string                   `json:"cost_center,omitempty"`
	Total        string                   `json:"total"`
	Paid         string                   `json:"paid"`
	Balance      string                   `json:"balance"`
	Status       string                   `json:"status"`
	IssueDate    string                   `json:"issue_date"`
	CollectionID string                   `json:"collection_id,omitempty"`
	OwnerID      string                   `json:"owner_id,omitempty"`
	Installments []InstallmentDTO         `json:"installments"`
	CreatedBy    string                   `json:"created_by,omitempty"`
	CreatedAt    string                   `json:"created_at,omitempty"`
}

type InstallmentDTO struct {
	ID        string `json:"id"`
	EntryID   string `json:"entry_id"`
	Sequence  int    `json:"sequence"`
	Label     string `json:"label"`
	DueDate   string `json:"due_date"`
	Expected  string `json:"expected"`
	Paid      string `json:"paid"`
	Balance   string `json:"balance"`
	Status    string `json:"status"`
	AccountID string `json:"account_id,omitempty"`
	Version   int    `json:"version"`
}

type PaymentRequest struct {
	Amount    string `json:"amount" validate:"required"`
	PaidAt    string `json:"paid_at,omitempty"`
	Method    string `json:"method" validate:"required,oneof=pix cash bank_transfer credit_card debit_card"`
	AccountID string `json:"account_id,omitempty"`
	Note      string `json:"note,omitempty" validate:"max=500"`
}

type PaymentDTO struct {
	ID            string `json:"id"`
	InstallmentID string `json:"installment_id"`
	EntryID       string `json:"entry_id"`
	Amount        string `json:"amount"`
	PaidAt        string `json:"paid_at"`
	Method        string `json:"method"`
	AccountID     string `json:"account_id,omitempty"`
	Note          string `json:"note,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// SchedulePreviewRequest asks for an even split the caller can edit before
// submitting the entry.
type SchedulePreviewRequest struct {
	Amount       string `json:"amount" validate:"required"`
	Count        int    `json:"count" validate:"required,gt=0,lte=360"`
	FirstDueDate string `json:"first_due_date" validate:"required"`
	IntervalDays int    `json:"interval_days,omitempty" validate:"gte=0"`
}

func toEntryDTO(e finance.Entry, today generic.Date) EntryDTO {
	paid, balance := e.Totals()
	dto := EntryDTO{
		ID:        e.ID,
		Direction: string(e.Direction),
		Counterparty: factory.CounterpartyJSON{
			Name:        e.Counterparty.Name,
			FantasyName: e.Counterparty.FantasyName,
			TaxID:       e.Counterparty.TaxID,
		},
		Description:  e.Description,
		CostCenter:   e.CostCenter,
		Total:        e.Total.String(),
		Paid:         paid.String(),
		Balance:      balance.String(),
		Status:       string(finance.EntryStatus(e, today)),
		IssueDate:    e.IssueDate.String(),
		CollectionID: e.CollectionID,
		OwnerID:      e.OwnerID,
		Installments: make([]InstallmentDTO, 0, len(e.Installments)),
		CreatedBy:    e.CreatedBy,
		CreatedAt:    formatTime(e.CreatedAt),
	}
	for _, inst := range e.Installments {
		dto.Installments = append(dto.Installments, toInstallmentDTO(inst, today))
	}
	return dto
}

func toInstallmentDTO(i finance.Installment, today generic.Date) InstallmentDTO {
	return InstallmentDTO{
		ID:        i.ID,
		EntryID:   i.EntryID,
		Sequence:  i.Sequence,
		Label:     i.Label(),
		DueDate:   i.DueDate.String(),
		Expected:  i.Expected.String(),
		Paid:      i.Paid.String(),
		Balance:   i.Balance().String(),
		Status:    string(i.StatusAt(today)),
		AccountID: i.AccountID,
		Version:   i.Version,
	}
}

func toPaymentDTO(p finance.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            p.ID,
		InstallmentID: p.InstallmentID,
		EntryID:       p.EntryID,
		Amount:        p.Amount.String(),
		PaidAt:        p.PaidAt.String(),
		Method:        string(p.Method),
		AccountID:     p.AccountID,
		Note:          p.Note,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     formatTime(p.CreatedAt),
	}
}

// =============================================================================
// STOCK
// =============================================================================

type LineJSON struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  string `json:"quantity" validate:"required"`
	Direction string `json:"direction,omitempty" validate:"omitempty,oneof=entrada saida"`
}

type MovementRequest struct {
	Direction      string     `json:"direction" validate:"required,oneof=entrada saida"`
	DocumentNumber string     `json:"document_number,omitempty" validate:"max=64"`
	Counterparty   string     `json:"counterparty,omitempty" validate:"max=200"`
	MovedAt        string     `json:"moved_at" validate:"required"`
	Lines          []LineJSON `json:"lines" validate:"required,min=1,dive"`
	OwnerID        string     `json:"owner_id,omitempty"`
}

type MovementDTO struct {
	ID             string     `json:"id"`
	Direction      string     `json:"direction"`
	Origin         string     `json:"origin"`
	CollectionID   string     `json:"collection_id,omitempty"`
	DocumentNumber string     `json:"document_number,omitempty"`
	Counterparty   string     `json:"counterparty,omitempty"`
	MovedAt        string     `json:"moved_at"`
	Lines          []LineJSON `json:"lines"`
	Quantity       string     `json:"quantity"`
	OwnerID        string     `json:"owner_id,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      string     `json:"created_at,omitempty"`
}

type ProductRequest struct {
	ID   string `json:"id,omitempty" validate:"max=64"`
	Name string `json:"name" validate:"required,max=200"`
	Unit string `json:"unit,omitempty" validate:"omitempty,oneof=kg L un"`
}

type ProductDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	CreatedAt string `json:"created_at,omitempty"`
}

type ProductBalanceDTO struct {
	ProductID string          `json:"product_id"`
	Balance   decimal.Decimal `json:"balance"`
}

func (r MovementRequest) toInput() (stock.MovementInput, error) {
	moved, err := generic.ParseDate(r.MovedAt)
	if err != nil {
		return stock.MovementInput{}, err
	}
	lines := make([]stock.Line, 0, len(r.Lines))
	for _, l := range r.Lines {
		q, err := generic.ParseQuantity(l.Quantity)
		if err != nil {
			return stock.MovementInput{}, err
		}
		lines = append(lines, stock.Line{ProductID: l.ProductID, Quantity: q, Direction: stock.Direction(l.Direction)})
	}
	return stock.MovementInput{
		Direction:      stock.Direction(r.Direction),
		DocumentNumber: r.DocumentNumber,
		Counterparty:   r.Counterparty,
		MovedAt:        moved,
		Lines:          lines,
		OwnerID:        r.OwnerID,
	}, nil
}

func toMovementDTO(m stock.Movement) MovementDTO {
	dto := MovementDTO{
		ID:             m.ID,
		Direction:      string(m.Direction),
		Origin:         string(m.Origin),
		CollectionID:   m.CollectionID,
		DocumentNumber: m.DocumentNumber,
		Counterparty:   m.Counterparty,
		MovedAt:        m.MovedAt.String(),
		Lines:          make([]LineJSON, 0, len(m.Lines)),
		Quantity:       m.Quantity().String(),
		OwnerID:        m.OwnerID,
		CreatedBy:      m.CreatedBy,
		CreatedAt:      formatTime(m.CreatedAt),
	}
	for _, l := range m.Lines {
		dto.Lines = append(dto.Lines, LineJSON{
			ProductID: l.ProductID,
			Quantity:  l.Quantity.String(),
			Direction: string(l.Direction),
		})
	}
	return dto
}

func toProductDTO(p stock.Product) ProductDTO {
	return ProductDTO{ID: p.ID, Name: p.Name, Unit: p.Unit, CreatedAt: formatTime(p.CreatedAt)}
}

// =============================================================================
// COLLECTIONS
// =============================================================================

type CollectionDTO struct {
	ID                 string                   `json:"id"`
	ClientID           string                   `json:"client_id"`
	Counterparty       factory.CounterpartyJSON `json:"counterparty"`
	CollectedAt        string                   `json:"collected_at"`
	QuantityKg         string                   `json:"quantity_kg"`
	Pricing            PricingDTO               `json:"pricing"`
	DeliveredUnits     int64                    `json:"delivered_units"`
	Amount             string                   `json:"amount"`
	Note               string                   `json:"note,omitempty"`
	Flow               string                   `json:"flow"`
	ProductID          string                   `json:"product_id"`
	DeliveredProductID string                   `json:"delivered_product_id,omitempty"`
	DocumentNumber     string                   `json:"document_number,omitempty"`
	EntryID            string                   `json:"entry_id,omitempty"`
	MovementID         string                   `json:"movement_id,omitempty"`
	OwnerID            string                   `json:"owner_id,omitempty"`
	CreatedBy          string                   `json:"created_by,omitempty"`
	CreatedAt          string                   `json:"created_at,omitempty"`
	UpdatedAt          string                   `json:"updated_at,omitempty"`
}

func toCollectionDTO(c coleta.Collection) CollectionDTO {
	return CollectionDTO{
		ID:       c.ID,
		ClientID: c.ClientID,
		Counterparty: factory.CounterpartyJSON{
			Name:        c.Counterparty.Name,
			FantasyName: c.Counterparty.FantasyName,
			TaxID:       c.Counterparty.TaxID,
		},
		CollectedAt:        c.CollectedAt.String(),
		QuantityKg:         c.QuantityKg.String(),
		Pricing:            toPricingDTO(c.Pricing),
		DeliveredUnits:     c.Outcome.DeliveredUnits,
		Amount:             c.Outcome.Amount.String(),
		Note:               c.Outcome.Note,
		Flow:               string(c.Flow),
		ProductID:          c.ProductID,
		DeliveredProductID: c.DeliveredProductID,
		DocumentNumber:     c.DocumentNumber,
		EntryID:            c.EntryID,
		MovementID:         c.MovementID,
		OwnerID:            c.OwnerID,
		CreatedBy:          c.CreatedBy,
		CreatedAt:          formatTime(c.CreatedAt),
		UpdatedAt:          formatTime(c.UpdatedAt),
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
