/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate storage with realistic data
	for demos. Each scenario goes through the same services as the API, so
	the loaded data obeys every ledger and stock rule.

AVAILABLE SCENARIOS:

	troca-contract:      Exchange contract, 120 kg collected for 20 units
	compra-installments: Purchase contract, 50 kg at 1.20 paid in two parts
	overdue-receivable:  Receivable with a down payment and an overdue installment

HOW SCENARIOS WORK:
 1. Create products
 2. Save the client's contract
 3. Register collections or entries relative to today
 4. Optionally register payments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "compra-installments"}

NOTE:

	Scenarios add data; they never clear storage. Loading one twice creates
	a second set of records.

SEE ALSO:
  - handlers.go: service wiring
  - factory/entry.go: entry JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/oleoverde/ledger-engine/coleta"
	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/stock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const (
	productUsedOil = "oleo-usado"
	productSoap    = "sabao-barra"
)

var scenarios = []ScenarioDTO{
	{
		ID:          "troca-contract",
		Name:        "Troca Contract",
		Description: "Active exchange contract with factor 6; 120 kg collected yields 20 delivered units",
	},
	{
		ID:          "compra-installments",
		Name:        "Compra in Installments",
		Description: "Purchase contract at 1.20/kg; 50 kg creates a 60.00 payable split in two, first part paid",
	},
	{
		ID:          "overdue-receivable",
		Name:        "Overdue Receivable",
		Description: "1000.00 receivable with a paid down payment and two installments, the first overdue",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "troca-contract":
		err = h.loadTrocaScenario(ctx)
	case "compra-installments":
		err = h.loadCompraScenario(ctx)
	case "overdue-receivable":
		err = h.loadOverdueReceivableScenario(ctx)
	default:
		writeError(w, r, generic.NewValidationError("UNKNOWN_SCENARIO", fmt.Sprintf("unknown scenario %q", req.ScenarioID)))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadProducts(ctx context.Context) error {
	for _, p := range []stock.Product{
		{ID: productUsedOil, Name: "Óleo de cozinha usado", Unit: "kg"},
		{ID: productSoap, Name: "Sabão em barra", Unit: "un"},
	} {
		if _, err := h.Stock.SaveProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadTrocaScenario(ctx context.Context) error {
	if err := h.loadProducts(ctx); err != nil {
		return err
	}
	today := h.today()

	if _, err := h.Pricing.SaveContract(ctx, pricing.Contract{
		ClientID:       "cli-restaurante-sol",
		Mode:           pricing.ModeTroca,
		ExchangeFactor: 6,
		StartDate:      today.AddMonths(-1),
		Status:         pricing.StatusActive,
	}); err != nil {
		return err
	}

	_, err := h.Coleta.Register(ctx, coleta.Input{
		ClientID:           "cli-restaurante-sol",
		Counterparty:       finance.Counterparty{Name: "Restaurante Sol Ltda", FantasyName: "Restaurante Sol"},
		CollectedAt:        today,
		QuantityKg:         decimal.NewFromInt(120),
		ProductID:          productUsedOil,
		DeliveredProductID: productSoap,
	})
	return err
}

func (h *Handler) loadCompraScenario(ctx context.Context) error {
	if err := h.loadProducts(ctx); err != nil {
		return err
	}
	today := h.today()
	price := generic.NewAmountFromString("1.20")

	if _, err := h.Pricing.SaveContract(ctx, pricing.Contract{
		ClientID:  "cli-pastelaria-lua",
		Mode:      pricing.ModeCompra,
		UnitPrice: &price,
		StartDate: today.AddMonths(-2),
		EndDate:   today.AddMonths(10),
		Status:    pricing.StatusActive,
	}); err != nil {
		return err
	}

	c, err := h.Coleta.Register(ctx, coleta.Input{
		ClientID:     "cli-pastelaria-lua",
		Counterparty: finance.Counterparty{Name: "Pastelaria Lua ME", TaxID: "12.345.678/0001-90"},
		CollectedAt:  today,
		QuantityKg:   decimal.NewFromInt(50),
		ProductID:    productUsedOil,
		Schedule: []finance.ScheduledInstallment{
			{DueDate: today, Amount: generic.NewAmountFromString("30.00")},
			{DueDate: today.AddDays(30), Amount: generic.NewAmountFromString("30.00")},
		},
	})
	if err != nil {
		return err
	}

	entry, err := h.Finance.GetEntry(ctx, c.EntryID)
	if err != nil {
		return err
	}
	_, err = h.Finance.RegisterPayment(ctx, finance.PaymentInput{
		InstallmentID: entry.Installments[0].ID,
		Amount:        entry.Installments[0].Expected,
		Method:        finance.MethodPix,
	})
	return err
}

func (h *Handler) loadOverdueReceivableScenario(ctx context.Context) error {
	today := h.today()
	issue := today.AddDays(-45)

	in, err := h.Entries.ParseEntry(fmt.Sprintf(`{
		"direction": "credito",
		"counterparty": {"name": "Hotel Mar Azul S.A.", "tax_id": "98.765.432/0001-10"},
		"description": "Venda de sabão em barra",
		"total": "1.000,00",
		"issue_date": %q,
		"down_payment": "200,00",
		"installment_count": 2,
		"schedule": [
			{"due_date": %q, "amount": "400,00"},
			{"due_date": %q, "amount": "400,00"}
		]
	}`, issue, issue.AddDays(30), issue.AddDays(60)))
	if err != nil {
		return err
	}

	entry, err := h.Finance.CreateEntry(ctx, in)
	if err != nil {
		return err
	}
	down, ok := entry.DownPayment()
	if !ok {
		return fmt.Errorf("scenario entry %s has no down payment", entry.ID)
	}
	_, err = h.Finance.RegisterPayment(ctx, finance.PaymentInput{
		InstallmentID: down.ID,
		Amount:        down.Expected,
		PaidAt:        issue,
		Method:        finance.MethodCash,
	})
	return err
}
