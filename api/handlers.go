/*
handlers.go - HTTP API handlers for the collection ledger engine

PURPOSE:
  Exposes pricing, the receivable/payable ledger, stock and collections as
  a REST API. Handlers parse and validate the request, call one service
  operation and render the result. No business rule lives here.

ENDPOINTS:
  Pricing:
    GET    /api/contracts                  List contracts (?client_id=)
    POST   /api/contracts                  Create or update a contract
    GET    /api/contracts/{id}             Get contract
    GET    /api/pricing/resolve            Resolve pricing (?client_id=)

  Ledger:
    GET    /api/entries                    Paginated listing with filters
    POST   /api/entries                    Create entry with its schedule
    GET    /api/entries/summary            Totals for the same filters
    POST   /api/entries/schedule-preview   Even split preview
    GET    /api/entries/{id}               Get entry
    PUT    /api/entries/{id}/schedule      Replace schedule (unpaid only)
    POST   /api/entries/{id}/cancel        Cancel entry (unpaid only)
    GET    /api/installments/{id}          Get installment
    POST   /api/installments/{id}/payments Register payment
    GET    /api/installments/{id}/payments Payment history
    POST   /api/installments/{id}/cancel   Cancel installment

  Stock:
    GET    /api/products                   List products (?search=)
    POST   /api/products                   Create or rename product
    GET    /api/products/{id}/balance      Current balance
    GET    /api/movements                  Paginated listing with filters
    POST   /api/movements                  Manual movement
    GET    /api/movements/summary          Totals for the same filters
    GET    /api/movements/{id}             Get movement
    PUT    /api/movements/{id}             Edit manual movement
    DELETE /api/movements/{id}             Delete manual movement

  Collections:
    GET    /api/collections                List (?client_id=)
    POST   /api/collections                Register
    GET    /api/collections/{id}           Get
    PUT    /api/collections/{id}           Edit
    DELETE /api/collections/{id}           Delete

ERROR HANDLING:
  Errors are returned as JSON {error, code, kind, details} with:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Lost a concurrent update, retryable
  - 422: Business rule rejection (exceeds balance, insufficient stock...)
  - 500: Internal errors
  Payments always answer with finance.PaymentResult.

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: decoding, validation, error mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oleoverde/ledger-engine/coleta"
	"github.com/oleoverde/ledger-engine/factory"
	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/stock"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Pricing *pricing.Service
	Finance *finance.Service
	Stock   *stock.Service
	Coleta  *coleta.Service
	Entries *factory.EntryFactory
	Health  Pinger
	Logger  *zap.Logger
}

// NewHandler creates a handler over the given services.
func NewHandler(p *pricing.Service, f *finance.Service, s *stock.Service, c *coleta.Service, health Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Pricing: p,
		Finance: f,
		Stock:   s,
		Coleta:  c,
		Entries: factory.NewEntryFactory(),
		Health:  health,
		Logger:  logger.Named("api"),
	}
}

func (h *Handler) today() generic.Date {
	return h.Finance.Clock()
}

// Health answers 200 when storage responds.
// GET /api/health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			h.Logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PRICING HANDLERS
// =============================================================================

// ListContracts returns contracts, optionally for one client.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Pricing.ListContracts(r.Context(), r.URL.Query().Get("client_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]ContractDTO, len(contracts))
	for i, c := range contracts {
		dtos[i] = toContractDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveContract creates a contract, or updates it when the id exists.
func (h *Handler) SaveContract(w http.ResponseWriter, r *http.Request) {
	var req factory.ContractJSON
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := factory.ParseContract(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := h.Pricing.SaveContract(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractDTO(*saved))
}

func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.Pricing.GetContract(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

// ResolvePricing returns the pricing a new collection for the client would
// snapshot. ?fallback=true applies the manual default when nothing is active.
func (h *Handler) ResolvePricing(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		writeError(w, r, generic.NewValidationError("CLIENT_REQUIRED", "client_id is required"))
		return
	}
	p, err := h.Pricing.Resolve(r.Context(), clientID, nil)
	if err != nil {
		if !errors.Is(err, generic.ErrNoActiveContract) || r.URL.Query().Get("fallback") != "true" {
			writeError(w, r, err)
			return
		}
		p = pricing.ManualDefault()
		if h.Coleta != nil && h.Coleta.FallbackFactor > 0 {
			p.ExchangeFactor = h.Coleta.FallbackFactor
		}
	}
	writeJSON(w, http.StatusOK, toPricingDTO(p))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	in, ok := h.entryInput(w, r)
	if !ok {
		return
	}
	e, err := h.Finance.CreateEntry(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*e, h.today()))
}

func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.Finance.GetEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(*e, h.today()))
}

// ReplaceSchedule rebuilds the installments of an entry without payments.
func (h *Handler) ReplaceSchedule(w http.ResponseWriter, r *http.Request) {
	in, ok := h.entryInput(w, r)
	if !ok {
		return
	}
	e, err := h.Finance.ReplaceSchedule(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(*e, h.today()))
}

func (h *Handler) CancelEntry(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	e, err := h.Finance.CancelEntry(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(*e, h.today()))
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := entryFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.Finance.ListEntries(r.Context(), filter, pageOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	today := h.today()
	resp := ListResponse[EntryDTO]{
		Items: make([]EntryDTO, 0, len(page.Items)),
		Total: page.Total,
		Page:  page.Page.Number,
		Size:  page.Page.Size,
	}
	for _, v := range page.Items {
		resp.Items = append(resp.Items, toEntryDTO(v.Entry, today))
	}
	writeJSON(w, http.StatusOK, resp)
}

// EntrySummary returns count and totals for the listing filters.
func (h *Handler) EntrySummary(w http.ResponseWriter, r *http.Request) {
	filter, err := entryFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := h.Finance.Summary(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// PreviewSchedule splits an amount evenly. Nothing is stored.
func (h *Handler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	var req SchedulePreviewRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := generic.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	first, err := generic.ParseDate(req.FirstDueDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := factory.SplitEvenly(amount, req.Count, first, req.IntervalDays)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]factory.ScheduleRowJSON, len(rows))
	for i, row := range rows {
		out[i] = factory.ScheduleRowJSON{DueDate: row.DueDate.String(), Amount: row.Amount.String()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetInstallment(w http.ResponseWriter, r *http.Request) {
	inst, err := h.Finance.GetInstallment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(*inst, h.today()))
}

// RegisterPayment applies a payment to one installment. The body is always
// a PaymentResult; the status follows the error kind.
func (h *Handler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, statusOf(err), finance.ResultOf(nil, asValidation(err)))
		return
	}
	in, err := paymentInput(chi.URLParam(r, "id"), req)
	if err != nil {
		writeJSON(w, statusOf(err), finance.ResultOf(nil, err))
		return
	}

	p, err := h.Finance.RegisterPayment(r.Context(), in)
	result := finance.ResultOf(p, err)
	if err != nil {
		writeJSON(w, statusOf(err), result)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Finance.ListPayments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CancelInstallment(w http.ResponseWriter, r *http.Request) {
	inst, err := h.Finance.CancelInstallment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(*inst, h.today()))
}

func (h *Handler) entryInput(w http.ResponseWriter, r *http.Request) (finance.EntryInput, bool) {
	var req factory.EntryJSON
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return finance.EntryInput{}, false
	}
	in, err := h.Entries.FromJSON(req)
	if err != nil {
		writeError(w, r, err)
		return finance.EntryInput{}, false
	}
	return in, true
}

func paymentInput(installmentID string, req PaymentRequest) (finance.PaymentInput, error) {
	amount, err := generic.ParseAmount(req.Amount)
	if err != nil {
		return finance.PaymentInput{}, err
	}
	paidAt, err := factory.OptionalDate(req.PaidAt)
	if err != nil {
		return finance.PaymentInput{}, err
	}
	return finance.PaymentInput{
		InstallmentID: installmentID,
		Amount:        amount,
		PaidAt:        paidAt,
		Method:        finance.PaymentMethod(req.Method),
		AccountID:     req.AccountID,
		Note:          req.Note,
	}, nil
}

// asValidation folds field errors into the generic taxonomy so they fit a
// PaymentResult.
func asValidation(err error) error {
	if fe, ok := err.(fieldErrors); ok {
		return generic.NewValidationError("VALIDATION_FAILED", fe.Error())
	}
	return err
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Stock.ListProducts(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Stock.SaveProduct(r.Context(), stock.Product{ID: req.ID, Name: req.Name, Unit: req.Unit})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(*p))
}

func (h *Handler) ProductBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	balance, err := h.Stock.ProductBalance(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProductBalanceDTO{ProductID: id, Balance: balance})
}

func (h *Handler) CreateMovement(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.Stock.CreateManual(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(*m))
}

func (h *Handler) GetMovement(w http.ResponseWriter, r *http.Request) {
	m, err := h.Stock.GetMovement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(*m))
}

// UpdateMovement edits a manual movement. Linked movements answer 422.
func (h *Handler) UpdateMovement(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.Stock.UpdateManual(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(*m))
}

func (h *Handler) DeleteMovement(w http.ResponseWriter, r *http.Request) {
	if err := h.Stock.DeleteManual(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	filter, err := movementFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.Stock.ListMovements(r.Context(), filter, pageOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := ListResponse[MovementDTO]{
		Items: make([]MovementDTO, 0, len(page.Items)),
		Total: page.Total,
		Page:  page.Page.Number,
		Size:  page.Page.Size,
	}
	for _, m := range page.Items {
		resp.Items = append(resp.Items, toMovementDTO(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) MovementSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := movementFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := h.Stock.Summary(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// =============================================================================
// COLLECTION HANDLERS
// =============================================================================

func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Coleta.List(r.Context(), r.URL.Query().Get("client_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]CollectionDTO, len(cs))
	for i, c := range cs {
		dtos[i] = toCollectionDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RegisterCollection(w http.ResponseWriter, r *http.Request) {
	in, ok := collectionInput(w, r)
	if !ok {
		return
	}
	c, err := h.Coleta.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCollectionDTO(*c))
}

func (h *Handler) GetCollection(w http.ResponseWriter, r *http.Request) {
	c, err := h.Coleta.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionDTO(*c))
}

func (h *Handler) EditCollection(w http.ResponseWriter, r *http.Request) {
	in, ok := collectionInput(w, r)
	if !ok {
		return
	}
	c, err := h.Coleta.Edit(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionDTO(*c))
}

func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.Coleta.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func collectionInput(w http.ResponseWriter, r *http.Request) (coleta.Input, bool) {
	var req factory.CollectionJSON
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return coleta.Input{}, false
	}
	in, err := factory.ParseCollection(req)
	if err != nil {
		writeError(w, r, err)
		return coleta.Input{}, false
	}
	return in, true
}

// =============================================================================
// QUERY PARSING
// =============================================================================

func dateRange(r *http.Request) (generic.DateRange, error) {
	q := r.URL.Query()
	from, err := factory.OptionalDate(q.Get("from"))
	if err != nil {
		return generic.DateRange{}, err
	}
	to, err := factory.OptionalDate(q.Get("to"))
	if err != nil {
		return generic.DateRange{}, err
	}
	return generic.DateRange{From: from, To: to}, nil
}

func entryFilter(r *http.Request) (finance.EntryFilter, error) {
	rng, err := dateRange(r)
	if err != nil {
		return finance.EntryFilter{}, err
	}
	q := r.URL.Query()
	return finance.EntryFilter{
		Range:     rng,
		Direction: finance.Direction(q.Get("direction")),
		Status:    finance.Status(q.Get("status")),
		Search:    q.Get("search"),
		OwnerID:   q.Get("owner_id"),
	}, nil
}

func movementFilter(r *http.Request) (stock.MovementFilter, error) {
	rng, err := dateRange(r)
	if err != nil {
		return stock.MovementFilter{}, err
	}
	q := r.URL.Query()
	return stock.MovementFilter{
		Range:         rng,
		Direction:     stock.Direction(q.Get("direction")),
		Origin:        stock.Origin(q.Get("origin")),
		ProductSearch: q.Get("product"),
		OwnerID:       q.Get("owner_id"),
	}, nil
}

// pageOf reads ?page= and ?size=; bad values fall back to defaults.
func pageOf(r *http.Request) generic.Page {
	number, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	return generic.Page{Number: number, Size: size}.Normalize()
}
