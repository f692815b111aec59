package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockledger/stockledger/internal/platform/httpx"
	"github.com/stockledger/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for the ledger module.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	aggregator *Aggregator
	catalog    CatalogPort
	validate   *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, aggregator *Aggregator, catalogPort CatalogPort) *Handler {
	return &Handler{
		logger:     logger,
		service:    service,
		aggregator: aggregator,
		catalog:    catalogPort,
		validate:   validator.New(),
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/deliveries", h.recordDelivery)
	r.Post("/consumptions", h.consume)
	r.Get("/stock", h.listStock)
	r.Get("/stock/{productID}", h.currentStock)
	r.Get("/entries", h.listEntries)
}

// movementForm accepts either a product id or a product name; names are
// resolved through the catalog.
type movementForm struct {
	ProductID int64   `json:"product_id" validate:"omitempty,gt=0"`
	Product   string  `json:"product" validate:"required_without=ProductID,omitempty,max=120"`
	Date      string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Amount    float64 `json:"amount"`
	Ref       string  `json:"ref" validate:"omitempty,uuid"`
}

func (h *Handler) recordDelivery(w http.ResponseWriter, r *http.Request) {
	form, ok := h.decodeMovement(w, r)
	if !ok {
		return
	}
	productID, date, ok := h.resolveMovement(w, r, form)
	if !ok {
		return
	}
	entry, err := h.service.RecordDelivery(r.Context(), DeliveryInput{
		ProductID: productID,
		Date:      date,
		Amount:    form.Amount,
		Ref:       form.Ref,
	})
	if err != nil {
		h.logger.Error("record delivery failed", slog.Any("error", err), slog.Int64("product_id", productID))
		h.respondError(w, err)
		return
	}
	h.logger.Info("delivery recorded",
		slog.Int64("entry_id", entry.ID),
		slog.Int64("product_id", productID),
		slog.Float64("amount", form.Amount))
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	form, ok := h.decodeMovement(w, r)
	if !ok {
		return
	}
	productID, date, ok := h.resolveMovement(w, r, form)
	if !ok {
		return
	}
	result, err := h.service.Consume(r.Context(), ConsumeInput{
		ProductID: productID,
		Date:      date,
		Amount:    form.Amount,
		Ref:       form.Ref,
	})
	if err != nil {
		h.logger.Error("consume failed", slog.Any("error", err), slog.Int64("product_id", productID))
		h.respondError(w, err)
		return
	}
	if result.Shortage > 0 {
		h.logger.Warn("consumption recorded with shortage",
			slog.Int64("product_id", productID),
			slog.Float64("shortage", result.Shortage))
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	rows, err := h.aggregator.ListStock(r.Context())
	if err != nil {
		h.logger.Error("list stock failed", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	if rows == nil {
		rows = []StockRow{}
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) currentStock(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	stock, err := h.aggregator.CurrentStock(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":    productID,
		"current_stock": stock,
	})
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id query parameter required")
		return
	}
	entries, err := h.aggregator.Entries(r.Context(), productID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) decodeMovement(w http.ResponseWriter, r *http.Request) (movementForm, bool) {
	var form movementForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return movementForm{}, false
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return movementForm{}, false
	}
	return form, true
}

func (h *Handler) resolveMovement(w http.ResponseWriter, r *http.Request, form movementForm) (int64, Date, bool) {
	productID := form.ProductID
	if productID == 0 {
		product, err := h.catalog.Resolve(r.Context(), form.Product)
		if err != nil {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown product "+strconv.Quote(form.Product))
			return 0, Date{}, false
		}
		productID = product.ID
	}
	var date Date
	if form.Date != "" {
		parsed, err := ParseDate(form.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid date")
			return 0, Date{}, false
		}
		date = parsed
	}
	return productID, date, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Amount", err.Error())
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, ErrAllocationFailed):
		httpx.Problem(w, http.StatusInternalServerError, "Allocation Failed", ErrAllocationFailed.Error())
	default:
		httpx.RespondError(w, err)
	}
}
