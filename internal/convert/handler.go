package convert

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler exposes the conversion endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// MountRoutes registers conversion routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/quotes/{id}/order", h.quoteToOrder)
	r.Post("/orders/{id}/invoice", h.orderToInvoice)
	r.Post("/purchase-orders/{id}/bill", h.poToBill)
	r.Post("/alerts/{id}/purchase-order", h.alertToPO)
	r.Post("/alerts/purchase-orders", h.posFromAlerts)
}

// ConvertRequest is the optional body for document conversions.
type ConvertRequest struct {
	DueDate *time.Time `json:"due_date,omitempty"`
}

// AlertToPORequest raises one purchase order from an alert.
type AlertToPORequest struct {
	SupplierID int64  `json:"supplier_id" validate:"required"`
	UnitPrice  string `json:"unit_price" validate:"required"`
	Currency   string `json:"currency"`
}

// BatchAlertItem is one entry of a batch conversion.
type BatchAlertItem struct {
	AlertID    int64  `json:"alert_id" validate:"required"`
	SupplierID int64  `json:"supplier_id" validate:"required"`
	UnitPrice  string `json:"unit_price" validate:"required"`
	Currency   string `json:"currency"`
}

// BatchRequest converts many alerts in one call.
type BatchRequest struct {
	Items       []BatchAlertItem `json:"items" validate:"required,min=1,dive"`
	StopOnError bool             `json:"stop_on_error"`
}

func (h *Handler) quoteToOrder(w http.ResponseWriter, r *http.Request) {
	h.documentConversion(w, r, h.service.QuoteToOrder)
}

func (h *Handler) orderToInvoice(w http.ResponseWriter, r *http.Request) {
	h.documentConversion(w, r, h.service.OrderToInvoice)
}

func (h *Handler) poToBill(w http.ResponseWriter, r *http.Request) {
	h.documentConversion(w, r, h.service.POToBill)
}

func (h *Handler) documentConversion(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int64, input ConvertInput) (*documents.Document, error)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ConvertRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	child, err := op(r.Context(), id, ConvertInput{DueDate: req.DueDate, ActorID: actorFrom(r)})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, documents.ToResponse(child))
}

func (h *Handler) alertToPO(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req AlertToPORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	price, err := money.Parse(req.UnitPrice)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.AlertToPO(r.Context(), AlertToPOInput{
		AlertID:    id,
		SupplierID: req.SupplierID,
		UnitPrice:  price,
		Currency:   req.Currency,
		ActorID:    actorFrom(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, documents.ToResponse(po))
}

func (h *Handler) posFromAlerts(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := actorFrom(r)
	inputs := make([]AlertToPOInput, 0, len(req.Items))
	for _, item := range req.Items {
		price, err := money.Parse(item.UnitPrice)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		inputs = append(inputs, AlertToPOInput{
			AlertID:    item.AlertID,
			SupplierID: item.SupplierID,
			UnitPrice:  price,
			Currency:   item.Currency,
			ActorID:    actor,
		})
	}
	results := h.service.POsFromAlerts(r.Context(), inputs, BatchOptions{StopOnError: req.StopOnError})

	type row struct {
		AlertID int64  `json:"alert_id"`
		POID    int64  `json:"po_id,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	out := make([]row, 0, len(results))
	for _, res := range results {
		item := row{AlertID: res.AlertID, POID: res.POID}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out = append(out, item)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": out})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func actorFrom(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
