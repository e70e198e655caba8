package alerts

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler exposes alert endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// MountRoutes registers alert routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/scan", h.scan)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/acknowledge", h.acknowledge)
	r.Post("/{id}/resolve", h.resolve)
	r.Get("/core-returns/overdue", h.overdueCoreReturns)
}

// AlertResponse renders one reorder alert.
type AlertResponse struct {
	ID           int64     `json:"id"`
	ItemID       int64     `json:"item_id"`
	WarehouseID  int64     `json:"warehouse_id"`
	Status       string    `json:"status"`
	StockOnHand  int64     `json:"stock_on_hand"`
	ReorderLevel int64     `json:"reorder_level"`
	SuggestedQty int64     `json:"suggested_qty"`
	POID         *int64    `json:"po_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toAlertResponse(a ReorderAlert) AlertResponse {
	return AlertResponse{
		ID:           a.ID,
		ItemID:       a.ItemID,
		WarehouseID:  a.WarehouseID,
		Status:       string(a.Status),
		StockOnHand:  a.StockOnHand,
		ReorderLevel: a.ReorderLevel,
		SuggestedQty: a.SuggestedQty,
		POID:         a.POID,
		CreatedAt:    a.CreatedAt,
	}
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	var warehouseID int64
	if v := r.URL.Query().Get("warehouse_id"); v != "" {
		warehouseID, _ = strconv.ParseInt(v, 10, 64)
	}
	result, err := h.service.CheckReorderPoints(r.Context(), warehouseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	created := make([]AlertResponse, 0, len(result.Created))
	for _, a := range result.Created {
		created = append(created, toAlertResponse(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"scanned":         result.Scanned,
		"below_threshold": result.Below,
		"created":         created,
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := docflow.State(q.Get("status"))
	limit := 0
	if v := q.Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	alerts, err := h.service.ListAlerts(r.Context(), status, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertResponse(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"alerts": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	alert, err := h.service.GetAlert(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAlertResponse(*alert))
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Acknowledge)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Resolve)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, actorID int64) (*ReorderAlert, error)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actorID, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	alert, err := op(r.Context(), id, actorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAlertResponse(*alert))
}

func (h *Handler) overdueCoreReturns(w http.ResponseWriter, r *http.Request) {
	overdue, err := h.service.OverdueCoreReturns(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	type row struct {
		DocumentID int64     `json:"document_id"`
		Number     string    `json:"number"`
		PartyID    int64     `json:"party_id"`
		DueDate    time.Time `json:"due_date"`
	}
	out := make([]row, 0, len(overdue))
	for _, o := range overdue {
		out = append(out, row{DocumentID: o.DocumentID, Number: o.Number, PartyID: o.PartyID, DueDate: o.DueDate})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overdue": out})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid alert id")
		return 0, false
	}
	return id, true
}
