package documents

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// TransitionObserver counts applied lifecycle transitions.
type TransitionObserver interface {
	ObserveTransition(kind, event string)
}

// Handler exposes the document engine as a JSON surface.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	metrics  TransitionObserver
	validate *validator.Validate
}

// NewHandler builds Handler instance. Metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, metrics TransitionObserver) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics, validate: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Put("/{id}/lines", h.updateLines)
	r.Post("/{id}/transitions", h.transition)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := req.toInput(actorFrom(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create document", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ToResponse(doc))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid document id")
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToResponse(doc))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Kind:   docflow.Kind(q.Get("kind")),
		Status: docflow.State(q.Get("status")),
	}
	if v := q.Get("party_id"); v != "" {
		filter.PartyID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	docs, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list documents", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]DocumentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, ToResponse(&docs[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (h *Handler) updateLines(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid document id")
		return
	}
	var req UpdateLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := UpdateLinesInput{ExpectedVersion: req.ExpectedVersion, ActorID: actorFrom(r)}
	for _, lr := range req.Lines {
		line, err := lr.toInput()
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		input.Lines = append(input.Lines, line)
	}
	if req.DiscountPercent != nil {
		rate, err := parseRatePtr(*req.DiscountPercent)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		input.DocDiscountPercent = rate
	}
	if req.DiscountAmount != nil {
		amt, err := parseAmountPtr(*req.DiscountAmount)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		input.DocDiscountAmount = amt
	}
	if req.Shipping != "" {
		shipping, err := parseAmountPtr(req.Shipping)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		input.Shipping = *shipping
	}
	doc, err := h.service.UpdateDraftLines(r.Context(), id, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ToResponse(doc))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid document id")
		return
	}
	var req TransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	doc, err := h.service.Transition(r.Context(), id, docflow.Event(req.Event), actorFrom(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveTransition(string(doc.Kind), req.Event)
	}
	httpx.JSON(w, http.StatusOK, ToResponse(doc))
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// actorFrom resolves the acting user from the upstream gateway header.
// Authentication itself lives outside this service.
func actorFrom(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
