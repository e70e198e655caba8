package payments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// AllocationObserver counts committed allocations.
type AllocationObserver interface {
	ObserveAllocation()
}

// Handler exposes payment allocation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	metrics  AllocationObserver
	validate *validator.Validate
}

// NewHandler builds Handler instance. Metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, metrics AllocationObserver) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics, validate: validator.New()}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.allocate)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
}

// AllocationRequestDTO is one requested split.
type AllocationRequestDTO struct {
	DocumentID int64  `json:"document_id" validate:"required"`
	Amount     string `json:"amount" validate:"required"`
}

// AllocatePaymentRequest is the JSON payload for posting a payment.
type AllocatePaymentRequest struct {
	PartyID     int64                  `json:"party_id" validate:"required"`
	Currency    string                 `json:"currency"`
	Amount      string                 `json:"amount" validate:"required"`
	PaidAt      *time.Time             `json:"paid_at,omitempty"`
	Method      string                 `json:"method"`
	Note        string                 `json:"note"`
	Allocations []AllocationRequestDTO `json:"allocations" validate:"dive"`
}

// AllocationResponse renders one applied split.
type AllocationResponse struct {
	DocumentID int64  `json:"document_id"`
	Amount     string `json:"amount"`
}

// PaymentResponse renders a payment.
type PaymentResponse struct {
	ID          int64                `json:"id"`
	Reference   string               `json:"reference"`
	PartyID     int64                `json:"party_id"`
	Currency    string               `json:"currency"`
	Amount      string               `json:"amount"`
	Unallocated string               `json:"unallocated"`
	PaidAt      time.Time            `json:"paid_at"`
	Method      string               `json:"method,omitempty"`
	Note        string               `json:"note,omitempty"`
	Allocations []AllocationResponse `json:"allocations,omitempty"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocatePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := AllocateInput{
		PartyID:  req.PartyID,
		Currency: req.Currency,
		Amount:   amount,
		Method:   req.Method,
		Note:     req.Note,
		ActorID:  actorFrom(r),
	}
	if req.PaidAt != nil {
		input.PaidAt = *req.PaidAt
	}
	for _, a := range req.Allocations {
		amt, err := money.Parse(a.Amount)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		input.Requests = append(input.Requests, Request{DocumentID: a.DocumentID, Amount: amt})
	}

	result, err := h.service.Allocate(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveAllocation()
	}
	resp := toPaymentResponse(result.Payment)
	for _, a := range result.Allocations {
		resp.Allocations = append(resp.Allocations, AllocationResponse{DocumentID: a.DocumentID, Amount: a.Amount.String()})
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment id")
		return
	}
	payment, allocs, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := toPaymentResponse(*payment)
	for _, a := range allocs {
		resp.Allocations = append(resp.Allocations, AllocationResponse{DocumentID: a.DocumentID, Amount: a.Amount.String()})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var partyID int64
	if v := q.Get("party_id"); v != "" {
		partyID, _ = strconv.ParseInt(v, 10, 64)
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	payments, err := h.service.ListPayments(r.Context(), partyID, limit)
	if err != nil {
		h.logger.Error("list payments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": out})
}

// respondError adds the allocation-specific mappings before falling
// back to the shared table.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var over *OverAllocationError
	switch {
	case errors.As(err, &over):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Over Allocation", err.Error())
	case errors.Is(err, ErrAdvanceNotAllowed), errors.Is(err, ErrUnknownTarget):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Allocation Rejected", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func toPaymentResponse(p Payment) PaymentResponse {
	return PaymentResponse{
		ID:          p.ID,
		Reference:   p.Reference,
		PartyID:     p.PartyID,
		Currency:    p.Currency,
		Amount:      p.Amount.String(),
		Unallocated: p.Unallocated.String(),
		PaidAt:      p.PaidAt,
		Method:      p.Method,
		Note:        p.Note,
	}
}

// actorFrom resolves the acting user from the upstream gateway header.
func actorFrom(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
