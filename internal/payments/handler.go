package payments

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-crm/meridian/internal/platform/httpx"
)

// Handler manages payment endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments", h.create)
	r.Patch("/payments/{id}", h.update)
	r.Delete("/payments/{id}", h.delete)
	r.Post("/payments/{id}/convert-to-split", h.convertToSplit)
	r.Post("/payments/{id}/convert-to-direct", h.convertToDirect)
	r.Get("/payments/{id}/attribution", h.attribution)
	r.Get("/payments/duplicates", h.duplicates)
}

func paymentID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	payment, allocations, err := h.service.CreatePayment(r.Context(), CreateSpec{
		PledgeID:              req.PledgeID,
		Allocations:           toAllocationSpecs(req.Allocations),
		Amount:                req.Amount,
		Currency:              req.Currency,
		PaymentDate:           req.PaymentDate,
		ReceivedDate:          req.ReceivedDate,
		PaymentPlanID:         req.PaymentPlanID,
		InstallmentScheduleID: req.InstallmentScheduleID,
		IsThirdParty:          req.IsThirdParty,
		PayerContactID:        req.PayerContactID,
		SolicitorID:           req.SolicitorID,
		ReceiptNumber:         req.ReceiptNumber,
		ReceiptType:           req.ReceiptType,
		ReceiptIssued:         req.ReceiptIssued,
	})
	if err != nil {
		h.logger.Error("create payment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPaymentResponse(payment, allocations))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}

	var req updatePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	patch := UpdatePatch{
		Version:        req.Version,
		Amount:         req.Amount,
		Currency:       req.Currency,
		PaymentDate:    req.PaymentDate,
		ReceivedDate:   req.ReceivedDate,
		PledgeID:       req.PledgeID,
		AutoAdjust:     req.AutoAdjust,
		Strategy:       Strategy(req.Strategy),
		IsThirdParty:   req.IsThirdParty,
		PayerContactID: req.PayerContactID,
	}
	if req.Allocations != nil {
		specs := toAllocationSpecs(*req.Allocations)
		patch.Allocations = &specs
	}

	payment, allocations, err := h.service.UpdatePayment(r.Context(), id, patch)
	if err != nil {
		h.logger.Error("update payment", slog.Int64("payment_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentResponse(payment, allocations))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}

	var req deletePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.DeletePayment(r.Context(), id, req.Version); err != nil {
		h.logger.Error("delete payment", slog.Int64("payment_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) convertToSplit(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}

	payment, allocations, err := h.service.ConvertToSplit(r.Context(), id)
	if err != nil {
		h.logger.Error("convert to split", slog.Int64("payment_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentResponse(payment, allocations))
}

func (h *Handler) convertToDirect(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}

	var req convertToDirectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	payment, allocations, err := h.service.ConvertToDirect(r.Context(), id, req.PledgeID)
	if err != nil {
		h.logger.Error("convert to direct", slog.Int64("payment_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentResponse(payment, allocations))
}

func (h *Handler) attribution(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}
	viewerID, err := strconv.ParseInt(r.URL.Query().Get("viewer"), 10, 64)
	if err != nil || viewerID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "viewer query parameter is required")
		return
	}

	attribution, err := h.service.Attribution(r.Context(), id, viewerID)
	if err != nil {
		h.logger.Error("payment attribution", slog.Int64("payment_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAttributionResponse(attribution))
}

func (h *Handler) duplicates(w http.ResponseWriter, r *http.Request) {
	contactID, err := strconv.ParseInt(r.URL.Query().Get("contact_id"), 10, 64)
	if err != nil || contactID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "contact_id query parameter is required")
		return
	}
	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil || amount <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount query parameter is required")
		return
	}

	matches, err := h.service.FindPossibleDuplicates(r.Context(), contactID, date, amount)
	if err != nil {
		h.logger.Error("find duplicate payments", slog.Int64("contact_id", contactID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	out := make([]paymentBody, 0, len(matches))
	for i := range matches {
		out = append(out, toPaymentResponse(&matches[i], nil).Payment)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"matches": out})
}
