package bonus

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-crm/meridian/internal/platform/httpx"
)

// Handler manages solicitor bonus endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers bonus routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments/{id}/solicitor", h.assignSolicitor)
	r.Post("/payments/{id}/recalculate-bonus", h.recalculate)
	r.Post("/bonus-calculations/{id}/mark-paid", h.markPaid)
}

type assignSolicitorRequest struct {
	SolicitorID int64 `json:"solicitor_id" validate:"required,gt=0"`
}

func (h *Handler) assignSolicitor(w http.ResponseWriter, r *http.Request) {
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}

	var req assignSolicitorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	calc, err := h.service.AssignSolicitor(r.Context(), paymentID, req.SolicitorID)
	if err != nil {
		h.logger.Error("assign solicitor", slog.Int64("payment_id", paymentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if calc == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusOK, calc)
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}

	calc, err := h.service.Recalculate(r.Context(), paymentID)
	if err != nil {
		h.logger.Error("recalculate bonus", slog.Int64("payment_id", paymentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if calc == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusOK, calc)
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	calcID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid calculation id")
		return
	}

	calc, err := h.service.MarkPaid(r.Context(), calcID)
	if err != nil {
		h.logger.Error("mark bonus paid", slog.Int64("calculation_id", calcID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, calc)
}
