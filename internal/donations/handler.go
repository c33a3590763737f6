package donations

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-crm/meridian/internal/platform/httpx"
)

// Handler manages manual donation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers donation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/donations", h.create)
	r.Get("/donations/{id}", h.get)
	r.Delete("/donations/{id}", h.delete)
}

type createDonationRequest struct {
	ContactID    int64     `json:"contact_id" validate:"required,gt=0"`
	Amount       float64   `json:"amount" validate:"required,gt=0"`
	Currency     string    `json:"currency" validate:"required,len=3"`
	DonationDate time.Time `json:"donation_date" validate:"required"`
	SolicitorID  *int64    `json:"solicitor_id,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createDonationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	donation, err := h.service.Create(r.Context(), CreateSpec{
		ContactID:    req.ContactID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		DonationDate: req.DonationDate,
		SolicitorID:  req.SolicitorID,
		Notes:        req.Notes,
	})
	if err != nil {
		h.logger.Error("create donation", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, donation)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid donation id")
		return
	}

	donation, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, donation)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid donation id")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.logger.Error("delete donation", slog.Int64("donation_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
