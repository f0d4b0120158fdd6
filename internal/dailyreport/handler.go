package dailyreport

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Handler exposes daily report endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/open", h.openReport)
	r.Post("/expenses", h.addExpense)
	r.Post("/close", h.closeReport)
	r.Get("/open", h.getOpenReport)
	r.Get("/summary", h.getSummary)
	r.Get("/{id}", h.getReport)
}

type openReportRequest struct {
	BusinessID    int64   `json:"businessId" validate:"required"`
	InitialAmount float64 `json:"initialAmount" validate:"gte=0"`
}

func (h *Handler) openReport(w http.ResponseWriter, r *http.Request) {
	var req openReportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	report, err := h.service.Open(r.Context(), OpenInput{
		BusinessID:    req.BusinessID,
		InitialAmount: req.InitialAmount,
	})
	if err != nil {
		h.logger.Error("open daily report", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, report)
}

type expenseRequest struct {
	BusinessID    int64   `json:"businessId" validate:"required"`
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	Category      string  `json:"category" validate:"required"`
	PaymentMethod string  `json:"paymentMethod"`
	Note          string  `json:"note"`
}

func (h *Handler) addExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	report, err := h.service.AddExpense(r.Context(), ExpenseInput{
		BusinessID:    req.BusinessID,
		Amount:        req.Amount,
		Category:      req.Category,
		PaymentMethod: req.PaymentMethod,
		Note:          req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

type closeReportRequest struct {
	BusinessID   int64   `json:"businessId" validate:"required"`
	FinalAmount  float64 `json:"finalAmount" validate:"gte=0"`
	ClosingNotes string  `json:"closingNotes"`
}

func (h *Handler) closeReport(w http.ResponseWriter, r *http.Request) {
	var req closeReportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	report, err := h.service.Close(r.Context(), CloseInput{
		BusinessID:   req.BusinessID,
		FinalAmount:  req.FinalAmount,
		ClosingNotes: req.ClosingNotes,
	})
	if err != nil {
		h.logger.Error("close daily report", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) getOpenReport(w http.ResponseWriter, r *http.Request) {
	businessID, err := queryBusinessID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid business_id")
		return
	}
	report, err := h.service.GetOpenReport(r.Context(), businessID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	businessID, err := queryBusinessID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid business_id")
		return
	}
	summary, err := h.service.Summary(r.Context(), businessID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	var id int64
	if _, err := fmt.Sscan(chi.URLParam(r, "id"), &id); err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid report id")
		return
	}
	report, err := h.service.GetReport(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func queryBusinessID(r *http.Request) (int64, error) {
	var id int64
	if _, err := fmt.Sscan(r.URL.Query().Get("business_id"), &id); err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("non-positive business id")
	}
	return id, nil
}
