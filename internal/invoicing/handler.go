package invoicing

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/tax"
)

// Handler exposes invoice endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createInvoice)
	r.Get("/", h.listInvoices)
	r.Get("/{id}", h.getInvoice)
	r.Post("/{id}/payments", h.addPayment)
	r.Post("/{id}/cancel", h.cancelInvoice)
}

type createInvoiceRequest struct {
	BusinessID int64  `json:"businessId" validate:"required"`
	Customer   struct {
		Name    string `json:"name" validate:"required"`
		Contact string `json:"contact"`
		TaxID   string `json:"taxId"`
	} `json:"customer" validate:"required"`
	Items []struct {
		ProductID int64   `json:"productId" validate:"required"`
		Quantity  float64 `json:"quantity" validate:"required,gt=0"`
		UnitPrice float64 `json:"unitPrice" validate:"gte=0"`
		Discount  float64 `json:"discount" validate:"gte=0"`
	} `json:"items" validate:"required,min=1,dive"`
	PaymentMethod string     `json:"paymentMethod" validate:"required,oneof=cash card transfer credit"`
	CashReceived  float64    `json:"cashReceived" validate:"gte=0"`
	Taxes         []tax.Rate `json:"taxes"`
	Fiscal        bool       `json:"fiscal"`
	DueAt         *time.Time `json:"dueAt"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateInvoiceInput{
		BusinessID: req.BusinessID,
		Customer: CustomerSnapshot{
			Name:    req.Customer.Name,
			Contact: req.Customer.Contact,
			TaxID:   req.Customer.TaxID,
		},
		Method:       PaymentMethod(req.PaymentMethod),
		CashReceived: req.CashReceived,
		Taxes:        req.Taxes,
		Fiscal:       req.Fiscal,
		DueAt:        req.DueAt,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Discount:  item.Discount,
		})
	}

	inv, err := h.service.CreateInvoice(r.Context(), input)
	if err != nil {
		h.logger.Error("create invoice", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type invoiceListResponse struct {
	Data       []Invoice         `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status: Status(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("business_id"); v != "" {
		if _, err := fmt.Sscan(v, &filter.BusinessID); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid business_id")
			return
		}
	}
	if v := r.URL.Query().Get("page"); v != "" {
		if _, err := fmt.Sscan(v, &filter.Page); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid page")
			return
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if _, err := fmt.Sscan(v, &filter.PerPage); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid per_page")
			return
		}
	}
	invoices, page, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		h.logger.Error("list invoices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceListResponse{Data: invoices, Pagination: page})
}

type paymentRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inv, err := h.service.AddPayment(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inv, err := h.service.CancelInvoice(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}
