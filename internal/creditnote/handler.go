package creditnote

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Handler exposes credit note endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers credit note routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createCreditNote)
	r.Get("/{id}", h.getCreditNote)
	r.Post("/{id}/cancel", h.cancelCreditNote)
	r.Get("/invoice/{invoiceID}", h.listByInvoice)
}

type createCreditNoteRequest struct {
	InvoiceID string `json:"invoiceId" validate:"required"`
	Items     []struct {
		ProductID int64   `json:"productId" validate:"required"`
		Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	} `json:"items" validate:"required,min=1,dive"`
	Reason       string `json:"reason" validate:"required,oneof=product_return defective_product price_error other"`
	Detail       string `json:"detail"`
	RefundMethod string `json:"refundMethod" validate:"required,oneof=cash card_reversal store_credit transfer"`
	Fiscal       bool   `json:"fiscal"`
}

func (h *Handler) createCreditNote(w http.ResponseWriter, r *http.Request) {
	var req createCreditNoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateInput{
		InvoiceID:    req.InvoiceID,
		Reason:       req.Reason,
		Detail:       req.Detail,
		RefundMethod: RefundMethod(req.RefundMethod),
		Fiscal:       req.Fiscal,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	note, err := h.service.CreateCreditNote(r.Context(), input)
	if err != nil {
		h.logger.Error("create credit note", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, note)
}

func (h *Handler) getCreditNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.service.GetCreditNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

type cancelNoteRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) cancelCreditNote(w http.ResponseWriter, r *http.Request) {
	var req cancelNoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	note, err := h.service.CancelCreditNote(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) listByInvoice(w http.ResponseWriter, r *http.Request) {
	notes, err := h.service.ListByInvoice(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		h.logger.Error("list credit notes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, notes)
}
