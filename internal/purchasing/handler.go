package purchasing

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/tax"
)

// Handler exposes credit purchase endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers purchase routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createPurchase)
	r.Get("/{id}", h.getPurchase)
	r.Put("/{id}", h.updatePurchase)
	r.Delete("/{id}", h.deletePurchase)
	r.Post("/{id}/payments", h.addPayment)
	r.Get("/supplier/{supplierID}", h.listBySupplier)
	r.Post("/supplier/{supplierID}/reconcile", h.reconcileSupplier)
}

type createPurchaseRequest struct {
	BusinessID int64 `json:"businessId" validate:"required"`
	SupplierID int64 `json:"supplierId" validate:"required"`
	Items      []struct {
		ProductID int64   `json:"productId" validate:"required"`
		Quantity  float64 `json:"quantity" validate:"required,gt=0"`
		UnitCost  float64 `json:"unitCost" validate:"gte=0"`
	} `json:"items" validate:"required,min=1,dive"`
	Discount float64    `json:"discount" validate:"gte=0"`
	Taxes    []tax.Rate `json:"taxes"`
	Detail   string     `json:"detail"`
	DueAt    *time.Time `json:"dueAt"`
}

func (h *Handler) createPurchase(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateInput{
		BusinessID: req.BusinessID,
		SupplierID: req.SupplierID,
		Discount:   req.Discount,
		Taxes:      req.Taxes,
		Detail:     req.Detail,
		DueAt:      req.DueAt,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitCost:  item.UnitCost,
		})
	}

	p, err := h.service.CreatePurchase(r.Context(), input)
	if err != nil {
		h.logger.Error("create purchase", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) getPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPurchase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

type updatePurchaseRequest struct {
	Total  *float64   `json:"total" validate:"omitempty,gte=0"`
	Detail *string    `json:"detail"`
	DueAt  *time.Time `json:"dueAt"`
}

func (h *Handler) updatePurchase(w http.ResponseWriter, r *http.Request) {
	var req updatePurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, err := h.service.UpdatePurchase(r.Context(), chi.URLParam(r, "id"), UpdateInput{
		Total:  req.Total,
		Detail: req.Detail,
		DueAt:  req.DueAt,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) deletePurchase(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePurchase(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type purchasePaymentRequest struct {
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Method    string  `json:"method" validate:"required"`
	Reference string  `json:"reference"`
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	var req purchasePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, err := h.service.AddPayment(r.Context(), chi.URLParam(r, "id"), PaymentInput{
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) listBySupplier(w http.ResponseWriter, r *http.Request) {
	supplierID, err := parseID(chi.URLParam(r, "supplierID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid supplier id")
		return
	}
	purchases, err := h.service.ListBySupplier(r.Context(), supplierID)
	if err != nil {
		h.logger.Error("list purchases", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchases)
}

func (h *Handler) reconcileSupplier(w http.ResponseWriter, r *http.Request) {
	supplierID, err := parseID(chi.URLParam(r, "supplierID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid supplier id")
		return
	}
	result, err := h.service.ReconcileSupplierDebt(r.Context(), supplierID)
	if err != nil {
		h.logger.Error("reconcile supplier debt", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseID(raw string) (int64, error) {
	var id int64
	if _, err := fmt.Sscan(raw, &id); err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("non-positive id")
	}
	return id, nil
}
