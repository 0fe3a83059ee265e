package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/restoku/backend-resto/internal/checkout"
	"github.com/restoku/backend-resto/internal/common"
	"github.com/restoku/backend-resto/internal/money"
	"github.com/restoku/backend-resto/internal/payment"
	"github.com/restoku/backend-resto/internal/store"
)

// Query is the read-side slice of the order store used by the HTTP handlers.
type Query interface {
	GetByIDForUser(ctx context.Context, orderID uuid.UUID, userID string) (store.Order, error)
	ListForUser(ctx context.Context, userID string, limit, offset int32) ([]store.Order, error)
	CountForUser(ctx context.Context, userID string) (int64, error)
	ListLineItems(ctx context.Context, orderID uuid.UUID) ([]store.LineItem, error)
}

// Handler exposes order finalization and order history endpoints.
type Handler struct {
	Finalizer *Finalizer
	Checkout  *checkout.Service
	Query     Query
}

type finalizePayload struct {
	Reference struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	} `json:"reference"`
	Draft         checkout.Draft `json:"draft"`
	PaymentMethod string         `json:"paymentMethod"`
}

// Finalize handles POST /checkout/finalize. The draft is re-priced
// server-side; client-reported totals are never persisted as-is.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	if h.Finalizer == nil || h.Checkout == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "finalizer not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var payload finalizePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid payload", nil)
		return
	}
	kind, ok := parseKind(payload.Reference.Kind)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "reference kind must be session or intent", nil)
		return
	}
	prepared, err := h.Checkout.Prepare(userID, payload.Draft)
	if err != nil {
		writeError(w, err)
		return
	}
	req := buildFinalizeRequest(userID, kind, payload, prepared)
	result, err := h.Finalizer.Finalize(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Deduped {
		status = http.StatusOK
	}
	common.JSON(w, status, map[string]any{"data": result})
}

func buildFinalizeRequest(userID string, kind payment.RefKind, payload finalizePayload, prepared checkout.Prepared) FinalizeRequest {
	draft := payload.Draft
	lines := make([]Line, 0, len(draft.Items))
	for i, item := range draft.Items {
		lines = append(lines, Line{
			DishID:              item.ID,
			Name:                item.Name,
			GrossUnitCents:      money.ToCents(item.UnitPrice),
			DiscountedUnitCents: prepared.Snapshot.PerLineUnitCents[i],
			Quantity:            item.Quantity,
			PricingMode:         item.PricingMode,
			WeightGrams:         item.WeightGrams,
		})
	}
	method := payload.PaymentMethod
	if method == "" {
		method = "online"
	}
	return FinalizeRequest{
		UserID:             userID,
		Reference:          payment.SettlementReference{Kind: kind, ID: payload.Reference.ID},
		PickupDate:         draft.PickupDate,
		PickupTime:         draft.PickupTime,
		PaymentMethod:      method,
		Notes:              draft.Notes,
		Lines:              lines,
		GrossCents:         prepared.Snapshot.GrossTotalCents,
		AmountCents:        prepared.Snapshot.DiscountedTotalCents,
		DiscountType:       draft.DiscountType,
		DiscountPercentage: draft.DiscountPercentage,
	}
}

// List handles GET /orders for the authenticated user.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Query == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order store not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	if perPage > 100 {
		perPage = 100
	}
	offset := int32((page - 1) * perPage)
	total, err := h.Query.CountForUser(r.Context(), userID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to count orders", nil)
		return
	}
	orders, err := h.Query.ListForUser(r.Context(), userID, int32(perPage), offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to list orders", nil)
		return
	}
	response := make([]map[string]any, 0, len(orders))
	for _, ord := range orders {
		response = append(response, orderSummary(ord))
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": response,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: int(total),
		},
	})
}

// Get handles GET /orders/{orderId} with line items included.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Query == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order store not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid order id", nil)
		return
	}
	ord, err := h.Query.GetByIDForUser(r.Context(), orderID, userID)
	if err != nil {
		if store.IsNotFound(err) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to load order", nil)
		return
	}
	items, err := h.Query.ListLineItems(r.Context(), ord.ID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to load order items", nil)
		return
	}
	detail := orderSummary(ord)
	lines := make([]map[string]any, 0, len(items))
	for _, it := range items {
		line := map[string]any{
			"name":      it.Name,
			"unitPrice": it.UnitPrice,
			"quantity":  it.Quantity,
			"subtotal":  it.Subtotal,
		}
		if it.DishID.Valid {
			line["dishId"] = uuid.UUID(it.DishID.Bytes).String()
		}
		if it.PricingMode.Valid {
			line["pricingMode"] = it.PricingMode.String
		}
		if it.WeightGrams.Valid {
			line["weightGrams"] = it.WeightGrams.Int32
		}
		lines = append(lines, line)
	}
	detail["items"] = lines
	common.JSON(w, http.StatusOK, map[string]any{"data": detail})
}

func orderSummary(ord store.Order) map[string]any {
	out := map[string]any{
		"id":            ord.ID.String(),
		"orderNumber":   ord.OrderNumber,
		"pickupDate":    ord.PickupDate,
		"pickupTime":    ord.PickupTime,
		"paymentMethod": ord.PaymentMethod,
		"paymentStatus": ord.PaymentStatus,
		"totalAmount":   ord.TotalAmount,
		"createdAt":     ord.CreatedAt.Time,
	}
	if ord.OriginalAmount.Valid {
		out["originalAmount"] = ord.OriginalAmount.Int64
	}
	if ord.DiscountType.Valid {
		out["discountType"] = ord.DiscountType.String
	}
	if ord.DiscountPercentage.Valid {
		out["discountPercentage"] = ord.DiscountPercentage.Int32
	}
	if ord.DiscountAmount.Valid {
		out["discountAmount"] = ord.DiscountAmount.Int64
	}
	if ord.Notes.Valid {
		out["notes"] = ord.Notes.String
	}
	return out
}

func parseKind(raw string) (payment.RefKind, bool) {
	switch raw {
	case "session":
		return payment.RefSession, true
	case "intent":
		return payment.RefIntent, true
	default:
		return "", false
	}
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unexpected error", nil)
}
