package order

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/restoku/backend-resto/internal/common"
	"github.com/restoku/backend-resto/internal/events"
	"github.com/restoku/backend-resto/internal/store"
)

// StatusStore is the slice of the order store used by staff endpoints.
type StatusStore interface {
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status string) error
}

// AdminHandler exposes staff-only order mutations. Checkout never touches an
// order after finalization; every later transition goes through here.
type AdminHandler struct {
	Store  StatusStore
	Events EventPublisher
}

type statusPayload struct {
	Status string `json:"status"`
}

var allowedStatuses = map[string]string{
	store.PaymentStatusPending: "",
	store.PaymentStatusPaid:    events.TopicOrderPaid,
	store.PaymentStatusFailed:  events.TopicPaymentFailed,
	store.PaymentStatusExpired: events.TopicPaymentExpired,
	store.StatusReady:          events.TopicOrderReady,
	store.StatusPickedUp:       events.TopicOrderPickedUp,
	store.StatusCanceled:       events.TopicOrderCanceled,
}

// UpdateStatus handles PATCH /admin/orders/{orderId}/status.
func (h *AdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order store not configured", nil)
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid order id", nil)
		return
	}
	var payload statusPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid payload", nil)
		return
	}
	topic, ok := allowedStatuses[payload.Status]
	if !ok {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "unsupported status", map[string]any{"status": payload.Status})
		return
	}
	if err := h.Store.UpdateStatus(r.Context(), orderID, payload.Status); err != nil {
		if store.IsNotFound(err) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "failed to update order", nil)
		return
	}
	if h.Events != nil && topic != "" {
		_, _ = h.Events.Emit(r.Context(), topic, orderID, map[string]any{"status": payload.Status})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{
		"id":     orderID.String(),
		"status": payload.Status,
	}})
}
