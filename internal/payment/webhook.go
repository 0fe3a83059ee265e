package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/restoku/backend-resto/internal/common"
	"github.com/restoku/backend-resto/internal/events"
	"github.com/restoku/backend-resto/internal/obs"
	"github.com/restoku/backend-resto/internal/store"
)

// OrderStatusStore is the slice of the order store the webhook needs.
type OrderStatusStore interface {
	FindByGatewayReference(ctx context.Context, ref string) (store.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status string) error
}

// EventPublisher pushes domain events after a successful status transition.
type EventPublisher interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// Webhook handles asynchronous gateway notifications. Notifications never
// finalize orders on their own; they only update orders a client already
// finalized. Unknown references are acknowledged and dropped so the gateway
// stops retrying.
type Webhook struct {
	Orders    OrderStatusStore
	Providers map[string]Provider
	Replay    *redis.Client
	ReplayTTL time.Duration
	Events    EventPublisher
}

// Handle processes a callback for the provider named in the URL.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil || h.Providers == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	provider, ok := h.Providers[providerKey]
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	outcome := "error"
	defer func() {
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(providerKey, outcome).Inc()
		}
	}()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	result, err := provider.VerifyWebhook(r, body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	if !result.Valid {
		outcome = "rejected"
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	ctx := r.Context()
	if h.Replay != nil && h.ReplayTTL > 0 {
		key := fmt.Sprintf("wh:%s:%s", providerKey, common.Sha256Hex(string(body)))
		fresh, err := h.Replay.SetNX(ctx, key, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !fresh {
			outcome = "replay"
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}

	status, topic := mapWebhookStatus(result.Status)
	if status == "" {
		// Pending and informational events carry no transition.
		outcome = "ignored"
		common.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	order, err := h.Orders.FindByGatewayReference(ctx, result.Reference.ID)
	if err != nil {
		if store.IsNotFound(err) {
			// The client has not finalized yet; settlement verification will
			// pick the state up when it does.
			outcome = "unmatched"
			common.JSON(w, http.StatusOK, map[string]string{"status": "accepted"})
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "ORDER_FETCH_ERROR", err.Error(), nil)
		return
	}
	if order.PaymentStatus == status {
		outcome = "noop"
		common.JSON(w, http.StatusOK, map[string]string{"status": "unchanged"})
		return
	}
	if err := h.Orders.UpdateStatus(ctx, order.ID, status); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ORDER_UPDATE_ERROR", err.Error(), nil)
		return
	}
	if h.Events != nil && topic != "" {
		_, _ = h.Events.Emit(ctx, topic, order.ID, map[string]any{
			"order_number": order.OrderNumber,
			"status":       status,
			"amount":       result.Amount,
		})
	}
	outcome = "updated"
	common.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func mapWebhookStatus(status string) (storeStatus, topic string) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case StatusPaid:
		return store.PaymentStatusPaid, events.TopicOrderPaid
	case StatusFailed:
		return store.PaymentStatusFailed, events.TopicPaymentFailed
	case StatusExpired:
		return store.PaymentStatusExpired, events.TopicPaymentExpired
	default:
		return "", ""
	}
}
