package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/restoku/backend-resto/internal/events"
	"github.com/restoku/backend-resto/internal/resilience"
)

// Telegram sends order notifications to the staff chat via the Bot API.
type Telegram struct {
	Token   string
	ChatID  string
	BaseURL string
	HTTP    resilience.HTTPClient
}

const defaultTelegramBaseURL = "https://api.telegram.org"

// Notify implements events.Notifier for inline delivery without a queue.
func (t *Telegram) Notify(ctx context.Context, event events.Event) error {
	return t.SendEvent(ctx, event.Topic, event.Payload)
}

// SendEvent formats a domain event into a staff message and sends it.
func (t *Telegram) SendEvent(ctx context.Context, topic string, payload []byte) error {
	text := formatMessage(topic, payload)
	if text == "" {
		return nil
	}
	return t.Send(ctx, text)
}

// Send posts one message to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if t == nil || t.Token == "" || t.ChatID == "" {
		return nil
	}
	base := strings.TrimRight(t.BaseURL, "/")
	if base == "" {
		base = defaultTelegramBaseURL
	}
	form := url.Values{}
	form.Set("chat_id", t.ChatID)
	form.Set("text", text)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		base+"/bot"+t.Token+"/sendMessage", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := t.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return errors.New("telegram: " + resp.Status)
	}
	return nil
}

func formatMessage(topic string, payload []byte) string {
	var fields struct {
		OrderNumber string `json:"order_number"`
		Total       int64  `json:"total"`
		Status      string `json:"status"`
	}
	_ = json.Unmarshal(payload, &fields)
	number := fields.OrderNumber
	if number == "" {
		number = "(unknown)"
	}
	switch topic {
	case events.TopicOrderCreated:
		return fmt.Sprintf("New order %s, total %s", number, formatCents(fields.Total))
	case events.TopicOrderPaid:
		return fmt.Sprintf("Order %s paid, total %s", number, formatCents(fields.Total))
	case events.TopicPaymentFailed:
		return fmt.Sprintf("Payment failed for order %s", number)
	case events.TopicOrderReady:
		return fmt.Sprintf("Order %s is ready for pickup", number)
	case events.TopicOrderPickedUp:
		return fmt.Sprintf("Order %s picked up", number)
	case events.TopicOrderCanceled:
		return fmt.Sprintf("Order %s canceled", number)
	default:
		return ""
	}
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
