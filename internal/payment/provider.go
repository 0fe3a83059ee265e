package payment

import (
	"context"
	"net/http"
)

// RefKind distinguishes the two gateway object flavours a checkout can produce.
type RefKind string

const (
	// RefSession identifies a hosted, redirect-based checkout session.
	RefSession RefKind = "session"
	// RefIntent identifies an embedded payment intent confirmed in-page.
	RefIntent RefKind = "intent"
)

// SettlementReference points at the gateway object that owns the authoritative
// settlement record. Both payment flows converge on this type so the order
// finalizer is written once against it.
type SettlementReference struct {
	Kind RefKind
	ID   string
}

// Normalised settlement statuses.
const (
	StatusPaid    = "PAID"
	StatusPending = "PENDING"
	StatusFailed  = "FAILED"
	StatusExpired = "EXPIRED"
)

// Settlement is the gateway's authoritative answer to "was this paid".
type Settlement struct {
	Status      string
	AmountCents int64
}

// Paid reports whether money was actually captured.
func (s Settlement) Paid() bool { return s.Status == StatusPaid }

// LineItem is one normalised, already-discounted line forwarded to the gateway.
type LineItem struct {
	Name            string
	UnitAmountCents int64
	Quantity        int
}

// SessionRequest captures everything required to open a session or intent.
type SessionRequest struct {
	LineItems      []LineItem
	AmountCents    int64
	Currency       string
	CustomerEmail  string
	IdempotencyKey string
	SuccessURL     string
	CancelURL      string
}

// SessionResponse is the client-facing handle for the hosted flow.
type SessionResponse struct {
	SessionID   string
	RedirectURL string
}

// IntentResponse is the client-facing handle for the embedded flow.
type IntentResponse struct {
	IntentID     string
	ClientSecret string
}

// WebhookVerifyResult contains the normalised data extracted from a webhook
// notification after signature verification.
type WebhookVerifyResult struct {
	Valid     bool
	Reference SettlementReference
	Amount    int64
	Status    string
	Payload   []byte
	Err       error
}

// Provider abstracts the operations required from the upstream payment gateway.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (SessionResponse, error)
	CreateIntent(ctx context.Context, req SessionRequest) (IntentResponse, error)
	GetSettlement(ctx context.Context, ref SettlementReference) (Settlement, error)
	VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error)
}
