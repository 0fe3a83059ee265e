package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
)

// Mock is an in-memory Provider used in development mode and tests. IDs are
// derived deterministically from the idempotency key so repeated calls with
// the same key return the same reference.
type Mock struct {
	mu          sync.Mutex
	settlements map[string]Settlement

	// FailInit forces CreateSession and CreateIntent to error.
	FailInit bool
}

// NewMock returns an empty mock gateway.
func NewMock() *Mock {
	return &Mock{settlements: make(map[string]Settlement)}
}

func mockID(prefix, seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return prefix + "_" + hex.EncodeToString(sum[:8])
}

// CreateSession registers a pending hosted session.
func (m *Mock) CreateSession(_ context.Context, req SessionRequest) (SessionResponse, error) {
	if m.FailInit {
		return SessionResponse{}, errors.New("mock: session init failed")
	}
	id := mockID("cs_test", req.IdempotencyKey)
	m.record(id, Settlement{Status: StatusPending, AmountCents: req.AmountCents})
	return SessionResponse{SessionID: id, RedirectURL: "https://pay.example.test/s/" + id}, nil
}

// CreateIntent registers a pending embedded intent.
func (m *Mock) CreateIntent(_ context.Context, req SessionRequest) (IntentResponse, error) {
	if m.FailInit {
		return IntentResponse{}, errors.New("mock: intent init failed")
	}
	id := mockID("pi_test", req.IdempotencyKey)
	m.record(id, Settlement{Status: StatusPending, AmountCents: req.AmountCents})
	return IntentResponse{IntentID: id, ClientSecret: id + "_secret"}, nil
}

// GetSettlement returns the recorded settlement, pending when unknown.
func (m *Mock) GetSettlement(_ context.Context, ref SettlementReference) (Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.settlements[ref.ID]; ok {
		return st, nil
	}
	return Settlement{Status: StatusPending}, nil
}

// VerifyWebhook accepts bodies signed with an X-Mock-Signature sha256 digest.
func (m *Mock) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	sum := sha256.Sum256(body)
	if r.Header.Get("X-Mock-Signature") != hex.EncodeToString(sum[:]) {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}
	var event struct {
		Kind   RefKind `json:"kind"`
		ID     string  `json:"id"`
		Status string  `json:"status"`
		Amount int64   `json:"amount"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}
	return WebhookVerifyResult{
		Valid:     true,
		Reference: SettlementReference{Kind: event.Kind, ID: event.ID},
		Status:    event.Status,
		Amount:    event.Amount,
		Payload:   body,
	}, nil
}

// SetSettlement overrides the settlement state for a reference.
func (m *Mock) SetSettlement(id string, st Settlement) {
	m.record(id, st)
}

func (m *Mock) record(id string, st Settlement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settlements == nil {
		m.settlements = make(map[string]Settlement)
	}
	m.settlements[id] = st
}
