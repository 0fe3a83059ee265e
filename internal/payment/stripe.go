package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/restoku/backend-resto/internal/resilience"
)

// Stripe implements Provider against a Stripe-compatible REST API.
type Stripe struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	HTTP          resilience.HTTPClient
	// SignatureTolerance bounds webhook timestamp drift. Zero means 5 minutes.
	SignatureTolerance time.Duration
}

const defaultStripeBaseURL = "https://api.stripe.com"

func (s Stripe) host() string {
	host := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if host == "" {
		return defaultStripeBaseURL
	}
	return host
}

// CreateSession opens a hosted checkout session for the provided lines.
func (s Stripe) CreateSession(ctx context.Context, req SessionRequest) (SessionResponse, error) {
	if len(req.LineItems) == 0 {
		return SessionResponse{}, errors.New("stripe: line items are required")
	}
	form := url.Values{}
	form.Set("mode", "payment")
	if req.SuccessURL != "" {
		form.Set("success_url", req.SuccessURL)
	}
	if req.CancelURL != "" {
		form.Set("cancel_url", req.CancelURL)
	}
	for i, li := range req.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", strings.ToLower(req.Currency))
		form.Set(prefix+"[price_data][product_data][name]", li.Name)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(li.UnitAmountCents, 10))
		form.Set(prefix+"[quantity]", strconv.Itoa(li.Quantity))
	}
	s.attachCustomer(ctx, form, req.CustomerEmail)

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, req.IdempotencyKey, &out); err != nil {
		return SessionResponse{}, err
	}
	return SessionResponse{SessionID: out.ID, RedirectURL: out.URL}, nil
}

// CreateIntent opens an embedded payment intent pre-authorised for the total.
func (s Stripe) CreateIntent(ctx context.Context, req SessionRequest) (IntentResponse, error) {
	if req.AmountCents <= 0 {
		return IntentResponse{}, errors.New("stripe: amount must be positive")
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if email := NormalizeEmail(req.CustomerEmail); email != "" {
		form.Set("receipt_email", email)
	}
	s.attachCustomer(ctx, form, req.CustomerEmail)

	var out struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/payment_intents", form, req.IdempotencyKey, &out); err != nil {
		return IntentResponse{}, err
	}
	return IntentResponse{IntentID: out.ID, ClientSecret: out.ClientSecret}, nil
}

// GetSettlement queries the authoritative settlement state for a reference.
func (s Stripe) GetSettlement(ctx context.Context, ref SettlementReference) (Settlement, error) {
	switch ref.Kind {
	case RefSession:
		var out struct {
			PaymentStatus string `json:"payment_status"`
			AmountTotal   int64  `json:"amount_total"`
		}
		if err := s.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(ref.ID), nil, "", &out); err != nil {
			return Settlement{}, err
		}
		return Settlement{Status: normalizeSessionStatus(out.PaymentStatus), AmountCents: out.AmountTotal}, nil
	case RefIntent:
		var out struct {
			Status         string `json:"status"`
			Amount         int64  `json:"amount"`
			AmountReceived int64  `json:"amount_received"`
		}
		if err := s.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(ref.ID), nil, "", &out); err != nil {
			return Settlement{}, err
		}
		amount := out.AmountReceived
		if amount == 0 {
			amount = out.Amount
		}
		return Settlement{Status: normalizeIntentStatus(out.Status), AmountCents: amount}, nil
	default:
		return Settlement{}, fmt.Errorf("stripe: unknown reference kind %q", ref.Kind)
	}
}

// VerifyWebhook checks the Stripe-Signature header and normalises the event.
func (s Stripe) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	header := strings.TrimSpace(r.Header.Get("Stripe-Signature"))
	ts, signatures := parseSignatureHeader(header)
	if ts == 0 || len(signatures) == 0 {
		return WebhookVerifyResult{Valid: false, Err: errors.New("missing signature")}, nil
	}
	tolerance := s.SignatureTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	drift := time.Since(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		return WebhookVerifyResult{Valid: false, Err: errors.New("signature timestamp outside tolerance")}, nil
	}
	expected := computeWebhookSignature(s.WebhookSecret, ts, body)
	matched := false
	for _, sig := range signatures {
		if expected != "" && hmac.Equal([]byte(expected), []byte(sig)) {
			matched = true
			break
		}
	}
	if !matched {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID            string `json:"id"`
				Object        string `json:"object"`
				AmountTotal   int64  `json:"amount_total"`
				Amount        int64  `json:"amount"`
				PaymentStatus string `json:"payment_status"`
				Status        string `json:"status"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}
	obj := event.Data.Object
	result := WebhookVerifyResult{Valid: true, Payload: body}
	switch obj.Object {
	case "checkout.session":
		result.Reference = SettlementReference{Kind: RefSession, ID: obj.ID}
		result.Status = normalizeSessionStatus(obj.PaymentStatus)
		result.Amount = obj.AmountTotal
	case "payment_intent":
		result.Reference = SettlementReference{Kind: RefIntent, ID: obj.ID}
		result.Status = normalizeIntentStatus(obj.Status)
		result.Amount = obj.Amount
	default:
		return WebhookVerifyResult{Valid: false, Err: fmt.Errorf("unsupported event object %q", obj.Object)}, nil
	}
	return result, nil
}

// attachCustomer resolves a gateway customer for the email and attaches it to
// the form. Lookup-then-create, best effort: any failure falls back to guest
// checkout fields without blocking session creation.
func (s Stripe) attachCustomer(ctx context.Context, form url.Values, email string) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return
	}
	id, err := s.resolveCustomer(ctx, normalized)
	if err != nil || id == "" {
		if form.Get("receipt_email") == "" {
			form.Set("customer_email", normalized)
		}
		return
	}
	form.Set("customer", id)
	form.Del("customer_email")
}

func (s Stripe) resolveCustomer(ctx context.Context, email string) (string, error) {
	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	q := url.Values{}
	q.Set("email", email)
	q.Set("limit", "1")
	if err := s.do(ctx, http.MethodGet, "/v1/customers?"+q.Encode(), nil, "", &list); err != nil {
		return "", err
	}
	if len(list.Data) > 0 {
		return list.Data[0].ID, nil
	}
	form := url.Values{}
	form.Set("email", email)
	var created struct {
		ID string `json:"id"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/customers", form, "", &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (s Stripe) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.host()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(s.SecretKey))
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("stripe: %s (%s)", apiErr.Error.Message, apiErr.Error.Type)
		}
		return fmt.Errorf("stripe: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// NormalizeEmail lowercases and trims an email for gateway customer lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeSessionStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "no_payment_required":
		return StatusPaid
	case "unpaid":
		return StatusPending
	default:
		return StatusPending
	}
}

func normalizeIntentStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded":
		return StatusPaid
	case "processing", "requires_action", "requires_confirmation", "requires_payment_method", "requires_capture":
		return StatusPending
	case "canceled":
		return StatusFailed
	default:
		return StatusPending
	}
}

func parseSignatureHeader(header string) (int64, []string) {
	var ts int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err == nil {
				ts = parsed
			}
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	return ts, signatures
}

func computeWebhookSignature(secret string, ts int64, body []byte) string {
	key := strings.TrimSpace(secret)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
