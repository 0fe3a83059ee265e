package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restoku/backend-resto/internal/resilience"
)

func newStripe(t *testing.T, handler http.Handler) (Stripe, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return Stripe{
		SecretKey:     "sk_test_abc",
		WebhookSecret: "whsec_test",
		BaseURL:       srv.URL,
		HTTP:          resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
	}, srv
}

func TestStripeCreateSessionSendsFormAndIdempotencyKey(t *testing.T) {
	var captured *http.Request
	var form map[string][]string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/customers", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `{"data":[{"id":"cus_123"}]}`)
			return
		}
		fmt.Fprint(w, `{"id":"cus_new"}`)
	})
	mux.HandleFunc("/v1/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		captured = r
		form = r.PostForm
		fmt.Fprint(w, `{"id":"cs_123","url":"https://pay.example/cs_123"}`)
	})
	s, _ := newStripe(t, mux)

	resp, err := s.CreateSession(context.Background(), SessionRequest{
		LineItems: []LineItem{
			{Name: "Nasi Goreng", UnitAmountCents: 2500, Quantity: 2},
			{Name: "Es Teh", UnitAmountCents: 500, Quantity: 1},
		},
		AmountCents:    5500,
		Currency:       "USD",
		CustomerEmail:  "  Diner@Example.COM ",
		IdempotencyKey: "attempt-key-1",
		SuccessURL:     "https://shop.example/done",
		CancelURL:      "https://shop.example/cancel",
	})
	require.NoError(t, err)
	require.Equal(t, "cs_123", resp.SessionID)
	require.Equal(t, "https://pay.example/cs_123", resp.RedirectURL)

	require.Equal(t, "Bearer sk_test_abc", captured.Header.Get("Authorization"))
	require.Equal(t, "attempt-key-1", captured.Header.Get("Idempotency-Key"))
	require.Equal(t, "payment", form["mode"][0])
	require.Equal(t, "usd", form["line_items[0][price_data][currency]"][0])
	require.Equal(t, "2500", form["line_items[0][price_data][unit_amount]"][0])
	require.Equal(t, "2", form["line_items[0][quantity]"][0])
	require.Equal(t, "Es Teh", form["line_items[1][price_data][product_data][name]"][0])
	require.Equal(t, "cus_123", form["customer"][0])
	require.Empty(t, form["customer_email"])
}

func TestStripeCustomerLookupFailureFallsBackToGuest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/customers", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	})
	var form map[string][]string
	mux.HandleFunc("/v1/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		fmt.Fprint(w, `{"id":"cs_9","url":"u"}`)
	})
	s, _ := newStripe(t, mux)

	_, err := s.CreateSession(context.Background(), SessionRequest{
		LineItems:     []LineItem{{Name: "Soto", UnitAmountCents: 1200, Quantity: 1}},
		Currency:      "usd",
		CustomerEmail: "diner@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, "diner@example.com", form["customer_email"][0])
}

func TestStripeCreateIntent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/customers", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	})
	mux.HandleFunc("/v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "4200", r.PostForm.Get("amount"))
		require.Equal(t, "usd", r.PostForm.Get("currency"))
		fmt.Fprint(w, `{"id":"pi_7","client_secret":"pi_7_secret"}`)
	})
	s, _ := newStripe(t, mux)

	resp, err := s.CreateIntent(context.Background(), SessionRequest{AmountCents: 4200, Currency: "USD"})
	require.NoError(t, err)
	require.Equal(t, "pi_7", resp.IntentID)
	require.Equal(t, "pi_7_secret", resp.ClientSecret)

	_, err = s.CreateIntent(context.Background(), SessionRequest{AmountCents: 0})
	require.Error(t, err)
}

func TestStripeGetSettlementStatusMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/checkout/sessions/cs_paid", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"payment_status":"paid","amount_total":9900}`)
	})
	mux.HandleFunc("/v1/checkout/sessions/cs_open", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"payment_status":"unpaid","amount_total":9900}`)
	})
	mux.HandleFunc("/v1/payment_intents/pi_done", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"succeeded","amount":5000,"amount_received":5000}`)
	})
	mux.HandleFunc("/v1/payment_intents/pi_gone", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"canceled","amount":5000}`)
	})
	s, _ := newStripe(t, mux)
	ctx := context.Background()

	st, err := s.GetSettlement(ctx, SettlementReference{Kind: RefSession, ID: "cs_paid"})
	require.NoError(t, err)
	require.True(t, st.Paid())
	require.Equal(t, int64(9900), st.AmountCents)

	st, err = s.GetSettlement(ctx, SettlementReference{Kind: RefSession, ID: "cs_open"})
	require.NoError(t, err)
	require.Equal(t, StatusPending, st.Status)

	st, err = s.GetSettlement(ctx, SettlementReference{Kind: RefIntent, ID: "pi_done"})
	require.NoError(t, err)
	require.True(t, st.Paid())

	st, err = s.GetSettlement(ctx, SettlementReference{Kind: RefIntent, ID: "pi_gone"})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, st.Status)

	_, err = s.GetSettlement(ctx, SettlementReference{Kind: "redirect", ID: "x"})
	require.Error(t, err)
}

func TestStripeErrorEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"message":"Your card was declined.","type":"card_error"}}`)
	})
	s, _ := newStripe(t, mux)

	_, err := s.GetSettlement(context.Background(), SettlementReference{Kind: RefIntent, ID: "pi_bad"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "card was declined")
}

func signStripe(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestStripeVerifyWebhook(t *testing.T) {
	s := Stripe{WebhookSecret: "whsec_test"}
	body := []byte(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","amount_total":7200,"payment_status":"paid"}}}`)
	now := time.Now().Unix()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment/stripe", strings.NewReader(string(body)))
	req.Header.Set("Stripe-Signature", "t="+strconv.FormatInt(now, 10)+",v1="+signStripe("whsec_test", now, body))
	res, err := s.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, RefSession, res.Reference.Kind)
	require.Equal(t, "cs_1", res.Reference.ID)
	require.Equal(t, StatusPaid, res.Status)
	require.Equal(t, int64(7200), res.Amount)

	// wrong secret
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	req.Header.Set("Stripe-Signature", "t="+strconv.FormatInt(now, 10)+",v1="+signStripe("other", now, body))
	res, err = s.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.False(t, res.Valid)

	// stale timestamp
	old := now - int64((10 * time.Minute).Seconds())
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	req.Header.Set("Stripe-Signature", "t="+strconv.FormatInt(old, 10)+",v1="+signStripe("whsec_test", old, body))
	res, err = s.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.False(t, res.Valid)

	// missing header
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	res, err = s.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.False(t, res.Valid)
}

func TestStripeVerifyWebhookIntentObject(t *testing.T) {
	s := Stripe{WebhookSecret: "whsec_test"}
	body := []byte(`{"type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","object":"payment_intent","amount":3100,"status":"canceled"}}}`)
	now := time.Now().Unix()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	req.Header.Set("Stripe-Signature", "t="+strconv.FormatInt(now, 10)+",v1="+signStripe("whsec_test", now, body))

	res, err := s.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, RefIntent, res.Reference.Kind)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, int64(3100), res.Amount)
}
