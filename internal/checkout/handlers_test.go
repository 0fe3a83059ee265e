package checkout

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/restoku/backend-resto/internal/common"
	"github.com/restoku/backend-resto/internal/payment"
)

func newTestRouter(h *Handler, userID string) http.Handler {
	r := chi.NewRouter()
	if userID != "" {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(common.WithUserID(req.Context(), userID)))
			})
		})
	}
	r.Post("/checkout/session", h.CreateSession)
	r.Post("/checkout/intent", h.CreateIntent)
	r.Get("/checkout/settlement/{kind}/{ref}", h.GetSettlement)
	return r
}

func TestCreateSessionEndpoint(t *testing.T) {
	mock := payment.NewMock()
	h := &Handler{Svc: newService(mock), Settlement: &payment.Service{Provider: mock, ProviderName: "mock"}}
	router := newTestRouter(h, "user-1")

	body := `{"items":[{"name":"Sate","unitPrice":12.5,"quantity":2}],"pickupDate":"2026-09-01","pickupTime":"12:30"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout/session", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data SessionOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.SessionID)
	require.Equal(t, int64(2500), resp.Data.AmountCents)
}

func TestCreateSessionRequiresAuth(t *testing.T) {
	h := &Handler{Svc: newService(payment.NewMock())}
	router := newTestRouter(h, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout/session", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateSessionRejectsEmptyCart(t *testing.T) {
	h := &Handler{Svc: newService(payment.NewMock())}
	router := newTestRouter(h, "user-1")

	body := `{"items":[],"pickupDate":"2026-09-01","pickupTime":"12:30"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout/session", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, common.CodeValidation, resp.Error.Code)
}

func TestGetSettlementEndpoint(t *testing.T) {
	mock := payment.NewMock()
	mock.SetSettlement("cs_done", payment.Settlement{Status: payment.StatusPaid, AmountCents: 2500})
	h := &Handler{Svc: newService(mock), Settlement: &payment.Service{Provider: mock, ProviderName: "mock"}}
	router := newTestRouter(h, "user-1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/settlement/session/cs_done", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Status      string `json:"status"`
			AmountCents int64  `json:"amountCents"`
			Paid        bool   `json:"paid"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Data.Paid)
	require.Equal(t, int64(2500), resp.Data.AmountCents)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/settlement/redirect/cs_done", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
