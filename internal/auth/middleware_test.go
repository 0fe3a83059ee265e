package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/restoku/backend-resto/internal/common"
)

func signedToken(t *testing.T, secret []byte, subject string, expires time.Time) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Issuer("resto-auth").
		Audience([]string{"resto-api"}).
		Subject(subject).
		IssuedAt(time.Now()).
		Expiration(expires).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, secret))
	require.NoError(t, err)
	return string(signed)
}

func newAuthMiddleware() Middleware {
	return Middleware{
		Service: &Service{
			Secret:    []byte("test-secret-key"),
			Algorithm: jwa.HS256,
			Validator: TokenValidator{
				Issuer:    "resto-auth",
				Audience:  "resto-api",
				ClockSkew: time.Second,
				Algorithm: jwa.HS256,
			},
		},
		AccessCookie: "access_token",
	}
}

func TestRequireAuthAcceptsValidBearer(t *testing.T) {
	m := newAuthMiddleware()
	var gotUser string
	handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = common.UserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, []byte("test-secret-key"), "user-77", time.Now().Add(time.Minute)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-77", gotUser)
}

func TestRequireAuthReadsAccessCookie(t *testing.T) {
	m := newAuthMiddleware()
	handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: signedToken(t, []byte("test-secret-key"), "user-77", time.Now().Add(time.Minute))})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	m := newAuthMiddleware()
	handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthRejectsExpiredToken(t *testing.T) {
	m := newAuthMiddleware()
	handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, []byte("test-secret-key"), "user-77", time.Now().Add(-time.Hour)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthRejectsWrongKey(t *testing.T) {
	m := newAuthMiddleware()
	handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, []byte("another-secret!!"), "user-77", time.Now().Add(time.Minute)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateIsOptional(t *testing.T) {
	m := newAuthMiddleware()
	var sawUser bool
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawUser = common.UserID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/menu", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, sawUser)
}
