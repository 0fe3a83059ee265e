package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/restoku/backend-resto/internal/common"
	"github.com/restoku/backend-resto/internal/payment"
)

// Handler exposes the checkout endpoints consumed by the storefront UI.
type Handler struct {
	Svc        *Service
	Settlement *payment.Service
}

// CreateSession handles POST /checkout/session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, func(userID string, in Draft) (any, error) {
		return h.Svc.CreateSession(r.Context(), userID, in)
	})
}

// CreateIntent handles POST /checkout/intent.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, func(userID string, in Draft) (any, error) {
		return h.Svc.CreateIntent(r.Context(), userID, in)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, run func(string, Draft) (any, error)) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var payload Draft
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid payload", nil)
		return
	}
	out, err := run(userID, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// GetSettlement handles GET /checkout/settlement/{kind}/{ref}. The response
// reports the gateway's authoritative status; the UI decides whether to
// proceed to finalization.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	if h.Settlement == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "settlement service not configured", nil)
		return
	}
	kind, ok := parseRefKind(chi.URLParam(r, "kind"))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "kind must be session or intent", nil)
		return
	}
	ref := strings.TrimSpace(chi.URLParam(r, "ref"))
	if ref == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "reference is required", nil)
		return
	}
	st, err := h.Settlement.Verify(r.Context(), payment.SettlementReference{Kind: kind, ID: ref})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"status":      st.Status,
		"amountCents": st.AmountCents,
		"paid":        st.Paid(),
	}})
}

func parseRefKind(raw string) (payment.RefKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "session":
		return payment.RefSession, true
	case "intent":
		return payment.RefIntent, true
	default:
		return "", false
	}
}

func writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unknown error", nil)
		return
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = common.CodeInternal
		}
		common.JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unexpected error", nil)
}
