package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/restoku/backend-resto/internal/common"
	"github.com/restoku/backend-resto/internal/obs"
)

// Service is the single authority on whether a checkout attempt was paid.
// Every finalization path must pass through VerifyPaid before an order is
// persisted; webhook notifications alone never finalize anything.
type Service struct {
	Provider     Provider
	ProviderName string
}

// Verify fetches the authoritative settlement state for the reference.
func (s *Service) Verify(ctx context.Context, ref SettlementReference) (Settlement, error) {
	var zero Settlement
	if s == nil || s.Provider == nil {
		return zero, errors.New("payment service not configured")
	}
	if ref.ID == "" {
		return zero, common.ValidationError("settlement reference is required")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Verify")
	defer span.End()

	start := time.Now()
	status := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", s.name()),
			attribute.String("settlement.kind", string(ref.Kind)),
			attribute.String("settlement.status", status),
			attribute.Float64("settlement.duration_ms", obs.DurationMillis(time.Since(start))),
		)
		if obs.SettlementVerifyTotal != nil {
			obs.SettlementVerifyTotal.WithLabelValues(string(ref.Kind), status).Inc()
		}
	}()

	st, err := s.Provider.GetSettlement(ctx, ref)
	if err != nil {
		return zero, fmt.Errorf("settlement lookup: %w", err)
	}
	status = normaliseLabel(st.Status)
	return st, nil
}

// VerifyPaid confirms money was captured for the reference. A non-paid status
// or an amount below the expected total yields SETTLEMENT_NOT_CONFIRMED.
func (s *Service) VerifyPaid(ctx context.Context, ref SettlementReference, expectedCents int64) (Settlement, error) {
	st, err := s.Verify(ctx, ref)
	if err != nil {
		return Settlement{}, err
	}
	if !st.Paid() {
		return st, common.SettlementNotConfirmedError(st.Status)
	}
	if expectedCents > 0 && st.AmountCents > 0 && st.AmountCents < expectedCents {
		return st, common.SettlementNotConfirmedError("AMOUNT_MISMATCH")
	}
	return st, nil
}

func (s *Service) name() string {
	if s == nil || s.ProviderName == "" {
		return "unknown"
	}
	return normaliseLabel(s.ProviderName)
}

func normaliseLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}
