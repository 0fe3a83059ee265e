package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/restoku/backend-resto/internal/common"
	"github.com/restoku/backend-resto/internal/money"
	"github.com/restoku/backend-resto/internal/obs"
	"github.com/restoku/backend-resto/internal/payment"
	"github.com/restoku/backend-resto/internal/pricing"
)

// CartLine is one client-held cart entry. Prices arrive as JSON numbers or
// strings and are normalised server-side; by_weight items carry the already
// computed per-unit price for the chosen weight.
type CartLine struct {
	ID          string `json:"id"`
	Name        string `json:"name" validate:"required"`
	Category    string `json:"category"`
	UnitPrice   any    `json:"unitPrice" validate:"required"`
	Quantity    int    `json:"quantity" validate:"required,min=1"`
	PricingMode string `json:"pricingMode" validate:"omitempty,oneof=fixed by_weight"`
	WeightGrams *int32 `json:"weightGrams" validate:"omitempty,min=1"`
}

// Draft is the order draft posted by the UI to open a payment session.
type Draft struct {
	Items              []CartLine `json:"items" validate:"required,min=1,dive"`
	PickupDate         string     `json:"pickupDate" validate:"required,datetime=2006-01-02"`
	PickupTime         string     `json:"pickupTime" validate:"required,datetime=15:04"`
	DiscountedTotal    any        `json:"discountedTotal"`
	DiscountType       string     `json:"discountType" validate:"omitempty,oneof=percentage fixed"`
	DiscountPercentage *int32     `json:"discountPercentage" validate:"omitempty,min=1,max=100"`
	CustomerEmail      string     `json:"customerEmail" validate:"omitempty,email"`
	Notes              *string    `json:"notes"`
	IdempotencyKey     string     `json:"idempotencyKey"`
	AttemptToken       string     `json:"attemptToken"`
	SuccessURL         string     `json:"successUrl" validate:"omitempty,url"`
	CancelURL          string     `json:"cancelUrl" validate:"omitempty,url"`
}

// Prepared is the outcome of normalising and pricing a draft, frozen before
// any gateway call.
type Prepared struct {
	Attempt  Attempt
	Snapshot pricing.Snapshot
	Lines    []payment.LineItem
}

// SessionOutput is the client handle for the hosted redirect flow.
type SessionOutput struct {
	SessionID    string `json:"sessionId"`
	RedirectURL  string `json:"redirectUrl"`
	AttemptToken string `json:"attemptToken"`
	AmountCents  int64  `json:"amountCents"`
	GrossCents   int64  `json:"grossCents"`
}

// IntentOutput is the client handle for the embedded card element flow.
type IntentOutput struct {
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret"`
	AttemptToken string `json:"attemptToken"`
	AmountCents  int64  `json:"amountCents"`
	GrossCents   int64  `json:"grossCents"`
}

// Service normalises drafts, allocates discounts and opens gateway sessions.
type Service struct {
	Provider   payment.Provider
	Currency   string
	SuccessURL string
	CancelURL  string
	Validate   *validator.Validate
	Log        zerolog.Logger
}

// NewValidator returns the validator instance used for draft validation.
func NewValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// Prepare validates a draft, converts every amount to integer cents, applies
// the discount allocation and derives the attempt key. Carts whose gross
// total is not positive are rejected here, before any gateway traffic.
func (s *Service) Prepare(userID string, in Draft) (Prepared, error) {
	if err := s.validateDraft(in); err != nil {
		return Prepared{}, err
	}

	plines := make([]pricing.Line, 0, len(in.Items))
	for _, item := range in.Items {
		unit := money.ToCents(item.UnitPrice)
		plines = append(plines, pricing.Line{UnitCents: unit, Qty: item.Quantity})
	}
	gross := pricing.Gross(plines)
	if gross <= 0 {
		return Prepared{}, common.ValidationError("cart total must be positive")
	}

	snap := pricing.Snapshot{
		GrossTotalCents:      gross,
		DiscountedTotalCents: gross,
		PerLineUnitCents:     grossUnits(plines),
	}
	if in.DiscountedTotal != nil {
		target := money.ToCents(in.DiscountedTotal)
		snap = pricing.Allocate(plines, target)
		if snap.Discounted && !snap.Exact(target) && obs.DiscountAllocationResidual != nil {
			obs.DiscountAllocationResidual.Inc()
		}
	}

	gatewayLines := make([]payment.LineItem, 0, len(in.Items))
	itemCount := 0
	for i, item := range in.Items {
		gatewayLines = append(gatewayLines, payment.LineItem{
			Name:            item.Name,
			UnitAmountCents: snap.PerLineUnitCents[i],
			Quantity:        item.Quantity,
		})
		itemCount += item.Quantity
	}

	attempt := NewAttempt(in.IdempotencyKey, userID, in.PickupDate, in.PickupTime, snap.DiscountedTotalCents, itemCount)
	return Prepared{Attempt: attempt, Snapshot: snap, Lines: gatewayLines}, nil
}

// CreateSession opens a hosted checkout session for the draft.
func (s *Service) CreateSession(ctx context.Context, userID string, in Draft) (SessionOutput, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "CheckoutService.CreateSession")
	defer span.End()
	result := "error"
	defer s.observe(span, "session", &result)()

	prepared, err := s.Prepare(userID, in)
	if err != nil {
		result = "invalid"
		return SessionOutput{}, err
	}
	key, token := LayerToken(prepared.Attempt.IdempotencyKey, in.AttemptToken)
	resp, err := s.Provider.CreateSession(ctx, payment.SessionRequest{
		LineItems:      prepared.Lines,
		AmountCents:    prepared.Snapshot.DiscountedTotalCents,
		Currency:       s.Currency,
		CustomerEmail:  in.CustomerEmail,
		IdempotencyKey: key,
		SuccessURL:     firstNonEmpty(in.SuccessURL, s.SuccessURL),
		CancelURL:      firstNonEmpty(in.CancelURL, s.CancelURL),
	})
	if err != nil {
		s.Log.Error().Err(err).Str("user_id", userID).Msg("checkout session init failed")
		return SessionOutput{}, common.GatewayInitError(err)
	}
	result = "ok"
	span.SetAttributes(attribute.Int64("checkout.amount_cents", prepared.Snapshot.DiscountedTotalCents))
	return SessionOutput{
		SessionID:    resp.SessionID,
		RedirectURL:  resp.RedirectURL,
		AttemptToken: token,
		AmountCents:  prepared.Snapshot.DiscountedTotalCents,
		GrossCents:   prepared.Snapshot.GrossTotalCents,
	}, nil
}

// CreateIntent opens an embedded payment intent for the draft.
func (s *Service) CreateIntent(ctx context.Context, userID string, in Draft) (IntentOutput, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "CheckoutService.CreateIntent")
	defer span.End()
	result := "error"
	defer s.observe(span, "intent", &result)()

	prepared, err := s.Prepare(userID, in)
	if err != nil {
		result = "invalid"
		return IntentOutput{}, err
	}
	key, token := LayerToken(prepared.Attempt.IdempotencyKey, in.AttemptToken)
	resp, err := s.Provider.CreateIntent(ctx, payment.SessionRequest{
		LineItems:      prepared.Lines,
		AmountCents:    prepared.Snapshot.DiscountedTotalCents,
		Currency:       s.Currency,
		CustomerEmail:  in.CustomerEmail,
		IdempotencyKey: key,
	})
	if err != nil {
		s.Log.Error().Err(err).Str("user_id", userID).Msg("checkout intent init failed")
		return IntentOutput{}, common.GatewayInitError(err)
	}
	result = "ok"
	span.SetAttributes(attribute.Int64("checkout.amount_cents", prepared.Snapshot.DiscountedTotalCents))
	return IntentOutput{
		IntentID:     resp.IntentID,
		ClientSecret: resp.ClientSecret,
		AttemptToken: token,
		AmountCents:  prepared.Snapshot.DiscountedTotalCents,
		GrossCents:   prepared.Snapshot.GrossTotalCents,
	}, nil
}

func (s *Service) observe(span trace.Span, mode string, result *string) func() {
	start := time.Now()
	return func() {
		span.SetAttributes(
			attribute.String("checkout.mode", mode),
			attribute.String("checkout.result", *result),
			attribute.Float64("checkout.duration_ms", obs.DurationMillis(time.Since(start))),
		)
		if obs.CheckoutSessionTotal != nil {
			obs.CheckoutSessionTotal.WithLabelValues(mode, *result).Inc()
		}
	}
}

func (s *Service) validateDraft(in Draft) error {
	if s.Validate == nil {
		return errors.New("checkout service not configured")
	}
	if len(in.Items) == 0 {
		return common.ValidationError("cart is empty")
	}
	if err := s.Validate.Struct(in); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return err
		}
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			f := fields[0]
			return common.ValidationError(fmt.Sprintf("%s failed on %s", fieldName(f), f.Tag()))
		}
		return common.ValidationError("invalid draft")
	}
	return nil
}

func fieldName(f validator.FieldError) string {
	name := f.Namespace()
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func grossUnits(lines []pricing.Line) []pricing.Money {
	units := make([]pricing.Money, len(lines))
	for i, ln := range lines {
		units[i] = ln.UnitCents
	}
	return units
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
