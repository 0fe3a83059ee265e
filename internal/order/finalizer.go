package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/restoku/backend-resto/internal/common"
	"github.com/restoku/backend-resto/internal/events"
	"github.com/restoku/backend-resto/internal/obs"
	"github.com/restoku/backend-resto/internal/payment"
	"github.com/restoku/backend-resto/internal/resilience"
	"github.com/restoku/backend-resto/internal/store"
)

// Store is the slice of order persistence the finalizer drives.
type Store interface {
	Insert(ctx context.Context, p store.InsertOrderParams) (store.Order, error)
	FindRecentPaid(ctx context.Context, userID, pickupDate, pickupTime string, window time.Duration) (store.Order, error)
	ApplyDiscountMetadata(ctx context.Context, orderID uuid.UUID, m store.DiscountMetadata) error
	InsertLineItems(ctx context.Context, orderID uuid.UUID, items []store.LineItemParams, includePricing bool) error
	DeleteLineItems(ctx context.Context, orderID uuid.UUID) error
}

// Guard remembers which gateway references already produced an order, so a
// duplicate redirect callback becomes a no-op instead of a second insert.
type Guard interface {
	Done(ctx context.Context, ref string) (orderID string, ok bool, err error)
	MarkDone(ctx context.Context, ref, orderID string) error
}

// EventPublisher pushes domain events after an order is persisted.
type EventPublisher interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// Line is one order line carried into finalization with both its gross and
// discounted unit amounts already in cents.
type Line struct {
	DishID              string
	Name                string
	GrossUnitCents      int64
	DiscountedUnitCents int64
	Quantity            int
	PricingMode         string
	WeightGrams         *int32
}

// FinalizeRequest is a verified-priced attempt ready to persist.
type FinalizeRequest struct {
	UserID             string
	Reference          payment.SettlementReference
	PickupDate         string
	PickupTime         string
	PaymentMethod      string
	Notes              *string
	Lines              []Line
	GrossCents         int64
	AmountCents        int64
	DiscountType       string
	DiscountPercentage *int32
}

// Result reports the persisted order for confirmation display.
type Result struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	AmountCents int64  `json:"amountCents"`
	Deduped     bool   `json:"deduped"`
}

// Finalizer is the idempotent write path from a paid settlement to exactly
// one persisted order with its line items.
type Finalizer struct {
	Store          Store
	Settlement     *payment.Service
	Guard          Guard
	Events         EventPublisher
	DedupWindow    time.Duration
	InsertAttempts int
	InsertBackoff  time.Duration
	Log            zerolog.Logger
}

const (
	defaultDedupWindow    = 5 * time.Minute
	defaultInsertAttempts = 5
	defaultInsertBackoff  = 50 * time.Millisecond
)

// Finalize verifies settlement, deduplicates and persists the order. Calling
// it twice with the same gateway reference yields the same order.
func (f *Finalizer) Finalize(ctx context.Context, req FinalizeRequest) (Result, error) {
	if f == nil || f.Store == nil || f.Settlement == nil {
		return Result{}, errors.New("order finalizer not configured")
	}
	ctx, span := otel.Tracer("order.Finalizer").Start(ctx, "OrderFinalizer.Finalize")
	defer span.End()
	outcome := "error"
	defer func() {
		span.SetAttributes(attribute.String("finalize.result", outcome))
		if obs.OrderFinalizeTotal != nil {
			obs.OrderFinalizeTotal.WithLabelValues(outcome).Inc()
		}
	}()

	if err := validateRequest(req); err != nil {
		outcome = "invalid"
		return Result{}, err
	}
	guardRef := string(req.Reference.Kind) + ":" + req.Reference.ID

	if f.Guard != nil {
		if orderID, done, err := f.Guard.Done(ctx, guardRef); err == nil && done {
			outcome = "replayed"
			return Result{OrderID: orderID, AmountCents: req.AmountCents, Deduped: true}, nil
		} else if err != nil {
			f.Log.Warn().Err(err).Msg("finalize guard lookup failed")
		}
	}

	// The gateway is the only authority on "was this paid"; a redirect query
	// parameter alone never reaches this point as proof.
	settlement, err := f.Settlement.VerifyPaid(ctx, req.Reference, req.AmountCents)
	if err != nil {
		if common.ErrorCode(err) == common.CodeSettlementNotConfirmed {
			outcome = "not_paid"
		}
		return Result{}, err
	}

	if existing, err := f.Store.FindRecentPaid(ctx, req.UserID, req.PickupDate, req.PickupTime, f.dedupWindow()); err == nil {
		f.markDone(ctx, guardRef, existing.ID.String())
		outcome = "deduped"
		return Result{
			OrderID:     existing.ID.String(),
			OrderNumber: existing.OrderNumber,
			AmountCents: existing.TotalAmount,
			Deduped:     true,
		}, nil
	} else if !store.IsNotFound(err) {
		return Result{}, common.StoreError(common.CodeStoreFatal, fmt.Errorf("dedup lookup: %w", err))
	}

	ord, err := f.insertHeader(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if req.AmountCents < req.GrossCents && req.DiscountType != "" {
		meta := store.DiscountMetadata{
			OriginalAmount:     req.GrossCents,
			DiscountType:       req.DiscountType,
			DiscountPercentage: req.DiscountPercentage,
			DiscountAmount:     req.GrossCents - req.AmountCents,
			TotalAmount:        req.AmountCents,
		}
		if err := f.Store.ApplyDiscountMetadata(ctx, ord.ID, meta); err != nil {
			return Result{}, common.StoreError(common.CodeStoreFatal, fmt.Errorf("apply discount metadata: %w", err))
		}
	}

	if err := f.insertLines(ctx, ord.ID, req.Lines); err != nil {
		return Result{}, err
	}

	f.markDone(ctx, guardRef, ord.ID.String())
	if f.Events != nil {
		_, _ = f.Events.Emit(ctx, events.TopicOrderCreated, ord.ID, map[string]any{
			"order_number": ord.OrderNumber,
			"user_id":      req.UserID,
			"total":        req.AmountCents,
		})
	}
	f.Log.Info().
		Str("order_id", ord.ID.String()).
		Str("order_number", ord.OrderNumber).
		Int64("amount_cents", req.AmountCents).
		Str("settlement_status", settlement.Status).
		Msg("order finalized")
	outcome = "persisted"
	return Result{OrderID: ord.ID.String(), OrderNumber: ord.OrderNumber, AmountCents: req.AmountCents}, nil
}

// insertHeader retries only conflict-class errors; the store generates order
// numbers and enforces their uniqueness.
func (f *Finalizer) insertHeader(ctx context.Context, req FinalizeRequest) (store.Order, error) {
	var ord store.Order
	policy := resilience.RetryPolicy{
		MaxAttempts: f.insertAttempts(),
		BaseBackoff: f.insertBackoff(),
		Jitter:      0.5,
		Retryable:   store.IsConflict,
		OnRetry: func(attempt int, err error) {
			if obs.OrderFinalizeRetries != nil {
				obs.OrderFinalizeRetries.Inc()
			}
			f.Log.Warn().Err(err).Int("attempt", attempt).Msg("order insert conflict, retrying")
		},
	}
	err := resilience.Retry(ctx, policy, func(ctx context.Context) error {
		var insertErr error
		ord, insertErr = f.Store.Insert(ctx, store.InsertOrderParams{
			UserID:           req.UserID,
			PickupDate:       req.PickupDate,
			PickupTime:       req.PickupTime,
			PaymentMethod:    req.PaymentMethod,
			PaymentStatus:    store.PaymentStatusPaid,
			TotalAmount:      req.AmountCents,
			Notes:            req.Notes,
			GatewayReference: req.Reference.ID,
		})
		return insertErr
	})
	if err != nil {
		code := common.CodeStoreFatal
		if store.IsConflict(err) {
			code = common.CodeStoreConflict
		}
		return store.Order{}, common.StoreError(code, fmt.Errorf("insert order: %w", err))
	}
	return ord, nil
}

// insertLines writes all line items in one batch. When the deployment lacks
// the optional pricing columns the insert is retried once without them;
// any other failure surfaces, line items are never silently dropped.
func (f *Finalizer) insertLines(ctx context.Context, orderID uuid.UUID, lines []Line) error {
	items := make([]store.LineItemParams, 0, len(lines))
	for _, ln := range lines {
		items = append(items, store.LineItemParams{
			DishID:      dishRef(ln.DishID),
			Name:        ln.Name,
			UnitPrice:   ln.DiscountedUnitCents,
			Quantity:    int32(ln.Quantity),
			Subtotal:    ln.DiscountedUnitCents * int64(ln.Quantity),
			PricingMode: ln.PricingMode,
			WeightGrams: ln.WeightGrams,
		})
	}
	err := f.Store.InsertLineItems(ctx, orderID, items, true)
	if err == nil {
		return nil
	}
	if store.IsUndefinedColumn(err) {
		f.Log.Warn().Err(err).Msg("pricing columns missing, retrying degraded line items")
		// The batch is not atomic, so clear any rows the failed attempt left.
		if err := f.Store.DeleteLineItems(ctx, orderID); err != nil {
			return common.StoreError(common.CodeStoreFatal, fmt.Errorf("reset line items: %w", err))
		}
		if err := f.Store.InsertLineItems(ctx, orderID, items, false); err != nil {
			return common.StoreError(common.CodeStoreSchema, fmt.Errorf("insert line items degraded: %w", err))
		}
		return nil
	}
	return common.StoreError(common.CodeStoreFatal, fmt.Errorf("insert line items: %w", err))
}

func (f *Finalizer) markDone(ctx context.Context, ref, orderID string) {
	if f.Guard == nil {
		return
	}
	if err := f.Guard.MarkDone(ctx, ref, orderID); err != nil {
		f.Log.Warn().Err(err).Msg("finalize guard mark failed")
	}
}

func (f *Finalizer) dedupWindow() time.Duration {
	if f.DedupWindow > 0 {
		return f.DedupWindow
	}
	return defaultDedupWindow
}

func (f *Finalizer) insertAttempts() int {
	if f.InsertAttempts > 0 {
		return f.InsertAttempts
	}
	return defaultInsertAttempts
}

func (f *Finalizer) insertBackoff() time.Duration {
	if f.InsertBackoff > 0 {
		return f.InsertBackoff
	}
	return defaultInsertBackoff
}

func validateRequest(req FinalizeRequest) error {
	switch {
	case req.UserID == "":
		return common.ValidationError("user is required")
	case req.Reference.ID == "":
		return common.ValidationError("settlement reference is required")
	case req.PickupDate == "" || req.PickupTime == "":
		return common.ValidationError("pickup slot is required")
	case len(req.Lines) == 0:
		return common.ValidationError("order has no line items")
	case req.AmountCents <= 0:
		return common.ValidationError("order total must be positive")
	}
	return nil
}

// dishRef resolves a cart line id to a catalog reference only when it has the
// catalog identifier shape. Ad-hoc composed items keep a null reference.
func dishRef(id string) *uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	return &parsed
}
