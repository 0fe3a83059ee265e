package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status values for the orders table. The same column carries the payment
// outcome and the fulfillment stages staff move a paid order through.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
	PaymentStatusExpired = "expired"

	StatusReady    = "ready"
	StatusPickedUp = "picked_up"
	StatusCanceled = "canceled"
)

// Order mirrors a row of the orders table.
type Order struct {
	ID                 uuid.UUID
	OrderNumber        string
	UserID             string
	PickupDate         string
	PickupTime         string
	PaymentMethod      string
	PaymentStatus      string
	TotalAmount        int64
	OriginalAmount     pgtype.Int8
	DiscountType       pgtype.Text
	DiscountPercentage pgtype.Int4
	DiscountAmount     pgtype.Int8
	Notes              pgtype.Text
	GatewayReference   pgtype.Text
	CreatedAt          pgtype.Timestamptz
}

// LineItem mirrors a row of the order_items table.
type LineItem struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	DishID      pgtype.UUID
	Name        string
	UnitPrice   int64
	Quantity    int32
	Subtotal    int64
	PricingMode pgtype.Text
	WeightGrams pgtype.Int4
}

// InsertOrderParams carries the order header fields owned by the finalizer.
type InsertOrderParams struct {
	UserID           string
	PickupDate       string
	PickupTime       string
	PaymentMethod    string
	PaymentStatus    string
	TotalAmount      int64
	Notes            *string
	GatewayReference string
}

// DiscountMetadata is applied as a follow-up update after the header insert.
type DiscountMetadata struct {
	OriginalAmount     int64
	DiscountType       string
	DiscountPercentage *int32
	DiscountAmount     int64
	TotalAmount        int64
}

// LineItemParams describes one order line to insert.
type LineItemParams struct {
	DishID      *uuid.UUID
	Name        string
	UnitPrice   int64
	Quantity    int32
	Subtotal    int64
	PricingMode string
	WeightGrams *int32
}

// Orders provides order persistence backed by pgx.
type Orders struct {
	Pool *pgxpool.Pool
}

const orderColumns = `id, order_number, user_id, pickup_date, pickup_time, payment_method,
payment_status, total_amount, original_amount, discount_type, discount_percentage,
discount_amount, notes, gateway_reference, created_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.PickupDate, &o.PickupTime, &o.PaymentMethod,
		&o.PaymentStatus, &o.TotalAmount, &o.OriginalAmount, &o.DiscountType, &o.DiscountPercentage,
		&o.DiscountAmount, &o.Notes, &o.GatewayReference, &o.CreatedAt,
	)
	return o, err
}

// Insert creates the order header. The order number is generated store-side
// and carries a UNIQUE constraint, so concurrent inserts can collide; callers
// retry on IsConflict.
func (s Orders) Insert(ctx context.Context, p InsertOrderParams) (Order, error) {
	row := s.Pool.QueryRow(ctx, `
INSERT INTO orders (user_id, pickup_date, pickup_time, payment_method, payment_status, total_amount, notes, gateway_reference)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+orderColumns,
		p.UserID, p.PickupDate, p.PickupTime, p.PaymentMethod, p.PaymentStatus, p.TotalAmount,
		textOrNull(p.Notes), p.GatewayReference,
	)
	return scanOrder(row)
}

// FindByGatewayReference returns the order finalized for a gateway reference.
func (s Orders) FindByGatewayReference(ctx context.Context, ref string) (Order, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE gateway_reference = $1`, ref)
	return scanOrder(row)
}

// FindRecentPaid looks for a paid order created inside the trailing dedup
// window for the same user and pickup slot.
func (s Orders) FindRecentPaid(ctx context.Context, userID, pickupDate, pickupTime string, window time.Duration) (Order, error) {
	row := s.Pool.QueryRow(ctx, `
SELECT `+orderColumns+` FROM orders
WHERE user_id = $1 AND pickup_date = $2 AND pickup_time = $3
  AND payment_status = $4 AND created_at > now() - $5::interval
ORDER BY created_at DESC
LIMIT 1`,
		userID, pickupDate, pickupTime, PaymentStatusPaid, window.String(),
	)
	return scanOrder(row)
}

// ApplyDiscountMetadata records the discount breakdown on the order row.
func (s Orders) ApplyDiscountMetadata(ctx context.Context, orderID uuid.UUID, m DiscountMetadata) error {
	_, err := s.Pool.Exec(ctx, `
UPDATE orders
SET original_amount = $2, discount_type = $3, discount_percentage = $4,
    discount_amount = $5, total_amount = $6
WHERE id = $1`,
		orderID, m.OriginalAmount, m.DiscountType, int4OrNull(m.DiscountPercentage), m.DiscountAmount, m.TotalAmount,
	)
	return err
}

// InsertLineItems writes all line items in one batch. When includePricing is
// false the optional pricing_type/weight_grams columns are left out, which is
// the degraded shape for deployments whose schema predates those columns.
func (s Orders) InsertLineItems(ctx context.Context, orderID uuid.UUID, items []LineItemParams, includePricing bool) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		if includePricing {
			batch.Queue(`
INSERT INTO order_items (order_id, dish_id, name, unit_price, quantity, subtotal, pricing_type, weight_grams)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				orderID, uuidOrNull(it.DishID), it.Name, it.UnitPrice, it.Quantity, it.Subtotal,
				textValueOrNull(it.PricingMode), int4OrNull(it.WeightGrams),
			)
		} else {
			batch.Queue(`
INSERT INTO order_items (order_id, dish_id, name, unit_price, quantity, subtotal)
VALUES ($1, $2, $3, $4, $5, $6)`,
				orderID, uuidOrNull(it.DishID), it.Name, it.UnitPrice, it.Quantity, it.Subtotal,
			)
		}
	}
	results := s.Pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range items {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// DeleteLineItems removes items written for an order, used before retrying
// the batch with the degraded payload shape.
func (s Orders) DeleteLineItems(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
	return err
}

// GetByIDForUser fetches one order scoped to its owner.
func (s Orders) GetByIDForUser(ctx context.Context, orderID uuid.UUID, userID string) (Order, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, orderID, userID)
	return scanOrder(row)
}

// ListForUser returns a page of the user's orders, newest first.
func (s Orders) ListForUser(ctx context.Context, userID string, limit, offset int32) ([]Order, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT `+orderColumns+` FROM orders
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountForUser counts the user's orders.
func (s Orders) CountForUser(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE user_id = $1`, userID).Scan(&total)
	return total, err
}

// ListLineItems returns the items belonging to an order.
func (s Orders) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]LineItem, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT id, order_id, dish_id, name, unit_price, quantity, subtotal,
       COALESCE(pricing_type, ''), weight_grams
FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LineItem
	for rows.Next() {
		var it LineItem
		var pricing string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.DishID, &it.Name, &it.UnitPrice,
			&it.Quantity, &it.Subtotal, &pricing, &it.WeightGrams); err != nil {
			return nil, err
		}
		if pricing != "" {
			it.PricingMode = pgtype.Text{String: pricing, Valid: true}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateStatus transitions the payment status of an order.
func (s Orders) UpdateStatus(ctx context.Context, orderID uuid.UUID, status string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE orders SET payment_status = $2 WHERE id = $1`, orderID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// IsConflict reports whether err is a retryable uniqueness collision.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsUndefinedColumn reports whether err indicates a missing optional column.
func IsUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42703"
}

// IsNotFound reports whether err means no matching row.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func textOrNull(v *string) pgtype.Text {
	if v == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *v, Valid: true}
}

func textValueOrNull(v string) pgtype.Text {
	if v == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}

func int4OrNull(v *int32) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: *v, Valid: true}
}

func uuidOrNull(v *uuid.UUID) pgtype.UUID {
	if v == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *v, Valid: true}
}
