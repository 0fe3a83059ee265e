package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/restoku/backend-resto/internal/common"
	"github.com/restoku/backend-resto/internal/payment"
	"github.com/restoku/backend-resto/internal/store"
)

type stubStore struct {
	inserts        int
	insertFailures []error
	inserted       []store.Order
	recentPaid     *store.Order

	metadata     map[uuid.UUID]store.DiscountMetadata
	lineBatches  []bool
	lineItems    map[uuid.UUID][]store.LineItemParams
	lineFailures []error
	lineResets   int
}

func (s *stubStore) Insert(_ context.Context, p store.InsertOrderParams) (store.Order, error) {
	s.inserts++
	if len(s.insertFailures) > 0 {
		err := s.insertFailures[0]
		s.insertFailures = s.insertFailures[1:]
		if err != nil {
			return store.Order{}, err
		}
	}
	ord := store.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-20260828-001",
		UserID:        p.UserID,
		PickupDate:    p.PickupDate,
		PickupTime:    p.PickupTime,
		PaymentMethod: p.PaymentMethod,
		PaymentStatus: p.PaymentStatus,
		TotalAmount:   p.TotalAmount,
	}
	s.inserted = append(s.inserted, ord)
	return ord, nil
}

func (s *stubStore) FindRecentPaid(context.Context, string, string, string, time.Duration) (store.Order, error) {
	if s.recentPaid != nil {
		return *s.recentPaid, nil
	}
	return store.Order{}, pgx.ErrNoRows
}

func (s *stubStore) ApplyDiscountMetadata(_ context.Context, orderID uuid.UUID, m store.DiscountMetadata) error {
	if s.metadata == nil {
		s.metadata = make(map[uuid.UUID]store.DiscountMetadata)
	}
	s.metadata[orderID] = m
	return nil
}

func (s *stubStore) InsertLineItems(_ context.Context, orderID uuid.UUID, items []store.LineItemParams, includePricing bool) error {
	s.lineBatches = append(s.lineBatches, includePricing)
	if len(s.lineFailures) > 0 {
		err := s.lineFailures[0]
		s.lineFailures = s.lineFailures[1:]
		if err != nil {
			return err
		}
	}
	if s.lineItems == nil {
		s.lineItems = make(map[uuid.UUID][]store.LineItemParams)
	}
	s.lineItems[orderID] = items
	return nil
}

func (s *stubStore) DeleteLineItems(_ context.Context, orderID uuid.UUID) error {
	s.lineResets++
	delete(s.lineItems, orderID)
	return nil
}

type memoryGuard struct {
	done map[string]string
}

func (g *memoryGuard) Done(_ context.Context, ref string) (string, bool, error) {
	id, ok := g.done[ref]
	return id, ok, nil
}

func (g *memoryGuard) MarkDone(_ context.Context, ref, orderID string) error {
	if g.done == nil {
		g.done = make(map[string]string)
	}
	g.done[ref] = orderID
	return nil
}

func conflictErr() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key"}
}

func undefinedColumnErr() error {
	return &pgconn.PgError{Code: "42703", ColumnName: "weight_grams"}
}

func paidGateway(ref string, amount int64) *payment.Service {
	mock := payment.NewMock()
	mock.SetSettlement(ref, payment.Settlement{Status: payment.StatusPaid, AmountCents: amount})
	return &payment.Service{Provider: mock, ProviderName: "mock"}
}

func baseRequest() FinalizeRequest {
	dish := uuid.NewString()
	return FinalizeRequest{
		UserID:        "user-1",
		Reference:     payment.SettlementReference{Kind: payment.RefSession, ID: "cs_fin"},
		PickupDate:    "2026-09-01",
		PickupTime:    "12:30",
		PaymentMethod: "online",
		Lines: []Line{
			{DishID: dish, Name: "Gulai", GrossUnitCents: 3000, DiscountedUnitCents: 2700, Quantity: 2, PricingMode: "fixed"},
			{DishID: "combo-monday", Name: "Paket Senin", GrossUnitCents: 2000, DiscountedUnitCents: 1800, Quantity: 1, PricingMode: "fixed"},
		},
		GrossCents:         8000,
		AmountCents:        7200,
		DiscountType:       "percentage",
		DiscountPercentage: int32Ptr(10),
	}
}

func int32Ptr(v int32) *int32 { return &v }

func newFinalizer(s *stubStore, svc *payment.Service, g Guard) *Finalizer {
	return &Finalizer{
		Store:         s,
		Settlement:    svc,
		Guard:         g,
		InsertBackoff: time.Millisecond,
		Log:           zerolog.Nop(),
	}
}

func TestFinalizePersistsOrderWithDiscountAndLines(t *testing.T) {
	st := &stubStore{}
	f := newFinalizer(st, paidGateway("cs_fin", 7200), &memoryGuard{})

	res, err := f.Finalize(context.Background(), baseRequest())
	require.NoError(t, err)
	require.False(t, res.Deduped)
	require.NotEmpty(t, res.OrderID)
	require.Equal(t, "ORD-20260828-001", res.OrderNumber)
	require.Equal(t, 1, st.inserts)

	orderID := st.inserted[0].ID
	meta := st.metadata[orderID]
	require.Equal(t, int64(8000), meta.OriginalAmount)
	require.Equal(t, int64(800), meta.DiscountAmount)
	require.Equal(t, "percentage", meta.DiscountType)

	items := st.lineItems[orderID]
	require.Len(t, items, 2)
	require.NotNil(t, items[0].DishID)
	require.Nil(t, items[1].DishID)
	require.Equal(t, int64(5400), items[0].Subtotal)
}

func TestFinalizeDuplicateCallbackCreatesOneOrder(t *testing.T) {
	st := &stubStore{}
	guard := &memoryGuard{}
	f := newFinalizer(st, paidGateway("cs_fin", 7200), guard)

	first, err := f.Finalize(context.Background(), baseRequest())
	require.NoError(t, err)
	second, err := f.Finalize(context.Background(), baseRequest())
	require.NoError(t, err)

	require.Equal(t, first.OrderID, second.OrderID)
	require.True(t, second.Deduped)
	require.Equal(t, 1, st.inserts)
	require.Len(t, st.inserted, 1)
}

func TestFinalizeRejectsUnpaidSettlement(t *testing.T) {
	mock := payment.NewMock()
	mock.SetSettlement("cs_fin", payment.Settlement{Status: payment.StatusPending})
	st := &stubStore{}
	f := newFinalizer(st, &payment.Service{Provider: mock, ProviderName: "mock"}, &memoryGuard{})

	_, err := f.Finalize(context.Background(), baseRequest())
	require.Error(t, err)
	require.Equal(t, common.CodeSettlementNotConfirmed, common.ErrorCode(err))
	require.Zero(t, st.inserts)
}

func TestFinalizeDedupWindowReusesExistingOrder(t *testing.T) {
	existing := store.Order{
		ID:          uuid.New(),
		OrderNumber: "ORD-EXISTING",
		TotalAmount: 7200,
	}
	st := &stubStore{recentPaid: &existing}
	guard := &memoryGuard{}
	f := newFinalizer(st, paidGateway("cs_fin", 7200), guard)

	res, err := f.Finalize(context.Background(), baseRequest())
	require.NoError(t, err)
	require.True(t, res.Deduped)
	require.Equal(t, existing.ID.String(), res.OrderID)
	require.Zero(t, st.inserts)

	// the guard now remembers the reference
	id, done, err := guard.Done(context.Background(), "session:cs_fin")
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, existing.ID.String(), id)
}

func TestFinalizeRetriesConflictThenSucceeds(t *testing.T) {
	st := &stubStore{insertFailures: []error{conflictErr(), conflictErr()}}
	f := newFinalizer(st, paidGateway("cs_fin", 7200), &memoryGuard{})

	res, err := f.Finalize(context.Background(), baseRequest())
	require.NoError(t, err)
	require.NotEmpty(t, res.OrderID)
	require.Equal(t, 3, st.inserts)
}

func TestFinalizeConflictBudgetExhausted(t *testing.T) {
	st := &stubStore{insertFailures: []error{
		conflictErr(), conflictErr(), conflictErr(), conflictErr(), conflictErr(),
	}}
	f := newFinalizer(st, paidGateway("cs_fin", 7200), &memoryGuard{})

	_, err := f.Finalize(context.Background(), baseRequest())
	require.Error(t, err)
	require.Equal(t, common.CodeStoreConflict, common.ErrorCode(err))
	require.Equal(t, 5, st.inserts)
}

func TestFinalizeFatalInsertErrorAbortsImmediately(t *testing.T) {
	st := &stubStore{insertFailures: []error{errors.New("connection reset")}}
	f := newFinalizer(st, paidGateway("cs_fin", 7200), &memoryGuard{})

	_, err := f.Finalize(context.Background(), baseRequest())
	require.Error(t, err)
	require.Equal(t, common.CodeStoreFatal, common.ErrorCode(err))
	require.Equal(t, 1, st.inserts)
}

func TestFinalizeSchemaFallbackRetriesOnce(t *testing.T) {
	st := &stubStore{lineFailures: []error{undefinedColumnErr()}}
	f := newFinalizer(st, paidGateway("cs_fin", 7200), &memoryGuard{})

	_, err := f.Finalize(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, st.lineBatches)
	require.Equal(t, 1, st.lineResets)
}

func TestFinalizeSchemaFallbackFailureSurfaces(t *testing.T) {
	st := &stubStore{lineFailures: []error{undefinedColumnErr(), undefinedColumnErr()}}
	f := newFinalizer(st, paidGateway("cs_fin", 7200), &memoryGuard{})

	_, err := f.Finalize(context.Background(), baseRequest())
	require.Error(t, err)
	require.Equal(t, common.CodeStoreSchema, common.ErrorCode(err))
}

func TestFinalizeLineItemFatalErrorSurfaces(t *testing.T) {
	st := &stubStore{lineFailures: []error{errors.New("disk full")}}
	f := newFinalizer(st, paidGateway("cs_fin", 7200), &memoryGuard{})

	_, err := f.Finalize(context.Background(), baseRequest())
	require.Error(t, err)
	require.Equal(t, common.CodeStoreFatal, common.ErrorCode(err))
	require.Equal(t, []bool{true}, st.lineBatches)
}

func TestFinalizeValidatesRequest(t *testing.T) {
	f := newFinalizer(&stubStore{}, paidGateway("cs_fin", 7200), &memoryGuard{})

	req := baseRequest()
	req.Lines = nil
	_, err := f.Finalize(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, common.CodeValidation, common.ErrorCode(err))

	req = baseRequest()
	req.AmountCents = 0
	_, err = f.Finalize(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, common.CodeValidation, common.ErrorCode(err))
}
