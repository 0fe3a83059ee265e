package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/restoku/backend-resto/internal/common"
)

func TestVerifyPaid(t *testing.T) {
	mock := NewMock()
	svc := &Service{Provider: mock, ProviderName: "mock"}
	ctx := context.Background()

	sess, err := mock.CreateSession(ctx, SessionRequest{AmountCents: 4000, IdempotencyKey: "k1", LineItems: []LineItem{{Name: "Bakso", UnitAmountCents: 4000, Quantity: 1}}})
	require.NoError(t, err)

	ref := SettlementReference{Kind: RefSession, ID: sess.SessionID}

	_, err = svc.VerifyPaid(ctx, ref, 4000)
	require.Error(t, err)
	require.Equal(t, common.CodeSettlementNotConfirmed, common.ErrorCode(err))

	mock.SetSettlement(sess.SessionID, Settlement{Status: StatusPaid, AmountCents: 4000})
	st, err := svc.VerifyPaid(ctx, ref, 4000)
	require.NoError(t, err)
	require.True(t, st.Paid())
	require.Equal(t, int64(4000), st.AmountCents)
}

func TestVerifyPaidAmountShortfall(t *testing.T) {
	mock := NewMock()
	mock.SetSettlement("pi_short", Settlement{Status: StatusPaid, AmountCents: 1500})
	svc := &Service{Provider: mock, ProviderName: "mock"}

	_, err := svc.VerifyPaid(context.Background(), SettlementReference{Kind: RefIntent, ID: "pi_short"}, 2000)
	require.Error(t, err)
	require.Equal(t, common.CodeSettlementNotConfirmed, common.ErrorCode(err))
}

func TestVerifyRequiresReference(t *testing.T) {
	svc := &Service{Provider: NewMock()}
	_, err := svc.Verify(context.Background(), SettlementReference{Kind: RefSession})
	require.Error(t, err)
	require.Equal(t, common.CodeValidation, common.ErrorCode(err))
}

type failingProvider struct{ Provider }

func (failingProvider) GetSettlement(context.Context, SettlementReference) (Settlement, error) {
	return Settlement{}, errors.New("gateway down")
}

func TestVerifyWrapsProviderError(t *testing.T) {
	svc := &Service{Provider: failingProvider{}}
	_, err := svc.Verify(context.Background(), SettlementReference{Kind: RefIntent, ID: "pi_1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "gateway down")
}
