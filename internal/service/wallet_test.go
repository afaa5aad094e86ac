package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPayments struct {
	conf       *domain.PaymentConfirmation
	parseErr   error
	sessionErr error
	amounts    []decimal.Decimal
}

func (m *mockPayments) CreateTopUpSession(_ context.Context, _ int64, amount decimal.Decimal) (*domain.TopUpSession, error) {
	m.amounts = append(m.amounts, amount)
	if m.sessionErr != nil {
		return nil, m.sessionErr
	}
	return &domain.TopUpSession{SessionID: "cs_test_1", CheckoutURL: "https://checkout.example/cs_test_1"}, nil
}

func (m *mockPayments) ParseWebhook(_ []byte, _ string) (*domain.PaymentConfirmation, error) {
	return m.conf, m.parseErr
}

func TestCreateTopUp_ConvertsCents(t *testing.T) {
	f := newFixture(t)
	payments := &mockPayments{}
	svc := service.NewWalletService(f.store, payments, f.events, f.metrics, zap.NewNop())

	session, err := svc.CreateTopUp(context.Background(), companyID, domain.TopUpRequest{AmountCents: 5050})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.SessionID)
	require.Len(t, payments.amounts, 1)
	assert.Equal(t, "50.50", payments.amounts[0].StringFixed(2))
	assert.Equal(t, "100.00", balance(t, f.store), "nothing is credited before confirmation")
}

func TestCreateTopUp_ProcessorFailure(t *testing.T) {
	f := newFixture(t)
	svc := service.NewWalletService(f.store, &mockPayments{sessionErr: errors.New("down")}, f.events, f.metrics, zap.NewNop())

	_, err := svc.CreateTopUp(context.Background(), companyID, domain.TopUpRequest{AmountCents: 100})
	var ext *domain.ErrExternalService
	require.ErrorAs(t, err, &ext)
}

func TestHandlePaymentWebhook_CreditsOnce(t *testing.T) {
	f := newFixture(t)
	payments := &mockPayments{conf: &domain.PaymentConfirmation{
		SessionID: "cs_test_1", CompanyID: companyID, Amount: decimal.RequireFromString("50.50"), Paid: true,
	}}
	svc := service.NewWalletService(f.store, payments, f.events, f.metrics, zap.NewNop())

	credited, err := svc.HandlePaymentWebhook(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.True(t, credited)

	credited, err = svc.HandlePaymentWebhook(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.False(t, credited, "replayed webhook")

	assert.Equal(t, "150.50", balance(t, f.store))
	assert.Equal(t, []domain.EventType{domain.EventExecutiveUpdate}, f.events.types())
}

func TestHandlePaymentWebhook_UnpaidIgnored(t *testing.T) {
	f := newFixture(t)
	payments := &mockPayments{conf: &domain.PaymentConfirmation{SessionID: "cs_2", CompanyID: companyID, Amount: decimal.NewFromInt(10)}}
	svc := service.NewWalletService(f.store, payments, f.events, f.metrics, zap.NewNop())

	credited, err := svc.HandlePaymentWebhook(context.Background(), nil, "")
	require.NoError(t, err)
	assert.False(t, credited)
	assert.Equal(t, "100.00", balance(t, f.store))
}

func TestHandlePaymentWebhook_BadSignature(t *testing.T) {
	f := newFixture(t)
	svc := service.NewWalletService(f.store, &mockPayments{parseErr: errors.New("bad sig")}, f.events, f.metrics, zap.NewNop())

	_, err := svc.HandlePaymentWebhook(context.Background(), nil, "")
	var unauthorized *domain.ErrUnauthorized
	require.ErrorAs(t, err, &unauthorized)
}

func TestGetWallet(t *testing.T) {
	f := newFixture(t)
	svc := service.NewWalletService(f.store, nil, f.events, f.metrics, zap.NewNop())

	w, err := svc.GetWallet(context.Background(), companyID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", w.Balance.StringFixed(2))
	assert.Len(t, w.Transactions, 1)

	_, err = svc.CreateTopUp(context.Background(), companyID, domain.TopUpRequest{AmountCents: 100})
	var conflict *domain.ErrConflict
	assert.ErrorAs(t, err, &conflict, "top-ups disabled without a processor")
}
