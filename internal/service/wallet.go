package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var walletTracer = otel.Tracer("service/wallet")

var zeroMoney = decimal.Zero

const recentTransactions = 50

// WalletService serves the company wallet: balance, history and top-ups.
type WalletService struct {
	store    port.WalletStore
	payments port.PaymentProcessor
	events   port.EventPublisher
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewWalletService creates a new wallet service. payments may be nil when top-ups
// are disabled.
func NewWalletService(store port.WalletStore, payments port.PaymentProcessor, events port.EventPublisher, metrics *observability.Metrics, logger *zap.Logger) *WalletService {
	return &WalletService{
		store:    store,
		payments: payments,
		events:   events,
		metrics:  metrics,
		logger:   logger,
	}
}

// GetWallet returns the derived balance and the latest movements.
func (s *WalletService) GetWallet(ctx context.Context, companyID int64) (*domain.Wallet, error) {
	ctx, span := walletTracer.Start(ctx, "WalletService.GetWallet")
	defer span.End()

	balance, err := s.store.GetBalance(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	txs, err := s.store.ListTransactions(ctx, companyID, recentTransactions)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if txs == nil {
		txs = []domain.WalletTransaction{}
	}
	return &domain.Wallet{CompanyID: companyID, Balance: balance, Transactions: txs}, nil
}

// CreateTopUp opens a checkout session. The wallet is credited only when the payment
// webhook confirms it.
func (s *WalletService) CreateTopUp(ctx context.Context, companyID int64, req domain.TopUpRequest) (*domain.TopUpSession, error) {
	ctx, span := walletTracer.Start(ctx, "WalletService.CreateTopUp")
	defer span.End()
	span.SetAttributes(attribute.Int64("amount.cents", req.AmountCents))

	if s.payments == nil {
		return nil, &domain.ErrConflict{Message: "wallet top-ups are not enabled"}
	}
	if req.AmountCents <= 0 {
		return nil, &domain.ErrValidation{Field: "amountCents", Message: "must be greater than zero"}
	}

	amount := decimal.New(req.AmountCents, -2)
	session, err := s.payments.CreateTopUpSession(ctx, companyID, amount)
	if err != nil {
		s.metrics.IncrExternalError("payments")
		return nil, &domain.ErrExternalService{Service: "payments", Err: err}
	}
	s.logger.Info("top-up session created",
		zap.Int64("company_id", companyID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("session_id", session.SessionID),
	)
	return session, nil
}

// HandlePaymentWebhook verifies a processor callback and credits a confirmed top-up
// once. Returns whether the wallet was credited by this call.
func (s *WalletService) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) (bool, error) {
	ctx, span := walletTracer.Start(ctx, "WalletService.HandlePaymentWebhook")
	defer span.End()

	if s.payments == nil {
		return false, &domain.ErrConflict{Message: "wallet top-ups are not enabled"}
	}
	conf, err := s.payments.ParseWebhook(payload, signature)
	if err != nil {
		return false, &domain.ErrUnauthorized{Message: "invalid payment webhook"}
	}
	if conf == nil || !conf.Paid {
		return false, nil
	}
	if conf.CompanyID <= 0 || !conf.Amount.IsPositive() {
		s.logger.Warn("payment webhook without company or amount", zap.String("session_id", conf.SessionID))
		return false, &domain.ErrValidation{Field: "metadata", Message: "missing company or amount"}
	}

	_, err = s.store.AddTransaction(ctx, domain.WalletTransaction{
		CompanyID:   conf.CompanyID,
		Type:        domain.TxCredit,
		Amount:      conf.Amount,
		Description: "Wallet top-up",
		Reference:   "topup:" + conf.SessionID,
	})
	var dup *domain.ErrDuplicate
	if errors.As(err, &dup) {
		s.logger.Info("payment webhook replayed, top-up already credited", zap.String("session_id", conf.SessionID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("credit top-up: %w", err)
	}

	s.logger.Info("wallet topped up",
		zap.Int64("company_id", conf.CompanyID),
		zap.String("amount", conf.Amount.StringFixed(2)),
		zap.String("session_id", conf.SessionID),
	)
	if s.events != nil {
		s.events.Publish(ctx, domain.Event{
			Type:       domain.EventExecutiveUpdate,
			CompanyID:  conf.CompanyID,
			Invalidate: []domain.QueryKey{domain.QueryWallet},
		})
	}
	return true, nil
}
