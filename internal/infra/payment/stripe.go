// Package payment creates wallet top-up checkouts at Stripe and verifies its webhooks.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("payment")

const metaCompanyID = "company_id"

// StripeConfig holds the checkout settings.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
}

// StripeProcessor implements port.PaymentProcessor.
type StripeProcessor struct {
	sessions *session.Client
	cfg      StripeConfig
	logger   *zap.Logger
}

// NewStripeProcessor creates a processor bound to cfg.SecretKey. backend may be nil to
// use Stripe's default API backend.
func NewStripeProcessor(cfg StripeConfig, backend stripe.Backend, logger *zap.Logger) *StripeProcessor {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}
	return &StripeProcessor{
		sessions: &session.Client{B: backend, Key: cfg.SecretKey},
		cfg:      cfg,
		logger:   logger,
	}
}

// CreateTopUpSession opens a hosted checkout for amount. The company id travels in the
// session metadata and comes back with the completion webhook.
func (p *StripeProcessor) CreateTopUpSession(ctx context.Context, companyID int64, amount decimal.Decimal) (*domain.TopUpSession, error) {
	ctx, span := tracer.Start(ctx, "StripeProcessor.CreateTopUpSession")
	defer span.End()
	span.SetAttributes(attribute.Int64("company.id", companyID))

	cents := amount.Shift(2).IntPart()
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.cfg.SuccessURL),
		CancelURL:  stripe.String(p.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(p.cfg.Currency),
				UnitAmount: stripe.Int64(cents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("eSIM wallet top-up"),
				},
			},
		}},
		ClientReferenceID: stripe.String(strconv.FormatInt(companyID, 10)),
	}
	params.Context = ctx
	params.AddMetadata(metaCompanyID, strconv.FormatInt(companyID, 10))

	s, err := p.sessions.New(params)
	if err != nil {
		p.logger.Error("payment: create checkout session failed",
			zap.Int64("company_id", companyID),
			zap.Error(err),
		)
		return nil, err
	}
	return &domain.TopUpSession{SessionID: s.ID, CheckoutURL: s.URL}, nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts a completed checkout.
// Events of other types come back with Paid=false.
func (p *StripeProcessor) ParseWebhook(payload []byte, signature string) (*domain.PaymentConfirmation, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("verify stripe webhook: %w", err)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		return &domain.PaymentConfirmation{}, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}

	companyID, err := strconv.ParseInt(s.Metadata[metaCompanyID], 10, 64)
	if err != nil {
		companyID, err = strconv.ParseInt(s.ClientReferenceID, 10, 64)
	}
	if err != nil {
		return nil, fmt.Errorf("checkout session %s carries no company id", s.ID)
	}

	return &domain.PaymentConfirmation{
		SessionID: s.ID,
		CompanyID: companyID,
		Amount:    decimal.New(s.AmountTotal, -2),
		Paid:      s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}, nil
}
