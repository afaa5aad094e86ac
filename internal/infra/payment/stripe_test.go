package payment

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

const testSecret = "whsec_test_secret"

func signedEvent(t *testing.T, eventType string, object map[string]any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": json.RawMessage(raw)},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func newProcessor() *StripeProcessor {
	return NewStripeProcessor(StripeConfig{SecretKey: "sk_test", WebhookSecret: testSecret}, nil, zap.NewNop())
}

func TestParseWebhook_CompletedCheckout(t *testing.T) {
	payload, sig := signedEvent(t, "checkout.session.completed", map[string]any{
		"id":             "cs_test_1",
		"object":         "checkout.session",
		"amount_total":   5050,
		"payment_status": "paid",
		"metadata":       map[string]string{"company_id": "7"},
	})

	conf, err := newProcessor().ParseWebhook(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", conf.SessionID)
	assert.Equal(t, int64(7), conf.CompanyID)
	assert.Equal(t, "50.50", conf.Amount.StringFixed(2))
	assert.True(t, conf.Paid)
}

func TestParseWebhook_FallsBackToClientReference(t *testing.T) {
	payload, sig := signedEvent(t, "checkout.session.completed", map[string]any{
		"id":                  "cs_test_2",
		"object":              "checkout.session",
		"amount_total":        100,
		"payment_status":      "unpaid",
		"client_reference_id": "3",
	})

	conf, err := newProcessor().ParseWebhook(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(3), conf.CompanyID)
	assert.False(t, conf.Paid)
}

func TestParseWebhook_OtherEventsIgnored(t *testing.T) {
	payload, sig := signedEvent(t, "customer.created", map[string]any{"id": "cus_1", "object": "customer"})

	conf, err := newProcessor().ParseWebhook(payload, sig)
	require.NoError(t, err)
	assert.False(t, conf.Paid)
}

func TestParseWebhook_BadSignature(t *testing.T) {
	payload, _ := signedEvent(t, "checkout.session.completed", map[string]any{"id": "cs"})

	_, err := newProcessor().ParseWebhook(payload, "t=1,v1=deadbeef")
	require.Error(t, err)
}
