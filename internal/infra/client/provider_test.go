package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/client"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(t *testing.T, h http.HandlerFunc) *client.ProviderClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return client.NewProviderClient(srv.Client(), srv.URL, "access-code",
		resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
		observability.NewMetrics(), zap.NewNop())
}

func TestOrder_PlacesOrderAndQueriesProfile(t *testing.T) {
	var orderBody map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "access-code", r.Header.Get("RT-AccessCode"))
		switch r.URL.Path {
		case "/api/v1/open/esim/order":
			b, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(b, &orderBody))
			_, _ = w.Write([]byte(`{"success":true,"obj":{"orderNo":"B2301"}}`))
		case "/api/v1/open/esim/query":
			_, _ = w.Write([]byte(`{"success":true,"obj":{"esimList":[{"esimTranNo":"T9","iccid":"8944","esimStatus":"GOT_RESOURCE","qrCodeUrl":"https://qr","ac":"LPA:1$a$b"}]}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	order, err := c.Order(context.Background(), domain.ProviderOrderRequest{TransactionID: "tx-1", PackageCode: "EU-5GB", Count: 1})
	require.NoError(t, err)

	assert.Equal(t, "B2301", order.OrderNo)
	assert.Equal(t, "tx-1", orderBody["transactionId"])
	require.NotNil(t, order.Profile)
	assert.Equal(t, "B2301", order.Profile.OrderNo)
	assert.Equal(t, "T9", order.Profile.EsimTranNo)
	assert.Equal(t, "LPA:1$a$b", order.Profile.ActivationCode)
	assert.JSONEq(t, `{"obj":{"esimList":[{"esimTranNo":"T9","iccid":"8944","esimStatus":"GOT_RESOURCE","qrCodeUrl":"https://qr","ac":"LPA:1$a$b"}]}}`, string(order.Query))
}

func TestOrder_ProfileNotReady(t *testing.T) {
	var queries atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/open/esim/order" {
			_, _ = w.Write([]byte(`{"success":true,"obj":{"orderNo":"B1"}}`))
			return
		}
		queries.Add(1)
		_, _ = w.Write([]byte(`{"success":false,"errorCode":"200010","errorMsg":"profile is being allocated"}`))
	})

	order, err := c.Order(context.Background(), domain.ProviderOrderRequest{TransactionID: "tx", PackageCode: "P"})
	require.NoError(t, err)
	assert.Nil(t, order.Profile)
	assert.Nil(t, order.Query)
	assert.Equal(t, int32(3), queries.Load(), "not-ready answers are retried until retries run out")
}

func TestOrder_RetriesQueryUntilProfileIsAllocated(t *testing.T) {
	var orders, queries atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/open/esim/order" {
			orders.Add(1)
			_, _ = w.Write([]byte(`{"success":true,"obj":{"orderNo":"B7"}}`))
			return
		}
		if queries.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"success":false,"errorCode":"310272","errorMsg":"profile is being allocated"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"obj":{"esimList":[{"esimTranNo":"T7","esimStatus":"GOT_RESOURCE","ac":"LPA:1$a$b"}]}}`))
	})

	order, err := c.Order(context.Background(), domain.ProviderOrderRequest{TransactionID: "tx", PackageCode: "P"})
	require.NoError(t, err)
	require.NotNil(t, order.Profile)
	assert.Equal(t, "T7", order.Profile.EsimTranNo)
	assert.Equal(t, int32(1), orders.Load(), "the order itself is never repeated")
	assert.Equal(t, int32(2), queries.Load())
}

func TestOrder_ProviderRejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"success":false,"errorCode":"200007","errorMsg":"insufficient account balance"}`))
	})

	_, err := c.Order(context.Background(), domain.ProviderOrderRequest{TransactionID: "tx", PackageCode: "P"})

	var pe *domain.ErrProvider
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "200007", pe.Code)
	assert.Equal(t, "insufficient account balance", pe.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQuery_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"obj":{"esimList":[]}}`))
	})

	raw, profile, err := c.Query(context.Background(), "B1")
	require.NoError(t, err)
	assert.Nil(t, profile)
	assert.JSONEq(t, `{"obj":{"esimList":[]}}`, string(raw))
	assert.Equal(t, int32(3), calls.Load())
}

func TestQuery_OutageIsExternalError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, _, err := c.Query(context.Background(), "B1")
	var ext *domain.ErrExternalService
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "esim-provider", ext.Service)
}

func TestCancel_PrefersEsimTranNo(t *testing.T) {
	var body map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/open/esim/cancel", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		body = nil
		require.NoError(t, json.Unmarshal(b, &body))
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	require.NoError(t, c.Cancel(context.Background(), "B1", "T1"))
	assert.Equal(t, map[string]any{"esimTranNo": "T1"}, body)

	require.NoError(t, c.Cancel(context.Background(), "B1", ""))
	assert.Equal(t, map[string]any{"orderNo": "B1"}, body)
}

func TestIsProviderVerdict(t *testing.T) {
	assert.True(t, client.IsProviderVerdict(nil))
	assert.True(t, client.IsProviderVerdict(&domain.ErrProvider{Code: "1"}))
	assert.False(t, client.IsProviderVerdict(io.EOF))
}
