// Package client holds the outbound HTTP clients. ProviderClient talks to the eSIM
// provisioning API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client")

const providerService = "esim-provider"

const (
	orderPath  = "/api/v1/open/esim/order"
	queryPath  = "/api/v1/open/esim/query"
	cancelPath = "/api/v1/open/esim/cancel"
)

// Error codes the provider uses while a freshly ordered profile is still being allocated.
// Queries answered with one of them are retried with backoff.
var notReadyCodes = map[string]bool{
	"200010": true,
	"310272": true,
}

// envelope is the provider's common response wrapper.
type envelope struct {
	Success   bool            `json:"success"`
	ErrorCode string          `json:"errorCode"`
	ErrorMsg  string          `json:"errorMsg"`
	Obj       json.RawMessage `json:"obj"`
}

// ProviderClient implements port.EsimProvider with retry, circuit breaker and tracing.
type ProviderClient struct {
	httpClient *http.Client
	baseURL    string
	accessCode string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewProviderClient creates a new ProviderClient.
func NewProviderClient(httpClient *http.Client, baseURL, accessCode string, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *ProviderClient {
	return &ProviderClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		accessCode: accessCode,
		cb:         resilience.NewCircuitBreaker(providerService, IsProviderVerdict),
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
	}
}

// IsProviderVerdict reports whether err is a business answer from the provider rather
// than an outage. Such errors do not trip the breaker.
func IsProviderVerdict(err error) bool {
	if err == nil {
		return true
	}
	var pe *domain.ErrProvider
	return errors.As(err, &pe)
}

// ============================================================
// Order
// ============================================================

// Order places a provisioning order. transactionId makes the call safe to retry.
// The profile is queried once right away; if the provider has not allocated it yet,
// Profile is nil and the sweep picks it up later.
func (c *ProviderClient) Order(ctx context.Context, req domain.ProviderOrderRequest) (*domain.ProviderOrder, error) {
	ctx, span := tracer.Start(ctx, "ProviderClient.Order")
	defer span.End()
	span.SetAttributes(
		attribute.String("package.code", req.PackageCode),
		attribute.String("transaction.id", req.TransactionID),
	)

	count := req.Count
	if count <= 0 {
		count = 1
	}
	body := map[string]any{
		"transactionId": req.TransactionID,
		"packageInfoList": []map[string]any{
			{"packageCode": req.PackageCode, "count": count},
		},
	}

	var obj struct {
		OrderNo string `json:"orderNo"`
	}
	if err := c.call(ctx, "order", orderPath, body, &obj); err != nil {
		return nil, err
	}
	if obj.OrderNo == "" {
		return nil, &domain.ErrProvider{Message: "order accepted without an order number"}
	}

	order := &domain.ProviderOrder{OrderNo: obj.OrderNo, TransactionID: req.TransactionID}

	raw, profile, err := c.Query(ctx, obj.OrderNo)
	switch {
	case err == nil:
		order.Query, order.Profile = raw, profile
	default:
		var pe *domain.ErrProvider
		if errors.As(err, &pe) && notReadyCodes[pe.Code] {
			c.logger.Debug("provider: profile not allocated yet", zap.String("order_no", obj.OrderNo))
		} else {
			c.logger.Warn("provider: post-order query failed", zap.String("order_no", obj.OrderNo), zap.Error(err))
		}
	}
	return order, nil
}

// ============================================================
// Query
// ============================================================

// Query fetches the allocated profiles of an order. The raw response is returned as-is
// for storage; the first profile is decoded for convenience.
func (c *ProviderClient) Query(ctx context.Context, orderNo string) (json.RawMessage, *domain.ProviderProfile, error) {
	ctx, span := tracer.Start(ctx, "ProviderClient.Query")
	defer span.End()
	span.SetAttributes(attribute.String("order.no", orderNo))

	body := map[string]any{
		"orderNo": orderNo,
		"pager":   map[string]int{"pageNum": 1, "pageSize": 20},
	}

	var raw json.RawMessage
	if err := c.call(ctx, "query", queryPath, body, &raw); err != nil {
		return nil, nil, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var obj struct {
		EsimList []json.RawMessage `json:"esimList"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, nil, &domain.ErrExternalService{Service: providerService, Err: fmt.Errorf("decode query: %w", err)}
	}

	wrapped, err := json.Marshal(map[string]json.RawMessage{"obj": raw})
	if err != nil {
		return nil, nil, err
	}
	if len(obj.EsimList) == 0 {
		return wrapped, nil, nil
	}

	var profile domain.ProviderProfile
	if err := json.Unmarshal(obj.EsimList[0], &profile); err != nil {
		return nil, nil, &domain.ErrExternalService{Service: providerService, Err: fmt.Errorf("decode profile: %w", err)}
	}
	profile.Raw = obj.EsimList[0]
	if profile.OrderNo == "" {
		profile.OrderNo = orderNo
	}
	return wrapped, &profile, nil
}

// ============================================================
// Cancel
// ============================================================

// Cancel asks the provider to cancel an unused profile.
func (c *ProviderClient) Cancel(ctx context.Context, orderNo, esimTranNo string) error {
	ctx, span := tracer.Start(ctx, "ProviderClient.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("order.no", orderNo))

	body := map[string]any{}
	if esimTranNo != "" {
		body["esimTranNo"] = esimTranNo
	} else {
		body["orderNo"] = orderNo
	}
	return c.call(ctx, "cancel", cancelPath, body, nil)
}

// ============================================================
// transport
// ============================================================

// call posts body and decodes obj into out. Provider business errors are returned as
// *domain.ErrProvider and, apart from not-ready query answers, are not retried.
func (c *ProviderClient) call(ctx context.Context, operation, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	_, err = c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			return c.doRequest(ctx, path, payload, out)
		})
	})

	if err == nil {
		c.metrics.IncrProviderCall(operation, "ok")
		return nil
	}

	c.metrics.IncrProviderCall(operation, "error")
	var pe *domain.ErrProvider
	if errors.As(err, &pe) {
		c.logger.Warn("provider: request rejected",
			zap.String("operation", operation),
			zap.String("error_code", pe.Code),
			zap.String("error_msg", pe.Message),
		)
		return pe
	}

	c.metrics.IncrExternalError(providerService)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: providerService}
	}
	c.logger.Error("provider: request failed",
		zap.String("operation", operation),
		zap.Error(err),
	)
	return &domain.ErrExternalService{Service: providerService, Err: err}
}

func (c *ProviderClient) doRequest(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("RT-AccessCode", c.accessCode)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("provider API returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return resilience.Permanent(fmt.Errorf("provider API returned status %d", resp.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return resilience.Permanent(fmt.Errorf("decode provider response: %w", err))
	}
	if !env.Success {
		verdict := &domain.ErrProvider{Code: env.ErrorCode, Message: env.ErrorMsg}
		if path == queryPath && notReadyCodes[env.ErrorCode] {
			return verdict
		}
		return resilience.Permanent(verdict)
	}
	if out == nil || len(env.Obj) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], env.Obj...)
		return nil
	}
	return json.Unmarshal(env.Obj, out)
}
