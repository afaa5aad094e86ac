package service_test

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/cache"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/memory"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/port"
	"github.com/boddenberg/esim-fleet-bfa/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Mocks ---

type mockProvider struct {
	mu sync.Mutex

	order     *domain.ProviderOrder
	orderErr  error
	cancelErr error
	queries   map[string]json.RawMessage
	queryErr  error

	orders  []domain.ProviderOrderRequest
	cancels []string
}

func (m *mockProvider) Order(_ context.Context, req domain.ProviderOrderRequest) (*domain.ProviderOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, req)
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	o := *m.order
	o.TransactionID = req.TransactionID
	return &o, nil
}

func (m *mockProvider) Query(_ context.Context, orderNo string) (json.RawMessage, *domain.ProviderProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, nil, m.queryErr
	}
	raw, ok := m.queries[orderNo]
	if !ok {
		return nil, nil, &domain.ErrProvider{Code: "310241", Message: "order not found"}
	}
	return raw, nil, nil
}

func (m *mockProvider) Cancel(_ context.Context, orderNo, esimTranNo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels = append(m.cancels, orderNo+"/"+esimTranNo)
	return m.cancelErr
}

func (m *mockProvider) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type mockMailer struct {
	mu   sync.Mutex
	sent []port.ActivationEmail
	err  error
}

func (m *mockMailer) SendActivation(_ context.Context, msg port.ActivationEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockArchiver struct {
	mu   sync.Mutex
	keys []string
}

func (m *mockArchiver) Archive(_ context.Context, key string, body io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := io.ReadAll(body); err != nil {
		return err
	}
	m.keys = append(m.keys, key)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// --- Fixtures ---

const (
	companyID = int64(1)
	planID    = int64(10)
)

var planPrice = decimal.RequireFromString("29.90")

// gotResourceQuery is a provider query response for an allocated, not yet installed profile.
const gotResourceQuery = `{"success":true,"obj":{"esimList":[{"orderNo":"B100","esimTranNo":"T100","iccid":"8944000000000000001","esimStatus":"GOT_RESOURCE","smdpStatus":"RELEASED","qrCodeUrl":"https://p.example/qr/100.png","ac":"LPA:1$smdp.example$ABC","orderUsage":0,"totalVolume":5368709120}]}}`

type fixture struct {
	store     *memory.Store
	provider  *mockProvider
	mailer    *mockMailer
	archiver  *mockArchiver
	events    *recordingPublisher
	metrics   *observability.Metrics
	lifecycle *service.LifecycleService
	employee  domain.Employee
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	require.NoError(t, store.UpsertPlans(ctx, []domain.EsimPlan{{
		ID:              planID,
		ProviderPlanID:  "EU-5GB-30D",
		Name:            "Europe",
		DataAllowanceMB: 5120,
		ValidityDays:    30,
		RetailPrice:     planPrice,
		Countries:       []string{"DE", "FR"},
	}}))
	emps, err := store.CreateEmployees(ctx, companyID, []domain.CreateEmployeeRequest{{Name: "Ana Lima", Email: "ana@acme.test"}})
	require.NoError(t, err)
	fund(t, store, "100.00")

	f := &fixture{
		store: store,
		provider: &mockProvider{
			order: &domain.ProviderOrder{
				OrderNo: "B100",
				Profile: &domain.ProviderProfile{
					OrderNo:        "B100",
					EsimTranNo:     "T100",
					ICCID:          "8944000000000000001",
					EsimStatus:     "GOT_RESOURCE",
					QRCodeURL:      "https://p.example/qr/100.png",
					ActivationCode: "LPA:1$smdp.example$ABC",
				},
				Query: json.RawMessage(gotResourceQuery),
			},
			queries: map[string]json.RawMessage{},
		},
		mailer:   &mockMailer{},
		archiver: &mockArchiver{},
		events:   &recordingPublisher{},
		metrics:  observability.NewMetrics(),
		employee: emps[0],
	}
	f.lifecycle = service.NewLifecycleService(service.LifecycleDeps{
		Store:          store,
		Provider:       f.provider,
		Mailer:         f.mailer,
		Archiver:       f.archiver,
		Events:         f.events,
		Idempotency:    cache.NewIdempotencyKeys(time.Hour),
		Cancellations:  cache.NewCancelMarks(2 * time.Minute),
		IdempotencyTTL: time.Hour,
		Metrics:        f.metrics,
		Logger:         zap.NewNop(),
	})
	return f
}

func fund(t *testing.T, store *memory.Store, amount string) {
	t.Helper()
	_, err := store.AddTransaction(context.Background(), domain.WalletTransaction{
		CompanyID: companyID,
		Type:      domain.TxCredit,
		Amount:    decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
}

func balance(t *testing.T, store *memory.Store) string {
	t.Helper()
	b, err := store.GetBalance(context.Background(), companyID)
	require.NoError(t, err)
	return b.StringFixed(2)
}

// seedEsim stores a record for the fixture employee.
func (f *fixture) seedEsim(id int64, status domain.EsimStatus, metadata string) domain.PurchasedEsim {
	e := domain.PurchasedEsim{
		ID:              id,
		CompanyID:       companyID,
		EmployeeID:      f.employee.ID,
		PlanID:          planID,
		ProviderOrderID: "B" + strconv.FormatInt(id, 10),
		Status:          status,
		PricePaid:       planPrice,
		CreatedAt:       time.Now().Add(-time.Hour).UTC(),
	}
	if metadata != "" {
		e.Metadata = json.RawMessage(metadata)
	}
	f.store.PutEsim(e)
	return e
}
