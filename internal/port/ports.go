// Package port defines the interfaces the service layer depends on. Infrastructure
// adapters implement them.
package port

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"

	"github.com/shopspring/decimal"
)

// ============================================================
// Stores
// ============================================================

// EmployeeStore persists employees.
type EmployeeStore interface {
	ListEmployees(ctx context.Context, companyID int64) ([]domain.Employee, error)
	GetEmployee(ctx context.Context, companyID, employeeID int64) (*domain.Employee, error)
	CreateEmployees(ctx context.Context, companyID int64, reqs []domain.CreateEmployeeRequest) ([]domain.Employee, error)
	DeleteEmployee(ctx context.Context, companyID, employeeID int64) error
}

// EsimStore persists purchased eSIMs.
type EsimStore interface {
	ListEsimsByCompany(ctx context.Context, companyID int64) ([]domain.PurchasedEsim, error)
	ListEsimsByEmployee(ctx context.Context, companyID, employeeID int64) ([]domain.PurchasedEsim, error)
	// ListEsimsForSync returns records across all companies whose status is not terminal.
	ListEsimsForSync(ctx context.Context, limit int) ([]domain.PurchasedEsim, error)
	GetEsim(ctx context.Context, companyID, esimID int64) (*domain.PurchasedEsim, error)
	GetEsimByOrder(ctx context.Context, providerOrderID string) (*domain.PurchasedEsim, error)
	CreateEsim(ctx context.Context, in domain.NewEsim) (*domain.PurchasedEsim, error)
	UpdateEsim(ctx context.Context, esimID int64, upd domain.EsimUpdate) (*domain.PurchasedEsim, error)
}

// PlanStore persists the plan catalog.
type PlanStore interface {
	ListPlans(ctx context.Context) ([]domain.EsimPlan, error)
	GetPlan(ctx context.Context, planID int64) (*domain.EsimPlan, error)
	UpdatePlanPrice(ctx context.Context, planID int64, price decimal.Decimal) (*domain.EsimPlan, error)
	UpsertPlans(ctx context.Context, plans []domain.EsimPlan) error
}

// WalletStore keeps the append-only wallet ledger. Balance is always derived.
type WalletStore interface {
	GetBalance(ctx context.Context, companyID int64) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, companyID int64, limit int) ([]domain.WalletTransaction, error)
	// AddTransaction appends a movement. A non-empty reference that was already used
	// yields *domain.ErrDuplicate.
	AddTransaction(ctx context.Context, tx domain.WalletTransaction) (*domain.WalletTransaction, error)
}

// UserStore looks up company administrators.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, userID int64) (*domain.User, error)
}

// Store is everything the service layer needs from persistence.
type Store interface {
	EmployeeStore
	EsimStore
	PlanStore
	WalletStore
	UserStore
	Ping(ctx context.Context) error
}

// ============================================================
// External systems
// ============================================================

// EsimProvider is the third-party provisioning API.
type EsimProvider interface {
	Order(ctx context.Context, req domain.ProviderOrderRequest) (*domain.ProviderOrder, error)
	// Query returns the raw query response (with obj.esimList) and its first profile.
	Query(ctx context.Context, orderNo string) (json.RawMessage, *domain.ProviderProfile, error)
	Cancel(ctx context.Context, orderNo, esimTranNo string) error
}

// Mailer delivers activation emails. Failures are reported, never retried here.
type Mailer interface {
	SendActivation(ctx context.Context, msg ActivationEmail) error
}

// ActivationEmail is the data rendered into the activation template.
type ActivationEmail struct {
	To             string
	EmployeeName   string
	PlanName       string
	QRCodeURL      string
	ActivationCode string
	ValidityDays   int
}

// PaymentProcessor creates checkout sessions and verifies its webhooks.
type PaymentProcessor interface {
	CreateTopUpSession(ctx context.Context, companyID int64, amount decimal.Decimal) (*domain.TopUpSession, error)
	ParseWebhook(payload []byte, signature string) (*domain.PaymentConfirmation, error)
}

// ReceiptArchiver stores receipts and credit notes.
type ReceiptArchiver interface {
	Archive(ctx context.Context, key string, body io.Reader) error
}

// ============================================================
// Coordination
// ============================================================

// EventPublisher delivers lifecycle events to live-update subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

// IdempotencyStore reserves action keys. Reserve returns false when the key is taken.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// CancellationTracker keeps the short-lived recently-cancelled marks.
type CancellationTracker interface {
	Mark(ctx context.Context, employeeID, esimID int64, at time.Time) error
	Marks(ctx context.Context, employeeIDs ...int64) (domain.CancelMarks, error)
}
