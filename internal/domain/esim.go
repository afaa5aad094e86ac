package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// eSIM lifecycle statuses
// ============================================================

// EsimStatus is both the local status column and the normalized classifier output.
type EsimStatus string

const (
	StatusPending              EsimStatus = "pending"
	StatusWaitingForActivation EsimStatus = "waiting_for_activation"
	StatusActive               EsimStatus = "active" // legacy spelling of activated, still written by older rows
	StatusActivated            EsimStatus = "activated"
	StatusError                EsimStatus = "error"
	StatusExpired              EsimStatus = "expired"
	StatusDepleted             EsimStatus = "depleted"
	StatusCancelled            EsimStatus = "cancelled"
	StatusUnknown              EsimStatus = "unknown"
)

// IsTerminal reports whether no further provider-driven transition is expected.
func (s EsimStatus) IsTerminal() bool {
	return s == StatusCancelled
}

// ============================================================
// Purchased eSIM
// ============================================================

// PurchasedEsim is one eSIM bought for an employee. Status is the last persisted local
// status; the effective status must always be derived by the classifier together with
// Metadata, which holds the provider's last raw payload and local flags.
type PurchasedEsim struct {
	ID               int64           `json:"id"`
	CompanyID        int64           `json:"companyId"`
	EmployeeID       int64           `json:"employeeId"`
	PlanID           int64           `json:"planId"`
	ProviderOrderID  string          `json:"orderId"`
	ICCID            string          `json:"iccid,omitempty"`
	Status           EsimStatus      `json:"status"`
	AutoRenewEnabled bool            `json:"autoRenewEnabled"`
	DataUsed         int64           `json:"dataUsed"`
	PricePaid        decimal.Decimal `json:"pricePaid"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	ActivatedAt      *time.Time      `json:"activatedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// NewEsim is the insert payload for a freshly provisioned eSIM.
type NewEsim struct {
	CompanyID       int64
	EmployeeID      int64
	PlanID          int64
	ProviderOrderID string
	ICCID           string
	Status          EsimStatus
	PricePaid       decimal.Decimal
	Metadata        json.RawMessage
}

// EsimUpdate is a partial update. Nil fields are left untouched.
type EsimUpdate struct {
	Status           *EsimStatus
	ICCID            *string
	AutoRenewEnabled *bool
	DataUsed         *int64
	Metadata         json.RawMessage
	ActivatedAt      *time.Time
}

// Classification is the classifier's verdict for one eSIM record.
type Classification struct {
	Status      EsimStatus `json:"status"`
	Message     string     `json:"message"`
	Rule        string     `json:"rule"`
	LocalStatus string     `json:"localStatus"`
}

// ClassifiedEsim pairs a record with its effective status, as returned by the
// purchased-eSIM listing.
type ClassifiedEsim struct {
	PurchasedEsim
	Effective Classification `json:"effective"`
	Cancelled bool           `json:"cancelled"`
	PlanName  string         `json:"planName,omitempty"`
}

// ============================================================
// Provider payloads
// ============================================================

// ProviderOrderRequest asks the provider to provision one package.
type ProviderOrderRequest struct {
	TransactionID string
	PackageCode   string
	Count         int
}

// ProviderProfile is the provider's view of one eSIM (its esimList entry).
type ProviderProfile struct {
	OrderNo        string          `json:"orderNo"`
	EsimTranNo     string          `json:"esimTranNo,omitempty"`
	ICCID          string          `json:"iccid,omitempty"`
	EsimStatus     string          `json:"esimStatus,omitempty"`
	SmdpStatus     string          `json:"smdpStatus,omitempty"`
	QRCodeURL      string          `json:"qrCodeUrl,omitempty"`
	ActivationCode string          `json:"ac,omitempty"`
	OrderUsage     int64           `json:"orderUsage,omitempty"`
	TotalVolume    int64           `json:"totalVolume,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// ProviderOrder is the result of a successful provisioning call. Query holds the raw
// status query response (with obj.esimList) when the profile was already allocated.
type ProviderOrder struct {
	OrderNo       string
	TransactionID string
	Profile       *ProviderProfile
	Query         json.RawMessage
}

// ProviderStatusReport is a status push received on the provider webhook.
type ProviderStatusReport struct {
	NotifyType string          `json:"notifyType"`
	OrderNo    string          `json:"orderNo"`
	ICCID      string          `json:"iccid"`
	EsimStatus string          `json:"esimStatus"`
	SmdpStatus string          `json:"smdpStatus"`
	Raw        json.RawMessage `json:"-"`
}

// ============================================================
// API types
// ============================================================

// AssignPlanRequest is the body for POST /api/esim/purchase.
type AssignPlanRequest struct {
	EmployeeID     int64  `json:"employeeId" validate:"required,gt=0"`
	PlanID         int64  `json:"planId" validate:"required,gt=0"`
	IdempotencyKey string `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
}

// AssignPlanResult is the immediate hint returned after a plan assignment.
type AssignPlanResult struct {
	Esim           *PurchasedEsim `json:"esim"`
	Classification Classification `json:"classification"`
	Plans          EmployeePlans  `json:"plans"`
	EmailSent      bool           `json:"emailSent"`
	Invalidate     []QueryKey     `json:"invalidate"`
}

// CancelPlanRequest is the body for POST /api/esim/cancel.
type CancelPlanRequest struct {
	EsimID         int64  `json:"esimId" validate:"required,gt=0"`
	EmployeeID     int64  `json:"employeeId" validate:"required,gt=0"`
	IdempotencyKey string `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
}

// CancelPlanResult describes the outcome of a cancellation.
type CancelPlanResult struct {
	Esim               *PurchasedEsim  `json:"esim"`
	Refunded           decimal.Decimal `json:"refunded"`
	ProviderCancelled  bool            `json:"providerCancelled"`
	AlreadyCancelled   bool            `json:"alreadyCancelled"`
	ResolvedByFallback bool            `json:"resolvedByFallback"`
	Invalidate         []QueryKey      `json:"invalidate"`
}

// AutoRenewRequest is the body for PATCH /api/esim/{id}/auto-renew.
type AutoRenewRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// AutoRenewResult is returned after toggling auto-renewal.
type AutoRenewResult struct {
	Esim       *PurchasedEsim `json:"esim"`
	Invalidate []QueryKey     `json:"invalidate"`
}

// SyncResult summarizes one reconciliation sweep.
type SyncResult struct {
	Checked   int `json:"checked"`
	Updated   int `json:"updated"`
	Anomalies int `json:"anomalies"`
	Failed    int `json:"failed"`
}
