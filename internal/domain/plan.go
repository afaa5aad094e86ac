package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EsimPlan is a sellable data package. Everything except RetailPrice is fixed once created.
type EsimPlan struct {
	ID              int64           `json:"id" yaml:"id"`
	ProviderPlanID  string          `json:"providerPlanId" yaml:"provider_plan_id"`
	Name            string          `json:"name" yaml:"name"`
	DataAllowanceMB int64           `json:"dataAllowanceMb" yaml:"data_allowance_mb"`
	ValidityDays    int             `json:"validityDays" yaml:"validity_days"`
	RetailPrice     decimal.Decimal `json:"retailPrice" yaml:"-"`
	Countries       []string        `json:"countries" yaml:"countries"`
	Speed           string          `json:"speed,omitempty" yaml:"speed"`
	CreatedAt       time.Time       `json:"createdAt" yaml:"-"`
}

// DataAllowanceBytes converts the allowance to bytes, the unit the provider reports usage in.
func (p EsimPlan) DataAllowanceBytes() int64 {
	return p.DataAllowanceMB * 1024 * 1024
}

// UpdatePlanPriceRequest is the body for PATCH /api/esim/plans/{id}/price.
type UpdatePlanPriceRequest struct {
	RetailPrice string `json:"retailPrice" validate:"required,numeric"`
}

// ============================================================
// Aggregated plan view
// ============================================================

// OverallStatus summarizes all of an employee's current plans.
type OverallStatus string

const (
	OverallActive  OverallStatus = "active"
	OverallWaiting OverallStatus = "waiting"
	OverallMixed   OverallStatus = "mixed"
	OverallNone    OverallStatus = "none"
)

// PlanInfo is one current plan of an employee.
type PlanInfo struct {
	EsimID           int64      `json:"esimId"`
	PlanID           int64      `json:"planId"`
	PlanName         string     `json:"planName"`
	DisplayName      string     `json:"displayName"`
	ICCID            string     `json:"iccid,omitempty"`
	Status           EsimStatus `json:"status"`
	StatusMessage    string     `json:"statusMessage"`
	AutoRenewEnabled bool       `json:"autoRenewEnabled"`
	DataUsedBytes    int64      `json:"dataUsedBytes"`
	DataTotalBytes   int64      `json:"dataTotalBytes"`
	UsageFraction    float64    `json:"usageFraction"`
	StartedAt        time.Time  `json:"startedAt"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	RemainingSeconds int64      `json:"remainingSeconds"`
	DaysRemaining    int        `json:"daysRemaining"`
}

// EmployeePlans is the aggregator output for one employee. Plans are ordered by
// descending eSIM id, so the first one is the most recent.
type EmployeePlans struct {
	EmployeeID int64         `json:"employeeId"`
	Plans      []PlanInfo    `json:"plans"`
	Overall    OverallStatus `json:"overall"`
}

// Primary returns the most recent plan, if any.
func (p EmployeePlans) Primary() (PlanInfo, bool) {
	if len(p.Plans) == 0 {
		return PlanInfo{}, false
	}
	return p.Plans[0], true
}
