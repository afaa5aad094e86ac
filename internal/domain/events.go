package domain

import "time"

// EventType names a lifecycle or live-update event.
type EventType string

const (
	// Live-update channel events: tell clients which cached queries to re-read.
	EventExecutiveUpdate  EventType = "EXECUTIVE_UPDATE"
	EventEsimStatusChange EventType = "ESIM_STATUS_CHANGE"
	EventAutoRenewal      EventType = "AUTO_RENEWAL_EVENT"

	// Coordinator events.
	EventPlanAssignmentStarted   EventType = "PLAN_ASSIGNMENT_STARTED"
	EventPlanAssignmentCompleted EventType = "PLAN_ASSIGNMENT_COMPLETED"
	EventPlanAssignmentFailed    EventType = "PLAN_ASSIGNMENT_FAILED"
	EventPlanCancelled           EventType = "PLAN_CANCELLED"
)

// QueryKey identifies a client-side cached query.
type QueryKey string

const (
	QueryEmployees      QueryKey = "employees"
	QueryPurchasedEsims QueryKey = "purchased-esims"
	QueryWallet         QueryKey = "wallet"
	QueryPlans          QueryKey = "plans"
)

// LifecycleInvalidations is what every successful coordinator action invalidates.
func LifecycleInvalidations() []QueryKey {
	return []QueryKey{QueryEmployees, QueryPurchasedEsims, QueryWallet}
}

// AllCompanies as an event's CompanyID delivers it to every company's subscribers.
const AllCompanies int64 = 0

// Event is a typed notification. It carries identifiers and the queries to invalidate,
// not full payloads.
type Event struct {
	ID         string     `json:"id"`
	Type       EventType  `json:"type"`
	CompanyID  int64      `json:"companyId"`
	EmployeeID int64      `json:"employeeId,omitempty"`
	EsimID     int64      `json:"esimId,omitempty"`
	Status     EsimStatus `json:"status,omitempty"`
	Message    string     `json:"message,omitempty"`
	Invalidate []QueryKey `json:"invalidate,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}
