package domain

// ============================================================
// Health & Stats API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// LifecycleStats is returned by GET /api/admin/lifecycle-stats.
type LifecycleStats struct {
	Assigned          int64   `json:"assigned"`
	AssignFailures    int64   `json:"assignFailures"`
	Cancelled         int64   `json:"cancelled"`
	CancelRejected    int64   `json:"cancelRejected"`
	AutoRenewToggles  int64   `json:"autoRenewToggles"`
	PartialFailures   int64   `json:"partialFailures"`
	Anomalies         int64   `json:"reconciliationAnomalies"`
	ProviderErrorRate float64 `json:"providerErrorRate"`
	LiveSubscribers   int64   `json:"liveSubscribers"`
	Period            string  `json:"period"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
