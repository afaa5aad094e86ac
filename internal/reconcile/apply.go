package reconcile

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
)

// providerTerminal maps provider statuses that end or suspend a profile onto local
// statuses. The classifier never reports these; only reconciliation applies them.
var providerTerminal = map[string]domain.EsimStatus{
	"USED_UP":        domain.StatusDepleted,
	"USED_EXPIRED":   domain.StatusExpired,
	"UNUSED_EXPIRED": domain.StatusExpired,
	"CANCEL":         domain.StatusCancelled,
	"REVOKED":        domain.StatusCancelled,
}

// Outcome is the result of merging a provider report into a stored record.
type Outcome struct {
	From           domain.EsimStatus
	To             domain.EsimStatus
	StatusChanged  bool
	Anomaly        bool
	Classification domain.Classification
	Update         domain.EsimUpdate
}

// ApplyProviderReport merges a raw provider payload (shaped like obj.esimList) into the
// record's metadata and decides the new local status. A status change outside the
// transition table is flagged as an anomaly and left out of Update; the refreshed
// metadata is still written.
func ApplyProviderReport(e *domain.PurchasedEsim, raw json.RawMessage, now time.Time) Outcome {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = string(raw)
	}
	meta := domain.MergeMetadata(e.Metadata, map[string]any{
		domain.MetaRawData:      payload,
		domain.MetaLastSyncedAt: now.UTC().Format(time.RFC3339),
	})

	from := Normalize(e.Status)
	c := Classify(Input{LocalStatus: string(e.Status), Metadata: meta})
	snap := readSnapshot(domain.DecodeMetadata(meta))

	to := c.Status
	if mapped, ok := providerTerminal[strings.ToUpper(snap.esimStatus)]; ok {
		to = mapped
	}
	if to == domain.StatusUnknown {
		to = from
	}

	out := Outcome{From: from, To: to, Classification: c}
	out.Update.Metadata = meta
	if snap.hasUsage {
		used := snap.orderUsage
		out.Update.DataUsed = &used
	}
	if e.ICCID == "" && snap.iccid != "" {
		iccid := snap.iccid
		out.Update.ICCID = &iccid
	}

	if to == from {
		return out
	}
	if !CanTransition(from, to) {
		out.Anomaly = true
		out.To = from
		return out
	}

	out.StatusChanged = true
	out.Update.Status = &to
	if to == domain.StatusActivated && e.ActivatedAt == nil {
		at := now
		out.Update.ActivatedAt = &at
	}
	return out
}
