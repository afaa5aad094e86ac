package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Metadata keys written by this service. Everything else in the blob is provider data
// and is preserved untouched.
const (
	MetaRawData           = "rawData"
	MetaIsCancelled       = "isCancelled"
	MetaRefunded          = "refunded"
	MetaProviderCancelled = "providerCancelled"
	MetaCancelledAt       = "cancelledAt"
	MetaRenewals          = "renewals"
	MetaLastSyncedAt      = "lastSyncedAt"
)

// RenewalEntry is one item of the renewal history kept in metadata.
type RenewalEntry struct {
	Date     time.Time       `json:"date"`
	OrderID  string          `json:"orderId"`
	PlanID   int64           `json:"planId"`
	PlanName string          `json:"planName"`
	Cost     decimal.Decimal `json:"cost"`
}

// DecodeMetadata returns the metadata as a generic map. Malformed or empty input yields
// an empty map, never an error.
func DecodeMetadata(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// MergeMetadata overlays updates on the existing blob and re-encodes it.
func MergeMetadata(raw json.RawMessage, updates map[string]any) json.RawMessage {
	m := DecodeMetadata(raw)
	for k, v := range updates {
		m[k] = v
	}
	b, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return b
}

// Renewals reads the renewal history; entries that do not decode are skipped.
func Renewals(raw json.RawMessage) []RenewalEntry {
	var envelope struct {
		Renewals []json.RawMessage `json:"renewals"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	out := make([]RenewalEntry, 0, len(envelope.Renewals))
	for _, r := range envelope.Renewals {
		var e RenewalEntry
		if err := json.Unmarshal(r, &e); err == nil {
			out = append(out, e)
		}
	}
	return out
}
