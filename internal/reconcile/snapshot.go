// Package reconcile derives the effective state of eSIM records from the local status
// column and the loosely-shaped provider payload kept in metadata. Everything here is
// pure: no I/O, no clocks except those passed in, and no panics on malformed input.
package reconcile

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
)

// snapshot is the subset of the provider payload the rules look at.
type snapshot struct {
	esimStatus     string
	iccid          string
	esimTranNo     string
	smdpStatus     string
	qrCodeURL      string
	activationCode string
	orderUsage     int64
	totalVolume    int64
	hasUsage       bool
}

// readSnapshot extracts rawData.obj.esimList[0] from decoded metadata. rawData may be a
// nested object or a JSON-encoded string; top-level keys are used when the nested
// payload lacks them.
func readSnapshot(meta map[string]any) snapshot {
	var s snapshot
	entry := firstEsim(meta[domain.MetaRawData])

	s.esimStatus = firstString(entry, meta, "esimStatus")
	s.smdpStatus = firstString(entry, meta, "smdpStatus")
	s.iccid = firstString(entry, meta, "iccid")
	s.esimTranNo = firstString(entry, meta, "esimTranNo")
	s.qrCodeURL = firstString(entry, meta, "qrCodeUrl")
	s.activationCode = firstString(entry, meta, "ac", "activationCode")

	usage, okUsage := asInt(lookup(entry, meta, "orderUsage"))
	volume, okVolume := asInt(lookup(entry, meta, "totalVolume"))
	if okUsage && okVolume && volume > 0 {
		s.orderUsage, s.totalVolume, s.hasUsage = usage, volume, true
	}
	return s
}

func firstEsim(raw any) map[string]any {
	if str, ok := raw.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(str), &decoded); err != nil {
			return nil
		}
		raw = decoded
	}
	root, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	obj, ok := root["obj"].(map[string]any)
	if !ok {
		return nil
	}
	list, ok := obj["esimList"].([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	first, _ := list[0].(map[string]any)
	return first
}

func lookup(entry, meta map[string]any, keys ...string) any {
	for _, src := range []map[string]any{entry, meta} {
		for _, k := range keys {
			if v, ok := src[k]; ok && v != nil {
				return v
			}
		}
	}
	return nil
}

func firstString(entry, meta map[string]any, keys ...string) string {
	for _, src := range []map[string]any{entry, meta} {
		for _, k := range keys {
			if v, ok := src[k].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// truthy accepts the spellings older writers used for boolean flags.
func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		return s == "true" || s == "1" || s == "yes"
	case float64:
		return b != 0
	}
	return false
}
