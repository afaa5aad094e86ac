package reconcile

import (
	"strings"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
)

// CancellationHint exposes the advisory recently-cancelled marks.
type CancellationHint interface {
	CancelledAt(employeeID, esimID int64) (time.Time, bool)
}

// IsCancelledOrRefunded is the single cancellation predicate. hint may be nil.
//
// A mark from hint only applies to records last written before the mark; once the
// store has been re-read after the cancel, the stored state is authoritative.
func IsCancelledOrRefunded(e *domain.PurchasedEsim, hint CancellationHint) bool {
	if e == nil {
		return false
	}
	if strings.EqualFold(string(e.Status), string(domain.StatusCancelled)) {
		return true
	}

	meta := domain.DecodeMetadata(e.Metadata)
	if truthy(meta[domain.MetaIsCancelled]) || truthy(meta[domain.MetaRefunded]) {
		return true
	}
	if strings.EqualFold(readSnapshot(meta).esimStatus, "CANCEL") {
		return true
	}

	if hint != nil {
		if at, ok := hint.CancelledAt(e.EmployeeID, e.ID); ok && e.UpdatedAt.Before(at) {
			return true
		}
	}
	return false
}

// ExcludeCancelled returns the records that pass the filter, preserving order.
func ExcludeCancelled(esims []domain.PurchasedEsim, hint CancellationHint) []domain.PurchasedEsim {
	out := make([]domain.PurchasedEsim, 0, len(esims))
	for i := range esims {
		if !IsCancelledOrRefunded(&esims[i], hint) {
			out = append(out, esims[i])
		}
	}
	return out
}
