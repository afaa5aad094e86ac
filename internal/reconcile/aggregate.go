package reconcile

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
)

// currentStatuses are the classified statuses that make a record one of the employee's
// current plans. Pending is included so a plan that was just assigned shows up before
// the provider has allocated a profile.
var currentStatuses = map[domain.EsimStatus]bool{
	domain.StatusActivated:            true,
	domain.StatusWaitingForActivation: true,
	domain.StatusError:                true,
	domain.StatusDepleted:             true,
	domain.StatusExpired:              true,
	domain.StatusPending:              true,
}

// Options tunes Aggregate. A zero Now means time.Now().
type Options struct {
	Now  time.Time
	Hint CancellationHint
}

// Aggregate builds the current-plan view of one employee. Records of other employees
// in esims are ignored, and the cancellation filter is always re-applied.
func Aggregate(employeeID int64, esims []domain.PurchasedEsim, plans []domain.EsimPlan, opts Options) domain.EmployeePlans {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	planByID := make(map[int64]domain.EsimPlan, len(plans))
	for _, p := range plans {
		planByID[p.ID] = p
	}

	out := domain.EmployeePlans{EmployeeID: employeeID, Plans: []domain.PlanInfo{}}
	var activated, waiting int

	for i := range esims {
		e := &esims[i]
		if e.EmployeeID != employeeID || IsCancelledOrRefunded(e, opts.Hint) {
			continue
		}
		c := Classify(InputOf(e))
		if !currentStatuses[c.Status] {
			continue
		}
		switch c.Status {
		case domain.StatusActivated:
			activated++
		case domain.StatusWaitingForActivation:
			waiting++
		}
		out.Plans = append(out.Plans, planInfo(e, c, planByID, now))
	}

	sort.SliceStable(out.Plans, func(i, j int) bool {
		return out.Plans[i].EsimID > out.Plans[j].EsimID
	})

	switch {
	case activated > 0 && waiting > 0:
		out.Overall = domain.OverallMixed
	case activated > 0:
		out.Overall = domain.OverallActive
	case waiting > 0:
		out.Overall = domain.OverallWaiting
	default:
		out.Overall = domain.OverallNone
	}
	return out
}

// AggregateAll groups esims by employee and aggregates each of the given employees.
func AggregateAll(employeeIDs []int64, esims []domain.PurchasedEsim, plans []domain.EsimPlan, opts Options) map[int64]domain.EmployeePlans {
	byEmployee := make(map[int64][]domain.PurchasedEsim, len(employeeIDs))
	for _, e := range esims {
		byEmployee[e.EmployeeID] = append(byEmployee[e.EmployeeID], e)
	}
	out := make(map[int64]domain.EmployeePlans, len(employeeIDs))
	for _, id := range employeeIDs {
		out[id] = Aggregate(id, byEmployee[id], plans, opts)
	}
	return out
}

func planInfo(e *domain.PurchasedEsim, c domain.Classification, plans map[int64]domain.EsimPlan, now time.Time) domain.PlanInfo {
	plan, known := plans[e.PlanID]

	info := domain.PlanInfo{
		EsimID:           e.ID,
		PlanID:           e.PlanID,
		PlanName:         plan.Name,
		ICCID:            e.ICCID,
		Status:           c.Status,
		StatusMessage:    c.Message,
		AutoRenewEnabled: e.AutoRenewEnabled,
	}
	if !known {
		info.PlanName = fmt.Sprintf("Plan #%d", e.PlanID)
	}
	info.DisplayName = displayName(info.PlanName, plan)

	snap := readSnapshot(domain.DecodeMetadata(e.Metadata))
	if snap.hasUsage {
		info.DataUsedBytes, info.DataTotalBytes = snap.orderUsage, snap.totalVolume
	} else {
		info.DataUsedBytes, info.DataTotalBytes = e.DataUsed, plan.DataAllowanceBytes()
	}
	if info.DataTotalBytes > 0 {
		info.UsageFraction = math.Min(1, math.Max(0, float64(info.DataUsedBytes)/float64(info.DataTotalBytes)))
	}

	info.StartedAt = e.CreatedAt
	if e.ActivatedAt != nil {
		info.StartedAt = *e.ActivatedAt
	}
	if plan.ValidityDays > 0 {
		info.ExpiresAt = info.StartedAt.AddDate(0, 0, plan.ValidityDays)
		if remaining := info.ExpiresAt.Sub(now); remaining > 0 {
			info.RemainingSeconds = int64(remaining / time.Second)
			info.DaysRemaining = int(math.Ceil(remaining.Hours() / 24))
		}
	}
	return info
}

func displayName(name string, plan domain.EsimPlan) string {
	if plan.DataAllowanceMB <= 0 || plan.ValidityDays <= 0 {
		return name
	}
	return fmt.Sprintf("%s (%s, %d days)", name, formatAllowance(plan.DataAllowanceMB), plan.ValidityDays)
}

func formatAllowance(mb int64) string {
	if mb >= 1024 && mb%1024 == 0 {
		return fmt.Sprintf("%dGB", mb/1024)
	}
	if mb >= 1024 {
		return fmt.Sprintf("%.1fGB", float64(mb)/1024)
	}
	return fmt.Sprintf("%dMB", mb)
}
