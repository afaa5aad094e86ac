package reconcile_test

import (
	"testing"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/reconcile"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPlans = []domain.EsimPlan{
	{ID: 10, Name: "Europe", DataAllowanceMB: 5120, ValidityDays: 30, RetailPrice: decimal.NewFromInt(25)},
	{ID: 11, Name: "USA", DataAllowanceMB: 1500, ValidityDays: 7, RetailPrice: decimal.NewFromInt(9)},
}

func TestAggregate_NoEsims(t *testing.T) {
	got := reconcile.Aggregate(1, nil, testPlans, reconcile.Options{})
	assert.Equal(t, domain.OverallNone, got.Overall)
	assert.Empty(t, got.Plans)
	_, ok := got.Primary()
	assert.False(t, ok)
}

func TestAggregate_WaitingFromProvider(t *testing.T) {
	esims := []domain.PurchasedEsim{{
		ID: 5, EmployeeID: 1, PlanID: 10, Status: domain.StatusWaitingForActivation,
		Metadata: providerMeta(map[string]any{"esimStatus": "GOT_RESOURCE", "qrCodeUrl": "https://qr", "ac": "LPA:1$a$b"}),
	}}

	got := reconcile.Aggregate(1, esims, testPlans, reconcile.Options{})
	require.Len(t, got.Plans, 1)
	assert.Equal(t, domain.StatusWaitingForActivation, got.Plans[0].Status)
	assert.Equal(t, domain.OverallWaiting, got.Overall)
}

func TestAggregate_ActivatedAndCancelled(t *testing.T) {
	esims := []domain.PurchasedEsim{
		{ID: 1, EmployeeID: 1, PlanID: 10, Status: domain.StatusActivated},
		{ID: 2, EmployeeID: 1, PlanID: 11, Status: domain.StatusCancelled},
	}

	got := reconcile.Aggregate(1, esims, testPlans, reconcile.Options{})
	require.Len(t, got.Plans, 1)
	assert.Equal(t, int64(1), got.Plans[0].EsimID)
	assert.Equal(t, domain.OverallActive, got.Overall)
}

func TestAggregate_Mixed(t *testing.T) {
	esims := []domain.PurchasedEsim{
		{ID: 1, EmployeeID: 1, PlanID: 10, Status: domain.StatusActivated},
		{ID: 2, EmployeeID: 1, PlanID: 11, Status: domain.StatusWaitingForActivation},
	}

	got := reconcile.Aggregate(1, esims, testPlans, reconcile.Options{})
	assert.Equal(t, domain.OverallMixed, got.Overall)
	require.Len(t, got.Plans, 2)
}

func TestAggregate_OrderAndPrimary(t *testing.T) {
	esims := []domain.PurchasedEsim{
		{ID: 3, EmployeeID: 1, PlanID: 10, Status: domain.StatusError},
		{ID: 9, EmployeeID: 1, PlanID: 11, Status: domain.StatusExpired},
		{ID: 6, EmployeeID: 1, PlanID: 10, Status: domain.StatusDepleted},
		{ID: 8, EmployeeID: 2, PlanID: 10, Status: domain.StatusActivated},
	}

	got := reconcile.Aggregate(1, esims, testPlans, reconcile.Options{})
	require.Len(t, got.Plans, 3)
	assert.Equal(t, []int64{9, 6, 3}, []int64{got.Plans[0].EsimID, got.Plans[1].EsimID, got.Plans[2].EsimID})
	primary, ok := got.Primary()
	require.True(t, ok)
	assert.Equal(t, int64(9), primary.EsimID)
	assert.Equal(t, domain.OverallNone, got.Overall)
}

func TestAggregate_PendingIsListedWithoutChangingOverall(t *testing.T) {
	esims := []domain.PurchasedEsim{{ID: 5, EmployeeID: 1, PlanID: 10, Status: domain.StatusPending}}

	got := reconcile.Aggregate(1, esims, testPlans, reconcile.Options{})
	require.Len(t, got.Plans, 1)
	assert.Equal(t, int64(5), got.Plans[0].EsimID)
	assert.Equal(t, domain.OverallNone, got.Overall)
}

func TestAggregate_RefiltersWithHint(t *testing.T) {
	updated := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	esims := []domain.PurchasedEsim{{ID: 4, EmployeeID: 1, PlanID: 10, Status: domain.StatusPending, UpdatedAt: updated}}
	hint := domain.CancelMarks{1: {4: updated.Add(time.Minute)}}

	got := reconcile.Aggregate(1, esims, testPlans, reconcile.Options{Hint: hint})
	assert.Empty(t, got.Plans)
	assert.Equal(t, domain.OverallNone, got.Overall)
}

func TestAggregate_UsageAndRemainingTime(t *testing.T) {
	activated := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	now := activated.Add(10 * 24 * time.Hour)

	esims := []domain.PurchasedEsim{
		{
			ID: 1, EmployeeID: 1, PlanID: 10, Status: domain.StatusActivated, ActivatedAt: &activated,
			Metadata: providerMeta(map[string]any{"orderUsage": 1024, "totalVolume": 4096}),
		},
		{
			ID: 2, EmployeeID: 1, PlanID: 11, Status: domain.StatusPending, CreatedAt: now.Add(-time.Hour),
			DataUsed: 0,
		},
	}

	got := reconcile.Aggregate(1, esims, testPlans, reconcile.Options{Now: now})
	require.Len(t, got.Plans, 2)

	pending, active := got.Plans[0], got.Plans[1]

	assert.InDelta(t, 0.25, active.UsageFraction, 1e-9)
	assert.Equal(t, activated.AddDate(0, 0, 30), active.ExpiresAt)
	assert.Equal(t, 20, active.DaysRemaining)
	assert.Equal(t, "Europe (5GB, 30 days)", active.DisplayName)

	assert.Equal(t, int64(1500*1024*1024), pending.DataTotalBytes)
	assert.Zero(t, pending.UsageFraction)
	assert.Equal(t, now.Add(-time.Hour), pending.StartedAt)
	assert.Equal(t, 7, pending.DaysRemaining)
}

func TestAggregate_UnknownPlan(t *testing.T) {
	esims := []domain.PurchasedEsim{{ID: 1, EmployeeID: 1, PlanID: 99, Status: domain.StatusActivated}}

	got := reconcile.Aggregate(1, esims, testPlans, reconcile.Options{})
	require.Len(t, got.Plans, 1)
	assert.Equal(t, "Plan #99", got.Plans[0].DisplayName)
	assert.Zero(t, got.Plans[0].RemainingSeconds)
}

func TestAggregateAll(t *testing.T) {
	esims := []domain.PurchasedEsim{
		{ID: 1, EmployeeID: 1, PlanID: 10, Status: domain.StatusActivated},
		{ID: 2, EmployeeID: 2, PlanID: 10, Status: domain.StatusWaitingForActivation},
	}

	got := reconcile.AggregateAll([]int64{1, 2, 3}, esims, testPlans, reconcile.Options{})
	assert.Equal(t, domain.OverallActive, got[1].Overall)
	assert.Equal(t, domain.OverallWaiting, got[2].Overall)
	assert.Equal(t, domain.OverallNone, got[3].Overall)
}
