package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// AssignPlan
// ============================================================

func TestAssignPlan_AllocatedProfileWaitsForActivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.lifecycle.AssignPlan(ctx, companyID, domain.AssignPlanRequest{EmployeeID: f.employee.ID, PlanID: planID})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusWaitingForActivation, res.Esim.Status)
	assert.Equal(t, "B100", res.Esim.ProviderOrderID)
	assert.Equal(t, "8944000000000000001", res.Esim.ICCID)
	assert.True(t, res.Esim.PricePaid.Equal(planPrice))
	assert.Equal(t, domain.StatusWaitingForActivation, res.Classification.Status)
	assert.True(t, res.EmailSent)
	assert.ElementsMatch(t, domain.LifecycleInvalidations(), res.Invalidate)

	require.Len(t, res.Plans.Plans, 1, "the new plan is part of the immediate hint")
	assert.Equal(t, res.Esim.ID, res.Plans.Plans[0].EsimID)
	assert.Equal(t, domain.OverallWaiting, res.Plans.Overall)

	assert.Equal(t, "70.10", balance(t, f.store))

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "ana@acme.test", f.mailer.sent[0].To)
	assert.Equal(t, "LPA:1$smdp.example$ABC", f.mailer.sent[0].ActivationCode)

	require.Len(t, f.provider.orders, 1)
	assert.Equal(t, "EU-5GB-30D", f.provider.orders[0].PackageCode)
	assert.NotEmpty(t, f.provider.orders[0].TransactionID)

	assert.Len(t, f.archiver.keys, 1)
	assert.Equal(t, []domain.EventType{
		domain.EventPlanAssignmentStarted,
		domain.EventPlanAssignmentCompleted,
		domain.EventEsimStatusChange,
		domain.EventExecutiveUpdate,
	}, f.events.types())

	assert.Equal(t, int64(1), f.metrics.GetLifecycleSnapshot().Assigned)
}

func TestAssignPlan_UnallocatedProfileIsPending(t *testing.T) {
	f := newFixture(t)
	f.provider.order.Profile = nil
	f.provider.order.Query = nil

	res, err := f.lifecycle.AssignPlan(context.Background(), companyID, domain.AssignPlanRequest{EmployeeID: f.employee.ID, PlanID: planID})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, res.Esim.Status)
	assert.False(t, res.EmailSent)
	assert.Empty(t, f.mailer.sent)
	assert.Equal(t, domain.StatusPending, res.Plans.Plans[0].Status)
	assert.Equal(t, domain.OverallNone, res.Plans.Overall)
}

func TestAssignPlan_InsufficientFundsNeverCallsProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.AddTransaction(context.Background(), domain.WalletTransaction{
		CompanyID: companyID, Type: domain.TxDebit, Amount: planPrice.Mul(planPrice),
	})
	require.NoError(t, err)

	_, err = f.lifecycle.AssignPlan(context.Background(), companyID, domain.AssignPlanRequest{EmployeeID: f.employee.ID, PlanID: planID})

	var insufficient *domain.ErrInsufficientFunds
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Required.Equal(planPrice))
	assert.Equal(t, 0, f.provider.orderCount())
	assert.Empty(t, f.events.types())
}

func TestAssignPlan_ProviderErrorLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.provider.orderErr = &domain.ErrProvider{Code: "200007", Message: "insufficient account balance"}

	_, err := f.lifecycle.AssignPlan(context.Background(), companyID, domain.AssignPlanRequest{
		EmployeeID: f.employee.ID, PlanID: planID, IdempotencyKey: "k-1",
	})

	var provErr *domain.ErrProvider
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "insufficient account balance", provErr.Message)

	esims, err := f.store.ListEsimsByEmployee(context.Background(), companyID, f.employee.ID)
	require.NoError(t, err)
	assert.Empty(t, esims)
	assert.Equal(t, "100.00", balance(t, f.store))
	assert.Contains(t, f.events.types(), domain.EventPlanAssignmentFailed)

	// The key is released so the same request can be retried.
	f.provider.orderErr = nil
	_, err = f.lifecycle.AssignPlan(context.Background(), companyID, domain.AssignPlanRequest{
		EmployeeID: f.employee.ID, PlanID: planID, IdempotencyKey: "k-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.provider.orderCount())
}

func TestAssignPlan_IdempotencyKeyBlocksDoubleSubmit(t *testing.T) {
	f := newFixture(t)
	req := domain.AssignPlanRequest{EmployeeID: f.employee.ID, PlanID: planID, IdempotencyKey: "click-1"}

	_, err := f.lifecycle.AssignPlan(context.Background(), companyID, req)
	require.NoError(t, err)

	_, err = f.lifecycle.AssignPlan(context.Background(), companyID, req)
	var dup *domain.ErrDuplicate
	require.ErrorAs(t, err, &dup)

	assert.Equal(t, 1, f.provider.orderCount())
	assert.Equal(t, "70.10", balance(t, f.store))
}

func TestAssignPlan_WithoutKeyAssignsTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := domain.AssignPlanRequest{EmployeeID: f.employee.ID, PlanID: planID}

	first, err := f.lifecycle.AssignPlan(ctx, companyID, req)
	require.NoError(t, err)
	second, err := f.lifecycle.AssignPlan(ctx, companyID, req)
	require.NoError(t, err)

	assert.NotEqual(t, first.Esim.ID, second.Esim.ID)
	assert.Equal(t, 2, f.provider.orderCount())
	assert.Equal(t, "40.20", balance(t, f.store))

	txs, err := f.store.ListTransactions(ctx, companyID, 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, fmt.Sprintf("esim:%d:purchase", second.Esim.ID), txs[0].Reference)
	assert.Equal(t, fmt.Sprintf("esim:%d:purchase", first.Esim.ID), txs[1].Reference)
}

func TestAssignPlan_UnknownEmployee(t *testing.T) {
	f := newFixture(t)

	_, err := f.lifecycle.AssignPlan(context.Background(), companyID, domain.AssignPlanRequest{EmployeeID: 999, PlanID: planID})

	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 0, f.provider.orderCount())
}

func TestAssignPlan_EmailFailureDoesNotFailAssignment(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("smtp down")

	res, err := f.lifecycle.AssignPlan(context.Background(), companyID, domain.AssignPlanRequest{EmployeeID: f.employee.ID, PlanID: planID})
	require.NoError(t, err)
	assert.False(t, res.EmailSent)
	assert.Equal(t, domain.StatusWaitingForActivation, res.Esim.Status)
}

// ============================================================
// CancelPlan
// ============================================================

func TestCancelPlan_WaitingIsRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assigned, err := f.lifecycle.AssignPlan(ctx, companyID, domain.AssignPlanRequest{EmployeeID: f.employee.ID, PlanID: planID})
	require.NoError(t, err)
	require.Equal(t, "70.10", balance(t, f.store))

	res, err := f.lifecycle.CancelPlan(ctx, companyID, domain.CancelPlanRequest{EsimID: assigned.Esim.ID, EmployeeID: f.employee.ID})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCancelled, res.Esim.Status)
	assert.True(t, res.ProviderCancelled)
	assert.True(t, res.Refunded.Equal(planPrice))
	assert.False(t, res.AlreadyCancelled)
	assert.Equal(t, "100.00", balance(t, f.store))
	assert.Equal(t, []string{"B100/T100"}, f.provider.cancels)

	meta := domain.DecodeMetadata(res.Esim.Metadata)
	assert.Equal(t, true, meta[domain.MetaIsCancelled])
	assert.Equal(t, true, meta[domain.MetaRefunded])

	marks := f.lifecycle.RecentlyCancelled(ctx, f.employee.ID)
	_, marked := marks.CancelledAt(f.employee.ID, assigned.Esim.ID)
	assert.True(t, marked)

	assert.Contains(t, f.events.types(), domain.EventPlanCancelled)
	assert.Len(t, f.archiver.keys, 2, "purchase receipt and credit note")
}

func TestCancelPlan_ActivatedIsRejected(t *testing.T) {
	f := newFixture(t)
	e := f.seedEsim(5, domain.StatusActivated, "")

	_, err := f.lifecycle.CancelPlan(context.Background(), companyID, domain.CancelPlanRequest{EsimID: e.ID, EmployeeID: f.employee.ID})

	var notAllowed *domain.ErrCancelNotAllowed
	require.ErrorAs(t, err, &notAllowed)
	assert.Equal(t, domain.StatusActivated, notAllowed.Status)
	assert.Empty(t, f.provider.cancels)
	assert.Equal(t, "100.00", balance(t, f.store))
	assert.Equal(t, int64(1), f.metrics.GetLifecycleSnapshot().CancelRejected)
}

func TestCancelPlan_ProviderActivatedIsRejected(t *testing.T) {
	f := newFixture(t)
	e := f.seedEsim(5, domain.StatusPending, `{"rawData":{"obj":{"esimList":[{"esimStatus":"IN_USE"}]}}}`)

	_, err := f.lifecycle.CancelPlan(context.Background(), companyID, domain.CancelPlanRequest{EsimID: e.ID, EmployeeID: f.employee.ID})

	var notAllowed *domain.ErrCancelNotAllowed
	require.ErrorAs(t, err, &notAllowed)
	assert.Equal(t, domain.StatusActivated, notAllowed.Status)
}

func TestCancelPlan_AlreadyCancelledIsNoOp(t *testing.T) {
	f := newFixture(t)
	e := f.seedEsim(5, domain.StatusPending, `{"isCancelled":true,"refunded":true}`)

	res, err := f.lifecycle.CancelPlan(context.Background(), companyID, domain.CancelPlanRequest{EsimID: e.ID, EmployeeID: f.employee.ID})
	require.NoError(t, err)

	assert.True(t, res.AlreadyCancelled)
	assert.True(t, res.Refunded.IsZero())
	assert.Empty(t, f.provider.cancels)
	assert.Equal(t, "100.00", balance(t, f.store))
}

func TestCancelPlan_ProviderFailureStillCancelsLocally(t *testing.T) {
	f := newFixture(t)
	f.provider.cancelErr = errors.New("timeout")
	e := f.seedEsim(5, domain.StatusError, "")

	res, err := f.lifecycle.CancelPlan(context.Background(), companyID, domain.CancelPlanRequest{EsimID: e.ID, EmployeeID: f.employee.ID})
	require.NoError(t, err)

	assert.False(t, res.ProviderCancelled)
	assert.Equal(t, domain.StatusCancelled, res.Esim.Status)
	assert.Equal(t, "129.90", balance(t, f.store))
	meta := domain.DecodeMetadata(res.Esim.Metadata)
	assert.Equal(t, false, meta[domain.MetaProviderCancelled])
}

func TestCancelPlan_FallsBackToLatestCancellable(t *testing.T) {
	f := newFixture(t)
	f.seedEsim(5, domain.StatusPending, "")
	f.seedEsim(6, domain.StatusError, "")
	f.seedEsim(7, domain.StatusActivated, "")

	res, err := f.lifecycle.CancelPlan(context.Background(), companyID, domain.CancelPlanRequest{EsimID: 404, EmployeeID: f.employee.ID})
	require.NoError(t, err)

	assert.True(t, res.ResolvedByFallback)
	assert.Equal(t, int64(6), res.Esim.ID)
}

func TestCancelPlan_NotFoundWithoutFallback(t *testing.T) {
	f := newFixture(t)
	f.seedEsim(7, domain.StatusActivated, "")

	_, err := f.lifecycle.CancelPlan(context.Background(), companyID, domain.CancelPlanRequest{EsimID: 404, EmployeeID: f.employee.ID})

	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestCancelPlan_EmployeeMismatch(t *testing.T) {
	f := newFixture(t)
	e := f.seedEsim(5, domain.StatusPending, "")

	_, err := f.lifecycle.CancelPlan(context.Background(), companyID, domain.CancelPlanRequest{EsimID: e.ID, EmployeeID: f.employee.ID + 1})

	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)
}

func TestCancelPlan_RefundIsNotAppliedTwice(t *testing.T) {
	f := newFixture(t)
	e := f.seedEsim(5, domain.StatusPending, "")
	_, err := f.store.AddTransaction(context.Background(), domain.WalletTransaction{
		CompanyID: companyID, Type: domain.TxCredit, Amount: planPrice, Reference: "esim:5:refund",
	})
	require.NoError(t, err)

	res, err := f.lifecycle.CancelPlan(context.Background(), companyID, domain.CancelPlanRequest{EsimID: e.ID, EmployeeID: f.employee.ID})
	require.NoError(t, err)

	assert.True(t, res.Refunded.IsZero())
	assert.Equal(t, "129.90", balance(t, f.store))
}

// ============================================================
// ToggleAutoRenewal
// ============================================================

func TestToggleAutoRenewal(t *testing.T) {
	tests := []struct {
		name     string
		status   domain.EsimStatus
		metadata string
		enabled  bool
		drain    bool
		wantErr  any
	}{
		{name: "enable activated", status: domain.StatusActivated, enabled: true},
		{name: "enable waiting", status: domain.StatusWaitingForActivation, enabled: true},
		{name: "enable pending rejected", status: domain.StatusPending, enabled: true, wantErr: &domain.ErrConflict{}},
		{name: "enable cancelled rejected", status: domain.StatusCancelled, enabled: true, wantErr: &domain.ErrConflict{}},
		{name: "enable flagged cancelled rejected", status: domain.StatusActivated, metadata: `{"refunded":true}`, enabled: true, wantErr: &domain.ErrConflict{}},
		{name: "enable without funds", status: domain.StatusActivated, enabled: true, drain: true, wantErr: &domain.ErrInsufficientFunds{}},
		{name: "disable is always allowed", status: domain.StatusPending, enabled: false},
		{name: "disable without funds", status: domain.StatusCancelled, enabled: false, drain: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.seedEsim(5, tt.status, tt.metadata)
			if tt.drain {
				_, err := f.store.AddTransaction(context.Background(), domain.WalletTransaction{
					CompanyID: companyID, Type: domain.TxDebit, Amount: planPrice.Mul(planPrice),
				})
				require.NoError(t, err)
			}

			res, err := f.lifecycle.ToggleAutoRenewal(context.Background(), companyID, e.ID, tt.enabled)

			switch want := tt.wantErr.(type) {
			case *domain.ErrConflict:
				require.ErrorAs(t, err, &want)
				return
			case *domain.ErrInsufficientFunds:
				require.ErrorAs(t, err, &want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, res.Esim.AutoRenewEnabled)
			assert.Contains(t, f.events.types(), domain.EventAutoRenewal)
		})
	}
}
