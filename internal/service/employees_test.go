package service_test

import (
	"context"
	"testing"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEmployeeService(f *fixture) *service.EmployeeService {
	return service.NewEmployeeService(f.store, f.lifecycle, f.events, f.metrics, zap.NewNop())
}

func TestListEmployeeRows_ExpandsOneRowPerPlan(t *testing.T) {
	f := newFixture(t)
	svc := newEmployeeService(f)
	ctx := context.Background()

	other, err := svc.CreateEmployee(ctx, companyID, domain.CreateEmployeeRequest{Name: "Bruno"})
	require.NoError(t, err)

	f.seedEsim(5, domain.StatusActivated, "")
	f.seedEsim(6, domain.StatusWaitingForActivation, "")
	f.seedEsim(7, domain.StatusCancelled, "")

	rows, err := svc.ListEmployeeRows(ctx, companyID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "emp-1-esim-6", rows[0].RowKey)
	assert.Equal(t, "emp-1-esim-5", rows[1].RowKey)
	assert.Equal(t, 2, rows[0].PlanCount)
	assert.Equal(t, domain.OverallMixed, rows[0].Overall)
	require.NotNil(t, rows[0].Plan)
	assert.Equal(t, "Europe (5GB, 30 days)", rows[0].Plan.DisplayName)

	assert.Equal(t, "emp-2", rows[2].RowKey)
	assert.Equal(t, other.ID, rows[2].Employee.ID)
	assert.Nil(t, rows[2].Plan)
	assert.Equal(t, domain.OverallNone, rows[2].Overall)
}

func TestListEmployeeRows_HidesRecentlyCancelled(t *testing.T) {
	f := newFixture(t)
	svc := newEmployeeService(f)
	ctx := context.Background()

	assigned, err := f.lifecycle.AssignPlan(ctx, companyID, domain.AssignPlanRequest{EmployeeID: f.employee.ID, PlanID: planID})
	require.NoError(t, err)
	_, err = f.lifecycle.CancelPlan(ctx, companyID, domain.CancelPlanRequest{EsimID: assigned.Esim.ID, EmployeeID: f.employee.ID})
	require.NoError(t, err)

	rows, err := svc.ListEmployeeRows(ctx, companyID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Plan)
}

func TestBulkCreate_RejectsDuplicateEmailsInBatch(t *testing.T) {
	f := newFixture(t)
	svc := newEmployeeService(f)

	_, err := svc.BulkCreate(context.Background(), companyID, domain.BulkCreateEmployeesRequest{Employees: []domain.CreateEmployeeRequest{
		{Name: "Carla", Email: "carla@acme.test"},
		{Name: "Carla B", Email: " Carla@ACME.test "},
	}})

	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "employees[1].email", ve.Field)
}

func TestBulkCreate_PublishesUpdate(t *testing.T) {
	f := newFixture(t)
	svc := newEmployeeService(f)

	created, err := svc.BulkCreate(context.Background(), companyID, domain.BulkCreateEmployeesRequest{Employees: []domain.CreateEmployeeRequest{
		{Name: "Carla"}, {Name: "Diego", Email: "diego@acme.test"},
	}})
	require.NoError(t, err)
	assert.Len(t, created, 2)
	assert.Equal(t, []domain.EventType{domain.EventExecutiveUpdate}, f.events.types())
}

func TestDeleteEmployee_Guard(t *testing.T) {
	tests := []struct {
		name      string
		status    domain.EsimStatus
		metadata  string
		wantBlock bool
	}{
		{name: "activated blocks", status: domain.StatusActivated, wantBlock: true},
		{name: "waiting blocks", status: domain.StatusWaitingForActivation, wantBlock: true},
		{name: "pending blocks", status: domain.StatusPending, wantBlock: true},
		{name: "provider activated blocks", status: domain.StatusError, metadata: `{"rawData":{"obj":{"esimList":[{"esimStatus":"IN_USE"}]}}}`, wantBlock: true},
		{name: "expired allows", status: domain.StatusExpired},
		{name: "cancelled allows", status: domain.StatusCancelled},
		{name: "refunded pending allows", status: domain.StatusPending, metadata: `{"refunded":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			svc := newEmployeeService(f)
			f.seedEsim(5, tt.status, tt.metadata)

			err := svc.DeleteEmployee(context.Background(), companyID, f.employee.ID)
			if tt.wantBlock {
				var conflict *domain.ErrConflict
				require.ErrorAs(t, err, &conflict)
				return
			}
			require.NoError(t, err)
			_, err = f.store.GetEmployee(context.Background(), companyID, f.employee.ID)
			var nf *domain.ErrNotFound
			assert.ErrorAs(t, err, &nf)
		})
	}
}
