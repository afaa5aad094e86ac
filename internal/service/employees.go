package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/port"
	"github.com/boddenberg/esim-fleet-bfa/internal/reconcile"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var employeeTracer = otel.Tracer("service/employees")

// CancelMarkSource yields the recently-cancelled hint. LifecycleService implements it.
type CancelMarkSource interface {
	RecentlyCancelled(ctx context.Context, employeeIDs ...int64) domain.CancelMarks
}

// EmployeeService serves the employee table and employee management.
type EmployeeService struct {
	store   port.Store
	marks   CancelMarkSource
	events  port.EventPublisher
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewEmployeeService creates a new employee service.
func NewEmployeeService(store port.Store, marks CancelMarkSource, events port.EventPublisher, metrics *observability.Metrics, logger *zap.Logger) *EmployeeService {
	return &EmployeeService{
		store:   store,
		marks:   marks,
		events:  events,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// ============================================================
// ListEmployeeRows: GET /api/employees
// ============================================================

// ListEmployeeRows returns one row per current plan, or a single plan-less row for
// employees without one.
func (s *EmployeeService) ListEmployeeRows(ctx context.Context, companyID int64) ([]domain.EmployeeRow, error) {
	ctx, span := employeeTracer.Start(ctx, "EmployeeService.ListEmployeeRows")
	defer span.End()
	span.SetAttributes(attribute.Int64("company.id", companyID))

	start := s.now()
	defer func() { s.metrics.RecordRequestDuration("list_employees", time.Since(start)) }()

	var (
		employees []domain.Employee
		esims     []domain.PurchasedEsim
		plans     []domain.EsimPlan
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		employees, err = s.store.ListEmployees(gctx, companyID)
		if err != nil {
			return fmt.Errorf("list employees: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		esims, err = s.store.ListEsimsByCompany(gctx, companyID)
		if err != nil {
			return fmt.Errorf("list esims: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		plans, err = s.store.ListPlans(gctx)
		if err != nil {
			return fmt.Errorf("list plans: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]int64, len(employees))
	for i, e := range employees {
		ids[i] = e.ID
	}

	byEmployee := reconcile.AggregateAll(ids, esims, plans, reconcile.Options{
		Now:  s.now(),
		Hint: s.marks.RecentlyCancelled(ctx, ids...),
	})

	rows := make([]domain.EmployeeRow, 0, len(employees))
	for _, emp := range employees {
		rows = append(rows, expandRows(emp, byEmployee[emp.ID])...)
	}

	s.logger.Debug("employee rows built",
		zap.Int64("company_id", companyID),
		zap.Int("employees", len(employees)),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

// expandRows turns one employee's aggregate into table rows.
func expandRows(emp domain.Employee, agg domain.EmployeePlans) []domain.EmployeeRow {
	if agg.Overall == "" {
		agg.Overall = domain.OverallNone
	}
	if len(agg.Plans) == 0 {
		return []domain.EmployeeRow{{
			RowKey:   fmt.Sprintf("emp-%d", emp.ID),
			Employee: emp,
			Overall:  agg.Overall,
		}}
	}
	rows := make([]domain.EmployeeRow, 0, len(agg.Plans))
	for i := range agg.Plans {
		p := agg.Plans[i]
		rows = append(rows, domain.EmployeeRow{
			RowKey:    fmt.Sprintf("emp-%d-esim-%d", emp.ID, p.EsimID),
			Employee:  emp,
			Plan:      &p,
			PlanCount: len(agg.Plans),
			Overall:   agg.Overall,
		})
	}
	return rows
}

// GetEmployeePlans returns the aggregated plans of a single employee.
func (s *EmployeeService) GetEmployeePlans(ctx context.Context, companyID, employeeID int64) (*domain.EmployeePlans, error) {
	ctx, span := employeeTracer.Start(ctx, "EmployeeService.GetEmployeePlans")
	defer span.End()

	if _, err := s.store.GetEmployee(ctx, companyID, employeeID); err != nil {
		return nil, err
	}
	esims, err := s.store.ListEsimsByEmployee(ctx, companyID, employeeID)
	if err != nil {
		return nil, fmt.Errorf("list employee esims: %w", err)
	}
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	agg := reconcile.Aggregate(employeeID, esims, plans, reconcile.Options{
		Now:  s.now(),
		Hint: s.marks.RecentlyCancelled(ctx, employeeID),
	})
	return &agg, nil
}

// ============================================================
// CreateEmployee / BulkCreate: POST /api/employees[/bulk]
// ============================================================

// CreateEmployee adds a single employee.
func (s *EmployeeService) CreateEmployee(ctx context.Context, companyID int64, req domain.CreateEmployeeRequest) (*domain.Employee, error) {
	created, err := s.BulkCreate(ctx, companyID, domain.BulkCreateEmployeesRequest{Employees: []domain.CreateEmployeeRequest{req}})
	if err != nil {
		return nil, err
	}
	return &created[0], nil
}

// BulkCreate adds several employees in one write. Emails must be unique within the batch.
func (s *EmployeeService) BulkCreate(ctx context.Context, companyID int64, req domain.BulkCreateEmployeesRequest) ([]domain.Employee, error) {
	ctx, span := employeeTracer.Start(ctx, "EmployeeService.BulkCreate")
	defer span.End()
	span.SetAttributes(attribute.Int("employees.count", len(req.Employees)))

	if len(req.Employees) == 0 {
		return nil, &domain.ErrValidation{Field: "employees", Message: "at least one employee is required"}
	}

	seen := make(map[string]int, len(req.Employees))
	for i := range req.Employees {
		r := &req.Employees[i]
		r.Name = strings.TrimSpace(r.Name)
		r.Email = strings.ToLower(strings.TrimSpace(r.Email))
		if r.Name == "" {
			return nil, &domain.ErrValidation{Field: fmt.Sprintf("employees[%d].name", i), Message: "required"}
		}
		if r.Email == "" {
			continue
		}
		if j, dup := seen[r.Email]; dup {
			return nil, &domain.ErrValidation{
				Field:   fmt.Sprintf("employees[%d].email", i),
				Message: fmt.Sprintf("duplicate of employees[%d]", j),
			}
		}
		seen[r.Email] = i
	}

	created, err := s.store.CreateEmployees(ctx, companyID, req.Employees)
	if err != nil {
		return nil, err
	}

	s.logger.Info("employees created",
		zap.Int64("company_id", companyID),
		zap.Int("count", len(created)),
	)
	s.publishUpdate(ctx, companyID, 0)
	return created, nil
}

// ============================================================
// DeleteEmployee: DELETE /api/employees/{id}
// ============================================================

// blockingStatuses keep an employee from being deleted.
var blockingStatuses = map[domain.EsimStatus]bool{
	domain.StatusActivated:            true,
	domain.StatusWaitingForActivation: true,
	domain.StatusPending:              true,
}

// DeleteEmployee removes an employee who holds no live plan.
func (s *EmployeeService) DeleteEmployee(ctx context.Context, companyID, employeeID int64) error {
	ctx, span := employeeTracer.Start(ctx, "EmployeeService.DeleteEmployee")
	defer span.End()

	if _, err := s.store.GetEmployee(ctx, companyID, employeeID); err != nil {
		return err
	}
	esims, err := s.store.ListEsimsByEmployee(ctx, companyID, employeeID)
	if err != nil {
		return fmt.Errorf("list employee esims: %w", err)
	}
	for i := range esims {
		e := &esims[i]
		if reconcile.IsCancelledOrRefunded(e, nil) {
			continue
		}
		if c := reconcile.Classify(reconcile.InputOf(e)); blockingStatuses[c.Status] {
			return &domain.ErrConflict{Message: fmt.Sprintf("employee has a %s plan (esim %d); cancel it first", c.Status, e.ID)}
		}
	}

	if err := s.store.DeleteEmployee(ctx, companyID, employeeID); err != nil {
		return err
	}
	s.logger.Info("employee deleted",
		zap.Int64("company_id", companyID),
		zap.Int64("employee_id", employeeID),
	)
	s.publishUpdate(ctx, companyID, employeeID)
	return nil
}

func (s *EmployeeService) publishUpdate(ctx context.Context, companyID, employeeID int64) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, domain.Event{
		Type:       domain.EventExecutiveUpdate,
		CompanyID:  companyID,
		EmployeeID: employeeID,
		Invalidate: []domain.QueryKey{domain.QueryEmployees},
	})
}
