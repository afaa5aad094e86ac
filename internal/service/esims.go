package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/resilience"
	"github.com/boddenberg/esim-fleet-bfa/internal/port"
	"github.com/boddenberg/esim-fleet-bfa/internal/reconcile"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var esimTracer = otel.Tracer("service/esims")

// EsimService serves purchased-eSIM listings and keeps local records in step with
// the provider (sweep and webhook).
type EsimService struct {
	store    port.Store
	provider port.EsimProvider
	mailer   port.Mailer
	events   port.EventPublisher
	marks    CancelMarkSource
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewEsimService creates a new eSIM service. maxConcurrency bounds provider queries
// during a sweep.
func NewEsimService(
	store port.Store,
	provider port.EsimProvider,
	mailer port.Mailer,
	events port.EventPublisher,
	marks CancelMarkSource,
	maxConcurrency int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *EsimService {
	return &EsimService{
		store:    store,
		provider: provider,
		mailer:   mailer,
		events:   events,
		marks:    marks,
		bulkhead: resilience.NewBulkhead(maxConcurrency),
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// ============================================================
// ListPurchased: GET /api/esim/purchased
// ============================================================

// ListPurchased returns the company's eSIMs with their effective status. employeeID 0
// lists all of them.
func (s *EsimService) ListPurchased(ctx context.Context, companyID, employeeID int64) ([]domain.ClassifiedEsim, error) {
	ctx, span := esimTracer.Start(ctx, "EsimService.ListPurchased")
	defer span.End()
	span.SetAttributes(attribute.Int64("company.id", companyID), attribute.Int64("employee.id", employeeID))

	var (
		esims []domain.PurchasedEsim
		plans []domain.EsimPlan
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if employeeID > 0 {
			esims, err = s.store.ListEsimsByEmployee(gctx, companyID, employeeID)
		} else {
			esims, err = s.store.ListEsimsByCompany(gctx, companyID)
		}
		if err != nil {
			return fmt.Errorf("list esims: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if plans, err = s.store.ListPlans(gctx); err != nil {
			return fmt.Errorf("list plans: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	planNames := make(map[int64]string, len(plans))
	for _, p := range plans {
		planNames[p.ID] = p.Name
	}

	employeeIDs := make([]int64, 0)
	seen := make(map[int64]bool)
	for _, e := range esims {
		if !seen[e.EmployeeID] {
			seen[e.EmployeeID] = true
			employeeIDs = append(employeeIDs, e.EmployeeID)
		}
	}
	hint := s.marks.RecentlyCancelled(ctx, employeeIDs...)

	out := make([]domain.ClassifiedEsim, 0, len(esims))
	for i := range esims {
		e := &esims[i]
		out = append(out, domain.ClassifiedEsim{
			PurchasedEsim: *e,
			Effective:     reconcile.Classify(reconcile.InputOf(e)),
			Cancelled:     reconcile.IsCancelledOrRefunded(e, hint),
			PlanName:      planNames[e.PlanID],
		})
	}
	return out, nil
}

// ============================================================
// ResendActivationEmail: POST /api/esim/{id}/resend-email
// ============================================================

// ResendActivationEmail mails the activation details again. Only records that are not
// cancelled and already carry both QR URL and activation code qualify.
func (s *EsimService) ResendActivationEmail(ctx context.Context, companyID, esimID int64) error {
	ctx, span := esimTracer.Start(ctx, "EsimService.ResendActivationEmail")
	defer span.End()

	esim, err := s.store.GetEsim(ctx, companyID, esimID)
	if err != nil {
		return err
	}
	if reconcile.IsCancelledOrRefunded(esim, s.marks.RecentlyCancelled(ctx, esim.EmployeeID)) {
		return &domain.ErrConflict{Message: "esim is cancelled"}
	}
	qr, code := reconcile.ActivationDetails(esim.Metadata)
	if qr == "" || code == "" {
		return &domain.ErrConflict{Message: "activation details are not available yet"}
	}

	employee, err := s.store.GetEmployee(ctx, companyID, esim.EmployeeID)
	if err != nil {
		return err
	}
	if employee.Email == "" {
		return &domain.ErrValidation{Field: "email", Message: "employee has no email address"}
	}
	plan, err := s.store.GetPlan(ctx, esim.PlanID)
	if err != nil {
		return err
	}

	err = s.mailer.SendActivation(ctx, port.ActivationEmail{
		To:             employee.Email,
		EmployeeName:   employee.Name,
		PlanName:       plan.Name,
		QRCodeURL:      qr,
		ActivationCode: code,
		ValidityDays:   plan.ValidityDays,
	})
	if err != nil {
		s.metrics.IncrExternalError("mailer")
		return &domain.ErrExternalService{Service: "mailer", Err: err}
	}
	s.logger.Info("activation email resent",
		zap.Int64("esim_id", esim.ID),
		zap.Int64("employee_id", employee.ID),
	)
	return nil
}

// ============================================================
// Reconciliation: POST /api/esim/sync, SyncWorker, webhook
// ============================================================

// SyncAll reconciles up to limit non-terminal records across all companies.
func (s *EsimService) SyncAll(ctx context.Context, limit int) (*domain.SyncResult, error) {
	ctx, span := esimTracer.Start(ctx, "EsimService.SyncAll")
	defer span.End()

	esims, err := s.store.ListEsimsForSync(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list esims for sync: %w", err)
	}
	return s.syncRecords(ctx, esims), nil
}

// SyncCompany reconciles one company's records.
func (s *EsimService) SyncCompany(ctx context.Context, companyID int64) (*domain.SyncResult, error) {
	ctx, span := esimTracer.Start(ctx, "EsimService.SyncCompany")
	defer span.End()
	span.SetAttributes(attribute.Int64("company.id", companyID))

	esims, err := s.store.ListEsimsByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list esims: %w", err)
	}
	return s.syncRecords(ctx, esims), nil
}

func (s *EsimService) syncRecords(ctx context.Context, esims []domain.PurchasedEsim) *domain.SyncResult {
	start := s.now()
	var checked, updated, anomalies, failed atomic.Int64

	var g errgroup.Group
	for i := range esims {
		e := &esims[i]
		if e.ProviderOrderID == "" || reconcile.IsCancelledOrRefunded(e, nil) {
			continue
		}
		g.Go(func() error {
			if err := s.bulkhead.Acquire(ctx); err != nil {
				failed.Add(1)
				return nil
			}
			defer s.bulkhead.Release()

			checked.Add(1)
			raw, _, err := s.provider.Query(ctx, e.ProviderOrderID)
			if err != nil {
				failed.Add(1)
				s.logger.Warn("sync: provider query failed",
					zap.Int64("esim_id", e.ID),
					zap.String("order_no", e.ProviderOrderID),
					zap.Error(err),
				)
				return nil
			}
			out, err := s.apply(ctx, e, raw, "sync")
			if err != nil {
				failed.Add(1)
				return nil
			}
			if out.Anomaly {
				anomalies.Add(1)
			}
			if out.StatusChanged {
				updated.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &domain.SyncResult{
		Checked:   int(checked.Load()),
		Updated:   int(updated.Load()),
		Anomalies: int(anomalies.Load()),
		Failed:    int(failed.Load()),
	}
	s.metrics.RecordRequestDuration("sync", time.Since(start))
	s.logger.Info("sync sweep finished",
		zap.Int("checked", res.Checked),
		zap.Int("updated", res.Updated),
		zap.Int("anomalies", res.Anomalies),
		zap.Int("failed", res.Failed),
	)
	return res
}

// ApplyWebhook merges a provider status push into the matching record.
func (s *EsimService) ApplyWebhook(ctx context.Context, report domain.ProviderStatusReport) (*reconcile.Outcome, error) {
	ctx, span := esimTracer.Start(ctx, "EsimService.ApplyWebhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.no", report.OrderNo),
		attribute.String("notify.type", report.NotifyType),
	)

	if report.OrderNo == "" {
		return nil, &domain.ErrValidation{Field: "orderNo", Message: "required"}
	}
	esim, err := s.store.GetEsimByOrder(ctx, report.OrderNo)
	if err != nil {
		return nil, err
	}
	if reconcile.IsCancelledOrRefunded(esim, nil) {
		s.logger.Info("webhook: ignoring report for cancelled esim",
			zap.Int64("esim_id", esim.ID),
			zap.String("esim_status", report.EsimStatus),
		)
		return &reconcile.Outcome{From: esim.Status, To: esim.Status}, nil
	}

	raw, err := webhookPayload(report)
	if err != nil {
		return nil, &domain.ErrValidation{Field: "body", Message: err.Error()}
	}
	return s.apply(ctx, esim, raw, "webhook")
}

// webhookPayload shapes a push like a query response so the classifier reads it the
// same way.
func webhookPayload(report domain.ProviderStatusReport) (json.RawMessage, error) {
	if len(report.Raw) > 0 {
		var probe struct {
			Obj struct {
				EsimList []json.RawMessage `json:"esimList"`
			} `json:"obj"`
		}
		if err := json.Unmarshal(report.Raw, &probe); err == nil && len(probe.Obj.EsimList) > 0 {
			return report.Raw, nil
		}
	}

	var entry json.RawMessage
	if len(report.Raw) > 0 {
		entry = report.Raw
	} else {
		b, err := json.Marshal(report)
		if err != nil {
			return nil, err
		}
		entry = b
	}
	return json.Marshal(map[string]any{
		"obj": map[string]any{"esimList": []json.RawMessage{entry}},
	})
}

// apply runs one provider payload through reconcile and persists the outcome.
func (s *EsimService) apply(ctx context.Context, e *domain.PurchasedEsim, raw json.RawMessage, source string) (*reconcile.Outcome, error) {
	out := reconcile.ApplyProviderReport(e, raw, s.now())

	if out.Anomaly {
		s.metrics.IncrAnomaly(out.From, out.Classification.Status)
		s.logger.Warn("reconcile: disallowed status transition, status kept",
			zap.String("source", source),
			zap.Int64("esim_id", e.ID),
			zap.String("from", string(out.From)),
			zap.String("observed", string(out.Classification.Status)),
			zap.String("rule", out.Classification.Rule),
		)
	}

	if _, err := s.store.UpdateEsim(ctx, e.ID, out.Update); err != nil {
		s.logger.Error("reconcile: failed to persist provider report",
			zap.String("source", source),
			zap.Int64("esim_id", e.ID),
			zap.Error(err),
		)
		return nil, err
	}

	if !out.StatusChanged {
		return &out, nil
	}

	s.logger.Info("esim status changed",
		zap.String("source", source),
		zap.Int64("esim_id", e.ID),
		zap.String("from", string(out.From)),
		zap.String("to", string(out.To)),
	)

	invalidate := []domain.QueryKey{domain.QueryEmployees, domain.QueryPurchasedEsims}
	if s.events != nil {
		s.events.Publish(ctx, domain.Event{Type: domain.EventEsimStatusChange, CompanyID: e.CompanyID, EmployeeID: e.EmployeeID, EsimID: e.ID, Status: out.To, Invalidate: invalidate})
		s.events.Publish(ctx, domain.Event{Type: domain.EventExecutiveUpdate, CompanyID: e.CompanyID, EmployeeID: e.EmployeeID, Invalidate: invalidate})
	}

	if out.To == domain.StatusWaitingForActivation {
		s.notifyWaiting(ctx, e, out.Update.Metadata)
	}
	return &out, nil
}

func (s *EsimService) notifyWaiting(ctx context.Context, e *domain.PurchasedEsim, metadata json.RawMessage) {
	employee, err := s.store.GetEmployee(ctx, e.CompanyID, e.EmployeeID)
	if err != nil {
		s.logger.Warn("reconcile: employee lookup for activation email failed", zap.Int64("esim_id", e.ID), zap.Error(err))
		return
	}
	plan, err := s.store.GetPlan(ctx, e.PlanID)
	if err != nil {
		s.logger.Warn("reconcile: plan lookup for activation email failed", zap.Int64("esim_id", e.ID), zap.Error(err))
		return
	}
	fresh := *e
	fresh.Metadata = metadata
	sendActivationEmail(ctx, s.mailer, s.logger, employee, plan, &fresh)
}
