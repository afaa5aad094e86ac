package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/port"
	"github.com/boddenberg/esim-fleet-bfa/internal/reconcile"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var lifecycleTracer = otel.Tracer("service/lifecycle")

// Statuses from which a plan may still be cancelled and refunded.
var cancellableStatuses = map[domain.EsimStatus]bool{
	domain.StatusError:                true,
	domain.StatusWaitingForActivation: true,
	domain.StatusPending:              true,
}

// Statuses for which auto-renewal may be switched on.
var renewableStatuses = map[domain.EsimStatus]bool{
	domain.StatusActivated:            true,
	domain.StatusWaitingForActivation: true,
}

// LifecycleDeps groups the collaborators of LifecycleService.
type LifecycleDeps struct {
	Store          port.Store
	Provider       port.EsimProvider
	Mailer         port.Mailer
	Archiver       port.ReceiptArchiver // optional
	Events         port.EventPublisher
	Idempotency    port.IdempotencyStore
	Cancellations  port.CancellationTracker
	IdempotencyTTL time.Duration
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// LifecycleService coordinates the side-effecting plan actions: assign, cancel and
// auto-renew. None of them is atomic; each step is logged and a failed secondary
// step never undoes a provider call that already happened.
type LifecycleService struct {
	store       port.Store
	provider    port.EsimProvider
	mailer      port.Mailer
	archiver    port.ReceiptArchiver
	events      port.EventPublisher
	idempotency port.IdempotencyStore
	cancels     port.CancellationTracker
	idemTTL     time.Duration
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewLifecycleService creates the coordinator.
func NewLifecycleService(d LifecycleDeps) *LifecycleService {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LifecycleService{
		store:       d.Store,
		provider:    d.Provider,
		mailer:      d.Mailer,
		archiver:    d.Archiver,
		events:      d.Events,
		idempotency: d.Idempotency,
		cancels:     d.Cancellations,
		idemTTL:     ttl,
		metrics:     d.Metrics,
		logger:      d.Logger,
		now:         time.Now,
	}
}

// ============================================================
// AssignPlan: POST /api/esim/purchase
// ============================================================

// AssignPlan buys a plan for an employee: balance check, provider order, local record,
// wallet debit, activation email and events, in that order.
func (s *LifecycleService) AssignPlan(ctx context.Context, companyID int64, req domain.AssignPlanRequest) (*domain.AssignPlanResult, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.AssignPlan")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("company.id", companyID),
		attribute.Int64("employee.id", req.EmployeeID),
		attribute.Int64("plan.id", req.PlanID),
	)

	start := s.now()
	defer func() { s.metrics.RecordRequestDuration("assign_plan", time.Since(start)) }()

	if req.EmployeeID <= 0 {
		return nil, &domain.ErrValidation{Field: "employeeId", Message: "required"}
	}
	if req.PlanID <= 0 {
		return nil, &domain.ErrValidation{Field: "planId", Message: "required"}
	}

	idemKey, err := s.reserve(ctx, "assign", companyID, req.IdempotencyKey)
	if err != nil {
		s.metrics.IncrLifecycleAction("assign", "duplicate")
		return nil, err
	}
	provisioned := false
	defer func() {
		if !provisioned {
			s.release(ctx, idemKey)
		}
	}()

	employee, err := s.store.GetEmployee(ctx, companyID, req.EmployeeID)
	if err != nil {
		s.metrics.IncrLifecycleAction("assign", "error")
		return nil, err
	}
	plan, err := s.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		s.metrics.IncrLifecycleAction("assign", "error")
		return nil, err
	}

	balance, err := s.store.GetBalance(ctx, companyID)
	if err != nil {
		s.metrics.IncrLifecycleAction("assign", "error")
		return nil, fmt.Errorf("get wallet balance: %w", err)
	}
	if balance.LessThan(plan.RetailPrice) {
		s.metrics.IncrLifecycleAction("assign", "insufficient_funds")
		return nil, &domain.ErrInsufficientFunds{Available: balance, Required: plan.RetailPrice}
	}

	s.publish(ctx, domain.Event{
		Type:       domain.EventPlanAssignmentStarted,
		CompanyID:  companyID,
		EmployeeID: employee.ID,
	})

	// The provider call is not cancellable once issued.
	pctx := context.WithoutCancel(ctx)

	order, err := s.provider.Order(pctx, domain.ProviderOrderRequest{
		TransactionID: uuid.NewString(),
		PackageCode:   plan.ProviderPlanID,
		Count:         1,
	})
	if err != nil {
		s.metrics.IncrLifecycleAction("assign", "provider_error")
		s.logger.Warn("plan assignment: provider order failed",
			zap.Int64("company_id", companyID),
			zap.Int64("employee_id", employee.ID),
			zap.String("package_code", plan.ProviderPlanID),
			zap.Error(err),
		)
		s.publishFailed(ctx, companyID, employee.ID, err)
		return nil, err
	}
	provisioned = true

	status, metadata := initialState(order)
	newEsim := domain.NewEsim{
		CompanyID:       companyID,
		EmployeeID:      employee.ID,
		PlanID:          plan.ID,
		ProviderOrderID: order.OrderNo,
		Status:          status,
		PricePaid:       plan.RetailPrice,
		Metadata:        metadata,
	}
	if order.Profile != nil {
		newEsim.ICCID = order.Profile.ICCID
	}

	esim, err := s.store.CreateEsim(pctx, newEsim)
	if err != nil {
		s.metrics.IncrLifecycleAction("assign", "partial_failure")
		s.metrics.IncrPartialFailure("persist")
		s.logger.Error("plan assignment: provider order placed but local record not saved",
			zap.Int64("company_id", companyID),
			zap.Int64("employee_id", employee.ID),
			zap.String("order_no", order.OrderNo),
			zap.Error(err),
		)
		s.publishFailed(ctx, companyID, employee.ID, err)
		return nil, &domain.ErrPartialFailure{Stage: "persist", ProviderOrderID: order.OrderNo, Err: err}
	}

	if _, err := s.store.AddTransaction(pctx, domain.WalletTransaction{
		CompanyID:   companyID,
		Type:        domain.TxDebit,
		Amount:      plan.RetailPrice,
		Description: fmt.Sprintf("eSIM plan %s for %s", plan.Name, employee.Name),
		Reference:   fmt.Sprintf("esim:%d:purchase", esim.ID),
	}); err != nil {
		s.metrics.IncrPartialFailure("debit")
		s.logger.Error("failed to debit wallet after plan assignment",
			zap.Int64("company_id", companyID),
			zap.Int64("esim_id", esim.ID),
			zap.String("amount", plan.RetailPrice.String()),
			zap.Error(err),
		)
	}

	emailSent := false
	if status == domain.StatusWaitingForActivation {
		emailSent = s.sendActivation(pctx, employee, plan, esim)
	}

	s.archive(pctx, domain.Receipt{
		Kind:       "receipt",
		CompanyID:  companyID,
		EmployeeID: employee.ID,
		EsimID:     esim.ID,
		PlanID:     plan.ID,
		PlanName:   plan.Name,
		Amount:     plan.RetailPrice,
		OrderID:    order.OrderNo,
		IssuedAt:   s.now().UTC(),
	})

	s.metrics.IncrLifecycleAction("assign", "ok")
	s.logger.Info("plan assigned",
		zap.Int64("company_id", companyID),
		zap.Int64("employee_id", employee.ID),
		zap.Int64("esim_id", esim.ID),
		zap.String("order_no", order.OrderNo),
		zap.String("status", string(status)),
	)

	invalidate := domain.LifecycleInvalidations()
	s.publish(ctx, domain.Event{Type: domain.EventPlanAssignmentCompleted, CompanyID: companyID, EmployeeID: employee.ID, EsimID: esim.ID, Status: status, Invalidate: invalidate})
	s.publish(ctx, domain.Event{Type: domain.EventEsimStatusChange, CompanyID: companyID, EmployeeID: employee.ID, EsimID: esim.ID, Status: status, Invalidate: invalidate})
	s.publish(ctx, domain.Event{Type: domain.EventExecutiveUpdate, CompanyID: companyID, EmployeeID: employee.ID, Invalidate: invalidate})

	return &domain.AssignPlanResult{
		Esim:           esim,
		Classification: reconcile.Classify(reconcile.InputOf(esim)),
		Plans:          s.employeePlans(pctx, companyID, employee.ID, esim),
		EmailSent:      emailSent,
		Invalidate:     invalidate,
	}, nil
}

// initialState decides the first local status and metadata of a new record.
func initialState(order *domain.ProviderOrder) (domain.EsimStatus, json.RawMessage) {
	meta := map[string]any{"orderNo": order.OrderNo, "transactionId": order.TransactionID}
	if len(order.Query) > 0 {
		var raw any
		if err := json.Unmarshal(order.Query, &raw); err == nil {
			meta[domain.MetaRawData] = raw
		}
	}
	encoded := domain.MergeMetadata(nil, meta)

	if p := order.Profile; p != nil && p.QRCodeURL != "" && p.ActivationCode != "" {
		return domain.StatusWaitingForActivation, encoded
	}
	return domain.StatusPending, encoded
}

// ============================================================
// CancelPlan: POST /api/esim/cancel
// ============================================================

// CancelPlan cancels and refunds an eSIM that has not been activated. The provider
// cancel is best-effort; the local cancel and refund proceed either way.
func (s *LifecycleService) CancelPlan(ctx context.Context, companyID int64, req domain.CancelPlanRequest) (*domain.CancelPlanResult, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.CancelPlan")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("company.id", companyID),
		attribute.Int64("esim.id", req.EsimID),
		attribute.Int64("employee.id", req.EmployeeID),
	)

	start := s.now()
	defer func() { s.metrics.RecordRequestDuration("cancel_plan", time.Since(start)) }()

	idemKey, err := s.reserve(ctx, "cancel", companyID, req.IdempotencyKey)
	if err != nil {
		s.metrics.IncrLifecycleAction("cancel", "duplicate")
		return nil, err
	}
	done := false
	defer func() {
		if !done {
			s.release(ctx, idemKey)
		}
	}()

	esim, fallback, err := s.resolveCancelTarget(ctx, companyID, req)
	if err != nil {
		s.metrics.IncrLifecycleAction("cancel", "error")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("esim.resolved_id", esim.ID))

	invalidate := domain.LifecycleInvalidations()

	if reconcile.IsCancelledOrRefunded(esim, nil) {
		done = true
		s.metrics.IncrLifecycleAction("cancel", "already_cancelled")
		return &domain.CancelPlanResult{
			Esim:               esim,
			Refunded:           zeroMoney,
			AlreadyCancelled:   true,
			ResolvedByFallback: fallback,
			Invalidate:         invalidate,
		}, nil
	}

	c := reconcile.Classify(reconcile.InputOf(esim))
	if !cancellableStatuses[c.Status] {
		s.metrics.IncrLifecycleAction("cancel", "rejected")
		s.logger.Info("plan cancel rejected",
			zap.Int64("esim_id", esim.ID),
			zap.String("status", string(c.Status)),
			zap.String("rule", c.Rule),
		)
		return nil, &domain.ErrCancelNotAllowed{EsimID: esim.ID, Status: c.Status}
	}

	pctx := context.WithoutCancel(ctx)

	providerCancelled := false
	if esim.ProviderOrderID != "" {
		if err := s.provider.Cancel(pctx, esim.ProviderOrderID, reconcile.EsimTranNo(esim.Metadata)); err != nil {
			s.logger.Warn("plan cancel: provider cancel failed, cancelling locally",
				zap.Int64("esim_id", esim.ID),
				zap.String("order_no", esim.ProviderOrderID),
				zap.Error(err),
			)
		} else {
			providerCancelled = true
		}
	}

	now := s.now().UTC()
	cancelled := domain.StatusCancelled
	updated, err := s.store.UpdateEsim(pctx, esim.ID, domain.EsimUpdate{
		Status: &cancelled,
		Metadata: domain.MergeMetadata(esim.Metadata, map[string]any{
			domain.MetaIsCancelled:       true,
			domain.MetaRefunded:          true,
			domain.MetaProviderCancelled: providerCancelled,
			domain.MetaCancelledAt:       now.Format(time.RFC3339),
		}),
	})
	if err != nil {
		s.metrics.IncrLifecycleAction("cancel", "partial_failure")
		if providerCancelled {
			s.metrics.IncrPartialFailure("cancel_persist")
			s.logger.Error("plan cancel: provider cancelled but local record not updated",
				zap.Int64("esim_id", esim.ID),
				zap.String("order_no", esim.ProviderOrderID),
				zap.Error(err),
			)
			return nil, &domain.ErrPartialFailure{Stage: "cancel_persist", ProviderOrderID: esim.ProviderOrderID, Err: err}
		}
		return nil, fmt.Errorf("mark esim cancelled: %w", err)
	}
	done = true

	refunded := zeroMoney
	if esim.PricePaid.IsPositive() {
		_, err := s.store.AddTransaction(pctx, domain.WalletTransaction{
			CompanyID:   companyID,
			Type:        domain.TxCredit,
			Amount:      esim.PricePaid,
			Description: fmt.Sprintf("Refund for cancelled eSIM #%d", esim.ID),
			Reference:   fmt.Sprintf("esim:%d:refund", esim.ID),
		})
		var dup *domain.ErrDuplicate
		switch {
		case err == nil:
			refunded = esim.PricePaid
		case errors.As(err, &dup):
			s.logger.Info("plan cancel: refund already applied", zap.Int64("esim_id", esim.ID))
		default:
			s.metrics.IncrPartialFailure("refund")
			s.logger.Error("failed to credit wallet refund after plan cancel",
				zap.Int64("company_id", companyID),
				zap.Int64("esim_id", esim.ID),
				zap.String("amount", esim.PricePaid.String()),
				zap.Error(err),
			)
		}
	}

	if s.cancels != nil {
		if err := s.cancels.Mark(pctx, esim.EmployeeID, esim.ID, now); err != nil {
			s.logger.Warn("failed to record recently-cancelled mark", zap.Int64("esim_id", esim.ID), zap.Error(err))
		}
	}

	if refunded.IsPositive() {
		s.archive(pctx, domain.Receipt{
			Kind:       "credit_note",
			CompanyID:  companyID,
			EmployeeID: esim.EmployeeID,
			EsimID:     esim.ID,
			PlanID:     esim.PlanID,
			Amount:     refunded,
			OrderID:    esim.ProviderOrderID,
			IssuedAt:   now,
		})
	}

	s.metrics.IncrLifecycleAction("cancel", "ok")
	s.logger.Info("plan cancelled",
		zap.Int64("company_id", companyID),
		zap.Int64("esim_id", esim.ID),
		zap.Bool("provider_cancelled", providerCancelled),
		zap.Bool("fallback", fallback),
		zap.String("refunded", refunded.String()),
	)

	s.publish(ctx, domain.Event{Type: domain.EventPlanCancelled, CompanyID: companyID, EmployeeID: esim.EmployeeID, EsimID: esim.ID, Status: cancelled, Invalidate: invalidate})
	s.publish(ctx, domain.Event{Type: domain.EventEsimStatusChange, CompanyID: companyID, EmployeeID: esim.EmployeeID, EsimID: esim.ID, Status: cancelled, Invalidate: invalidate})
	s.publish(ctx, domain.Event{Type: domain.EventExecutiveUpdate, CompanyID: companyID, EmployeeID: esim.EmployeeID, Invalidate: invalidate})

	return &domain.CancelPlanResult{
		Esim:               updated,
		Refunded:           refunded,
		ProviderCancelled:  providerCancelled,
		ResolvedByFallback: fallback,
		Invalidate:         invalidate,
	}, nil
}

// resolveCancelTarget loads the eSIM to cancel. When the id is not found, the
// employee's most recent cancellable record stands in for it.
func (s *LifecycleService) resolveCancelTarget(ctx context.Context, companyID int64, req domain.CancelPlanRequest) (*domain.PurchasedEsim, bool, error) {
	esim, err := s.store.GetEsim(ctx, companyID, req.EsimID)
	if err == nil {
		if req.EmployeeID != 0 && esim.EmployeeID != req.EmployeeID {
			return nil, false, &domain.ErrValidation{Field: "employeeId", Message: "esim does not belong to this employee"}
		}
		return esim, false, nil
	}

	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) || req.EmployeeID == 0 {
		return nil, false, err
	}

	esims, listErr := s.store.ListEsimsByEmployee(ctx, companyID, req.EmployeeID)
	if listErr != nil {
		return nil, false, err
	}
	var best *domain.PurchasedEsim
	for i := range esims {
		e := &esims[i]
		if reconcile.IsCancelledOrRefunded(e, nil) {
			continue
		}
		if !cancellableStatuses[reconcile.Classify(reconcile.InputOf(e)).Status] {
			continue
		}
		if best == nil || e.ID > best.ID {
			best = e
		}
	}
	if best == nil {
		return nil, false, err
	}
	s.logger.Warn("plan cancel: esim not found, using employee's latest cancellable esim",
		zap.Int64("requested_esim_id", req.EsimID),
		zap.Int64("resolved_esim_id", best.ID),
		zap.Int64("employee_id", req.EmployeeID),
	)
	return best, true, nil
}

// ============================================================
// ToggleAutoRenewal: PATCH /api/esim/{id}/auto-renew
// ============================================================

// ToggleAutoRenewal persists the auto-renew flag. Enabling is gated on the classified
// status and on the wallet covering one renewal right now; nothing is reserved.
func (s *LifecycleService) ToggleAutoRenewal(ctx context.Context, companyID, esimID int64, enabled bool) (*domain.AutoRenewResult, error) {
	ctx, span := lifecycleTracer.Start(ctx, "LifecycleService.ToggleAutoRenewal")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("company.id", companyID),
		attribute.Int64("esim.id", esimID),
		attribute.Bool("enabled", enabled),
	)

	esim, err := s.store.GetEsim(ctx, companyID, esimID)
	if err != nil {
		return nil, err
	}

	if enabled {
		c := reconcile.Classify(reconcile.InputOf(esim))
		if reconcile.IsCancelledOrRefunded(esim, nil) || !renewableStatuses[c.Status] {
			s.metrics.IncrLifecycleAction("auto_renew", "rejected")
			return nil, &domain.ErrConflict{Message: fmt.Sprintf("auto-renewal can only be enabled for activated or waiting eSIMs (status %s)", c.Status)}
		}

		plan, err := s.store.GetPlan(ctx, esim.PlanID)
		if err != nil {
			return nil, err
		}
		balance, err := s.store.GetBalance(ctx, companyID)
		if err != nil {
			return nil, fmt.Errorf("get wallet balance: %w", err)
		}
		if balance.LessThan(plan.RetailPrice) {
			s.metrics.IncrLifecycleAction("auto_renew", "insufficient_funds")
			return nil, &domain.ErrInsufficientFunds{Available: balance, Required: plan.RetailPrice}
		}
	}

	updated, err := s.store.UpdateEsim(ctx, esim.ID, domain.EsimUpdate{AutoRenewEnabled: &enabled})
	if err != nil {
		return nil, fmt.Errorf("update auto-renew flag: %w", err)
	}

	s.metrics.IncrLifecycleAction("auto_renew", "ok")
	s.logger.Info("auto-renewal toggled",
		zap.Int64("company_id", companyID),
		zap.Int64("esim_id", esim.ID),
		zap.Bool("enabled", enabled),
	)

	invalidate := domain.LifecycleInvalidations()
	s.publish(ctx, domain.Event{Type: domain.EventAutoRenewal, CompanyID: companyID, EmployeeID: esim.EmployeeID, EsimID: esim.ID, Invalidate: invalidate})
	s.publish(ctx, domain.Event{Type: domain.EventExecutiveUpdate, CompanyID: companyID, EmployeeID: esim.EmployeeID, Invalidate: invalidate})

	return &domain.AutoRenewResult{Esim: updated, Invalidate: invalidate}, nil
}

// ============================================================
// Recently-cancelled marks
// ============================================================

// RecentlyCancelled returns the advisory cancel marks for the given employees.
// Marks are a UI-consistency hint; a failed lookup yields none.
func (s *LifecycleService) RecentlyCancelled(ctx context.Context, employeeIDs ...int64) domain.CancelMarks {
	if s.cancels == nil || len(employeeIDs) == 0 {
		return domain.CancelMarks{}
	}
	marks, err := s.cancels.Marks(ctx, employeeIDs...)
	if err != nil {
		s.logger.Warn("failed to read recently-cancelled marks", zap.Error(err))
		return domain.CancelMarks{}
	}
	return marks
}

// ============================================================
// helpers
// ============================================================

func (s *LifecycleService) reserve(ctx context.Context, action string, companyID int64, key string) (string, error) {
	if key == "" || s.idempotency == nil {
		return "", nil
	}
	full := fmt.Sprintf("%s:%d:%s", action, companyID, key)
	ok, err := s.idempotency.Reserve(ctx, full, s.idemTTL)
	if err != nil {
		// An unavailable key store must not block the action.
		s.logger.Warn("idempotency store unavailable", zap.String("key", full), zap.Error(err))
		return "", nil
	}
	if !ok {
		return "", &domain.ErrDuplicate{Key: key}
	}
	return full, nil
}

func (s *LifecycleService) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.idempotency.Release(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

func (s *LifecycleService) publish(ctx context.Context, ev domain.Event) {
	if s.events != nil {
		s.events.Publish(ctx, ev)
	}
}

func (s *LifecycleService) publishFailed(ctx context.Context, companyID, employeeID int64, err error) {
	s.publish(ctx, domain.Event{
		Type:       domain.EventPlanAssignmentFailed,
		CompanyID:  companyID,
		EmployeeID: employeeID,
		Message:    err.Error(),
	})
}

func (s *LifecycleService) sendActivation(ctx context.Context, employee *domain.Employee, plan *domain.EsimPlan, esim *domain.PurchasedEsim) bool {
	return sendActivationEmail(ctx, s.mailer, s.logger, employee, plan, esim)
}

func (s *LifecycleService) archive(ctx context.Context, r domain.Receipt) {
	archiveReceipt(ctx, s.archiver, s.logger, r)
}

// employeePlans re-reads the employee's records for the immediate hint. The fresh
// record is merged in so a lagging read still shows it.
func (s *LifecycleService) employeePlans(ctx context.Context, companyID, employeeID int64, fresh *domain.PurchasedEsim) domain.EmployeePlans {
	esims, err := s.store.ListEsimsByEmployee(ctx, companyID, employeeID)
	if err != nil {
		s.logger.Warn("failed to re-read employee esims", zap.Int64("employee_id", employeeID), zap.Error(err))
		esims = nil
	}
	found := false
	for _, e := range esims {
		if e.ID == fresh.ID {
			found = true
			break
		}
	}
	if !found {
		esims = append(esims, *fresh)
	}

	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		s.logger.Warn("failed to list plans", zap.Error(err))
	}
	return reconcile.Aggregate(employeeID, esims, plans, reconcile.Options{
		Now:  s.now(),
		Hint: s.RecentlyCancelled(ctx, employeeID),
	})
}

// sendActivationEmail mails the QR code and activation code. Returns whether it was sent.
func sendActivationEmail(ctx context.Context, mailer port.Mailer, logger *zap.Logger, employee *domain.Employee, plan *domain.EsimPlan, esim *domain.PurchasedEsim) bool {
	if mailer == nil || employee.Email == "" {
		return false
	}
	qr, code := reconcile.ActivationDetails(esim.Metadata)
	if qr == "" || code == "" {
		return false
	}
	err := mailer.SendActivation(ctx, port.ActivationEmail{
		To:             employee.Email,
		EmployeeName:   employee.Name,
		PlanName:       plan.Name,
		QRCodeURL:      qr,
		ActivationCode: code,
		ValidityDays:   plan.ValidityDays,
	})
	if err != nil {
		logger.Warn("failed to send activation email",
			zap.Int64("esim_id", esim.ID),
			zap.Int64("employee_id", employee.ID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// archiveReceipt stores a receipt or credit note. Failures are logged only.
func archiveReceipt(ctx context.Context, archiver port.ReceiptArchiver, logger *zap.Logger, r domain.Receipt) {
	if archiver == nil {
		return
	}
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		logger.Error("failed to encode receipt", zap.Error(err))
		return
	}
	key := fmt.Sprintf("%s/%d/%d-%s.json", r.Kind, r.CompanyID, r.EsimID, r.IssuedAt.Format("20060102T150405Z"))
	if err := archiver.Archive(ctx, key, bytes.NewReader(body)); err != nil {
		logger.Warn("failed to archive receipt",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
