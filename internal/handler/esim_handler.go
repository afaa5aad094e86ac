package handler

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Plan lifecycle: purchase, cancel, auto-renew
// ============================================================

func purchaseHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/esim/purchase")
		defer span.End()

		var req domain.AssignPlanRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
		span.SetAttributes(
			attribute.Int64("employee.id", req.EmployeeID),
			attribute.Int64("plan.id", req.PlanID),
		)

		p, _ := PrincipalFromContext(ctx)
		res, err := svc.AssignPlan(ctx, p.CompanyID, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func cancelHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/esim/cancel")
		defer span.End()

		var req domain.CancelPlanRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
		span.SetAttributes(
			attribute.Int64("esim.id", req.EsimID),
			attribute.Int64("employee.id", req.EmployeeID),
		)

		p, _ := PrincipalFromContext(ctx)
		res, err := svc.CancelPlan(ctx, p.CompanyID, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func autoRenewHandler(svc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /api/esim/{id}/auto-renew")
		defer span.End()

		id, err := pathInt64(r, "id")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		var req domain.AutoRenewRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		p, _ := PrincipalFromContext(ctx)
		res, err := svc.ToggleAutoRenewal(ctx, p.CompanyID, id, *req.Enabled)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ============================================================
// Purchased eSIMs
// ============================================================

func purchasedHandler(svc *service.EsimService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/esim/purchased")
		defer span.End()

		var employeeID int64
		if raw := r.URL.Query().Get("employeeId"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				handleServiceError(w, &domain.ErrValidation{Field: "employeeId", Message: "must be a positive integer"}, logger)
				return
			}
			employeeID = id
		}

		p, _ := PrincipalFromContext(ctx)
		list, err := svc.ListPurchased(ctx, p.CompanyID, employeeID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func purchasedByEmployeeHandler(svc *service.EsimService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/esim/purchased/{employeeId}")
		defer span.End()

		employeeID, err := pathInt64(r, "employeeId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		p, _ := PrincipalFromContext(ctx)
		list, err := svc.ListPurchased(ctx, p.CompanyID, employeeID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func resendEmailHandler(svc *service.EsimService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/esim/{id}/resend-email")
		defer span.End()

		id, err := pathInt64(r, "id")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		p, _ := PrincipalFromContext(ctx)
		if err := svc.ResendActivationEmail(ctx, p.CompanyID, id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "activation email sent", ID: strconv.FormatInt(id, 10)})
	}
}

func syncHandler(svc *service.EsimService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/esim/sync")
		defer span.End()

		p, _ := PrincipalFromContext(ctx)
		res, err := svc.SyncCompany(ctx, p.CompanyID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// providerNotification is the provider's push envelope. Older integrations post the
// report fields at the top level instead of under content.
type providerNotification struct {
	NotifyType string          `json:"notifyType"`
	Content    json.RawMessage `json:"content"`
}

func providerWebhookHandler(svc *service.EsimService, webhookKey string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/esim/webhook")
		defer span.End()

		if webhookKey == "" || subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Webhook-Key")), []byte(webhookKey)) != 1 {
			logger.Warn("provider webhook: rejected", zap.String("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "invalid webhook key")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		report, err := parseProviderReport(body)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("notify.type", report.NotifyType))

		out, err := svc.ApplyWebhook(ctx, report)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"from":    out.From,
			"to":      out.To,
			"changed": out.StatusChanged,
			"anomaly": out.Anomaly,
		})
	}
}

func parseProviderReport(body []byte) (domain.ProviderStatusReport, error) {
	var report domain.ProviderStatusReport
	var note providerNotification
	if err := json.Unmarshal(body, &note); err != nil {
		return report, &domain.ErrValidation{Field: "body", Message: "invalid JSON"}
	}

	payload := body
	if len(note.Content) > 0 && string(note.Content) != "null" {
		payload = note.Content
	}
	if err := json.Unmarshal(payload, &report); err != nil {
		return report, &domain.ErrValidation{Field: "content", Message: "invalid status report"}
	}
	if report.NotifyType == "" {
		report.NotifyType = note.NotifyType
	}
	report.Raw = append(json.RawMessage(nil), payload...)
	return report, nil
}

// ============================================================
// Plans
// ============================================================

func listPlansHandler(svc *service.PlanService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/esim/plans")
		defer span.End()

		plans, err := svc.ListPlans(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, plans)
	}
}

func updatePlanPriceHandler(svc *service.PlanService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /api/esim/plans/{id}/price")
		defer span.End()

		id, err := pathInt64(r, "id")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		var req domain.UpdatePlanPriceRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		plan, err := svc.UpdatePrice(ctx, id, req.RetailPrice)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	}
}
