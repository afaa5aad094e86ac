package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/events"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Services groups the application services the routes call.
type Services struct {
	Lifecycle *service.LifecycleService
	Employees *service.EmployeeService
	Esims     *service.EsimService
	Plans     *service.PlanService
	Wallet    *service.WalletService
	Auth      *service.AuthService
}

// Pinger is a dependency whose reachability is reported by /healthz and /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency names a Pinger for the health report.
type Dependency struct {
	Name   string
	Pinger Pinger
}

// RouterConfig carries the non-service wiring of the router.
type RouterConfig struct {
	AllowedOrigins []string
	Sessions       sessions.Store
	Hub            *events.Hub
	WebhookKey     string
	Dependencies   []Dependency
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, cfg RouterConfig, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(MetricsMiddleware(metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(cfg.Dependencies))
	r.Get("/readyz", readyzHandler(cfg.Dependencies))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		// Public: credentials are checked by the handler itself.
		if svc.Auth != nil {
			r.Post("/auth/login", authLoginHandler(svc.Auth, cfg.Sessions, logger))
		}
		if svc.Esims != nil {
			r.Post("/esim/webhook", providerWebhookHandler(svc.Esims, cfg.WebhookKey, logger))
		}
		if svc.Wallet != nil {
			r.Post("/payments/webhook", paymentWebhookHandler(svc.Wallet, logger))
		}

		if svc.Auth == nil {
			return
		}

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(svc.Auth, cfg.Sessions, logger))

			r.Post("/auth/logout", authLogoutHandler(cfg.Sessions, logger))
			r.Get("/auth/me", authMeHandler(svc.Auth, logger))

			if cfg.Hub != nil {
				r.Method(http.MethodGet, "/events", NewEventsHandler(cfg.Hub, cfg.AllowedOrigins, logger))
			}

			// =============================================
			// Employees
			// =============================================
			r.Get("/employees", listEmployeesHandler(svc.Employees, logger))
			r.Get("/employees/{id}/plans", employeePlansHandler(svc.Employees, logger))

			// =============================================
			// eSIMs & plans
			// =============================================
			r.Get("/esim/plans", listPlansHandler(svc.Plans, logger))
			r.Get("/esim/purchased", purchasedHandler(svc.Esims, logger))
			r.Get("/esim/purchased/{employeeId}", purchasedByEmployeeHandler(svc.Esims, logger))

			// =============================================
			// Wallet
			// =============================================
			r.Get("/wallet", getWalletHandler(svc.Wallet, logger))

			// Everything that changes state needs the admin role.
			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)

				r.Post("/employees", createEmployeeHandler(svc.Employees, logger))
				r.Post("/employees/bulk", bulkCreateEmployeesHandler(svc.Employees, logger))
				r.Delete("/employees/{id}", deleteEmployeeHandler(svc.Employees, logger))

				r.Post("/esim/purchase", purchaseHandler(svc.Lifecycle, logger))
				r.Post("/esim/cancel", cancelHandler(svc.Lifecycle, logger))
				r.Patch("/esim/{id}/auto-renew", autoRenewHandler(svc.Lifecycle, logger))
				r.Post("/esim/{id}/resend-email", resendEmailHandler(svc.Esims, logger))
				r.Post("/esim/sync", syncHandler(svc.Esims, logger))

				r.Post("/wallet/top-up", topUpHandler(svc.Wallet, logger))
			})

			// The catalog and process-wide counters span every company.
			r.Group(func(r chi.Router) {
				r.Use(RequireOperator)

				r.Patch("/esim/plans/{id}/price", updatePlanPriceHandler(svc.Plans, logger))
				r.Get("/admin/lifecycle-stats", lifecycleStatsHandler(metrics))
			})
		})
	})

	return r
}

// ============================================================
// Metrics & Health
// ============================================================

func checkDependencies(ctx context.Context, deps []Dependency) domain.HealthStatus {
	now := time.Now().UTC().Format(time.RFC3339)
	services := []domain.ServiceHealth{
		{Name: "bfa-api", Status: "healthy", LastChecked: now},
	}

	overall := "healthy"
	for _, d := range deps {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		start := time.Now()
		err := d.Pinger.Ping(ctx)
		cancel()

		status := "healthy"
		if err != nil {
			status = "unhealthy"
			overall = "degraded"
		}
		services = append(services, domain.ServiceHealth{
			Name:        d.Name,
			Status:      status,
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: now,
		})
	}
	return domain.HealthStatus{Status: overall, Services: services}
}

func healthzHandler(deps []Dependency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, checkDependencies(r.Context(), deps))
	}
}

func readyzHandler(deps []Dependency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := checkDependencies(r.Context(), deps)
		if health.Status != "healthy" {
			writeJSON(w, http.StatusServiceUnavailable, health)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func lifecycleStatsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetLifecycleSnapshot())
	}
}
