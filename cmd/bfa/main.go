package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/config"
	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/events"
	"github.com/boddenberg/esim-fleet-bfa/internal/handler"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/archive"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/cache"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/client"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/mailer"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/memory"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/payment"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/postgres"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/redisstore"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/resilience"
	"github.com/boddenberg/esim-fleet-bfa/internal/port"
	"github.com/boddenberg/esim-fleet-bfa/internal/service"
	"github.com/boddenberg/esim-fleet-bfa/internal/worker"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// memoryCompanyID is the single tenant of the in-memory backend.
const memoryCompanyID = int64(1)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, "esim-fleet-bfa")
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Bool("redis", cfg.RedisURL != ""),
		zap.Bool("nats", cfg.NATSURL != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("sync_interval", cfg.SyncInterval),
		zap.Duration("recent_cancel_ttl", cfg.RecentCancelTTL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "esim-fleet-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Storage ---
	store, deps, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	// --- Idempotency keys & recently-cancelled marks ---
	var idempotency port.IdempotencyStore = cache.NewIdempotencyKeys(cfg.IdempotencyTTL)
	var cancellations port.CancellationTracker = cache.NewCancelMarks(cfg.RecentCancelTTL)
	if cfg.RedisURL != "" {
		rdb, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		idempotency = redisstore.NewIdempotencyKeys(rdb)
		cancellations = redisstore.NewCancelMarks(rdb, cfg.RecentCancelTTL, logger)
		deps = append(deps, handler.Dependency{Name: "redis", Pinger: redisstore.Pinger{Client: rdb}})
		logger.Info("coordination state in redis")
	}

	// --- Live updates ---
	hub := events.NewHub(0, metrics, logger)
	var publisher port.EventPublisher = hub
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("esim-fleet-bfa"), nats.MaxReconnects(-1))
		if err != nil {
			logger.Fatal("failed to connect to nats", zap.Error(err))
		}
		defer nc.Drain()
		bridge := events.NewNATSBridge(nc, hub, logger)
		go func() {
			if err := bridge.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("nats bridge stopped", zap.Error(err))
			}
		}()
		publisher = bridge
	}

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Clients ---
	httpClient := &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	provider := client.NewProviderClient(httpClient, cfg.ProviderBaseURL, cfg.ProviderAccessCode, resilienceCfg, metrics, logger)

	renderer, err := mailer.NewRenderer()
	if err != nil {
		logger.Fatal("failed to load email templates", zap.Error(err))
	}
	var mail port.Mailer
	if cfg.SendGridAPIKey != "" {
		mail = mailer.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom, cfg.MailFromName, renderer, resilienceCfg, metrics, logger)
	} else {
		logger.Warn("mailer: SENDGRID_API_KEY not set, activation emails are logged only")
		mail = mailer.NewLogMailer(renderer, logger)
	}

	var payments port.PaymentProcessor
	if cfg.StripeSecretKey != "" {
		payments = payment.NewStripeProcessor(payment.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			SuccessURL:    cfg.TopUpSuccessURL,
			CancelURL:     cfg.TopUpCancelURL,
			Currency:      cfg.Currency,
		}, nil, logger)
	} else {
		logger.Warn("payments: STRIPE_SECRET_KEY not set, wallet top-ups disabled")
	}

	var receipts port.ReceiptArchiver
	if cfg.ReceiptBucket != "" {
		a, err := archive.NewS3Archiver(ctx, archive.S3Config{
			Bucket:       cfg.ReceiptBucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		}, logger)
		if err != nil {
			logger.Fatal("failed to init receipt archive", zap.Error(err))
		}
		receipts = a
	}

	// --- Services ---
	lifecycleSvc := service.NewLifecycleService(service.LifecycleDeps{
		Store:          store,
		Provider:       provider,
		Mailer:         mail,
		Archiver:       receipts,
		Events:         publisher,
		Idempotency:    idempotency,
		Cancellations:  cancellations,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Metrics:        metrics,
		Logger:         logger,
	})
	esimSvc := service.NewEsimService(store, provider, mail, publisher, lifecycleSvc, cfg.MaxConcurrency, metrics, logger)
	planSvc := service.NewPlanService(store, cfg.CacheTTL, publisher, metrics, logger)
	defer planSvc.Close()

	svc := handler.Services{
		Lifecycle: lifecycleSvc,
		Employees: service.NewEmployeeService(store, lifecycleSvc, publisher, metrics, logger),
		Esims:     esimSvc,
		Plans:     planSvc,
		Wallet:    service.NewWalletService(store, payments, publisher, metrics, logger),
		Auth:      service.NewAuthService(store, cfg.JWTSecret, cfg.JWTAccessTTL, logger),
	}

	// --- Background sync ---
	go worker.NewSyncWorker(esimSvc, cfg.SyncInterval, cfg.SyncBatchSize, logger).Start(ctx)

	// --- Router ---
	router := handler.NewRouter(svc, handler.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Sessions:       handler.NewSessionStore(cfg.SessionSecret, cfg.SecureCookies, cfg.JWTAccessTTL),
		Hub:            hub,
		WebhookKey:     cfg.ProviderWebhookKey,
		Dependencies:   deps,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// openStore opens the configured backend, seeds the plan catalog and the bootstrap
// admin, and returns the dependencies reported by /healthz.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.Store, []handler.Dependency, func(), error) {
	var plans []domain.EsimPlan
	if cfg.PlanCatalogFile != "" {
		var err error
		if plans, err = config.LoadPlanCatalog(cfg.PlanCatalogFile); err != nil {
			return nil, nil, nil, err
		}
	}

	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		store := memory.New()
		if err := store.UpsertPlans(ctx, plans); err != nil {
			return nil, nil, nil, err
		}
		if admin, ok, err := bootstrapAdmin(ctx, cfg, store, memoryCompanyID); err != nil {
			return nil, nil, nil, err
		} else if ok {
			store.AddUser(admin)
		}
		return store, nil, func() {}, nil

	case "postgres":
		if cfg.AutoMigrate {
			if err := postgres.MigrateUp(cfg.DatabaseURL, logger); err != nil {
				return nil, nil, nil, err
			}
		}
		store, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := store.Close(); err != nil {
				logger.Warn("postgres: close failed", zap.Error(err))
			}
		}
		if len(plans) > 0 {
			if err := store.UpsertPlans(ctx, plans); err != nil {
				closeFn()
				return nil, nil, nil, err
			}
			logger.Info("plan catalog loaded", zap.Int("plans", len(plans)))
		}

		companyID, err := store.EnsureCompany(ctx, cfg.DefaultCompanyName)
		if err != nil {
			closeFn()
			return nil, nil, nil, fmt.Errorf("ensure company: %w", err)
		}
		if admin, ok, err := bootstrapAdmin(ctx, cfg, store, companyID); err != nil {
			closeFn()
			return nil, nil, nil, err
		} else if ok {
			if _, err := store.CreateUser(ctx, admin); err != nil {
				closeFn()
				return nil, nil, nil, fmt.Errorf("create bootstrap admin: %w", err)
			}
		}
		return store, []handler.Dependency{{Name: "postgres", Pinger: store}}, closeFn, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// bootstrapAdmin builds the configured first user, a platform operator, when it
// does not exist yet.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, users port.UserStore, companyID int64) (domain.User, bool, error) {
	if cfg.BootstrapAdminEmail == "" || cfg.BootstrapAdminPassword == "" {
		return domain.User{}, false, nil
	}
	_, err := users.GetUserByEmail(ctx, cfg.BootstrapAdminEmail)
	if err == nil {
		return domain.User{}, false, nil
	}
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		return domain.User{}, false, err
	}

	hash, err := service.HashPassword(cfg.BootstrapAdminPassword)
	if err != nil {
		return domain.User{}, false, err
	}
	return domain.User{
		CompanyID:    companyID,
		Email:        cfg.BootstrapAdminEmail,
		Name:         "Platform operator",
		Role:         domain.RoleOperator,
		PasswordHash: hash,
	}, true, nil
}
