// Command esimctl runs schema migrations, one-off sync sweeps and user management
// against the fleet database.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/boddenberg/esim-fleet-bfa/internal/config"
	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/events"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/client"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/mailer"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/observability"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/postgres"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/redisstore"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/resilience"
	"github.com/boddenberg/esim-fleet-bfa/internal/port"
	"github.com/boddenberg/esim-fleet-bfa/internal/service"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	_ = config.LoadDotEnv(".env")
	cfg := config.Load()
	logger := observability.NewLogger(cfg.LogLevel, "esimctl")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "esimctl",
		Short:         "Administration tool for the eSIM fleet backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		migrateCommand(cfg, logger),
		syncCommand(cfg, logger),
		userCommand(cfg, logger),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// ============================================================
// migrate
// ============================================================

func migrateCommand(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}

	withMigrator := func(fn func(*postgres.Migrator) error) error {
		mg, err := postgres.NewMigrator(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer mg.Close()
		return fn(mg)
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(mg *postgres.Migrator) error { return mg.Up() })
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(mg *postgres.Migrator) error { return mg.Down(steps) })
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")

	gotoCmd := &cobra.Command{
		Use:   "goto VERSION",
		Short: "Migrate up or down to an exact version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withMigrator(func(mg *postgres.Migrator) error { return mg.Goto(uint(version)) })
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(mg *postgres.Migrator) error {
				version, dirty, ok, err := mg.Version()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case !ok:
					fmt.Fprintln(out, "no migrations applied")
				case dirty:
					fmt.Fprintf(out, "version %d (dirty)\n", version)
				default:
					fmt.Fprintf(out, "version %d\n", version)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(up, down, gotoCmd, status)
	return cmd
}

// ============================================================
// sync
// ============================================================

func syncCommand(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one provider sync sweep over non-terminal eSIMs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			metrics := observability.NewMetrics()

			store, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			var marks service.CancelMarkSource = trackerMarks{}
			if cfg.RedisURL != "" {
				rdb, err := redisstore.Connect(ctx, cfg.RedisURL)
				if err != nil {
					return err
				}
				defer rdb.Close()
				marks = trackerMarks{tracker: redisstore.NewCancelMarks(rdb, cfg.RecentCancelTTL, logger)}
			}

			hub := events.NewHub(0, metrics, logger)
			var publisher port.EventPublisher = hub
			if cfg.NATSURL != "" {
				nc, err := nats.Connect(cfg.NATSURL, nats.Name("esimctl"))
				if err != nil {
					return fmt.Errorf("connect nats: %w", err)
				}
				defer nc.Drain()
				publisher = events.NewNATSBridge(nc, hub, logger)
			}

			resilienceCfg := resilience.Config{
				MaxRetries:     cfg.MaxRetries,
				InitialBackoff: cfg.InitialBackoff,
				MaxConcurrency: cfg.MaxConcurrency,
			}
			provider := client.NewProviderClient(&http.Client{Timeout: cfg.HTTPTimeout},
				cfg.ProviderBaseURL, cfg.ProviderAccessCode, resilienceCfg, metrics, logger)

			renderer, err := mailer.NewRenderer()
			if err != nil {
				return err
			}
			esims := service.NewEsimService(store, provider, mailer.NewLogMailer(renderer, logger),
				publisher, marks, cfg.MaxConcurrency, metrics, logger)

			res, err := esims.SyncAll(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d updated=%d anomalies=%d failed=%d\n",
				res.Checked, res.Updated, res.Anomalies, res.Failed)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", cfg.SyncBatchSize, "maximum records to check")
	return cmd
}

// trackerMarks reads recently-cancelled marks straight from a tracker. A nil
// tracker reports none.
type trackerMarks struct {
	tracker port.CancellationTracker
}

func (m trackerMarks) RecentlyCancelled(ctx context.Context, employeeIDs ...int64) domain.CancelMarks {
	if m.tracker == nil || len(employeeIDs) == 0 {
		return domain.CancelMarks{}
	}
	marks, err := m.tracker.Marks(ctx, employeeIDs...)
	if err != nil {
		return domain.CancelMarks{}
	}
	return marks
}

// ============================================================
// user
// ============================================================

func userCommand(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage company administrators and platform operators",
	}

	var (
		name     string
		role     string
		password string
		company  string
	)
	create := &cobra.Command{
		Use:   "create EMAIL",
		Short: "Create a user in a company, creating the company when missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !domain.ValidRole(role) {
				return fmt.Errorf("role must be operator, admin or viewer, got %q", role)
			}
			if len(password) < 8 {
				return fmt.Errorf("password must be at least 8 characters")
			}

			store, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			companyID, err := store.EnsureCompany(ctx, company)
			if err != nil {
				return fmt.Errorf("ensure company: %w", err)
			}
			hash, err := service.HashPassword(password)
			if err != nil {
				return err
			}
			u, err := store.CreateUser(ctx, domain.User{
				CompanyID:    companyID,
				Email:        args[0],
				Name:         name,
				Role:         role,
				PasswordHash: hash,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s) in company %d\n", u.ID, u.Email, companyID)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&role, "role", domain.RoleAdmin, "operator, admin or viewer")
	create.Flags().StringVar(&password, "password", os.Getenv("ESIMCTL_PASSWORD"), "password (defaults to $ESIMCTL_PASSWORD)")
	create.Flags().StringVar(&company, "company", cfg.DefaultCompanyName, "company name")

	cmd.AddCommand(create)
	return cmd
}
