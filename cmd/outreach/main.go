package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/outreach-engine/internal/config"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/handler"
	"github.com/kursadbilgin/outreach-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/outreach-engine/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"github.com/kursadbilgin/outreach-engine/internal/service"
	"github.com/kursadbilgin/outreach-engine/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "time/tzdata"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var envFiles []string

	rootCmd := &cobra.Command{
		Use:           "outreach",
		Short:         "Email outreach campaign engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to read before the environment")

	rootCmd.AddCommand(
		serveCommand(&envFiles),
		migrateCommand(&envFiles),
		importCommand(&envFiles),
		runCommand(&envFiles),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads config and builds the logger shared by every command.
func bootstrap(envFiles []string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func serveCommand(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard API, scheduler, reply poller and forward workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*envFiles)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := migrations.Migrate(a.db); err != nil {
				return fmt.Errorf("database migrations failed: %w", err)
			}

			server := fiber.New(fiber.Config{
				ErrorHandler:          transport.ErrorHandler(logger),
				DisableStartupMessage: true,
			})
			server.Use(transport.CorrelationMiddleware())
			server.Use(a.metrics.HTTPMiddleware())
			var broker handler.BrokerStatus
			if a.rabbit != nil {
				broker = a.rabbit
			}
			handler.RegisterHealthRoutes(server, a.sqlDB, a.rdb, broker)
			server.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))

			var replies handler.ReplyPoller = disabledReplies{}
			if a.replies != nil {
				replies = a.replies
			}
			if err := handler.RegisterRoutes(server, handler.Services{
				Campaign:  a.campaign,
				Replies:   replies,
				Contacts:  a.contacts,
				Settings:  a.settings,
				Templates: a.templates,
			}); err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("outreach api started", zap.Int("port", cfg.APIPort))
				return server.Listen(fmt.Sprintf(":%d", cfg.APIPort))
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.ShutdownWithContext(shutdownCtx)
			})
			g.Go(func() error { return a.scheduler.Start(gctx) })
			if a.poller != nil {
				g.Go(func() error { return a.poller.Start(gctx) })
			}
			if a.worker != nil {
				g.Go(func() error { return a.worker.Start(gctx) })
			}

			err = g.Wait()
			logger.Info("outreach stopped")
			return err
		},
	}
}

func migrateCommand(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*envFiles)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := postgresql.NewPostgres(cmd.Context(), cfg.DatabaseDSN, postgresql.PoolOptions{MaxOpenConns: 1, Logger: logger})
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if err := migrations.Migrate(db); err != nil {
				return fmt.Errorf("database migrations failed: %w", err)
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func importCommand(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <contacts.csv>",
		Short: "Import contacts from a CSV file with email and name columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*envFiles)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return importFile(cmd.Context(), a, args[0])
		},
	}
}

func importFile(ctx context.Context, a *app, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	result, err := a.contacts.ImportCSV(ctx, f)
	if err != nil {
		return err
	}
	fmt.Printf("rows=%d imported=%d duplicates=%d invalid=%d\n",
		result.Rows, result.Imported, result.Duplicates, len(result.Invalid))
	return nil
}

// runCommand runs passes once and exits. "all" runs the initial pass, then
// follow-ups, then the reply poll, optionally importing a CSV first.
func runCommand(envFiles *[]string) *cobra.Command {
	var importPath string

	cmd := &cobra.Command{
		Use:       "run <initial|followup|replies|all>",
		Short:     "Run a single pass now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"initial", "followup", "replies", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*envFiles)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			which := strings.ToLower(args[0])
			if which == "all" && importPath != "" {
				if err := importFile(ctx, a, importPath); err != nil {
					return err
				}
			}

			var steps []string
			switch which {
			case "all":
				steps = []string{"initial", "followup", "replies"}
			case "initial", "followup", "replies":
				steps = []string{which}
			default:
				return fmt.Errorf("%w: unknown pass %q", domain.ErrValidation, args[0])
			}

			for _, step := range steps {
				if err := runStep(ctx, a, step); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&importPath, "import", "", "CSV file to import before running all passes")
	return cmd
}

func runStep(ctx context.Context, a *app, step string) error {
	if step == "replies" {
		if a.replies == nil {
			return fmt.Errorf("%w: IMAP_HOST is not set", domain.ErrConfiguration)
		}
		result, err := a.replies.Poll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("replies: fetched=%d matched=%d unmatched=%d forwarded=%d failed=%d\n",
			result.Fetched, result.Matched, result.Unmatched, result.Forwarded, result.Failed)
		return nil
	}

	kind, err := service.ParsePassKindFromString(step)
	if err != nil {
		return err
	}
	result, err := a.campaign.RunPass(ctx, service.PassRequest{Kind: kind, Trigger: domain.ManualTrigger()})
	if err != nil {
		return err
	}
	fmt.Printf("%s: considered=%d sent=%d skipped=%d failed=%d integrity=%d\n",
		step, result.Considered, result.Sent, result.Skipped, result.Failed, result.IntegrityErrors)
	return nil
}

// disabledReplies answers manual reply polls when no mailbox is configured.
type disabledReplies struct{}

func (disabledReplies) Poll(context.Context) (*service.PollResult, error) {
	return nil, fmt.Errorf("%w: reply polling is disabled, IMAP_HOST is not set", domain.ErrConfiguration)
}
