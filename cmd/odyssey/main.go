package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

const usage = `usage: odyssey [command]

commands:
  serve                      run the HTTP API (default)
  migrate                    apply the ledger schema
  verify [-company ID] [-json]
                             check stored balances against effective vouchers
  jobs trigger NAME [-company ID]
                             enqueue a background job
  jobs stats [-queue NAME]   print queue depth
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	var code int
	switch command {
	case "serve":
		code = serve(ctx, cfg, logger)
	case "migrate":
		code = migrate(ctx, cfg, logger)
	case "verify":
		code = verify(ctx, cfg, logger, args)
	case "jobs":
		code = jobsCommand(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	metrics := observability.NewMetrics()
	ledger, err := app.BuildLedger(ctx, cfg, logger, app.LedgerOptions{Metrics: metrics, Migrate: true, Notify: true})
	if err != nil {
		logger.Error("build ledger", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Warn("close ledger", slog.Any("error", err))
		}
	}()

	var inspector jobs.QueueInspector
	if ledger.Redis != nil {
		asynqInspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := asynqInspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		inspector = asynqInspector
	}

	rbacMiddleware := rbac.Middleware{Checker: ledger.Checker, Logger: logger}
	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AccountingHandler: accounting.NewHandler(logger, ledger.Service, rbacMiddleware),
		JobHandler:        jobs.NewHandler(inspector, cfg.NotifyQueue, logger),
		Metrics:           metrics,
		Ready:             ledger.Ready,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("http server", slog.Any("error", err))
			return 1
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	if cfg.StoreDriver != app.StoreDriverPostgres {
		logger.Info("memory store needs no migration")
		return 0
	}
	ledger, err := app.BuildLedger(ctx, cfg, logger, app.LedgerOptions{Migrate: true})
	if err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return 1
	}
	defer func() { _ = ledger.Close() }()
	logger.Info("schema applied")
	return 0
}

func verify(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	company := fs.String("company", "", "company id; all companies when empty")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ledger, err := app.BuildLedger(ctx, cfg, logger, app.LedgerOptions{})
	if err != nil {
		logger.Error("build ledger", slog.Any("error", err))
		return 1
	}
	defer func() { _ = ledger.Close() }()

	integrity, err := cli.NewIntegrityCLI(ledger.Service)
	if err != nil {
		logger.Error("verify", slog.Any("error", err))
		return 1
	}
	return integrity.VerifyCommand(ctx, cli.VerifyOptions{CompanyID: *company, JSONOutput: *jsonOut})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			return 2
		}
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		company := fs.String("company", "", "company id")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1], *company)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		fs := flag.NewFlagSet("jobs stats", flag.ContinueOnError)
		queue := fs.String("queue", cfg.NotifyQueue, "queue name")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		stats, err := jobsCLI.InspectQueue(ctx, *queue)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	return 0
}
