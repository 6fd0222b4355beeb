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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/cmd/ledgerd/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/payments"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

const usage = `ledgerd runs the ledger HTTP API.

USAGE:
    ledgerd [serve]
    ledgerd fx import --file rates.csv [--mode dry|apply] [--json]
    ledgerd jobs trigger <ledger:integrity|recurring:post|idempotency:prune> [--company N] [--from D] [--to D] [--on D] [--retention 720h]
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
	if len(args) == 0 {
		args = []string{"serve"}
	}
	switch args[0] {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "fx":
		err = fxCommand(ctx, cfg, args[1:])
	case "jobs":
		err = jobsCommand(ctx, cfg, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		err = fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		logger.Error("ledgerd", slog.Any("error", err))
		os.Exit(1)
	}
}

func connect(ctx context.Context, cfg *app.Config) (*pgxpool.Pool, *redis.Client, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, nil, err
	}
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, redisClient, nil
}

func redisOpts(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, redisClient, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	rates := fx.NewCachedProvider(fx.NewRepository(pool), redisClient, cfg.FXCacheTTL)

	paymentsService := payments.NewService(
		payments.NewRepository(pool),
		rates,
		shared.NewAuditLogger(pool),
		shared.NewIdempotencyStore(pool),
		payments.Config{BaseCurrency: cfg.BaseCurrency, RoundOffAccountID: cfg.RoundOffAccountID},
		logger,
	)
	paymentsService.WithMetrics(metrics)
	paymentsHandler := payments.NewHandler(logger, paymentsService)

	inspector := asynq.NewInspector(redisOpts(cfg))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		PaymentsHandler: paymentsHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("base_currency", cfg.BaseCurrency))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func fxCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 || args[0] != "import" {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("fx: expected import subcommand")
	}
	fs := flag.NewFlagSet("fx import", flag.ExitOnError)
	file := fs.String("file", "-", "CSV with from,to,rate,effective_on rows; - reads stdin")
	mode := fs.String("mode", string(cli.FXImportModeDry), "dry or apply")
	jsonOut := fs.Bool("json", false, "print a JSON summary")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	source := os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("fx import: %w", err)
		}
		defer f.Close()
		source = f
	}

	pool, redisClient, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer redisClient.Close()

	ops, err := cli.NewFXOpsCLI(fx.NewRepository(pool), fx.NewCachedProvider(nil, redisClient, cfg.FXCacheTTL))
	if err != nil {
		return err
	}
	if code := ops.ImportCommand(ctx, cli.FXImportOptions{
		Mode:       cli.FXImportMode(*mode),
		Source:     source,
		JSONOutput: *jsonOut,
	}); code != 0 {
		return errors.New("fx import failed")
	}
	return nil
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) < 2 || args[0] != "trigger" {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("jobs: expected trigger <task>")
	}
	name := args[1]
	fs := flag.NewFlagSet("jobs trigger", flag.ExitOnError)
	company := fs.Int64("company", 0, "company id; 0 scans every company")
	from := fs.String("from", "", "first posting date (YYYY-MM-DD)")
	to := fs.String("to", "", "last posting date (YYYY-MM-DD)")
	on := fs.String("on", "", "recurring run date (YYYY-MM-DD)")
	retention := fs.Duration("retention", cfg.IdempotencyRetention, "idempotency key retention")
	if err := fs.Parse(args[2:]); err != nil {
		return err
	}

	client, err := jobs.NewClient(redisOpts(cfg))
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := cli.NewJobsCLI(client).Trigger(ctx, name, cli.TriggerOptions{
		CompanyID: *company,
		From:      *from,
		To:        *to,
		On:        *on,
		Retention: *retention,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return nil
}
