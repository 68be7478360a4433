// Command catalogd serves an ingested SQLite store read-only over HTTP.
//
//	catalogd [-db vehicles.db] [-addr :8080] [-prompts modular_prompt]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"transitsql/internal/api"
	"transitsql/internal/catalog"
	"transitsql/internal/config"
	"transitsql/internal/logging"
	"transitsql/internal/metrics/setup"
	"transitsql/internal/prompts"
)

const shutdownTimeout = 10 * time.Second

type appDeps struct {
	loadConfig  func(path string) (*config.Config, error)
	newLogger   func(verbose bool) (*zap.Logger, error)
	initMetrics func(ctx context.Context, cfg config.MetricsConfig, log *zap.Logger) (func(), error)
	serve       func(ctx context.Context, srv *api.Server, addr string, log *zap.Logger) error
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newLogger:   logging.New,
		initMetrics: setup.Init,
		serve:       serve,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("catalogd", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath     = fs.String("config", "", "YAML config file (optional)")
		dbPath      = fs.String("db", "", "SQLite store to serve")
		addr        = fs.String("addr", "", "listen address")
		promptsDir  = fs.String("prompts", "", "directory of prompt blocks")
		maxRows     = fs.Int("max-rows", 0, "row cap for /api/query")
		metricsFlag = fs.String("metrics-backend", "", "metrics backend: none|datadog")
		verbose     = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: catalogd [flags]")
		return 2
	}

	cfg, err := deps.loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.Catalog.DB = *dbPath
		case "addr":
			cfg.Catalog.Addr = *addr
		case "prompts":
			cfg.Catalog.PromptsDir = *promptsDir
		case "max-rows":
			cfg.Catalog.MaxRows = *maxRows
		case "metrics-backend":
			cfg.Metrics.Backend = *metricsFlag
		case "v":
			cfg.Verbose = *verbose
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 2
	}

	log, err := deps.newLogger(cfg.Verbose)
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	cleanup, err := deps.initMetrics(ctx, cfg.Metrics, log)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	cat, err := catalog.Open(ctx, cfg.Catalog.DB, catalog.Options{
		MaxRows:      cfg.Catalog.MaxRows,
		QueryTimeout: cfg.Catalog.QueryTimeout,
		Logger:       log,
	})
	if err != nil {
		fmt.Fprintf(stderr, "open catalog: %v\n", err)
		return 1
	}
	defer cat.Close()

	blocks, err := prompts.Load(cfg.Catalog.PromptsDir)
	if err != nil {
		fmt.Fprintf(stderr, "load prompts: %v\n", err)
		return 1
	}
	if blocks.Defaulted {
		log.Info("Prompt folder not found, using defaults", zap.String("dir", cfg.Catalog.PromptsDir))
	}

	srv := api.NewServer(api.Deps{
		Catalog:    cat,
		Prompts:    blocks,
		Logger:     log,
		SampleRows: cfg.Catalog.SampleRows,
	})
	if err := deps.serve(ctx, srv, cfg.Catalog.Addr, log); err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	return 0
}

// serve runs srv until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, srv *api.Server, addr string, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
