// Command mcp serves an ingested SQLite store to agents over MCP on
// stdin/stdout. Logs go to stderr.
//
//	mcp [-db vehicles.db] [-prompts modular_prompt]
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

	"go.uber.org/zap"

	"transitsql/internal/catalog"
	"transitsql/internal/config"
	"transitsql/internal/logging"
	"transitsql/internal/mcpserver"
	"transitsql/internal/prompts"
)

var version = "dev"

type appDeps struct {
	loadConfig func(path string) (*config.Config, error)
	newLogger  func(verbose bool) (*zap.Logger, error)
	serve      func(srv *mcpserver.Server) error
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		serve:      (*mcpserver.Server).ServeStdio,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath    = fs.String("config", "", "YAML config file (optional)")
		dbPath     = fs.String("db", "", "SQLite store to serve")
		promptsDir = fs.String("prompts", "", "directory of prompt blocks")
		sampleRows = fs.Int("sample-rows", 0, "example rows per table in the database context")
		verbose    = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: mcp [flags]")
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
		case "prompts":
			cfg.Catalog.PromptsDir = *promptsDir
		case "sample-rows":
			cfg.Catalog.SampleRows = *sampleRows
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

	srv := mcpserver.New(mcpserver.Deps{
		Catalog:    cat,
		Prompts:    blocks,
		Logger:     log,
		SampleRows: cfg.Catalog.SampleRows,
		Version:    version,
	})
	if err := deps.serve(srv); err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	return 0
}
