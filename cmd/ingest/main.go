// Command ingest loads GTFS or fleet-telemetry CSV/TXT files (a zip
// archive, a directory, a single file or an http(s) URL) into a relational
// store, one table per file, with INTEGER/REAL/TEXT columns inferred from
// the data.
//
//	ingest [flags] <input> [store]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"transitsql/internal/config"
	"transitsql/internal/gtfscheck"
	"transitsql/internal/ingest"
	"transitsql/internal/logging"
	"transitsql/internal/metrics/setup"
	"transitsql/internal/source"
	"transitsql/internal/storage"
	"transitsql/internal/trigger"

	// register all backends with the storage factory.
	_ "transitsql/internal/storage/all"
)

const defaultStoreName = "vehicles.db"

// job is one fully resolved ingestion request.
type job struct {
	input     string
	store     storage.Config
	mapping   map[string]string
	keepGoing bool
	checkGTFS bool
}

// appDeps are the seams runMain depends on.
type appDeps struct {
	loadConfig  func(path string) (*config.Config, error)
	newLogger   func(verbose bool) (*zap.Logger, error)
	initMetrics func(ctx context.Context, cfg config.MetricsConfig, log *zap.Logger) (func(), error)
	run         func(ctx context.Context, j job, log *zap.Logger) (ingest.Report, error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newLogger:   logging.New,
		initMetrics: setup.Init,
		run:         runJob,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain returns the process exit code: 0 on success, 1 on a failed run,
// 2 on a usage error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: ingest [flags] <input> [store]")
		fs.PrintDefaults()
		fmt.Fprint(stderr, "\n", config.Usage())
	}

	var (
		cfgPath     = fs.String("config", "", "YAML config file (optional)")
		kind        = fs.String("kind", "", "store kind: "+strings.Join(storage.Kinds(), ", "))
		dsn         = fs.String("dsn", "", "store DSN; a file path for sqlite")
		schema      = fs.String("schema", "", "target schema (postgres, sqlserver)")
		batchRows   = fs.Int("batch-rows", 0, "rows per insert batch (0 = backend default)")
		keepGoing   = fs.Bool("keep-going", false, "continue with the next file after a failure")
		checkGTFS   = fs.Bool("check-gtfs", false, "parse zip inputs as GTFS and log a summary")
		watch       = fs.Bool("watch", false, "re-run when the input changes")
		debounce    = fs.Duration("debounce", 2*time.Second, "quiet period before a watched change triggers a run")
		schedule    = fs.String("schedule", "", "cron spec for re-runs, e.g. \"@every 1h\"")
		metricsFlag = fs.String("metrics-backend", "", "metrics backend: none|datadog")
		metricsTags = fs.String("metrics-tags", "", "comma-separated Datadog tags")
		verbose     = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < 1 || fs.NArg() > 2 || strings.TrimSpace(fs.Arg(0)) == "" {
		fmt.Fprintln(stderr, "usage: ingest [flags] <input> [store]")
		return 2
	}
	input := fs.Arg(0)

	cfg, err := deps.loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	// Flags override config and environment.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "kind":
			cfg.Store.Kind = *kind
		case "dsn":
			cfg.Store.DSN = *dsn
		case "schema":
			cfg.Store.Schema = *schema
		case "batch-rows":
			cfg.Store.BatchRows = *batchRows
		case "keep-going":
			cfg.Ingest.KeepGoing = *keepGoing
		case "check-gtfs":
			cfg.Ingest.CheckGTFS = *checkGTFS
		case "watch":
			cfg.Ingest.Watch = *watch
		case "debounce":
			cfg.Ingest.Debounce = *debounce
		case "schedule":
			cfg.Ingest.Schedule = *schedule
		case "metrics-backend":
			cfg.Metrics.Backend = *metricsFlag
		case "metrics-tags":
			cfg.Metrics.Tags = *metricsTags
		case "v":
			cfg.Verbose = *verbose
		}
	})
	if fs.NArg() == 2 {
		cfg.Store.DSN = fs.Arg(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 2
	}
	if cfg.Ingest.Watch && source.IsURL(input) {
		fmt.Fprintln(stderr, "-watch needs a local input; use -schedule to re-fetch a URL")
		return 2
	}

	j := job{
		input:     input,
		store:     storage.Config{Kind: cfg.Store.Kind, DSN: cfg.Store.DSN, Schema: cfg.Store.Schema, BatchRows: cfg.Store.BatchRows},
		mapping:   cfg.Ingest.Mapping,
		keepGoing: cfg.Ingest.KeepGoing,
		checkGTFS: cfg.Ingest.CheckGTFS,
	}
	if j.store.DSN == "" {
		if j.store.Kind != "sqlite" {
			fmt.Fprintf(stderr, "a DSN is required for store kind %s\n", j.store.Kind)
			return 2
		}
		j.store.DSN = defaultStorePath(input)
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

	log.Info("Ingesting",
		zap.String("input", input),
		zap.String("store", j.store.Kind),
		zap.String("dsn", logging.SanitizeDSN(j.store.DSN)))

	once := func(ctx context.Context) error {
		rep, err := deps.run(ctx, j, log)
		printReport(stdout, rep)
		return err
	}

	if err := once(ctx); err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		if !cfg.Ingest.Watch && cfg.Ingest.Schedule == "" {
			return 1
		}
	}
	if !cfg.Ingest.Watch && cfg.Ingest.Schedule == "" {
		return 0
	}
	return serve(ctx, cfg.Ingest, input, trigger.NewRunner(once, log), stderr, log)
}

// serve re-runs until ctx is cancelled.
func serve(ctx context.Context, cfg config.IngestConfig, input string, runner *trigger.Runner, stderr io.Writer, log *zap.Logger) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		code int
	)
	fail := func(err error) {
		fmt.Fprintf(stderr, "%v\n", err)
		mu.Lock()
		code = 1
		mu.Unlock()
		cancel()
	}

	if cfg.Watch {
		w, err := trigger.NewWatcher(input, cfg.Debounce, runner, log)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return 1
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				fail(err)
			}
		}()
	}
	if cfg.Schedule != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := trigger.Schedule(ctx, cfg.Schedule, runner, log); err != nil {
				fail(err)
			}
		}()
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	return code
}

// defaultStorePath puts the SQLite store next to the input.
func defaultStorePath(input string) string {
	if source.IsURL(input) {
		return defaultStoreName
	}
	return filepath.Join(filepath.Dir(filepath.Clean(input)), defaultStoreName)
}

// runJob discovers the sources of j, opens the store and ingests.
func runJob(ctx context.Context, j job, log *zap.Logger) (ingest.Report, error) {
	input := j.input
	if source.IsURL(input) {
		dir, err := os.MkdirTemp("", "transitsql-*")
		if err != nil {
			return ingest.Report{}, err
		}
		defer os.RemoveAll(dir)

		log.Info("Downloading", zap.String("url", input))
		if input, err = source.Fetch(ctx, nil, input, dir); err != nil {
			return ingest.Report{}, err
		}
	}

	srcs, err := discover(input, j.mapping, log)
	if err != nil {
		return ingest.Report{}, err
	}

	repo, err := storage.New(ctx, j.store)
	if err != nil {
		return ingest.Report{}, err
	}
	defer repo.Close()

	rep, err := ingest.Ingest(ctx, srcs, repo, ingest.Options{KeepGoing: j.keepGoing, Logger: log})
	if err == nil && j.checkGTFS && source.IsArchive(input) {
		gtfscheck.Log(input, log)
	}
	return rep, err
}

// discover uses the configured mapping for directory inputs and the
// directory/archive/file rules otherwise.
func discover(input string, mapping map[string]string, log *zap.Logger) ([]source.Source, error) {
	if len(mapping) > 0 {
		if st, err := os.Stat(input); err == nil && st.IsDir() {
			return source.FromMapping(input, mapping, log)
		}
	}
	return source.Discover(input)
}

func printReport(w io.Writer, rep ingest.Report) {
	if len(rep.Sources) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tROWS\tCOLUMNS\tSOURCE\tSTATUS")
	for _, s := range rep.Sources {
		status := "ok"
		switch {
		case s.Err != nil:
			status = "failed"
		case s.ReplacedBy != "":
			status = "replaced by " + s.ReplacedBy
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", s.Table, s.Rows, len(s.Columns), s.Source, status)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d tables, %d rows (run %s)\n", len(rep.Tables()), rep.Rows(), rep.RunID)
}
