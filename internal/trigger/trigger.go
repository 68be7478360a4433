// Package trigger re-runs ingestion when its input changes or on a cron
// schedule. Runs never overlap.
package trigger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"transitsql/internal/source"
)

// RunFunc performs one run.
type RunFunc func(ctx context.Context) error

// Runner serialises runs of fn. A trigger that arrives while a run is in
// progress is coalesced into a single follow-up run.
type Runner struct {
	fn  RunFunc
	log *zap.Logger

	mu      sync.Mutex
	running bool
	pending bool
}

func NewRunner(fn RunFunc, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{fn: fn, log: log}
}

// Trigger runs fn now, or after the current run when one is in progress.
// It returns once the runs it started have finished.
func (r *Runner) Trigger(ctx context.Context, reason string) {
	r.mu.Lock()
	if r.running {
		r.pending = true
		r.mu.Unlock()
		r.log.Debug("Run in progress, queued", zap.String("reason", reason))
		return
	}
	r.running = true
	r.mu.Unlock()

	for {
		if ctx.Err() != nil {
			r.mu.Lock()
			r.running, r.pending = false, false
			r.mu.Unlock()
			return
		}

		r.log.Info("Triggered run", zap.String("reason", reason))
		if err := r.fn(ctx); err != nil {
			r.log.Error("Triggered run failed", zap.String("reason", reason), zap.Error(err))
		}

		r.mu.Lock()
		if !r.pending {
			r.running = false
			r.mu.Unlock()
			return
		}
		r.pending = false
		r.mu.Unlock()
		reason = "queued"
	}
}

// Watcher re-runs a Runner when the watched input changes.
type Watcher struct {
	fsw      *fsnotify.Watcher
	target   string // absolute path of a watched file; empty for a directory
	debounce time.Duration
	runner   *Runner
	log      *zap.Logger
}

// NewWatcher starts watching path, a directory of sources or a single file
// (archive or delimited text). Single files are watched through their
// parent directory so editors that replace the file are still seen.
func NewWatcher(path string, debounce time.Duration, runner *Runner, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{fsw: fsw, debounce: debounce, runner: runner, log: log}
	dir := abs
	if !st.IsDir() {
		w.target = abs
		dir = filepath.Dir(abs)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return w, nil
}

// relevant reports whether an event on name should trigger a run.
func (w *Watcher) relevant(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if w.target != "" {
		return abs == w.target
	}
	return source.Qualifies(abs)
}

// Run dispatches debounced runs until ctx is cancelled, then closes the
// watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var (
		timer *time.Timer
		wg    sync.WaitGroup
	)
	defer func() {
		if timer != nil && timer.Stop() {
			wg.Done()
		}
		wg.Wait()
	}()

	w.log.Info("Watching for changes", zap.Duration("debounce", w.debounce))
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			w.log.Debug("Change detected", zap.String("file", event.Name), zap.String("op", event.Op.String()))

			if timer != nil && timer.Stop() {
				wg.Done()
			}
			wg.Add(1)
			name := event.Name
			timer = time.AfterFunc(w.debounce, func() {
				defer wg.Done()
				w.runner.Trigger(ctx, "changed "+filepath.Base(name))
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Watcher error", zap.Error(err))
		}
	}
}

// Schedule triggers runner on a cron spec ("0 3 * * *", "@every 1h") until
// ctx is cancelled. An invalid spec fails immediately.
func Schedule(ctx context.Context, spec string, runner *Runner, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { runner.Trigger(ctx, "schedule") }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	c.Start()
	log.Info("Scheduled runs", zap.String("schedule", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
