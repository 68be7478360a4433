// Package ingest loads delimited-text sources into a relational store, one
// table per source, with column types inferred from the data.
//
// Each source is read twice. The first pass classifies every column from all
// of its values; the second pass coerces the cells to those types and hands
// them to the repository, which replaces the target table in one transaction.
// Sources are processed one at a time in the order given.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"transitsql/internal/apperrors"
	"transitsql/internal/infer"
	"transitsql/internal/metrics"
	"transitsql/internal/parser/csv"
	"transitsql/internal/source"
	"transitsql/internal/storage"
)

// Options tune a run. The zero value stops at the first failed source and
// logs nothing.
type Options struct {
	// KeepGoing continues with the next source after a failure. The
	// returned error then joins every failure.
	KeepGoing bool
	// RunID tags log lines and the report; a random UUID when empty.
	RunID  string
	Logger *zap.Logger
}

// SourceReport is the outcome of one source.
type SourceReport struct {
	Source   string               `json:"source"`
	Table    string               `json:"table"`
	Rows     int64                `json:"rows"`
	Columns  []storage.ColumnSpec `json:"columns,omitempty"`
	Duration time.Duration        `json:"duration"`
	// ReplacedBy names a later source of the same run that overwrote this
	// table.
	ReplacedBy string `json:"replaced_by,omitempty"`
	Err        error  `json:"-"`
}

// Report summarises a run.
type Report struct {
	RunID   string         `json:"run_id"`
	Sources []SourceReport `json:"sources"`
}

// Failed returns the reports of sources that did not load.
func (r Report) Failed() []SourceReport {
	var out []SourceReport
	for _, s := range r.Sources {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Rows is the number of rows the run left in the store. Rows of a source
// whose table a later source replaced are not counted.
func (r Report) Rows() int64 {
	var n int64
	for _, s := range r.Sources {
		if s.Err == nil && s.ReplacedBy == "" {
			n += s.Rows
		}
	}
	return n
}

// Tables lists the tables that hold data from this run, sorted.
func (r Report) Tables() []string {
	seen := map[string]bool{}
	for _, s := range r.Sources {
		if s.Err == nil {
			seen[s.Table] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Ingest replaces one table per source in repo.
//
// Tables already committed stay in place when a later source fails. Two
// sources resolving to the same table name are both loaded in order, so the
// later one wins; a warning names both.
//
// Errors:
//   - apperrors.ErrSourceNotFound when sources is empty. repo is not touched.
//   - *apperrors.SourceError wrapping ErrIO, ErrDecode, ErrSchema,
//     ErrCoercion or ErrStore for a failed source.
//   - ctx.Err() when cancelled between sources.
func Ingest(ctx context.Context, sources []source.Source, repo storage.Repository, opts Options) (Report, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("run_id", opts.RunID))

	rep := Report{RunID: opts.RunID}
	if len(sources) == 0 {
		metrics.RecordRun("failed")
		return rep, fmt.Errorf("%w: nothing to ingest", apperrors.ErrSourceNotFound)
	}

	log.Info("Starting ingestion", zap.Int("sources", len(sources)))
	start := time.Now()

	var (
		errs   []error
		loaded = map[string]int{} // table -> index into rep.Sources
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		table := src.TableName()
		sr := loadOne(ctx, src, table, repo, log)
		rep.Sources = append(rep.Sources, sr)

		if sr.Err != nil {
			metrics.RecordSource(table, "failed", 0, sr.Duration)
			log.Error("Source failed", zap.String("source", src.Origin), zap.String("table", table), zap.Error(sr.Err))
			errs = append(errs, sr.Err)
			if !opts.KeepGoing {
				break
			}
			continue
		}
		metrics.RecordSource(table, "ok", sr.Rows, sr.Duration)
		// A failed later source rolls back, so only a successful one replaces.
		if prev, ok := loaded[table]; ok {
			log.Warn("Table name collision, later source replaces earlier",
				zap.String("table", table),
				zap.String("earlier", rep.Sources[prev].Source),
				zap.String("later", src.Origin))
			rep.Sources[prev].ReplacedBy = src.Origin
		}
		loaded[table] = len(rep.Sources) - 1
	}

	status := "ok"
	if len(errs) > 0 {
		status = "failed"
	}
	metrics.RecordRun(status)
	log.Info("Ingestion finished",
		zap.String("status", status),
		zap.Int("tables", len(rep.Tables())),
		zap.Int64("rows", rep.Rows()),
		zap.Duration("took", time.Since(start)))

	return rep, errors.Join(errs...)
}

func loadOne(ctx context.Context, src source.Source, table string, repo storage.Repository, log *zap.Logger) SourceReport {
	start := time.Now()
	sr := SourceReport{Source: src.Origin, Table: table}

	fail := func(err error) SourceReport {
		sr.Err = &apperrors.SourceError{Source: src.Origin, Table: table, Err: err}
		sr.Duration = time.Since(start)
		return sr
	}

	spec, scanned, err := Scan(ctx, src, table)
	if err != nil {
		return fail(err)
	}
	sr.Columns = spec.Columns
	log.Debug("Inferred column types",
		zap.String("table", table),
		zap.Int64("rows", scanned),
		zap.Any("columns", spec.Columns))

	n, err := repo.ReplaceTable(ctx, spec, Feed(src, spec))
	if err != nil {
		return fail(err)
	}
	sr.Rows = n
	sr.Duration = time.Since(start)

	log.Info("Loaded table",
		zap.String("table", table),
		zap.String("source", src.Origin),
		zap.Int64("rows", n),
		zap.Int("columns", len(spec.Columns)),
		zap.Duration("took", sr.Duration))
	return sr
}

// Scan reads src once and infers one type per header column. It returns the
// table definition and the number of data rows seen. A header-only source
// yields all-TEXT columns and zero rows.
func Scan(ctx context.Context, src source.Source, table string) (storage.TableSpec, int64, error) {
	rc, err := src.Open()
	if err != nil {
		return storage.TableSpec{}, 0, apperrors.Wrap(apperrors.ErrIO, err)
	}

	var (
		cols []infer.Column
		rows int64
	)
	header, err := csv.StreamRows(ctx, rc, func(_ int, rec []csv.Field) error {
		if cols == nil {
			cols = make([]infer.Column, len(rec))
		}
		for i, f := range rec {
			cols[i].Observe(f.Text, f.Null)
		}
		rows++
		return nil
	})
	if err != nil {
		return storage.TableSpec{}, 0, err
	}
	if cols == nil {
		cols = make([]infer.Column, len(header))
	}

	spec := storage.TableSpec{Name: table, Columns: make([]storage.ColumnSpec, len(header))}
	for i, name := range header {
		spec.Columns[i] = storage.ColumnSpec{Name: name, Type: cols[i].Type()}
	}
	return spec, rows, nil
}

// Feed re-reads src and emits each record coerced to spec's column types.
// Null cells become nil. The row slice passed to emit is reused.
func Feed(src source.Source, spec storage.TableSpec) storage.RowFeed {
	return func(ctx context.Context, emit func(row []any) error) error {
		rc, err := src.Open()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrIO, err)
		}

		row := make([]any, len(spec.Columns))
		header, err := csv.StreamRows(ctx, rc, func(line int, rec []csv.Field) error {
			if len(rec) != len(spec.Columns) {
				return fmt.Errorf("%w: line %d: source changed since it was scanned", apperrors.ErrSchema, line)
			}
			for i, f := range rec {
				if f.Null {
					row[i] = nil
					continue
				}
				v, err := infer.Coerce(spec.Columns[i].Type, f.Text)
				if err != nil {
					return fmt.Errorf("line %d column %q: %w", line, spec.Columns[i].Name, err)
				}
				row[i] = v
			}
			return emit(row)
		})
		if err != nil {
			return err
		}
		if !slices.Equal(header, spec.ColumnNames()) {
			return fmt.Errorf("%w: header changed since the source was scanned", apperrors.ErrSchema)
		}
		return nil
	}
}
