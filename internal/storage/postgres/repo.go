// Package postgres registers a PostgreSQL backend built on pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"transitsql/internal/apperrors"
	"transitsql/internal/infer"
	"transitsql/internal/storage"
)

// copyBatchRows bounds how many rows are buffered per COPY. COPY has no bind
// parameter limit, so this only caps memory.
const copyBatchRows = 5000

func init() {
	// registers the backend factory
	storage.Register("postgres", New)
}

// Dialect describes PostgreSQL DDL. Rows are loaded with COPY, so the
// placeholder and parameter limit only matter for callers rendering INSERTs.
func Dialect(schema string) storage.Dialect {
	return storage.Dialect{
		Name:        "postgres",
		Quote:       pgIdent,
		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		Types: map[infer.ColumnType]string{
			infer.Integer: "BIGINT",
			infer.Real:    "DOUBLE PRECISION",
			infer.Text:    "TEXT",
		},
		MaxParams: 65535,
		Schema:    schema,
	}
}

func pgIdent(s string) string { return pgx.Identifier{s}.Sanitize() }

/*
Repo implements storage.Repository for Postgres.

DDL is transactional in Postgres, so DROP, CREATE and the COPY batches of one
table commit together: a failed load leaves the previous table in place.
*/
type Repo struct {
	pool      *pgxpool.Pool
	dialect   storage.Dialect
	batchRows int
}

// New creates a pool for cfg.DSN and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	batch := cfg.BatchRows
	if batch <= 0 {
		batch = copyBatchRows
	}
	return &Repo{pool: pool, dialect: Dialect(cfg.Schema), batchRows: batch}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() error {
	r.pool.Close()
	return nil
}

// ReplaceTable recreates spec inside one transaction and streams rows with
// COPY FROM STDIN.
func (r *Repo) ReplaceTable(ctx context.Context, spec storage.TableSpec, feed storage.RowFeed) (int64, error) {
	ddl, err := r.dialect.CreateTableSQL(spec)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range r.prelude(spec, ddl) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("%s: %w", stmt, err))
		}
	}

	target := pgx.Identifier{spec.Name}
	if r.dialect.Schema != "" {
		target = pgx.Identifier{r.dialect.Schema, spec.Name}
	}
	cols := spec.ColumnNames()

	var (
		total int64
		batch = make([][]any, 0, r.batchRows)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := tx.CopyFrom(ctx, target, cols, pgx.CopyFromRows(batch))
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("copy into %s: %w", spec.Name, err))
		}
		total += n
		batch = batch[:0]
		return nil
	}

	err = feed(ctx, func(row []any) error {
		if len(row) != len(cols) {
			return fmt.Errorf("%w: table %s: row has %d values, want %d", apperrors.ErrSchema, spec.Name, len(row), len(cols))
		}
		batch = append(batch, append([]any(nil), row...))
		if len(batch) == r.batchRows {
			return flush()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := flush(); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("commit %s: %w", spec.Name, err))
	}
	return total, nil
}

// prelude returns the DDL run before loading: optional schema creation, the
// drop and the create.
func (r *Repo) prelude(spec storage.TableSpec, ddl string) []string {
	var out []string
	if r.dialect.Schema != "" {
		out = append(out, "CREATE SCHEMA IF NOT EXISTS "+pgIdent(r.dialect.Schema))
	}
	return append(out, r.dialect.DropTableSQL(spec.Name), ddl)
}
