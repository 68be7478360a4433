package storage

import (
	"context"
	"database/sql"
	"fmt"

	"transitsql/internal/apperrors"
)

// SQLRepo implements Repository over database/sql for backends whose
// differences fit in a Dialect (SQLite, SQL Server, MySQL).
type SQLRepo struct {
	db        *sql.DB
	dialect   Dialect
	batchRows int
}

// NewSQLRepo wraps an open database. The repo owns db and closes it.
func NewSQLRepo(db *sql.DB, d Dialect, batchRows int) *SQLRepo {
	return &SQLRepo{db: db, dialect: d, batchRows: batchRows}
}

// DB exposes the underlying pool, mainly for tests.
func (r *SQLRepo) DB() *sql.DB { return r.db }

func (r *SQLRepo) Dialect() Dialect { return r.dialect }

func (r *SQLRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// ReplaceTable runs DROP, CREATE and every INSERT batch in one transaction.
//
// Full batches reuse one prepared statement; only the trailing partial batch
// is rendered separately. Errors from feed are returned unchanged, store
// failures wrap apperrors.ErrStore.
func (r *SQLRepo) ReplaceTable(ctx context.Context, spec TableSpec, feed RowFeed) (int64, error) {
	ddl, err := r.dialect.CreateTableSQL(spec)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, r.dialect.DropTableSQL(spec.Name)); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("drop table %s: %w", spec.Name, err))
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("create table %s: %w", spec.Name, err))
	}

	cols := spec.ColumnNames()
	per := r.dialect.BatchRows(len(cols), r.batchRows)

	full, err := tx.PrepareContext(ctx, r.dialect.InsertSQL(spec.Name, cols, per))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("prepare insert %s: %w", spec.Name, err))
	}
	defer full.Close()

	var (
		total int64
		rows  int
		args  = make([]any, 0, per*len(cols))
	)
	flush := func() error {
		if rows == 0 {
			return nil
		}
		var err error
		if rows == per {
			_, err = full.ExecContext(ctx, args...)
		} else {
			_, err = tx.ExecContext(ctx, r.dialect.InsertSQL(spec.Name, cols, rows), args...)
		}
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("insert into %s: %w", spec.Name, err))
		}
		total += int64(rows)
		rows = 0
		args = args[:0]
		return nil
	}

	err = feed(ctx, func(row []any) error {
		if len(row) != len(cols) {
			return fmt.Errorf("%w: table %s: row has %d values, want %d", apperrors.ErrSchema, spec.Name, len(row), len(cols))
		}
		args = append(args, row...)
		rows++
		if rows == per {
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

	if err := tx.Commit(); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("commit %s: %w", spec.Name, err))
	}
	committed = true
	return total, nil
}
