// Package catalog is the read-only view of an ingested store that the
// query surfaces (HTTP API, MCP tools) are built on.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"transitsql/internal/apperrors"
	"transitsql/internal/logging"
	"transitsql/internal/metrics"
	"transitsql/internal/storage"
	"transitsql/internal/storage/sqlite"
)

// ErrUnknownTable is returned for a table name the store does not hold.
var ErrUnknownTable = errors.New("unknown table")

const (
	DefaultMaxRows    = 1000
	DefaultSampleRows = 5
	defaultTimeout    = 30 * time.Second
)

// Options configure a Catalog. Zero values take the defaults.
type Options struct {
	MaxRows      int
	QueryTimeout time.Duration
	Logger       *zap.Logger
}

// Column is one column of a stored table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Catalog answers schema questions and runs guarded read-only queries.
// It is safe for concurrent use.
type Catalog struct {
	db      *sql.DB
	log     *zap.Logger
	maxRows int
	timeout time.Duration
}

// Open opens the SQLite store at path read-only. The file must exist.
func Open(ctx context.Context, path string, opts Options) (*Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("open store %s: %w", path, err))
	}
	db, err := sql.Open("sqlite", sqlite.ReadOnlyDSN(path))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("open store %s: %w", path, err))
	}
	return New(db, opts), nil
}

// New wraps an open SQLite database. The Catalog owns db.
func New(db *sql.DB, opts Options) *Catalog {
	c := &Catalog{db: db, log: opts.Logger, maxRows: opts.MaxRows, timeout: opts.QueryTimeout}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.maxRows <= 0 {
		c.maxRows = DefaultMaxRows
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c
}

func (c *Catalog) Close() error { return c.db.Close() }

// Tables lists user tables in name order.
func (c *Catalog) Tables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStore, err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, err)
	}
	return out, nil
}

// Columns lists the columns of table in declaration order.
func (c *Catalog) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, err)
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStore, err)
		}
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return out, nil
}

// Schema maps every table to its column names.
func (c *Catalog) Schema(ctx context.Context) (map[string][]string, error) {
	tables, err := c.Tables(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(tables))
	for _, t := range tables {
		cols, err := c.Columns(ctx, t)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(cols))
		for i, col := range cols {
			names[i] = col.Name
		}
		out[t] = names
	}
	return out, nil
}

// Sample returns the first limit rows of table (DefaultSampleRows when
// limit <= 0).
func (c *Catalog) Sample(ctx context.Context, table string, limit int) (*Result, error) {
	if limit <= 0 {
		limit = DefaultSampleRows
	}
	if _, err := c.Columns(ctx, table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT * FROM %s LIMIT %d", storage.QuoteDouble(table), limit)
	return c.read(ctx, q, limit)
}

// TableCounts returns the row count of every table.
func (c *Catalog) TableCounts(ctx context.Context) (map[string]int64, error) {
	tables, err := c.Tables(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(tables))
	for _, t := range tables {
		var n int64
		if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+storage.QuoteDouble(t)).Scan(&n); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("count %s: %w", t, err))
		}
		out[t] = n
	}
	return out, nil
}

// Query runs one read-only statement and returns at most maxRows rows
// (the catalog default when maxRows <= 0). Result.Truncated reports whether
// more rows were available.
//
// Errors:
//   - apperrors.ErrReadOnly for anything but a single SELECT, WITH, EXPLAIN,
//     VALUES or read-only PRAGMA statement.
//   - apperrors.ErrStore when the statement fails.
func (c *Catalog) Query(ctx context.Context, query string, maxRows int) (*Result, error) {
	start := time.Now()
	if maxRows <= 0 || maxRows > c.maxRows {
		maxRows = c.maxRows
	}

	stmt, err := CheckReadOnly(query)
	if err != nil {
		metrics.RecordQuery("rejected", time.Since(start))
		c.log.Info("Rejected query", zap.String("query", logging.SanitizeQuery(query)), zap.Error(err))
		return nil, err
	}

	res, err := c.read(ctx, stmt, maxRows)
	if err != nil {
		metrics.RecordQuery("error", time.Since(start))
		c.log.Warn("Query failed", zap.String("query", logging.SanitizeQuery(stmt)), zap.Error(err))
		return nil, err
	}
	metrics.RecordQuery("ok", time.Since(start))
	c.log.Debug("Query complete",
		zap.String("query", logging.SanitizeQuery(stmt)),
		zap.Int("rows", len(res.Rows)),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

// read runs q inside a transaction that is always rolled back.
func (c *Catalog) read(ctx context.Context, q string, maxRows int) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, q)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("columns: %w", err))
	}

	res := &Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if len(res.Rows) == maxRows {
			res.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for j := range values {
			ptrs[j] = &values[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("scan row: %w", err))
		}
		for j, v := range values {
			if b, ok := v.([]byte); ok {
				values[j] = string(b)
			}
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStore, fmt.Errorf("iterate: %w", err))
	}
	return res, nil
}

// Context renders the schema description handed to a conversational agent:
// every table with its columns and up to sampleRows example rows.
func (c *Catalog) Context(ctx context.Context, sampleRows int) (string, error) {
	schema, err := c.Schema(ctx)
	if err != nil {
		return "", err
	}
	tables := make([]string, 0, len(schema))
	for t := range schema {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	var b strings.Builder
	b.WriteString("Database Schema:\n")
	for _, t := range tables {
		fmt.Fprintf(&b, "\nTable: %s\n", t)
		fmt.Fprintf(&b, "Columns: %s\n", strings.Join(schema[t], ", "))
		if sampleRows <= 0 {
			continue
		}
		sample, err := c.Sample(ctx, t, sampleRows)
		if err != nil {
			return "", err
		}
		if len(sample.Rows) > 0 {
			fmt.Fprintf(&b, "Sample data:\n%s", sample.Markdown())
		}
	}
	return b.String(), nil
}
