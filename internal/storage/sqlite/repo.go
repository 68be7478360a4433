// Package sqlite registers the default single-file store backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"transitsql/internal/infer"
	"transitsql/internal/storage"
)

// Dialect describes SQLite. Identifiers use double quotes; the parameter
// limit is SQLITE_MAX_VARIABLE_NUMBER of the bundled library.
var Dialect = storage.Dialect{
	Name:        "sqlite",
	Quote:       storage.QuoteDouble,
	Placeholder: storage.QuestionMark,
	Types: map[infer.ColumnType]string{
		infer.Integer: "INTEGER",
		infer.Real:    "REAL",
		infer.Text:    "TEXT",
	},
	MaxParams: 32766,
}

func init() {
	storage.Register("sqlite", New)
}

// DSN turns a store path into a modernc.org/sqlite data source. Paths that
// already carry a query string are used as-is.
func DSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)"
}

// uriPath escapes the characters that end or corrupt the path part of a
// SQLite file: URI.
var uriPath = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")

// ReadOnlyDSN opens path read-only. The file must already exist.
func ReadOnlyDSN(path string) string {
	return "file:" + uriPath.Replace(path) + "?mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(5000)"
}

// New opens (creating if absent) the SQLite file named by cfg.DSN.
//
// The pool is capped at one connection: ingestion is a single writer and
// SQLite serialises writers anyway.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: empty store path")
	}
	db, err := sql.Open("sqlite", DSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DSN, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", cfg.DSN, err)
	}
	return storage.NewSQLRepo(db, Dialect, cfg.BatchRows), nil
}
