// Package mssql registers a Microsoft SQL Server backend.
package mssql

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"transitsql/internal/infer"
	"transitsql/internal/storage"
)

// SQL Server limits a statement to 2100 parameters and a VALUES list to
// 1000 rows. We stay comfortably below the parameter limit.
const (
	maxParams = 2000
	maxRows   = 1000
)

func init() {
	storage.Register("sqlserver", New)
}

// Dialect describes SQL Server. DROP TABLE IF EXISTS needs SQL Server 2016
// or later. Text columns are NVARCHAR(MAX) so non-ASCII feed data survives.
func Dialect(schema string) storage.Dialect {
	return storage.Dialect{
		Name:        "sqlserver",
		Quote:       mssqlIdent,
		Placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
		Types: map[infer.ColumnType]string{
			infer.Integer: "BIGINT",
			infer.Real:    "FLOAT",
			infer.Text:    "NVARCHAR(MAX)",
		},
		MaxParams: maxParams,
		MaxRows:   maxRows,
		Schema:    schema,
	}
}

// New opens cfg.DSN with the "sqlserver" driver and validates connectivity.
// SQL Server DDL is transactional, so table replacement is atomic.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Ingestion is a single writer; a small pool is enough.
	raw.SetMaxOpenConns(4)
	raw.SetMaxIdleConns(4)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return storage.NewSQLRepo(raw, Dialect(cfg.Schema), cfg.BatchRows), nil
}

// mssqlIdent bracket-quotes an identifier.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

