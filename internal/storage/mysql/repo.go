// Package mysql registers a MySQL/MariaDB backend.
//
// MySQL commits DDL implicitly, so DROP and CREATE cannot be rolled back: a
// failed load leaves the new table empty or partially filled rather than
// restoring the previous one. Rows themselves still load in one transaction.
package mysql

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"transitsql/internal/infer"
	"transitsql/internal/storage"
)

func init() {
	storage.Register("mysql", New)
}

// Dialect describes MySQL: backtick identifiers, positional '?' markers and
// a 65535 placeholder limit per prepared statement.
var Dialect = storage.Dialect{
	Name:        "mysql",
	Quote:       mysqlIdent,
	Placeholder: storage.QuestionMark,
	Types: map[infer.ColumnType]string{
		infer.Integer: "BIGINT",
		infer.Real:    "DOUBLE",
		infer.Text:    "LONGTEXT",
	},
	MaxParams: 65535,
}

func mysqlIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// New opens cfg.DSN, e.g. "user:pass@tcp(host:3306)/gtfs?charset=utf8mb4".
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return storage.NewSQLRepo(db, Dialect, cfg.BatchRows), nil
}
