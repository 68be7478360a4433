package postgres

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"transitsql/internal/infer"
	"transitsql/internal/storage"
)

var tripsSpec = storage.TableSpec{
	Name: "Trips",
	Columns: []storage.ColumnSpec{
		{Name: "trip_id", Type: infer.Text},
		{Name: "direction_id", Type: infer.Integer},
		{Name: "shape dist", Type: infer.Real},
	},
}

func TestDialect_CreateTableUsesPostgresTypes(t *testing.T) {
	t.Parallel()

	ddl, err := Dialect("").CreateTableSQL(tripsSpec)
	if err != nil {
		t.Fatalf("CreateTableSQL: %v", err)
	}
	for _, want := range []string{
		`CREATE TABLE "Trips"`,
		`"trip_id" TEXT`,
		`"direction_id" BIGINT`,
		`"shape dist" DOUBLE PRECISION`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("DDL missing %q:\n%s", want, ddl)
		}
	}
}

func TestPrelude_CreatesSchemaWhenQualified(t *testing.T) {
	t.Parallel()

	r := &Repo{dialect: Dialect("gtfs")}
	stmts := r.prelude(tripsSpec, "CREATE ...")
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d: %v", len(stmts), stmts)
	}
	if stmts[0] != `CREATE SCHEMA IF NOT EXISTS "gtfs"` {
		t.Fatalf("unexpected schema stmt: %q", stmts[0])
	}
	if stmts[1] != `DROP TABLE IF EXISTS "gtfs"."Trips"` {
		t.Fatalf("unexpected drop stmt: %q", stmts[1])
	}

	r = &Repo{dialect: Dialect("")}
	if got := r.prelude(tripsSpec, "CREATE ..."); len(got) != 2 {
		t.Fatalf("expected no schema stmt, got %v", got)
	}
}

func TestPgIdent_EscapesQuotes(t *testing.T) {
	t.Parallel()
	if got := pgIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("got %s", got)
	}
}

// TestReplaceTable_Live runs against a real server when
// TRANSITSQL_TEST_POSTGRES_DSN is set.
func TestReplaceTable_Live(t *testing.T) {
	dsn := os.Getenv("TRANSITSQL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRANSITSQL_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	repo, err := New(ctx, storage.Config{DSN: dsn, Schema: "transitsql_test", BatchRows: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer repo.Close()

	n, err := repo.ReplaceTable(ctx, tripsSpec, func(ctx context.Context, emit func([]any) error) error {
		for _, r := range [][]any{{"T1", int64(0), 1.5}, {"T2", nil, nil}, {"", int64(1), 3.0}} {
			if err := emit(r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ReplaceTable: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	var nulls int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM "transitsql_test"."Trips" WHERE direction_id IS NULL`).Scan(&nulls); err != nil {
		t.Fatalf("query: %v", err)
	}
	if nulls != 1 {
		t.Fatalf("expected 1 null direction_id, got %d", nulls)
	}
}
