package catalog

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitsql/internal/apperrors"
	"transitsql/internal/ingest"
	"transitsql/internal/source"
	"transitsql/internal/storage"
)

func mem(name, body string) source.Source {
	return source.Source{Name: name, Origin: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}}
}

// buildStore ingests a small feed and returns the store path.
func buildStore(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vehicles.db")

	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: path})
	require.NoError(t, err)
	defer repo.Close()

	var stops strings.Builder
	stops.WriteString("stop_id,stop_name,stop_lat\n")
	for i := 1; i <= 8; i++ {
		stops.WriteString("S")
		stops.WriteString(string(rune('0' + i)))
		stops.WriteString(",Stop ")
		stops.WriteString(string(rune('0' + i)))
		stops.WriteString(",52.5\n")
	}
	_, err = ingest.Ingest(ctx, []source.Source{
		mem("routes.txt", "route_id,route_type\n1,3\n2,\n"),
		mem("stops.txt", stops.String()),
	}, repo, ingest.Options{})
	require.NoError(t, err)
	return path
}

func openCatalog(t *testing.T, opts Options) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), buildStore(t), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCatalog_SchemaQueries(t *testing.T) {
	ctx := context.Background()
	c := openCatalog(t, Options{})

	tables, err := c.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"routes", "stops"}, tables)

	cols, err := c.Columns(ctx, "routes")
	require.NoError(t, err)
	assert.Equal(t, []Column{{Name: "route_id", Type: "INTEGER"}, {Name: "route_type", Type: "INTEGER"}}, cols)

	_, err = c.Columns(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownTable)

	schema, err := c.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"routes": {"route_id", "route_type"},
		"stops":  {"stop_id", "stop_name", "stop_lat"},
	}, schema)

	counts, err := c.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"routes": 2, "stops": 8}, counts)
}

func TestCatalog_Sample(t *testing.T) {
	ctx := context.Background()
	c := openCatalog(t, Options{})

	res, err := c.Sample(ctx, "stops", 0)
	require.NoError(t, err)
	assert.Len(t, res.Rows, DefaultSampleRows)

	res, err = c.Sample(ctx, "routes", 10)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1), int64(3)}, {int64(2), nil}}, res.Rows)

	_, err = c.Sample(ctx, `routes"; DROP TABLE stops; --`, 1)
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestCatalog_Query(t *testing.T) {
	ctx := context.Background()
	c := openCatalog(t, Options{MaxRows: 3})

	res, err := c.Query(ctx, "SELECT stop_id, stop_lat FROM stops ORDER BY stop_id;", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"stop_id", "stop_lat"}, res.Columns)
	assert.Len(t, res.Rows, 3)
	assert.True(t, res.Truncated)
	assert.Equal(t, []any{"S1", 52.5}, res.Rows[0])

	res, err = c.Query(ctx, "-- count\nSELECT COUNT(*) AS n FROM routes WHERE route_type IS NULL", 100)
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, [][]any{{int64(1)}}, res.Rows)
}

func TestCatalog_QueryRejectsWrites(t *testing.T) {
	ctx := context.Background()
	c := openCatalog(t, Options{})

	for _, q := range []string{
		"",
		"DELETE FROM stops",
		"DROP TABLE routes",
		"SELECT 1; DROP TABLE routes",
		"PRAGMA journal_mode = DELETE",
		"ATTACH DATABASE 'x.db' AS x",
	} {
		_, err := c.Query(ctx, q, 0)
		assert.ErrorIs(t, err, apperrors.ErrReadOnly, q)
	}

	// Passes the keyword check but the connection itself is read-only.
	_, err := c.Query(ctx, "WITH doomed AS (SELECT 1) DELETE FROM stops", 0)
	require.ErrorIs(t, err, apperrors.ErrStore)

	counts, err := c.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), counts["stops"])
}

func TestCatalog_Context(t *testing.T) {
	c := openCatalog(t, Options{})

	text, err := c.Context(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(text, "Database Schema:\n\nTable: routes\nColumns: route_id, route_type\nSample data:\n"), text)
	assert.Contains(t, text, "| route_id | route_type |\n| --- | --- |\n| 1 | 3 |\n")
	assert.Contains(t, text, "\nTable: stops\nColumns: stop_id, stop_name, stop_lat\n")
	assert.NotContains(t, text, "| 2 |", "one sample row per table")
}

func TestOpen_MissingStore(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "absent.db"), Options{})
	require.ErrorIs(t, err, apperrors.ErrStore)
}

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "  select * from stops ;; ", want: "select * from stops", ok: true},
		{in: "WITH t AS (SELECT 1) SELECT * FROM t", want: "WITH t AS (SELECT 1) SELECT * FROM t", ok: true},
		{in: "SELECT 'a;b' AS s", want: "SELECT 'a;b' AS s", ok: true},
		{in: `SELECT "x;y" FROM t`, want: `SELECT "x;y" FROM t`, ok: true},
		{in: "/* c */ EXPLAIN QUERY PLAN SELECT 1", want: "/* c */ EXPLAIN QUERY PLAN SELECT 1", ok: true},
		{in: "PRAGMA table_info(stops)", want: "PRAGMA table_info(stops)", ok: true},
		{in: "VALUES (1)", want: "VALUES (1)", ok: true},
		{in: "SELECT 1 -- trailing; comment", want: "SELECT 1 -- trailing; comment", ok: true},
		{in: "UPDATE stops SET stop_name = 'x'"},
		{in: "SELECT 1; SELECT 2"},
		{in: "INSERT INTO t VALUES (1)"},
		{in: "PRAGMA query_only=0"},
		{in: ";"},
		{in: "-- only a comment"},
	}
	for _, tc := range tests {
		got, err := CheckReadOnly(tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, apperrors.ErrReadOnly, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestResult_Rendering(t *testing.T) {
	res := &Result{
		Columns: []string{"id", "name", "score"},
		Rows: [][]any{
			{int64(1), "Main St, North", 2.5},
			{int64(2), nil, nil},
			{int64(3), "a|b", int64(7)},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, res.WriteCSV(&buf))
	assert.Equal(t, "id,name,score\n1,\"Main St, North\",2.5\n2,,\n3,a|b,7\n", buf.String())

	assert.Equal(t, "| id | name | score |\n| --- | --- | --- |\n| 1 | Main St, North | 2.5 |\n| 2 |  |  |\n| 3 | a\\|b | 7 |\n", res.Markdown())

	back := ExtractMarkdownTables(res.Markdown())
	require.Len(t, back, 1)
	assert.Equal(t, res.Columns, back[0].Columns)
	assert.Equal(t, []any{"3", "a|b", "7"}, back[0].Rows[2])
}

func TestExtractMarkdownTables(t *testing.T) {
	reply := "Here are the buses:\n\n" +
		"| bus_id | capacity |\n" +
		"|:------:|---------:|\n" +
		"| B1 | 40 |\n" +
		"| B2 |\n" +
		"\nAnd the depots:\n" +
		"depot | city\n" +
		"--- | ---\n" +
		"D1 | Oslo\n"

	tables := ExtractMarkdownTables(reply)
	require.Len(t, tables, 2)

	assert.Equal(t, []string{"bus_id", "capacity"}, tables[0].Columns)
	assert.Equal(t, [][]any{{"B1", "40"}, {"B2", ""}}, tables[0].Rows)
	assert.Equal(t, []string{"depot", "city"}, tables[1].Columns)
	assert.Equal(t, [][]any{{"D1", "Oslo"}}, tables[1].Rows)

	assert.Empty(t, ExtractMarkdownTables("no tables | here"))
}

func TestExtractSQL(t *testing.T) {
	q, ok := ExtractSQL("Thought: count buses\nAction: sql_db_query\nAction Input: SELECT COUNT(*) FROM buses\nObservation:")
	assert.True(t, ok)
	assert.Equal(t, "SELECT COUNT(*) FROM buses", q)

	q, ok = ExtractSQL("Try this:\n```sql\nSELECT *\nFROM stops\n```\n")
	assert.True(t, ok)
	assert.Equal(t, "SELECT *\nFROM stops", q)

	_, ok = ExtractSQL("I don't know.")
	assert.False(t, ok)
}
