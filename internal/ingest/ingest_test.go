package ingest

import (
	"archive/zip"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"transitsql/internal/apperrors"
	"transitsql/internal/infer"
	"transitsql/internal/metrics"
	"transitsql/internal/source"
	"transitsql/internal/storage"
	"transitsql/internal/storage/sqlite"
)

func openStore(t *testing.T) *storage.SQLRepo {
	t.Helper()
	repo, err := sqlite.New(context.Background(), storage.Config{DSN: filepath.Join(t.TempDir(), "vehicles.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo.(*storage.SQLRepo)
}

func mem(name, body string) source.Source {
	return source.Source{
		Name:   name,
		Origin: name,
		Open:   func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
	}
}

func columnTypes(t *testing.T, db *sql.DB, table string) map[string]string {
	t.Helper()
	rows, err := db.Query(`SELECT name, type FROM pragma_table_info(?)`, table)
	require.NoError(t, err)
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var name, typ string
		require.NoError(t, rows.Scan(&name, &typ))
		out[name] = typ
	}
	require.NoError(t, rows.Err())
	return out
}

func column(t *testing.T, db *sql.DB, table, col string) []any {
	t.Helper()
	rows, err := db.Query(`SELECT "` + col + `" FROM "` + table + `" ORDER BY rowid`)
	require.NoError(t, err)
	defer rows.Close()
	var out []any
	for rows.Next() {
		var v any
		require.NoError(t, rows.Scan(&v))
		out = append(out, v)
	}
	require.NoError(t, rows.Err())
	return out
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "`+table+`"`).Scan(&n))
	return n
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n))
	return n == 1
}

func TestIngest_InfersAndStoresTypedColumns(t *testing.T) {
	repo := openStore(t)
	src := mem("Samples.csv", "a,b,c,d\n1,1,1,A\n2,2.5,,B\n3,3,3,3\n")

	rep, err := Ingest(context.Background(), []source.Source{src}, repo, Options{})
	require.NoError(t, err)
	require.Len(t, rep.Sources, 1)
	assert.Equal(t, "samples", rep.Sources[0].Table)
	assert.Equal(t, int64(3), rep.Sources[0].Rows)
	assert.NotEmpty(t, rep.RunID)

	db := repo.DB()
	assert.Equal(t, map[string]string{"a": "INTEGER", "b": "REAL", "c": "INTEGER", "d": "TEXT"}, columnTypes(t, db, "samples"))

	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, column(t, db, "samples", "a"))
	// mixed int/float widens to REAL
	assert.Equal(t, []any{1.0, 2.5, 3.0}, column(t, db, "samples", "b"))
	assert.Equal(t, []any{int64(1), nil, int64(3)}, column(t, db, "samples", "c"))
	assert.Equal(t, []any{"A", "B", "3"}, column(t, db, "samples", "d"))
}

func TestIngest_NullDistinctFromQuotedEmpty(t *testing.T) {
	repo := openStore(t)
	src := mem("notes.txt", "id,note\n1,\n2,\"\"\n3,  x  \n")

	_, err := Ingest(context.Background(), []source.Source{src}, repo, Options{})
	require.NoError(t, err)

	assert.Equal(t, []any{nil, "", "  x  "}, column(t, repo.DB(), "notes", "note"))
}

func TestIngest_AllNullAndHeaderOnlyColumnsAreText(t *testing.T) {
	repo := openStore(t)
	sources := []source.Source{
		mem("blank.csv", "x,y\n,1\n,2\n"),
		mem("header_only.csv", "p,q\n"),
	}

	rep, err := Ingest(context.Background(), sources, repo, Options{})
	require.NoError(t, err)

	db := repo.DB()
	assert.Equal(t, "TEXT", columnTypes(t, db, "blank")["x"])
	assert.Equal(t, map[string]string{"p": "TEXT", "q": "TEXT"}, columnTypes(t, db, "header_only"))
	assert.Equal(t, 0, count(t, db, "header_only"))
	assert.Equal(t, []infer.ColumnType{infer.Text, infer.Text}, []infer.ColumnType{rep.Sources[1].Columns[0].Type, rep.Sources[1].Columns[1].Type})
}

func TestIngest_ArchiveWithoutQualifyingMembers(t *testing.T) {
	p := filepath.Join(t.TempDir(), "feed.zip")
	writeZip(t, p, map[string]string{"README.md": "hi", "logo.png": "x"})

	_, err := source.FromArchive(p)
	require.ErrorIs(t, err, apperrors.ErrSourceNotFound)

	spy := &spyRepo{}
	_, err = Ingest(context.Background(), nil, spy, Options{})
	require.ErrorIs(t, err, apperrors.ErrSourceNotFound)
	assert.Zero(t, spy.calls, "store must not be touched")
}

func TestIngest_CollisionIsLastWriteWins(t *testing.T) {
	repo := openStore(t)
	core, logs := observer.New(zap.WarnLevel)
	sources := []source.Source{
		mem("Stops.txt", "stop_id,stop_name\nS1,First\nS2,Second\n"),
		mem("stops.csv", "stop_id,lat\n10,1.5\n"),
	}

	rep, err := Ingest(context.Background(), sources, repo, Options{Logger: zap.New(core)})
	require.NoError(t, err)

	db := repo.DB()
	assert.Equal(t, map[string]string{"stop_id": "INTEGER", "lat": "REAL"}, columnTypes(t, db, "stops"), "schemas are not merged")
	assert.Equal(t, 1, count(t, db, "stops"))
	assert.Equal(t, "stops.csv", rep.Sources[0].ReplacedBy)
	assert.Equal(t, []string{"stops"}, rep.Tables())
	assert.Equal(t, int64(1), rep.Rows(), "replaced rows are not counted")

	warn := logs.FilterMessageSnippet("collision").All()
	require.Len(t, warn, 1)
	fields := warn[0].ContextMap()
	assert.Equal(t, "Stops.txt", fields["earlier"])
	assert.Equal(t, "stops.csv", fields["later"])
}

func TestIngest_FailedLaterSourceDoesNotReplace(t *testing.T) {
	repo := openStore(t)
	core, logs := observer.New(zap.WarnLevel)
	sources := []source.Source{
		mem("Stops.txt", "stop_id,stop_name\nS1,First\nS2,Second\n"),
		mem("stops.csv", "stop_id,lat\n10,1.5,extra\n"),
	}

	rep, err := Ingest(context.Background(), sources, repo, Options{KeepGoing: true, Logger: zap.New(core)})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchema)

	require.Len(t, rep.Sources, 2)
	assert.Empty(t, rep.Sources[0].ReplacedBy)
	assert.Error(t, rep.Sources[1].Err)
	assert.Equal(t, 2, count(t, repo.DB(), "stops"))
	assert.Equal(t, map[string]string{"stop_id": "TEXT", "stop_name": "TEXT"}, columnTypes(t, repo.DB(), "stops"))
	assert.Equal(t, []string{"stops"}, rep.Tables())
	assert.Equal(t, int64(2), rep.Rows())
	assert.Zero(t, logs.FilterMessageSnippet("collision").Len())
}

func TestIngest_RerunIsIdempotent(t *testing.T) {
	repo := openStore(t)
	src := mem("routes.txt", "route_id,route_type\nR1,3\nR2,3\n")

	for i := 0; i < 2; i++ {
		_, err := Ingest(context.Background(), []source.Source{src}, repo, Options{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, count(t, repo.DB(), "routes"))
}

func TestIngest_StopsAtFirstFailureAndKeepsEarlierTables(t *testing.T) {
	repo := openStore(t)
	sources := []source.Source{
		mem("agency.txt", "agency_id\nA\n"),
		mem("broken.txt", "a,b\n1,2,3\n"),
		mem("trips.txt", "trip_id\nT1\n"),
	}

	rep, err := Ingest(context.Background(), sources, repo, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchema)

	var se *apperrors.SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "broken", se.Table)
	assert.Equal(t, "broken.txt", se.Source)

	db := repo.DB()
	assert.True(t, tableExists(t, db, "agency"))
	assert.False(t, tableExists(t, db, "broken"))
	assert.False(t, tableExists(t, db, "trips"), "sources after the failure are not processed")
	assert.Len(t, rep.Sources, 2)
	assert.Len(t, rep.Failed(), 1)
}

func TestIngest_KeepGoingReportsEveryFailure(t *testing.T) {
	repo := openStore(t)
	sources := []source.Source{
		mem("bad1.txt", "a,a\n1,2\n"),
		mem("good.txt", "x\n1\n"),
		mem("bad2.txt", "a\n\"open\n"),
	}

	rep, err := Ingest(context.Background(), sources, repo, Options{KeepGoing: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchema)
	assert.ErrorIs(t, err, apperrors.ErrDecode)
	assert.True(t, tableExists(t, repo.DB(), "good"))
	assert.Len(t, rep.Failed(), 2)
	assert.Equal(t, int64(1), rep.Rows())
}

func TestIngest_FailedReloadKeepsPreviousTable(t *testing.T) {
	repo := openStore(t)
	_, err := Ingest(context.Background(), []source.Source{mem("stops.txt", "stop_id\n1\n2\n")}, repo, Options{})
	require.NoError(t, err)

	// The first row of the reload is inserted before the second fails.
	_, err = Ingest(context.Background(), []source.Source{drifting("stops.txt", "stop_id\n7\n8\n", "stop_id\n7\nx\n")}, repo, Options{})
	require.ErrorIs(t, err, apperrors.ErrCoercion)

	assert.Equal(t, []any{int64(1), int64(2)}, column(t, repo.DB(), "stops", "stop_id"))
}

func TestIngest_CoercionFailureIsNotSilent(t *testing.T) {
	repo := openStore(t)

	_, err := Ingest(context.Background(), []source.Source{drifting("drift.csv", "n\n1\n2\n", "n\n1\ntwo\n")}, repo, Options{})
	require.ErrorIs(t, err, apperrors.ErrCoercion)
	assert.Contains(t, err.Error(), "line 3")
	assert.False(t, tableExists(t, repo.DB(), "drift"))
}

// drifting returns a source whose content changes between the scan and the
// load.
func drifting(name string, bodies ...string) source.Source {
	var mu sync.Mutex
	return source.Source{Name: name, Origin: name, Open: func() (io.ReadCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		b := bodies[0]
		if len(bodies) > 1 {
			bodies = bodies[1:]
		}
		return io.NopCloser(strings.NewReader(b)), nil
	}}
}

func TestIngest_OpenErrorIsIOError(t *testing.T) {
	repo := openStore(t)
	src := source.FromFile(filepath.Join(t.TempDir(), "missing.txt"))

	_, err := Ingest(context.Background(), []source.Source{src}, repo, Options{})
	require.ErrorIs(t, err, apperrors.ErrIO)
}

func TestIngest_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	spy := &spyRepo{}
	_, err := Ingest(ctx, []source.Source{mem("a.txt", "x\n1\n")}, spy, Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, spy.calls)
}

func TestIngest_ArchiveEndToEnd(t *testing.T) {
	p := filepath.Join(t.TempDir(), "gtfs.zip")
	writeZip(t, p, map[string]string{
		"stops.txt":  "stop_id,stop_lat,stop_lon\nS1,52.52,13.40\nS2,52.50,13.37\n",
		"routes.txt": "route_id,route_type\n1,3\n",
		"notes.md":   "ignored",
	})
	srcs, err := source.FromArchive(p)
	require.NoError(t, err)

	repo := openStore(t)
	rep, err := Ingest(context.Background(), srcs, repo, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"routes", "stops"}, rep.Tables())
	assert.Equal(t, "REAL", columnTypes(t, repo.DB(), "stops")["stop_lat"])
	assert.Equal(t, int64(3), rep.Rows())
}

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
}

func (b *recordingBackend) IncCounter(name string, delta float64, labels metrics.Labels) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[name+"/"+labels["status"]+labels["table"]] += delta
}

func (b *recordingBackend) ObserveHistogram(string, float64, metrics.Labels) {}

func TestIngest_RecordsMetrics(t *testing.T) {
	b := &recordingBackend{counters: map[string]float64{}}
	metrics.SetBackend(b)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	repo := openStore(t)
	_, err := Ingest(context.Background(), []source.Source{
		mem("a.txt", "x\n1\n2\n"),
		mem("b.txt", "x,x\n"),
	}, repo, Options{KeepGoing: true})
	require.Error(t, err)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 1.0, b.counters[metrics.IngestSourcesTotal+"/ok"])
	assert.Equal(t, 1.0, b.counters[metrics.IngestSourcesTotal+"/failed"])
	assert.Equal(t, 2.0, b.counters[metrics.IngestRowsTotal+"/a"])
	assert.Equal(t, 1.0, b.counters[metrics.IngestRunsTotal+"/failed"])
}

func TestScan_ReportsRowsAndTypes(t *testing.T) {
	spec, rows, err := Scan(context.Background(), mem("x.csv", "a,b\n1,x\n2.5,\n"), "x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)
	assert.Equal(t, storage.TableSpec{Name: "x", Columns: []storage.ColumnSpec{
		{Name: "a", Type: infer.Real},
		{Name: "b", Type: infer.Text},
	}}, spec)
}

type spyRepo struct{ calls int }

func (s *spyRepo) ReplaceTable(context.Context, storage.TableSpec, storage.RowFeed) (int64, error) {
	s.calls++
	return 0, errors.New("unexpected")
}

func (s *spyRepo) Close() error { return nil }

func writeZip(t *testing.T, p string, files map[string]string) {
	t.Helper()
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Unix(0, 0)})
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}
