// Command probe reads an input the way ingest would and prints the table
// definitions it would create, without touching a store.
//
//	probe [-kind sqlite] [-schema s] [-ddl] [-json] <input>
//
// Every source is scanned in full, so the reported types are exactly the
// ones ingest infers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"transitsql/internal/ingest"
	"transitsql/internal/source"
	"transitsql/internal/storage"
	"transitsql/internal/storage/mssql"
	"transitsql/internal/storage/mysql"
	"transitsql/internal/storage/postgres"
	"transitsql/internal/storage/sqlite"
)

var dialects = map[string]func(schema string) storage.Dialect{
	"sqlite":    func(string) storage.Dialect { return sqlite.Dialect },
	"mysql":     func(string) storage.Dialect { return mysql.Dialect },
	"postgres":  postgres.Dialect,
	"sqlserver": mssql.Dialect,
}

// tableReport is the JSON shape of one probed source.
type tableReport struct {
	Source  string               `json:"source"`
	Table   string               `json:"table"`
	Rows    int64                `json:"rows"`
	Columns []storage.ColumnSpec `json:"columns"`
	DDL     string               `json:"ddl,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func dialectKinds() []string {
	out := make([]string, 0, len(dialects))
	for k := range dialects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		kind    = fs.String("kind", "sqlite", "dialect for -ddl: "+strings.Join(dialectKinds(), ", "))
		schema  = fs.String("schema", "", "schema qualifier for -ddl (postgres, sqlserver)")
		ddl     = fs.Bool("ddl", false, "print CREATE TABLE statements")
		asJSON  = fs.Bool("json", false, "print JSON instead of a table")
		pretty  = fs.Bool("pretty", true, "indent JSON output")
		mapping = fs.String("map", "", "explicit table=file pairs for a directory input, comma-separated")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		fmt.Fprintln(stderr, "usage: probe [flags] <input>")
		return 2
	}
	mkDialect, ok := dialects[strings.ToLower(*kind)]
	if !ok {
		fmt.Fprintf(stderr, "unknown dialect %q (want one of %s)\n", *kind, strings.Join(dialectKinds(), ", "))
		return 2
	}
	pairs, err := parseMapping(*mapping)
	if err != nil {
		fmt.Fprintf(stderr, "-map: %v\n", err)
		return 2
	}

	srcs, err := discover(fs.Arg(0), pairs)
	if err != nil {
		fmt.Fprintf(stderr, "probe: %v\n", err)
		return 1
	}

	d := mkDialect(*schema)
	reports := make([]tableReport, 0, len(srcs))
	failed := false
	for _, src := range srcs {
		tr := tableReport{Source: src.Origin, Table: src.TableName()}
		spec, rows, err := ingest.Scan(ctx, src, tr.Table)
		if err != nil {
			tr.Error = err.Error()
			failed = true
			reports = append(reports, tr)
			continue
		}
		tr.Rows, tr.Columns = rows, spec.Columns
		if *ddl {
			if tr.DDL, err = d.CreateTableSQL(spec); err != nil {
				tr.Error = err.Error()
				failed = true
			}
		}
		reports = append(reports, tr)
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		if *pretty {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(reports); err != nil {
			fmt.Fprintf(stderr, "encode: %v\n", err)
			return 1
		}
	} else {
		printReports(stdout, reports)
	}

	if failed {
		return 1
	}
	return 0
}

func discover(input string, mapping map[string]string) ([]source.Source, error) {
	if len(mapping) > 0 {
		return source.FromMapping(input, mapping, nil)
	}
	return source.Discover(input)
}

// parseMapping reads "buses=buses.csv,trips=gps_trips.csv".
func parseMapping(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := map[string]string{}
	for _, p := range strings.Split(s, ",") {
		table, file, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || strings.TrimSpace(table) == "" || strings.TrimSpace(file) == "" {
			return nil, fmt.Errorf("bad pair %q, want table=file", p)
		}
		out[strings.TrimSpace(table)] = strings.TrimSpace(file)
	}
	return out, nil
}

func printReports(w io.Writer, reports []tableReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tCOLUMN\tTYPE\tROWS")
	for _, r := range reports {
		if r.Error != "" {
			fmt.Fprintf(tw, "%s\t-\t-\terror: %s\n", r.Table, r.Error)
			continue
		}
		for i, c := range r.Columns {
			rows := ""
			if i == 0 {
				rows = fmt.Sprint(r.Rows)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Table, c.Name, c.Type, rows)
		}
	}
	_ = tw.Flush()

	for _, r := range reports {
		if r.DDL != "" {
			fmt.Fprintf(w, "\n%s;\n", r.DDL)
		}
	}
}
