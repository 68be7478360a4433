package storage

import (
	"fmt"
	"strings"

	"transitsql/internal/infer"
)

// DefaultBatchRows caps rows per INSERT when the parameter limit allows more.
const DefaultBatchRows = 500

// Dialect captures the SQL differences between backends that matter for
// replacing a table: identifier quoting, bind placeholders, type names and
// statement size limits.
type Dialect struct {
	Name string

	// Quote returns a quoted identifier, escaping embedded quote characters.
	Quote func(ident string) string

	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder func(n int) string

	// Types maps inferred column types to backend column types.
	Types map[infer.ColumnType]string

	// MaxParams is the bind-parameter limit of one statement.
	MaxParams int

	// MaxRows limits rows in one VALUES list. Zero means no limit.
	MaxRows int

	// Schema qualifies every table name when set (Postgres, SQL Server).
	Schema string
}

// Table returns the quoted, schema-qualified table name.
func (d Dialect) Table(name string) string {
	if d.Schema == "" {
		return d.Quote(name)
	}
	return d.Quote(d.Schema) + "." + d.Quote(name)
}

// TypeName returns the backend column type for t.
func (d Dialect) TypeName(t infer.ColumnType) string {
	if s, ok := d.Types[t]; ok {
		return s
	}
	return d.Types[infer.Text]
}

// DropTableSQL returns the statement removing name if present.
func (d Dialect) DropTableSQL(name string) string {
	return "DROP TABLE IF EXISTS " + d.Table(name)
}

// CreateTableSQL renders the CREATE TABLE for spec, one column per line in
// header order.
func (d Dialect) CreateTableSQL(spec TableSpec) (string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	if len(spec.Columns) == 0 {
		return "", fmt.Errorf("table %s has no columns", spec.Name)
	}

	parts := make([]string, 0, len(spec.Columns))
	for _, c := range spec.Columns {
		parts = append(parts, fmt.Sprintf("%s %s", d.Quote(c.Name), d.TypeName(c.Type)))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", d.Table(spec.Name), strings.Join(parts, ",\n  ")), nil
}

// BatchRows returns how many rows of ncols columns fit in one INSERT.
// want overrides DefaultBatchRows when positive; the result never exceeds
// the dialect limits and is at least 1.
func (d Dialect) BatchRows(ncols, want int) int {
	n := DefaultBatchRows
	if want > 0 {
		n = want
	}
	if d.MaxParams > 0 && ncols > 0 {
		n = min(n, d.MaxParams/ncols)
	}
	if d.MaxRows > 0 {
		n = min(n, d.MaxRows)
	}
	return max(n, 1)
}

// InsertSQL renders a multi-row INSERT for nrows rows of columns.
func (d Dialect) InsertSQL(table string, columns []string, nrows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.Table(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Quote(c))
	}
	b.WriteString(") VALUES ")

	n := 1
	for r := 0; r < nrows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// QuoteDouble quotes with ANSI double quotes.
func QuoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QuestionMark is the positional placeholder used by SQLite and MySQL.
func QuestionMark(int) string { return "?" }
