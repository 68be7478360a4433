package catalog

import (
	"encoding/csv"
	"io"
	"regexp"
	"strings"

	"transitsql/internal/storage"
)

// Result is a materialised query result. Values are nil, int64, float64 or
// string.
type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// WriteCSV writes a header line and one line per row. Nulls are empty
// fields.
func (r *Result) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Columns); err != nil {
		return err
	}
	rec := make([]string, len(r.Columns))
	for _, row := range r.Rows {
		for i, v := range row {
			rec[i] = storage.FormatValue(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Markdown renders r as a GitHub-flavoured table.
func (r *Result) Markdown() string {
	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for _, c := range cells {
			b.WriteString(" ")
			b.WriteString(strings.ReplaceAll(strings.ReplaceAll(c, "|", `\|`), "\n", " "))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	writeRow(r.Columns)
	sep := make([]string, len(r.Columns))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sep)

	cells := make([]string, len(r.Columns))
	for _, row := range r.Rows {
		for i, v := range row {
			cells[i] = storage.FormatValue(v)
		}
		writeRow(cells)
	}
	return b.String()
}

var separatorRow = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)

// ExtractMarkdownTables pulls every markdown table out of free text, such
// as an agent reply, so it can be exported as CSV. Cells are strings.
func ExtractMarkdownTables(text string) []*Result {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var out []*Result
	for i := 0; i+1 < len(lines); i++ {
		head := strings.TrimSpace(lines[i])
		if !strings.Contains(head, "|") || !separatorRow.MatchString(strings.TrimSpace(lines[i+1])) {
			continue
		}
		res := &Result{Columns: splitCells(head), Rows: [][]any{}}
		j := i + 2
		for ; j < len(lines); j++ {
			line := strings.TrimSpace(lines[j])
			if line == "" || !strings.Contains(line, "|") {
				break
			}
			cells := splitCells(line)
			row := make([]any, len(res.Columns))
			for k := range row {
				if k < len(cells) {
					row[k] = cells[k]
				} else {
					row[k] = ""
				}
			}
			res.Rows = append(res.Rows, row)
		}
		out = append(out, res)
		i = j - 1
	}
	return out
}

func splitCells(line string) []string {
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")

	var (
		cells []string
		cur   strings.Builder
	)
	for i := 0; i < len(line); i++ {
		if line[i] == '\\' && i+1 < len(line) && line[i+1] == '|' {
			cur.WriteByte('|')
			i++
			continue
		}
		if line[i] == '|' {
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(line[i])
	}
	return append(cells, strings.TrimSpace(cur.String()))
}

var (
	actionInput = regexp.MustCompile(`(?i)Action Input:\s*(SELECT [^\n]*)`)
	sqlFence    = regexp.MustCompile("(?is)```sql\\s*(.*?)```")
)

// ExtractSQL finds the query in an agent reply: a ```sql fenced block, or
// the text following "Action Input:".
func ExtractSQL(reply string) (string, bool) {
	if m := sqlFence.FindStringSubmatch(reply); m != nil {
		if q := strings.TrimSpace(m[1]); q != "" {
			return q, true
		}
	}
	if m := actionInput.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}
