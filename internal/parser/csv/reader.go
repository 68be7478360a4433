// Package csv reads comma-separated text the way the ingestion pipeline needs
// it: a header row, then records whose empty unquoted fields are null.
//
// encoding/csv cannot be used here because it reports `,,` and `,"",` the
// same way; the pipeline must store the first as NULL and the second as an
// empty string.
package csv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"transitsql/internal/apperrors"
)

// Field is one parsed cell. Null is set only for an unquoted empty field.
type Field struct {
	Text string
	Null bool
}

// Reader is a quote-aware CSV record reader.
//
// The input must be UTF-8. A leading byte-order mark is stripped; any
// invalid byte sequence fails the read with apperrors.ErrDecode.
type Reader struct {
	// Comma is the field delimiter. Defaults to ','.
	Comma rune

	br   *bufio.Reader
	line int // lines consumed so far
	rec  int // line on which the last record started

	sb strings.Builder
}

// NewReader wraps src with UTF-8 validation and BOM stripping.
//
// The validator runs before the BOM override so that bytes following a BOM
// are still checked; the override alone would substitute U+FFFD silently.
func NewReader(src io.Reader) *Reader {
	t := transform.Chain(encoding.UTF8Validator, unicode.BOMOverride(transform.Nop))
	return &Reader{
		Comma: ',',
		br:    bufio.NewReaderSize(transform.NewReader(src, t), 64*1024),
	}
}

// Line returns the 1-based line number where the most recently returned
// record started.
func (r *Reader) Line() int { return r.rec }

// ReadHeader reads the first record as column names.
//
// Column names are kept verbatim (no trimming or case folding). Duplicate
// names are rejected with apperrors.ErrSchema.
func (r *Reader) ReadHeader() ([]string, error) {
	rec, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: missing header row", apperrors.ErrSchema)
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, len(rec))
	seen := make(map[string]int, len(rec))
	for i, f := range rec {
		if j, dup := seen[f.Text]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q at positions %d and %d", apperrors.ErrSchema, f.Text, j+1, i+1)
		}
		seen[f.Text] = i
		names[i] = f.Text
	}
	return names, nil
}

// Read returns the next record, or io.EOF when the input is exhausted.
// Blank lines are skipped.
func (r *Reader) Read() ([]Field, error) {
	for {
		c, err := r.next()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		if c == '\n' {
			r.line++
			continue
		}
		if c == '\r' {
			if _, err := r.consumeIf('\n'); err != nil {
				return nil, err
			}
			r.line++
			continue
		}
		r.unread()
		break
	}

	r.rec = r.line + 1
	var rec []Field
	for {
		f, last, err := r.readField()
		if err != nil {
			return nil, err
		}
		rec = append(rec, f)
		if last {
			r.line++
			return rec, nil
		}
	}
}

// readField reads one field and reports whether it ended the record.
func (r *Reader) readField() (Field, bool, error) {
	r.sb.Reset()

	c, err := r.next()
	if err == io.EOF {
		return Field{Null: true}, true, nil
	}
	if err != nil {
		return Field{}, false, err
	}

	if c != '"' {
		r.unread()
		last, err := r.readUnquoted()
		if err != nil {
			return Field{}, false, err
		}
		s := r.sb.String()
		return Field{Text: s, Null: s == ""}, last, nil
	}

	start := r.line + 1
	for {
		c, err := r.next()
		if err == io.EOF {
			return Field{}, false, fmt.Errorf("%w: line %d: unterminated quoted field", apperrors.ErrDecode, start)
		}
		if err != nil {
			return Field{}, false, err
		}
		if c == '"' {
			dbl, err := r.consumeIf('"')
			if err != nil {
				return Field{}, false, err
			}
			if dbl {
				r.sb.WriteByte('"')
				continue
			}
			break
		}
		if c == '\n' {
			r.line++
		}
		r.sb.WriteRune(c)
	}

	last, err := r.endOfField()
	if err != nil {
		return Field{}, false, err
	}
	return Field{Text: r.sb.String()}, last, nil
}

func (r *Reader) readUnquoted() (bool, error) {
	for {
		c, err := r.next()
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		switch c {
		case r.Comma:
			return false, nil
		case '\n':
			return true, nil
		case '\r':
			ok, err := r.consumeIf('\n')
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		r.sb.WriteRune(c)
	}
}

// endOfField consumes the delimiter or line break that must follow a closing
// quote.
func (r *Reader) endOfField() (bool, error) {
	c, err := r.next()
	if err == io.EOF {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	switch c {
	case r.Comma:
		return false, nil
	case '\n':
		return true, nil
	case '\r':
		if ok, err := r.consumeIf('\n'); err != nil || ok {
			return ok, err
		}
	}
	return false, fmt.Errorf("%w: line %d: unexpected %q after closing quote", apperrors.ErrDecode, r.line+1, c)
}

func (r *Reader) next() (rune, error) {
	c, _, err := r.br.ReadRune()
	if err != nil && err != io.EOF {
		if errors.Is(err, encoding.ErrInvalidUTF8) {
			return 0, fmt.Errorf("%w: near line %d: %v", apperrors.ErrDecode, r.line+1, err)
		}
		return 0, apperrors.Wrap(apperrors.ErrIO, err)
	}
	return c, err
}

func (r *Reader) unread() { _ = r.br.UnreadRune() }

func (r *Reader) consumeIf(want rune) (bool, error) {
	c, err := r.next()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if c == want {
		return true, nil
	}
	r.unread()
	return false, nil
}
