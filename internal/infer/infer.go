// Package infer classifies CSV columns as INTEGER, REAL or TEXT and coerces
// cells to the chosen type.
//
// Classification is a total function over every non-null value of a column:
//
//   - INTEGER when every value is a base-10 integer literal (optional sign, no
//     decimal point, no exponent) that fits int64.
//   - REAL when every value is a finite decimal float literal. Integers that
//     overflow int64 land here. Exponents are accepted.
//   - TEXT otherwise, and for columns with no non-null values at all.
//
// Values are never trimmed, so " 5" is TEXT.
package infer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"transitsql/internal/apperrors"
)

// ColumnType is the inferred scalar type of a whole column.
type ColumnType int

const (
	Text ColumnType = iota
	Integer
	Real
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Real:
		return "REAL"
	default:
		return "TEXT"
	}
}

// decimalFloat excludes what strconv.ParseFloat would otherwise accept but
// is not a decimal literal: hex floats, underscores, "inf", "nan".
var decimalFloat = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// IsInteger reports whether v is a base-10 integer literal that fits int64.
func IsInteger(v string) bool {
	_, err := strconv.ParseInt(v, 10, 64)
	return err == nil
}

// IsReal reports whether v is a finite decimal floating-point literal.
func IsReal(v string) bool {
	_, ok := parseReal(v)
	return ok
}

func parseReal(v string) (float64, bool) {
	if !decimalFloat.MatchString(v) {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Column accumulates evidence for one column. The zero value is ready to use.
type Column struct {
	seen     bool
	notInt   bool
	notFloat bool
}

// Observe records one cell. Null cells carry no evidence.
func (c *Column) Observe(v string, null bool) {
	if null {
		return
	}
	c.seen = true
	if c.notFloat {
		return // already TEXT
	}
	if !c.notInt && IsInteger(v) {
		return
	}
	c.notInt = true
	if !IsReal(v) {
		c.notFloat = true
	}
}

// Type returns the classification of everything observed so far.
func (c *Column) Type() ColumnType {
	switch {
	case !c.seen || c.notFloat:
		return Text
	case c.notInt:
		return Real
	default:
		return Integer
	}
}

// Classify returns the type of a fully materialised column. A nil entry is
// a null cell.
func Classify(values []*string) ColumnType {
	var c Column
	for _, v := range values {
		if v == nil {
			c.Observe("", true)
			continue
		}
		c.Observe(*v, false)
	}
	return c.Type()
}

// Coerce converts a non-null cell to the Go value stored for t: int64 for
// INTEGER, float64 for REAL, the string unchanged for TEXT. A value that
// contradicts t fails with apperrors.ErrCoercion; there is no fallback.
func Coerce(t ColumnType, v string) (any, error) {
	switch t {
	case Integer:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an INTEGER", apperrors.ErrCoercion, v)
		}
		return n, nil
	case Real:
		f, ok := parseReal(v)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a REAL", apperrors.ErrCoercion, v)
		}
		return f, nil
	default:
		return v, nil
	}
}

// MarshalText renders the SQL type name, so JSON reports "INTEGER" rather
// than an enum ordinal.
func (t ColumnType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *ColumnType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "INTEGER":
		*t = Integer
	case "REAL":
		*t = Real
	case "TEXT":
		*t = Text
	default:
		return fmt.Errorf("unknown column type %q", b)
	}
	return nil
}
