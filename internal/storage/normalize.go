package storage

import (
	"fmt"
	"strconv"
	"time"
)

// FormatValue renders a scanned database value as display text. NULL
// becomes the empty string; callers that must tell NULL apart check for nil
// first.
//
// Drivers disagree on scan types (SQLite TEXT may arrive as []byte, MySQL
// integers as int64 or []byte), so this keeps rendering consistent.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}
