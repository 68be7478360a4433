package catalog

import (
	"fmt"
	"strings"

	"transitsql/internal/apperrors"
)

var readPrefixes = []string{"SELECT", "WITH", "EXPLAIN", "VALUES", "PRAGMA"}

// CheckReadOnly validates that query is a single read statement and returns
// it with surrounding whitespace and trailing semicolons removed.
//
// The connection is opened read-only as well; this check turns the obvious
// cases into ErrReadOnly before they reach the database.
func CheckReadOnly(query string) (string, error) {
	stmt := strings.TrimSpace(query)
	for strings.HasSuffix(stmt, ";") {
		stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	}
	if stmt == "" {
		return "", fmt.Errorf("%w: empty query", apperrors.ErrReadOnly)
	}
	if hasStatementBreak(stmt) {
		return "", fmt.Errorf("%w: multiple statements", apperrors.ErrReadOnly)
	}

	head := strings.ToUpper(firstWord(stmt))
	ok := false
	for _, p := range readPrefixes {
		if head == p {
			ok = true
			break
		}
	}
	if !ok {
		return "", fmt.Errorf("%w: %s statements are not allowed", apperrors.ErrReadOnly, head)
	}
	if head == "PRAGMA" && strings.Contains(stmt, "=") {
		return "", fmt.Errorf("%w: PRAGMA assignments are not allowed", apperrors.ErrReadOnly)
	}
	return stmt, nil
}

// firstWord skips leading comments and returns the first keyword.
func firstWord(s string) string {
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = s[i+2:]
		default:
			end := strings.IndexFunc(s, func(r rune) bool {
				return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
			})
			if end < 0 {
				return s
			}
			return s[:end]
		}
	}
}

// hasStatementBreak reports a ';' outside quotes and comments.
func hasStatementBreak(s string) bool {
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"', '`':
			quote = ch
		case '[':
			quote = ']'
		case '-':
			if i+1 < len(s) && s[i+1] == '-' {
				j := strings.IndexByte(s[i:], '\n')
				if j < 0 {
					return false
				}
				i += j
			}
		case '/':
			if i+1 < len(s) && s[i+1] == '*' {
				j := strings.Index(s[i+2:], "*/")
				if j < 0 {
					return false
				}
				i += j + 3
			}
		case ';':
			return true
		}
	}
	return false
}
