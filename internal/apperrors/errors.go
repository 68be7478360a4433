// Package apperrors holds the error taxonomy shared by ingestion and the
// read-only catalog. Every error returned by those packages wraps one of the
// sentinels below, so callers can branch with errors.Is.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrSourceNotFound = errors.New("no qualifying sources found")
	ErrIO             = errors.New("source i/o error")
	ErrDecode         = errors.New("source is not valid utf-8 delimited text")
	ErrSchema         = errors.New("header inconsistent with rows")
	ErrStore          = errors.New("store error")
	ErrCoercion       = errors.New("value contradicts inferred column type")
	ErrReadOnly       = errors.New("only single read-only statements are allowed")
)

// SourceError attaches the failing source and its target table to an error.
type SourceError struct {
	Source string
	Table  string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s (table %s): %v", e.Source, e.Table, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Wrap annotates err with a sentinel unless it already carries one from this
// package. It returns nil for a nil err.
func Wrap(sentinel error, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Classified reports whether err already wraps one of the taxonomy sentinels.
func Classified(err error) bool {
	for _, s := range []error{ErrSourceNotFound, ErrIO, ErrDecode, ErrSchema, ErrStore, ErrCoercion, ErrReadOnly} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
