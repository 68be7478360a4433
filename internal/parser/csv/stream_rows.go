package csv

import (
	"context"
	"fmt"
	"io"

	"transitsql/internal/apperrors"
)

// RowFunc receives each data record in source order. line is the 1-based
// line on which the record started. rec is only valid for the duration of
// the call.
type RowFunc func(line int, rec []Field) error

// StreamRows reads the header row of src, then hands every data record to fn.
//
// src is always closed before returning. A record whose field count differs
// from the header fails with apperrors.ErrSchema; records are not repaired or
// skipped. Returning an error from fn stops the scan and returns that error.
func StreamRows(ctx context.Context, src io.ReadCloser, fn RowFunc) ([]string, error) {
	defer src.Close()

	cr := NewReader(src)
	header, err := cr.ReadHeader()
	if err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return header, err
		}

		rec, err := cr.Read()
		if err == io.EOF {
			return header, nil
		}
		if err != nil {
			return header, err
		}
		if len(rec) != len(header) {
			return header, fmt.Errorf("%w: line %d: expected %d fields, got %d",
				apperrors.ErrSchema, cr.Line(), len(header), len(rec))
		}
		if err := fn(cr.Line(), rec); err != nil {
			return header, err
		}
	}
}
