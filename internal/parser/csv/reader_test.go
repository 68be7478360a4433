package csv

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitsql/internal/apperrors"
)

func readAll(t *testing.T, in string) ([]string, [][]Field, error) {
	t.Helper()
	var rows [][]Field
	hdr, err := StreamRows(context.Background(), io.NopCloser(strings.NewReader(in)), func(_ int, rec []Field) error {
		rows = append(rows, append([]Field(nil), rec...))
		return nil
	})
	return hdr, rows, err
}

func TestReader_NullVersusQuotedEmpty(t *testing.T) {
	hdr, rows, err := readAll(t, "a,b,c\n1,,\"\"\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, hdr)
	require.Len(t, rows, 1)
	assert.Equal(t, Field{Text: "1"}, rows[0][0])
	assert.Equal(t, Field{Null: true}, rows[0][1])
	assert.Equal(t, Field{Text: ""}, rows[0][2])
}

func TestReader_Quoting(t *testing.T) {
	in := "name,desc\r\n" +
		"\"Main St, North\",\"say \"\"hi\"\"\"\r\n" +
		"multi,\"line one\nline two\"\r\n" +
		"  padded  ,Ünïcödé\r\n"
	_, rows, err := readAll(t, in)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Main St, North", rows[0][0].Text)
	assert.Equal(t, `say "hi"`, rows[0][1].Text)
	assert.Equal(t, "line one\nline two", rows[1][1].Text)
	assert.Equal(t, "  padded  ", rows[2][0].Text, "fields are not trimmed")
	assert.Equal(t, "Ünïcödé", rows[2][1].Text)
}

func TestReader_StripsBOM(t *testing.T) {
	hdr, rows, err := readAll(t, "\ufeffstop_id,stop_name\nS1,Central\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"stop_id", "stop_name"}, hdr)
	require.Len(t, rows, 1)
}

func TestReader_SkipsBlankLinesAndHandlesMissingFinalNewline(t *testing.T) {
	_, rows, err := readAll(t, "a,b\n\n1,2\n\r\n3,4")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "3", rows[1][0].Text)
	assert.Equal(t, "4", rows[1][1].Text)
}

func TestReader_TrailingDelimiterIsNullField(t *testing.T) {
	_, rows, err := readAll(t, "a,b\n1,\n")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0][1].Null)
}

func TestReader_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{name: "empty input", in: "", want: apperrors.ErrSchema},
		{name: "duplicate header", in: "id,id\n1,2\n", want: apperrors.ErrSchema},
		{name: "too many fields", in: "a,b\n1,2,3\n", want: apperrors.ErrSchema},
		{name: "too few fields", in: "a,b\n1\n", want: apperrors.ErrSchema},
		{name: "unterminated quote", in: "a\n\"open\n", want: apperrors.ErrDecode},
		{name: "garbage after quote", in: "a,b\n\"x\"y,2\n", want: apperrors.ErrDecode},
		{name: "invalid utf-8", in: "a\n\xff\xfe\n", want: apperrors.ErrDecode},
		{name: "invalid utf-8 after bom", in: "\ufeffa\n\xc3\x28\n", want: apperrors.ErrDecode},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := readAll(t, tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestStreamRows_ReportsLineNumbers(t *testing.T) {
	_, _, err := readAll(t, "a,b\n1,2\n\"x\ny\",2\n3\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 5")
}

func TestStreamRows_CallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	_, err := StreamRows(context.Background(), io.NopCloser(strings.NewReader("a\n1\n2\n3\n")), func(int, []Field) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error { c.closed = true; return nil }

func TestStreamRows_ClosesSource(t *testing.T) {
	src := &closeTracker{Reader: strings.NewReader("a,b\n1\n")}
	_, err := StreamRows(context.Background(), src, func(int, []Field) error { return nil })
	require.Error(t, err)
	assert.True(t, src.closed)
}
