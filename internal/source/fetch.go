package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"transitsql/internal/apperrors"
)

// IsURL reports whether input should be downloaded rather than read locally.
func IsURL(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

// Fetch downloads url into dir and returns the local path. The file keeps the
// URL's base name, or feed.zip when the URL has none.
func Fetch(ctx context.Context, client *http.Client, url, dir string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrIO, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrIO, fmt.Errorf("download %s: %w", url, err))
	}
	defer resp.Body.Close() // nolint
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: download %s: status %s", apperrors.ErrIO, url, resp.Status)
	}

	name := path.Base(req.URL.Path)
	if name == "" || name == "/" || name == "." {
		name = "feed.zip"
	}
	dest := filepath.Join(dir, name)
	f, err := os.Create(dest)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrIO, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", apperrors.Wrap(apperrors.ErrIO, fmt.Errorf("download %s: %w", url, err))
	}
	if err := f.Close(); err != nil {
		return "", apperrors.Wrap(apperrors.ErrIO, err)
	}
	return dest, nil
}
