// Package source discovers the delimited-text inputs of an ingestion run.
//
// A Source can be opened any number of times; ingestion reads each one twice
// (once to infer column types, once to load rows).
package source

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"transitsql/internal/apperrors"
)

// Source is one delimited-text input destined for a single table.
type Source struct {
	// Name is the file or archive member name, used to derive the table.
	Name string
	// Table overrides the derived table name when set (explicit mappings).
	Table string
	// Origin describes where the source lives, for logs and reports.
	Origin string
	// Open returns a fresh reader positioned at the first byte.
	Open func() (io.ReadCloser, error)
}

// TableName returns the target table for s.
func (s Source) TableName() string {
	if s.Table != "" {
		return lower(s.Table)
	}
	return TableName(s.Name)
}

var folder = cases.Lower(language.Und)

func lower(s string) string { return folder.String(s) }

// TableName derives a table name from a path: directory components and the
// extension are stripped, the rest is lower-cased. Both '/' and '\' count as
// separators so archive members built on Windows resolve the same way.
func TableName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := path.Base(name)
	base = strings.TrimSuffix(base, path.Ext(base))
	return lower(base)
}

// Qualifies reports whether name has a delimited-text extension (.txt or
// .csv, any case).
func Qualifies(name string) bool {
	switch strings.ToLower(path.Ext(strings.ReplaceAll(name, `\`, "/"))) {
	case ".txt", ".csv":
		return true
	}
	return false
}

// FromArchive lists the qualifying members of a zip archive in the archive's
// own order. Directory entries are ignored. An archive with no qualifying
// member fails with apperrors.ErrSourceNotFound.
//
// Each Open re-opens the archive, so the returned sources hold no file
// handles between reads.
func FromArchive(zipPath string) ([]Source, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrSourceNotFound, zipPath)
		}
		return nil, apperrors.Wrap(apperrors.ErrIO, fmt.Errorf("open archive %s: %w", zipPath, err))
	}
	defer zr.Close()

	var out []Source
	for i, f := range zr.File {
		if f.FileInfo().IsDir() || !Qualifies(f.Name) {
			continue
		}
		idx, member := i, f.Name
		out = append(out, Source{
			Name:   member,
			Origin: zipPath + "!" + member,
			Open:   func() (io.ReadCloser, error) { return openMember(zipPath, idx, member) },
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: archive %s has no .txt or .csv members", apperrors.ErrSourceNotFound, zipPath)
	}
	return out, nil
}

// memberReader closes both the member stream and the archive.
type memberReader struct {
	io.ReadCloser
	zr *zip.ReadCloser
}

func (m *memberReader) Close() error {
	err := m.ReadCloser.Close()
	if zerr := m.zr.Close(); err == nil {
		err = zerr
	}
	return err
}

func openMember(zipPath string, idx int, name string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIO, fmt.Errorf("open archive %s: %w", zipPath, err))
	}
	if idx >= len(zr.File) || zr.File[idx].Name != name {
		zr.Close()
		return nil, apperrors.Wrap(apperrors.ErrIO, fmt.Errorf("archive %s changed: member %s moved", zipPath, name))
	}
	rc, err := zr.File[idx].Open()
	if err != nil {
		zr.Close()
		return nil, apperrors.Wrap(apperrors.ErrIO, fmt.Errorf("open member %s: %w", name, err))
	}
	return &memberReader{ReadCloser: rc, zr: zr}, nil
}

// FromFile wraps a single file.
func FromFile(p string) Source {
	return Source{
		Name:   filepath.Base(p),
		Origin: p,
		Open:   func() (io.ReadCloser, error) { return openFile(p) },
	}
}

func openFile(p string) (io.ReadCloser, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIO, err)
	}
	return f, nil
}

// FromDir lists the qualifying regular files directly inside dir, in lexical
// order. Sub-directories are not descended into.
func FromDir(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrSourceNotFound, dir)
		}
		return nil, apperrors.Wrap(apperrors.ErrIO, err)
	}

	var out []Source
	for _, e := range entries {
		if !e.Type().IsRegular() || !Qualifies(e.Name()) {
			continue
		}
		out = append(out, FromFile(filepath.Join(dir, e.Name())))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: directory %s has no .txt or .csv files", apperrors.ErrSourceNotFound, dir)
	}
	return out, nil
}

// FromMapping builds sources from an explicit table-to-file mapping. Relative
// file names resolve against dir. Files that do not exist are skipped with a
// warning; if none exist the call fails with apperrors.ErrSourceNotFound.
// Sources are returned in table-name order so runs are reproducible.
func FromMapping(dir string, mapping map[string]string, logger *zap.Logger) ([]Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tables := make([]string, 0, len(mapping))
	for t := range mapping {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	var out []Source
	for _, t := range tables {
		p := mapping[t]
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		st, err := os.Stat(p)
		if err != nil || !st.Mode().IsRegular() {
			logger.Warn("Skipping missing source file", zap.String("table", t), zap.String("file", p))
			continue
		}
		s := FromFile(p)
		s.Table = t
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: none of the %d mapped files exist under %s", apperrors.ErrSourceNotFound, len(mapping), dir)
	}
	return out, nil
}

// Discover picks the listing strategy for p: a directory is listed with
// FromDir, a .zip file with FromArchive, any other file is a single source.
func Discover(p string) ([]Source, error) {
	st, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrSourceNotFound, p)
		}
		return nil, apperrors.Wrap(apperrors.ErrIO, err)
	}
	if st.IsDir() {
		return FromDir(p)
	}
	if IsArchive(p) {
		return FromArchive(p)
	}
	return []Source{FromFile(p)}, nil
}

// IsArchive reports whether p names a zip archive by extension.
func IsArchive(p string) bool {
	return strings.EqualFold(filepath.Ext(p), ".zip")
}
