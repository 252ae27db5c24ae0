// Package source provides document sources: local files and crate
// documentation from docs.rs.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dangattringer/rust-rag/internal/domain"
)

// Files reads a file, a directory tree or a glob pattern from disk. Binary
// files and hidden directories are skipped.
type Files struct {
	logger zerolog.Logger
}

func NewFiles(logger zerolog.Logger) *Files {
	return &Files{logger: logger}
}

// FormatForPath picks the document format from the file extension.
func FormatForPath(p string) domain.Format {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".md", ".markdown":
		return domain.FormatMarkdown
	case ".html", ".htm":
		return domain.FormatHTML
	}
	return domain.FormatPlain
}

func (f *Files) Fetch(ctx context.Context, identifier string) ([]domain.Document, error) {
	paths, err := f.resolve(identifier)
	if err != nil {
		return nil, err
	}
	var docs []domain.Document
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", domain.ErrFetch, p, err)
		}
		if binary(data) {
			f.logger.Debug().Str("path", p).Msg("Skipping binary file")
			continue
		}
		docs = append(docs, domain.Document{ID: filepath.ToSlash(p), Format: FormatForPath(p), Content: string(data)})
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no text documents found at %s", domain.ErrFetch, identifier)
	}
	return docs, nil
}

func (f *Files) resolve(identifier string) ([]string, error) {
	if strings.ContainsAny(identifier, "*?[") {
		matches, err := filepath.Glob(identifier)
		if err != nil {
			return nil, fmt.Errorf("%w: bad pattern %q: %w", domain.ErrFetch, identifier, err)
		}
		var files []string
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				files = append(files, m)
			}
		}
		sort.Strings(files)
		return files, nil
	}

	info, err := os.Stat(identifier)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", domain.ErrFetch, identifier)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}
	if !info.IsDir() {
		return []string{identifier}, nil
	}

	var files []string
	err = filepath.WalkDir(identifier, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != identifier && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %w", domain.ErrFetch, identifier, err)
	}
	return files, nil
}

// binary reports whether data looks like a non-text file.
func binary(data []byte) bool {
	head := data[:min(len(data), 8000)]
	return bytes.IndexByte(head, 0) >= 0
}
