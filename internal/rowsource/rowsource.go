// Package rowsource turns stored uploads into single-pass row iterators.
package rowsource

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
)

// Row is one data row keyed by header name. RowNumber is 1-based and counts
// data rows only (the header row is not numbered).
type Row struct {
	Data      map[string]string
	RowNumber int
}

// Source is a finite, non-restartable sequence of rows. Next returns io.EOF
// once the sequence is exhausted.
type Source interface {
	Next(ctx context.Context) (Row, error)
	Close() error
}

// Open builds a Source for a stored upload of the given type.
func Open(fileType domain.FileType, path string) (Source, error) {
	switch fileType {
	case domain.FileTypeCSV:
		src, err := OpenCSV(path)
		if err != nil {
			return nil, err
		}
		return src, nil
	case domain.FileTypeXLSX:
		src, err := OpenXLSX(path)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, fmt.Errorf("%w: unsupported file type %q", domain.ErrValidation, fileType)
}

// SliceSource serves rows from memory.
type SliceSource struct {
	rows []map[string]string
	pos  int
}

func NewSliceSource(rows []map[string]string) *SliceSource {
	return &SliceSource{rows: rows}
}

func (s *SliceSource) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	if s.pos >= len(s.rows) {
		return Row{}, io.EOF
	}
	row := Row{Data: s.rows[s.pos], RowNumber: s.pos + 1}
	s.pos++
	return row, nil
}

func (s *SliceSource) Close() error { return nil }

func normalizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for i, h := range raw {
		h = strings.TrimPrefix(h, "\ufeff")
		headers[i] = strings.TrimSpace(h)
	}
	return headers
}

func rowFromCells(headers []string, cells []string) (map[string]string, bool) {
	data := make(map[string]string, len(headers))
	blank := true
	for i, h := range headers {
		if h == "" {
			continue
		}
		value := ""
		if i < len(cells) {
			value = cells[i]
		}
		if strings.TrimSpace(value) != "" {
			blank = false
		}
		data[h] = value
	}
	return data, blank
}
