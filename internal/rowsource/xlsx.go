package rowsource

import (
	"context"
	"fmt"
	"io"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/xuri/excelize/v2"
	"go.uber.org/multierr"
)

// XLSXSource streams rows from the first sheet of a workbook.
type XLSXSource struct {
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
	rowNum  int
}

func OpenXLSX(path string) (*XLSXSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, domain.NewTransientError("open xlsx", err)
	}
	return newXLSXSource(f)
}

// NewXLSXSource reads a workbook from r.
func NewXLSXSource(r io.Reader) (*XLSXSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read workbook: %v", domain.ErrValidation, err)
	}
	return newXLSXSource(f)
}

func newXLSXSource(f *excelize.File) (*XLSXSource, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: no sheets in workbook", domain.ErrValidation)
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to open sheet %q: %w", sheets[0], err)
	}

	src := &XLSXSource{file: f, rows: rows}
	if !rows.Next() {
		_ = src.Close()
		return nil, fmt.Errorf("%w: workbook sheet %q is empty", domain.ErrValidation, sheets[0])
	}
	header, err := rows.Columns()
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("failed to read workbook header: %w", err)
	}
	src.headers = normalizeHeaders(header)

	return src, nil
}

func (s *XLSXSource) Headers() []string { return s.headers }

func (s *XLSXSource) Next(ctx context.Context) (Row, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Row{}, err
		}
		if !s.rows.Next() {
			if err := s.rows.Error(); err != nil {
				return Row{}, fmt.Errorf("failed to iterate workbook rows: %w", err)
			}
			return Row{}, io.EOF
		}

		s.rowNum++
		cells, err := s.rows.Columns()
		if err != nil {
			return Row{}, fmt.Errorf("failed to read workbook row %d: %w", s.rowNum, err)
		}

		data, blank := rowFromCells(s.headers, cells)
		if blank {
			continue
		}
		return Row{Data: data, RowNumber: s.rowNum}, nil
	}
}

func (s *XLSXSource) Close() error {
	var err error
	if s.rows != nil {
		err = multierr.Append(err, s.rows.Close())
	}
	if s.file != nil {
		err = multierr.Append(err, s.file.Close())
	}
	return err
}
