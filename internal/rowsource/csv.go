package rowsource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
)

// CSVSource streams rows from a CSV file whose first record is the header.
// RowNumber is the record's line offset below the header, so blank lines
// still count.
type CSVSource struct {
	closer     io.Closer
	reader     *csv.Reader
	headers    []string
	headerLine int
	rowNum     int
}

func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewTransientError("open csv", err)
	}
	src, err := NewCSVSource(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewCSVSource reads the header from r. The caller keeps ownership of r.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: csv file is empty", domain.ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read csv header: %v", domain.ErrValidation, err)
	}

	headerLine, _ := reader.FieldPos(0)
	return &CSVSource{reader: reader, headers: normalizeHeaders(header), headerLine: headerLine}, nil
}

func (s *CSVSource) Headers() []string { return s.headers }

func (s *CSVSource) Next(ctx context.Context) (Row, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Row{}, err
		}

		record, err := s.reader.Read()
		if errors.Is(err, io.EOF) {
			return Row{}, io.EOF
		}
		if err != nil {
			return Row{}, fmt.Errorf("failed to read csv row %d: %w", s.rowNum+1, err)
		}

		line, _ := s.reader.FieldPos(0)
		s.rowNum = line - s.headerLine

		data, blank := rowFromCells(s.headers, record)
		if blank {
			continue
		}
		return Row{Data: data, RowNumber: s.rowNum}, nil
	}
}

func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
