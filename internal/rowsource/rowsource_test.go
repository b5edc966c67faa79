package rowsource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
	"github.com/xuri/excelize/v2"
)

func drain(t *testing.T, src Source) []Row {
	t.Helper()

	var rows []Row
	for {
		row, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return rows
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		rows = append(rows, row)
	}
}

func TestCSVSource(t *testing.T) {
	t.Parallel()

	input := "\ufeffurl, category \np1,shoes\n,\n\np2\n"
	src, err := NewCSVSource(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewCSVSource() error = %v", err)
	}
	defer src.Close()

	rows := drain(t, src)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (blank row skipped)", len(rows))
	}
	if rows[0].Data["url"] != "p1" || rows[0].Data["category"] != "shoes" {
		t.Fatalf("row 1 = %v", rows[0].Data)
	}
	if rows[0].RowNumber != 1 || rows[1].RowNumber != 4 {
		t.Fatalf("row numbers = %d, %d, want 1, 4 (blank lines keep their position)", rows[0].RowNumber, rows[1].RowNumber)
	}
	if rows[1].Data["category"] != "" {
		t.Fatalf("short record should yield empty category, got %q", rows[1].Data["category"])
	}

	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() after end = %v, want io.EOF", err)
	}
}

func TestCSVSourceEmpty(t *testing.T) {
	t.Parallel()

	_, err := NewCSVSource(strings.NewReader(""))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("NewCSVSource() error = %v, want ErrValidation", err)
	}
}

func TestCSVSourceCanceledContext(t *testing.T) {
	t.Parallel()

	src, err := NewCSVSource(strings.NewReader("url\np1\n"))
	if err != nil {
		t.Fatalf("NewCSVSource() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next() error = %v, want context.Canceled", err)
	}
}

func TestXLSXSource(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	values := [][]any{
		{"url", "store"},
		{"p1", "s1"},
		{"", ""},
		{"p2", "s2"},
	}
	for i, row := range values {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("CoordinatesToCellName() error = %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	src, err := NewXLSXSource(&buf)
	if err != nil {
		t.Fatalf("NewXLSXSource() error = %v", err)
	}
	defer src.Close()

	rows := drain(t, src)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[1].Data["url"] != "p2" || rows[1].Data["store"] != "s2" || rows[1].RowNumber != 3 {
		t.Fatalf("row 2 = %+v", rows[1])
	}
}

func TestOpenUnsupportedType(t *testing.T) {
	t.Parallel()

	if _, err := Open(domain.FileType("pdf"), "x.pdf"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Open() error = %v, want ErrValidation", err)
	}
}

func TestSliceSource(t *testing.T) {
	t.Parallel()

	src := NewSliceSource([]map[string]string{{"a": "1"}, {"a": "2"}})
	rows := drain(t, src)
	if len(rows) != 2 || rows[0].RowNumber != 1 || rows[1].RowNumber != 2 {
		t.Fatalf("rows = %+v", rows)
	}
}
