package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	dataextract "github.com/ConvoSphere/DataExtract"
)

// workbookBytes builds a small two-sheet xlsx in memory.
func workbookBytes(t *testing.T) []byte {
	t.Helper()

	wb := excelize.NewFile()
	defer wb.Close() //nolint:errcheck // in-memory workbook

	// Sheet1 exists by default.
	cells := map[string]string{"A1": "name", "B1": "total", "A2": "alice", "B2": "42"}
	for ref, val := range cells {
		if err := wb.SetCellValue("Sheet1", ref, val); err != nil {
			t.Fatalf("SetCellValue %s: %v", ref, err)
		}
	}
	if _, err := wb.NewSheet("Extras"); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	if err := wb.SetCellValue("Extras", "A1", "footnote"); err != nil {
		t.Fatalf("SetCellValue: %v", err)
	}

	buf, err := wb.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func TestXLSXExtractor_Extract(t *testing.T) {
	t.Parallel()

	e := NewXLSXExtractor()
	data := workbookBytes(t)

	res, err := e.Extract(context.Background(), "report.xlsx", data, Options{
		"include_structure": true,
	}, NopCheckpoint)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if res.Metadata == nil || res.Metadata.SheetSize != 2 {
		t.Fatalf("bad metadata: %+v", res.Metadata)
	}
	if res.Text == nil {
		t.Fatal("expected text body")
	}
	for _, want := range []string{"alice\t42", "footnote"} {
		if !strings.Contains(res.Text.Content, want) {
			t.Errorf("text %q missing %q", res.Text.Content, want)
		}
	}
	if res.Structure == nil || len(res.Structure.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %+v", res.Structure)
	}
}

func TestXLSXExtractor_RejectsNonWorkbook(t *testing.T) {
	t.Parallel()

	e := NewXLSXExtractor()
	_, err := e.Extract(context.Background(), "fake.xlsx", []byte("not a zip"), nil, NopCheckpoint)
	if !errors.Is(err, dataextract.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestXLSXExtractor_CanExtract(t *testing.T) {
	t.Parallel()

	e := NewXLSXExtractor()
	if !e.CanExtract("book.xlsx", "") {
		t.Error("CanExtract rejected .xlsx")
	}
	if !e.CanExtract("upload.bin", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet") {
		t.Error("CanExtract rejected the xlsx MIME type")
	}
	if e.CanExtract("book.csv", "text/csv") {
		t.Error("CanExtract accepted a csv")
	}
}
