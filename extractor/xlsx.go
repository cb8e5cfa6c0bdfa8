package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	dataextract "github.com/ConvoSphere/DataExtract"
)

// XLSXExtractor handles Office Open XML spreadsheets via excelize.
type XLSXExtractor struct{}

// NewXLSXExtractor creates a spreadsheet extractor.
func NewXLSXExtractor() *XLSXExtractor { return &XLSXExtractor{} }

// Name identifies the adapter.
func (e *XLSXExtractor) Name() string { return "xlsx" }

// CanExtract reports whether the file is an xlsx workbook.
func (e *XLSXExtractor) CanExtract(filename, mimeType string) bool {
	return extOf(filename) == ".xlsx" ||
		mimeType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Extract opens the workbook and walks every sheet. One table per sheet;
// the text body is the tab-joined rendering of all cells. The workbook
// handle is closed on every exit path.
func (e *XLSXExtractor) Extract(ctx context.Context, filename string, data []byte, opts Options, cp CheckpointFunc) (_ *Result, retErr error) {
	start := time.Now()

	if err := cp(10); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", dataextract.ErrValidation, filename, err)
	}
	defer func() {
		if closeErr := wb.Close(); closeErr != nil && retErr == nil {
			retErr = fmt.Errorf("close workbook %s: %w", filename, closeErr)
		}
	}()

	sheets := wb.GetSheetList()

	if err := cp(30); err != nil {
		return nil, err
	}

	var (
		sb     strings.Builder
		tables [][][]string
	)
	for i, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, rowsErr := wb.GetRows(sheet)
		if rowsErr != nil {
			return nil, fmt.Errorf("read sheet %q of %s: %w", sheet, filename, rowsErr)
		}

		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
		if len(rows) > 0 {
			tables = append(tables, rows)
		}

		// One checkpoint per sheet, spread across the 30–90 span.
		if err := cp(30 + (60*(i+1))/len(sheets)); err != nil {
			return nil, err
		}
	}

	res := &Result{ExtractedAt: time.Now().UTC()}

	if opts.Bool(OptIncludeMetadata, true) {
		res.Metadata = &Metadata{
			Filename:  filename,
			FileSize:  int64(len(data)),
			MIMEType:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Extension: extOf(filename),
			SheetSize: len(sheets),
		}
	}
	if opts.Bool(OptIncludeText, true) {
		res.Text = newText(sb.String())
	}
	if opts.Bool(OptIncludeStructure, false) && len(tables) > 0 {
		res.Structure = &Structure{Tables: tables}
	}

	res.Duration = time.Since(start)
	return res, nil
}
