package extractor

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	dataextract "github.com/ConvoSphere/DataExtract"
)

// CSVExtractor handles comma-separated value files.
type CSVExtractor struct{}

// NewCSVExtractor creates a CSV extractor.
func NewCSVExtractor() *CSVExtractor { return &CSVExtractor{} }

// Name identifies the adapter.
func (e *CSVExtractor) Name() string { return "csv" }

// CanExtract reports whether the file is CSV.
func (e *CSVExtractor) CanExtract(filename, mimeType string) bool {
	return extOf(filename) == ".csv" || strings.HasPrefix(mimeType, "text/csv")
}

// Extract parses the CSV into a single table; the text body is the
// tab-joined rendering of all rows.
func (e *CSVExtractor) Extract(ctx context.Context, filename string, data []byte, opts Options, cp CheckpointFunc) (*Result, error) {
	start := time.Now()

	if err := cp(10); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", dataextract.ErrValidation, filename, err)
	}

	if err := cp(50); err != nil {
		return nil, err
	}

	res := &Result{ExtractedAt: time.Now().UTC()}

	if opts.Bool(OptIncludeMetadata, true) {
		res.Metadata = &Metadata{
			Filename:  filename,
			FileSize:  int64(len(data)),
			MIMEType:  "text/csv",
			Extension: extOf(filename),
		}
	}

	if opts.Bool(OptIncludeText, true) {
		var sb strings.Builder
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
		res.Text = newText(sb.String())
	}

	if opts.Bool(OptIncludeStructure, false) && len(rows) > 0 {
		res.Structure = &Structure{Tables: [][][]string{rows}}
	}

	if err := cp(90); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	return res, nil
}
