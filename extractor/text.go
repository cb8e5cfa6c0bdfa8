package extractor

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	dataextract "github.com/ConvoSphere/DataExtract"
)

// TextExtractor handles plain text and markdown files.
type TextExtractor struct{}

// NewTextExtractor creates a plain-text extractor.
func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

// Name identifies the adapter.
func (e *TextExtractor) Name() string { return "text" }

// CanExtract reports whether the file is plain text or markdown.
func (e *TextExtractor) CanExtract(filename, mimeType string) bool {
	switch extOf(filename) {
	case ".txt", ".md", ".markdown", ".log", ".rst":
		return true
	}
	return strings.HasPrefix(mimeType, "text/plain") ||
		strings.HasPrefix(mimeType, "text/markdown")
}

// Extract reads the file as UTF-8 text; markdown headings and links land
// in the structure when requested.
func (e *TextExtractor) Extract(ctx context.Context, filename string, data []byte, opts Options, cp CheckpointFunc) (*Result, error) {
	start := time.Now()

	if err := cp(10); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", dataextract.ErrValidation, filename)
	}

	content := string(data)
	res := &Result{ExtractedAt: time.Now().UTC()}

	if opts.Bool(OptIncludeMetadata, true) {
		res.Metadata = &Metadata{
			Filename:  filename,
			FileSize:  int64(len(data)),
			MIMEType:  "text/plain",
			Extension: extOf(filename),
		}
	}

	if err := cp(50); err != nil {
		return nil, err
	}

	if opts.Bool(OptIncludeText, true) {
		res.Text = newText(content)
		if lang := opts.String(OptLanguage); lang != "" {
			res.Text.Language = lang
		}
	}

	if opts.Bool(OptIncludeStructure, false) {
		res.Structure = markdownStructure(content)
	}

	if err := cp(90); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	return res, nil
}

// markdownStructure pulls headings and bare links out of markdown text.
func markdownStructure(content string) *Structure {
	st := &Structure{}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			st.Headings = append(st.Headings, strings.TrimSpace(strings.TrimLeft(line, "#")))
		}
		for _, field := range strings.Fields(line) {
			trimmed := strings.Trim(field, "()<>[]")
			if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
				st.Links = append(st.Links, trimmed)
			}
		}
	}
	return st
}
