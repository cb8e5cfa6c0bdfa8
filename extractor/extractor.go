// Package extractor defines the extraction collaborator boundary: the
// contract each format adapter implements, the option bag with its
// canonical encoding, and a registry that routes files to adapters by
// extension and MIME type.
//
// Adapters are thin wrappers over parsing libraries. The orchestration
// core treats them as deterministic functions of (content, options) —
// that determinism is what makes the content-addressed cache sound.
package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	dataextract "github.com/ConvoSphere/DataExtract"
)

// CheckpointFunc reports extraction progress (0–100) back to the worker.
// It returns a non-nil error when the job has been cancelled or timed
// out; the adapter must abandon work and return that error promptly.
type CheckpointFunc func(percent int) error

// NopCheckpoint ignores progress and never requests a stop.
func NopCheckpoint(int) error { return nil }

// Metadata describes the file itself.
type Metadata struct {
	Filename  string `json:"filename"`
	FileSize  int64  `json:"file_size"`
	MIMEType  string `json:"mime_type,omitempty"`
	Extension string `json:"extension,omitempty"`
	PageCount int    `json:"page_count,omitempty"`
	SheetSize int    `json:"sheet_count,omitempty"`
}

// Text is the extracted text body with derived counts.
type Text struct {
	Content        string `json:"content"`
	WordCount      int    `json:"word_count"`
	CharacterCount int    `json:"character_count"`
	Language       string `json:"language,omitempty"`
}

// Structure carries structured elements recovered from the document.
type Structure struct {
	Tables   [][][]string `json:"tables,omitempty"`
	Headings []string     `json:"headings,omitempty"`
	Links    []string     `json:"links,omitempty"`
}

// Result is the outcome of one extraction.
type Result struct {
	Metadata    *Metadata     `json:"metadata,omitempty"`
	Text        *Text         `json:"text,omitempty"`
	Structure   *Structure    `json:"structure,omitempty"`
	ExtractedAt time.Time     `json:"extracted_at"`
	Duration    time.Duration `json:"duration_ns"`
}

// Extractor is the per-format extraction contract. Implementations must
// honor ctx deadlines, call cp at least before and after each sub-phase,
// and must not retain or leak any handle to the input on error.
type Extractor interface {
	// Name identifies the adapter in logs and results.
	Name() string

	// CanExtract reports whether the adapter handles the given file.
	CanExtract(filename, mimeType string) bool

	// Extract parses data and assembles a Result per the options.
	Extract(ctx context.Context, filename string, data []byte, opts Options, cp CheckpointFunc) (*Result, error)
}

// Registry routes files to extractors. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	extractors []Extractor
}

// NewRegistry creates a registry preloaded with the given extractors.
// Earlier entries win when several adapters claim the same file.
func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// Register appends an extractor to the registry.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, e)
}

// Lookup returns the extractor for filename, or ErrUnsupportedFormat.
func (r *Registry) Lookup(filename, mimeType string) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.extractors {
		if e.CanExtract(filename, mimeType) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", dataextract.ErrUnsupportedFormat, filepath.Ext(filename))
}

// Names returns the names of all registered extractors.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.extractors))
	for _, e := range r.extractors {
		names = append(names, e.Name())
	}
	return names
}

// extOf returns the lower-cased extension of filename, dot included.
func extOf(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// newText assembles a Text value with derived counts.
func newText(content string) *Text {
	return &Text{
		Content:        content,
		WordCount:      len(strings.Fields(content)),
		CharacterCount: len([]rune(content)),
	}
}
