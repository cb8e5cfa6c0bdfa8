package extractor

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	dataextract "github.com/ConvoSphere/DataExtract"
)

// Options is the opaque parameter bag forwarded to extractors. Keys are
// snake_case; values are JSON scalars. Two bags that differ only in key
// order or scalar representation (1 vs 1.0, "true" typing) canonicalize
// to the same bytes and therefore the same fingerprint.
type Options map[string]any

// Well-known option keys.
const (
	OptIncludeMetadata  = "include_metadata"
	OptIncludeText      = "include_text"
	OptIncludeStructure = "include_structure"
	OptIncludeImages    = "include_images"
	OptIncludeMedia     = "include_media"
	OptLanguage         = "language"
)

// optionsSchema constrains submissions to the supported option set.
const optionsSchema = `{
  "type": "object",
  "properties": {
    "include_metadata":  {"type": "boolean"},
    "include_text":      {"type": "boolean"},
    "include_structure": {"type": "boolean"},
    "include_images":    {"type": "boolean"},
    "include_media":     {"type": "boolean"},
    "language":          {"type": ["string", "null"], "maxLength": 16}
  },
  "additionalProperties": false
}`

var compiledOptionsSchema = jsonschema.MustCompileString("options.json", optionsSchema)

// DefaultOptions returns the option bag applied when a submission carries
// no options: metadata and text on, everything else off.
func DefaultOptions() Options {
	return Options{
		OptIncludeMetadata: true,
		OptIncludeText:     true,
	}
}

// Validate checks the bag against the options schema. Unknown keys and
// wrong value types are rejected before a job is ever created.
func (o Options) Validate() error {
	doc, err := roundTrip(o)
	if err != nil {
		return fmt.Errorf("%w: %v", dataextract.ErrValidation, err)
	}
	if err := compiledOptionsSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", dataextract.ErrValidation, err)
	}
	return nil
}

// Bool returns the boolean value for key, or def when absent or not a
// boolean.
func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// String returns the string value for key, or "" when absent.
func (o Options) String(key string) string {
	v, ok := o[key]
	if !ok {
		return ""
	}
	s, _ := v.(string) //nolint:errcheck // non-strings read as empty
	return s
}

// Canonical returns the deterministic encoding of the bag: keys sorted,
// scalar types normalized through a JSON round trip. Byte-identical
// canonical forms are the contract behind fingerprint equality.
func (o Options) Canonical() ([]byte, error) {
	doc, err := roundTrip(o)
	if err != nil {
		return nil, fmt.Errorf("canonicalize options: %w", err)
	}

	var buf strings.Builder
	if err := writeCanonical(&buf, doc); err != nil {
		return nil, fmt.Errorf("canonicalize options: %w", err)
	}
	return []byte(buf.String()), nil
}

// roundTrip forces every value through JSON so that ints, floats, and
// json.Number all land on the same representation.
func roundTrip(o Options) (any, error) {
	if o == nil {
		o = Options{}
	}
	raw, err := json.Marshal(map[string]any(o))
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// writeCanonical emits doc as JSON with object keys sorted and numbers
// in shortest form. doc must come from json.Unmarshal.
func writeCanonical(buf *strings.Builder, doc any) error {
	switch v := doc.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case float64:
		// Integral floats print without a fraction so 1 and 1.0 collapse.
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			fmt.Fprintf(buf, "%d", int64(v))
			return nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil

	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
