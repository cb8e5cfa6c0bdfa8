package id

import (
	"encoding/json"
	"testing"
)

func TestNew_GeneratesPrefixed(t *testing.T) {
	t.Parallel()

	jobID := NewJobID()
	if jobID.IsNil() {
		t.Fatal("NewJobID returned nil ID")
	}
	if jobID.Prefix() != PrefixJob {
		t.Fatalf("expected prefix %q, got %q", PrefixJob, jobID.Prefix())
	}

	workerID := NewWorkerID()
	if workerID.Prefix() != PrefixWorker {
		t.Fatalf("expected prefix %q, got %q", PrefixWorker, workerID.Prefix())
	}
}

func TestNew_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		s := NewJobID().String()
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate ID generated: %s", s)
		}
		seen[s] = struct{}{}
	}
}

func TestParse_RoundTrip(t *testing.T) {
	t.Parallel()

	orig := NewJobID()
	parsed, err := Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Fatalf("round trip mismatch: %s != %s", parsed, orig)
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "not-a-typeid!!", "UPPER_01h2xcejqtf2nbrexx3vqjhp41"} {
		if _, err := Parse(s); err == nil {
			t.Fatalf("Parse(%q) should fail", s)
		}
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	t.Parallel()

	workerID := NewWorkerID()
	if _, err := ParseJobID(workerID.String()); err == nil {
		t.Fatal("ParseJobID should reject a worker ID")
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	t.Parallel()

	orig := NewJobID()
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.String() != orig.String() {
		t.Fatalf("JSON round trip mismatch: %s != %s", decoded, orig)
	}
}

func TestNil_Behaviour(t *testing.T) {
	t.Parallel()

	if !Nil.IsNil() {
		t.Fatal("Nil.IsNil() should be true")
	}
	if Nil.String() != "" {
		t.Fatalf("Nil.String() should be empty, got %q", Nil.String())
	}
}
