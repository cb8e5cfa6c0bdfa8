package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ConvoSphere/DataExtract/extractor"
)

// Fingerprint derives the content-addressed cache key for a submission:
// the SHA-256 of the file bytes followed by the canonical encoding of the
// option bag. Byte-identical files with semantically identical options
// always collapse to the same fingerprint, regardless of client-side key
// ordering or scalar typing.
func Fingerprint(content []byte, opts extractor.Options) (string, error) {
	canonical, err := opts.Canonical()
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	h := sha256.New()
	h.Write(content)
	h.Write([]byte{0}) // separator so content/options boundaries cannot alias
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
