// Package canon provides canonical JSON serialization (RFC 8785 JCS) and
// SHA-256 hashing for tamper-evident records. All functions are pure and
// deterministic: identical inputs produce identical bytes across processes.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal returns the canonical JSON bytes of v: keys sorted, no
// insignificant whitespace, "," and ":" separators.
func Marshal(v any) ([]byte, error) {
	// Standard marshal first so struct tags are honored, then transform
	// into the RFC 8785 canonical form.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canon: transform: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical JSON form of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
