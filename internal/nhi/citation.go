package nhi

import (
	"regexp"
	"time"

	"github.com/ecoverify-ai/ecoverify/internal/canon"
)

// MaxSnippetLen caps the human-readable excerpt carried by a citation.
const MaxSnippetLen = 200

var hexHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

// CitationBlock is a verifiable reference to source data an agent read
// before acting. The hash commits to the exact bytes consulted.
type CitationBlock struct {
	SourceID  string    `json:"source_id"`
	DataHash  string    `json:"data_hash"`
	Timestamp time.Time `json:"timestamp"`
	Snippet   string    `json:"snippet"`
}

// Cite builds a citation for data read from sourceID. Structured payloads
// are hashed over their canonical JSON form; plain strings over their
// UTF-8 bytes, so citing the same text from any process yields the same
// hash.
func Cite(sourceID string, data any, snippet string) (CitationBlock, error) {
	var hash string
	switch d := data.(type) {
	case string:
		hash = canon.HashBytes([]byte(d))
	case []byte:
		hash = canon.HashBytes(d)
	default:
		h, err := canon.Hash(data)
		if err != nil {
			return CitationBlock{}, err
		}
		hash = h
	}
	if len(snippet) > MaxSnippetLen {
		snippet = snippet[:MaxSnippetLen]
	}
	return CitationBlock{
		SourceID:  sourceID,
		DataHash:  hash,
		Timestamp: time.Now().UTC(),
		Snippet:   snippet,
	}, nil
}

// Present reports whether the citation set is usable: non-empty and
// every entry carries a well-formed SHA-256 hex hash.
func Present(citations []CitationBlock) bool {
	if len(citations) == 0 {
		return false
	}
	for _, c := range citations {
		if !hexHash.MatchString(c.DataHash) {
			return false
		}
	}
	return true
}

// Matches recomputes the hash of data and compares it to the citation.
func Matches(c CitationBlock, data any) bool {
	fresh, err := Cite(c.SourceID, data, "")
	if err != nil {
		return false
	}
	return fresh.DataHash == c.DataHash
}
