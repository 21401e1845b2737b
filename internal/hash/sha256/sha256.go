// Package sha256 computes the content digests used as dedup keys.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Sum returns the hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashRecord digests the canonical JSON form of record: keys sorted at every
// level, no HTML escaping, no trailing newline. Key order in the input never
// changes the result.
func HashRecord(record map[string]any) (string, error) {
	canonical, err := Canonical(record)
	if err != nil {
		return "", err
	}
	return Sum(canonical), nil
}

// Canonical returns the bytes HashRecord digests.
func Canonical(record map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
