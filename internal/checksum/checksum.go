package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data. Content hashes are
// compared as opaque strings everywhere else; this is the only place the
// algorithm is named.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumString is Sum over a string payload, for callers holding document
// content that never existed as a byte slice.
func SumString(s string) string {
	return Sum([]byte(s))
}
