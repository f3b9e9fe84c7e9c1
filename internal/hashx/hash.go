// Package hashx computes and verifies content digests. Digests are taken
// over plaintext exactly once at ingest; verification never recomputes from
// ciphertext.
package hashx

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SumSHA256 returns the hex-encoded SHA-256 digest of b.
func SumSHA256(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Verify reports whether b hashes to hexDigest. The comparison is
// constant-time over the digest bytes.
func Verify(b []byte, hexDigest string) bool {
	want, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false
	}
	got := sha256.Sum256(b)
	return subtle.ConstantTimeCompare(got[:], want) == 1
}
