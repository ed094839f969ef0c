package common

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

// MakeRandHexString returns size random bytes encoded as lowercase hex, so the
// resulting string is 2*size characters long.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateRandByteArray returns n cryptographically random bytes, or nil if
// the system RNG fails.
func GenerateRandByteArray(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil
	}
	return b
}

// SHA256Hex hashes s and returns the 64-character hex digest. The compliance
// log stores only these digests of email and username.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// IsHexToken reports whether s is exactly 64 lowercase hex characters (a
// 256-bit token as produced by MakeRandHexString(32)).
func IsHexToken(s string) bool {
	return hex64.MatchString(s)
}
