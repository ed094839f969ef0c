package twofactor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// GenerateEmailCode returns a uniformly random 6-digit code.
func GenerateEmailCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// HashEmailCode binds code to the challenge jti under key. Only this digest
// is stored.
func HashEmailCode(key []byte, jti, code string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(jti))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckEmailCode compares code against a stored digest in constant time.
func CheckEmailCode(key []byte, jti, code, digest string) bool {
	if digest == "" {
		return false
	}
	return hmac.Equal([]byte(HashEmailCode(key, jti, code)), []byte(digest))
}
