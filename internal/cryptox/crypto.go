// Package cryptox seals small secrets, such as TOTP seeds, before they are
// stored. Values are AES-256-GCM encrypted under a key derived from the
// service secret and stored as base64(nonce || ciphertext).
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"golang.org/x/crypto/argon2"
)

const keyLen = 32

// ErrUnseal is returned for values that were not produced by Seal under the
// same key.
var ErrUnseal = errors.New("cannot unseal value")

var b64 = base64.RawStdEncoding

// DeriveKey stretches secret into an AES-256 key. salt separates keys used
// for different purposes.
func DeriveKey(secret []byte, salt string) []byte {
	return argon2.IDKey(secret, []byte(salt), 1, 64*1024, 4, keyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with a fresh random nonce.
func Seal(key []byte, plaintext string) (string, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}
	nonce := common.GenerateRandByteArray(aesgcm.NonceSize())
	if nonce == nil {
		return "", errors.New("seal: no randomness")
	}
	out := aesgcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return b64.EncodeToString(out), nil
}

// Open reverses Seal. Tampered or foreign values give ErrUnseal.
func Open(key []byte, sealed string) (string, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	raw, err := b64.DecodeString(sealed)
	if err != nil || len(raw) < aesgcm.NonceSize() {
		return "", ErrUnseal
	}
	nonce, ct := raw[:aesgcm.NonceSize()], raw[aesgcm.NonceSize():]
	plain, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrUnseal
	}
	return string(plain), nil
}
