// Package cryptox implements the per-file encryption engine. Every file is
// sealed with a fresh AES-256 key and GCM nonce; the engine holds no state
// and caches nothing, so the caller is responsible for persisting the key
// material alongside the file record.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/secfiles/filevault/internal/common"
)

// KeySize is the AES key length in bytes (AES-256).
const KeySize = 32

// Sealed bundles a ciphertext with the key material that produced it.
// The key and nonce are never logged.
type Sealed struct {
	Ciphertext []byte
	Key        []byte
	Nonce      []byte
}

// Encrypt seals plaintext under a freshly generated 256-bit key and a
// random GCM nonce. The GCM tag is appended to the ciphertext.
func Encrypt(plaintext []byte) (*Sealed, error) {
	key := common.GenerateRandByteArray(KeySize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	nonce := common.GenerateRandByteArray(aesgcm.NonceSize())
	ciphertext := aesgcm.Seal(nil, nonce, plaintext, nil)

	return &Sealed{Ciphertext: ciphertext, Key: key, Nonce: nonce}, nil
}

// Decrypt opens ciphertext with the given key and nonce. Any authentication
// failure, including a flipped ciphertext or tag bit, returns
// common.ErrIntegrityViolation and no plaintext.
func Decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIntegrityViolation, err)
	}
	return plaintext, nil
}
