// Package cryptox implements the optional end-to-end payload encryption.
// Records are sealed with AES-256-GCM; the 12-byte random nonce is prepended
// to the ciphertext so a sealed payload travels as a single opaque blob.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const NonceSize = 12

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// DeriveKey derives a 32-byte AES key from a passphrase using Argon2id.
// The salt is conventionally the username, so the same passphrase yields the
// same key on every device of one account.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

// ParseKey decodes a hex-encoded key as stored in settings.json.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// Encrypt seals plaintext with AES-256-GCM. A fresh random nonce is generated
// per call and prepended to the returned ciphertext.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. The nonce is read from the first
// NonceSize bytes.
func Decrypt(key, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return aesgcm.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
}
