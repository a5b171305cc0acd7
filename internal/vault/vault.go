// Package vault makes serialized checkpoint payloads opaque at rest
// using AES-256-GCM. Encrypted blobs carry a fixed magic prefix so
// that payloads written before encryption was enabled can still be
// read back unchanged.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

//nolint:gochecknoglobals // sentinel error
var ErrKeyMissing = errors.New("vault: encryption key missing")

//nolint:gochecknoglobals // sentinel error
var ErrInvalidKey = errors.New("vault: invalid encryption key")

// ErrDecryptionAuthFailed means the blob carries the encrypted magic
// prefix but did not authenticate: either the key is wrong or the data
// is corrupt. Unauthenticated plaintext is never returned.
//
//nolint:gochecknoglobals // sentinel error
var ErrDecryptionAuthFailed = errors.New("vault: decryption authentication failed")

// magic identifies a blob as encrypted. Blobs without it are treated
// as legacy plaintext and passed through on decrypt.
var magic = []byte("ENC1") //nolint:gochecknoglobals // wire constant

const keySize = 32

// Vault encrypts and decrypts checkpoint blobs with AES-256-GCM.
// The cipher key is derived from the configured master key via
// HKDF-SHA256 so the raw master key never touches the cipher directly.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a base64-encoded 32-byte master key.
func New(masterKeyB64 string) (*Vault, error) {
	if masterKeyB64 == "" {
		return nil, ErrKeyMissing
	}

	masterKey, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("vault.New: decode master key: %w", ErrInvalidKey)
	}
	if len(masterKey) != keySize {
		return nil, fmt.Errorf("vault.New: master key must be %d bytes, got %d: %w", keySize, len(masterKey), ErrInvalidKey)
	}

	dataKey := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte("toolgate/checkpoint-encryption/v1"))
	if _, err := io.ReadFull(kdf, dataKey); err != nil {
		return nil, fmt.Errorf("vault.New: derive data key: %w", err)
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("vault.New: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault.New: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// GenerateKey returns a fresh random master key, base64-encoded.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("vault.GenerateKey: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext into magic || nonce || ciphertext+tag with a
// fresh random nonce per call.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault.Encrypt: generate nonce: %w", err)
	}

	out := make([]byte, 0, len(magic)+len(nonce)+len(plaintext)+v.aead.Overhead())
	out = append(out, magic...)
	out = append(out, nonce...)
	out = v.aead.Seal(out, nonce, plaintext, nil)

	return out, nil
}

// Decrypt opens a sealed blob. Blobs without the magic prefix predate
// encryption and are returned as-is; blobs with the prefix that fail
// authentication return ErrDecryptionAuthFailed.
func (v *Vault) Decrypt(blob []byte) ([]byte, error) {
	if !Encrypted(blob) {
		return blob, nil
	}

	data := blob[len(magic):]
	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("vault.Decrypt: blob too short: %w", ErrDecryptionAuthFailed)
	}

	nonce := data[:nonceSize]
	ciphertext := data[nonceSize:]

	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("vault.Decrypt: %w", ErrDecryptionAuthFailed)
	}

	return plaintext, nil
}

// Encrypted reports whether the blob carries the encrypted magic prefix.
func Encrypted(blob []byte) bool {
	return bytes.HasPrefix(blob, magic)
}
