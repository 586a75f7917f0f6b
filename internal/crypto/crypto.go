// Package crypto implements component A, the "crypto box": authenticated
// symmetric encryption of secret payloads with a 96-bit nonce and 128-bit
// tag (AES-256-GCM). The key is loaded once at process startup and never
// touched again in the hot path (spec.md §5).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/metasuper/core/internal/domainerr"
)

const keySize = 32 // AES-256

// Box performs authenticated encryption/decryption with a fixed key loaded
// at construction time.
type Box struct {
	aead cipher.AEAD
}

// LoadKeyFromFile reads a hex-encoded 32-byte key from path. If the file
// does not exist, a new random key is generated and written to it — this
// mirrors the teacher's secure-key-generation fallback in
// internal/config/config.go's generateSecureAPIKey, applied here to the
// crypto key instead of an API key.
func LoadKeyFromFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		key, decodeErr := hex.DecodeString(string(raw))
		if decodeErr != nil || len(key) != keySize {
			return nil, domainerr.WrapInternal("crypto key file is corrupt", decodeErr)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, domainerr.WrapInternal("failed to read crypto key file", err)
	}

	key := make([]byte, keySize)
	if _, randErr := io.ReadFull(rand.Reader, key); randErr != nil {
		return nil, domainerr.WrapInternal("failed to generate crypto key", randErr)
	}
	if writeErr := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600); writeErr != nil {
		return nil, domainerr.WrapInternal("failed to persist crypto key", writeErr)
	}
	slog.Info("generated new crypto key", "path", path)
	return key, nil
}

// New constructs a Box from a 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != keySize {
		return nil, domainerr.WrapValidation(fmt.Sprintf("crypto key must be %d bytes", keySize), nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domainerr.WrapInternal("failed to create AES cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, domainerr.WrapInternal("failed to create GCM mode", err)
	}
	return &Box{aead: aead}, nil
}

// Sealed is the output of Encrypt: the pieces a caller persists separately
// (spec.md §3 Secret: ciphertext, iv, auth_tag).
type Sealed struct {
	IV         []byte
	Ciphertext []byte
	AuthTag    []byte
}

// Encrypt seals plaintext, returning the nonce, ciphertext, and tag
// separately so callers can store them in the Secret row's distinct columns.
func (b *Box) Encrypt(plaintext []byte) (Sealed, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, domainerr.WrapInternal("failed to generate nonce", err)
	}

	sealed := b.aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - b.aead.Overhead()
	return Sealed{
		IV:         nonce,
		Ciphertext: sealed[:tagStart],
		AuthTag:    sealed[tagStart:],
	}, nil
}

// Decrypt verifies and opens a previously-sealed payload. A failed tag
// check is fatal for that operation: it returns domainerr.ErrAuthError and
// must be logged by the caller without the ciphertext material (spec.md §4.A).
func (b *Box) Decrypt(s Sealed) ([]byte, error) {
	combined := append(append([]byte{}, s.Ciphertext...), s.AuthTag...)
	plaintext, err := b.aead.Open(nil, s.IV, combined, nil)
	if err != nil {
		return nil, domainerr.New(domainerr.KindAuthError, "authentication tag mismatch", nil)
	}
	return plaintext, nil
}
