// Package vault provides AES-GCM sealing for persisted snapshots and the
// self-signed TLS material used by the TCP listener.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	// ErrKeySize is returned when a key is not KeySize bytes long.
	ErrKeySize = errors.New("encryption key must be 32 bytes")
	// ErrCiphertext is returned when sealed data cannot be opened.
	ErrCiphertext = errors.New("decryption failed (wrong key or tampered data)")
)

// Sealer encrypts and decrypts whole blobs with a fixed key.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer returns a Sealer for a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: gcm}, nil
}

// ParseKey decodes a hex-encoded 32-byte key as found in configuration.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return key, nil
}

// Seal encrypts plaintext and returns the hex encoding of nonce||ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, hex.EncodedLen(len(sealed)))
	hex.Encode(out, sealed)
	return out, nil
}

// Open reverses Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	raw := make([]byte, hex.DecodedLen(len(data)))
	if _, err := hex.Decode(raw, data); err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCiphertext
	}
	return plaintext, nil
}
