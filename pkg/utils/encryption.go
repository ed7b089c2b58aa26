package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"os"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// ParseEncryptionKey decodes a base64 AES-256 key.
func ParseEncryptionKey(keyBase64 string) ([]byte, error) {
	if keyBase64 == "" {
		return nil, errors.New("encryption key not set")
	}
	keyBytes, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, errors.New("ENCRYPTION_KEY must be base64-encoded")
	}
	if len(keyBytes) != 32 {
		return nil, errors.New("ENCRYPTION_KEY must decode to exactly 32 bytes (256 bits)")
	}
	return keyBytes, nil
}

// GetEncryptionKey reads ENCRYPTION_KEY from the environment.
func GetEncryptionKey() ([]byte, error) {
	return ParseEncryptionKey(os.Getenv("ENCRYPTION_KEY"))
}

// Sealer encrypts small blobs at rest with AES-256-GCM. Output is
// base64(nonce || ciphertext).
type Sealer struct {
	gcm cipher.AEAD
}

func NewSealer(keyBase64 string) (*Sealer, error) {
	key, err := ParseEncryptionKey(keyBase64)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(s.gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

func (s *Sealer) Open(sealed string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	return s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}
