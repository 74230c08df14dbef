package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const encPrefix = "enc:"

// SecretKey encrypts provider API keys at rest with AES-256-GCM.
type SecretKey struct {
	key []byte
}

// NewSecretKey derives the master key from rawKey when set. Otherwise it
// reads the key persisted at keyPath, generating one on first run.
func NewSecretKey(rawKey, keyPath string) (*SecretKey, error) {
	if rawKey != "" {
		h := sha256.Sum256([]byte(rawKey))
		return &SecretKey{key: h[:]}, nil
	}

	if keyPath == "" {
		keyPath = DefaultKeyPath()
	}
	if data, err := os.ReadFile(keyPath); err == nil && len(data) >= 32 {
		return &SecretKey{key: data[:32]}, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate secret key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to write secret key: %w", err)
	}

	return &SecretKey{key: key}, nil
}

// DefaultKeyPath is ~/.inspectd/secret.key.
func DefaultKeyPath() string {
	return filepath.Join(homeDir(), ".inspectd", "secret.key")
}

func (s *SecretKey) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt returns "enc:" followed by base64(nonce || ciphertext).
func (s *SecretKey) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values without the prefix are returned as is.
func (s *SecretKey) Decrypt(encrypted string) (string, error) {
	if !strings.HasPrefix(encrypted, encPrefix) {
		return encrypted, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encrypted, encPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	n := gcm.NonceSize()
	if len(data) < n {
		return "", errors.New("ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// MaskSecret returns a masked version safe for API display: "****abcd"
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return "/tmp"
}
