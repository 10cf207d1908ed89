package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	encPrefix = "enc:"
	keySize   = 32

	// SecretKeyEnv names the variable holding the master passphrase.
	SecretKeyEnv = "AULE_RAG_SECRET_KEY"
)

// SecretKey seals settings secrets with AES-256-GCM. Sealed values carry the
// "enc:" prefix so plain values written by hand still load.
type SecretKey struct {
	aead cipher.AEAD
}

// NewSecretKey derives the key from AULE_RAG_SECRET_KEY, or loads (creating on
// first run) a random key at ~/.aule-rag/secret.key.
func NewSecretKey() (*SecretKey, error) {
	if pass := os.Getenv(SecretKeyEnv); pass != "" {
		return NewSecretKeyFromPassphrase(pass), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return loadOrCreateKey(filepath.Join(home, ".aule-rag", "secret.key"))
}

// NewSecretKeyFromPassphrase derives a key with SHA-256.
func NewSecretKeyFromPassphrase(passphrase string) *SecretKey {
	sum := sha256.Sum256([]byte(passphrase))
	sk, err := newSecretKey(sum[:])
	if err != nil {
		// A 32-byte key is always accepted by AES.
		panic(err)
	}
	return sk
}

func newSecretKey(key []byte) (*SecretKey, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &SecretKey{aead: aead}, nil
}

func loadOrCreateKey(path string) (*SecretKey, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil && len(data) >= keySize:
		return newSecretKey(data[:keySize])
	case err == nil:
		return nil, fmt.Errorf("secret key %s is shorter than %d bytes", path, keySize)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read secret key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write secret key: %w", err)
	}
	return newSecretKey(key)
}

// Encrypt seals plaintext. The empty string stays empty.
func (s *SecretKey) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the prefix are
// returned unchanged.
func (s *SecretKey) Decrypt(value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, encPrefix)
	if !ok {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", errors.New("ciphertext too short")
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plain), nil
}

// MaskSecret keeps only the last four characters: "****abcd".
func MaskSecret(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 4:
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
