package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

// EncryptedStore wraps any VectorStore with AES-GCM envelope encryption
// at rest. In-memory operations (Add, Search, Delete) pass through to the
// inner store unencrypted; only the on-disk representation written by
// Save/Load is encrypted, following the teacher's resource-guarding style
// in internal/embed/lock.go (an OS-level guard layered over an existing
// resource rather than a parallel implementation).
type EncryptedStore struct {
	inner VectorStore
	aead  cipher.AEAD
}

// LoadKeyFile reads a key file and derives a 32-byte AEAD key from it via
// HKDF-SHA256. The file must be permitted 0600 or tighter; this is checked
// rather than silently tolerated, since a world-readable key file defeats
// the purpose of encryption at rest.
func LoadKeyFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat key file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("key file %s has overly permissive mode %o, expected 0600", path, info.Mode().Perm())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	kdf := hkdf.New(sha256.New, raw, nil, []byte("codeindexmcp-vector-store-key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// WriteKeyFile generates a random key file at path with 0600 permissions.
func WriteKeyFile(path string) error {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generate key material: %w", err)
	}
	return os.WriteFile(path, raw, 0o600)
}

// NewEncryptedStore wraps inner with AES-GCM envelope encryption keyed by
// the 32-byte key (as returned by LoadKeyFile).
func NewEncryptedStore(inner VectorStore, key []byte) (*EncryptedStore, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM mode: %w", err)
	}
	return &EncryptedStore{inner: inner, aead: aead}, nil
}

func (s *EncryptedStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	return s.inner.Add(ctx, ids, vectors)
}

func (s *EncryptedStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	return s.inner.Search(ctx, query, k)
}

func (s *EncryptedStore) Delete(ctx context.Context, ids []string) error {
	return s.inner.Delete(ctx, ids)
}

func (s *EncryptedStore) AllIDs() []string { return s.inner.AllIDs() }

func (s *EncryptedStore) Contains(id string) bool { return s.inner.Contains(id) }

func (s *EncryptedStore) Count() int { return s.inner.Count() }

// Save writes the inner store to a plaintext temp path, then encrypts
// that serialized blob with AES-GCM and writes the ciphertext to path.
func (s *EncryptedStore) Save(path string) error {
	tmpPath := path + ".plain.tmp"
	if err := s.inner.Save(tmpPath); err != nil {
		return fmt.Errorf("save inner store: %w", err)
	}
	defer os.Remove(tmpPath)

	plaintext, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("read plaintext snapshot: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := s.aead.Seal(nonce, nonce, plaintext, nil)

	encTmpPath := path + ".enc.tmp"
	if err := os.WriteFile(encTmpPath, ciphertext, 0o600); err != nil {
		return fmt.Errorf("write ciphertext: %w", err)
	}
	if err := os.Rename(encTmpPath, path); err != nil {
		os.Remove(encTmpPath)
		return fmt.Errorf("rename encrypted snapshot: %w", err)
	}
	return nil
}

// Load decrypts path and loads the plaintext into the inner store via a
// scratch temp file, mirroring Save's round trip.
func (s *EncryptedStore) Load(path string) error {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ciphertext: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return fmt.Errorf("decrypt snapshot: %w", err)
	}

	tmpPath := path + ".plain.tmp"
	if err := os.WriteFile(tmpPath, plaintext, 0o600); err != nil {
		return fmt.Errorf("write plaintext scratch file: %w", err)
	}
	defer os.Remove(tmpPath)

	if err := s.inner.Load(tmpPath); err != nil {
		return fmt.Errorf("load inner store: %w", err)
	}
	return nil
}

func (s *EncryptedStore) Close() error { return s.inner.Close() }

var _ VectorStore = (*EncryptedStore)(nil)
