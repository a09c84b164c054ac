// Package sigstore persists signature images captured at loan pickup and
// return. Blobs are content-addressed by SHA-256 so re-uploading the same
// signature is idempotent and references stay stable.
package sigstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobmcallan/depot/internal/apperr"
)

// MaxSignatureBytes bounds the accepted signature payload.
const MaxSignatureBytes = 256 * 1024

var allowedExtensions = map[string]bool{
	"png": true,
	"svg": true,
}

// Store writes signature blobs under a base directory.
type Store struct {
	dir string
}

// New ensures the base directory exists and returns a store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create signatures dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes data and returns its stable reference, e.g.
// "sig/3a7b...e1.png". Saving identical content twice returns the same
// reference without rewriting.
func (s *Store) Save(data []byte, format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if !allowedExtensions[format] {
		return "", apperr.Validation(apperr.FieldError{Field: "format", Message: "must be png or svg"})
	}
	if len(data) == 0 {
		return "", apperr.Validation(apperr.FieldError{Field: "signature", Message: "is required"})
	}
	if len(data) > MaxSignatureBytes {
		return "", apperr.Validation(apperr.FieldError{Field: "signature", Message: "exceeds maximum size"})
	}

	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:]) + "." + format
	path := filepath.Join(s.dir, name)

	if _, err := os.Stat(path); err == nil {
		return "sig/" + name, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write signature: %w", err)
	}
	return "sig/" + name, nil
}

// Open returns the blob bytes for a reference previously returned by Save.
func (s *Store) Open(ref string) ([]byte, error) {
	name := strings.TrimPrefix(ref, "sig/")
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		return nil, apperr.New(apperr.KindNotFound, "signature not found")
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil, apperr.New(apperr.KindNotFound, "signature not found")
	}
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	return data, nil
}
