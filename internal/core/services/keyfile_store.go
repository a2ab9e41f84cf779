package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/replforge/backend/internal/core/ports"
)

// KeyFileStore keeps uploaded private keys on local disk for the lifetime of
// one installation run.
type KeyFileStore struct {
	dir     string
	maxSize int64
}

var _ ports.KeyFileStore = (*KeyFileStore)(nil)

func NewKeyFileStore(dir string, maxSize int64) (*KeyFileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keyfile: create upload dir: %w", err)
	}
	if maxSize <= 0 {
		maxSize = 16 << 20
	}
	return &KeyFileStore{dir: dir, maxSize: maxSize}, nil
}

// Save writes r to a uniquely named 0600 file and returns its path.
func (s *KeyFileStore) Save(filename string, r io.Reader) (string, error) {
	base := filepath.Base(filename)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", ErrKeyFileMissing
	}
	if !strings.HasSuffix(base, ".pem") {
		return "", ErrKeyFileInvalid
	}

	name := strings.ReplaceAll(uuid.NewString(), "-", "") + "_" + sanitizeFilename(base)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("keyfile: create: %w", err)
	}

	written, copyErr := io.Copy(f, io.LimitReader(r, s.maxSize+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return "", fmt.Errorf("keyfile: write: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(path)
		return "", fmt.Errorf("keyfile: close: %w", closeErr)
	case written > s.maxSize:
		_ = os.Remove(path)
		return "", ErrKeyFileTooLarge
	case written == 0:
		_ = os.Remove(path)
		return "", ErrKeyFileMissing
	}

	// umask may have narrowed the mode; ssh wants exactly 0600.
	if err := os.Chmod(path, 0o600); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("keyfile: chmod: %w", err)
	}
	return path, nil
}

// Remove deletes a saved key; a key that is already gone is not an error.
func (s *KeyFileStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
