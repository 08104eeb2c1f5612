package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Protector seals secrets before they touch disk.
type Protector interface {
	Protect(plain []byte) ([]byte, error)
	Unprotect(blob []byte) ([]byte, error)
}

// FileStore keeps one protected blob per identity as <dir>/<account>.enc.
type FileStore struct {
	mu        sync.Mutex
	dir       string
	protector Protector
}

func NewFileStore(dir string, protector Protector) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secret directory: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to restrict secret directory: %w", err)
	}
	return &FileStore{dir: dir, protector: protector}, nil
}

func (s *FileStore) path(identity string) string {
	return filepath.Join(s.dir, AccountName(identity)+".enc")
}

func (s *FileStore) Put(_ context.Context, identity, secret string) error {
	if err := validate(identity, secret, true); err != nil {
		return err
	}

	blob, err := s.protector.Protect([]byte(secret))
	if err != nil {
		return fmt.Errorf("failed to protect credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path(identity), blob)
}

func (s *FileStore) Get(_ context.Context, identity string) (string, error) {
	if err := validate(identity, "", false); err != nil {
		return "", err
	}

	s.mu.Lock()
	blob, err := os.ReadFile(s.path(identity))
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: no credential for %s", ErrCredentialUnavailable, identity)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	plain, err := s.protector.Unprotect(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	return string(plain), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
