//go:build !windows

package secrets

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	masterKeyFile = "master.key"
	nonceLen      = 24
)

var errSealedBlobCorrupt = errors.New("sealed blob is corrupt or was written with another key")

// SecretboxProtector seals blobs with XSalsa20-Poly1305 under a random master
// key kept 0600 next to them. Blob layout: nonce || box.
type SecretboxProtector struct {
	key [32]byte
}

func defaultProtector(dir string) (Protector, error) {
	return NewSecretboxProtector(filepath.Join(dir, masterKeyFile))
}

func NewSecretboxProtector(keyPath string) (*SecretboxProtector, error) {
	p := &SecretboxProtector{}

	raw, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(raw) != len(p.key) {
			return nil, fmt.Errorf("master key %s has unexpected length %d", keyPath, len(raw))
		}
		copy(p.key[:], raw)
		return p, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if _, err := rand.Read(p.key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}

	f, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		// Lost a creation race; use the winner's key.
		return NewSecretboxProtector(keyPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(p.key[:]); err != nil {
		return nil, fmt.Errorf("failed to write master key: %w", err)
	}
	return p, nil
}

func (p *SecretboxProtector) Protect(plain []byte) ([]byte, error) {
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &p.key), nil
}

func (p *SecretboxProtector) Unprotect(blob []byte) ([]byte, error) {
	if len(blob) < nonceLen+secretbox.Overhead {
		return nil, errSealedBlobCorrupt
	}
	var nonce [nonceLen]byte
	copy(nonce[:], blob[:nonceLen])
	plain, ok := secretbox.Open(nil, blob[nonceLen:], &nonce, &p.key)
	if !ok {
		return nil, errSealedBlobCorrupt
	}
	return plain, nil
}
