package sshclient

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
)

var (
	ErrKeyFileNotFound         = errors.New("key file not found")
	ErrKeyFileIsDirectory      = errors.New("key file is a directory")
	ErrKeyFileNoReadPermission = errors.New("key file is not readable")
	ErrInvalidKey              = errors.New("invalid private key")
)

// KeyFileError reports why a private key file cannot be used.
// Kind is one of the ErrKeyFile* sentinels or ErrInvalidKey.
type KeyFileError struct {
	Path  string
	Kind  error
	Cause error
}

func (e *KeyFileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v (%s)", e.Kind, e.Cause, e.Path)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Path)
}

func (e *KeyFileError) Unwrap() error {
	return e.Kind
}

// ValidateKeyFile checks that path names a readable, parseable SSH private key.
func ValidateKeyFile(path string) error {
	_, err := loadSigner(path)
	return err
}

func loadSigner(path string) (ssh.Signer, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, &KeyFileError{Path: path, Kind: ErrKeyFileNotFound, Cause: err}
	}

	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &KeyFileError{Path: expanded, Kind: ErrKeyFileNotFound}
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, &KeyFileError{Path: expanded, Kind: ErrKeyFileNoReadPermission, Cause: err}
		}
		return nil, &KeyFileError{Path: expanded, Kind: ErrKeyFileNotFound, Cause: err}
	}
	if info.IsDir() {
		return nil, &KeyFileError{Path: expanded, Kind: ErrKeyFileIsDirectory}
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, &KeyFileError{Path: expanded, Kind: ErrKeyFileNoReadPermission, Cause: err}
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) || strings.Contains(err.Error(), "encrypted") {
			return nil, &KeyFileError{
				Path:  expanded,
				Kind:  ErrInvalidKey,
				Cause: fmt.Errorf("key is passphrase-protected (add it to ssh-agent or use an unencrypted key)"),
			}
		}
		return nil, &KeyFileError{Path: expanded, Kind: ErrInvalidKey, Cause: err}
	}
	return signer, nil
}
