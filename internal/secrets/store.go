// Package secrets keeps WireGuard client private keys in a platform secure
// store, addressed by the server's IP address.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"runtime"
)

const (
	ServiceName   = "com.silo-tunnel.keys"
	accountPrefix = "priv_key_"

	BackendAuto    = "auto"
	BackendKeyring = "keyring"
	BackendFile    = "file"
)

var ErrCredentialUnavailable = errors.New("credential unavailable")

// Store writes overwrite any previous secret for the same identity.
type Store interface {
	Put(ctx context.Context, identity, secret string) error
	Get(ctx context.Context, identity string) (string, error)
}

type Config struct {
	Backend string `mapstructure:"backend"`
	// Dir holds encrypted blobs for the file backend.
	Dir string `mapstructure:"-"`
}

func AccountName(identity string) string {
	return accountPrefix + identity
}

// New picks a backend. auto resolves to the DPAPI file store on Windows and
// the OS keyring everywhere else.
func New(cfg Config) (Store, error) {
	backend := cfg.Backend
	if backend == "" || backend == BackendAuto {
		backend = BackendKeyring
		if runtime.GOOS == "windows" {
			backend = BackendFile
		}
	}

	switch backend {
	case BackendKeyring:
		return NewKeyringStore(), nil
	case BackendFile:
		if cfg.Dir == "" {
			return nil, errors.New("file secret backend requires a directory")
		}
		protector, err := defaultProtector(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return NewFileStore(cfg.Dir, protector)
	default:
		return nil, fmt.Errorf("unknown secret backend %q", cfg.Backend)
	}
}

func validate(identity, secret string, write bool) error {
	if _, err := netip.ParseAddr(identity); err != nil {
		return fmt.Errorf("invalid identity %q: %w", identity, err)
	}
	if write && secret == "" {
		return errors.New("refusing to store an empty secret")
	}
	return nil
}
