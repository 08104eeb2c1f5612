package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore uses the macOS keychain, the freedesktop secret service or the
// Windows credential manager.
type KeyringStore struct {
	service string
}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: ServiceName}
}

func (s *KeyringStore) Put(_ context.Context, identity, secret string) error {
	if err := validate(identity, secret, true); err != nil {
		return err
	}
	if err := keyring.Set(s.service, AccountName(identity), secret); err != nil {
		return fmt.Errorf("failed to store credential in keyring: %w", err)
	}
	return nil
}

func (s *KeyringStore) Get(_ context.Context, identity string) (string, error) {
	if err := validate(identity, "", false); err != nil {
		return "", err
	}
	secret, err := keyring.Get(s.service, AccountName(identity))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: no credential for %s", ErrCredentialUnavailable, identity)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	return secret, nil
}
