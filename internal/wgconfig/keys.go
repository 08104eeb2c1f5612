package wgconfig

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const KeyLen = 32

var ErrInvalidKey = errors.New("invalid WireGuard key")

type KeyPair struct {
	PrivateKey string
	PublicKey  string
}

// GenerateKeyPair creates a clamped Curve25519 keypair, base64 encoded the way wg(8) prints it.
func GenerateKeyPair() (KeyPair, error) {
	var priv [KeyLen]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate random key: %w", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to derive public key: %w", err)
	}

	return KeyPair{
		PrivateKey: base64.StdEncoding.EncodeToString(priv[:]),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
	}, nil
}

// PublicKey derives the public key for a base64 private key.
func PublicKey(privateKey string) (string, error) {
	priv, err := ParseKey(privateKey)
	if err != nil {
		return "", err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("failed to derive public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

// ParseKey decodes a base64 WireGuard key and checks its length.
func ParseKey(s string) ([KeyLen]byte, error) {
	var k [KeyLen]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != KeyLen {
		return k, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeyLen, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}
