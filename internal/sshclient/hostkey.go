package sshclient

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	HostKeyInsecure = "insecure"
	HostKeyTOFU     = "tofu"
	HostKeyPinned   = "pinned"
)

var ErrHostKeyRejected = errors.New("host key rejected")

// HostKeyPolicy decides whether a server's host key is acceptable.
type HostKeyPolicy interface {
	Callback() (ssh.HostKeyCallback, error)
}

type HostKeyConfig struct {
	Policy         string   `mapstructure:"host_key_policy"`
	KnownHostsFile string   `mapstructure:"known_hosts_file"`
	PinnedKeys     []string `mapstructure:"pinned_host_keys"`
}

// NewHostKeyPolicy builds the policy named by cfg.Policy. An empty policy means insecure.
func NewHostKeyPolicy(cfg HostKeyConfig) (HostKeyPolicy, error) {
	switch cfg.Policy {
	case "", HostKeyInsecure:
		return InsecurePolicy{}, nil
	case HostKeyTOFU:
		if cfg.KnownHostsFile == "" {
			return nil, fmt.Errorf("known_hosts_file is required for %q host key policy", HostKeyTOFU)
		}
		path, err := homedir.Expand(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand known hosts path: %w", err)
		}
		return NewTOFUPolicy(path), nil
	case HostKeyPinned:
		return NewPinnedPolicy(cfg.PinnedKeys)
	default:
		return nil, fmt.Errorf("unknown host key policy %q", cfg.Policy)
	}
}

// InsecurePolicy accepts any host key.
type InsecurePolicy struct{}

func (InsecurePolicy) Callback() (ssh.HostKeyCallback, error) {
	return ssh.InsecureIgnoreHostKey(), nil
}

// TOFUPolicy records the first key seen for a host in a known_hosts file and
// rejects any different key afterwards.
type TOFUPolicy struct {
	path string
	mu   sync.Mutex
}

func NewTOFUPolicy(path string) *TOFUPolicy {
	return &TOFUPolicy{path: path}
}

func (p *TOFUPolicy) Callback() (ssh.HostKeyCallback, error) {
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create known hosts directory: %w", err)
	}
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open known hosts file: %w", err)
	}
	f.Close()

	known, err := knownhosts.New(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse known hosts file: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := known(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			return p.remember(hostname, key)
		}
		if errors.As(err, &keyErr) {
			slog.Warn("Host key changed, refusing connection", "host", hostname)
			return fmt.Errorf("%w: key for %s does not match known_hosts", ErrHostKeyRejected, hostname)
		}
		return err
	}, nil
}

func (p *TOFUPolicy) remember(hostname string, key ssh.PublicKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known hosts file: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to record host key: %w", err)
	}
	slog.Info("Trusted new host key", "host", hostname, "fingerprint", ssh.FingerprintSHA256(key))
	return nil
}

// PinnedPolicy accepts only host keys from a fixed list.
type PinnedPolicy struct {
	accepted [][]byte
}

// NewPinnedPolicy parses keys in authorized_keys format.
func NewPinnedPolicy(keys []string) (*PinnedPolicy, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one pinned host key is required for %q host key policy", HostKeyPinned)
	}
	p := &PinnedPolicy{}
	for _, k := range keys {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("failed to parse pinned host key: %w", err)
		}
		p.accepted = append(p.accepted, pub.Marshal())
	}
	return p, nil
}

func (p *PinnedPolicy) Callback() (ssh.HostKeyCallback, error) {
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		raw := key.Marshal()
		for _, a := range p.accepted {
			if bytes.Equal(a, raw) {
				return nil
			}
		}
		return fmt.Errorf("%w: %s presented %s", ErrHostKeyRejected, hostname, ssh.FingerprintSHA256(key))
	}, nil
}
