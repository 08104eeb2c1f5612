package sshclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	DefaultPort    = 22
	DefaultTimeout = 15 * time.Second
)

var (
	ErrHandshakeFailed = errors.New("ssh handshake failed")
	ErrAuthFailed      = errors.New("ssh authentication failed")
)

type Options struct {
	Address       string
	Port          int
	User          string
	KeyPath       string
	Timeout       time.Duration
	HostKeyPolicy HostKeyPolicy
}

// Session is an authenticated SSH connection. It is owned by a single caller
// and must be closed when the caller is done with it.
type Session struct {
	client *ssh.Client
	addr   string
}

// Connect validates the key file, then dials and authenticates with public key auth only.
// The key is checked before any network activity.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	signer, err := loadSigner(opts.KeyPath)
	if err != nil {
		return nil, err
	}

	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	policy := opts.HostKeyPolicy
	if policy == nil {
		policy = InsecurePolicy{}
	}
	hostKeyCallback, err := policy.Callback()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(opts.Address, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: connection failed: %v", ErrHandshakeFailed, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		if isAuthError(err) {
			return nil, fmt.Errorf("%w: access denied for %s@%s", ErrAuthFailed, opts.User, addr)
		}
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	_ = conn.SetDeadline(time.Time{})

	slog.Debug("SSH session established", "address", addr, "user", opts.User)
	return &Session{client: ssh.NewClient(sshConn, chans, reqs), addr: addr}, nil
}

func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain")
}

// Run executes cmd on a fresh exec channel and returns its combined output and exit status.
// A non-zero exit status is not an error; err is reserved for transport failures.
// A command that ends without reporting a status yields -1.
func (s *Session) Run(ctx context.Context, cmd string) (string, int, error) {
	if s.client == nil {
		return "", 0, errors.New("ssh session is closed")
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return "", 0, fmt.Errorf("failed to open SSH channel: %w", err)
	}
	defer sess.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sess.Close()
		case <-done:
		}
	}()

	out, err := sess.CombinedOutput(cmd)
	if err == nil {
		return string(out), 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return string(out), -1, nil
	}
	if ctx.Err() != nil {
		return string(out), 0, ctx.Err()
	}
	return string(out), 0, fmt.Errorf("remote command failed: %w", err)
}

func (s *Session) Address() string {
	return s.addr
}

func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// Probe reports whether a TCP connection to address:port succeeds within timeout.
// It is used for user feedback only, so failures are never errors.
func Probe(ctx context.Context, address string, port int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
