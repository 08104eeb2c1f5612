// Package tunnel owns the single local WireGuard tunnel slot and drives the
// platform tools that bring interfaces up and down.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"sync"

	"github.com/EternisAI/silo-tunnel/internal/metadata"
	"github.com/EternisAI/silo-tunnel/internal/secrets"
	"github.com/EternisAI/silo-tunnel/internal/wgconfig"
)

var (
	ErrNoActiveTunnel        = errors.New("no active tunnel")
	ErrNoConfigurationsFound = errors.New("no tunnel configurations found")
	ErrTunnelActive          = errors.New("a tunnel is already active")
)

type Options struct {
	// RuntimeDir receives transient config files; created 0700.
	RuntimeDir string
	DNS        string
	Notifier   Notifier
	Recorder   Recorder
}

// Controller is Idle when active is empty. Every transition holds mu from the
// first read of active until after the notification is sent.
type Controller struct {
	mu     sync.Mutex
	active string

	driver     Driver
	secrets    secrets.Store
	store      metadata.Store
	notifier   Notifier
	recorder   Recorder
	runtimeDir string
	dns        string
}

func NewController(driver Driver, secretStore secrets.Store, store metadata.Store, opts Options) (*Controller, error) {
	if opts.RuntimeDir == "" {
		return nil, errors.New("tunnel runtime directory is required")
	}
	if err := os.MkdirAll(opts.RuntimeDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create runtime directory: %w", err)
	}
	if err := os.Chmod(opts.RuntimeDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to restrict runtime directory: %w", err)
	}

	c := &Controller{
		driver:     driver,
		secrets:    secretStore,
		store:      store,
		notifier:   opts.Notifier,
		recorder:   opts.Recorder,
		runtimeDir: opts.RuntimeDir,
		dns:        opts.DNS,
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	return c, nil
}

// Start brings up the tunnel for identity. Valid only while Idle. Once begun,
// a transition runs to completion even if ctx is cancelled, so the slot never
// disagrees with a tool killed halfway.
func (c *Controller) Start(ctx context.Context, identity string) error {
	ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.startLocked(ctx, identity)
	c.recorder.TunnelTransition("start", err)
	return err
}

func (c *Controller) startLocked(ctx context.Context, identity string) error {
	if c.active != "" {
		return fmt.Errorf("%w: %s", ErrTunnelActive, c.active)
	}

	conf, err := c.render(ctx, identity)
	if err != nil {
		return err
	}
	if err := c.withTransient(identity, conf, func(path string) error {
		return c.driver.BringUp(ctx, identity, path)
	}); err != nil {
		slog.Error("Failed to bring tunnel up", "tunnel", identity, "error", err)
		return err
	}

	c.active = identity
	slog.Info("Tunnel started", "tunnel", identity)
	c.notifier.Notify(activeStatus(identity))
	return nil
}

// render builds the client config for identity from both stores.
func (c *Controller) render(ctx context.Context, identity string) (string, error) {
	t, err := c.store.Get(ctx, identity)
	if err != nil {
		return "", err
	}
	privateKey, err := c.secrets.Get(ctx, identity)
	if err != nil {
		return "", err
	}

	serverAddr, err := netip.ParseAddr(t.PublicIP)
	if err != nil {
		return "", fmt.Errorf("stored server address %q is invalid: %w", t.PublicIP, err)
	}
	clientAddr, err := netip.ParseAddr(t.ClientIP)
	if err != nil {
		return "", fmt.Errorf("stored client address %q is invalid: %w", t.ClientIP, err)
	}

	return wgconfig.Build(wgconfig.Params{
		ClientPrivateKey: privateKey,
		ServerPublicKey:  t.ServerPublicKey,
		ServerAddress:    serverAddr,
		ClientAddress:    clientAddr,
		ListenPort:       t.ListenPort,
		DNS:              c.dns,
	}), nil
}

// withTransient writes conf for the duration of fn and removes it whatever fn
// returns.
func (c *Controller) withTransient(identity, conf string, fn func(path string) error) error {
	path, err := c.writeTransient(identity, conf)
	if err != nil {
		return err
	}
	err = fn(path)
	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		slog.Warn("Failed to remove transient tunnel config", "tunnel", identity, "error", rmErr)
	}
	return err
}

func (c *Controller) writeTransient(identity, conf string) (string, error) {
	path := filepath.Join(c.runtimeDir, identity+".conf")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create transient config: %w", err)
	}
	if _, err := f.WriteString(conf); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write transient config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write transient config: %w", err)
	}
	return path, nil
}

// Stop brings down the active tunnel. A failed bring-down keeps the slot so
// the daemon does not forget which tunnel it believes is up.
func (c *Controller) Stop(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.stopLocked(ctx)
	c.recorder.TunnelTransition("stop", err)
	return err
}

func (c *Controller) stopLocked(ctx context.Context) error {
	if c.active == "" {
		return ErrNoActiveTunnel
	}
	name := c.active

	conf, err := c.render(ctx, name)
	if err != nil {
		slog.Error("Failed to render tunnel config for bring-down", "tunnel", name, "error", err)
		return err
	}
	if err := c.withTransient(name, conf, func(path string) error {
		return c.driver.BringDown(ctx, name, path)
	}); err != nil {
		slog.Error("Failed to bring tunnel down", "tunnel", name, "error", err)
		return err
	}

	c.active = ""
	slog.Info("Tunnel stopped", "tunnel", name)
	c.notifier.Notify(idleStatus())
	return nil
}

// Status asks the OS whether identity's interface is up. It does not look at
// or change the slot.
func (c *Controller) Status(ctx context.Context, identity string) (bool, error) {
	return c.driver.QueryStatus(ctx, identity)
}

// QuickConnect starts the first tunnel in stored order.
func (c *Controller) QuickConnect(ctx context.Context) (*metadata.Tunnel, error) {
	ctx = context.WithoutCancel(ctx)
	list, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNoConfigurationsFound
	}
	first := list[0]
	if err := c.Start(ctx, first.PublicIP); err != nil {
		return nil, err
	}
	return &first, nil
}

func (c *Controller) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.active != ""
}

func (c *Controller) List(ctx context.Context) ([]metadata.Tunnel, error) {
	return c.store.List(ctx)
}
