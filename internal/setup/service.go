// Package setup runs the server onboarding workflow: connect, provision,
// persist the credential, persist metadata, harden.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/EternisAI/silo-tunnel/internal/metadata"
	"github.com/EternisAI/silo-tunnel/internal/provisioner"
	"github.com/EternisAI/silo-tunnel/internal/secrets"
	"github.com/EternisAI/silo-tunnel/internal/sshclient"
	"github.com/google/uuid"
)

const probeTimeout = 3 * time.Second

var (
	ErrInvalidRequest = errors.New("invalid setup request")
	// ErrMetadataPersist means the credential was stored but the tunnel is not
	// listed. Re-running setup for the same address repairs it.
	ErrMetadataPersist = errors.New("credential stored but metadata was not saved")
)

type Request struct {
	ServerIP string
	User     string
	KeyFile  string
	Name     string
	// Port overrides the configured SSH port when non-zero.
	Port int
}

type Result struct {
	WorkflowID string
	Tunnel     metadata.Tunnel
	Hardened   bool
}

type SSHDefaults struct {
	User    string
	Port    int
	Timeout time.Duration
}

// Observer is satisfied by *metrics.Collector.
type Observer interface {
	SetupFinished(started time.Time, err error, hardened bool)
}

type Service struct {
	provisioner *provisioner.Provisioner
	secrets     secrets.Store
	store       metadata.Store
	hostKeys    sshclient.HostKeyPolicy
	defaults    SSHDefaults
	observer    Observer
}

func NewService(p *provisioner.Provisioner, secretStore secrets.Store, store metadata.Store, hostKeys sshclient.HostKeyPolicy, defaults SSHDefaults, observer Observer) *Service {
	if defaults.User == "" {
		defaults.User = "dev"
	}
	if defaults.Port == 0 {
		defaults.Port = sshclient.DefaultPort
	}
	return &Service{
		provisioner: p,
		secrets:     secretStore,
		store:       store,
		hostKeys:    hostKeys,
		defaults:    defaults,
		observer:    observer,
	}
}

// Setup stops at the first failing stage. Hardening never fails the workflow;
// Result.Hardened reports whether it was confirmed.
//
// Once begun, a workflow runs to completion even if ctx is cancelled so a
// half-configured server is never left behind by a dropped client.
func (s *Service) Setup(ctx context.Context, req Request) (res *Result, err error) {
	ctx = context.WithoutCancel(ctx)
	started := time.Now()
	workflowID := uuid.NewString()
	log := slog.With("workflow_id", workflowID, "server_ip", req.ServerIP)
	defer func() {
		if s.observer != nil {
			s.observer.SetupFinished(started, err, res != nil && res.Hardened)
		}
		if err != nil {
			log.Error("Server setup failed", "error", err)
		}
	}()

	addr, err := netip.ParseAddr(strings.TrimSpace(req.ServerIP))
	if err != nil || !addr.Is4() {
		return nil, fmt.Errorf("%w: server ip %q is not an IPv4 address", ErrInvalidRequest, req.ServerIP)
	}
	if req.KeyFile == "" {
		return nil, fmt.Errorf("%w: key file is required", ErrInvalidRequest)
	}

	user := req.User
	if user == "" {
		user = s.defaults.User
	}
	port := req.Port
	if port == 0 {
		port = s.defaults.Port
	}

	log.Info("Starting server setup", "user", user, "port", port)
	if err := sshclient.ValidateKeyFile(req.KeyFile); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if !sshclient.Probe(ctx, addr.String(), port, probeTimeout) {
		log.Warn("SSH port did not answer the reachability probe, trying anyway")
	}

	session, err := sshclient.Connect(ctx, sshclient.Options{
		Address:       addr.String(),
		Port:          port,
		User:          user,
		KeyPath:       req.KeyFile,
		Timeout:       s.defaults.Timeout,
		HostKeyPolicy: s.hostKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer session.Close()

	prov, err := s.provisioner.Provision(ctx, session, addr)
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}

	identity := addr.String()
	if err := s.secrets.Put(ctx, identity, prov.ClientPrivateKey); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = identity
	}
	tun := metadata.Tunnel{
		Name:            name,
		PublicIP:        identity,
		ClientIP:        prov.ClientAddress.String(),
		ServerPublicKey: prov.ServerPublicKey,
		ListenPort:      prov.ListenPort,
	}
	if err := s.store.Put(ctx, tun); err != nil {
		return nil, fmt.Errorf("store metadata: %w: %w", ErrMetadataPersist, err)
	}

	hardened, hardenErr := s.provisioner.Harden(ctx, session)
	if hardenErr != nil {
		log.Warn("SSH hardening could not be sent", "error", hardenErr)
	}

	if stored, err := s.store.Get(ctx, identity); err == nil {
		tun = *stored
	}

	log.Info("Server setup complete", "hardened", hardened)
	return &Result{WorkflowID: workflowID, Tunnel: tun, Hardened: hardened}, nil
}
