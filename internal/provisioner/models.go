package provisioner

import (
	"context"
	"net/netip"
)

// Runner executes one remote command and returns its output and exit status.
// *sshclient.Session satisfies it.
type Runner interface {
	Run(ctx context.Context, cmd string) (string, int, error)
}

// Result carries what the local side needs after the server is set up.
// ClientPrivateKey is secret and belongs in the secret store only.
type Result struct {
	ServerAddress    netip.Addr
	ServerPublicKey  string
	TunnelAddress    netip.Addr
	ClientAddress    netip.Addr
	ListenPort       int
	ClientPrivateKey string
	ClientPublicKey  string
}
