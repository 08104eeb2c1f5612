package provisioner

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/EternisAI/silo-tunnel/internal/wgconfig"
	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serverPub = "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg="

type fakeRunner struct {
	out  string
	code int
	err  error
	cmds []string
}

func (f *fakeRunner) Run(_ context.Context, cmd string) (string, int, error) {
	f.cmds = append(f.cmds, cmd)
	return f.out, f.code, f.err
}

func newProvisioner(t *testing.T, opts Options) *Provisioner {
	t.Helper()
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func okOutput() string {
	return "Reading package lists...\nSERVER_PUBLIC_KEY=" + serverPub + "\nCLIENT_ADDRESS=10.8.0.2\nLISTEN_PORT=51820\nPROVISION_OK\n"
}

func TestNewDefaults(t *testing.T) {
	p := newProvisioner(t, Options{})

	assert.Equal(t, DefaultWANInterface, p.opts.WANInterface)
	assert.Equal(t, DefaultTunnelInterface, p.opts.TunnelInterface)
	assert.Equal(t, wgconfig.DefaultListenPort, p.opts.ListenPort)
	assert.Equal(t, "10.8.0.1", p.serverTunnel.String())
	assert.Equal(t, "10.8.0.2", p.clientTunnel.String())
	assert.Equal(t, 24, p.prefixBits)
}

func TestNewRejectsBadOptions(t *testing.T) {
	cases := map[string]Options{
		"interface with shell chars": {WANInterface: "eth0; rm -rf /"},
		"tunnel name too long":       {TunnelInterface: "averyveryverylongname"},
		"ipv6 subnet":                {Subnet: "fd00::/64"},
		"subnet too small":           {Subnet: "10.0.0.0/31"},
		"garbage subnet":             {Subnet: "nope"},
		"port out of range":          {ListenPort: 70000},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(opts)
			assert.Error(t, err)
		})
	}
}

func TestProvision(t *testing.T) {
	p := newProvisioner(t, Options{UseSudo: true})
	runner := &fakeRunner{out: okOutput()}

	res, err := p.Provision(context.Background(), runner, netip.MustParseAddr("203.0.113.10"))
	require.NoError(t, err)

	assert.Equal(t, serverPub, res.ServerPublicKey)
	assert.Equal(t, "10.8.0.2", res.ClientAddress.String())
	assert.Equal(t, "10.8.0.1", res.TunnelAddress.String())
	assert.Equal(t, "203.0.113.10", res.ServerAddress.String())
	assert.Equal(t, 51820, res.ListenPort)

	pub, err := wgconfig.PublicKey(res.ClientPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, res.ClientPublicKey, pub)

	require.Len(t, runner.cmds, 1)
	args, err := shellquote.Split(runner.cmds[0])
	require.NoError(t, err)
	require.Len(t, args, 5)
	assert.Equal(t, []string{"sudo", "-n", "sh", "-c"}, args[:4])

	script := args[4]
	assert.Contains(t, script, "PublicKey = "+res.ClientPublicKey)
	assert.Contains(t, script, "AllowedIPs = 10.8.0.2/32")
	assert.Contains(t, script, "Address = 10.8.0.1/24")
	assert.Contains(t, script, "POSTROUTING -o eth0 -j MASQUERADE")
	assert.Contains(t, script, "wg-quick up wg0")
	assert.NotContains(t, script, res.ClientPrivateKey)
}

func TestProvisionWithoutSudo(t *testing.T) {
	p := newProvisioner(t, Options{WANInterface: "ens3"})
	runner := &fakeRunner{out: okOutput()}

	_, err := p.Provision(context.Background(), runner, netip.MustParseAddr("203.0.113.10"))
	require.NoError(t, err)

	args, err := shellquote.Split(runner.cmds[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"sh", "-c"}, args[:2])
	assert.Contains(t, args[2], "POSTROUTING -o ens3 -j MASQUERADE")
}

func TestProvisionFailures(t *testing.T) {
	cases := map[string]*fakeRunner{
		"transport error":    {err: errors.New("connection reset")},
		"non-zero exit":      {out: "E: Unable to locate package wireguard", code: 100},
		"missing key":        {out: "CLIENT_ADDRESS=10.8.0.2\nLISTEN_PORT=51820\nPROVISION_OK\n"},
		"malformed key":      {out: "SERVER_PUBLIC_KEY=short\nCLIENT_ADDRESS=10.8.0.2\nLISTEN_PORT=51820\nPROVISION_OK\n"},
		"ipv6 client":        {out: "SERVER_PUBLIC_KEY=" + serverPub + "\nCLIENT_ADDRESS=fd00::2\nLISTEN_PORT=51820\nPROVISION_OK\n"},
		"port out of range":  {out: "SERVER_PUBLIC_KEY=" + serverPub + "\nCLIENT_ADDRESS=10.8.0.2\nLISTEN_PORT=0\nPROVISION_OK\n"},
		"output cut short":   {out: "SERVER_PUBLIC_KEY=" + serverPub + "\nCLIENT_ADDRESS=10.8.0.2\nLISTEN_PORT=51820\n"},
		"no recognised keys": {out: "sudo: a password is required\n"},
	}
	for name, runner := range cases {
		t.Run(name, func(t *testing.T) {
			p := newProvisioner(t, Options{})
			res, err := p.Provision(context.Background(), runner, netip.MustParseAddr("203.0.113.10"))
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrProvisioningFailed)
		})
	}
}

func TestProvisionKeyGenerationFailure(t *testing.T) {
	p := newProvisioner(t, Options{})
	p.generateKeys = func() (wgconfig.KeyPair, error) {
		return wgconfig.KeyPair{}, errors.New("entropy exhausted")
	}
	runner := &fakeRunner{out: okOutput()}

	_, err := p.Provision(context.Background(), runner, netip.MustParseAddr("203.0.113.10"))
	assert.ErrorIs(t, err, ErrProvisioningFailed)
	assert.Empty(t, runner.cmds)
}

func TestHarden(t *testing.T) {
	p := newProvisioner(t, Options{UseSudo: true})
	runner := &fakeRunner{out: "HARDEN_DONE\n"}

	confirmed, err := p.Harden(context.Background(), runner)
	require.NoError(t, err)
	assert.True(t, confirmed)

	args, err := shellquote.Split(runner.cmds[0])
	require.NoError(t, err)
	script := args[len(args)-1]
	assert.Contains(t, script, "PasswordAuthentication")
	assert.Contains(t, script, "ChallengeResponseAuthentication")
	assert.Contains(t, script, "sleep 1")
	assert.True(t, strings.Contains(script, "systemctl restart ssh"))
}

func TestHardenUnconfirmed(t *testing.T) {
	p := newProvisioner(t, Options{})

	confirmed, err := p.Harden(context.Background(), &fakeRunner{out: "sed: permission denied", code: 4})
	require.NoError(t, err)
	assert.False(t, confirmed)
}

func TestHardenTransportError(t *testing.T) {
	p := newProvisioner(t, Options{})

	_, err := p.Harden(context.Background(), &fakeRunner{err: errors.New("broken pipe")})
	assert.Error(t, err)
}
