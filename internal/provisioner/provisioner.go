// Package provisioner sets up a WireGuard endpoint on a remote host over an
// existing SSH session and locks the host down to key-only SSH afterwards.
package provisioner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/EternisAI/silo-tunnel/internal/wgconfig"
	"github.com/kballard/go-shellquote"
)

const (
	DefaultWANInterface    = "eth0"
	DefaultTunnelInterface = "wg0"
	DefaultSubnet          = "10.8.0.0/24"

	provisionMarker = "PROVISION_OK"
	hardenMarker    = "HARDEN_DONE"
	maxDetailLen    = 2048
)

var ErrProvisioningFailed = errors.New("provisioning failed")

var interfaceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.=+-]{1,15}$`)

type Options struct {
	WANInterface    string `mapstructure:"wan_interface"`
	TunnelInterface string `mapstructure:"tunnel_interface"`
	Subnet          string `mapstructure:"subnet"`
	ListenPort      int    `mapstructure:"listen_port"`
	UseSudo         bool   `mapstructure:"use_sudo"`
}

type Provisioner struct {
	opts         Options
	serverTunnel netip.Addr
	clientTunnel netip.Addr
	prefixBits   int
	generateKeys func() (wgconfig.KeyPair, error)
}

func New(opts Options) (*Provisioner, error) {
	if opts.WANInterface == "" {
		opts.WANInterface = DefaultWANInterface
	}
	if opts.TunnelInterface == "" {
		opts.TunnelInterface = DefaultTunnelInterface
	}
	if opts.Subnet == "" {
		opts.Subnet = DefaultSubnet
	}
	if opts.ListenPort == 0 {
		opts.ListenPort = wgconfig.DefaultListenPort
	}

	if !interfaceNamePattern.MatchString(opts.WANInterface) {
		return nil, fmt.Errorf("invalid WAN interface name %q", opts.WANInterface)
	}
	if !interfaceNamePattern.MatchString(opts.TunnelInterface) {
		return nil, fmt.Errorf("invalid tunnel interface name %q", opts.TunnelInterface)
	}
	if opts.ListenPort < 1 || opts.ListenPort > 65535 {
		return nil, fmt.Errorf("invalid listen port %d", opts.ListenPort)
	}

	prefix, err := netip.ParsePrefix(opts.Subnet)
	if err != nil {
		return nil, fmt.Errorf("invalid tunnel subnet: %w", err)
	}
	prefix = prefix.Masked()
	if !prefix.Addr().Is4() || prefix.Bits() > 30 {
		return nil, fmt.Errorf("tunnel subnet %s must be IPv4 with room for two hosts", prefix)
	}

	server := prefix.Addr().Next()
	return &Provisioner{
		opts:         opts,
		serverTunnel: server,
		clientTunnel: server.Next(),
		prefixBits:   prefix.Bits(),
		generateKeys: wgconfig.GenerateKeyPair,
	}, nil
}

// Provision installs and brings up the WireGuard interface on the remote host
// with the locally generated client key as its only peer.
func (p *Provisioner) Provision(ctx context.Context, runner Runner, serverAddress netip.Addr) (*Result, error) {
	keys, err := p.generateKeys()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	script, err := p.renderSetupScript(keys.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	slog.Info("Provisioning WireGuard on remote host",
		"server_ip", serverAddress.String(),
		"interface", p.opts.TunnelInterface,
		"listen_port", p.opts.ListenPort)

	out, code, err := runner.Run(ctx, p.wrap(script))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}
	if code != 0 {
		return nil, fmt.Errorf("%w: remote setup exited with status %d: %s", ErrProvisioningFailed, code, truncate(out))
	}

	result, err := parseSetupOutput(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}
	result.ServerAddress = serverAddress
	result.TunnelAddress = p.serverTunnel
	result.ClientPrivateKey = keys.PrivateKey
	result.ClientPublicKey = keys.PublicKey

	slog.Info("Remote WireGuard endpoint ready",
		"server_ip", serverAddress.String(),
		"client_ip", result.ClientAddress.String())
	return result, nil
}

// Harden disables password and keyboard-interactive SSH logins and schedules a
// delayed sshd restart so the current session survives the command.
// confirmed is false when the completion marker was not seen; the remote side
// may still have applied the change, so this is not an error.
func (p *Provisioner) Harden(ctx context.Context, runner Runner) (bool, error) {
	slog.Info("Disabling SSH password authentication")

	out, code, err := runner.Run(ctx, p.wrap(hardenScript))
	if err != nil {
		return false, fmt.Errorf("failed to send hardening command: %w", err)
	}

	if strings.Contains(out, hardenMarker) {
		slog.Info("SSH now locked to key-only access (restarting in 1s)")
		return true, nil
	}
	slog.Warn("SSH hardening command sent, but verify the restart manually", "exit_code", code)
	return false, nil
}

func (p *Provisioner) wrap(script string) string {
	if !p.opts.UseSudo {
		return shellquote.Join("sh", "-c", script)
	}
	return shellquote.Join("sudo", "-n", "sh", "-c", script)
}

type setupTemplateData struct {
	WANInterface    string
	TunnelInterface string
	ServerTunnel    string
	ClientTunnel    string
	PrefixBits      int
	ListenPort      int
	ClientPublicKey string
	Marker          string
}

func (p *Provisioner) renderSetupScript(clientPublicKey string) (string, error) {
	// Only base64 keys reach the script; this keeps shell metacharacters out of it.
	if _, err := wgconfig.ParseKey(clientPublicKey); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err := setupTemplate.Execute(&buf, setupTemplateData{
		WANInterface:    p.opts.WANInterface,
		TunnelInterface: p.opts.TunnelInterface,
		ServerTunnel:    p.serverTunnel.String(),
		ClientTunnel:    p.clientTunnel.String(),
		PrefixBits:      p.prefixBits,
		ListenPort:      p.opts.ListenPort,
		ClientPublicKey: clientPublicKey,
		Marker:          provisionMarker,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render setup script: %w", err)
	}
	return buf.String(), nil
}

func parseSetupOutput(out string) (*Result, error) {
	values := make(map[string]string)
	marker := false
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == provisionMarker {
			marker = true
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "SERVER_PUBLIC_KEY", "CLIENT_ADDRESS", "LISTEN_PORT":
			values[key] = strings.TrimSpace(value)
		}
	}

	for _, key := range []string{"SERVER_PUBLIC_KEY", "CLIENT_ADDRESS", "LISTEN_PORT"} {
		if values[key] == "" {
			return nil, fmt.Errorf("remote output is missing %s: %s", key, truncate(out))
		}
	}
	// The marker is printed last, so its absence means the script was cut short.
	if !marker {
		return nil, fmt.Errorf("remote output is missing %s: %s", provisionMarker, truncate(out))
	}

	if _, err := wgconfig.ParseKey(values["SERVER_PUBLIC_KEY"]); err != nil {
		return nil, fmt.Errorf("server public key: %w", err)
	}
	clientAddr, err := netip.ParseAddr(values["CLIENT_ADDRESS"])
	if err != nil || !clientAddr.Is4() {
		return nil, fmt.Errorf("client address %q is not an IPv4 address", values["CLIENT_ADDRESS"])
	}
	port, err := strconv.Atoi(values["LISTEN_PORT"])
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("listen port %q is invalid", values["LISTEN_PORT"])
	}

	return &Result{
		ServerPublicKey: values["SERVER_PUBLIC_KEY"],
		ClientAddress:   clientAddr,
		ListenPort:      port,
	}, nil
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDetailLen {
		return s[len(s)-maxDetailLen:]
	}
	return s
}

var setupTemplate = template.Must(template.New("setup").Parse(`set -e
export DEBIAN_FRONTEND=noninteractive
if ! command -v wg >/dev/null 2>&1; then
  if command -v apt-get >/dev/null 2>&1; then
    apt-get update -y >/dev/null && apt-get install -y wireguard iptables >/dev/null
  elif command -v dnf >/dev/null 2>&1; then
    dnf install -y wireguard-tools iptables >/dev/null
  else
    echo "no supported package manager found" >&2
    exit 10
  fi
fi
umask 077
mkdir -p /etc/wireguard
wg genkey > /etc/wireguard/server_private.key
wg pubkey < /etc/wireguard/server_private.key > /etc/wireguard/server_public.key
SERVER_PRIVATE_KEY=$(cat /etc/wireguard/server_private.key)
cat > /etc/wireguard/{{.TunnelInterface}}.conf <<EOF
[Interface]
Address = {{.ServerTunnel}}/{{.PrefixBits}}
ListenPort = {{.ListenPort}}
PrivateKey = ${SERVER_PRIVATE_KEY}
PostUp = sysctl -w net.ipv4.ip_forward=1; iptables -A FORWARD -i %i -j ACCEPT; iptables -t nat -A POSTROUTING -o {{.WANInterface}} -j MASQUERADE
PostDown = iptables -D FORWARD -i %i -j ACCEPT; iptables -t nat -D POSTROUTING -o {{.WANInterface}} -j MASQUERADE

[Peer]
PublicKey = {{.ClientPublicKey}}
AllowedIPs = {{.ClientTunnel}}/32
EOF
systemctl enable wg-quick@{{.TunnelInterface}} >/dev/null 2>&1 || true
wg-quick down {{.TunnelInterface}} >/dev/null 2>&1 || true
wg-quick up {{.TunnelInterface}} >/dev/null
echo "SERVER_PUBLIC_KEY=$(cat /etc/wireguard/server_public.key)"
echo "CLIENT_ADDRESS={{.ClientTunnel}}"
echo "LISTEN_PORT={{.ListenPort}}"
echo "{{.Marker}}"
`))

const hardenScript = `CFG=/etc/ssh/sshd_config
for opt in PasswordAuthentication ChallengeResponseAuthentication KbdInteractiveAuthentication; do
  sed -i -E "s/^#?[[:space:]]*${opt}[[:space:]].*/${opt} no/" "$CFG"
  grep -qE "^${opt} no" "$CFG" || sed -i "1i ${opt} no" "$CFG"
done
if [ -d /etc/ssh/sshd_config.d ]; then
  printf 'PasswordAuthentication no\nChallengeResponseAuthentication no\nKbdInteractiveAuthentication no\n' > /etc/ssh/sshd_config.d/00-silo-tunnel.conf
fi
nohup sh -c 'sleep 1; systemctl restart ssh 2>/dev/null || systemctl restart sshd' >/dev/null 2>&1 &
echo "` + hardenMarker + `"
`
