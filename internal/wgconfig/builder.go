// Package wgconfig renders WireGuard client configuration and handles
// WireGuard keys.
package wgconfig

import (
	"bytes"
	"net/netip"
	"text/template"
)

const (
	DefaultListenPort          = 51820
	DefaultAllowedIPs          = "0.0.0.0/0"
	DefaultPersistentKeepalive = 25
)

// Params holds everything needed to render a client config.
// ClientPrivateKey is secret; Build output must be handled accordingly.
type Params struct {
	ClientPrivateKey    string
	ServerPublicKey     string
	ServerAddress       netip.Addr
	ClientAddress       netip.Addr
	ListenPort          int
	DNS                 string
	AllowedIPs          string
	PersistentKeepalive int
}

var clientTemplate = template.Must(template.New("client").Parse(`[Interface]
PrivateKey = {{.ClientPrivateKey}}
Address = {{.ClientAddress}}/32
{{- if .DNS}}
DNS = {{.DNS}}
{{- end}}

[Peer]
PublicKey = {{.ServerPublicKey}}
Endpoint = {{.Endpoint}}
AllowedIPs = {{.AllowedIPs}}
PersistentKeepalive = {{.PersistentKeepalive}}
`))

type templateData struct {
	Params
	Endpoint string
}

// Build renders the client configuration consumed by wg-quick and the
// WireGuard Windows service. It is pure: equal params give equal output.
func Build(p Params) string {
	if p.ListenPort == 0 {
		p.ListenPort = DefaultListenPort
	}
	if p.AllowedIPs == "" {
		p.AllowedIPs = DefaultAllowedIPs
	}
	if p.PersistentKeepalive == 0 {
		p.PersistentKeepalive = DefaultPersistentKeepalive
	}

	data := templateData{
		Params:   p,
		Endpoint: netip.AddrPortFrom(p.ServerAddress, uint16(p.ListenPort)).String(),
	}

	var buf bytes.Buffer
	// The template only formats strings and ints, so Execute cannot fail here.
	_ = clientTemplate.Execute(&buf, data)
	return buf.String()
}
