package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/silo-tunnel/internal/tunnel"
	"github.com/nats-io/nats.go"
)

const DefaultSubject = "silo.tunnel.status"

// NATSPublisher mirrors status changes onto a NATS subject as JSON.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	opts := []nats.Option{
		nats.Name("silo-tunnel"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

// Notify publishes asynchronously through the client's buffer; failures are
// logged only.
func (p *NATSPublisher) Notify(s tunnel.Status) {
	if p.nc == nil || p.nc.IsClosed() {
		slog.Warn("NATS not connected, dropping tunnel status")
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		slog.Error("Failed to encode tunnel status", "error", err)
		return
	}
	if err := p.nc.Publish(p.subject, payload); err != nil {
		slog.Warn("Failed to publish tunnel status", "subject", p.subject, "error", err)
	}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}
