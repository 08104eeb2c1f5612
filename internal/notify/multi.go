package notify

import "github.com/EternisAI/silo-tunnel/internal/tunnel"

// Multi forwards each status to every notifier in order.
type Multi []tunnel.Notifier

func (m Multi) Notify(s tunnel.Status) {
	for _, n := range m {
		if n != nil {
			n.Notify(s)
		}
	}
}

// GaugeSetter is satisfied by *metrics.Collector.
type GaugeSetter interface {
	SetActive(bool)
}

// Gauge adapts a GaugeSetter into a notifier.
type Gauge struct {
	Setter GaugeSetter
}

func (g Gauge) Notify(s tunnel.Status) {
	g.Setter.SetActive(s.Active)
}
