// Package metadata persists the inventory of provisioned tunnels.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"
	"time"
)

const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

var ErrNotFound = errors.New("tunnel not found")

// Store lists in first-insertion order. Put replaces the whole record for a
// PublicIP but keeps its position and CreatedAt.
type Store interface {
	List(ctx context.Context) ([]Tunnel, error)
	Get(ctx context.Context, publicIP string) (*Tunnel, error)
	Put(ctx context.Context, t Tunnel) error
	Close() error
}

type Config struct {
	Driver      string `mapstructure:"driver"`
	PostgresURL string `mapstructure:"postgres_url"`
	Schema      string `mapstructure:"schema"`
	// Dir is the storage root; badger lives in Dir/metadata.
	Dir string `mapstructure:"-"`
}

func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverBadger:
		if cfg.Dir == "" {
			return nil, errors.New("badger metadata store requires a data directory")
		}
		return NewBadgerStore(filepath.Join(cfg.Dir, "metadata"))
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg.PostgresURL, cfg.Schema)
	default:
		return nil, fmt.Errorf("unknown metadata driver %q", cfg.Driver)
	}
}

func validate(t Tunnel) error {
	addr, err := netip.ParseAddr(t.PublicIP)
	if err != nil || !addr.Is4() {
		return fmt.Errorf("invalid public ip %q", t.PublicIP)
	}
	if t.ListenPort < 1 || t.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port %d", t.ListenPort)
	}
	return nil
}

// stamp fills timestamps for a write. prev is the stored record, if any.
func stamp(t Tunnel, prev *Tunnel, now time.Time) Tunnel {
	t.UpdatedAt = now.UTC()
	switch {
	case prev != nil && !prev.CreatedAt.IsZero():
		t.CreatedAt = prev.CreatedAt
	case t.CreatedAt.IsZero():
		t.CreatedAt = t.UpdatedAt
	}
	if t.Name == "" {
		t.Name = t.PublicIP
	}
	return t
}
