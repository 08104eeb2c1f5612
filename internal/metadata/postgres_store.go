package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EternisAI/silo-tunnel/internal/db"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the inventory in a shared database. Ordering uses the
// bigserial seq column, which an upsert leaves untouched.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, url, schema string) (*PostgresStore, error) {
	if url == "" {
		return nil, errors.New("postgres metadata store requires storage.metadata.postgres_url")
	}
	cfg := db.Config{Url: url, Schema: schema}
	if err := db.RunMigrations(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to migrate metadata database: %w", err)
	}
	pool, err := db.InitDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const upsertTunnel = `
INSERT INTO tunnels (public_ip, name, client_ip, server_public_key, listen_port, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (public_ip) DO UPDATE SET
    name = EXCLUDED.name,
    client_ip = EXCLUDED.client_ip,
    server_public_key = EXCLUDED.server_public_key,
    listen_port = EXCLUDED.listen_port,
    updated_at = EXCLUDED.updated_at`

func (s *PostgresStore) Put(ctx context.Context, t Tunnel) error {
	if err := validate(t); err != nil {
		return err
	}
	t = stamp(t, nil, time.Now())

	_, err := s.pool.Exec(ctx, upsertTunnel,
		t.PublicIP, t.Name, t.ClientIP, t.ServerPublicKey, t.ListenPort, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save tunnel %s: %w", t.PublicIP, err)
	}
	return nil
}

const selectTunnels = `
SELECT name, public_ip, client_ip, server_public_key, listen_port, created_at, updated_at
FROM tunnels`

func (s *PostgresStore) Get(ctx context.Context, publicIP string) (*Tunnel, error) {
	row := s.pool.QueryRow(ctx, selectTunnels+" WHERE public_ip = $1", publicIP)
	t, err := scanTunnel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tunnel %s: %w", publicIP, err)
	}
	return &t, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Tunnel, error) {
	rows, err := s.pool.Query(ctx, selectTunnels+" ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to list tunnels: %w", err)
	}
	defer rows.Close()

	var out []Tunnel
	for rows.Next() {
		t, err := scanTunnel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tunnel: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tunnels: %w", err)
	}
	return out, nil
}

func scanTunnel(row pgx.Row) (Tunnel, error) {
	var t Tunnel
	err := row.Scan(&t.Name, &t.PublicIP, &t.ClientIP, &t.ServerPublicKey, &t.ListenPort, &t.CreatedAt, &t.UpdatedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, err
}
