package metadata

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTunnel(ip string) Tunnel {
	return Tunnel{
		PublicIP:        ip,
		ClientIP:        "10.8.0.2",
		ServerPublicKey: "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg=",
		ListenPort:      51820,
	}
}

func newMemStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewInMemoryBadgerStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// storeContract runs against every Store implementation.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("EmptyList", func(t *testing.T) {
		list, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(ctx, "192.0.2.99")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("InsertionOrderAndReplace", func(t *testing.T) {
		for _, ip := range []string{"203.0.113.10", "198.51.100.7", "192.0.2.1"} {
			require.NoError(t, s.Put(ctx, sampleTunnel(ip)))
		}

		first, err := s.Get(ctx, "198.51.100.7")
		require.NoError(t, err)
		assert.Equal(t, "198.51.100.7", first.Name, "name defaults to the address")
		assert.False(t, first.CreatedAt.IsZero())

		replacement := sampleTunnel("198.51.100.7")
		replacement.Name = "frankfurt"
		replacement.ClientIP = "10.9.0.2"
		replacement.ListenPort = 443
		require.NoError(t, s.Put(ctx, replacement))

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "203.0.113.10", list[0].PublicIP)
		assert.Equal(t, "198.51.100.7", list[1].PublicIP)
		assert.Equal(t, "192.0.2.1", list[2].PublicIP)

		got := list[1]
		assert.Equal(t, "frankfurt", got.Name)
		assert.Equal(t, "10.9.0.2", got.ClientIP)
		assert.Equal(t, 443, got.ListenPort)
		assert.True(t, got.CreatedAt.Equal(first.CreatedAt))
		assert.False(t, got.UpdatedAt.Before(first.UpdatedAt))
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		bad := sampleTunnel("not-an-ip")
		assert.Error(t, s.Put(ctx, bad))

		bad = sampleTunnel("192.0.2.50")
		bad.ListenPort = 0
		assert.Error(t, s.Put(ctx, bad))
	})
}

func TestBadgerStoreContract(t *testing.T) {
	storeContract(t, newMemStore(t))
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "metadata")
	ctx := context.Background()

	s, err := NewBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, sampleTunnel("203.0.113.10")))
	require.NoError(t, s.Put(ctx, sampleTunnel("198.51.100.7")))
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, sampleTunnel("192.0.2.1")))
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "203.0.113.10", list[0].PublicIP)
	assert.Equal(t, "192.0.2.1", list[2].PublicIP)
}

func TestBadgerStoreConcurrentPuts(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Put(ctx, sampleTunnel(fmt.Sprintf("192.0.2.%d", i+1)))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 20)

	seen := make(map[string]bool)
	for _, tun := range list {
		assert.False(t, seen[tun.PublicIP])
		seen[tun.PublicIP] = true
	}

	// Replacing concurrently keeps one record per identity.
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tun := sampleTunnel(fmt.Sprintf("192.0.2.%d", i%4+1))
			tun.Name = fmt.Sprintf("renamed-%d", i)
			assert.NoError(t, s.Put(ctx, tun))
		}(i)
	}
	wg.Wait()

	again, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, again, 20)
	for i := range list {
		assert.Equal(t, list[i].PublicIP, again[i].PublicIP)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Driver: DriverBadger})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: DriverPostgres})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: "sqlite", Dir: t.TempDir()})
	assert.Error(t, err)
}
