package metadata

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const tunnelPrefix = "tunnel:"

var seqKey = []byte("meta:seq")

type record struct {
	Seq uint64 `json:"seq"`
	Tunnel
}

// BadgerStore holds an exclusive lock on its directory, so only one process
// may open it at a time. Writes are serialized because every new record bumps
// the shared sequence key.
type BadgerStore struct {
	mu sync.Mutex
	db *badger.DB
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	return openBadger(opts)
}

// NewInMemoryBadgerStore is used by tests and ephemeral runs.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func tunnelKey(ip string) []byte {
	return []byte(tunnelPrefix + ip)
}

func (s *BadgerStore) Put(_ context.Context, t Tunnel) error {
	if err := validate(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		var prev *record
		item, err := txn.Get(tunnelKey(t.PublicIP))
		switch {
		case err == nil:
			prev = &record{}
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, prev) }); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		rec := record{}
		if prev != nil {
			rec.Seq = prev.Seq
			rec.Tunnel = stamp(t, &prev.Tunnel, time.Now())
		} else {
			seq, err := nextSeq(txn)
			if err != nil {
				return err
			}
			rec.Seq = seq
			rec.Tunnel = stamp(t, nil, time.Now())
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(tunnelKey(t.PublicIP), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save tunnel %s: %w", t.PublicIP, err)
	}
	return nil
}

func nextSeq(txn *badger.Txn) (uint64, error) {
	var cur uint64
	item, err := txn.Get(seqKey)
	switch {
	case err == nil:
		if err := item.Value(func(v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("corrupt sequence counter")
			}
			cur = binary.BigEndian.Uint64(v)
			return nil
		}); err != nil {
			return 0, err
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return 0, err
	}

	next := cur + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := txn.Set(seqKey, buf); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *BadgerStore) Get(_ context.Context, publicIP string) (*Tunnel, error) {
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tunnelKey(publicIP))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec.Tunnel, nil
}

func (s *BadgerStore) List(_ context.Context) ([]Tunnel, error) {
	var recs []record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(tunnelPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec record
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tunnels: %w", err)
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	out := make([]Tunnel, len(recs))
	for i, rec := range recs {
		out[i] = rec.Tunnel
	}
	return out, nil
}
