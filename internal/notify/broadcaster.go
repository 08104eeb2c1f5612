// Package notify fans tunnel status changes out to observers.
package notify

import (
	"log/slog"
	"sync"

	"github.com/EternisAI/silo-tunnel/internal/tunnel"
)

const subscriberBuffer = 16

// Broadcaster delivers each status to every subscriber without blocking. A
// subscriber whose buffer is full misses that status.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan tunnel.Status
	nextID int
	last   *tunnel.Status
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan tunnel.Status)}
}

// Subscribe returns a channel primed with the most recent status, if any.
// cancel closes the channel and is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan tunnel.Status, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan tunnel.Status, subscriberBuffer)
	if b.last != nil {
		ch <- *b.last
	}
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

func (b *Broadcaster) Notify(s tunnel.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &s
	for id, ch := range b.subs {
		select {
		case ch <- s:
		default:
			slog.Warn("Dropping tunnel status for slow subscriber", "subscriber", id)
		}
	}
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
