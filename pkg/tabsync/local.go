package tabsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/idx"
)

var ErrClosed = errors.New("tabsync: bus closed")

// Hub links LocalBus instances living in the same process.
type Hub struct {
	mu    sync.RWMutex
	buses map[string]*LocalBus
}

func NewHub() *Hub {
	return &Hub{buses: make(map[string]*LocalBus)}
}

// Join returns a new bus with a fresh origin.
func (h *Hub) Join() *LocalBus {
	b := &LocalBus{
		hub:    h,
		origin: idx.New().String(),
		subs:   make(map[int]func(Signal)),
	}

	h.mu.Lock()
	h.buses[b.origin] = b
	h.mu.Unlock()

	return b
}

func (h *Hub) leave(origin string) {
	h.mu.Lock()
	delete(h.buses, origin)
	h.mu.Unlock()
}

func (h *Hub) broadcast(sig Signal) {
	h.mu.RLock()
	peers := make([]*LocalBus, 0, len(h.buses))
	for origin, b := range h.buses {
		if origin != sig.Origin {
			peers = append(peers, b)
		}
	}
	h.mu.RUnlock()

	for _, b := range peers {
		b.deliver(sig)
	}
}

// LocalBus is an in-process Bus. Handlers run on the pinging goroutine.
type LocalBus struct {
	hub    *Hub
	origin string

	mu     sync.Mutex
	subs   map[int]func(Signal)
	nextID int
	closed bool
}

func (b *LocalBus) Origin() string { return b.origin }

func (b *LocalBus) Ping(_ context.Context, key string) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	b.hub.broadcast(Signal{Key: key, Origin: b.origin, At: time.Now()})
	return nil
}

func (b *LocalBus) Subscribe(fn func(Signal)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[int]func(Signal))
	b.mu.Unlock()

	b.hub.leave(b.origin)
	return nil
}

func (b *LocalBus) deliver(sig Signal) {
	b.mu.Lock()
	fns := make([]func(Signal), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(sig)
	}
}
