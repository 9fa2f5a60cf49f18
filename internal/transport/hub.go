package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/synchro/internal/wire"
)

// Hub connects participants running in one process. Each participant gets
// its own HubTransport and calls it from its own goroutine.
type Hub struct {
	size    int
	inboxes []chan []byte

	mu          sync.Mutex
	fingerprint uuid.UUID
	joined      map[int]bool
	ready       chan struct{}
	taken       map[int]bool
}

// NewHub creates a hub for size participants.
func NewHub(size int) (*Hub, error) {
	if size < 1 {
		return nil, fmt.Errorf("transport: hub size must be at least 1, got %d", size)
	}
	h := &Hub{
		size:    size,
		inboxes: make([]chan []byte, size),
		joined:  make(map[int]bool, size),
		ready:   make(chan struct{}),
		taken:   make(map[int]bool, size),
	}
	for i := range h.inboxes {
		// A peer can run at most one tick ahead, so two envelopes per
		// sender is enough; the rest is slack.
		h.inboxes[i] = make(chan []byte, 4*size)
	}
	return h, nil
}

// Transport returns the transport for rank. Each rank can be claimed once.
func (h *Hub) Transport(rank int) (*HubTransport, error) {
	if rank < 0 || rank >= h.size {
		return nil, fmt.Errorf("transport: rank %d not in [0, %d)", rank, h.size)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.taken[rank] {
		return nil, fmt.Errorf("transport: rank %d already claimed", rank)
	}
	h.taken[rank] = true
	return &HubTransport{hub: h, rank: rank, barrier: newBarrier(rank, h.size), done: make(chan struct{})}, nil
}

func (h *Hub) join(rank int, fp uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.joined) == 0 {
		h.fingerprint = fp
	} else if fp != h.fingerprint {
		return fmt.Errorf("%w: rank %d announced %s, hub has %s", wire.ErrLayoutMismatch, rank, fp, h.fingerprint)
	}
	if !h.joined[rank] {
		h.joined[rank] = true
		if len(h.joined) == h.size {
			close(h.ready)
		}
	}
	return nil
}

// HubTransport is one participant's end of a Hub.
type HubTransport struct {
	hub     *Hub
	rank    int
	barrier *barrier

	closeOnce sync.Once
	done      chan struct{}
}

func (t *HubTransport) Rank() int { return t.rank }
func (t *HubTransport) Size() int { return t.hub.size }

// Handshake implements Transport.
func (t *HubTransport) Handshake(ctx context.Context, fingerprint uuid.UUID) error {
	if err := t.hub.join(t.rank, fingerprint); err != nil {
		return err
	}
	select {
	case <-t.hub.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transport: rank %d waiting for peers: %w", t.rank, ctx.Err())
	}
}

// Exchange implements Transport.
func (t *HubTransport) Exchange(ctx context.Context, env wire.Envelope) ([]wire.Envelope, error) {
	select {
	case <-t.done:
		return nil, ErrClosed
	default:
	}
	env.Rank = t.rank
	raw := wire.MarshalEnvelope(env)
	for r, inbox := range t.hub.inboxes {
		if r == t.rank {
			continue
		}
		select {
		case inbox <- raw:
		case <-ctx.Done():
			return nil, &MissingError{Tick: env.Tick, Ranks: []int{r}, Err: ctx.Err()}
		}
	}
	return t.barrier.collect(ctx, env.Tick, t.hub.inboxes[t.rank], func() error { return ErrClosed })
}

// Close implements Transport. Peers see this participant as missing.
func (t *HubTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}
