// Package transport moves per-tick envelopes between participants. Every
// implementation provides the same barrier: Exchange for tick T returns only
// once every other participant's tick-T envelope has arrived, or the context
// expires.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/banshee-data/synchro/internal/monitoring"
	"github.com/banshee-data/synchro/internal/wire"
)

// ErrClosed is returned by a transport after Close or when its peer link
// has gone away.
var ErrClosed = errors.New("transport: closed")

// Transport is one participant's view of the all-to-all exchange.
type Transport interface {
	// Rank is this participant's index in [0, Size).
	Rank() int
	// Size is the number of participants.
	Size() int
	// Handshake announces the record layout fingerprint and waits until
	// every participant has joined. A mismatched layout fails with
	// wire.ErrLayoutMismatch.
	Handshake(ctx context.Context, fingerprint uuid.UUID) error
	// Exchange publishes env and returns the other participants' envelopes
	// for env.Tick, ordered by rank. When ctx expires first it returns the
	// envelopes received so far with a *MissingError.
	Exchange(ctx context.Context, env wire.Envelope) ([]wire.Envelope, error)
	Close() error
}

// MissingError lists the participants whose envelope for Tick did not arrive.
// LateStop is the highest non-zero Stop seen on envelopes that arrived after
// their own tick had been given up on; zero when there were none.
type MissingError struct {
	Tick     uint64
	Ranks    []int
	LateStop uint32
	Err      error
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("transport: tick %d: no envelope from ranks %v: %v", e.Tick, e.Ranks, e.Err)
}

func (e *MissingError) Unwrap() error { return e.Err }

// barrier buffers envelopes that arrive ahead of the tick being collected.
type barrier struct {
	rank     int
	size     int
	pending  map[uint64]map[int]wire.Envelope
	lateStop uint32
}

func newBarrier(rank, size int) *barrier {
	return &barrier{rank: rank, size: size, pending: make(map[uint64]map[int]wire.Envelope)}
}

func (b *barrier) add(env wire.Envelope) {
	m, ok := b.pending[env.Tick]
	if !ok {
		m = make(map[int]wire.Envelope, b.size-1)
		b.pending[env.Tick] = m
	}
	if _, dup := m[env.Rank]; dup {
		monitoring.Logf("[transport] rank %d: duplicate envelope from rank %d for tick %d", b.rank, env.Rank, env.Tick)
		return
	}
	m[env.Rank] = env
}

// collect reads inbox until tick is complete. Envelopes for earlier ticks are
// dropped, keeping only their stop vote, which is reported on the next
// MissingError; later ticks stay buffered for the next call.
func (b *barrier) collect(ctx context.Context, tick uint64, inbox <-chan []byte, linkErr func() error) ([]wire.Envelope, error) {
	for len(b.pending[tick]) < b.size-1 {
		select {
		case raw, ok := <-inbox:
			if !ok {
				err := linkErr()
				if err == nil {
					err = ErrClosed
				}
				return b.incomplete(tick, err)
			}
			env, err := wire.UnmarshalEnvelope(raw)
			if err != nil {
				monitoring.Logf("[transport] rank %d: discarding undecodable envelope: %v", b.rank, err)
				continue
			}
			switch {
			case env.Rank == b.rank || env.Rank < 0 || env.Rank >= b.size:
				monitoring.Logf("[transport] rank %d: discarding envelope with rank %d", b.rank, env.Rank)
			case env.Tick < tick:
				monitoring.Debugf("[transport] rank %d: dropping late envelope from rank %d for tick %d (at %d)", b.rank, env.Rank, env.Tick, tick)
				b.lateStop = max(b.lateStop, env.Stop)
			default:
				b.add(env)
			}
		case <-ctx.Done():
			return b.incomplete(tick, ctx.Err())
		}
	}
	return b.partial(tick), nil
}

func (b *barrier) incomplete(tick uint64, err error) ([]wire.Envelope, error) {
	missing := &MissingError{Tick: tick, Ranks: b.missing(tick), LateStop: b.lateStop, Err: err}
	b.lateStop = 0
	return b.partial(tick), missing
}

// partial returns and forgets what has arrived for tick.
func (b *barrier) partial(tick uint64) []wire.Envelope {
	m := b.pending[tick]
	delete(b.pending, tick)
	for t := range b.pending {
		if t < tick {
			delete(b.pending, t)
		}
	}
	out := make([]wire.Envelope, 0, len(m))
	for _, env := range m {
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

func (b *barrier) missing(tick uint64) []int {
	var ranks []int
	for r := 0; r < b.size; r++ {
		if r == b.rank {
			continue
		}
		if _, ok := b.pending[tick][r]; !ok {
			ranks = append(ranks, r)
		}
	}
	return ranks
}
