package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/synchro/internal/monitoring"
	"github.com/banshee-data/synchro/internal/wire"
)

func init() { monitoring.SetLogger(nil) }

func hubTransports(t *testing.T, n int) []Transport {
	t.Helper()
	h, err := NewHub(n)
	require.NoError(t, err)
	out := make([]Transport, n)
	for i := range out {
		tr, err := h.Transport(i)
		require.NoError(t, err)
		out[i] = tr
	}
	return out
}

func handshakeAll(t *testing.T, trs []Transport) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for _, tr := range trs {
		g.Go(func() error { return tr.Handshake(ctx, wire.LayoutFingerprint) })
	}
	require.NoError(t, g.Wait())
}

func TestHubExchange(t *testing.T) {
	defer goleak.VerifyNone(t)
	const n, ticks = 3, 5
	trs := hubTransports(t, n)
	handshakeAll(t, trs)

	got := make([][][]wire.Envelope, n)
	g, ctx := errgroup.WithContext(context.Background())
	for rank, tr := range trs {
		g.Go(func() error {
			for tick := uint64(0); tick < ticks; tick++ {
				env := wire.Envelope{Tick: tick, Records: []wire.Record{{Index: int64(rank), Time: float64(tick)}}}
				others, err := tr.Exchange(ctx, env)
				if err != nil {
					return err
				}
				got[rank] = append(got[rank], others)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for rank := 0; rank < n; rank++ {
		require.Len(t, got[rank], ticks)
		for tick, others := range got[rank] {
			require.Len(t, others, n-1)
			var ranks []int
			for _, env := range others {
				assert.Equal(t, uint64(tick), env.Tick)
				assert.Equal(t, int64(env.Rank), env.Records[0].Index)
				assert.Equal(t, float64(tick), env.Records[0].Time)
				ranks = append(ranks, env.Rank)
			}
			assert.IsIncreasing(t, ranks)
			assert.NotContains(t, ranks, rank)
		}
	}
	for _, tr := range trs {
		require.NoError(t, tr.Close())
	}
}

// No participant may see a tick-T envelope before its sender finished its
// tick-T work.
func TestHubExchangeCausalOrdering(t *testing.T) {
	const n, ticks = 4, 20
	trs := hubTransports(t, n)
	handshakeAll(t, trs)

	var clock atomic.Int64
	var mu sync.Mutex
	advanced := make(map[[2]int]int64) // (rank, tick) -> stamp after Advance
	observed := make(map[[2]int]int64) // (rank, tick) -> stamp after Exchange

	g, ctx := errgroup.WithContext(context.Background())
	for rank, tr := range trs {
		g.Go(func() error {
			for tick := 0; tick < ticks; tick++ {
				// Uneven work per participant.
				time.Sleep(time.Duration((rank*7+tick*3)%5) * time.Millisecond)
				mu.Lock()
				advanced[[2]int{rank, tick}] = clock.Add(1)
				mu.Unlock()
				if _, err := tr.Exchange(ctx, wire.Envelope{Tick: uint64(tick)}); err != nil {
					return err
				}
				mu.Lock()
				observed[[2]int{rank, tick}] = clock.Add(1)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for tick := 0; tick < ticks; tick++ {
		for r := 0; r < n; r++ {
			for s := 0; s < n; s++ {
				assert.Greater(t, observed[[2]int{r, tick}], advanced[[2]int{s, tick}],
					"rank %d finished exchange of tick %d before rank %d advanced", r, tick, s)
			}
		}
	}
}

func TestHubExchangeMissingParticipant(t *testing.T) {
	defer goleak.VerifyNone(t)
	trs := hubTransports(t, 3)

	var wg sync.WaitGroup
	results := make([][]wire.Envelope, 2)
	errs := make([]error, 2)
	for rank := 0; rank < 2; rank++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			results[rank], errs[rank] = trs[rank].Exchange(ctx, wire.Envelope{Tick: 0})
		}()
	}
	wg.Wait()

	for rank := 0; rank < 2; rank++ {
		var missing *MissingError
		require.ErrorAs(t, errs[rank], &missing)
		assert.Equal(t, []int{2}, missing.Ranks)
		assert.Equal(t, uint64(0), missing.Tick)
		assert.True(t, errors.Is(errs[rank], context.DeadlineExceeded))
		require.Len(t, results[rank], 1, "the envelope that did arrive is returned")
		assert.Equal(t, 1-rank, results[rank][0].Rank)
	}
}

func TestHubHandshakeRejectsMismatchedLayout(t *testing.T) {
	trs := hubTransports(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- trs[0].Handshake(ctx, wire.LayoutFingerprint) }()
	hub := trs[0].(*HubTransport).hub
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return hub.joined[0]
	}, time.Second, time.Millisecond)

	other := wire.Fingerprint(wire.Layout[:3])
	err := trs[1].Handshake(ctx, other)
	require.ErrorIs(t, err, wire.ErrLayoutMismatch)

	// Rank 0 never sees a complete set of peers.
	assert.ErrorIs(t, <-errc, context.DeadlineExceeded)
}

func TestHubTransportClaims(t *testing.T) {
	h, err := NewHub(2)
	require.NoError(t, err)
	_, err = h.Transport(0)
	require.NoError(t, err)
	_, err = h.Transport(0)
	assert.Error(t, err)
	_, err = h.Transport(2)
	assert.Error(t, err)
	_, err = NewHub(0)
	assert.Error(t, err)
}

func TestHubTransportClosed(t *testing.T) {
	trs := hubTransports(t, 2)
	require.NoError(t, trs[0].Close())
	require.NoError(t, trs[0].Close())
	_, err := trs[0].Exchange(context.Background(), wire.Envelope{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBarrierBuffersFutureAndDropsPast(t *testing.T) {
	b := newBarrier(0, 3)
	inbox := make(chan []byte, 8)
	for _, env := range []wire.Envelope{
		{Tick: 2, Rank: 1},
		{Tick: 1, Rank: 2},
		{Tick: 0, Rank: 1}, // late
		{Tick: 1, Rank: 1},
		{Tick: 2, Rank: 2},
	} {
		inbox <- wire.MarshalEnvelope(env)
	}
	ctx := context.Background()
	noErr := func() error { return nil }

	got, err := b.collect(ctx, 1, inbox, noErr)
	require.NoError(t, err)
	assert.Equal(t, []wire.Envelope{{Tick: 1, Rank: 1}, {Tick: 1, Rank: 2}}, got)

	got, err = b.collect(ctx, 2, inbox, noErr)
	require.NoError(t, err)
	assert.Equal(t, []wire.Envelope{{Tick: 2, Rank: 1}, {Tick: 2, Rank: 2}}, got)
	assert.Empty(t, b.pending)
}

func TestBarrierClosedInbox(t *testing.T) {
	b := newBarrier(1, 2)
	inbox := make(chan []byte)
	close(inbox)
	_, err := b.collect(context.Background(), 0, inbox, func() error { return nil })
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, []int{0}, missing.Ranks)
}

func TestBarrierReportsLateStopVote(t *testing.T) {
	b := newBarrier(0, 2)
	inbox := make(chan []byte, 4)
	inbox <- wire.MarshalEnvelope(wire.Envelope{Tick: 3, Rank: 1, Stop: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got, err := b.collect(ctx, 4, inbox, func() error { return nil })
	assert.Empty(t, got)
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, uint32(3), missing.LateStop)
	assert.Equal(t, []int{1}, missing.Ranks)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = b.collect(ctx2, 5, inbox, func() error { return nil })
	require.ErrorAs(t, err, &missing)
	assert.Zero(t, missing.LateStop, "reported once")
}
