package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/synchro/internal/wire"
)

func startRelay(t *testing.T, size int) (*RelayServer, func(rank int) *GRPCTransport) {
	t.Helper()
	relay, err := NewRelayServer(size)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterRelay(srv, relay)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dial := func(rank int) *GRPCTransport {
		tr, err := DialRelay("passthrough:///bufnet", rank, size,
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = tr.Close() })
		return tr
	}
	return relay, dial
}

func TestRelayExchange(t *testing.T) {
	const n, ticks = 3, 4
	relay, dial := startRelay(t, n)
	trs := make([]Transport, n)
	for i := range trs {
		trs[i] = dial(i)
	}
	handshakeAll(t, trs)
	assert.Equal(t, n, relay.Connected())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got := make([][][]wire.Envelope, n)
	g, ctx := errgroup.WithContext(ctx)
	for rank, tr := range trs {
		g.Go(func() error {
			for tick := uint64(1); tick <= ticks; tick++ {
				rec := wire.Record{Index: int64(rank), Time: float64(tick) * 0.01, Position: [3]float64{float64(rank), 1.5, 0.2}}
				others, err := tr.Exchange(ctx, wire.Envelope{Tick: tick, Records: []wire.Record{rec}})
				if err != nil {
					return err
				}
				got[rank] = append(got[rank], others)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for rank := range got {
		require.Len(t, got[rank], ticks)
		for i, others := range got[rank] {
			require.Len(t, others, n-1)
			for _, env := range others {
				assert.Equal(t, uint64(i+1), env.Tick)
				assert.NotEqual(t, rank, env.Rank)
				assert.Equal(t, float64(env.Rank), env.Records[0].Position[0])
			}
		}
	}
}

func TestRelayRejectsMismatchedLayout(t *testing.T) {
	_, dial := startRelay(t, 2)
	tr := dial(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := tr.Handshake(ctx, wire.Fingerprint(wire.Layout[:11]))
	assert.ErrorIs(t, err, wire.ErrLayoutMismatch)
}

func TestRelayRejectsWrongSize(t *testing.T) {
	_, dial := startRelay(t, 3)
	tr := dial(0)
	tr.size = 2

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := tr.Handshake(ctx, wire.LayoutFingerprint)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 2 participants")
}

func TestRelayMissingPeerTimesOut(t *testing.T) {
	_, dial := startRelay(t, 2)
	a, b := dial(0), dial(1)
	handshakeAll(t, []Transport{a, b})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	others, err := a.Exchange(ctx, wire.Envelope{Tick: 1})
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []int{1}, missing.Ranks)
	assert.Empty(t, others)
}

func TestFrameRoundTrip(t *testing.T) {
	in := frame{Kind: frameHello, Rank: 4, Size: 9, Fingerprint: wire.LayoutFingerprint, Payload: []byte{1, 2, 3}}
	out, err := unmarshalFrame(in.marshal())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = unmarshalFrame([]byte{0x22, 0x02, 0x01, 0x02})
	assert.ErrorIs(t, err, wire.ErrMalformed, "short fingerprint")
}
