package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/synchro/internal/monitoring"
	"github.com/banshee-data/synchro/internal/wire"
)

// GRPCTransport reaches the other participants through a RelayServer.
type GRPCTransport struct {
	rank int
	size int

	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc

	barrier *barrier
	inbox   chan []byte

	mu      sync.Mutex
	sendMu  sync.Mutex
	linkErr error
	started bool
}

// DialRelay connects to the relay at target. The stream stays open until
// Close.
func DialRelay(target string, rank, size int, opts ...grpc.DialOption) (*GRPCTransport, error) {
	if size < 1 || rank < 0 || rank >= size {
		return nil, fmt.Errorf("transport: rank %d not in [0, %d)", rank, size)
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing relay %s: %w", target, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := conn.NewStream(ctx, &relayServiceDesc.Streams[0], relayMethod)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("transport: opening relay stream: %w", err)
	}
	return &GRPCTransport{
		rank:    rank,
		size:    size,
		conn:    conn,
		stream:  stream,
		cancel:  cancel,
		barrier: newBarrier(rank, size),
		inbox:   make(chan []byte, relayQueue),
	}, nil
}

func (t *GRPCTransport) Rank() int { return t.rank }
func (t *GRPCTransport) Size() int { return t.size }

func (t *GRPCTransport) send(f frame) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.stream.SendMsg(wrapperspb.Bytes(f.marshal()))
}

func (t *GRPCTransport) recv() (frame, error) {
	msg := new(wrapperspb.BytesValue)
	if err := t.stream.RecvMsg(msg); err != nil {
		return frame{}, err
	}
	return unmarshalFrame(msg.GetValue())
}

// Handshake implements Transport. The relay answers a layout mismatch with
// FailedPrecondition, reported here as wire.ErrLayoutMismatch.
func (t *GRPCTransport) Handshake(ctx context.Context, fingerprint uuid.UUID) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("transport: handshake already done")
	}
	t.started = true
	t.mu.Unlock()

	if err := t.send(frame{Kind: frameHello, Rank: t.rank, Size: t.size, Fingerprint: fingerprint}); err != nil {
		return fmt.Errorf("transport: sending hello: %w", err)
	}

	type result struct {
		f   frame
		err error
	}
	ready := make(chan result, 1)
	go func() {
		f, err := t.recv()
		ready <- result{f, err}
	}()

	select {
	case res := <-ready:
		if res.err != nil {
			if status.Code(res.err) == codes.FailedPrecondition {
				return fmt.Errorf("%w: %s", wire.ErrLayoutMismatch, status.Convert(res.err).Message())
			}
			return fmt.Errorf("transport: waiting for relay: %w", res.err)
		}
		if res.f.Kind != frameReady {
			return fmt.Errorf("transport: expected ready frame, got %s", res.f.Kind)
		}
	case <-ctx.Done():
		t.cancel()
		return fmt.Errorf("transport: rank %d waiting for peers: %w", t.rank, ctx.Err())
	}

	go t.recvLoop()
	return nil
}

func (t *GRPCTransport) recvLoop() {
	defer close(t.inbox)
	for {
		f, err := t.recv()
		if err != nil {
			t.mu.Lock()
			t.linkErr = err
			t.mu.Unlock()
			if status.Code(err) != codes.Canceled {
				monitoring.Logf("[transport] rank %d relay stream ended: %v", t.rank, err)
			}
			return
		}
		if f.Kind != frameEnvelope {
			continue
		}
		t.inbox <- f.Payload
	}
}

func (t *GRPCTransport) streamErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.linkErr
}

// Exchange implements Transport.
func (t *GRPCTransport) Exchange(ctx context.Context, env wire.Envelope) ([]wire.Envelope, error) {
	env.Rank = t.rank
	if err := t.send(frame{Kind: frameEnvelope, Rank: t.rank, Payload: wire.MarshalEnvelope(env)}); err != nil {
		return nil, fmt.Errorf("%w: sending tick %d: %v", ErrClosed, env.Tick, err)
	}
	return t.barrier.collect(ctx, env.Tick, t.inbox, t.streamErr)
}

// Close implements Transport.
func (t *GRPCTransport) Close() error {
	t.sendMu.Lock()
	_ = t.stream.CloseSend()
	t.sendMu.Unlock()
	t.cancel()
	return t.conn.Close()
}
