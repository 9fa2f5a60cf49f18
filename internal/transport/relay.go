package transport

import (
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/synchro/internal/monitoring"
	"github.com/banshee-data/synchro/internal/wire"
)

const (
	relayServiceName = "synchro.relay.v1.Relay"
	relayMethod      = "/" + relayServiceName + "/Exchange"
	// relayQueue bounds the frames buffered for one slow participant.
	relayQueue = 256
)

// relayHandler is the service interface the descriptor is registered for.
type relayHandler interface {
	serveExchange(stream grpc.ServerStream) error
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: relayServiceName,
	HandlerType: (*relayHandler)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Exchange",
		Handler:       relayExchangeHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "synchro/relay.proto",
}

func relayExchangeHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(relayHandler).serveExchange(stream)
}

// RegisterRelay installs the relay service on a gRPC server.
func RegisterRelay(s grpc.ServiceRegistrar, r *RelayServer) {
	s.RegisterService(&relayServiceDesc, r)
}

// RelayServer forwards each participant's envelopes to every other
// participant. It never decodes envelopes; it only checks hellos.
type RelayServer struct {
	size int

	mu    sync.Mutex
	peers map[int]*relayPeer
	ready bool
}

type relayPeer struct {
	rank int
	out  chan []byte
	done chan struct{}
}

// NewRelayServer creates a relay for size participants.
func NewRelayServer(size int) (*RelayServer, error) {
	if size < 1 {
		return nil, fmt.Errorf("transport: relay size must be at least 1, got %d", size)
	}
	return &RelayServer{size: size, peers: make(map[int]*relayPeer, size)}, nil
}

// Connected returns the number of participants currently attached.
func (r *RelayServer) Connected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func recvFrame(stream grpc.ServerStream) (frame, error) {
	msg := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(msg); err != nil {
		return frame{}, err
	}
	return unmarshalFrame(msg.GetValue())
}

func (r *RelayServer) serveExchange(stream grpc.ServerStream) error {
	hello, err := recvFrame(stream)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "reading hello: %v", err)
	}
	if hello.Kind != frameHello {
		return status.Errorf(codes.InvalidArgument, "first frame is %s, want hello", hello.Kind)
	}
	if err := wire.CheckFingerprint(hello.Fingerprint); err != nil {
		monitoring.Logf("[relay] rejecting rank %d: %v", hello.Rank, err)
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	if hello.Size != r.size {
		return status.Errorf(codes.InvalidArgument, "participant expects %d participants, relay has %d", hello.Size, r.size)
	}
	if hello.Rank < 0 || hello.Rank >= r.size {
		return status.Errorf(codes.InvalidArgument, "rank %d not in [0, %d)", hello.Rank, r.size)
	}

	peer := &relayPeer{rank: hello.Rank, out: make(chan []byte, relayQueue), done: make(chan struct{})}
	if err := r.attach(peer); err != nil {
		return err
	}
	defer r.detach(peer)

	sendErr := make(chan error, 1)
	go func() {
		for {
			select {
			case b := <-peer.out:
				if err := stream.SendMsg(wrapperspb.Bytes(b)); err != nil {
					sendErr <- err
					return
				}
			case <-peer.done:
				return
			case <-stream.Context().Done():
				return
			}
		}
	}()

	for {
		f, err := recvFrame(stream)
		if err != nil {
			monitoring.Logf("[relay] rank %d disconnected: %v", peer.rank, err)
			return nil
		}
		select {
		case err := <-sendErr:
			return err
		default:
		}
		if f.Kind != frameEnvelope {
			monitoring.Logf("[relay] rank %d sent unexpected %s frame", peer.rank, f.Kind)
			continue
		}
		r.forward(peer.rank, frame{Kind: frameEnvelope, Rank: peer.rank, Payload: f.Payload}.marshal())
	}
}

func (r *RelayServer) attach(p *relayPeer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p.rank]; ok {
		return status.Errorf(codes.AlreadyExists, "rank %d already connected", p.rank)
	}
	if r.ready {
		return status.Errorf(codes.FailedPrecondition, "run already started; rank %d cannot join", p.rank)
	}
	r.peers[p.rank] = p
	monitoring.Logf("[relay] rank %d joined (%d/%d)", p.rank, len(r.peers), r.size)
	if len(r.peers) == r.size {
		r.ready = true
		ready := frame{Kind: frameReady, Size: r.size}.marshal()
		for _, peer := range r.peers {
			peer.out <- ready
		}
		monitoring.Logf("[relay] all %d participants joined", r.size)
	}
	return nil
}

func (r *RelayServer) detach(p *relayPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers[p.rank] == p {
		delete(r.peers, p.rank)
	}
	close(p.done)
}

func (r *RelayServer) forward(from int, b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for rank, peer := range r.peers {
		if rank == from {
			continue
		}
		select {
		case peer.out <- b:
		default:
			monitoring.Logf("[relay] rank %d queue full; dropping envelope from rank %d", rank, from)
		}
	}
}
