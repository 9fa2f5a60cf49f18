package transport

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/synchro/internal/wire"
)

// frameKind tags relay stream frames.
type frameKind uint64

const (
	frameHello frameKind = iota + 1
	frameReady
	frameEnvelope
)

func (k frameKind) String() string {
	switch k {
	case frameHello:
		return "hello"
	case frameReady:
		return "ready"
	case frameEnvelope:
		return "envelope"
	default:
		return fmt.Sprintf("frame(%d)", uint64(k))
	}
}

// frame is the unit carried in each BytesValue on the relay stream.
type frame struct {
	Kind        frameKind
	Rank        int
	Size        int
	Fingerprint uuid.UUID
	Payload     []byte
}

const (
	frameFieldKind        protowire.Number = 1
	frameFieldRank        protowire.Number = 2
	frameFieldSize        protowire.Number = 3
	frameFieldFingerprint protowire.Number = 4
	frameFieldPayload     protowire.Number = 5
)

func (f frame) marshal() []byte {
	b := make([]byte, 0, 32+len(f.Payload))
	b = protowire.AppendTag(b, frameFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	b = protowire.AppendTag(b, frameFieldRank, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Rank))
	b = protowire.AppendTag(b, frameFieldSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Size))
	if f.Fingerprint != uuid.Nil {
		b = protowire.AppendTag(b, frameFieldFingerprint, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Fingerprint[:])
	}
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, frameFieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	return b
}

func unmarshalFrame(b []byte) (frame, error) {
	var f frame
	for off := 0; off < len(b); {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return f, fmt.Errorf("%w: frame tag at offset %d: %v", wire.ErrMalformed, off, protowire.ParseError(n))
		}
		off += n
		switch {
		case typ == protowire.VarintType && (num == frameFieldKind || num == frameFieldRank || num == frameFieldSize):
			v, n := protowire.ConsumeVarint(b[off:])
			if n < 0 {
				return f, fmt.Errorf("%w: frame field %d at offset %d: %v", wire.ErrMalformed, num, off, protowire.ParseError(n))
			}
			switch num {
			case frameFieldKind:
				f.Kind = frameKind(v)
			case frameFieldRank:
				f.Rank = int(v)
			default:
				f.Size = int(v)
			}
			off += n
		case typ == protowire.BytesType && (num == frameFieldFingerprint || num == frameFieldPayload):
			v, n := protowire.ConsumeBytes(b[off:])
			if n < 0 {
				return f, fmt.Errorf("%w: frame field %d at offset %d: %v", wire.ErrMalformed, num, off, protowire.ParseError(n))
			}
			if num == frameFieldFingerprint {
				id, err := uuid.FromBytes(v)
				if err != nil {
					return f, fmt.Errorf("%w: fingerprint at offset %d: %v", wire.ErrMalformed, off, err)
				}
				f.Fingerprint = id
			} else {
				f.Payload = append([]byte(nil), v...)
			}
			off += n
		default:
			n := protowire.ConsumeFieldValue(num, typ, b[off:])
			if n < 0 {
				return f, fmt.Errorf("%w: frame field %d at offset %d: %v", wire.ErrMalformed, num, off, protowire.ParseError(n))
			}
			off += n
		}
	}
	return f, nil
}
