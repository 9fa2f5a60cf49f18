package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope is one participant's message for one tick: its records and its
// vote on whether the run continues.
type Envelope struct {
	Tick    uint64
	Rank    int
	Stop    uint32 // zero continues; non-zero carries the sender's stop reason
	Records []Record
}

const (
	envTick   protowire.Number = 1
	envRank   protowire.Number = 2
	envStop   protowire.Number = 3
	envRecord protowire.Number = 4
)

// MarshalEnvelope encodes e.
func MarshalEnvelope(e Envelope) []byte {
	b := make([]byte, 0, 16+len(e.Records)*(RecordSize+2))
	b = protowire.AppendTag(b, envTick, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Tick)
	b = protowire.AppendTag(b, envRank, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Rank))
	if e.Stop != 0 {
		b = protowire.AppendTag(b, envStop, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Stop))
	}
	rec := make([]byte, 0, RecordSize)
	for _, r := range e.Records {
		b = protowire.AppendTag(b, envRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, AppendRecord(rec[:0], r))
	}
	return b
}

// UnmarshalEnvelope decodes an envelope. Unknown fields are skipped.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	off := 0
	for off < len(b) {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return e, fmt.Errorf("%w: envelope tag at offset %d: %v", ErrMalformed, off, protowire.ParseError(n))
		}
		off += n
		switch {
		case num == envTick && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b[off:])
			if n < 0 {
				return e, fmt.Errorf("%w: tick at offset %d: %v", ErrMalformed, off, protowire.ParseError(n))
			}
			e.Tick = v
			off += n
		case num == envRank && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b[off:])
			if n < 0 {
				return e, fmt.Errorf("%w: rank at offset %d: %v", ErrMalformed, off, protowire.ParseError(n))
			}
			e.Rank = int(v)
			off += n
		case num == envStop && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b[off:])
			if n < 0 {
				return e, fmt.Errorf("%w: stop at offset %d: %v", ErrMalformed, off, protowire.ParseError(n))
			}
			e.Stop = uint32(v)
			off += n
		case num == envRecord && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b[off:])
			if n < 0 {
				return e, fmt.Errorf("%w: record at offset %d: %v", ErrMalformed, off, protowire.ParseError(n))
			}
			r, err := UnmarshalRecord(v)
			if err != nil {
				return e, fmt.Errorf("record %d at offset %d: %w", len(e.Records), off, err)
			}
			e.Records = append(e.Records, r)
			off += n
		default:
			n := protowire.ConsumeFieldValue(num, typ, b[off:])
			if n < 0 {
				return e, fmt.Errorf("%w: field %d at offset %d: %v", ErrMalformed, num, off, protowire.ParseError(n))
			}
			off += n
		}
	}
	return e, nil
}
