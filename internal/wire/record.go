// Package wire defines the per-tick state record exchanged between
// participants and the envelope that carries it. Records use the protobuf
// wire format with fixed-width fields only, so every record has the same
// encoded size and floats round-trip bit for bit.
package wire

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrMalformed reports bytes that do not decode as a record or envelope.
	ErrMalformed = errors.New("wire: malformed message")
	// ErrLayoutMismatch reports a peer built with a different record layout.
	ErrLayoutMismatch = errors.New("wire: record layout mismatch")
)

// Record is the fixed state a participant publishes for each of its agents
// every tick.
type Record struct {
	Index       int64
	Time        float64
	Position    [3]float64
	Orientation [4]float64 // unit quaternion, w x y z
	Velocity    [3]float64
}

// Field is one entry of the record layout.
type Field struct {
	Number protowire.Number
	Name   string
	Kind   string
}

// Layout is the ordered list of record fields. Order and count are fixed for
// the lifetime of a run.
var Layout = []Field{
	{1, "index", "sfixed64"},
	{2, "time", "double"},
	{3, "position.x", "double"},
	{4, "position.y", "double"},
	{5, "position.z", "double"},
	{6, "orientation.w", "double"},
	{7, "orientation.x", "double"},
	{8, "orientation.y", "double"},
	{9, "orientation.z", "double"},
	{10, "velocity.x", "double"},
	{11, "velocity.y", "double"},
	{12, "velocity.z", "double"},
}

const layoutVersion = "synchro.record/v1"

// fieldSize is one tag byte plus eight payload bytes.
var fieldSize = protowire.SizeTag(1) + protowire.SizeFixed64()

// RecordSize is the encoded size of every record.
var RecordSize = len(Layout) * fieldSize

// Describe renders a layout as the canonical string the fingerprint hashes.
func Describe(fields []Field) string {
	var sb strings.Builder
	sb.WriteString(layoutVersion)
	for _, f := range fields {
		fmt.Fprintf(&sb, ";%d:%s:%s", f.Number, f.Name, f.Kind)
	}
	return sb.String()
}

// Fingerprint identifies a record layout. Participants exchange it at
// startup and refuse peers whose fingerprint differs.
func Fingerprint(fields []Field) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(Describe(fields)))
}

// LayoutFingerprint is the fingerprint of Layout.
var LayoutFingerprint = Fingerprint(Layout)

// CheckFingerprint returns ErrLayoutMismatch unless got equals this build's
// layout fingerprint.
func CheckFingerprint(got uuid.UUID) error {
	if got != LayoutFingerprint {
		return fmt.Errorf("%w: peer %s, local %s", ErrLayoutMismatch, got, LayoutFingerprint)
	}
	return nil
}

func (r *Record) values() [12]uint64 {
	return [12]uint64{
		uint64(r.Index),
		math.Float64bits(r.Time),
		math.Float64bits(r.Position[0]),
		math.Float64bits(r.Position[1]),
		math.Float64bits(r.Position[2]),
		math.Float64bits(r.Orientation[0]),
		math.Float64bits(r.Orientation[1]),
		math.Float64bits(r.Orientation[2]),
		math.Float64bits(r.Orientation[3]),
		math.Float64bits(r.Velocity[0]),
		math.Float64bits(r.Velocity[1]),
		math.Float64bits(r.Velocity[2]),
	}
}

func (r *Record) setValues(v [12]uint64) {
	r.Index = int64(v[0])
	r.Time = math.Float64frombits(v[1])
	for i := range r.Position {
		r.Position[i] = math.Float64frombits(v[2+i])
	}
	for i := range r.Orientation {
		r.Orientation[i] = math.Float64frombits(v[5+i])
	}
	for i := range r.Velocity {
		r.Velocity[i] = math.Float64frombits(v[9+i])
	}
}

// AppendRecord appends the encoding of r to b.
func AppendRecord(b []byte, r Record) []byte {
	for i, v := range r.values() {
		b = protowire.AppendTag(b, Layout[i].Number, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, v)
	}
	return b
}

// MarshalRecord returns the RecordSize-byte encoding of r.
func MarshalRecord(r Record) []byte {
	return AppendRecord(make([]byte, 0, RecordSize), r)
}

// UnmarshalRecord decodes exactly one record.
func UnmarshalRecord(b []byte) (Record, error) {
	var r Record
	if len(b) != RecordSize {
		return r, fmt.Errorf("%w: record is %d bytes, want %d", ErrMalformed, len(b), RecordSize)
	}
	var vals [12]uint64
	off := 0
	for i, f := range Layout {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return r, fmt.Errorf("%w: field %s at offset %d: %v", ErrMalformed, f.Name, off, protowire.ParseError(n))
		}
		if num != f.Number || typ != protowire.Fixed64Type {
			return r, fmt.Errorf("%w: offset %d holds field %d type %d, want %d (%s)", ErrMalformed, off, num, typ, f.Number, f.Name)
		}
		off += n
		v, n := protowire.ConsumeFixed64(b[off:])
		if n < 0 {
			return r, fmt.Errorf("%w: field %s at offset %d: %v", ErrMalformed, f.Name, off, protowire.ParseError(n))
		}
		vals[i] = v
		off += n
	}
	r.setValues(vals)
	return r, nil
}
