// Package expr holds the msgpack dialect spoken by the cluster and the
// conversion between Go values and bin values.
package expr

import (
	"bytes"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/types"
)

// QuotedOp marks a list literal so the server does not evaluate it as an operator.
const QuotedOp = 126

// Ext type and payloads used for CDT range markers.
const (
	ExtMarker      int8 = -1
	MarkerWildcard byte = 0x00
	MarkerInfinity byte = 0x01
)

// Packer writes the server's msgpack dialect: particle-prefixed strings,
// fixed-width int64 and float64 literals, and ext markers.
type Packer struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
}

// NewPacker creates an empty packer.
func NewPacker() *Packer {
	p := &Packer{}
	p.enc = msgpack.NewEncoder(&p.buf)
	return p
}

// Bytes returns a copy of the packed buffer.
func (p *Packer) Bytes() []byte {
	return bytes.Clone(p.buf.Bytes())
}

// Len returns the number of bytes written so far.
func (p *Packer) Len() int {
	return p.buf.Len()
}

// ArrayHeader starts an array of n elements.
func (p *Packer) ArrayHeader(n int) error {
	return p.enc.EncodeArrayLen(n)
}

// MapHeader starts a map of n entries.
func (p *Packer) MapHeader(n int) error {
	return p.enc.EncodeMapLen(n)
}

// Opcode writes an operation or type code in its most compact form.
func (p *Packer) Opcode(code int64) error {
	return p.enc.EncodeInt(code)
}

// Int writes an int64 literal as a fixed-width 9-byte value.
func (p *Packer) Int(v int64) error {
	return p.enc.EncodeInt64(v)
}

// Float writes a float64 literal.
func (p *Packer) Float(v float64) error {
	return p.enc.EncodeFloat64(v)
}

func (p *Packer) Bool(v bool) error {
	return p.enc.EncodeBool(v)
}

func (p *Packer) Nil() error {
	return p.enc.EncodeNil()
}

// Identifier writes a bin name, variable name or pattern as a plain string.
func (p *Packer) Identifier(s string) error {
	return p.enc.EncodeString(s)
}

// Particle writes a string-framed payload whose first byte is the particle type.
func (p *Packer) Particle(particle byte, payload []byte) error {
	framed := make([]byte, 0, len(payload)+1)
	framed = append(framed, particle)
	framed = append(framed, payload...)
	return p.enc.EncodeString(string(framed))
}

// Marker writes the wildcard or infinity ext value.
func (p *Packer) Marker(marker byte) error {
	if err := p.enc.EncodeExtHeader(ExtMarker, 1); err != nil {
		return err
	}
	_, err := p.enc.Writer().Write([]byte{marker})
	return err
}

// Value writes a bin value. Lists nested inside other values are not quoted.
func (p *Packer) Value(v types.Value) error {
	switch v.Type() {
	case types.NilType:
		return p.Nil()
	case types.BoolType:
		return p.Bool(v.AsBool())
	case types.IntType:
		return p.Int(v.AsInt())
	case types.FloatType:
		return p.Float(v.AsFloat())
	case types.StringType:
		return p.Particle(types.ParticleString, []byte(v.AsString()))
	case types.GeoJSONType:
		return p.Particle(types.ParticleGeoJSON, []byte(v.AsString()))
	case types.BlobType:
		return p.Particle(types.ParticleBlob, v.AsBytes())
	case types.HLLType:
		return p.Particle(types.ParticleHLL, v.AsBytes())
	case types.ListType:
		items := v.AsList()
		if err := p.ArrayHeader(len(items)); err != nil {
			return err
		}
		for _, item := range items {
			if err := p.Value(item); err != nil {
				return err
			}
		}
		return nil
	case types.MapType:
		return p.mapValue(v.AsMap())
	case types.InfinityType:
		return p.Marker(MarkerInfinity)
	case types.WildcardType:
		return p.Marker(MarkerWildcard)
	}
	return errors.Newf(errors.ErrUnsupportedExpression, "cannot pack value of type %s", v.Type())
}

// QuotedList writes a list literal wrapped so the server treats it as data.
func (p *Packer) QuotedList(v types.Value) error {
	if err := p.ArrayHeader(2); err != nil {
		return err
	}
	if err := p.Opcode(QuotedOp); err != nil {
		return err
	}
	return p.Value(v)
}

type packedEntry struct {
	key   []byte
	entry types.MapEntry
}

// mapValue writes entries sorted by their packed key bytes so equal maps
// always produce identical output.
func (p *Packer) mapValue(entries []types.MapEntry) error {
	packed := make([]packedEntry, 0, len(entries))
	for _, e := range entries {
		kp := NewPacker()
		if err := kp.Value(e.Key); err != nil {
			return err
		}
		packed = append(packed, packedEntry{key: kp.Bytes(), entry: e})
	}
	slices.SortStableFunc(packed, func(a, b packedEntry) int {
		return bytes.Compare(a.key, b.key)
	})

	if err := p.MapHeader(len(packed)); err != nil {
		return err
	}
	for _, pe := range packed {
		if _, err := p.enc.Writer().Write(pe.key); err != nil {
			return err
		}
		if err := p.Value(pe.entry.Value); err != nil {
			return err
		}
	}
	return nil
}

// PackValue packs a single value into a fresh buffer.
func PackValue(v types.Value) ([]byte, error) {
	p := NewPacker()
	if err := p.Value(v); err != nil {
		return nil, err
	}
	return p.Bytes(), nil
}
