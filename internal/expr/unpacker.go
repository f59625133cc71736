package expr

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/types"
)

// Token classifies the next element of a packed buffer.
type Token int

const (
	TokenInvalid Token = iota
	TokenNil
	TokenBool
	TokenInt
	TokenFloat
	TokenString
	TokenArray
	TokenMap
	TokenExt
)

// Unpacker reads the dialect written by Packer.
type Unpacker struct {
	r   *bytes.Reader
	dec *msgpack.Decoder
}

// NewUnpacker reads from data.
func NewUnpacker(data []byte) *Unpacker {
	r := bytes.NewReader(data)
	return &Unpacker{r: r, dec: msgpack.NewDecoder(r)}
}

// Peek classifies the next element without consuming it.
func (u *Unpacker) Peek() (Token, error) {
	c, err := u.dec.PeekCode()
	if err != nil {
		return TokenInvalid, err
	}
	switch {
	case c == msgpcode.Nil:
		return TokenNil, nil
	case c == msgpcode.True || c == msgpcode.False:
		return TokenBool, nil
	case msgpcode.IsFixedNum(c),
		c == msgpcode.Uint8, c == msgpcode.Uint16, c == msgpcode.Uint32, c == msgpcode.Uint64,
		c == msgpcode.Int8, c == msgpcode.Int16, c == msgpcode.Int32, c == msgpcode.Int64:
		return TokenInt, nil
	case c == msgpcode.Float || c == msgpcode.Double:
		return TokenFloat, nil
	case msgpcode.IsString(c) || msgpcode.IsBin(c):
		return TokenString, nil
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		return TokenArray, nil
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		return TokenMap, nil
	case msgpcode.IsExt(c) || msgpcode.IsFixedExt(c):
		return TokenExt, nil
	}
	return TokenInvalid, errors.Newf(errors.ErrInvalidArgument, "unexpected msgpack code 0x%02x", c)
}

// ArrayHeader reads an array length. Every element takes at least one byte,
// so a length larger than the unread input is rejected before anything is
// allocated for it.
func (u *Unpacker) ArrayHeader() (int, error) {
	n, err := u.dec.DecodeArrayLen()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > u.r.Len() {
		return 0, errors.Newf(errors.ErrInvalidArgument, "array of %d elements with %d bytes left", n, u.r.Len())
	}
	return n, nil
}

// MapHeader reads a map length, bounded like ArrayHeader.
func (u *Unpacker) MapHeader() (int, error) {
	n, err := u.dec.DecodeMapLen()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > u.r.Len()/2 {
		return 0, errors.Newf(errors.ErrInvalidArgument, "map of %d entries with %d bytes left", n, u.r.Len())
	}
	return n, nil
}

func (u *Unpacker) Int() (int64, error) { return u.dec.DecodeInt64() }

func (u *Unpacker) Float() (float64, error) { return u.dec.DecodeFloat64() }

func (u *Unpacker) Bool() (bool, error) { return u.dec.DecodeBool() }

func (u *Unpacker) Nil() error { return u.dec.DecodeNil() }

func (u *Unpacker) Identifier() (string, error) { return u.dec.DecodeString() }

// Marker reads a wildcard or infinity ext value.
func (u *Unpacker) Marker() (byte, error) {
	id, n, err := u.dec.DecodeExtHeader()
	if err != nil {
		return 0, err
	}
	if id != ExtMarker || n != 1 {
		return 0, errors.Newf(errors.ErrInvalidArgument, "unexpected ext type %d len %d", id, n)
	}
	buf := make([]byte, 1)
	if err := u.dec.ReadFull(buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Value reads a bin value written by Packer.Value.
func (u *Unpacker) Value() (types.Value, error) {
	tok, err := u.Peek()
	if err != nil {
		return types.Value{}, err
	}
	switch tok {
	case TokenNil:
		return types.NilValue(), u.Nil()
	case TokenBool:
		b, err := u.Bool()
		return types.BoolValue(b), err
	case TokenInt:
		i, err := u.Int()
		return types.IntValue(i), err
	case TokenFloat:
		f, err := u.Float()
		return types.FloatValue(f), err
	case TokenString:
		s, err := u.dec.DecodeString()
		if err != nil {
			return types.Value{}, err
		}
		return particleValue([]byte(s))
	case TokenArray:
		n, err := u.ArrayHeader()
		if err != nil {
			return types.Value{}, err
		}
		items := make([]types.Value, 0, n)
		for i := 0; i < n; i++ {
			item, err := u.Value()
			if err != nil {
				return types.Value{}, err
			}
			items = append(items, item)
		}
		return types.ListValue(items...), nil
	case TokenMap:
		n, err := u.MapHeader()
		if err != nil {
			return types.Value{}, err
		}
		entries := make([]types.MapEntry, 0, n)
		for i := 0; i < n; i++ {
			k, err := u.Value()
			if err != nil {
				return types.Value{}, err
			}
			v, err := u.Value()
			if err != nil {
				return types.Value{}, err
			}
			entries = append(entries, types.MapEntry{Key: k, Value: v})
		}
		return types.MapValue(entries...), nil
	case TokenExt:
		m, err := u.Marker()
		if err != nil {
			return types.Value{}, err
		}
		if m == MarkerInfinity {
			return types.InfinityValue(), nil
		}
		return types.WildcardValue(), nil
	}
	return types.Value{}, errors.Newf(errors.ErrInvalidArgument, "cannot unpack value")
}

func particleValue(framed []byte) (types.Value, error) {
	if len(framed) == 0 {
		return types.Value{}, errors.Newf(errors.ErrInvalidArgument, "string value without particle type")
	}
	payload := framed[1:]
	switch framed[0] {
	case types.ParticleString:
		return types.StringValue(string(payload)), nil
	case types.ParticleGeoJSON:
		return types.GeoJSONValue(string(payload)), nil
	case types.ParticleBlob:
		return types.BlobValue(payload), nil
	case types.ParticleHLL:
		return types.HLLBytes(payload), nil
	}
	return types.Value{}, errors.Newf(errors.ErrInvalidArgument, "unknown particle type %d", framed[0])
}

// UnpackValue decodes a single value.
func UnpackValue(data []byte) (types.Value, error) {
	return NewUnpacker(data).Value()
}
