// Package types holds the record, key and bin value model shared by the
// expression compiler, the query compiler and the dispatcher.
package types

import (
	"bytes"
	"cmp"
	"encoding/base64"
	"fmt"
	"math"
	"slices"
	"strings"
)

// ValueType identifies the variant held by a Value.
type ValueType int

const (
	NilType ValueType = iota
	BoolType
	IntType
	FloatType
	StringType
	BlobType
	ListType
	MapType
	GeoJSONType
	HLLType
	InfinityType
	WildcardType
)

var valueTypeNames = [...]string{
	NilType:      "nil",
	BoolType:     "bool",
	IntType:      "int",
	FloatType:    "float",
	StringType:   "string",
	BlobType:     "blob",
	ListType:     "list",
	MapType:      "map",
	GeoJSONType:  "geojson",
	HLLType:      "hll",
	InfinityType: "infinity",
	WildcardType: "wildcard",
}

func (t ValueType) String() string {
	if int(t) >= 0 && int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// Particle types used on the wire and in key digests.
const (
	ParticleNull    byte = 0
	ParticleInteger byte = 1
	ParticleFloat   byte = 2
	ParticleString  byte = 3
	ParticleBlob    byte = 4
	ParticleBool    byte = 17
	ParticleHLL     byte = 18
	ParticleMap     byte = 19
	ParticleList    byte = 20
	ParticleGeoJSON byte = 23
)

// Particle returns the server particle type for the value.
func (t ValueType) Particle() byte {
	switch t {
	case BoolType:
		return ParticleBool
	case IntType:
		return ParticleInteger
	case FloatType:
		return ParticleFloat
	case StringType:
		return ParticleString
	case BlobType:
		return ParticleBlob
	case ListType:
		return ParticleList
	case MapType:
		return ParticleMap
	case GeoJSONType:
		return ParticleGeoJSON
	case HLLType:
		return ParticleHLL
	}
	return ParticleNull
}

// MapEntry is one key/value pair of a map value.
type MapEntry struct {
	Key   Value
	Value Value
}

// Value is an immutable bin or literal value.
type Value struct {
	typ ValueType
	i   int64
	f   float64
	s   string
	b   []byte
	l   []Value
	m   []MapEntry
}

// BinMap maps bin names to values.
type BinMap map[string]Value

// Value constructors.

func NilValue() Value { return Value{} }
func BoolValue(v bool) Value {
	if v {
		return Value{typ: BoolType, i: 1}
	}
	return Value{typ: BoolType}
}
func IntValue(v int64) Value      { return Value{typ: IntType, i: v} }
func FloatValue(v float64) Value  { return Value{typ: FloatType, f: v} }
func StringValue(v string) Value  { return Value{typ: StringType, s: v} }
func GeoJSONValue(v string) Value { return Value{typ: GeoJSONType, s: v} }
func InfinityValue() Value        { return Value{typ: InfinityType} }
func WildcardValue() Value        { return Value{typ: WildcardType} }

// BlobValue copies v.
func BlobValue(v []byte) Value {
	return Value{typ: BlobType, b: bytes.Clone(v)}
}

// ListValue copies the element slice.
func ListValue(items ...Value) Value {
	return Value{typ: ListType, l: slices.Clone(items)}
}

// MapValue keeps entries in the given order; the wire encoder sorts them.
func MapValue(entries ...MapEntry) Value {
	return Value{typ: MapType, m: slices.Clone(entries)}
}

// StringMap builds a map value with string keys in sorted key order.
func StringMap(m map[string]Value) Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	entries := make([]MapEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, MapEntry{Key: StringValue(k), Value: m[k]})
	}
	return Value{typ: MapType, m: entries}
}

func (v Value) Type() ValueType { return v.typ }
func (v Value) IsNil() bool     { return v.typ == NilType }
func (v Value) AsInt() int64    { return v.i }
func (v Value) AsFloat() float64 {
	if v.typ == IntType {
		return float64(v.i)
	}
	return v.f
}
func (v Value) AsBool() bool      { return v.typ == BoolType && v.i != 0 }
func (v Value) AsString() string  { return v.s }
func (v Value) AsBytes() []byte   { return v.b }
func (v Value) AsList() []Value   { return v.l }
func (v Value) AsMap() []MapEntry { return v.m }

// Lookup returns the map entry value for key.
func (v Value) Lookup(key Value) (Value, bool) {
	for _, e := range v.m {
		if e.Key.Equal(key) {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Interface converts the value back into plain Go data.
func (v Value) Interface() any {
	switch v.typ {
	case BoolType:
		return v.AsBool()
	case IntType:
		return v.i
	case FloatType:
		return v.f
	case StringType, GeoJSONType:
		return v.s
	case BlobType, HLLType:
		return v.b
	case ListType:
		out := make([]any, len(v.l))
		for i, item := range v.l {
			out[i] = item.Interface()
		}
		return out
	case MapType:
		out := make(map[any]any, len(v.m))
		for _, e := range v.m {
			k := e.Key.Interface()
			if b, ok := k.([]byte); ok {
				k = string(b)
			}
			out[k] = e.Value.Interface()
		}
		return out
	}
	return nil
}

// Equal reports deep equality. Map entries compare without regard to order.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case NilType, InfinityType, WildcardType:
		return true
	case BoolType, IntType:
		return v.i == o.i
	case FloatType:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case StringType, GeoJSONType:
		return v.s == o.s
	case BlobType, HLLType:
		return bytes.Equal(v.b, o.b)
	case ListType:
		return slices.EqualFunc(v.l, o.l, Value.Equal)
	case MapType:
		if len(v.m) != len(o.m) {
			return false
		}
		for _, e := range v.m {
			other, ok := o.Lookup(e.Key)
			if !ok || !other.Equal(e.Value) {
				return false
			}
		}
		return true
	}
	return false
}

// typeRank follows the server's cross-type ordering.
func typeRank(t ValueType) int {
	switch t {
	case NilType:
		return 1
	case BoolType:
		return 2
	case IntType:
		return 3
	case StringType:
		return 4
	case ListType:
		return 5
	case MapType:
		return 6
	case BlobType:
		return 7
	case FloatType:
		return 8
	case GeoJSONType:
		return 9
	case HLLType:
		return 10
	case InfinityType:
		return 100
	}
	return 0
}

// Compare orders values of the same type by content and values of different
// types by type rank. Wildcard compares equal to anything.
func Compare(a, b Value) int {
	if a.typ == WildcardType || b.typ == WildcardType {
		return 0
	}
	if a.typ != b.typ {
		return cmp.Compare(typeRank(a.typ), typeRank(b.typ))
	}
	switch a.typ {
	case BoolType, IntType:
		return cmp.Compare(a.i, b.i)
	case FloatType:
		return cmp.Compare(a.f, b.f)
	case StringType, GeoJSONType:
		return strings.Compare(a.s, b.s)
	case BlobType, HLLType:
		return bytes.Compare(a.b, b.b)
	case ListType:
		return slices.CompareFunc(a.l, b.l, Compare)
	case MapType:
		if c := cmp.Compare(len(a.m), len(b.m)); c != 0 {
			return c
		}
		return slices.CompareFunc(sortedEntries(a.m), sortedEntries(b.m), func(x, y MapEntry) int {
			if c := Compare(x.Key, y.Key); c != 0 {
				return c
			}
			return Compare(x.Value, y.Value)
		})
	}
	return 0
}

func sortedEntries(entries []MapEntry) []MapEntry {
	out := slices.Clone(entries)
	slices.SortFunc(out, func(x, y MapEntry) int { return Compare(x.Key, y.Key) })
	return out
}

func (v Value) String() string {
	switch v.typ {
	case NilType:
		return "nil"
	case BoolType:
		return fmt.Sprintf("%t", v.AsBool())
	case IntType:
		return fmt.Sprintf("%d", v.i)
	case FloatType:
		return fmt.Sprintf("%g", v.f)
	case StringType:
		return fmt.Sprintf("%q", v.s)
	case GeoJSONType:
		return "geojson(" + v.s + ")"
	case BlobType:
		return "blob(" + base64.StdEncoding.EncodeToString(v.b) + ")"
	case HLLType:
		return fmt.Sprintf("hll(%d bytes)", len(v.b))
	case ListType:
		parts := make([]string, len(v.l))
		for i, item := range v.l {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case MapType:
		parts := make([]string, len(v.m))
		for i, e := range v.m {
			parts[i] = e.Key.String() + ": " + e.Value.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case InfinityType:
		return "inf"
	case WildcardType:
		return "*"
	}
	return "?"
}
