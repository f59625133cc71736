package types

import (
	"github.com/axiomhq/hyperloglog"

	"github.com/pay-theory/aerokit/pkg/errors"
)

// HLLValue serializes a HyperLogLog sketch into a bin value.
func HLLValue(sk *hyperloglog.Sketch) (Value, error) {
	data, err := sk.MarshalBinary()
	if err != nil {
		return Value{}, errors.Newf(errors.ErrInvalidArgument, "marshal hll: %v", err)
	}
	return Value{typ: HLLType, b: data}, nil
}

// HLLBytes wraps already serialized sketch bytes.
func HLLBytes(data []byte) Value {
	return Value{typ: HLLType, b: append([]byte(nil), data...)}
}

// NewHLL builds a sketch value over the given items.
func NewHLL(items ...[]byte) (Value, error) {
	sk := hyperloglog.New14()
	for _, item := range items {
		sk.Insert(item)
	}
	return HLLValue(sk)
}

// Sketch decodes the value back into a HyperLogLog sketch.
func (v Value) Sketch() (*hyperloglog.Sketch, error) {
	if v.typ != HLLType {
		return nil, errors.Newf(errors.ErrTypeMismatch, "value is %s, not hll", v.typ)
	}
	sk := hyperloglog.New14()
	if err := sk.UnmarshalBinary(v.b); err != nil {
		return nil, errors.Newf(errors.ErrInvalidArgument, "unmarshal hll: %v", err)
	}
	return sk, nil
}

// Cardinality estimates the number of distinct items in an HLL value.
func (v Value) Cardinality() (uint64, error) {
	sk, err := v.Sketch()
	if err != nil {
		return 0, err
	}
	return sk.Estimate(), nil
}
