package exp

import (
	"io"

	"github.com/pay-theory/aerokit/internal/expr"
	"github.com/pay-theory/aerokit/pkg/errors"
)

const maxDecodeDepth = 128

var metaConstructors = map[Op]func() Expr{
	OpKeyExists:   KeyExists,
	OpSetName:     SetName,
	OpRecordSize:  RecordSize,
	OpDeviceSize:  DeviceSize,
	OpMemorySize:  MemorySize,
	OpLastUpdate:  LastUpdate,
	OpSinceUpdate: SinceUpdate,
	OpVoidTime:    VoidTime,
	OpTTL:         TTL,
	OpIsTombstone: IsTombstone,
}

func operatorNodeKind(op Op) (NodeKind, bool) {
	switch {
	case op >= OpEQ && op <= OpLE, op == OpGeo:
		return NodeComparison, true
	case op >= OpAnd && op <= OpXor:
		return NodeLogical, true
	case op >= OpAdd && op <= OpToFloat, op == OpMin, op == OpMax:
		return NodeNumeric, true
	case op >= OpIntAnd && op <= OpIntRScan:
		return NodeBitwise, true
	}
	return NodeInvalid, false
}

// Decode parses an encoded expression back into an Expr. Every node is rebuilt
// through its constructor, so the result is checked exactly like one built by
// hand. Unbound variables are reported by Encode and Build, not here.
func Decode(data []byte) (Expr, error) {
	d := &decoder{u: expr.NewUnpacker(data)}
	e, err := d.expr(0)
	if err != nil {
		return Expr{}, err
	}
	if _, err := d.u.Peek(); err != io.EOF {
		return Expr{}, errors.Newf(errors.ErrInvalidArgument, "trailing bytes after expression")
	}
	if err := e.Err(); err != nil {
		return Expr{}, err
	}
	return e, nil
}

type decoder struct {
	u *expr.Unpacker
}

func malformed(format string, args ...any) error {
	return errors.Newf(errors.ErrInvalidArgument, "malformed expression: "+format, args...)
}

func (d *decoder) expr(depth int) (Expr, error) {
	if depth > maxDecodeDepth {
		return Expr{}, malformed("nesting deeper than %d", maxDecodeDepth)
	}
	tok, err := d.u.Peek()
	if err != nil {
		return Expr{}, malformed("%v", err)
	}
	if tok != expr.TokenArray {
		v, err := d.u.Value()
		if err != nil {
			return Expr{}, malformed("%v", err)
		}
		return ValueOf(v), nil
	}

	n, err := d.u.ArrayHeader()
	if err != nil {
		return Expr{}, malformed("%v", err)
	}
	if n == 0 {
		return Expr{}, malformed("empty node")
	}
	code, err := d.u.Int()
	if err != nil {
		return Expr{}, malformed("node does not start with an operation code: %v", err)
	}
	op := Op(code)
	args := n - 1

	switch op {
	case OpQuoted:
		if args != 1 {
			return Expr{}, malformed("quoted value with %d elements", args)
		}
		v, err := d.u.Value()
		if err != nil {
			return Expr{}, malformed("%v", err)
		}
		return ValueOf(v), nil

	case OpBin:
		if args != 2 {
			return Expr{}, malformed("bin with %d arguments", args)
		}
		k, err := d.kind()
		if err != nil {
			return Expr{}, err
		}
		name, err := d.u.Identifier()
		if err != nil {
			return Expr{}, malformed("%v", err)
		}
		return bin(name, k), nil

	case OpBinType, OpVar:
		if args != 1 {
			return Expr{}, malformed("%s with %d arguments", op, args)
		}
		name, err := d.u.Identifier()
		if err != nil {
			return Expr{}, malformed("%v", err)
		}
		if op == OpVar {
			return Var(name), nil
		}
		return BinType(name), nil

	case OpKey:
		if args != 1 {
			return Expr{}, malformed("key with %d arguments", args)
		}
		k, err := d.kind()
		if err != nil {
			return Expr{}, err
		}
		return Key(k), nil

	case OpDigestModulo:
		if args != 1 {
			return Expr{}, malformed("digest_modulo with %d arguments", args)
		}
		mod, err := d.u.Int()
		if err != nil {
			return Expr{}, malformed("%v", err)
		}
		return DigestModulo(mod), nil

	case OpRegex:
		if args != 3 {
			return Expr{}, malformed("regex_compare with %d arguments", args)
		}
		flags, err := d.u.Int()
		if err != nil {
			return Expr{}, malformed("%v", err)
		}
		pattern, err := d.u.Identifier()
		if err != nil {
			return Expr{}, malformed("%v", err)
		}
		target, err := d.expr(depth + 1)
		if err != nil {
			return Expr{}, err
		}
		return RegexCompare(pattern, RegexFlags(flags), target), nil

	case OpCond:
		ops, err := d.operands(args, depth)
		if err != nil {
			return Expr{}, err
		}
		if len(ops) == 0 {
			return Expr{}, malformed("cond without default")
		}
		return Cond(ops[:len(ops)-1], ops[len(ops)-1]), nil

	case OpLet:
		if args < 1 || args%2 != 1 {
			return Expr{}, malformed("let with %d arguments", args)
		}
		bindings := make([]Binding, 0, args/2)
		for i := 0; i < args/2; i++ {
			name, err := d.u.Identifier()
			if err != nil {
				return Expr{}, malformed("let binding name: %v", err)
			}
			value, err := d.expr(depth + 1)
			if err != nil {
				return Expr{}, err
			}
			bindings = append(bindings, Def(name, value))
		}
		body, err := d.expr(depth + 1)
		if err != nil {
			return Expr{}, err
		}
		return Let(bindings, body), nil
	}

	if ctor, ok := metaConstructors[op]; ok {
		if args != 0 {
			return Expr{}, malformed("%s with %d arguments", op, args)
		}
		return ctor(), nil
	}

	nk, ok := operatorNodeKind(op)
	if !ok {
		return Expr{}, errors.Newf(errors.ErrUnsupportedExpression, "unknown operation code %d", code)
	}
	ops, err := d.operands(args, depth)
	if err != nil {
		return Expr{}, err
	}
	return operator(nk, op, ops...), nil
}

func (d *decoder) operands(n, depth int) ([]Expr, error) {
	ops := make([]Expr, 0, n)
	for i := 0; i < n; i++ {
		e, err := d.expr(depth + 1)
		if err != nil {
			return nil, err
		}
		ops = append(ops, e)
	}
	return ops, nil
}

func (d *decoder) kind() (Kind, error) {
	code, err := d.u.Int()
	if err != nil {
		return KindNil, malformed("%v", err)
	}
	k := Kind(code)
	if !k.wire() || k == KindNil {
		return KindNil, malformed("invalid type code %d", code)
	}
	return k, nil
}
