package exp

import (
	"github.com/pay-theory/aerokit/internal/expr"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/types"
	"github.com/pay-theory/aerokit/pkg/validation"
)

func literal(kind Kind, v types.Value) Expr {
	if err := validation.ValidateValue(v); err != nil {
		return invalid(err)
	}
	return Expr{n: &node{nodeKind: NodeLiteral, kind: kind, value: v}}
}

// IntVal creates a 64-bit integer literal.
func IntVal(v int64) Expr { return literal(KindInt, types.IntValue(v)) }

// FloatVal creates a 64-bit float literal.
func FloatVal(v float64) Expr { return literal(KindFloat, types.FloatValue(v)) }

// StringVal creates a string literal.
func StringVal(v string) Expr { return literal(KindString, types.StringValue(v)) }

// BoolVal creates a boolean literal.
func BoolVal(v bool) Expr { return literal(KindBool, types.BoolValue(v)) }

// BlobVal creates a byte array literal.
func BlobVal(v []byte) Expr { return literal(KindBlob, types.BlobValue(v)) }

// GeoVal creates a GeoJSON literal.
func GeoVal(v string) Expr { return literal(KindGeo, types.GeoJSONValue(v)) }

// ListVal creates a list literal.
func ListVal(items ...types.Value) Expr { return literal(KindList, types.ListValue(items...)) }

// MapVal creates a map literal.
func MapVal(entries ...types.MapEntry) Expr { return literal(KindMap, types.MapValue(entries...)) }

// Nil creates a nil literal.
func Nil() Expr { return literal(KindNil, types.NilValue()) }

// Infinity creates the infinity marker used by list and map range operations.
func Infinity() Expr { return literal(KindMarker, types.InfinityValue()) }

// Wildcard creates the wildcard marker used by list and map range operations.
func Wildcard() Expr { return literal(KindMarker, types.WildcardValue()) }

// Val creates a literal from a Go value, inferring its kind.
func Val(v any) Expr {
	val, err := expr.ConvertToValue(v)
	if err != nil {
		return invalid(err)
	}
	return ValueOf(val)
}

// ValueOf creates a literal holding v.
func ValueOf(v types.Value) Expr {
	switch v.Type() {
	case types.NilType:
		return literal(KindNil, v)
	case types.BoolType:
		return literal(KindBool, v)
	case types.IntType:
		return literal(KindInt, v)
	case types.FloatType:
		return literal(KindFloat, v)
	case types.StringType:
		return literal(KindString, v)
	case types.BlobType:
		return literal(KindBlob, v)
	case types.ListType:
		return literal(KindList, v)
	case types.MapType:
		return literal(KindMap, v)
	case types.GeoJSONType:
		return literal(KindGeo, v)
	case types.InfinityType, types.WildcardType:
		return literal(KindMarker, v)
	}
	return invalid(errors.Newf(errors.ErrUnsupportedExpression, "%s values cannot be used as literals", v.Type()))
}

func bin(name string, kind Kind) Expr {
	if err := validation.ValidateBinName(name); err != nil {
		return invalid(err)
	}
	return Expr{n: &node{nodeKind: NodeBin, op: OpBin, kind: kind, name: name}}
}

// IntBin references an integer bin.
func IntBin(name string) Expr { return bin(name, KindInt) }

// FloatBin references a float bin.
func FloatBin(name string) Expr { return bin(name, KindFloat) }

// StringBin references a string bin.
func StringBin(name string) Expr { return bin(name, KindString) }

// BoolBin references a boolean bin.
func BoolBin(name string) Expr { return bin(name, KindBool) }

// BlobBin references a blob bin.
func BlobBin(name string) Expr { return bin(name, KindBlob) }

// ListBin references a list bin.
func ListBin(name string) Expr { return bin(name, KindList) }

// MapBin references a map bin.
func MapBin(name string) Expr { return bin(name, KindMap) }

// GeoBin references a GeoJSON bin.
func GeoBin(name string) Expr { return bin(name, KindGeo) }

// HLLBin references a HyperLogLog bin.
func HLLBin(name string) Expr { return bin(name, KindHLL) }

// BinType returns the particle type of a bin, zero when the bin is absent.
func BinType(name string) Expr {
	if err := validation.ValidateBinName(name); err != nil {
		return invalid(err)
	}
	return Expr{n: &node{nodeKind: NodeBinType, op: OpBinType, kind: KindInt, name: name}}
}

// BinExists is true when the bin is present.
func BinExists(name string) Expr {
	return NE(BinType(name), IntVal(0))
}

func meta(op Op, kind Kind) Expr {
	return Expr{n: &node{nodeKind: NodeMeta, op: op, kind: kind}}
}

// Key returns the stored user key. Only records written with SendKey have one.
func Key(kind Kind) Expr {
	switch kind {
	case KindInt, KindString, KindBlob:
		return meta(OpKey, kind)
	}
	return invalid(errors.Newf(errors.ErrTypeMismatch, "key: kind must be int, string or blob, got %s", kind))
}

// KeyExists is true when the record was stored with its user key.
func KeyExists() Expr { return meta(OpKeyExists, KindBool) }

// SetName returns the record's set name.
func SetName() Expr { return meta(OpSetName, KindString) }

// RecordSize returns the record size in bytes.
func RecordSize() Expr { return meta(OpRecordSize, KindInt) }

// DeviceSize returns the record's storage size on device.
func DeviceSize() Expr { return meta(OpDeviceSize, KindInt) }

// MemorySize returns the record's in-memory size.
func MemorySize() Expr { return meta(OpMemorySize, KindInt) }

// LastUpdate returns the last update time in nanoseconds since the Unix epoch.
func LastUpdate() Expr { return meta(OpLastUpdate, KindInt) }

// SinceUpdate returns milliseconds since the last update.
func SinceUpdate() Expr { return meta(OpSinceUpdate, KindInt) }

// VoidTime returns the expiration time in nanoseconds since the Unix epoch, -1 for none.
func VoidTime() Expr { return meta(OpVoidTime, KindInt) }

// TTL returns the remaining time to live in seconds.
func TTL() Expr { return meta(OpTTL, KindInt) }

// IsTombstone is true for durable-delete tombstones.
func IsTombstone() Expr { return meta(OpIsTombstone, KindBool) }

// DigestModulo returns the record digest modulo mod.
func DigestModulo(mod int64) Expr {
	if mod <= 0 {
		return invalid(errors.Newf(errors.ErrInvalidArgument, "digest_modulo: modulus must be positive, got %d", mod))
	}
	return Expr{n: &node{nodeKind: NodeMeta, op: OpDigestModulo, kind: KindInt, arg: mod}}
}

// operator builds a comparison, logical, numeric or bitwise node.
func operator(nk NodeKind, op Op, operands ...Expr) Expr {
	if err := firstErr(operands...); err != nil {
		return invalid(err)
	}
	kinds := make([]Kind, len(operands))
	free := make([][]string, len(operands))
	for i, o := range operands {
		kinds[i] = o.n.kind
		free[i] = o.n.free
	}
	kind, err := operatorKind(op, kinds)
	if err != nil {
		return invalid(err)
	}
	ops := make([]Expr, len(operands))
	copy(ops, operands)
	return Expr{n: &node{nodeKind: nk, op: op, kind: kind, operands: ops, free: mergeFree(free...)}}
}

// Comparisons

func EQ(left, right Expr) Expr { return operator(NodeComparison, OpEQ, left, right) }
func NE(left, right Expr) Expr { return operator(NodeComparison, OpNE, left, right) }
func GT(left, right Expr) Expr { return operator(NodeComparison, OpGT, left, right) }
func GE(left, right Expr) Expr { return operator(NodeComparison, OpGE, left, right) }
func LT(left, right Expr) Expr { return operator(NodeComparison, OpLT, left, right) }
func LE(left, right Expr) Expr { return operator(NodeComparison, OpLE, left, right) }

// GeoCompare is true when left and right GeoJSON regions intersect or contain each other.
func GeoCompare(left, right Expr) Expr { return operator(NodeComparison, OpGeo, left, right) }

// Logical operators. Operand order is kept on the wire.

func And(exprs ...Expr) Expr { return operator(NodeLogical, OpAnd, exprs...) }
func Or(exprs ...Expr) Expr  { return operator(NodeLogical, OpOr, exprs...) }
func Xor(exprs ...Expr) Expr { return operator(NodeLogical, OpXor, exprs...) }
func Not(e Expr) Expr        { return operator(NodeLogical, OpNot, e) }

// Numeric operators. Operands must all be int or all be float.

func NumAdd(exprs ...Expr) Expr { return operator(NodeNumeric, OpAdd, exprs...) }

// NumSub subtracts the remaining operands from the first; one operand negates it.
func NumSub(exprs ...Expr) Expr { return operator(NodeNumeric, OpSub, exprs...) }
func NumMul(exprs ...Expr) Expr { return operator(NodeNumeric, OpMul, exprs...) }

// NumDiv divides the first operand by the rest; one operand yields its reciprocal.
func NumDiv(exprs ...Expr) Expr { return operator(NodeNumeric, OpDiv, exprs...) }

// NumMod returns the integer remainder of numerator divided by denominator.
func NumMod(numerator, denominator Expr) Expr {
	return operator(NodeNumeric, OpMod, numerator, denominator)
}

func NumPow(base, exponent Expr) Expr { return operator(NodeNumeric, OpPow, base, exponent) }
func NumLog(num, base Expr) Expr      { return operator(NodeNumeric, OpLog, num, base) }
func NumAbs(value Expr) Expr          { return operator(NodeNumeric, OpAbs, value) }
func NumFloor(num Expr) Expr          { return operator(NodeNumeric, OpFloor, num) }
func NumCeil(num Expr) Expr           { return operator(NodeNumeric, OpCeil, num) }
func ToInt(num Expr) Expr             { return operator(NodeNumeric, OpToInt, num) }
func ToFloat(num Expr) Expr           { return operator(NodeNumeric, OpToFloat, num) }
func Min(exprs ...Expr) Expr          { return operator(NodeNumeric, OpMin, exprs...) }
func Max(exprs ...Expr) Expr          { return operator(NodeNumeric, OpMax, exprs...) }

// Bitwise operators on 64-bit integers.

func IntAnd(exprs ...Expr) Expr         { return operator(NodeBitwise, OpIntAnd, exprs...) }
func IntOr(exprs ...Expr) Expr          { return operator(NodeBitwise, OpIntOr, exprs...) }
func IntXor(exprs ...Expr) Expr         { return operator(NodeBitwise, OpIntXor, exprs...) }
func IntNot(e Expr) Expr                { return operator(NodeBitwise, OpIntNot, e) }
func IntLShift(value, shift Expr) Expr  { return operator(NodeBitwise, OpIntLShift, value, shift) }
func IntRShift(value, shift Expr) Expr  { return operator(NodeBitwise, OpIntRShift, value, shift) }
func IntARShift(value, shift Expr) Expr { return operator(NodeBitwise, OpIntARShift, value, shift) }
func IntCount(e Expr) Expr              { return operator(NodeBitwise, OpIntCount, e) }
func IntLScan(value, search Expr) Expr  { return operator(NodeBitwise, OpIntLScan, value, search) }
func IntRScan(value, search Expr) Expr  { return operator(NodeBitwise, OpIntRScan, value, search) }

// RegexCompare matches a string expression against a POSIX regular expression.
func RegexCompare(regex string, flags RegexFlags, target Expr) Expr {
	if err := target.Err(); err != nil {
		return invalid(err)
	}
	if err := validation.ValidateRegex(regex); err != nil {
		return invalid(err)
	}
	if flags < 0 || flags > RegexExtended|RegexICase|RegexNoSub|RegexNewline {
		return invalid(errors.Newf(errors.ErrInvalidArgument, "regex_compare: unknown flags %d", flags))
	}
	if _, ok := unify(target.n.kind, KindString); !ok {
		return invalid(mismatch(OpRegex, 0, target.n.kind, KindString))
	}
	return Expr{n: &node{
		nodeKind: NodePattern,
		op:       OpRegex,
		kind:     KindBool,
		name:     regex,
		arg:      int64(flags),
		operands: []Expr{target},
		free:     target.n.free,
	}}
}

// Cond evaluates branches in order and returns the value of the first branch
// whose predicate is true, or def. branches holds predicate/value pairs:
// (p1, v1, p2, v2, ...).
func Cond(branches []Expr, def Expr) Expr {
	if len(branches) == 0 {
		return invalid(errors.Newf(errors.ErrArity, "cond requires at least one branch"))
	}
	if len(branches)%2 != 0 {
		return invalid(errors.Newf(errors.ErrArity, "cond branches must be predicate/value pairs, got %d expressions", len(branches)))
	}
	operands := make([]Expr, 0, len(branches)+1)
	operands = append(operands, branches...)
	operands = append(operands, def)
	if err := firstErr(operands...); err != nil {
		return invalid(err)
	}

	kinds := make([]Kind, len(operands))
	free := make([][]string, len(operands))
	for i, o := range operands {
		kinds[i] = o.n.kind
		free[i] = o.n.free
	}
	kind, err := condKind(kinds)
	if err != nil {
		return invalid(err)
	}
	return Expr{n: &node{nodeKind: NodeCond, op: OpCond, kind: kind, operands: operands, free: mergeFree(free...)}}
}

// Def declares a Let binding.
func Def(name string, value Expr) Binding {
	return Binding{Name: name, Value: value}
}

// Let binds variables for use in body. Each binding may refer to the ones
// declared before it.
func Let(bindings []Binding, body Expr) Expr {
	if len(bindings) == 0 {
		return invalid(errors.Newf(errors.ErrArity, "let requires at least one binding"))
	}
	for _, b := range bindings {
		if err := validation.ValidateVarName(b.Name); err != nil {
			return invalid(err)
		}
		if err := b.Value.Err(); err != nil {
			return invalid(err)
		}
	}
	if err := body.Err(); err != nil {
		return invalid(err)
	}

	kind, err := inferLet(bindings, body, nil)
	if err != nil {
		return invalid(err)
	}

	// Walk the scopes from the inside out: a name is free in the body unless
	// some binding declares it, and free in binding i unless an earlier one does.
	free := body.n.free
	for i := len(bindings) - 1; i >= 0; i-- {
		free = withoutFree(free, bindings[i].Name)
		free = mergeFree(free, bindings[i].Value.n.free)
	}

	bs := make([]Binding, len(bindings))
	copy(bs, bindings)
	return Expr{n: &node{nodeKind: NodeLet, op: OpLet, kind: kind, bindings: bs, operands: []Expr{body}, free: free}}
}

// Var references a variable declared by an enclosing Let.
func Var(name string) Expr {
	if err := validation.ValidateVarName(name); err != nil {
		return invalid(err)
	}
	return Expr{n: &node{nodeKind: NodeVar, op: OpVar, kind: KindAny, name: name, free: []string{name}}}
}
