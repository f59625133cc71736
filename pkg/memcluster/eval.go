package memcluster

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"math"
	"math/bits"
	"regexp"
	"time"

	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/exp"
	"github.com/pay-theory/aerokit/pkg/types"
)

// errUnknown marks a subexpression whose value cannot be determined, such as
// a missing bin or a bin of another type. It propagates through logical
// operators the way the server does; a filter that ends unknown does not match.
var errUnknown = stderrors.New("unknown")

// evalError aborts evaluation with a result code
type evalError struct {
	code errors.ResultCode
	msg  string
}

func (e *evalError) Error() string { return e.msg }

func fail(code errors.ResultCode, format string, args ...any) error {
	return &evalError{code: code, msg: fmt.Sprintf(format, args...)}
}

// filter is a decoded filter expression
type filter struct {
	root    exp.Expr
	regexps map[string]*regexp.Regexp
}

// compileFilter decodes wire bytes. Empty input means no filter.
func compileFilter(data []byte) (*filter, errors.ResultCode) {
	if len(data) == 0 {
		return nil, errors.ResultOK
	}
	root, err := exp.Decode(data)
	if err != nil {
		return nil, errors.ResultParameter
	}
	if root.Kind() != exp.KindBool && root.Kind() != exp.KindAny {
		return nil, errors.ResultParameter
	}
	return &filter{root: root, regexps: make(map[string]*regexp.Regexp)}, errors.ResultOK
}

// check returns ResultFilteredOut when e does not pass the filter. A nil
// filter passes everything.
func (f *filter) check(e *entry, now time.Time) errors.ResultCode {
	ok, err := f.match(e, now)
	if err != nil {
		var ee *evalError
		if stderrors.As(err, &ee) {
			return ee.code
		}
		return errors.ResultParameter
	}
	if !ok {
		return errors.ResultFilteredOut
	}
	return errors.ResultOK
}

func (f *filter) match(e *entry, now time.Time) (bool, error) {
	if f == nil {
		return true, nil
	}
	ev := &evaluator{f: f, e: e, now: now}
	v, err := ev.eval(f.root, nil)
	if stderrors.Is(err, errUnknown) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v.AsBool(), nil
}

// scope is a linked list of let bindings
type scope struct {
	name   string
	value  types.Value
	parent *scope
}

func (s *scope) lookup(name string) (types.Value, bool) {
	for ; s != nil; s = s.parent {
		if s.name == name {
			return s.value, true
		}
	}
	return types.Value{}, false
}

type evaluator struct {
	f   *filter
	e   *entry
	now time.Time
}

var kindTypes = map[exp.Kind]types.ValueType{
	exp.KindNil:    types.NilType,
	exp.KindBool:   types.BoolType,
	exp.KindInt:    types.IntType,
	exp.KindString: types.StringType,
	exp.KindList:   types.ListType,
	exp.KindMap:    types.MapType,
	exp.KindBlob:   types.BlobType,
	exp.KindFloat:  types.FloatType,
	exp.KindGeo:    types.GeoJSONType,
	exp.KindHLL:    types.HLLType,
}

func kindMatches(k exp.Kind, t types.ValueType) bool {
	if k == exp.KindAny {
		return true
	}
	want, ok := kindTypes[k]
	return ok && want == t
}

func (ev *evaluator) eval(x exp.Expr, sc *scope) (types.Value, error) {
	switch x.NodeKind() {
	case exp.NodeLiteral:
		return x.Value(), nil

	case exp.NodeBin:
		v, ok := ev.e.bins[x.Name()]
		if !ok || !kindMatches(x.Kind(), v.Type()) {
			return types.Value{}, errUnknown
		}
		return v, nil

	case exp.NodeBinType:
		v, ok := ev.e.bins[x.Name()]
		if !ok {
			return types.IntValue(0), nil
		}
		return types.IntValue(int64(v.Type().Particle())), nil

	case exp.NodeMeta:
		return ev.meta(x)

	case exp.NodeVar:
		v, ok := sc.lookup(x.Name())
		if !ok {
			return types.Value{}, fail(errors.ResultParameter, "undefined variable %q", x.Name())
		}
		return v, nil

	case exp.NodeComparison:
		return ev.compare(x, sc)

	case exp.NodePattern:
		return ev.regex(x, sc)

	case exp.NodeLogical:
		return ev.logical(x, sc)

	case exp.NodeNumeric:
		return ev.numeric(x, sc)

	case exp.NodeBitwise:
		return ev.bitwise(x, sc)

	case exp.NodeCond:
		ops := x.Operands()
		for i := 0; i+1 < len(ops); i += 2 {
			p, err := ev.eval(ops[i], sc)
			if err != nil {
				return types.Value{}, err
			}
			if p.AsBool() {
				return ev.eval(ops[i+1], sc)
			}
		}
		return ev.eval(ops[len(ops)-1], sc)

	case exp.NodeLet:
		inner := sc
		for _, b := range x.Bindings() {
			v, err := ev.eval(b.Value, inner)
			if err != nil {
				return types.Value{}, err
			}
			inner = &scope{name: b.Name, value: v, parent: inner}
		}
		return ev.eval(x.Operands()[0], inner)
	}
	return types.Value{}, fail(errors.ResultParameter, "cannot evaluate %s node", x.NodeKind())
}

func (ev *evaluator) meta(x exp.Expr) (types.Value, error) {
	e := ev.e
	switch x.Op() {
	case exp.OpKey:
		if !e.keyStored || !kindMatches(x.Kind(), e.userKey.Type()) {
			return types.Value{}, errUnknown
		}
		return e.userKey, nil
	case exp.OpKeyExists:
		return types.BoolValue(e.keyStored), nil
	case exp.OpSetName:
		return types.StringValue(e.set), nil
	case exp.OpRecordSize, exp.OpDeviceSize, exp.OpMemorySize:
		return types.IntValue(e.size()), nil
	case exp.OpLastUpdate:
		return types.IntValue(e.lastUpdate.UnixNano()), nil
	case exp.OpSinceUpdate:
		return types.IntValue(ev.now.Sub(e.lastUpdate).Milliseconds()), nil
	case exp.OpVoidTime:
		if e.voidTime == 0 {
			return types.IntValue(-1), nil
		}
		return types.IntValue(time.Unix(int64(e.voidTime)+types.CitrusleafEpoch, 0).UnixNano()), nil
	case exp.OpTTL:
		if e.voidTime == 0 {
			return types.IntValue(-1), nil
		}
		return types.IntValue(int64(e.voidTime) - int64(voidTimeAt(ev.now))), nil
	case exp.OpIsTombstone:
		return types.BoolValue(false), nil
	case exp.OpDigestModulo:
		mod := x.Arg()
		if mod <= 0 {
			return types.Value{}, fail(errors.ResultParameter, "digest modulo %d", mod)
		}
		return types.IntValue(int64(binary.LittleEndian.Uint32(e.digest[8:12])) % mod), nil
	}
	return types.Value{}, fail(errors.ResultUnsupportedFeature, "unsupported metadata %s", x.Op())
}

func (ev *evaluator) operands(x exp.Expr, sc *scope) ([]types.Value, error) {
	ops := x.Operands()
	out := make([]types.Value, len(ops))
	for i, o := range ops {
		v, err := ev.eval(o, sc)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (ev *evaluator) compare(x exp.Expr, sc *scope) (types.Value, error) {
	if x.Op() == exp.OpGeo {
		return types.Value{}, fail(errors.ResultUnsupportedFeature, "geo comparisons are not supported")
	}
	vs, err := ev.operands(x, sc)
	if err != nil {
		return types.Value{}, err
	}
	a, b := vs[0], vs[1]
	if a.Type() != b.Type() {
		return types.Value{}, errUnknown
	}

	switch x.Op() {
	case exp.OpEQ:
		return types.BoolValue(a.Equal(b)), nil
	case exp.OpNE:
		return types.BoolValue(!a.Equal(b)), nil
	}
	c := types.Compare(a, b)
	switch x.Op() {
	case exp.OpGT:
		return types.BoolValue(c > 0), nil
	case exp.OpGE:
		return types.BoolValue(c >= 0), nil
	case exp.OpLT:
		return types.BoolValue(c < 0), nil
	case exp.OpLE:
		return types.BoolValue(c <= 0), nil
	}
	return types.Value{}, fail(errors.ResultParameter, "unknown comparison %s", x.Op())
}

func (ev *evaluator) regex(x exp.Expr, sc *scope) (types.Value, error) {
	target, err := ev.eval(x.Operands()[0], sc)
	if err != nil {
		return types.Value{}, err
	}
	if target.Type() != types.StringType {
		return types.Value{}, errUnknown
	}
	re, err := ev.f.compileRegex(x.Name(), exp.RegexFlags(x.Arg()))
	if err != nil {
		return types.Value{}, err
	}
	return types.BoolValue(re.MatchString(target.AsString())), nil
}

// compileRegex maps POSIX flags onto RE2: ICASE is (?i); without NEWLINE a
// dot also matches line breaks, with it ^ and $ match at every line.
func (f *filter) compileRegex(pattern string, flags exp.RegexFlags) (*regexp.Regexp, error) {
	prefix := "(?s)"
	if flags&exp.RegexNewline != 0 {
		prefix = "(?m)"
	}
	if flags&exp.RegexICase != 0 {
		prefix += "(?i)"
	}
	src := prefix + pattern
	if re, ok := f.regexps[src]; ok {
		return re, nil
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fail(errors.ResultParameter, "bad regex %q: %v", pattern, err)
	}
	f.regexps[src] = re
	return re, nil
}

func (ev *evaluator) logical(x exp.Expr, sc *scope) (types.Value, error) {
	ops := x.Operands()
	switch x.Op() {
	case exp.OpNot:
		v, err := ev.eval(ops[0], sc)
		if err != nil {
			return types.Value{}, err
		}
		return types.BoolValue(!v.AsBool()), nil

	case exp.OpAnd, exp.OpOr:
		// and stops at the first false, or at the first true
		stopAt := x.Op() == exp.OpOr
		unknown := false
		for _, o := range ops {
			v, err := ev.eval(o, sc)
			if stderrors.Is(err, errUnknown) {
				unknown = true
				continue
			}
			if err != nil {
				return types.Value{}, err
			}
			if v.AsBool() == stopAt {
				return types.BoolValue(stopAt), nil
			}
		}
		if unknown {
			return types.Value{}, errUnknown
		}
		return types.BoolValue(!stopAt), nil

	case exp.OpXor:
		vs, err := ev.operands(x, sc)
		if err != nil {
			return types.Value{}, err
		}
		n := 0
		for _, v := range vs {
			if v.AsBool() {
				n++
			}
		}
		return types.BoolValue(n%2 == 1), nil
	}
	return types.Value{}, fail(errors.ResultParameter, "unknown logical operator %s", x.Op())
}

func (ev *evaluator) numeric(x exp.Expr, sc *scope) (types.Value, error) {
	vs, err := ev.operands(x, sc)
	if err != nil {
		return types.Value{}, err
	}
	for _, v := range vs {
		if v.Type() != types.IntType && v.Type() != types.FloatType {
			return types.Value{}, errUnknown
		}
	}
	isFloat := vs[0].Type() == types.FloatType
	for _, v := range vs[1:] {
		if (v.Type() == types.FloatType) != isFloat {
			switch x.Op() {
			case exp.OpToInt, exp.OpToFloat:
			default:
				return types.Value{}, errUnknown
			}
		}
	}

	switch x.Op() {
	case exp.OpAdd, exp.OpSub, exp.OpMul, exp.OpDiv:
		if isFloat {
			return foldFloat(x.Op(), vs)
		}
		return foldInt(x.Op(), vs)

	case exp.OpMin, exp.OpMax:
		best := vs[0]
		for _, v := range vs[1:] {
			c := types.Compare(v, best)
			if (x.Op() == exp.OpMin && c < 0) || (x.Op() == exp.OpMax && c > 0) {
				best = v
			}
		}
		return best, nil

	case exp.OpMod:
		if vs[1].AsInt() == 0 {
			return types.Value{}, errUnknown
		}
		return types.IntValue(vs[0].AsInt() % vs[1].AsInt()), nil

	case exp.OpAbs:
		if isFloat {
			return types.FloatValue(math.Abs(vs[0].AsFloat())), nil
		}
		n := vs[0].AsInt()
		if n < 0 {
			n = -n
		}
		return types.IntValue(n), nil

	case exp.OpPow:
		return types.FloatValue(math.Pow(vs[0].AsFloat(), vs[1].AsFloat())), nil
	case exp.OpLog:
		return types.FloatValue(math.Log(vs[0].AsFloat()) / math.Log(vs[1].AsFloat())), nil
	case exp.OpFloor:
		return types.FloatValue(math.Floor(vs[0].AsFloat())), nil
	case exp.OpCeil:
		return types.FloatValue(math.Ceil(vs[0].AsFloat())), nil
	case exp.OpToInt:
		return types.IntValue(int64(vs[0].AsFloat())), nil
	case exp.OpToFloat:
		return types.FloatValue(float64(vs[0].AsInt())), nil
	}
	return types.Value{}, fail(errors.ResultParameter, "unknown numeric operator %s", x.Op())
}

func foldInt(op exp.Op, vs []types.Value) (types.Value, error) {
	if len(vs) == 1 {
		n := vs[0].AsInt()
		switch op {
		case exp.OpSub:
			return types.IntValue(-n), nil
		case exp.OpDiv:
			if n == 0 {
				return types.Value{}, errUnknown
			}
			return types.IntValue(1 / n), nil
		}
		return vs[0], nil
	}
	acc := vs[0].AsInt()
	for _, v := range vs[1:] {
		n := v.AsInt()
		switch op {
		case exp.OpAdd:
			acc += n
		case exp.OpSub:
			acc -= n
		case exp.OpMul:
			acc *= n
		case exp.OpDiv:
			if n == 0 {
				return types.Value{}, errUnknown
			}
			acc /= n
		}
	}
	return types.IntValue(acc), nil
}

func foldFloat(op exp.Op, vs []types.Value) (types.Value, error) {
	if len(vs) == 1 {
		f := vs[0].AsFloat()
		switch op {
		case exp.OpSub:
			return types.FloatValue(-f), nil
		case exp.OpDiv:
			return types.FloatValue(1 / f), nil
		}
		return vs[0], nil
	}
	acc := vs[0].AsFloat()
	for _, v := range vs[1:] {
		f := v.AsFloat()
		switch op {
		case exp.OpAdd:
			acc += f
		case exp.OpSub:
			acc -= f
		case exp.OpMul:
			acc *= f
		case exp.OpDiv:
			acc /= f
		}
	}
	return types.FloatValue(acc), nil
}

func (ev *evaluator) bitwise(x exp.Expr, sc *scope) (types.Value, error) {
	vs, err := ev.operands(x, sc)
	if err != nil {
		return types.Value{}, err
	}
	if vs[0].Type() != types.IntType {
		return types.Value{}, errUnknown
	}
	v := vs[0].AsInt()

	switch x.Op() {
	case exp.OpIntAnd, exp.OpIntOr, exp.OpIntXor:
		acc := v
		for _, o := range vs[1:] {
			if o.Type() != types.IntType {
				return types.Value{}, errUnknown
			}
			switch x.Op() {
			case exp.OpIntAnd:
				acc &= o.AsInt()
			case exp.OpIntOr:
				acc |= o.AsInt()
			case exp.OpIntXor:
				acc ^= o.AsInt()
			}
		}
		return types.IntValue(acc), nil
	case exp.OpIntNot:
		return types.IntValue(^v), nil
	case exp.OpIntCount:
		return types.IntValue(int64(bits.OnesCount64(uint64(v)))), nil
	case exp.OpIntLShift:
		return types.IntValue(v << uint64(vs[1].AsInt()&63)), nil
	case exp.OpIntRShift:
		return types.IntValue(int64(uint64(v) >> uint64(vs[1].AsInt()&63))), nil
	case exp.OpIntARShift:
		return types.IntValue(v >> uint64(vs[1].AsInt()&63)), nil
	case exp.OpIntLScan, exp.OpIntRScan:
		u := uint64(v)
		if !vs[1].AsBool() {
			u = ^u
		}
		if u == 0 {
			return types.IntValue(-1), nil
		}
		if x.Op() == exp.OpIntLScan {
			return types.IntValue(int64(bits.LeadingZeros64(u))), nil
		}
		return types.IntValue(int64(63 - bits.TrailingZeros64(u))), nil
	}
	return types.Value{}, fail(errors.ResultParameter, "unknown bitwise operator %s", x.Op())
}
