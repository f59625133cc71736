package exp

import (
	"github.com/pay-theory/aerokit/pkg/errors"
)

type arity struct {
	min, max int // max < 0 means variadic
}

var operatorArity = map[Op]arity{
	OpEQ: {2, 2}, OpNE: {2, 2}, OpGT: {2, 2}, OpGE: {2, 2}, OpLT: {2, 2}, OpLE: {2, 2}, OpGeo: {2, 2},
	OpAnd: {1, -1}, OpOr: {1, -1}, OpXor: {1, -1}, OpNot: {1, 1},
	OpAdd: {2, -1}, OpMul: {2, -1}, OpSub: {1, -1}, OpDiv: {1, -1},
	OpMin: {2, -1}, OpMax: {2, -1},
	OpPow: {2, 2}, OpLog: {2, 2}, OpMod: {2, 2},
	OpAbs: {1, 1}, OpFloor: {1, 1}, OpCeil: {1, 1}, OpToInt: {1, 1}, OpToFloat: {1, 1},
	OpIntAnd: {2, -1}, OpIntOr: {2, -1}, OpIntXor: {2, -1},
	OpIntNot: {1, 1}, OpIntCount: {1, 1},
	OpIntLShift: {2, 2}, OpIntRShift: {2, 2}, OpIntARShift: {2, 2},
	OpIntLScan: {2, 2}, OpIntRScan: {2, 2},
}

func checkArity(op Op, n int) error {
	a, ok := operatorArity[op]
	if !ok {
		return nil
	}
	if n < a.min || (a.max >= 0 && n > a.max) {
		if a.max < 0 {
			return errors.Newf(errors.ErrArity, "%s takes at least %d operands, got %d", op, a.min, n)
		}
		if a.min == a.max {
			return errors.Newf(errors.ErrArity, "%s takes %d operands, got %d", op, a.min, n)
		}
		return errors.Newf(errors.ErrArity, "%s takes %d to %d operands, got %d", op, a.min, a.max, n)
	}
	return nil
}

// unify returns the common kind of a and b. KindAny unifies with anything.
func unify(a, b Kind) (Kind, bool) {
	switch {
	case a == KindAny:
		return b, true
	case b == KindAny:
		return a, true
	case a == b:
		return a, true
	}
	return a, false
}

func orderable(k Kind) bool {
	switch k {
	case KindInt, KindFloat, KindString, KindBlob, KindList, KindMap, KindAny:
		return true
	}
	return false
}

func mismatch(op Op, i int, got, want Kind) error {
	return errors.Newf(errors.ErrTypeMismatch, "%s: operand %d is %s, want %s", op, i, got, want)
}

func rejectMarkers(op Op, kinds []Kind) error {
	for i, k := range kinds {
		if k == KindMarker {
			return errors.Newf(errors.ErrUnsupportedExpression, "%s: operand %d is an infinity/wildcard marker, which is only valid inside list and map values", op, i)
		}
	}
	return nil
}

// expectAll checks every operand against want and returns want.
func expectAll(op Op, kinds []Kind, want Kind) (Kind, error) {
	for i, k := range kinds {
		if _, ok := unify(k, want); !ok {
			return KindNil, mismatch(op, i, k, want)
		}
	}
	return want, nil
}

// sameNumeric requires all operands to share one numeric kind and returns it.
func sameNumeric(op Op, kinds []Kind, allowed ...Kind) (Kind, error) {
	common := KindAny
	for i, k := range kinds {
		u, ok := unify(common, k)
		if !ok {
			return KindNil, mismatch(op, i, k, common)
		}
		common = u
	}
	if common == KindAny {
		return KindAny, nil
	}
	for _, a := range allowed {
		if common == a {
			return common, nil
		}
	}
	return KindNil, errors.Newf(errors.ErrTypeMismatch, "%s: operands are %s, want one of %v", op, common, allowed)
}

// operatorKind validates operand kinds for an operator node and returns the result kind.
func operatorKind(op Op, kinds []Kind) (Kind, error) {
	if err := checkArity(op, len(kinds)); err != nil {
		return KindNil, err
	}
	if err := rejectMarkers(op, kinds); err != nil {
		return KindNil, err
	}

	switch op {
	case OpEQ, OpNE:
		for i, k := range kinds {
			if k == KindHLL {
				return KindNil, errors.Newf(errors.ErrUnsupportedExpression, "%s: operand %d is an hll value, which cannot be compared", op, i)
			}
		}
		if kinds[0] == KindNil || kinds[1] == KindNil {
			return KindBool, nil
		}
		if _, ok := unify(kinds[0], kinds[1]); !ok {
			return KindNil, mismatch(op, 1, kinds[1], kinds[0])
		}
		return KindBool, nil

	case OpGT, OpGE, OpLT, OpLE:
		common, ok := unify(kinds[0], kinds[1])
		if !ok {
			return KindNil, mismatch(op, 1, kinds[1], kinds[0])
		}
		if !orderable(common) {
			return KindNil, errors.Newf(errors.ErrTypeMismatch, "%s: %s values are not ordered", op, common)
		}
		return KindBool, nil

	case OpGeo:
		if _, err := expectAll(op, kinds, KindGeo); err != nil {
			return KindNil, err
		}
		return KindBool, nil

	case OpAnd, OpOr, OpXor, OpNot:
		return expectAll(op, kinds, KindBool)

	case OpAdd, OpSub, OpMul, OpDiv, OpMin, OpMax, OpAbs:
		return sameNumeric(op, kinds, KindInt, KindFloat)

	case OpMod:
		return expectAll(op, kinds, KindInt)

	case OpPow, OpLog, OpFloor, OpCeil:
		return expectAll(op, kinds, KindFloat)

	case OpToInt:
		if _, err := expectAll(op, kinds, KindFloat); err != nil {
			return KindNil, err
		}
		return KindInt, nil

	case OpToFloat:
		if _, err := expectAll(op, kinds, KindInt); err != nil {
			return KindNil, err
		}
		return KindFloat, nil

	case OpIntAnd, OpIntOr, OpIntXor, OpIntNot, OpIntLShift, OpIntRShift, OpIntARShift, OpIntCount:
		return expectAll(op, kinds, KindInt)

	case OpIntLScan, OpIntRScan:
		if _, ok := unify(kinds[0], KindInt); !ok {
			return KindNil, mismatch(op, 0, kinds[0], KindInt)
		}
		if _, ok := unify(kinds[1], KindBool); !ok {
			return KindNil, mismatch(op, 1, kinds[1], KindBool)
		}
		return KindInt, nil
	}

	return KindNil, errors.Newf(errors.ErrUnsupportedExpression, "unknown operator %s", op)
}

// condKind validates flattened branches plus default and returns the result kind.
func condKind(kinds []Kind) (Kind, error) {
	branches := kinds[:len(kinds)-1]
	result := kinds[len(kinds)-1]
	if result == KindMarker {
		return KindNil, errors.Newf(errors.ErrUnsupportedExpression, "cond: default is an infinity/wildcard marker")
	}
	for i := 0; i < len(branches); i += 2 {
		if _, ok := unify(branches[i], KindBool); !ok {
			return KindNil, errors.Newf(errors.ErrTypeMismatch, "cond: branch %d predicate is %s, want bool", i/2, branches[i])
		}
		u, ok := unify(result, branches[i+1])
		if !ok {
			return KindNil, errors.Newf(errors.ErrTypeMismatch, "cond: branch %d value is %s, want %s", i/2, branches[i+1], result)
		}
		result = u
	}
	return result, nil
}

// infer recomputes the kind of e with variable kinds taken from env. Unbound
// variables stay KindAny.
func infer(e Expr, env map[string]Kind) (Kind, error) {
	n := e.n
	if n.err != nil {
		return KindNil, n.err
	}
	if len(n.free) == 0 {
		return n.kind, nil
	}

	switch n.nodeKind {
	case NodeVar:
		if k, ok := env[n.name]; ok {
			return k, nil
		}
		return KindAny, nil

	case NodeLet:
		return inferLet(n.bindings, n.operands[0], env)

	case NodePattern:
		k, err := infer(n.operands[0], env)
		if err != nil {
			return KindNil, err
		}
		if _, ok := unify(k, KindString); !ok {
			return KindNil, mismatch(OpRegex, 0, k, KindString)
		}
		return KindBool, nil
	}

	kinds := make([]Kind, len(n.operands))
	for i, op := range n.operands {
		k, err := infer(op, env)
		if err != nil {
			return KindNil, err
		}
		kinds[i] = k
	}
	if n.nodeKind == NodeCond {
		return condKind(kinds)
	}
	return operatorKind(n.op, kinds)
}

// inferLet types bindings in order, each seeing the ones before it, then the body.
func inferLet(bindings []Binding, body Expr, env map[string]Kind) (Kind, error) {
	scope := make(map[string]Kind, len(env)+len(bindings))
	for k, v := range env {
		scope[k] = v
	}
	for _, b := range bindings {
		k, err := infer(b.Value, scope)
		if err != nil {
			return KindNil, err
		}
		scope[b.Name] = k
	}
	return infer(body, scope)
}
