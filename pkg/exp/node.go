// Package exp builds server-side filter expressions and encodes them into the
// cluster's wire grammar.
//
// Constructors compose bottom-up and never fail outright: an invalid
// construction yields an Expr whose Err method reports the problem, and every
// expression built on top of it carries the same error. Build is the point
// where callers check.
//
//	f, err := exp.Build(exp.And(
//		exp.GT(exp.IntBin("age"), exp.IntVal(18)),
//		exp.EQ(exp.StringBin("status"), exp.StringVal("active")),
//	))
package exp

import (
	"slices"
	"strconv"
	"strings"

	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/types"
)

// Expr is an immutable expression node.
type Expr struct {
	n *node
}

// Binding is one name/value pair of a Let.
type Binding struct {
	Name  string
	Value Expr
}

type node struct {
	nodeKind NodeKind
	op       Op
	kind     Kind
	value    types.Value
	name     string
	arg      int64
	operands []Expr
	bindings []Binding
	free     []string
	err      error
}

func invalid(err error) Expr {
	return Expr{n: &node{nodeKind: NodeInvalid, err: err}}
}

// Err reports the construction error carried by the expression, if any.
func (e Expr) Err() error {
	if e.n == nil {
		return errors.Newf(errors.ErrInvalidArgument, "nil expression")
	}
	return e.n.err
}

// Valid reports whether the expression was constructed without error.
func (e Expr) Valid() bool {
	return e.Err() == nil
}

func (e Expr) NodeKind() NodeKind {
	if e.n == nil {
		return NodeInvalid
	}
	return e.n.nodeKind
}

// Op returns the operation code. Literals report zero.
func (e Expr) Op() Op {
	if e.n == nil {
		return 0
	}
	return e.n.op
}

// Kind returns the value kind the expression produces.
func (e Expr) Kind() Kind {
	if e.n == nil {
		return KindNil
	}
	return e.n.kind
}

// Value returns the literal value of a literal node.
func (e Expr) Value() types.Value {
	if e.n == nil {
		return types.NilValue()
	}
	return e.n.value
}

// Name returns the bin name, variable name or regex pattern.
func (e Expr) Name() string {
	if e.n == nil {
		return ""
	}
	return e.n.name
}

// Arg returns the integer argument of a node: regex flags or the digest modulus.
func (e Expr) Arg() int64 {
	if e.n == nil {
		return 0
	}
	return e.n.arg
}

// Operands returns the child expressions in construction order. For Cond the
// branches are flattened (predicate, value, ...) followed by the default; for
// Let the single operand is the body.
func (e Expr) Operands() []Expr {
	if e.n == nil {
		return nil
	}
	return slices.Clone(e.n.operands)
}

// Bindings returns the bindings of a Let node.
func (e Expr) Bindings() []Binding {
	if e.n == nil {
		return nil
	}
	return slices.Clone(e.n.bindings)
}

// FreeVars lists variables that are not bound by an enclosing Let.
func (e Expr) FreeVars() []string {
	if e.n == nil {
		return nil
	}
	return slices.Clone(e.n.free)
}

// Equal reports structural equality.
func Equal(a, b Expr) bool {
	if a.n == nil || b.n == nil {
		return a.n == b.n
	}
	if a.n == b.n {
		return true
	}
	x, y := a.n, b.n
	if x.err != nil || y.err != nil {
		return false
	}
	if x.nodeKind != y.nodeKind || x.op != y.op || x.kind != y.kind ||
		x.name != y.name || x.arg != y.arg || !x.value.Equal(y.value) {
		return false
	}
	if len(x.operands) != len(y.operands) || len(x.bindings) != len(y.bindings) {
		return false
	}
	for i := range x.operands {
		if !Equal(x.operands[i], y.operands[i]) {
			return false
		}
	}
	for i := range x.bindings {
		if x.bindings[i].Name != y.bindings[i].Name || !Equal(x.bindings[i].Value, y.bindings[i].Value) {
			return false
		}
	}
	return true
}

// String renders the expression in builder notation for logs and test output.
func (e Expr) String() string {
	var b strings.Builder
	e.format(&b)
	return b.String()
}

func (e Expr) format(b *strings.Builder) {
	n := e.n
	if n == nil {
		b.WriteString("<nil>")
		return
	}
	switch n.nodeKind {
	case NodeInvalid:
		b.WriteString("<invalid: " + n.err.Error() + ">")
	case NodeLiteral:
		b.WriteString(n.value.String())
	case NodeBin:
		b.WriteString(n.kind.String() + "_bin(" + strconv.Quote(n.name) + ")")
	case NodeBinType:
		b.WriteString("bin_type(" + strconv.Quote(n.name) + ")")
	case NodeVar:
		b.WriteString("var(" + strconv.Quote(n.name) + ")")
	case NodeMeta:
		b.WriteString(n.op.String() + "(")
		switch n.op {
		case OpDigestModulo:
			b.WriteString(strconv.FormatInt(n.arg, 10))
		case OpKey:
			b.WriteString(n.kind.String())
		}
		b.WriteString(")")
	case NodePattern:
		b.WriteString("regex_compare(" + strconv.Quote(n.name) + ", " + strconv.FormatInt(n.arg, 10) + ", ")
		n.operands[0].format(b)
		b.WriteString(")")
	case NodeLet:
		b.WriteString("let(")
		for _, bind := range n.bindings {
			b.WriteString("def(" + strconv.Quote(bind.Name) + ", ")
			bind.Value.format(b)
			b.WriteString("), ")
		}
		n.operands[0].format(b)
		b.WriteString(")")
	default:
		b.WriteString(n.op.String() + "(")
		for i, op := range n.operands {
			if i > 0 {
				b.WriteString(", ")
			}
			op.format(b)
		}
		b.WriteString(")")
	}
}

func mergeFree(sets ...[]string) []string {
	var out []string
	for _, s := range sets {
		out = append(out, s...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func withoutFree(set []string, name string) []string {
	return slices.DeleteFunc(slices.Clone(set), func(s string) bool { return s == name })
}

// firstErr returns the first construction error among operands.
func firstErr(operands ...Expr) error {
	for _, op := range operands {
		if err := op.Err(); err != nil {
			return err
		}
	}
	return nil
}
