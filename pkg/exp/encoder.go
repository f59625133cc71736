package exp

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/pay-theory/aerokit/internal/expr"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/types"
	"github.com/pay-theory/aerokit/pkg/validation"
)

// Version is a server version used to gate expressions.
type Version struct {
	Major, Minor, Patch int
}

// ParseVersion parses "major.minor[.patch[.build]]".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 {
		return Version{}, errors.Newf(errors.ErrInvalidArgument, "invalid server version %q", s)
	}
	nums := make([]int, 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return Version{}, errors.Newf(errors.ErrInvalidArgument, "invalid server version %q", s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Less reports whether v is older than o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
}

// Server versions that introduced or removed individual operations.
var (
	minExpressionVersion = Version{5, 2, 0}
	minOpVersion         = map[Op]Version{
		OpMemorySize: {5, 3, 0},
		OpRecordSize: {7, 0, 0},
	}
	removedOpVersion = map[Op]Version{
		OpMemorySize: {7, 0, 0},
		OpDeviceSize: {7, 0, 0},
	}
)

type encodeOptions struct {
	target *Version
	err    error
}

// EncodeOption configures Encode and Build.
type EncodeOption func(*encodeOptions)

// WithServerVersion rejects expressions the given server version, such as
// "6.4.0", cannot evaluate.
func WithServerVersion(version string) EncodeOption {
	return func(o *encodeOptions) {
		v, err := ParseVersion(version)
		if err != nil {
			o.err = err
			return
		}
		o.target = &v
	}
}

// Filter is a validated, encoded boolean expression ready to attach to a policy.
type Filter struct {
	root  Expr
	bytes []byte
}

// Build validates root as a filter (bound variables, boolean result) and encodes it.
func Build(root Expr, opts ...EncodeOption) (*Filter, error) {
	if err := root.Err(); err != nil {
		return nil, err
	}
	if k := root.n.kind; k != KindBool && k != KindAny {
		return nil, errors.Newf(errors.ErrTypeMismatch, "filter expression must produce bool, got %s", k)
	}
	data, err := Encode(root, opts...)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateFilterSize(len(data)); err != nil {
		return nil, err
	}
	return &Filter{root: root, bytes: data}, nil
}

// Must is like Build but panics on error. Intended for filters built from constants.
func Must(root Expr, opts ...EncodeOption) *Filter {
	f, err := Build(root, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

// Bytes returns a copy of the encoded expression.
func (f *Filter) Bytes() []byte {
	if f == nil {
		return nil
	}
	return append([]byte(nil), f.bytes...)
}

// Base64 returns the encoded expression in the form other clients accept.
func (f *Filter) Base64() string {
	if f == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(f.bytes)
}

// Expr returns the expression the filter was built from.
func (f *Filter) Expr() Expr {
	if f == nil {
		return Expr{}
	}
	return f.root
}

// Len returns the encoded size in bytes.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.bytes)
}

// FilterFromBase64 decodes and validates a filter produced by Base64.
func FilterFromBase64(s string, opts ...EncodeOption) (*Filter, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Newf(errors.ErrInvalidArgument, "decode filter: %v", err)
	}
	root, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Build(root, opts...)
}

// Encode serializes e. Unbound variables and operations the target server does
// not support are rejected before any byte is produced.
func Encode(e Expr, opts ...EncodeOption) ([]byte, error) {
	if err := e.Err(); err != nil {
		return nil, err
	}
	if free := e.n.free; len(free) > 0 {
		return nil, errors.Newf(errors.ErrUnboundVariable, "%s has no enclosing let binding", strings.Join(free, ", "))
	}

	var o encodeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.err != nil {
		return nil, o.err
	}
	if o.target != nil {
		if err := checkSupported(e, *o.target); err != nil {
			return nil, err
		}
	}

	p := expr.NewPacker()
	if err := encode(p, e); err != nil {
		return nil, err
	}
	return p.Bytes(), nil
}

func checkSupported(e Expr, target Version) error {
	if target.Less(minExpressionVersion) {
		return errors.Newf(errors.ErrUnsupportedExpression, "server %s does not support filter expressions (requires %s)", target, minExpressionVersion)
	}
	var walk func(Expr) error
	walk = func(e Expr) error {
		if min, ok := minOpVersion[e.n.op]; ok && target.Less(min) {
			return errors.Newf(errors.ErrUnsupportedExpression, "%s requires server %s, target is %s", e.n.op, min, target)
		}
		if removed, ok := removedOpVersion[e.n.op]; ok && !target.Less(removed) {
			return errors.Newf(errors.ErrUnsupportedExpression, "%s is not available from server %s, target is %s", e.n.op, removed, target)
		}
		for _, b := range e.n.bindings {
			if err := walk(b.Value); err != nil {
				return err
			}
		}
		for _, op := range e.n.operands {
			if err := walk(op); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(e)
}

func encode(p *expr.Packer, e Expr) error {
	n := e.n
	switch n.nodeKind {
	case NodeLiteral:
		if n.value.Type() == types.ListType {
			return p.QuotedList(n.value)
		}
		return p.Value(n.value)

	case NodeBin:
		return seq(
			func() error { return p.ArrayHeader(3) },
			func() error { return p.Opcode(int64(OpBin)) },
			func() error { return p.Opcode(int64(n.kind)) },
			func() error { return p.Identifier(n.name) },
		)

	case NodeBinType:
		return seq(
			func() error { return p.ArrayHeader(2) },
			func() error { return p.Opcode(int64(OpBinType)) },
			func() error { return p.Identifier(n.name) },
		)

	case NodeVar:
		return seq(
			func() error { return p.ArrayHeader(2) },
			func() error { return p.Opcode(int64(OpVar)) },
			func() error { return p.Identifier(n.name) },
		)

	case NodeMeta:
		switch n.op {
		case OpKey:
			return seq(
				func() error { return p.ArrayHeader(2) },
				func() error { return p.Opcode(int64(OpKey)) },
				func() error { return p.Opcode(int64(n.kind)) },
			)
		case OpDigestModulo:
			return seq(
				func() error { return p.ArrayHeader(2) },
				func() error { return p.Opcode(int64(OpDigestModulo)) },
				func() error { return p.Int(n.arg) },
			)
		}
		return seq(
			func() error { return p.ArrayHeader(1) },
			func() error { return p.Opcode(int64(n.op)) },
		)

	case NodePattern:
		if err := seq(
			func() error { return p.ArrayHeader(4) },
			func() error { return p.Opcode(int64(OpRegex)) },
			func() error { return p.Opcode(n.arg) },
			func() error { return p.Identifier(n.name) },
		); err != nil {
			return err
		}
		return encode(p, n.operands[0])

	case NodeLet:
		if err := p.ArrayHeader(2*len(n.bindings) + 2); err != nil {
			return err
		}
		if err := p.Opcode(int64(OpLet)); err != nil {
			return err
		}
		for _, b := range n.bindings {
			if err := p.Identifier(b.Name); err != nil {
				return err
			}
			if err := encode(p, b.Value); err != nil {
				return err
			}
		}
		return encode(p, n.operands[0])

	case NodeComparison, NodeLogical, NodeNumeric, NodeBitwise, NodeCond:
		if err := p.ArrayHeader(len(n.operands) + 1); err != nil {
			return err
		}
		if err := p.Opcode(int64(n.op)); err != nil {
			return err
		}
		for _, op := range n.operands {
			if err := encode(p, op); err != nil {
				return err
			}
		}
		return nil
	}

	return errors.Newf(errors.ErrUnsupportedExpression, "cannot encode %s node", n.nodeKind)
}

func seq(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
