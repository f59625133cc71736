package exp

import "fmt"

// Kind is the value kind an expression produces. The numeric values of the
// concrete kinds are the type codes the server expects in bin and key nodes.
type Kind int

const (
	KindNil    Kind = 0
	KindBool   Kind = 1
	KindInt    Kind = 2
	KindString Kind = 3
	KindList   Kind = 4
	KindMap    Kind = 5
	KindBlob   Kind = 6
	KindFloat  Kind = 7
	KindGeo    Kind = 8
	KindHLL    Kind = 9

	// KindAny is carried by variables whose binding is not yet known.
	KindAny Kind = 100
	// KindMarker is carried by the infinity and wildcard literals.
	KindMarker Kind = 101
)

var kindNames = map[Kind]string{
	KindNil:    "nil",
	KindBool:   "bool",
	KindInt:    "int",
	KindString: "string",
	KindList:   "list",
	KindMap:    "map",
	KindBlob:   "blob",
	KindFloat:  "float",
	KindGeo:    "geo",
	KindHLL:    "hll",
	KindAny:    "any",
	KindMarker: "marker",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// wire reports whether the kind may appear as a type code on the wire.
func (k Kind) wire() bool {
	return k >= KindNil && k <= KindHLL
}

// NodeKind identifies the AST variant of an expression.
type NodeKind int

const (
	NodeInvalid NodeKind = iota
	NodeLiteral
	NodeBin
	NodeBinType
	NodeMeta
	NodeComparison
	NodeLogical
	NodeNumeric
	NodeBitwise
	NodePattern
	NodeCond
	NodeLet
	NodeVar
)

var nodeKindNames = [...]string{
	NodeInvalid:    "invalid",
	NodeLiteral:    "literal",
	NodeBin:        "bin",
	NodeBinType:    "bin_type",
	NodeMeta:       "meta",
	NodeComparison: "comparison",
	NodeLogical:    "logical",
	NodeNumeric:    "numeric",
	NodeBitwise:    "bitwise",
	NodePattern:    "pattern",
	NodeCond:       "cond",
	NodeLet:        "let",
	NodeVar:        "var",
}

func (n NodeKind) String() string {
	if int(n) >= 0 && int(n) < len(nodeKindNames) {
		return nodeKindNames[n]
	}
	return fmt.Sprintf("NodeKind(%d)", int(n))
}

// Op is a server expression operation code.
type Op int

const (
	OpEQ    Op = 1
	OpNE    Op = 2
	OpGT    Op = 3
	OpGE    Op = 4
	OpLT    Op = 5
	OpLE    Op = 6
	OpRegex Op = 7
	OpGeo   Op = 8

	OpAnd Op = 16
	OpOr  Op = 17
	OpNot Op = 18
	OpXor Op = 19

	OpAdd     Op = 20
	OpSub     Op = 21
	OpMul     Op = 22
	OpDiv     Op = 23
	OpPow     Op = 24
	OpLog     Op = 25
	OpMod     Op = 26
	OpAbs     Op = 27
	OpFloor   Op = 28
	OpCeil    Op = 29
	OpToInt   Op = 30
	OpToFloat Op = 31

	OpIntAnd     Op = 32
	OpIntOr      Op = 33
	OpIntXor     Op = 34
	OpIntNot     Op = 35
	OpIntLShift  Op = 36
	OpIntRShift  Op = 37
	OpIntARShift Op = 38
	OpIntCount   Op = 39
	OpIntLScan   Op = 40
	OpIntRScan   Op = 41

	OpMin Op = 50
	OpMax Op = 51

	OpDigestModulo Op = 64
	OpDeviceSize   Op = 65
	OpLastUpdate   Op = 66
	OpSinceUpdate  Op = 67
	OpVoidTime     Op = 68
	OpTTL          Op = 69
	OpSetName      Op = 70
	OpKeyExists    Op = 71
	OpIsTombstone  Op = 72
	OpMemorySize   Op = 73
	OpRecordSize   Op = 74

	OpKey     Op = 80
	OpBin     Op = 81
	OpBinType Op = 82

	OpCond   Op = 123
	OpVar    Op = 124
	OpLet    Op = 125
	OpQuoted Op = 126
)

var opNames = map[Op]string{
	OpEQ: "eq", OpNE: "ne", OpGT: "gt", OpGE: "ge", OpLT: "lt", OpLE: "le",
	OpRegex: "regex_compare", OpGeo: "geo_compare",
	OpAnd: "and", OpOr: "or", OpNot: "not", OpXor: "xor",
	OpAdd: "num_add", OpSub: "num_sub", OpMul: "num_mul", OpDiv: "num_div",
	OpPow: "num_pow", OpLog: "num_log", OpMod: "num_mod", OpAbs: "num_abs",
	OpFloor: "num_floor", OpCeil: "num_ceil", OpToInt: "to_int", OpToFloat: "to_float",
	OpIntAnd: "int_and", OpIntOr: "int_or", OpIntXor: "int_xor", OpIntNot: "int_not",
	OpIntLShift: "int_lshift", OpIntRShift: "int_rshift", OpIntARShift: "int_arshift",
	OpIntCount: "int_count", OpIntLScan: "int_lscan", OpIntRScan: "int_rscan",
	OpMin: "min", OpMax: "max",
	OpDigestModulo: "digest_modulo", OpDeviceSize: "device_size",
	OpLastUpdate: "last_update", OpSinceUpdate: "since_update", OpVoidTime: "void_time",
	OpTTL: "ttl", OpSetName: "set_name", OpKeyExists: "key_exists",
	OpIsTombstone: "is_tombstone", OpMemorySize: "memory_size", OpRecordSize: "record_size",
	OpKey: "key", OpBin: "bin", OpBinType: "bin_type",
	OpCond: "cond", OpVar: "var", OpLet: "let", OpQuoted: "quoted",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// RegexFlags are the POSIX regcomp flags understood by the server.
type RegexFlags int64

const (
	RegexNone     RegexFlags = 0
	RegexExtended RegexFlags = 1
	RegexICase    RegexFlags = 2
	RegexNoSub    RegexFlags = 4
	RegexNewline  RegexFlags = 8
)
