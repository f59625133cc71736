// Package core defines the requests exchanged with a cluster and the transport
// interfaces the dispatcher drives.
package core

import (
	"context"
	"time"

	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/types"
)

// Transport opens connections to a cluster
type Transport interface {
	// Open returns a connection ready to exchange requests
	Open(ctx context.Context) (Conn, error)
}

// Conn is a single connection. A Conn is used by one request at a time.
type Conn interface {
	// Exchange sends a key or batch request and waits for the response
	Exchange(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a query or scan request and returns its record stream
	Stream(ctx context.Context, req *Request) (RecordStream, error)

	// Drain discards any response still in flight so the connection can be reused
	Drain(ctx context.Context) error

	// Close closes the connection
	Close() error
}

// RecordStream delivers query results in order. Next returns io.EOF once the
// stream is done.
type RecordStream interface {
	Next(ctx context.Context) (*types.Record, error)
	Close() error
}

// Command identifies the request kind
type Command int

const (
	CommandGet Command = iota + 1
	CommandGetHeader
	CommandExists
	CommandPut
	CommandDelete
	CommandTouch
	CommandOperate
	CommandBatchGet
	CommandBatchExists
	CommandQuery
	CommandScan
)

var commandNames = map[Command]string{
	CommandGet:         "get",
	CommandGetHeader:   "get_header",
	CommandExists:      "exists",
	CommandPut:         "put",
	CommandDelete:      "delete",
	CommandTouch:       "touch",
	CommandOperate:     "operate",
	CommandBatchGet:    "batch_get",
	CommandBatchExists: "batch_exists",
	CommandQuery:       "query",
	CommandScan:        "scan",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown"
}

// IsRead reports whether the command never modifies records
func (c Command) IsRead() bool {
	switch c {
	case CommandGet, CommandGetHeader, CommandExists, CommandBatchGet, CommandBatchExists, CommandQuery, CommandScan:
		return true
	}
	return false
}

// OpType is the kind of a single bin operation
type OpType int

const (
	OpRead OpType = iota + 1
	OpWrite
	OpAppend
	OpPrepend
	OpAdd
)

var opTypeNames = map[OpType]string{
	OpRead:    "read",
	OpWrite:   "write",
	OpAppend:  "append",
	OpPrepend: "prepend",
	OpAdd:     "add",
}

func (o OpType) String() string {
	if name, ok := opTypeNames[o]; ok {
		return name
	}
	return "unknown"
}

// BinOp is one operation against a bin
type BinOp struct {
	Type  OpType
	Bin   string
	Value types.Value
}

// IndexType is the collection type a secondary index is built over
type IndexType int

const (
	IndexDefault IndexType = iota
	IndexList
	IndexMapKeys
	IndexMapValues
)

var indexTypeNames = map[IndexType]string{
	IndexDefault:   "default",
	IndexList:      "list",
	IndexMapKeys:   "mapkeys",
	IndexMapValues: "mapvalues",
}

func (t IndexType) String() string {
	if name, ok := indexTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IndexFilter is the compiled secondary index predicate of a query. Equality
// predicates carry Begin == End.
type IndexFilter struct {
	Bin       string
	IndexType IndexType
	Begin     types.Value
	End       types.Value
}

// WriteParams are the write policy fields sent with a mutating command
type WriteParams struct {
	// Expiration is the TTL in seconds, or one of the TTL sentinels
	Expiration         int32
	Generation         uint32
	GenerationPolicy   int
	RecordExistsAction int
	CommitLevel        int
	DurableDelete      bool
	SendKey            bool
}

// Request is a compiled command ready to send
type Request struct {
	// ID correlates log lines of one call
	ID      string
	Command Command

	// Key is set for single-record commands, Keys for batch commands
	Key  *types.Key
	Keys []*types.Key

	// Namespace and Set address query and scan commands
	Namespace string
	Set       string

	// Bins selects bins to return; empty means all bins unless NoBins is set
	Bins   []string
	NoBins bool

	// Ops are the bin operations of put and operate commands
	Ops []BinOp

	// Filter is an encoded filter expression applied server-side
	Filter []byte

	Index *IndexFilter

	// After resumes a scan after the record with this digest
	After *[types.DigestSize]byte

	MaxRecords       int64
	RecordsPerSecond int
	ReadMode         int
	Write            *WriteParams

	// SocketTimeout bounds a single attempt; zero means no attempt deadline
	SocketTimeout time.Duration
}

// TargetNamespace returns the namespace the request targets
func (r *Request) TargetNamespace() string {
	switch {
	case r.Key != nil:
		return r.Key.Namespace
	case len(r.Keys) > 0 && r.Keys[0] != nil:
		return r.Keys[0].Namespace
	}
	return r.Namespace
}

// TargetSet returns the set the request targets
func (r *Request) TargetSet() string {
	switch {
	case r.Key != nil:
		return r.Key.Set
	case len(r.Keys) > 0 && r.Keys[0] != nil:
		return r.Keys[0].Set
	}
	return r.Set
}

// Response is the reply to an exchanged request
type Response struct {
	ResultCode errors.ResultCode
	// InDoubt is set when a write may have been applied before a failure
	InDoubt bool
	Node    string

	// Record is the result of single-key reads
	Record *types.Record

	// Records and Exists hold batch results in key order; missing records are nil
	Records []*types.Record
	Exists  []bool

	// ResultCodes holds per-key codes of batch commands
	ResultCodes []errors.ResultCode
}

// Err maps a non-OK result code to the error taxonomy
func (r *Response) Err() error {
	if r == nil {
		return nil
	}
	if r.ResultCode == errors.ResultOK {
		return nil
	}
	return &errors.ServerError{Code: r.ResultCode, InDoubt: r.InDoubt, Node: r.Node}
}
