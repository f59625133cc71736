// Package memcluster is an in-memory cluster implementing core.Transport. It
// keeps records in digest order per namespace, evaluates filter expressions
// and serves secondary index queries, which makes it suitable for tests and
// local development.
package memcluster

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/btree"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/logging"
	"github.com/pay-theory/aerokit/pkg/types"
)

// NodeName is reported on every response
const NodeName = "mem-1"

// Fault decides whether an exchange fails before reaching storage. A non-nil
// error is returned to the caller as-is.
type Fault func(req *core.Request) error

// Options configures a Cluster
type Options struct {
	// Latency delays every exchange and stream open
	Latency time.Duration
	// DefaultTTL applies to writes using the namespace default. Zero never expires.
	DefaultTTL time.Duration
	// Now overrides the clock
	Now    func() time.Time
	Logger *slog.Logger
}

// Stats counts transport activity
type Stats struct {
	Opens     int64
	Exchanges int64
	Streams   int64
	Drains    int64
	Closes    int64
}

type indexKey struct {
	namespace string
	set       string
	bin       string
	indexType core.IndexType
}

// Cluster is an in-memory cluster
type Cluster struct {
	mu         sync.RWMutex
	namespaces map[string]*btree.BTreeG[*entry]
	indexes    map[indexKey]types.ValueType

	latency    time.Duration
	defaultTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger

	faultMu sync.Mutex
	fault   Fault
	down    atomic.Bool

	opens, exchanges, streams, drains, closes atomic.Int64
}

// New creates an empty cluster
func New(opts Options) *Cluster {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Cluster{
		namespaces: make(map[string]*btree.BTreeG[*entry]),
		indexes:    make(map[indexKey]types.ValueType),
		latency:    opts.Latency,
		defaultTTL: opts.DefaultTTL,
		now:        opts.Now,
		logger:     opts.Logger.With("node", NodeName),
	}
}

func byDigest(a, b *entry) bool {
	return bytes.Compare(a.digest[:], b.digest[:]) < 0
}

// tree returns the namespace tree, creating it when create is set. Callers
// hold c.mu.
func (c *Cluster) tree(namespace string, create bool) *btree.BTreeG[*entry] {
	t, ok := c.namespaces[namespace]
	if !ok && create {
		t = btree.NewBTreeGOptions(byDigest, btree.Options{NoLocks: true})
		c.namespaces[namespace] = t
	}
	return t
}

// CreateIndex declares a secondary index over bin. Queries against a bin
// without a matching index fail with ResultIndexNotFound.
func (c *Cluster) CreateIndex(namespace, set, bin string, indexType core.IndexType, valueType types.ValueType) error {
	switch valueType {
	case types.IntType, types.StringType, types.GeoJSONType:
	default:
		return errors.Newf(errors.ErrInvalidArgument, "cannot index %s values", valueType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := indexKey{namespace: namespace, set: set, bin: bin, indexType: indexType}
	if _, ok := c.indexes[k]; ok {
		return &errors.ServerError{Code: errors.ResultIndexFound, Node: NodeName}
	}
	c.indexes[k] = valueType
	c.logger.Debug("index created", "namespace", namespace, "set", set, "bin", bin, "index_type", indexType.String())
	return nil
}

// DropIndex removes a secondary index
func (c *Cluster) DropIndex(namespace, set, bin string, indexType core.IndexType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.indexes, indexKey{namespace: namespace, set: set, bin: bin, indexType: indexType})
}

// Len returns the number of live records in a set. An empty set counts the
// whole namespace.
func (c *Cluster) Len(namespace, set string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := c.tree(namespace, false)
	if t == nil {
		return 0
	}
	now := c.now()
	n := 0
	t.Scan(func(e *entry) bool {
		if (set == "" || e.set == set) && !e.expired(now) {
			n++
		}
		return true
	})
	return n
}

// Truncate removes every record of a set, or of the namespace when set is empty
func (c *Cluster) Truncate(namespace, set string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.tree(namespace, false)
	if t == nil {
		return
	}
	if set == "" {
		delete(c.namespaces, namespace)
		return
	}
	var doomed []*entry
	t.Scan(func(e *entry) bool {
		if e.set == set {
			doomed = append(doomed, e)
		}
		return true
	})
	for _, e := range doomed {
		t.Delete(e)
	}
}

// InjectFault installs f for subsequent exchanges and stream opens. A nil f
// clears it.
func (c *Cluster) InjectFault(f Fault) {
	c.faultMu.Lock()
	c.fault = f
	c.faultMu.Unlock()
}

// FailNext fails the next n requests with err
func (c *Cluster) FailNext(n int, err error) {
	var left atomic.Int64
	left.Store(int64(n))
	c.InjectFault(func(*core.Request) error {
		if left.Add(-1) >= 0 {
			return err
		}
		return nil
	})
}

// SetDown makes Open fail until it is cleared
func (c *Cluster) SetDown(down bool) {
	c.down.Store(down)
}

// Stats returns transport counters
func (c *Cluster) Stats() Stats {
	return Stats{
		Opens:     c.opens.Load(),
		Exchanges: c.exchanges.Load(),
		Streams:   c.streams.Load(),
		Drains:    c.drains.Load(),
		Closes:    c.closes.Load(),
	}
}

// Open implements core.Transport
func (c *Cluster) Open(ctx context.Context) (core.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.down.Load() {
		return nil, errors.Newf(errors.ErrConnection, "node %s is down", NodeName)
	}
	c.opens.Add(1)
	return &conn{cluster: c}, nil
}

func (c *Cluster) injected(req *core.Request) error {
	c.faultMu.Lock()
	f := c.fault
	c.faultMu.Unlock()
	if f == nil {
		return nil
	}
	return f(req)
}

// delay waits out the configured latency or ctx
func (c *Cluster) delay(ctx context.Context) error {
	if c.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exchange serves a single-key or batch command
func (c *Cluster) exchange(req *core.Request) *core.Response {
	var resp *core.Response
	switch req.Command {
	case core.CommandGet, core.CommandGetHeader, core.CommandExists:
		resp = c.read(req)
	case core.CommandPut, core.CommandOperate:
		resp = c.write(req)
	case core.CommandDelete:
		resp = c.remove(req)
	case core.CommandTouch:
		resp = c.touch(req)
	case core.CommandBatchGet, core.CommandBatchExists:
		resp = c.batch(req)
	default:
		resp = &core.Response{ResultCode: errors.ResultParameter}
	}
	resp.Node = NodeName
	return resp
}

type conn struct {
	cluster *Cluster
	closed  atomic.Bool
}

func (cn *conn) check(ctx context.Context, req *core.Request) error {
	if cn.closed.Load() {
		return errors.Newf(errors.ErrConnection, "use of closed connection")
	}
	if err := cn.cluster.delay(ctx); err != nil {
		return err
	}
	return cn.cluster.injected(req)
}

func (cn *conn) Exchange(ctx context.Context, req *core.Request) (*core.Response, error) {
	if err := cn.check(ctx, req); err != nil {
		return nil, err
	}
	cn.cluster.exchanges.Add(1)
	return cn.cluster.exchange(req), nil
}

func (cn *conn) Stream(ctx context.Context, req *core.Request) (core.RecordStream, error) {
	if err := cn.check(ctx, req); err != nil {
		return nil, err
	}
	cn.cluster.streams.Add(1)
	return cn.cluster.query(req)
}

// Drain has nothing to discard: responses are produced synchronously
func (cn *conn) Drain(ctx context.Context) error {
	cn.cluster.drains.Add(1)
	return ctx.Err()
}

func (cn *conn) Close() error {
	if cn.closed.CompareAndSwap(false, true) {
		cn.cluster.closes.Add(1)
	}
	return nil
}
