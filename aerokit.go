// Package aerokit is a client for Aerospike-style key-value clusters. It
// builds server-side filter expressions, compiles secondary index queries
// and runs every command through one dispatcher exposed two ways: Client
// blocks the caller, AsyncClient returns futures.
package aerokit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/dispatch"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/exp"
	"github.com/pay-theory/aerokit/pkg/metrics"
	"github.com/pay-theory/aerokit/pkg/policy"
	"github.com/pay-theory/aerokit/pkg/session"
	"github.com/pay-theory/aerokit/pkg/types"
)

// Client runs commands on the calling goroutine
type Client struct {
	session    *session.Session
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Recorder
	policies   session.Policies
	logger     *slog.Logger
	async      *AsyncClient
}

type options struct {
	transport core.Transport
	lock      sync.Locker
	logger    *slog.Logger
	registry  *prometheus.Registry
}

// Option configures New
type Option func(*options)

// WithTransport sets the transport commands are sent over. It is required.
func WithTransport(t core.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithExecutionLock makes blocking calls release l while they wait on the
// network and re-acquire it before returning. Callers that serialize their
// own work under a lock use this to let other goroutines run meanwhile.
func WithExecutionLock(l sync.Locker) Option {
	return func(o *options) { o.lock = l }
}

// WithLogger overrides the logger built from the configuration
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetricsRegistry registers the client collectors on reg
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New creates a client. A nil cfg uses session.DefaultConfig.
func New(cfg *session.Config, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.transport == nil {
		return nil, errors.Newf(errors.ErrInvalidArgument, "aerokit: a transport is required")
	}

	sess, err := session.NewSession(cfg, o.transport, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	cfg = sess.Config()

	rec := metrics.New(o.registry)
	d, err := dispatch.New(dispatch.Config{
		Pool:    sess.Pool(),
		Metrics: rec,
		Logger:  sess.Logger(),
		Workers: cfg.AsyncWorkers,
		Lock:    o.lock,
	})
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	c := &Client{
		session:    sess,
		dispatcher: d,
		metrics:    rec,
		policies:   cfg.DefaultPolicies(),
		logger:     sess.Logger(),
	}
	c.async = &AsyncClient{c: c}
	return c, nil
}

// Async returns the non-blocking front-end. It shares this client's
// connections, workers and defaults.
func (c *Client) Async() *AsyncClient {
	return c.async
}

// Session returns the underlying session
func (c *Client) Session() *session.Session {
	return c.session
}

// Metrics returns the client's metric collectors
func (c *Client) Metrics() *metrics.Recorder {
	return c.metrics
}

// DefaultPolicies returns the policies used when a call passes nil
func (c *Client) DefaultPolicies() session.Policies {
	return c.policies
}

// Health reports whether the client is close to its command concurrency
// limit. The "status" key is "healthy" or "degraded".
func (c *Client) Health() map[string]any {
	return c.session.Health()
}

// BuildFilter encodes e for the configured server version
func (c *Client) BuildFilter(e exp.Expr) (*exp.Filter, error) {
	return exp.Build(e, c.session.Config().EncodeOptions()...)
}

// Close stops the workers and closes pooled connections. Calls made after
// Close fail with ErrClientClosed.
func (c *Client) Close() error {
	if err := c.dispatcher.Close(); err != nil {
		return err
	}
	return c.session.Close()
}

// Put writes bins to the record at key
func (c *Client) Put(ctx context.Context, p *policy.Write, key *types.Key, bins types.BinMap) error {
	op, err := c.putOp(p, key, bins)
	if err != nil {
		return err
	}
	_, err = dispatch.Do(ctx, c.dispatcher, op)
	return err
}

// Get reads the record at key. An empty bins list reads every bin.
func (c *Client) Get(ctx context.Context, p *policy.Read, key *types.Key, bins ...string) (*types.Record, error) {
	op, err := c.getOp(p, key, bins)
	if err != nil {
		return nil, err
	}
	return dispatch.Do(ctx, c.dispatcher, op)
}

// GetHeader reads the generation and expiration of the record at key
func (c *Client) GetHeader(ctx context.Context, p *policy.Read, key *types.Key) (*types.Record, error) {
	op, err := c.headerOp(p, key)
	if err != nil {
		return nil, err
	}
	return dispatch.Do(ctx, c.dispatcher, op)
}

// Exists reports whether the record at key exists
func (c *Client) Exists(ctx context.Context, p *policy.Read, key *types.Key) (bool, error) {
	op, err := c.existsOp(p, key)
	if err != nil {
		return false, err
	}
	return dispatch.Do(ctx, c.dispatcher, op)
}

// Delete removes the record at key and reports whether it existed
func (c *Client) Delete(ctx context.Context, p *policy.Write, key *types.Key) (bool, error) {
	op, err := c.deleteOp(p, key)
	if err != nil {
		return false, err
	}
	return dispatch.Do(ctx, c.dispatcher, op)
}

// Touch bumps the generation and resets the expiration of the record at key
func (c *Client) Touch(ctx context.Context, p *policy.Write, key *types.Key) error {
	op, err := c.touchOp(p, key)
	if err != nil {
		return err
	}
	_, err = dispatch.Do(ctx, c.dispatcher, op)
	return err
}

// Append appends string or blob values to bins
func (c *Client) Append(ctx context.Context, p *policy.Write, key *types.Key, bins types.BinMap) error {
	return c.mutate(ctx, p, key, core.OpAppend, bins)
}

// Prepend prepends string or blob values to bins
func (c *Client) Prepend(ctx context.Context, p *policy.Write, key *types.Key, bins types.BinMap) error {
	return c.mutate(ctx, p, key, core.OpPrepend, bins)
}

// Add increments numeric bins, or folds values into HLL bins
func (c *Client) Add(ctx context.Context, p *policy.Write, key *types.Key, bins types.BinMap) error {
	return c.mutate(ctx, p, key, core.OpAdd, bins)
}

func (c *Client) mutate(ctx context.Context, p *policy.Write, key *types.Key, t core.OpType, bins types.BinMap) error {
	op, err := c.mutateOp(p, key, t, bins)
	if err != nil {
		return err
	}
	_, err = dispatch.Do(ctx, c.dispatcher, op)
	return err
}

// Operate applies ops to the record at key in order and returns the bins
// read by OpRead operations
func (c *Client) Operate(ctx context.Context, p *policy.Write, key *types.Key, ops ...core.BinOp) (*types.Record, error) {
	op, err := c.operateOp(p, key, ops)
	if err != nil {
		return nil, err
	}
	return dispatch.Do(ctx, c.dispatcher, op)
}

// BatchGet reads many records. Results are in key order; missing or
// filtered records are nil.
func (c *Client) BatchGet(ctx context.Context, p *policy.Batch, keys []*types.Key, bins ...string) ([]*types.Record, error) {
	op, err := c.batchGetOp(p, keys, bins)
	if err != nil {
		return nil, err
	}
	return dispatch.DoBatch(ctx, c.dispatcher, op)
}

// BatchExists reports, in key order, whether each record exists
func (c *Client) BatchExists(ctx context.Context, p *policy.Batch, keys []*types.Key) ([]bool, error) {
	op, err := c.batchExistsOp(p, keys)
	if err != nil {
		return nil, err
	}
	return dispatch.DoBatch(ctx, c.dispatcher, op)
}

// Query starts a secondary index query over a set
func (c *Client) Query(namespace, set string) *Query {
	return newQuery(c, namespace, set, false)
}

// Scan starts a scan over a set. An empty set scans the namespace.
func (c *Client) Scan(namespace, set string) *Query {
	return newQuery(c, namespace, set, true)
}
