// Package cluster manages the connections shared by the blocking and
// non-blocking clients.
package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/logging"
	"github.com/pay-theory/aerokit/pkg/protection"
)

// PoolConfig configures a Pool
type PoolConfig struct {
	// MaxIdle bounds connections kept for reuse
	MaxIdle int
	// IdleTimeout closes connections unused for longer; zero keeps them
	IdleTimeout time.Duration
	// DrainTimeout bounds draining a connection abandoned after a deadline
	DrainTimeout time.Duration
	Limits       protection.Limits
}

// DefaultPoolConfig returns the default pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdle:      100,
		IdleTimeout:  55 * time.Second,
		DrainTimeout: 5 * time.Second,
		Limits:       protection.DefaultLimits(),
	}
}

type idleConn struct {
	conn  core.Conn
	since time.Time
}

// Pool hands out connections over a Transport. It is safe for concurrent use.
type Pool struct {
	transport core.Transport
	protector *protection.Protector
	config    PoolConfig
	logger    *slog.Logger

	mu     sync.Mutex
	idle   []idleConn
	open   int
	closed bool
	drains sync.WaitGroup
	now    func() time.Time
}

// PoolStats is a snapshot of pool occupancy
type PoolStats struct {
	Open  int
	Idle  int
	InUse int
}

// NewPool creates a pool. logger may be nil.
func NewPool(transport core.Transport, config PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = logging.Get()
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultPoolConfig().DrainTimeout
	}
	return &Pool{
		transport: transport,
		protector: protection.NewProtector(config.Limits),
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Protector returns the limiter guarding command slots
func (p *Pool) Protector() *protection.Protector {
	return p.protector
}

// Get acquires a command slot and a connection. The caller must settle the
// lease with Release, Discard or Abandon.
func (p *Pool) Get(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errors.ErrClientClosed
	}

	release, err := p.protector.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := p.take(ctx)
	if err != nil {
		release()
		return nil, err
	}
	return &Lease{pool: p, conn: conn, release: release}, nil
}

func (p *Pool) take(ctx context.Context) (core.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.ErrClientClosed
	}
	now := p.now()
	var stale []core.Conn
	for len(p.idle) > 0 {
		last := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.config.IdleTimeout > 0 && now.Sub(last.since) > p.config.IdleTimeout {
			stale = append(stale, last.conn)
			p.open--
			continue
		}
		p.mu.Unlock()
		closeAll(stale)
		return last.conn, nil
	}
	p.open++
	p.mu.Unlock()
	closeAll(stale)

	conn, err := p.transport.Open(ctx)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		p.logger.Error("open connection failed", "error", err)
		if errors.IsLocal(err) || errors.IsTimeout(err) {
			return nil, err
		}
		return nil, errors.Newf(errors.ErrConnection, "open connection: %v", err)
	}
	return conn, nil
}

func (p *Pool) put(conn core.Conn) {
	p.mu.Lock()
	if p.closed || len(p.idle) >= p.config.MaxIdle {
		p.open--
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	p.idle = append(p.idle, idleConn{conn: conn, since: p.now()})
	p.mu.Unlock()
}

func (p *Pool) discard(conn core.Conn) {
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
	if err := conn.Close(); err != nil {
		p.logger.Debug("close discarded connection", "error", err)
	}
}

// Stats returns pool occupancy
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Open: p.open, Idle: len(p.idle), InUse: p.open - len(p.idle)}
}

// Close closes idle connections and waits for pending drains. Leases still
// out close their connections when settled.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	p.mu.Unlock()

	var conns []core.Conn
	for _, ic := range idle {
		conns = append(conns, ic.conn)
	}
	closeAll(conns)
	p.drains.Wait()
	return nil
}

func closeAll(conns []core.Conn) {
	for _, c := range conns {
		_ = c.Close()
	}
}

// Lease is one checked-out connection and its command slot
type Lease struct {
	pool    *Pool
	conn    core.Conn
	release func()
	once    sync.Once
}

// Conn returns the leased connection
func (l *Lease) Conn() core.Conn {
	return l.conn
}

// Release returns the connection for reuse
func (l *Lease) Release() {
	l.once.Do(func() {
		l.release()
		l.pool.put(l.conn)
	})
}

// Discard closes the connection, for connections left in an unknown state
func (l *Lease) Discard() {
	l.once.Do(func() {
		l.release()
		l.pool.discard(l.conn)
	})
}

// Abandon frees the command slot right away. With drain set, the connection
// is drained once inflight closes and then reused; otherwise it is closed.
func (l *Lease) Abandon(drain bool, inflight <-chan struct{}) {
	l.once.Do(func() {
		l.release()
		if !drain {
			l.pool.discard(l.conn)
			return
		}

		l.pool.drains.Add(1)
		go func() {
			defer l.pool.drains.Done()
			<-inflight

			ctx, cancel := context.WithTimeout(context.Background(), l.pool.config.DrainTimeout)
			defer cancel()
			if err := l.conn.Drain(ctx); err != nil {
				l.pool.logger.Warn("drain abandoned connection failed", "error", err)
				l.pool.discard(l.conn)
				return
			}
			l.pool.put(l.conn)
		}()
	})
}
