// Package dispatch runs compiled requests against the connection pool.
//
// Both front-ends share one pipeline. The blocking front-end waits on the
// calling goroutine and releases the caller's execution lock while it waits
// for the network. The non-blocking front-end hands the same call to a worker
// pool and returns a Future.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/pay-theory/aerokit/pkg/cluster"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/logging"
	"github.com/pay-theory/aerokit/pkg/metrics"
)

// Mode is the suspension strategy of a call.
type Mode int

const (
	// Blocking waits on the calling goroutine.
	Blocking Mode = iota
	// NonBlocking runs on a worker and completes a Future.
	NonBlocking
)

func (m Mode) String() string {
	if m == NonBlocking {
		return "non_blocking"
	}
	return "blocking"
}

// DefaultWorkers is the worker pool size used when Config.Workers is zero.
const DefaultWorkers = 1024

// Config configures a Dispatcher
type Config struct {
	Pool    *cluster.Pool
	Metrics *metrics.Recorder
	Logger  *slog.Logger

	// Workers bounds calls running for the non-blocking front-end at once.
	// Submit waits for a free worker when all are busy.
	Workers int

	// Lock is the caller's execution lock. Blocking calls are made with it
	// held; it is released while waiting on the network and re-acquired
	// before the call returns.
	Lock sync.Locker
}

// Dispatcher executes requests. It is safe for concurrent use.
type Dispatcher struct {
	pool    *cluster.Pool
	metrics *metrics.Recorder
	logger  *slog.Logger
	lock    sync.Locker
	workers *ants.Pool
	closed  atomic.Bool
}

// New creates a dispatcher over cfg.Pool
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Pool == nil {
		return nil, errors.Newf(errors.ErrInvalidArgument, "dispatcher requires a connection pool")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Get()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	d := &Dispatcher{
		pool:    cfg.Pool,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		lock:    cfg.Lock,
	}

	workers, err := ants.NewPool(cfg.Workers,
		ants.WithExpiryDuration(30*time.Second),
		ants.WithLogger(antsLogger{d.logger}),
		ants.WithPanicHandler(func(v any) {
			d.logger.Error("dispatch worker panic", "panic", v)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	d.workers = workers
	return d, nil
}

// Pool returns the connection pool calls run against
func (d *Dispatcher) Pool() *cluster.Pool {
	return d.pool
}

// Close rejects new calls and waits briefly for running workers. The
// connection pool is owned by the caller and left open.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := d.workers.ReleaseTimeout(5 * time.Second); err != nil {
		d.logger.Warn("dispatch workers still running at close", "error", err)
	}
	return nil
}

// ReleaseDuring unlocks l, runs fn and locks l again, even if fn panics.
// The caller must hold l. A nil l just runs fn.
func ReleaseDuring(l sync.Locker, fn func()) {
	if l == nil {
		fn()
		return
	}
	l.Unlock()
	defer l.Lock()
	fn()
}

// suspend runs a network wait under the strategy of mode
func (d *Dispatcher) suspend(mode Mode, wait func()) {
	if mode == Blocking {
		ReleaseDuring(d.lock, wait)
		return
	}
	wait()
}

type antsLogger struct {
	logger *slog.Logger
}

func (l antsLogger) Printf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "dispatch_workers")
}
