package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/policy"
)

// Op is one key command and the decoding of its response
type Op[T any] struct {
	// Name labels metrics and logs; defaults to the command name
	Name    string
	Request *core.Request
	Policy  policy.Base

	// Idempotent calls are retried per Policy. Set it for reads only.
	Idempotent bool

	// Decode turns the response into the call result. A nil Decode returns
	// the zero value and the response's error.
	Decode func(*core.Response) (T, error)
}

// Do runs op on the calling goroutine
func Do[T any](ctx context.Context, d *Dispatcher, op Op[T]) (T, error) {
	return execute(ctx, d, Blocking, op)
}

// Submit runs op on a worker and returns its future
func Submit[T any](ctx context.Context, d *Dispatcher, op Op[T]) *Future[T] {
	if op.Request != nil && op.Request.ID == "" {
		op.Request.ID = uuid.NewString()
	}
	id := ""
	if op.Request != nil {
		id = op.Request.ID
	}
	return spawn(d, id, func() (T, error) {
		return execute(ctx, d, NonBlocking, op)
	})
}

func execute[T any](ctx context.Context, d *Dispatcher, mode Mode, op Op[T]) (T, error) {
	var zero T
	if op.Request == nil {
		return zero, errors.Newf(errors.ErrInvalidArgument, "nil request")
	}
	name := op.Name
	if name == "" {
		name = op.Request.Command.String()
	}
	return run(ctx, d, mode, call{name: name, req: op.Request, policy: op.Policy, idempotent: op.Idempotent},
		func(ctx context.Context) (T, error) {
			resp, err := d.roundTrip(ctx, op.Request, op.Policy)
			if err != nil {
				return zero, err
			}
			if op.Decode == nil {
				return zero, resp.Err()
			}
			return op.Decode(resp)
		})
}

type call struct {
	name       string
	req        *core.Request
	policy     policy.Base
	idempotent bool
}

// run applies the total deadline, retries, timing and logging around attempt.
// In Blocking mode the execution lock is released for the whole native phase:
// slot acquisition, connection open, exchanges and backoff sleeps.
func run[T any](ctx context.Context, d *Dispatcher, mode Mode, c call, attempt func(context.Context) (T, error)) (T, error) {
	var zero T
	if d.closed.Load() {
		return zero, errors.ErrClientClosed
	}
	if c.req.ID == "" {
		c.req.ID = uuid.NewString()
	}
	ns, set := c.req.TargetNamespace(), c.req.TargetSet()
	logger := d.logger.With(
		"request_id", c.req.ID,
		"op", c.name,
		"namespace", ns,
		"mode", mode.String(),
	)

	start := time.Now()
	if c.policy.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.TotalTimeout)
		defer cancel()
	}

	var (
		result T
		err    error
	)
	d.suspend(mode, func() {
		err = d.retry(ctx, c, logger, func() error {
			v, err := attempt(ctx)
			if err != nil {
				return err
			}
			result = v
			return nil
		})
	})
	err = normalize(err)

	elapsed := time.Since(start)
	d.metrics.ObserveOperation(ns, set, c.name, elapsed, err)
	if err != nil {
		logger.Debug("dispatch failed", "duration", elapsed, "error_type", errors.ErrorType(err), "error", err)
		return zero, wrap(c, err)
	}
	logger.Debug("dispatch complete", "duration", elapsed)
	return result, nil
}

// wrap attaches the operation, namespace and request id to a failure
func wrap(c call, err error) error {
	return errors.NewErrorWithContext(c.name, c.req.TargetNamespace(), err, map[string]any{"request_id": c.req.ID})
}

// retry runs fn once, or under a bounded backoff for idempotent calls
func (d *Dispatcher) retry(ctx context.Context, c call, logger *slog.Logger, fn func() error) error {
	if !c.idempotent || c.policy.MaxRetries <= 0 {
		return fn()
	}

	var b backoff.BackOff
	if c.policy.SleepBetweenRetries > 0 {
		b = backoff.NewConstantBackOff(c.policy.SleepBetweenRetries)
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 5 * time.Millisecond
		eb.MaxInterval = time.Second
		eb.MaxElapsedTime = 0
		b = eb
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.policy.MaxRetries)), ctx)

	ns := c.req.TargetNamespace()
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		d.metrics.Retry(ns, c.name)
		logger.Warn("retrying command", "error_type", errors.ErrorType(err), "error", err, "backoff", wait)
	})
}

// roundTrip exchanges one request over a pooled connection
func (d *Dispatcher) roundTrip(ctx context.Context, req *core.Request, pol policy.Base) (*core.Response, error) {
	lease, err := d.pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	d.metrics.Acquire()
	defer d.metrics.Release()

	var resp *core.Response
	err = d.await(ctx, pol, lease.Abandon, func(ctx context.Context) error {
		var err error
		resp, err = lease.Conn().Exchange(ctx, req)
		return err
	})
	switch {
	case stderrors.Is(err, errAbandoned):
		return nil, abandonError(ctx)
	case err != nil:
		lease.Discard()
		return nil, classify(err)
	case resp == nil:
		lease.Discard()
		return nil, errors.Newf(errors.ErrConnection, "empty response")
	}
	lease.Release()
	return resp, nil
}

var errAbandoned = stderrors.New("abandoned")

// await runs native on its own goroutine under the socket timeout and waits
// for it. When the wait gives up first, abandon is called with the drain
// decision and a channel closed once native returns, and the returned error
// wraps errAbandoned.
func (d *Dispatcher) await(ctx context.Context, pol policy.Base, abandon func(bool, <-chan struct{}), native func(context.Context) error) error {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if pol.SocketTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, pol.SocketTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	inflight := make(chan struct{})
	go func() {
		defer close(inflight)
		done <- native(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		abandon(pol.TimeoutAction == policy.Drain, inflight)
		return fmt.Errorf("%w: %w", errAbandoned, attemptCtx.Err())
	}
}

// abandonError reports an abandoned wait: caller cancellation passes through,
// any deadline becomes ErrTimeout.
func abandonError(ctx context.Context) error {
	if stderrors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return errors.Newf(errors.ErrTimeout, "no response within deadline")
}

// classify maps transport failures onto the error taxonomy
func classify(err error) error {
	var se *errors.ServerError
	switch {
	case stderrors.As(err, &se),
		errors.IsLocal(err),
		errors.IsTimeout(err),
		stderrors.Is(err, errors.ErrConnection),
		stderrors.Is(err, errors.ErrClientClosed),
		stderrors.Is(err, context.Canceled):
		return err
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Newf(errors.ErrTimeout, "%v", err)
	}
	return fmt.Errorf("%w: %w", errors.ErrConnection, err)
}

// normalize turns any deadline that escaped the pipeline into ErrTimeout
func normalize(err error) error {
	if err == nil || errors.IsTimeout(err) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Newf(errors.ErrTimeout, "%v", err)
	}
	return err
}
