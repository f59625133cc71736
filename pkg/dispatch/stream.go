package dispatch

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pay-theory/aerokit/pkg/cluster"
	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/policy"
	"github.com/pay-theory/aerokit/pkg/types"
)

// StreamOp is a query or scan command
type StreamOp struct {
	Name    string
	Request *core.Request
	Policy  policy.Base

	// Idempotent streams retry opening per Policy. Records already
	// delivered are never replayed.
	Idempotent bool
}

// Stream is an open record stream holding a pooled connection. It implements
// core.RecordStream and is not safe for concurrent use.
type Stream struct {
	d      *Dispatcher
	mode   Mode
	name   string
	req    *core.Request
	policy policy.Base
	logger *slog.Logger
	start  time.Time

	ctx          context.Context
	cancel       context.CancelFunc
	cancelStream context.CancelFunc

	lease     *cluster.Lease
	inner     core.RecordStream
	delivered int
	finished  bool
	err       error
}

// OpenStream sends op and returns its record stream. The caller must read
// the stream to io.EOF or Close it.
func OpenStream(ctx context.Context, d *Dispatcher, mode Mode, op StreamOp) (*Stream, error) {
	if op.Request == nil {
		return nil, errors.Newf(errors.ErrInvalidArgument, "nil request")
	}
	if d.closed.Load() {
		return nil, errors.ErrClientClosed
	}
	if op.Request.ID == "" {
		op.Request.ID = uuid.NewString()
	}
	name := op.Name
	if name == "" {
		name = op.Request.Command.String()
	}

	s := &Stream{
		d:      d,
		mode:   mode,
		name:   name,
		req:    op.Request,
		policy: op.Policy,
		start:  time.Now(),
		logger: d.logger.With(
			"request_id", op.Request.ID,
			"op", name,
			"namespace", op.Request.TargetNamespace(),
			"mode", mode.String(),
		),
	}
	if op.Policy.TotalTimeout > 0 {
		s.ctx, s.cancel = context.WithTimeout(ctx, op.Policy.TotalTimeout)
	} else {
		s.ctx, s.cancel = context.WithCancel(ctx)
	}

	c := call{name: name, req: op.Request, policy: op.Policy, idempotent: op.Idempotent}
	var err error
	d.suspend(mode, func() {
		err = d.retry(s.ctx, c, s.logger, s.open)
	})
	if err != nil {
		err = normalize(err)
		s.cancel()
		d.metrics.ObserveOperation(op.Request.TargetNamespace(), op.Request.TargetSet(), name, time.Since(s.start), err)
		s.logger.Debug("open stream failed", "error_type", errors.ErrorType(err), "error", err)
		return nil, wrap(c, err)
	}
	return s, nil
}

func (s *Stream) open() error {
	lease, err := s.d.pool.Get(s.ctx)
	if err != nil {
		return err
	}

	streamCtx, cancelStream := context.WithCancel(s.ctx)
	abandon := func(drain bool, inflight <-chan struct{}) {
		cancelStream()
		lease.Abandon(drain, inflight)
	}

	var inner core.RecordStream
	err = s.d.await(s.ctx, s.policy, abandon, func(context.Context) error {
		var err error
		inner, err = lease.Conn().Stream(streamCtx, s.req)
		return err
	})
	switch {
	case stderrors.Is(err, errAbandoned):
		return abandonError(s.ctx)
	case err != nil:
		cancelStream()
		lease.Discard()
		return classify(err)
	case inner == nil:
		cancelStream()
		lease.Discard()
		return errors.Newf(errors.ErrConnection, "empty stream")
	}

	s.lease, s.inner, s.cancelStream = lease, inner, cancelStream
	s.d.metrics.Acquire()
	return nil
}

// Next returns the next record in server order, or io.EOF when done. ctx
// bounds this wait; the call's total deadline still applies.
func (s *Stream) Next(ctx context.Context) (*types.Record, error) {
	if s.finished {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}

	nctx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	defer cancel()

	var (
		rec *types.Record
		err error
	)
	s.d.suspend(s.mode, func() {
		rec, err = s.next(ctx, nctx)
	})
	return rec, err
}

// next waits for one record and settles the connection when the stream ends
func (s *Stream) next(ctx, nctx context.Context) (*types.Record, error) {
	var rec *types.Record
	err := s.d.await(nctx, s.policy, s.abandon, func(c context.Context) error {
		var err error
		rec, err = s.inner.Next(c)
		return err
	})
	switch {
	case err == nil:
		s.delivered++
		return rec, nil
	case stderrors.Is(err, errAbandoned):
		err = s.abandonedErr(ctx)
		s.finish(err, nil)
		return nil, err
	case stderrors.Is(err, io.EOF):
		s.finish(nil, s.lease.Release)
		return nil, io.EOF
	}

	err = classify(err)
	s.finish(err, s.lease.Discard)
	return nil, err
}

func (s *Stream) abandon(drain bool, inflight <-chan struct{}) {
	s.cancelStream()
	s.lease.Abandon(drain, inflight)
}

func (s *Stream) abandonedErr(ctx context.Context) error {
	for _, c := range []context.Context{ctx, s.ctx} {
		if stderrors.Is(c.Err(), context.Canceled) {
			return c.Err()
		}
	}
	return errors.Newf(errors.ErrTimeout, "no record within deadline")
}

// Close stops the stream. A stream closed before io.EOF has its connection
// drained or discarded per the policy's TimeoutAction.
func (s *Stream) Close() error {
	return s.Abort(nil)
}

// Abort closes the stream early and records err as the call outcome.
func (s *Stream) Abort(err error) error {
	if s.finished {
		return nil
	}
	s.d.suspend(s.mode, func() {
		s.finish(err, s.settleEarly)
	})
	return nil
}

func (s *Stream) settleEarly() {
	closed := make(chan struct{})
	close(closed)
	s.abandon(s.policy.TimeoutAction == policy.Drain, closed)
}

// finish settles the connection once and records the call
func (s *Stream) finish(err error, settle func()) {
	s.finished = true
	s.err = err
	if cerr := s.inner.Close(); cerr != nil {
		s.logger.Debug("close record stream", "error", cerr)
	}
	if settle != nil {
		settle()
	}
	s.cancelStream()
	s.cancel()
	s.d.metrics.Release()

	ns, set := s.req.TargetNamespace(), s.req.TargetSet()
	elapsed := time.Since(s.start)
	s.d.metrics.Delivered(ns, set, s.delivered)
	s.d.metrics.ObserveOperation(ns, set, s.name, elapsed, err)
	s.logger.Debug("stream finished",
		"duration", elapsed,
		"records", s.delivered,
		"error_type", errors.ErrorType(err))
}

// Delivered returns how many records Next has returned
func (s *Stream) Delivered() int {
	return s.delivered
}

// RequestID returns the id of the stream's request
func (s *Stream) RequestID() string {
	return s.req.ID
}
