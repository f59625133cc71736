package aerokit

import (
	"context"

	"github.com/pay-theory/aerokit/pkg/dispatch"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/exp"
	"github.com/pay-theory/aerokit/pkg/policy"
	"github.com/pay-theory/aerokit/pkg/query"
	"github.com/pay-theory/aerokit/pkg/types"
)

// Query builds a query or scan. Builder mistakes are recorded and reported
// when the query runs.
type Query struct {
	c          *Client
	spec       query.Spec
	policy     *policy.Query
	scan       bool
	builderErr error
}

func newQuery(c *Client, namespace, set string, scan bool) *Query {
	return &Query{c: c, spec: query.Spec{Namespace: namespace, Set: set}, scan: scan}
}

func (q *Query) recordBuilderError(err error) {
	if q.builderErr == nil {
		q.builderErr = err
	}
}

// Select limits the bins returned for each record
func (q *Query) Select(bins ...string) *Query {
	q.spec.Bins = append(q.spec.Bins, bins...)
	return q
}

// NoBins returns record metadata only
func (q *Query) NoBins() *Query {
	q.spec.NoBins = true
	return q
}

// Where sets the secondary index predicate. A query takes one predicate;
// scans take none.
func (q *Query) Where(p query.Predicate) *Query {
	switch {
	case q.scan:
		q.recordBuilderError(errors.Newf(errors.ErrInvalidArgument, "scan cannot use an index predicate, use Query"))
	case q.spec.Predicate != nil:
		q.recordBuilderError(errors.Newf(errors.ErrInvalidArgument, "query already has predicate %s", q.spec.Predicate))
	default:
		q.spec.Predicate = &p
	}
	return q
}

// Filter sets the expression filter evaluated against each record
func (q *Query) Filter(e exp.Expr) *Query {
	f, err := q.c.BuildFilter(e)
	if err != nil {
		q.recordBuilderError(err)
		return q
	}
	q.spec.Filter = f
	return q
}

// After resumes a scan after the record an encoded cursor points at. An
// empty cursor starts from the beginning.
func (q *Query) After(cursor string) *Query {
	c, err := query.DecodeCursor(cursor)
	if err != nil {
		q.recordBuilderError(err)
		return q
	}
	q.spec.After = c
	return q
}

// WithPolicy overrides the client's default query policy
func (q *Query) WithPolicy(p *policy.Query) *Query {
	q.policy = p
	return q
}

// Spec returns the query as built so far
func (q *Query) Spec() query.Spec {
	return q.spec
}

func (q *Query) op() (dispatch.StreamOp, error) {
	if q.builderErr != nil {
		return dispatch.StreamOp{}, q.builderErr
	}
	pol, err := q.c.queryPolicy(q.policy)
	if err != nil {
		return dispatch.StreamOp{}, err
	}
	req, err := query.Compile(q.spec, pol)
	if err != nil {
		return dispatch.StreamOp{}, err
	}
	return dispatch.StreamOp{Request: req, Policy: pol.Base, Idempotent: true}, nil
}

// Stream opens the record stream. The caller must read it to io.EOF or
// Close it.
func (q *Query) Stream(ctx context.Context) (*dispatch.Stream, error) {
	op, err := q.op()
	if err != nil {
		return nil, err
	}
	return dispatch.OpenStream(ctx, q.c.dispatcher, dispatch.Blocking, op)
}

// Results collects every record in stream order
func (q *Query) Results(ctx context.Context) ([]*types.Record, error) {
	s, err := q.Stream(ctx)
	if err != nil {
		return nil, err
	}
	return query.Collect(ctx, s)
}

// ForEach calls h for each record on the calling goroutine, in stream order.
// See query.ForEach for how the handler ends iteration.
func (q *Query) ForEach(ctx context.Context, h query.Handler) error {
	s, err := q.Stream(ctx)
	if err != nil {
		return err
	}
	return query.ForEach(ctx, s, h)
}

// Page reads up to limit records and a cursor for the next page
func (q *Query) Page(ctx context.Context, limit int) (*query.Page, error) {
	if !q.scan {
		return nil, errors.Newf(errors.ErrInvalidArgument, "pagination is only supported for scans")
	}
	if limit <= 0 {
		return nil, errors.Newf(errors.ErrInvalidArgument, "page limit must be positive, got %d", limit)
	}
	s, err := q.Stream(ctx)
	if err != nil {
		return nil, err
	}
	return query.CollectPage(ctx, s, limit)
}

// AsyncQuery is a Query whose results arrive as futures. Handlers passed
// to ForEach run on a dispatcher worker.
type AsyncQuery struct {
	q *Query
}

func (a *AsyncQuery) Select(bins ...string) *AsyncQuery {
	a.q.Select(bins...)
	return a
}

func (a *AsyncQuery) NoBins() *AsyncQuery {
	a.q.NoBins()
	return a
}

func (a *AsyncQuery) Where(p query.Predicate) *AsyncQuery {
	a.q.Where(p)
	return a
}

func (a *AsyncQuery) Filter(e exp.Expr) *AsyncQuery {
	a.q.Filter(e)
	return a
}

func (a *AsyncQuery) After(cursor string) *AsyncQuery {
	a.q.After(cursor)
	return a
}

func (a *AsyncQuery) WithPolicy(p *policy.Query) *AsyncQuery {
	a.q.WithPolicy(p)
	return a
}

// asyncStream opens the stream on a worker and runs fn over it
func asyncStream[T any](ctx context.Context, a *AsyncQuery, fn func(context.Context, *dispatch.Stream) (T, error)) *dispatch.Future[T] {
	op, err := a.q.op()
	if err != nil {
		return dispatch.Failed[T](err)
	}
	d := a.q.c.dispatcher
	return dispatch.Go(ctx, d, func(ctx context.Context) (T, error) {
		s, err := dispatch.OpenStream(ctx, d, dispatch.NonBlocking, op)
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx, s)
	})
}

// Results collects every record in stream order
func (a *AsyncQuery) Results(ctx context.Context) *dispatch.Future[[]*types.Record] {
	return asyncStream(ctx, a, func(ctx context.Context, s *dispatch.Stream) ([]*types.Record, error) {
		return query.Collect(ctx, s)
	})
}

// ForEach calls h for each record in stream order
func (a *AsyncQuery) ForEach(ctx context.Context, h query.Handler) *dispatch.Future[struct{}] {
	return asyncStream(ctx, a, func(ctx context.Context, s *dispatch.Stream) (struct{}, error) {
		return struct{}{}, query.ForEach(ctx, s, h)
	})
}

// Page reads up to limit records and a cursor for the next page
func (a *AsyncQuery) Page(ctx context.Context, limit int) *dispatch.Future[*query.Page] {
	if !a.q.scan {
		return dispatch.Failed[*query.Page](errors.Newf(errors.ErrInvalidArgument, "pagination is only supported for scans"))
	}
	return asyncStream(ctx, a, func(ctx context.Context, s *dispatch.Stream) (*query.Page, error) {
		return query.CollectPage(ctx, s, limit)
	})
}
