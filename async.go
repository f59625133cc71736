package aerokit

import (
	"context"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/dispatch"
	"github.com/pay-theory/aerokit/pkg/policy"
	"github.com/pay-theory/aerokit/pkg/types"
)

// AsyncClient runs commands on the dispatcher's workers and returns futures.
// It compiles and decodes calls exactly like Client. Argument errors are
// reported through an already completed future.
type AsyncClient struct {
	c *Client
}

// Client returns the blocking front-end sharing this client's resources
func (a *AsyncClient) Client() *Client {
	return a.c
}

func submit[T any](ctx context.Context, a *AsyncClient, op dispatch.Op[T], err error) *dispatch.Future[T] {
	if err != nil {
		return dispatch.Failed[T](err)
	}
	return dispatch.Submit(ctx, a.c.dispatcher, op)
}

func submitBatch[T any](ctx context.Context, a *AsyncClient, op dispatch.BatchOp[T], err error) *dispatch.Future[[]T] {
	if err != nil {
		return dispatch.Failed[[]T](err)
	}
	return dispatch.SubmitBatch(ctx, a.c.dispatcher, op)
}

// Put writes bins to the record at key
func (a *AsyncClient) Put(ctx context.Context, p *policy.Write, key *types.Key, bins types.BinMap) *dispatch.Future[struct{}] {
	op, err := a.c.putOp(p, key, bins)
	return submit(ctx, a, op, err)
}

// Get reads the record at key
func (a *AsyncClient) Get(ctx context.Context, p *policy.Read, key *types.Key, bins ...string) *dispatch.Future[*types.Record] {
	op, err := a.c.getOp(p, key, bins)
	return submit(ctx, a, op, err)
}

// GetHeader reads the record metadata at key
func (a *AsyncClient) GetHeader(ctx context.Context, p *policy.Read, key *types.Key) *dispatch.Future[*types.Record] {
	op, err := a.c.headerOp(p, key)
	return submit(ctx, a, op, err)
}

// Exists reports whether the record at key exists
func (a *AsyncClient) Exists(ctx context.Context, p *policy.Read, key *types.Key) *dispatch.Future[bool] {
	op, err := a.c.existsOp(p, key)
	return submit(ctx, a, op, err)
}

// Delete removes the record at key
func (a *AsyncClient) Delete(ctx context.Context, p *policy.Write, key *types.Key) *dispatch.Future[bool] {
	op, err := a.c.deleteOp(p, key)
	return submit(ctx, a, op, err)
}

// Touch resets the expiration of the record at key
func (a *AsyncClient) Touch(ctx context.Context, p *policy.Write, key *types.Key) *dispatch.Future[struct{}] {
	op, err := a.c.touchOp(p, key)
	return submit(ctx, a, op, err)
}

func (a *AsyncClient) Append(ctx context.Context, p *policy.Write, key *types.Key, bins types.BinMap) *dispatch.Future[struct{}] {
	op, err := a.c.mutateOp(p, key, core.OpAppend, bins)
	return submit(ctx, a, op, err)
}

func (a *AsyncClient) Prepend(ctx context.Context, p *policy.Write, key *types.Key, bins types.BinMap) *dispatch.Future[struct{}] {
	op, err := a.c.mutateOp(p, key, core.OpPrepend, bins)
	return submit(ctx, a, op, err)
}

func (a *AsyncClient) Add(ctx context.Context, p *policy.Write, key *types.Key, bins types.BinMap) *dispatch.Future[struct{}] {
	op, err := a.c.mutateOp(p, key, core.OpAdd, bins)
	return submit(ctx, a, op, err)
}

// Operate applies ops to the record at key in order
func (a *AsyncClient) Operate(ctx context.Context, p *policy.Write, key *types.Key, ops ...core.BinOp) *dispatch.Future[*types.Record] {
	op, err := a.c.operateOp(p, key, ops)
	return submit(ctx, a, op, err)
}

// BatchGet reads many records in key order
func (a *AsyncClient) BatchGet(ctx context.Context, p *policy.Batch, keys []*types.Key, bins ...string) *dispatch.Future[[]*types.Record] {
	op, err := a.c.batchGetOp(p, keys, bins)
	return submitBatch(ctx, a, op, err)
}

// BatchExists reports, in key order, whether each record exists
func (a *AsyncClient) BatchExists(ctx context.Context, p *policy.Batch, keys []*types.Key) *dispatch.Future[[]bool] {
	op, err := a.c.batchExistsOp(p, keys)
	return submitBatch(ctx, a, op, err)
}

// Query starts a secondary index query whose results arrive as futures
func (a *AsyncClient) Query(namespace, set string) *AsyncQuery {
	return &AsyncQuery{q: newQuery(a.c, namespace, set, false)}
}

// Scan starts a scan whose results arrive as futures
func (a *AsyncClient) Scan(namespace, set string) *AsyncQuery {
	return &AsyncQuery{q: newQuery(a.c, namespace, set, true)}
}
