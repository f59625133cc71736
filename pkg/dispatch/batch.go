package dispatch

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/policy"
)

// BatchOp is a multi-key read. Request.Keys is split into sub-requests of at
// most Policy.MaxKeysPerNode keys, run Policy.MaxConcurrentNodes at a time.
type BatchOp[T any] struct {
	Name    string
	Request *core.Request
	Policy  policy.Batch

	// Decode returns one result per key of the sub-request, in key order.
	Decode func(*core.Response) ([]T, error)
}

// DoBatch runs op on the calling goroutine. Results are in key order.
func DoBatch[T any](ctx context.Context, d *Dispatcher, op BatchOp[T]) ([]T, error) {
	return executeBatch(ctx, d, Blocking, op)
}

// SubmitBatch runs op on a worker and returns its future
func SubmitBatch[T any](ctx context.Context, d *Dispatcher, op BatchOp[T]) *Future[[]T] {
	id := ""
	if op.Request != nil {
		if op.Request.ID == "" {
			op.Request.ID = uuid.NewString()
		}
		id = op.Request.ID
	}
	return spawn(d, id, func() ([]T, error) {
		return executeBatch(ctx, d, NonBlocking, op)
	})
}

type span struct {
	lo, hi int
}

func chunks(n, size int) []span {
	if size <= 0 || size > n {
		size = n
	}
	out := make([]span, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		out = append(out, span{lo: lo, hi: min(lo+size, n)})
	}
	return out
}

func executeBatch[T any](ctx context.Context, d *Dispatcher, mode Mode, op BatchOp[T]) ([]T, error) {
	if op.Request == nil {
		return nil, errors.Newf(errors.ErrInvalidArgument, "nil request")
	}
	if op.Decode == nil {
		return nil, errors.Newf(errors.ErrInvalidArgument, "batch requires a decoder")
	}
	keys := op.Request.Keys
	if len(keys) == 0 {
		return []T{}, nil
	}
	name := op.Name
	if name == "" {
		name = op.Request.Command.String()
	}

	spans := chunks(len(keys), op.Policy.MaxKeysPerNode)
	c := call{name: name, req: op.Request, policy: op.Policy.Base, idempotent: true}
	return run(ctx, d, mode, c, func(ctx context.Context) ([]T, error) {
		release, err := d.pool.Protector().AcquireBatch(ctx, len(keys))
		if err != nil {
			return nil, err
		}
		defer release()

		out := make([]T, len(keys))
		g, gctx := errgroup.WithContext(ctx)
		if op.Policy.MaxConcurrentNodes > 0 {
			g.SetLimit(op.Policy.MaxConcurrentNodes)
		}
		for _, sp := range spans {
			sub := *op.Request
			sub.Keys = keys[sp.lo:sp.hi]
			g.Go(func() error {
				resp, err := d.roundTrip(gctx, &sub, op.Policy.Base)
				if err != nil {
					return err
				}
				vals, err := op.Decode(resp)
				if err != nil {
					return err
				}
				if len(vals) != len(sub.Keys) {
					return errors.Newf(errors.ErrServer, "batch response has %d results for %d keys", len(vals), len(sub.Keys))
				}
				copy(out[sp.lo:sp.hi], vals)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	})
}
