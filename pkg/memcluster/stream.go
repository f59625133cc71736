package memcluster

import (
	"context"
	"io"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/types"
)

// query snapshots the records a scan or index query selects, in digest order
func (c *Cluster) query(req *core.Request) (core.RecordStream, error) {
	if req.Namespace == "" {
		return nil, &errors.ServerError{Code: errors.ResultInvalidNamespace, Node: NodeName}
	}
	f, code := compileFilter(req.Filter)
	if code != errors.ResultOK {
		return nil, &errors.ServerError{Code: code, Node: NodeName}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if req.Index != nil {
		vt, ok := c.indexes[indexKey{namespace: req.Namespace, set: req.Set, bin: req.Index.Bin, indexType: req.Index.IndexType}]
		if !ok {
			return nil, &errors.ServerError{Code: errors.ResultIndexNotFound, Node: NodeName, Msg: "no index on " + req.Index.Bin}
		}
		if req.Index.Begin.Type() != vt {
			return nil, &errors.ServerError{Code: errors.ResultParameter, Node: NodeName, Msg: "index holds " + vt.String() + " values"}
		}
	}

	now := c.now()
	var (
		out     []*types.Record
		failure errors.ResultCode
	)
	visit := func(e *entry) bool {
		if req.After != nil && e.digest == *req.After {
			return true
		}
		if (req.Set != "" && e.set != req.Set) || e.expired(now) {
			return true
		}
		if req.Index != nil && !indexMatches(req.Index, e.bins) {
			return true
		}
		switch code := f.check(e, now); code {
		case errors.ResultOK:
		case errors.ResultFilteredOut:
			return true
		default:
			failure = code
			return false
		}

		key, _ := types.NewKeyWithDigest(req.Namespace, e.set, e.digest[:])
		if e.keyStored {
			key.UserKey = e.userKey
		}
		out = append(out, e.record(key, req.Bins, req.NoBins))
		return req.MaxRecords <= 0 || int64(len(out)) < req.MaxRecords
	}

	if t := c.tree(req.Namespace, false); t != nil {
		if req.After != nil {
			t.Ascend(&entry{digest: *req.After}, visit)
		} else {
			t.Scan(visit)
		}
	}
	if failure != errors.ResultOK {
		return nil, &errors.ServerError{Code: failure, Node: NodeName}
	}

	s := &recordStream{records: out}
	if req.RecordsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(req.RecordsPerSecond), 1)
	}
	c.logger.Debug("stream opened", "command", req.Command.String(), "namespace", req.Namespace, "set", req.Set, "records", len(out))
	return s, nil
}

func indexMatches(f *core.IndexFilter, bins types.BinMap) bool {
	v, ok := bins[f.Bin]
	if !ok {
		return false
	}
	switch f.IndexType {
	case core.IndexDefault:
		return inRange(f, v)
	case core.IndexList:
		if v.Type() != types.ListType {
			return false
		}
		for _, item := range v.AsList() {
			if inRange(f, item) {
				return true
			}
		}
	case core.IndexMapKeys, core.IndexMapValues:
		if v.Type() != types.MapType {
			return false
		}
		for _, me := range v.AsMap() {
			probe := me.Value
			if f.IndexType == core.IndexMapKeys {
				probe = me.Key
			}
			if inRange(f, probe) {
				return true
			}
		}
	}
	return false
}

func inRange(f *core.IndexFilter, v types.Value) bool {
	if v.Type() != f.Begin.Type() {
		return false
	}
	return types.Compare(v, f.Begin) >= 0 && types.Compare(v, f.End) <= 0
}

// recordStream replays a query snapshot
type recordStream struct {
	mu      sync.Mutex
	records []*types.Record
	pos     int
	limiter *rate.Limiter
	closed  bool
}

func (s *recordStream) Next(ctx context.Context) (*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.Newf(errors.ErrConnection, "stream closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

func (s *recordStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
