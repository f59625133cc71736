package memcluster

import (
	"time"

	"github.com/tidwall/btree"

	"github.com/pay-theory/aerokit/internal/expr"
	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/policy"
	"github.com/pay-theory/aerokit/pkg/types"
)

// entry is one stored record
type entry struct {
	digest     [types.DigestSize]byte
	set        string
	userKey    types.Value
	keyStored  bool
	bins       types.BinMap
	generation uint32
	// voidTime is in seconds since the citrusleaf epoch; zero never expires
	voidTime   uint32
	lastUpdate time.Time
}

func voidTimeAt(t time.Time) uint32 {
	s := t.Unix() - types.CitrusleafEpoch
	if s < 0 {
		return 0
	}
	return uint32(s)
}

func (e *entry) expired(now time.Time) bool {
	return e.voidTime != 0 && voidTimeAt(now) >= e.voidTime
}

// size approximates the stored size as the packed bin names and values
func (e *entry) size() int64 {
	var n int64
	for name, v := range e.bins {
		packed, err := expr.PackValue(v)
		if err != nil {
			continue
		}
		n += int64(len(name) + len(packed))
	}
	return n
}

// record copies e into a result record
func (e *entry) record(key *types.Key, bins []string, noBins bool) *types.Record {
	rec := &types.Record{Key: key, Generation: e.generation, Expiration: e.voidTime}
	if noBins {
		return rec
	}
	rec.Bins = make(types.BinMap, len(e.bins))
	if len(bins) == 0 {
		for name, v := range e.bins {
			rec.Bins[name] = v
		}
		return rec
	}
	for _, name := range bins {
		if v, ok := e.bins[name]; ok {
			rec.Bins[name] = v
		}
	}
	return rec
}

// live returns the unexpired entry for digest. Callers hold c.mu.
func (c *Cluster) live(t *btree.BTreeG[*entry], digest [types.DigestSize]byte, now time.Time) (*entry, bool) {
	if t == nil {
		return nil, false
	}
	e, ok := t.Get(&entry{digest: digest})
	if !ok || e.expired(now) {
		return nil, false
	}
	return e, true
}

func failed(code errors.ResultCode) *core.Response {
	return &core.Response{ResultCode: code}
}

// voidTime resolves a write TTL against the current record
func (c *Cluster) voidTime(ttl int32, cur *entry, now time.Time) uint32 {
	switch {
	case ttl == policy.TTLNeverExpire:
		return 0
	case ttl == policy.TTLDontUpdate && cur != nil:
		return cur.voidTime
	case ttl > 0:
		return voidTimeAt(now.Add(time.Duration(ttl) * time.Second))
	}
	if c.defaultTTL > 0 {
		return voidTimeAt(now.Add(c.defaultTTL))
	}
	return 0
}

func (c *Cluster) read(req *core.Request) *core.Response {
	if req.Key == nil {
		return failed(errors.ResultParameter)
	}
	f, code := compileFilter(req.Filter)
	if code != errors.ResultOK {
		return failed(code)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	e, ok := c.live(c.tree(req.Key.Namespace, false), req.Key.Digest, now)
	if !ok {
		return failed(errors.ResultKeyNotFound)
	}
	if code := f.check(e, now); code != errors.ResultOK {
		return failed(code)
	}

	resp := &core.Response{ResultCode: errors.ResultOK}
	switch req.Command {
	case core.CommandExists:
	case core.CommandGetHeader:
		resp.Record = e.record(req.Key, nil, true)
	default:
		resp.Record = e.record(req.Key, req.Bins, req.NoBins)
	}
	return resp
}

func (c *Cluster) write(req *core.Request) *core.Response {
	if req.Key == nil {
		return failed(errors.ResultParameter)
	}
	wp := req.Write
	if wp == nil {
		wp = &core.WriteParams{}
	}
	f, code := compileFilter(req.Filter)
	if code != errors.ResultOK {
		return failed(code)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	t := c.tree(req.Key.Namespace, true)
	cur, found := c.live(t, req.Key.Digest, now)

	action := policy.RecordExistsAction(wp.RecordExistsAction)
	switch {
	case !found && (action == policy.UpdateOnly || action == policy.ReplaceOnly):
		return failed(errors.ResultKeyNotFound)
	case found && action == policy.CreateOnly:
		return failed(errors.ResultKeyExists)
	}
	if found {
		if code := checkGeneration(wp, cur.generation); code != errors.ResultOK {
			return failed(code)
		}
		if code := f.check(cur, now); code != errors.ResultOK {
			return failed(code)
		}
	}

	bins := make(types.BinMap)
	if found && (action == policy.Update || action == policy.UpdateOnly) {
		for name, v := range cur.bins {
			bins[name] = v
		}
	}

	var read types.BinMap
	wrote := false
	for _, op := range req.Ops {
		if op.Type == core.OpRead {
			if read == nil {
				read = make(types.BinMap)
			}
			if op.Bin == "" {
				for name, v := range bins {
					read[name] = v
				}
			} else if v, ok := bins[op.Bin]; ok {
				read[op.Bin] = v
			}
			continue
		}
		if code := applyOp(bins, op); code != errors.ResultOK {
			return failed(code)
		}
		wrote = true
	}

	if !wrote {
		// read-only operate
		if !found {
			return failed(errors.ResultKeyNotFound)
		}
		return &core.Response{ResultCode: errors.ResultOK, Record: &types.Record{
			Key: req.Key, Bins: read, Generation: cur.generation, Expiration: cur.voidTime,
		}}
	}

	if len(bins) == 0 {
		if found {
			t.Delete(cur)
		}
		return &core.Response{ResultCode: errors.ResultOK, Record: &types.Record{Key: req.Key, Bins: read}}
	}

	next := &entry{
		digest:     req.Key.Digest,
		set:        req.Key.Set,
		bins:       bins,
		generation: 1,
		voidTime:   c.voidTime(wp.Expiration, cur, now),
		lastUpdate: now,
	}
	if found {
		next.generation = cur.generation + 1
		next.userKey, next.keyStored = cur.userKey, cur.keyStored
	}
	if wp.SendKey && !req.Key.UserKey.IsNil() {
		next.userKey, next.keyStored = req.Key.UserKey, true
	}
	t.Set(next)

	return &core.Response{ResultCode: errors.ResultOK, Record: &types.Record{
		Key: req.Key, Bins: read, Generation: next.generation, Expiration: next.voidTime,
	}}
}

func checkGeneration(wp *core.WriteParams, current uint32) errors.ResultCode {
	switch policy.GenerationPolicy(wp.GenerationPolicy) {
	case policy.GenerationExpectEqual:
		if current != wp.Generation {
			return errors.ResultGeneration
		}
	case policy.GenerationExpectGreater:
		if wp.Generation <= current {
			return errors.ResultGeneration
		}
	}
	return errors.ResultOK
}

// applyOp mutates bins with a single write operation
func applyOp(bins types.BinMap, op core.BinOp) errors.ResultCode {
	if op.Bin == "" {
		return errors.ResultParameter
	}
	cur, exists := bins[op.Bin]

	switch op.Type {
	case core.OpWrite:
		if op.Value.IsNil() {
			delete(bins, op.Bin)
		} else {
			bins[op.Bin] = op.Value
		}

	case core.OpAppend, core.OpPrepend:
		if !exists {
			switch op.Value.Type() {
			case types.StringType, types.BlobType:
				bins[op.Bin] = op.Value
				return errors.ResultOK
			}
			return errors.ResultParameter
		}
		if cur.Type() != op.Value.Type() {
			return errors.ResultBinType
		}
		switch cur.Type() {
		case types.StringType:
			if op.Type == core.OpAppend {
				bins[op.Bin] = types.StringValue(cur.AsString() + op.Value.AsString())
			} else {
				bins[op.Bin] = types.StringValue(op.Value.AsString() + cur.AsString())
			}
		case types.BlobType:
			var b []byte
			if op.Type == core.OpAppend {
				b = append(append(b, cur.AsBytes()...), op.Value.AsBytes()...)
			} else {
				b = append(append(b, op.Value.AsBytes()...), cur.AsBytes()...)
			}
			bins[op.Bin] = types.BlobValue(b)
		default:
			return errors.ResultBinType
		}

	case core.OpAdd:
		if !exists {
			switch op.Value.Type() {
			case types.IntType, types.FloatType, types.HLLType:
				bins[op.Bin] = op.Value
				return errors.ResultOK
			}
			return errors.ResultParameter
		}
		sum, code := add(cur, op.Value)
		if code != errors.ResultOK {
			return code
		}
		bins[op.Bin] = sum

	default:
		return errors.ResultParameter
	}
	return errors.ResultOK
}

// add increments numbers and folds items or sketches into an HLL bin
func add(cur, v types.Value) (types.Value, errors.ResultCode) {
	switch cur.Type() {
	case types.IntType:
		if v.Type() == types.IntType {
			return types.IntValue(cur.AsInt() + v.AsInt()), errors.ResultOK
		}
	case types.FloatType:
		if v.Type() == types.FloatType {
			return types.FloatValue(cur.AsFloat() + v.AsFloat()), errors.ResultOK
		}
	case types.HLLType:
		sk, err := cur.Sketch()
		if err != nil {
			return types.Value{}, errors.ResultParameter
		}
		switch v.Type() {
		case types.HLLType:
			other, err := v.Sketch()
			if err != nil {
				return types.Value{}, errors.ResultParameter
			}
			if err := sk.Merge(other); err != nil {
				return types.Value{}, errors.ResultParameter
			}
		case types.StringType:
			sk.Insert([]byte(v.AsString()))
		case types.BlobType:
			sk.Insert(v.AsBytes())
		default:
			return types.Value{}, errors.ResultBinType
		}
		merged, err := types.HLLValue(sk)
		if err != nil {
			return types.Value{}, errors.ResultParameter
		}
		return merged, errors.ResultOK
	}
	return types.Value{}, errors.ResultBinType
}

func (c *Cluster) remove(req *core.Request) *core.Response {
	if req.Key == nil {
		return failed(errors.ResultParameter)
	}
	f, code := compileFilter(req.Filter)
	if code != errors.ResultOK {
		return failed(code)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	t := c.tree(req.Key.Namespace, false)
	e, ok := c.live(t, req.Key.Digest, now)
	if !ok {
		return failed(errors.ResultKeyNotFound)
	}
	if req.Write != nil {
		if code := checkGeneration(req.Write, e.generation); code != errors.ResultOK {
			return failed(code)
		}
	}
	if code := f.check(e, now); code != errors.ResultOK {
		return failed(code)
	}
	t.Delete(e)
	return &core.Response{ResultCode: errors.ResultOK}
}

func (c *Cluster) touch(req *core.Request) *core.Response {
	if req.Key == nil {
		return failed(errors.ResultParameter)
	}
	wp := req.Write
	if wp == nil {
		wp = &core.WriteParams{}
	}
	f, code := compileFilter(req.Filter)
	if code != errors.ResultOK {
		return failed(code)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	t := c.tree(req.Key.Namespace, false)
	e, ok := c.live(t, req.Key.Digest, now)
	if !ok {
		return failed(errors.ResultKeyNotFound)
	}
	if code := checkGeneration(wp, e.generation); code != errors.ResultOK {
		return failed(code)
	}
	if code := f.check(e, now); code != errors.ResultOK {
		return failed(code)
	}

	next := *e
	next.generation++
	next.voidTime = c.voidTime(wp.Expiration, e, now)
	next.lastUpdate = now
	t.Set(&next)
	return &core.Response{ResultCode: errors.ResultOK, Record: next.record(req.Key, nil, true)}
}

func (c *Cluster) batch(req *core.Request) *core.Response {
	f, code := compileFilter(req.Filter)
	if code != errors.ResultOK {
		return failed(code)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()

	resp := &core.Response{
		ResultCode:  errors.ResultOK,
		ResultCodes: make([]errors.ResultCode, len(req.Keys)),
	}
	exists := req.Command == core.CommandBatchExists
	if exists {
		resp.Exists = make([]bool, len(req.Keys))
	} else {
		resp.Records = make([]*types.Record, len(req.Keys))
	}

	for i, key := range req.Keys {
		if key == nil {
			resp.ResultCodes[i] = errors.ResultParameter
			continue
		}
		e, ok := c.live(c.tree(key.Namespace, false), key.Digest, now)
		if !ok {
			resp.ResultCodes[i] = errors.ResultKeyNotFound
			continue
		}
		if code := f.check(e, now); code != errors.ResultOK {
			resp.ResultCodes[i] = code
			continue
		}
		if exists {
			resp.Exists[i] = true
		} else {
			resp.Records[i] = e.record(key, req.Bins, req.NoBins)
		}
	}
	return resp
}
