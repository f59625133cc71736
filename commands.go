package aerokit

import (
	"sort"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/dispatch"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/policy"
	"github.com/pay-theory/aerokit/pkg/types"
	"github.com/pay-theory/aerokit/pkg/validation"
)

// The builders below compile a call into a dispatch operation. Both
// front-ends use them, so a blocking and a non-blocking call with the same
// arguments send the same request and decode it the same way. Invalid
// arguments fail here, before anything reaches the transport.

func (c *Client) readPolicy(p *policy.Read) (*policy.Read, error) {
	if p == nil {
		p = c.policies.Read
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Client) writePolicy(p *policy.Write) (*policy.Write, error) {
	if p == nil {
		p = c.policies.Write
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Client) batchPolicy(p *policy.Batch) (*policy.Batch, error) {
	if p == nil {
		p = c.policies.Batch
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Client) queryPolicy(p *policy.Query) (*policy.Query, error) {
	if p == nil {
		p = c.policies.Query
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func validateKey(key *types.Key) error {
	if key == nil {
		return errors.Newf(errors.ErrInvalidArgument, "key cannot be nil")
	}
	if err := validation.ValidateNamespace(key.Namespace); err != nil {
		return err
	}
	return validation.ValidateSetName(key.Set)
}

func validateBinNames(bins []string) error {
	for _, name := range bins {
		if err := validation.ValidateBinName(name); err != nil {
			return err
		}
	}
	return nil
}

// binOps turns bins into ops of type t in bin name order
func binOps(t core.OpType, bins types.BinMap) ([]core.BinOp, error) {
	if len(bins) == 0 {
		return nil, errors.Newf(errors.ErrInvalidArgument, "at least one bin is required")
	}
	names := make([]string, 0, len(bins))
	for name := range bins {
		names = append(names, name)
	}
	sort.Strings(names)

	ops := make([]core.BinOp, 0, len(names))
	for _, name := range names {
		if err := validation.ValidateBinName(name); err != nil {
			return nil, err
		}
		v := bins[name]
		if err := validation.ValidateValue(v); err != nil {
			return nil, err
		}
		ops = append(ops, core.BinOp{Type: t, Bin: name, Value: v})
	}
	return ops, nil
}

func decodeRecord(resp *core.Response) (*types.Record, error) {
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// decodeFound maps a missing record to false instead of an error
func decodeFound(resp *core.Response) (bool, error) {
	switch resp.ResultCode {
	case errors.ResultOK:
		return true, nil
	case errors.ResultKeyNotFound:
		return false, nil
	}
	return false, resp.Err()
}

func decodeNone(resp *core.Response) (struct{}, error) {
	return struct{}{}, resp.Err()
}

func (c *Client) getOp(p *policy.Read, key *types.Key, bins []string) (dispatch.Op[*types.Record], error) {
	var op dispatch.Op[*types.Record]
	p, err := c.readPolicy(p)
	if err != nil {
		return op, err
	}
	if err := validateKey(key); err != nil {
		return op, err
	}
	if err := validateBinNames(bins); err != nil {
		return op, err
	}
	req := &core.Request{Command: core.CommandGet, Key: key, Bins: bins}
	p.Apply(req)
	return dispatch.Op[*types.Record]{Request: req, Policy: p.Base, Idempotent: true, Decode: decodeRecord}, nil
}

func (c *Client) headerOp(p *policy.Read, key *types.Key) (dispatch.Op[*types.Record], error) {
	var op dispatch.Op[*types.Record]
	p, err := c.readPolicy(p)
	if err != nil {
		return op, err
	}
	if err := validateKey(key); err != nil {
		return op, err
	}
	req := &core.Request{Command: core.CommandGetHeader, Key: key, NoBins: true}
	p.Apply(req)
	return dispatch.Op[*types.Record]{Request: req, Policy: p.Base, Idempotent: true, Decode: decodeRecord}, nil
}

func (c *Client) existsOp(p *policy.Read, key *types.Key) (dispatch.Op[bool], error) {
	var op dispatch.Op[bool]
	p, err := c.readPolicy(p)
	if err != nil {
		return op, err
	}
	if err := validateKey(key); err != nil {
		return op, err
	}
	req := &core.Request{Command: core.CommandExists, Key: key, NoBins: true}
	p.Apply(req)
	return dispatch.Op[bool]{Request: req, Policy: p.Base, Idempotent: true, Decode: decodeFound}, nil
}

func (c *Client) writeOp(cmd core.Command, p *policy.Write, key *types.Key, ops []core.BinOp) (*core.Request, *policy.Write, error) {
	p, err := c.writePolicy(p)
	if err != nil {
		return nil, nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, nil, err
	}
	req := &core.Request{Command: cmd, Key: key, Ops: ops}
	p.Apply(req)
	return req, p, nil
}

func (c *Client) putOp(p *policy.Write, key *types.Key, bins types.BinMap) (dispatch.Op[struct{}], error) {
	ops, err := binOps(core.OpWrite, bins)
	if err != nil {
		return dispatch.Op[struct{}]{}, err
	}
	req, p, err := c.writeOp(core.CommandPut, p, key, ops)
	if err != nil {
		return dispatch.Op[struct{}]{}, err
	}
	return dispatch.Op[struct{}]{Request: req, Policy: p.Base, Decode: decodeNone}, nil
}

func (c *Client) mutateOp(p *policy.Write, key *types.Key, t core.OpType, bins types.BinMap) (dispatch.Op[struct{}], error) {
	ops, err := binOps(t, bins)
	if err != nil {
		return dispatch.Op[struct{}]{}, err
	}
	req, p, err := c.writeOp(core.CommandOperate, p, key, ops)
	if err != nil {
		return dispatch.Op[struct{}]{}, err
	}
	return dispatch.Op[struct{}]{Name: t.String(), Request: req, Policy: p.Base, Decode: decodeNone}, nil
}

func (c *Client) operateOp(p *policy.Write, key *types.Key, ops []core.BinOp) (dispatch.Op[*types.Record], error) {
	var op dispatch.Op[*types.Record]
	if len(ops) == 0 {
		return op, errors.Newf(errors.ErrInvalidArgument, "operate requires at least one operation")
	}
	for _, o := range ops {
		if o.Type == core.OpRead && o.Bin == "" {
			continue
		}
		if err := validation.ValidateBinName(o.Bin); err != nil {
			return op, err
		}
		if o.Type != core.OpRead {
			if err := validation.ValidateValue(o.Value); err != nil {
				return op, err
			}
		}
	}
	cp := make([]core.BinOp, len(ops))
	copy(cp, ops)
	req, p, err := c.writeOp(core.CommandOperate, p, key, cp)
	if err != nil {
		return op, err
	}
	return dispatch.Op[*types.Record]{Request: req, Policy: p.Base, Decode: decodeRecord}, nil
}

func (c *Client) deleteOp(p *policy.Write, key *types.Key) (dispatch.Op[bool], error) {
	req, p, err := c.writeOp(core.CommandDelete, p, key, nil)
	if err != nil {
		return dispatch.Op[bool]{}, err
	}
	return dispatch.Op[bool]{Request: req, Policy: p.Base, Decode: decodeFound}, nil
}

func (c *Client) touchOp(p *policy.Write, key *types.Key) (dispatch.Op[struct{}], error) {
	req, p, err := c.writeOp(core.CommandTouch, p, key, nil)
	if err != nil {
		return dispatch.Op[struct{}]{}, err
	}
	return dispatch.Op[struct{}]{Request: req, Policy: p.Base, Decode: decodeNone}, nil
}

func (c *Client) batchRequest(cmd core.Command, p *policy.Batch, keys []*types.Key, bins []string) (*core.Request, *policy.Batch, error) {
	p, err := c.batchPolicy(p)
	if err != nil {
		return nil, nil, err
	}
	for _, key := range keys {
		if err := validateKey(key); err != nil {
			return nil, nil, err
		}
	}
	if err := validateBinNames(bins); err != nil {
		return nil, nil, err
	}
	req := &core.Request{Command: cmd, Keys: keys, Bins: bins, NoBins: cmd == core.CommandBatchExists}
	p.Apply(req)
	return req, p, nil
}

// batchCode fails a batch on per-key codes other than a missing or filtered record
func batchCode(resp *core.Response, i int) error {
	if i >= len(resp.ResultCodes) {
		return nil
	}
	switch code := resp.ResultCodes[i]; code {
	case errors.ResultOK, errors.ResultKeyNotFound, errors.ResultFilteredOut:
		return nil
	default:
		return &errors.ServerError{Code: code, InDoubt: resp.InDoubt, Node: resp.Node}
	}
}

func (c *Client) batchGetOp(p *policy.Batch, keys []*types.Key, bins []string) (dispatch.BatchOp[*types.Record], error) {
	req, p, err := c.batchRequest(core.CommandBatchGet, p, keys, bins)
	if err != nil {
		return dispatch.BatchOp[*types.Record]{}, err
	}
	return dispatch.BatchOp[*types.Record]{Request: req, Policy: *p, Decode: func(resp *core.Response) ([]*types.Record, error) {
		if err := resp.Err(); err != nil {
			return nil, err
		}
		for i := range resp.Records {
			if err := batchCode(resp, i); err != nil {
				return nil, err
			}
		}
		return resp.Records, nil
	}}, nil
}

func (c *Client) batchExistsOp(p *policy.Batch, keys []*types.Key) (dispatch.BatchOp[bool], error) {
	req, p, err := c.batchRequest(core.CommandBatchExists, p, keys, nil)
	if err != nil {
		return dispatch.BatchOp[bool]{}, err
	}
	return dispatch.BatchOp[bool]{Request: req, Policy: *p, Decode: func(resp *core.Response) ([]bool, error) {
		if err := resp.Err(); err != nil {
			return nil, err
		}
		for i := range resp.Exists {
			if err := batchCode(resp, i); err != nil {
				return nil, err
			}
		}
		return resp.Exists, nil
	}}, nil
}
