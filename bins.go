package aerokit

import (
	"context"

	"github.com/pay-theory/aerokit/internal/expr"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/naming"
	"github.com/pay-theory/aerokit/pkg/policy"
	"github.com/pay-theory/aerokit/pkg/types"
)

// ToBins flattens a struct into bins. Fields map to bins through the `aero`
// tag, or their snake_case name when untagged:
//
//	type User struct {
//		ID    string `aero:"-"`
//		Name  string `aero:"name"`
//		Email string `aero:"email,omitempty"`
//	}
func ToBins(v any) (types.BinMap, error) {
	return expr.StructToBins(v, naming.SnakeCase)
}

// FromBins fills the struct target points to from a record's bins
func FromBins(rec *types.Record, target any) error {
	if rec == nil {
		return errors.Newf(errors.ErrInvalidArgument, "record is nil")
	}
	return expr.BinsToStruct(rec.Bins, target, naming.SnakeCase)
}

// Value converts a Go value into a bin value
func Value(v any) (types.Value, error) {
	return expr.ConvertToValue(v)
}

// PutObject writes the bins of a struct to the record at key
func (c *Client) PutObject(ctx context.Context, p *policy.Write, key *types.Key, v any) error {
	bins, err := ToBins(v)
	if err != nil {
		return err
	}
	return c.Put(ctx, p, key, bins)
}

// GetObject reads the record at key into the struct target points to
func (c *Client) GetObject(ctx context.Context, p *policy.Read, key *types.Key, target any) error {
	rec, err := c.Get(ctx, p, key)
	if err != nil {
		return err
	}
	return FromBins(rec, target)
}
