// Package query compiles secondary index queries and scans and delivers their
// records.
//
// A Spec names the records to read: a namespace and set, the bins to return,
// at most one index Predicate and an optional filter expression. Compile turns
// it into a request. Results arrive on a core.RecordStream in server order;
// Collect drains it and ForEach hands records to a Handler that may stop early.
package query

import (
	"slices"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/exp"
	"github.com/pay-theory/aerokit/pkg/policy"
	"github.com/pay-theory/aerokit/pkg/validation"
)

// Spec describes a query. Without a Predicate it is a scan.
type Spec struct {
	Namespace string
	Set       string

	// Bins selects bins to return; empty returns all bins
	Bins []string
	// NoBins returns record metadata only
	NoBins bool

	Predicate *Predicate

	// Filter is evaluated server-side and wins over the policy's filter
	Filter *exp.Filter

	// After resumes a scan after the record the cursor names
	After *Cursor
}

// IsScan reports whether the spec has no index predicate
func (s *Spec) IsScan() bool {
	return s.Predicate == nil
}

// Validate checks names, the predicate and the resume cursor
func (s *Spec) Validate() error {
	if err := validation.ValidateNamespace(s.Namespace); err != nil {
		return err
	}
	if err := validation.ValidateSetName(s.Set); err != nil {
		return err
	}
	for _, bin := range s.Bins {
		if err := validation.ValidateBinName(bin); err != nil {
			return err
		}
	}
	if s.NoBins && len(s.Bins) > 0 {
		return errors.Newf(errors.ErrInvalidArgument, "bins selected on a metadata-only query")
	}
	if s.Predicate != nil {
		if err := s.Predicate.Validate(); err != nil {
			return err
		}
	}
	if s.After != nil {
		if s.Predicate != nil {
			return errors.Newf(errors.ErrInvalidArgument, "only scans can resume from a cursor")
		}
		if s.After.Namespace != s.Namespace || s.After.Set != s.Set {
			return errors.Newf(errors.ErrInvalidArgument, "cursor is for %s.%s, not %s.%s",
				s.After.Namespace, s.After.Set, s.Namespace, s.Set)
		}
	}
	return nil
}

// Compile validates spec and builds its request. A nil policy uses the defaults.
func Compile(spec Spec, pol *policy.Query) (*core.Request, error) {
	if pol == nil {
		pol = policy.NewQuery()
	}
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	req := &core.Request{
		Command:   core.CommandScan,
		Namespace: spec.Namespace,
		Set:       spec.Set,
		Bins:      slices.Clone(spec.Bins),
		NoBins:    spec.NoBins,
	}
	pol.Apply(req)

	if spec.Filter != nil {
		req.Filter = spec.Filter.Bytes()
	}

	if spec.Predicate != nil {
		index, err := spec.Predicate.IndexFilter()
		if err != nil {
			return nil, err
		}
		req.Command = core.CommandQuery
		req.Index = index
	}

	if spec.After != nil {
		digest, err := spec.After.digest()
		if err != nil {
			return nil, err
		}
		req.After = digest
	}

	return req, nil
}
