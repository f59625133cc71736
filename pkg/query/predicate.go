package query

import (
	"fmt"

	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/types"
	"github.com/pay-theory/aerokit/pkg/validation"
)

// IndexType is the collection type a secondary index is built over
type IndexType = core.IndexType

const (
	IndexDefault   = core.IndexDefault
	IndexList      = core.IndexList
	IndexMapKeys   = core.IndexMapKeys
	IndexMapValues = core.IndexMapValues
)

// PredicateKind identifies a predicate variant
type PredicateKind int

const (
	PredicateEquals PredicateKind = iota + 1
	PredicateBetween
	PredicateContains
	PredicateGeoWithinRegion
	PredicateGeoWithinRadius
	PredicateGeoContainsPoint
)

var predicateNames = map[PredicateKind]string{
	PredicateEquals:           "equals",
	PredicateBetween:          "between",
	PredicateContains:         "contains",
	PredicateGeoWithinRegion:  "geo_within_region",
	PredicateGeoWithinRadius:  "geo_within_radius",
	PredicateGeoContainsPoint: "geo_contains_point",
}

func (k PredicateKind) String() string {
	if name, ok := predicateNames[k]; ok {
		return name
	}
	return "unknown"
}

// Predicate is a secondary index condition. Build one with Equals, Between,
// Contains or the Geo constructors.
type Predicate struct {
	Kind      PredicateKind
	Bin       string
	IndexType IndexType
	Begin     types.Value
	End       types.Value

	// Region is the GeoJSON region or point of geo predicates
	Region string
	Lat    float64
	Lng    float64
	Radius float64
}

// Equals matches records whose indexed int or string bin equals v.
func Equals(bin string, v any) Predicate {
	return Predicate{Kind: PredicateEquals, Bin: bin, Begin: indexValue(v), End: indexValue(v)}
}

// Between matches records whose indexed int bin lies in [begin, end].
func Between(bin string, begin, end int64) Predicate {
	return Predicate{Kind: PredicateBetween, Bin: bin, Begin: types.IntValue(begin), End: types.IntValue(end)}
}

// Contains matches records whose list or map bin holds v in the collection
// part named by indexType.
func Contains(bin string, indexType IndexType, v any) Predicate {
	return Predicate{Kind: PredicateContains, Bin: bin, IndexType: indexType, Begin: indexValue(v), End: indexValue(v)}
}

// GeoWithinRegion matches geo bins inside a GeoJSON region. Not yet supported.
func GeoWithinRegion(bin, region string) Predicate {
	return Predicate{Kind: PredicateGeoWithinRegion, Bin: bin, Region: region}
}

// GeoWithinRadius matches geo bins within radius meters of a point. Not yet supported.
func GeoWithinRadius(bin string, lat, lng, radius float64) Predicate {
	return Predicate{Kind: PredicateGeoWithinRadius, Bin: bin, Lat: lat, Lng: lng, Radius: radius}
}

// GeoContainsPoint matches geo region bins containing a GeoJSON point. Not yet supported.
func GeoContainsPoint(bin, point string) Predicate {
	return Predicate{Kind: PredicateGeoContainsPoint, Bin: bin, Region: point}
}

func indexValue(v any) types.Value {
	switch x := v.(type) {
	case types.Value:
		return x
	case string:
		return types.StringValue(x)
	case int:
		return types.IntValue(int64(x))
	case int32:
		return types.IntValue(int64(x))
	case int64:
		return types.IntValue(x)
	case uint32:
		return types.IntValue(int64(x))
	case bool:
		return types.BoolValue(x)
	case float64:
		return types.FloatValue(x)
	}
	return types.NilValue()
}

// Validate checks the bin name and that the values are ones a secondary
// index can hold.
func (p Predicate) Validate() error {
	if err := validation.ValidateBinName(p.Bin); err != nil {
		return err
	}
	switch p.Kind {
	case PredicateEquals, PredicateContains:
		if t := p.Begin.Type(); t != types.IntType && t != types.StringType {
			return errors.Newf(errors.ErrTypeMismatch, "%s on %q needs an int or string value, got %s", p.Kind, p.Bin, t)
		}
		if p.Kind == PredicateEquals && p.IndexType != IndexDefault {
			return errors.Newf(errors.ErrInvalidArgument, "equals does not take a collection index type")
		}
		if p.Kind == PredicateContains && p.IndexType == IndexDefault {
			return errors.Newf(errors.ErrInvalidArgument, "contains on %q needs a list, mapkeys or mapvalues index type", p.Bin)
		}
	case PredicateBetween:
		if p.Begin.Type() != types.IntType || p.End.Type() != types.IntType {
			return errors.Newf(errors.ErrTypeMismatch, "between on %q needs int bounds", p.Bin)
		}
		if p.Begin.AsInt() > p.End.AsInt() {
			return errors.Newf(errors.ErrInvalidArgument, "between on %q has begin %d after end %d", p.Bin, p.Begin.AsInt(), p.End.AsInt())
		}
	case PredicateGeoWithinRegion, PredicateGeoWithinRadius, PredicateGeoContainsPoint:
		return errors.Newf(errors.ErrUnsupportedExpression, "geo filters are not yet supported: %s", p.Kind)
	default:
		return errors.Newf(errors.ErrInvalidArgument, "unknown predicate kind %d", int(p.Kind))
	}
	return nil
}

// IndexFilter compiles the predicate into its request form.
func (p Predicate) IndexFilter() (*core.IndexFilter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &core.IndexFilter{Bin: p.Bin, IndexType: p.IndexType, Begin: p.Begin, End: p.End}, nil
}

func (p Predicate) String() string {
	switch p.Kind {
	case PredicateEquals:
		return fmt.Sprintf("equals(%q, %s)", p.Bin, p.Begin)
	case PredicateBetween:
		return fmt.Sprintf("between(%q, %s, %s)", p.Bin, p.Begin, p.End)
	case PredicateContains:
		return fmt.Sprintf("contains(%q, %s, %s)", p.Bin, p.IndexType, p.Begin)
	}
	return fmt.Sprintf("%s(%q)", p.Kind, p.Bin)
}
