package expr

import (
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/naming"
	"github.com/pay-theory/aerokit/pkg/types"
)

var (
	valueType = reflect.TypeOf(types.Value{})
	timeType  = reflect.TypeOf(time.Time{})
)

// ConvertToValue converts a Go value to a bin value
func ConvertToValue(value any) (types.Value, error) {
	if value == nil {
		return types.NilValue(), nil
	}
	if v, ok := value.(types.Value); ok {
		return v, nil
	}
	return convertReflect(reflect.ValueOf(value))
}

func convertReflect(v reflect.Value) (types.Value, error) {
	if v.Type() == valueType {
		return v.Interface().(types.Value), nil
	}

	switch v.Kind() {
	case reflect.String:
		return types.StringValue(v.String()), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return types.IntValue(v.Int()), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > 1<<63-1 {
			return types.Value{}, errors.Newf(errors.ErrInvalidArgument, "unsigned value %d overflows int64", u)
		}
		return types.IntValue(int64(u)), nil

	case reflect.Float32, reflect.Float64:
		return types.FloatValue(v.Float()), nil

	case reflect.Bool:
		return types.BoolValue(v.Bool()), nil

	case reflect.Slice, reflect.Array:
		// []byte is a blob
		if v.Type().Elem().Kind() == reflect.Uint8 {
			if v.Kind() == reflect.Slice {
				return types.BlobValue(v.Bytes()), nil
			}
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			return types.BlobValue(b), nil
		}

		if v.Kind() == reflect.Slice && v.IsNil() {
			return types.NilValue(), nil
		}
		list := make([]types.Value, v.Len())
		for i := 0; i < v.Len(); i++ {
			item, err := convertReflect(v.Index(i))
			if err != nil {
				return types.Value{}, err
			}
			list[i] = item
		}
		return types.ListValue(list...), nil

	case reflect.Map:
		if v.IsNil() {
			return types.NilValue(), nil
		}
		entries := make([]types.MapEntry, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k, err := convertReflect(iter.Key())
			if err != nil {
				return types.Value{}, err
			}
			val, err := convertReflect(iter.Value())
			if err != nil {
				return types.Value{}, err
			}
			entries = append(entries, types.MapEntry{Key: k, Value: val})
		}
		slices.SortFunc(entries, func(a, b types.MapEntry) int { return types.Compare(a.Key, b.Key) })
		return types.MapValue(entries...), nil

	case reflect.Struct:
		// time.Time is stored as Unix nanoseconds
		if v.Type() == timeType {
			return types.IntValue(v.Interface().(time.Time).UnixNano()), nil
		}
		bins, err := structToBins(v, naming.SnakeCase)
		if err != nil {
			return types.Value{}, err
		}
		return types.StringMap(bins), nil

	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return types.NilValue(), nil
		}
		return convertReflect(v.Elem())

	default:
		return types.Value{}, errors.Newf(errors.ErrInvalidArgument, "unsupported type: %v", v.Type())
	}
}

// StructToBins flattens a struct (or pointer to struct) into bins using aero tags.
func StructToBins(value any, convention naming.Convention) (types.BinMap, error) {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, errors.Newf(errors.ErrInvalidArgument, "nil struct pointer")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, errors.Newf(errors.ErrInvalidArgument, "expected struct, got %v", v.Type())
	}
	return structToBins(v, convention)
}

func structToBins(v reflect.Value, convention naming.Convention) (types.BinMap, error) {
	t := v.Type()
	bins := make(types.BinMap, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, skip := naming.ResolveBinName(field, convention)
		if skip {
			continue
		}
		fv := v.Field(i)
		if naming.OmitEmpty(field) && fv.IsZero() {
			continue
		}
		val, err := convertReflect(fv)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		bins[name] = val
	}
	return bins, nil
}

// ConvertFromValue stores a bin value into the Go value target points to.
func ConvertFromValue(val types.Value, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.Newf(errors.ErrInvalidArgument, "target must be a non-nil pointer, got %T", target)
	}
	return assign(val, rv.Elem())
}

// BinsToStruct fills the struct target points to from bins.
func BinsToStruct(bins types.BinMap, target any, convention naming.Convention) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return errors.Newf(errors.ErrInvalidArgument, "target must be a pointer to struct, got %T", target)
	}
	return binsToStruct(bins, rv.Elem(), convention)
}

func binsToStruct(bins types.BinMap, v reflect.Value, convention naming.Convention) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, skip := naming.ResolveBinName(field, convention)
		if skip {
			continue
		}
		val, ok := bins[name]
		if !ok {
			continue
		}
		if err := assign(val, v.Field(i)); err != nil {
			return fmt.Errorf("bin %s: %w", name, err)
		}
	}
	return nil
}

func assign(val types.Value, dst reflect.Value) error {
	if dst.Type() == valueType {
		dst.Set(reflect.ValueOf(val))
		return nil
	}
	if val.IsNil() {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	mismatch := func() error {
		return errors.Newf(errors.ErrTypeMismatch, "cannot assign %s to %v", val.Type(), dst.Type())
	}

	switch dst.Kind() {
	case reflect.Interface:
		dst.Set(reflect.ValueOf(val.Interface()))
		return nil

	case reflect.Ptr:
		elem := reflect.New(dst.Type().Elem())
		if err := assign(val, elem.Elem()); err != nil {
			return err
		}
		dst.Set(elem)
		return nil

	case reflect.String:
		if val.Type() != types.StringType && val.Type() != types.GeoJSONType {
			return mismatch()
		}
		dst.SetString(val.AsString())

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if val.Type() != types.IntType {
			return mismatch()
		}
		if dst.OverflowInt(val.AsInt()) {
			return errors.Newf(errors.ErrTypeMismatch, "value %d overflows %v", val.AsInt(), dst.Type())
		}
		dst.SetInt(val.AsInt())

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if val.Type() != types.IntType || val.AsInt() < 0 {
			return mismatch()
		}
		if dst.OverflowUint(uint64(val.AsInt())) {
			return errors.Newf(errors.ErrTypeMismatch, "value %d overflows %v", val.AsInt(), dst.Type())
		}
		dst.SetUint(uint64(val.AsInt()))

	case reflect.Float32, reflect.Float64:
		if val.Type() != types.FloatType && val.Type() != types.IntType {
			return mismatch()
		}
		dst.SetFloat(val.AsFloat())

	case reflect.Bool:
		if val.Type() != types.BoolType {
			return mismatch()
		}
		dst.SetBool(val.AsBool())

	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			if val.Type() != types.BlobType && val.Type() != types.HLLType {
				return mismatch()
			}
			dst.SetBytes(append([]byte(nil), val.AsBytes()...))
			return nil
		}
		if val.Type() != types.ListType {
			return mismatch()
		}
		items := val.AsList()
		out := reflect.MakeSlice(dst.Type(), len(items), len(items))
		for i, item := range items {
			if err := assign(item, out.Index(i)); err != nil {
				return err
			}
		}
		dst.Set(out)

	case reflect.Map:
		if val.Type() != types.MapType {
			return mismatch()
		}
		out := reflect.MakeMapWithSize(dst.Type(), len(val.AsMap()))
		for _, e := range val.AsMap() {
			k := reflect.New(dst.Type().Key()).Elem()
			if err := assign(e.Key, k); err != nil {
				return err
			}
			mv := reflect.New(dst.Type().Elem()).Elem()
			if err := assign(e.Value, mv); err != nil {
				return err
			}
			out.SetMapIndex(k, mv)
		}
		dst.Set(out)

	case reflect.Struct:
		if dst.Type() == timeType {
			if val.Type() != types.IntType {
				return mismatch()
			}
			dst.Set(reflect.ValueOf(time.Unix(0, val.AsInt()).UTC()))
			return nil
		}
		if val.Type() != types.MapType {
			return mismatch()
		}
		bins := make(types.BinMap, len(val.AsMap()))
		for _, e := range val.AsMap() {
			if e.Key.Type() == types.StringType {
				bins[e.Key.AsString()] = e.Value
			}
		}
		return binsToStruct(bins, dst, naming.SnakeCase)

	default:
		return mismatch()
	}
	return nil
}
