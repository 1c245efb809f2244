package satchel

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/mesh-intelligence/satchel/pkg/driver"
	"github.com/mesh-intelligence/satchel/pkg/types"
)

// transform coerces a caller-supplied value to its (stored, lookup) pair
// for the given field. A nil value is accepted iff the field is not
// required. Functions, channels and driver handles are rejected for every
// kind; maps, slices, structs and other pointers only by non-json kinds.
func (e *Entity) transform(f *fieldInfo, v any, owner *Row) (stored, lookup any, err error) {
	if v == nil {
		if f.Required {
			return nil, nil, types.ErrRequiredField
		}
		return nil, nil, nil
	}
	if err := rejectComposite(f.Kind, v); err != nil {
		return nil, nil, err
	}

	switch f.Kind {
	case types.KindText:
		s, err := toText(v)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case types.KindBlob:
		b, err := toBlob(v)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case types.KindNumeric, types.KindReal:
		fv, err := toReal(v)
		if err != nil {
			return nil, nil, err
		}
		return fv, fv, nil
	case types.KindInt, types.KindID:
		iv, err := toInt(v)
		if err != nil {
			return nil, nil, err
		}
		return iv, iv, nil
	case types.KindEntity:
		return e.transformRef(f, v)
	case types.KindJSON:
		return transformJSON(e.m.codec, v, owner, f.Name)
	}
	return nil, nil, fmt.Errorf("%w: kind %q", types.ErrInvalidField, f.Kind)
}

// transformRef handles entity references. A row object must belong to the
// referenced entity; its primary key becomes both stored and lookup value
// once known. A referent that has not been inserted keeps the row object
// as the stored value with a nil lookup, which the flush engine observes
// and defers. Scalars pass through as both values.
func (e *Entity) transformRef(f *fieldInfo, v any) (any, any, error) {
	if r, ok := v.(*Row); ok {
		if r.e.name != f.Ref {
			return nil, nil, fmt.Errorf("%w: got %s, want %s", types.ErrWrongEntity, r.e.name, f.Ref)
		}
		if pk := r.pkLookup(); pk != nil {
			return pk, pk, nil
		}
		return r, nil, nil
	}
	switch v.(type) {
	case string, int, int64, float64, float32, []byte,
		int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		return v, v, nil
	}
	return nil, nil, fmt.Errorf("%w: %T as foreign key", types.ErrNotCoercible, v)
}

// rejectComposite filters out values no kind can hold: functions,
// channels, and opaque handles. Maps and slices stay legal for json
// fields; byte slices stay legal everywhere.
func rejectComposite(kind types.Kind, v any) error {
	switch v.(type) {
	case *Row, []byte:
		return nil
	case *driver.Conn, *driver.Stmt:
		return fmt.Errorf("%w: %T", types.ErrCompositeValue, v)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Errorf("%w: %T", types.ErrCompositeValue, v)
	case reflect.Map, reflect.Slice, reflect.Struct, reflect.Ptr, reflect.Interface:
		if kind == types.KindJSON {
			return nil
		}
		return fmt.Errorf("%w: %T", types.ErrCompositeValue, v)
	}
	return nil
}

// toText stringifies scalars and rejects everything else.
func toText(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case bool:
		return strconv.FormatBool(s), nil
	}
	if f, err := toReal(v); err == nil {
		fv := f.(float64)
		if fv == math.Trunc(fv) && math.Abs(fv) < 1e15 {
			return strconv.FormatInt(int64(fv), 10), nil
		}
		return strconv.FormatFloat(fv, 'g', -1, 64), nil
	}
	return "", fmt.Errorf("%w: %T as text", types.ErrNotCoercible, v)
}

// toBlob converts to raw bytes.
func toBlob(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, fmt.Errorf("%w: %T as blob", types.ErrNotCoercible, v)
}

// toReal parses any numeric or numeric-looking value to float64.
func toReal(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as number", types.ErrNotCoercible, n)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %T as number", types.ErrNotCoercible, v)
}

// toInt parses like toReal and floors the result.
func toInt(v any) (any, error) {
	if i, ok := v.(int64); ok {
		return i, nil
	}
	f, err := toReal(v)
	if err != nil {
		return nil, err
	}
	return int64(math.Floor(f.(float64))), nil
}

// asString renders a driver value as text.
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}

// equalValues compares two lookup values loosely: numerics compare as
// numbers regardless of Go type, bytes compare as strings.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aerr := toReal(a); aerr == nil {
		if bf, berr := toReal(b); berr == nil {
			return af.(float64) == bf.(float64)
		}
		return false
	}
	return asString(a) == asString(b)
}
