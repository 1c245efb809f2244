package satchel

import (
	"fmt"

	"github.com/mesh-intelligence/satchel/pkg/types"
)

// jsonValue is the stored form of a json field: either decoded structured
// data, encoded text, or both when neither side has been invalidated.
// Mutating the structured side through the JSON handle re-marks the
// owning row dirty and drops the encoded form.
type jsonValue struct {
	data    any
	hasData bool
	enc     string
	hasEnc  bool

	row   *Row
	field string
}

// transformJSON coerces a caller value into a json field. Strings are
// held as already-encoded text; structured values are wrapped so later
// mutations track back to the row. The lookup value is the encoded text,
// computed here so encoding errors fail at the call site.
func transformJSON(codec types.Codec, v any, owner *Row, field string) (any, any, error) {
	if codec == nil {
		return nil, nil, types.ErrNoCodec
	}
	jv := &jsonValue{row: owner, field: field}
	if s, ok := v.(string); ok {
		// Validate eagerly so bad content fails at the call site.
		var probe any
		if err := codec.Unmarshal([]byte(s), &probe); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", types.ErrNotCoercible, err)
		}
		jv.enc = s
		jv.hasEnc = true
		return jv, s, nil
	}
	if prev, ok := v.(*JSON); ok {
		v = prev.Value()
	}
	jv.data = v
	jv.hasData = true
	enc, err := jv.encode(codec)
	if err != nil {
		return nil, nil, err
	}
	return jv, enc, nil
}

// encode returns the encoded text, producing and caching it on demand.
func (jv *jsonValue) encode(codec types.Codec) (string, error) {
	if jv.hasEnc {
		return jv.enc, nil
	}
	if codec == nil {
		return "", types.ErrNoCodec
	}
	b, err := codec.Marshal(jv.data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrNotCoercible, err)
	}
	jv.enc = string(b)
	jv.hasEnc = true
	return jv.enc, nil
}

// decode returns the structured value, producing and caching it on
// demand.
func (jv *jsonValue) decode(codec types.Codec) (any, error) {
	if jv.hasData {
		return jv.data, nil
	}
	if codec == nil {
		return nil, types.ErrNoCodec
	}
	var v any
	if err := codec.Unmarshal([]byte(jv.enc), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNotCoercible, err)
	}
	jv.data = v
	jv.hasData = true
	return v, nil
}

// invalidate drops the encoded form and re-marks the owning row dirty.
// Called after every structural mutation; callers never write the value
// back explicitly.
func (jv *jsonValue) invalidate() {
	jv.enc = ""
	jv.hasEnc = false
	if jv.row != nil {
		jv.row.e.markDirty(jv.row)
		// Force the lookup to re-encode on next use.
		if jv.row.overlayLookups != nil {
			if _, ok := jv.row.overlayLookups[jv.field]; ok {
				jv.row.overlayLookups[jv.field] = nil
			}
		}
		if _, ok := jv.row.lookups[jv.field]; ok {
			jv.row.lookups[jv.field] = nil
		}
	}
}

// JSON is the handle a row returns for a json field. Reads decode
// lazily; writes mark the owning row dirty and invalidate the cached
// encoding.
type JSON struct {
	v *jsonValue
}

// Value returns the decoded structured value.
func (j *JSON) Value() any {
	codec := j.codec()
	v, err := j.v.decode(codec)
	if err != nil {
		return nil
	}
	return v
}

// Get walks the decoded value by map keys and returns the element at the
// path, or nil when any step is missing.
func (j *JSON) Get(path ...string) any {
	v := j.Value()
	for _, seg := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[seg]
	}
	return v
}

// Set assigns value at the path, creating intermediate maps as needed.
// An empty path replaces the whole value. The owning row is re-marked
// dirty; there is nothing to write back.
func (j *JSON) Set(value any, path ...string) error {
	if len(path) == 0 {
		j.v.data = value
		j.v.hasData = true
		j.v.invalidate()
		return nil
	}
	root, err := j.v.decode(j.codec())
	if err != nil {
		return err
	}
	m, ok := root.(map[string]any)
	if !ok {
		m = make(map[string]any)
		j.v.data = m
		j.v.hasData = true
	}
	for _, seg := range path[:len(path)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
	j.v.invalidate()
	return nil
}

// Encoded returns the encoded text form.
func (j *JSON) Encoded() (string, error) {
	return j.v.encode(j.codec())
}

func (j *JSON) codec() types.Codec {
	if j.v.row != nil {
		return j.v.row.e.m.codec
	}
	return nil
}
