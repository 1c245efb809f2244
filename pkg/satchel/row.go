package satchel

import (
	"fmt"
	"iter"
	"strings"

	"github.com/mesh-intelligence/satchel/pkg/driver"
	"github.com/mesh-intelligence/satchel/pkg/types"
)

// Row is an identity-mapped record. It carries two value maps: the
// committed snapshot known to match the database, and the transaction
// overlay masking it while a transaction is active. Each field also keeps
// a lookup value, the primitive form used for equality against the
// database (a referenced row's primary key rather than the row object).
type Row struct {
	e     *Entity
	rowid int64 // 0 until the first successful insert

	values  map[string]any // committed stored values
	lookups map[string]any // committed lookup values

	overlay        map[string]any // transaction-scoped stored values
	overlayLookups map[string]any

	deleted bool
	dirty   bool // member of the entity's dirty set
	txDirty bool // flushed under a transaction, not yet committed
}

// Entity returns the entity this row belongs to.
func (r *Row) Entity() *Entity { return r.e }

// Rowid returns the database rowid, or 0 before the first insert.
func (r *Row) Rowid() int64 { return r.rowid }

// Deleted reports whether the row is marked for deletion.
func (r *Row) Deleted() bool { return r.deleted }

// Dirty reports whether the row has pending database effects.
func (r *Row) Dirty() bool { return r.dirty }

// Get reads a field by case-insensitive name. A leading underscore
// switches to the raw lookup value (see Raw). Entity fields resolve to
// the referenced row; json fields decode to a JSON handle; virtual
// foreign keys navigate to the child row or rows.
func (r *Row) Get(name string) (any, error) {
	name = strings.ToLower(name)
	if rest, ok := strings.CutPrefix(name, "_"); ok {
		return r.Raw(rest)
	}
	f, ok := r.e.fields[name]
	if !ok {
		return nil, fmt.Errorf("get %s.%s: %w", r.e.name, name, types.ErrUnknownField)
	}
	if f.Virtual {
		return r.navigate(f)
	}

	stored, _ := r.stored(name)
	switch f.Kind {
	case types.KindEntity:
		if ref, ok := stored.(*Row); ok {
			return ref, nil
		}
		if stored == nil {
			return nil, nil
		}
		target, err := r.e.m.Get(f.Ref)
		if err != nil {
			return nil, fmt.Errorf("get %s.%s: %w", r.e.name, name, err)
		}
		return target.Get(stored)
	case types.KindJSON:
		jv, ok := stored.(*jsonValue)
		if !ok {
			if stored == nil {
				return nil, nil
			}
			return nil, fmt.Errorf("get %s.%s: %w", r.e.name, name, types.ErrNotCoercible)
		}
		return &JSON{v: jv}, nil
	default:
		return stored, nil
	}
}

// Raw reads a field's lookup value: the primitive compared against the
// database. For entity fields this is the referent's primary key (nil
// while the referent is not yet inserted); for json fields the encoded
// text.
func (r *Row) Raw(name string) (any, error) {
	name = strings.ToLower(name)
	f, ok := r.e.fields[name]
	if !ok {
		return nil, fmt.Errorf("raw %s.%s: %w", r.e.name, name, types.ErrUnknownField)
	}
	if f.Virtual {
		return nil, fmt.Errorf("raw %s.%s: %w", r.e.name, name, types.ErrVirtualField)
	}
	if f.Kind == types.KindJSON {
		stored, _ := r.stored(name)
		if jv, ok := stored.(*jsonValue); ok {
			return jv.encode(r.e.m.codec)
		}
		return nil, nil
	}
	return r.rawLookup(name), nil
}

// Set writes a field. Unknown fields, virtual fields, uncoercible values,
// and unique-constraint violations fail synchronously. Inside a
// transaction the write lands in the overlay; otherwise it replaces the
// committed value. An accepted write that changes the value marks the row
// dirty; re-assigning the current value leaves it clean.
func (r *Row) Set(name string, value any) error {
	name = strings.ToLower(name)
	f, ok := r.e.fields[name]
	if !ok {
		return fmt.Errorf("set %s.%s: %w", r.e.name, name, types.ErrUnknownField)
	}
	if f.Virtual {
		return fmt.Errorf("set %s.%s: %w", r.e.name, name, types.ErrVirtualField)
	}
	if r.deleted {
		return fmt.Errorf("set %s.%s: %w", r.e.name, name, types.ErrDeletedRow)
	}

	stored, lookup, err := r.e.transform(f, value, r)
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", r.e.name, name, err)
	}

	old := r.rawLookup(name)
	if f.Unique {
		if lookup != nil && !equalValues(lookup, old) {
			if err := r.e.checkUnique(name, lookup, r); err != nil {
				return fmt.Errorf("set %s.%s: %w", r.e.name, name, err)
			}
		}
		if old != nil {
			r.e.caches[name].remove(old)
		}
		if lookup != nil {
			r.e.caches[name].put(lookup, r)
		}
	}

	if tx := r.e.m.tx; tx != nil {
		tx.register(r)
		if r.overlay == nil {
			r.overlay = make(map[string]any)
			r.overlayLookups = make(map[string]any)
		}
		r.overlay[name] = stored
		r.overlayLookups[name] = lookup
	} else {
		r.values[name] = stored
		r.lookups[name] = lookup
	}

	// Re-assigning a field's current value is not a change; the row
	// stays clean. JSON fields always re-mark (the encoded form may
	// differ even when decoded values compare equal), and so does a
	// reference to a not-yet-inserted row, whose lookup is still nil.
	changed := !equalValues(lookup, old) || f.Kind == types.KindJSON
	if _, pendingRef := stored.(*Row); pendingRef && lookup == nil {
		changed = true
	}
	if changed {
		r.e.markDirty(r)
	}
	return nil
}

// Delete marks the row for deletion at the next flush. Deleting an
// already-deleted row is a no-op.
func (r *Row) Delete() error {
	if r.deleted {
		return nil
	}
	if tx := r.e.m.tx; tx != nil {
		tx.register(r)
	}
	r.deleted = true
	r.e.markDirty(r)
	return nil
}

// Flush drains this row's pending change. The return value reports
// whether the row is clean afterwards; a row whose required foreign key
// is still unpersisted stays dirty. The manager-wide pending flag is not
// touched.
func (r *Row) Flush(skipFkeys ...bool) (bool, error) {
	skip := len(skipFkeys) > 0 && skipFkeys[0]
	if !r.dirty {
		return true, nil
	}
	if err := r.e.flushRow(r, skip); err != nil {
		return false, err
	}
	return !r.dirty, nil
}

// FieldNames returns the row's field names, persisted then virtual.
func (r *Row) FieldNames() []string { return r.e.Fields() }

// Fields iterates the row's persisted fields as (name, resolved value)
// pairs. Virtual navigation fields are not visited.
func (r *Row) Fields() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, name := range r.e.fieldOrder {
			v, err := r.Get(name)
			if err != nil {
				v = nil
			}
			if !yield(name, v) {
				return
			}
		}
	}
}

// Debug returns a snapshot of the row's internal state for diagnostics.
func (r *Row) Debug() map[string]any {
	snap := map[string]any{
		"entity":  r.e.name,
		"rowid":   r.rowid,
		"deleted": r.deleted,
		"dirty":   r.dirty,
		"txdirty": r.txDirty,
	}
	values := make(map[string]any, len(r.values))
	for k, v := range r.values {
		values[k] = v
	}
	snap["values"] = values
	lookups := make(map[string]any, len(r.lookups))
	for k, v := range r.lookups {
		lookups[k] = v
	}
	snap["lookups"] = lookups
	if r.overlay != nil {
		overlay := make(map[string]any, len(r.overlay))
		for k, v := range r.overlay {
			overlay[k] = v
		}
		snap["overlay"] = overlay
	}
	return snap
}

// stored returns the effective stored value: the overlay masks committed
// while a transaction is active.
func (r *Row) stored(name string) (any, bool) {
	if r.overlay != nil {
		if v, ok := r.overlay[name]; ok {
			return v, true
		}
	}
	v, ok := r.values[name]
	return v, ok
}

// rawLookup returns the effective lookup value. An entity field whose
// referent had no primary key at write time re-resolves here, so a
// referent inserted since then becomes visible.
func (r *Row) rawLookup(name string) any {
	inOverlay := false
	var lk any
	if r.overlayLookups != nil {
		if v, ok := r.overlayLookups[name]; ok {
			lk, inOverlay = v, true
		}
	}
	if !inOverlay {
		lk = r.lookups[name]
	}
	if lk != nil {
		return lk
	}

	stored, _ := r.stored(name)
	if ref, ok := stored.(*Row); ok {
		if resolved := ref.pkLookup(); resolved != nil {
			if inOverlay {
				r.overlayLookups[name] = resolved
			} else {
				r.lookups[name] = resolved
			}
			return resolved
		}
	}
	return nil
}

// replaceStored rewrites a field's stored and lookup values in place,
// in whichever map currently holds them.
func (r *Row) replaceStored(name string, stored, lookup any) {
	if r.overlay != nil {
		if _, ok := r.overlay[name]; ok {
			r.overlay[name] = stored
			r.overlayLookups[name] = lookup
			return
		}
	}
	r.values[name] = stored
	r.lookups[name] = lookup
}

// replaceLookup rewrites just the lookup value in place.
func (r *Row) replaceLookup(name string, lookup any) {
	if r.overlayLookups != nil {
		if _, ok := r.overlayLookups[name]; ok {
			r.overlayLookups[name] = lookup
			return
		}
	}
	r.lookups[name] = lookup
}

// pkLookup returns the row's primary key in lookup form, or nil while
// the row has not been inserted.
func (r *Row) pkLookup() any {
	if r.e.key == types.RowidKey {
		if r.rowid == 0 {
			return nil
		}
		return r.rowid
	}
	return r.rawLookup(r.e.key)
}

// fill replaces the committed maps from a driver result row (persisted
// fields in order, rowid last).
func (r *Row) fill(values []any) {
	for i, name := range r.e.fieldOrder {
		f := r.e.fields[name]
		v := values[i]
		switch f.Kind {
		case types.KindJSON:
			if v == nil {
				r.values[name] = nil
				r.lookups[name] = nil
				continue
			}
			enc := asString(v)
			r.values[name] = &jsonValue{enc: enc, hasEnc: true, row: r, field: name}
			r.lookups[name] = enc
		default:
			r.values[name] = v
			r.lookups[name] = v
		}
	}
}

// rereadFunc captures a closure that refetches the row's committed values
// by rowid, used to repair rows loaded inside a rolled-back transaction.
func (r *Row) rereadFunc() func() error {
	rowid := r.rowid
	return func() error {
		st, err := r.e.stmts.getByRowid()
		if err != nil {
			return err
		}
		defer st.Reset()
		if err := st.Bind(1, rowid); err != nil {
			return err
		}
		code, err := st.Step()
		if err != nil {
			return err
		}
		if code == driver.Row {
			r.fill(st.Values())
			return nil
		}
		// The row is gone from the database; drop it from the caches so
		// a later Get does not resurrect stale state.
		r.e.uncache(r)
		r.deleted = true
		return nil
	}
}

// navigate resolves a virtual foreign key: the child row (or rows) whose
// foreign key points at this row.
func (r *Row) navigate(f *fieldInfo) (any, error) {
	nav, err := r.e.resolveNav(f)
	if err != nil {
		return nil, err
	}
	parentKey := r.pkLookup()

	if !nav.multi {
		if parentKey != nil {
			if hit := nav.child.caches[nav.field.Name].get(parentKey); hit != nil && !hit.deleted {
				if equalValues(hit.rawLookup(nav.field.Name), parentKey) {
					return hit, nil
				}
			}
		}
		rows, err := nav.child.childrenOf(nav.field, r, parentKey)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[0], nil
	}

	return nav.child.childrenOf(nav.field, r, parentKey)
}

// resolveNav locates (and caches) the child entity and child-side field
// behind a virtual foreign key. When the declaration does not pin the
// child field, the resolver prefers a field named after this entity and
// otherwise requires exactly one entity field pointing here. Multiplicity
// follows the child field's uniqueness: a unique foreign key means at
// most one child.
func (e *Entity) resolveNav(f *fieldInfo) (*navInfo, error) {
	if f.nav != nil {
		return f.nav, nil
	}
	child, err := e.m.Get(f.Ref)
	if err != nil {
		return nil, fmt.Errorf("virtual fkey %s.%s: %w", e.name, f.Name, err)
	}

	var target *fieldInfo
	if f.ChildField != "" {
		cf, ok := child.fields[strings.ToLower(f.ChildField)]
		if !ok || cf.Kind != types.KindEntity || cf.Ref != e.name {
			return nil, fmt.Errorf("virtual fkey %s.%s: %w: %q", e.name, f.Name, types.ErrUnknownField, f.ChildField)
		}
		target = cf
	} else {
		var candidates []*fieldInfo
		for _, name := range child.fieldOrder {
			cf := child.fields[name]
			if cf.Kind == types.KindEntity && cf.Ref == e.name {
				candidates = append(candidates, cf)
			}
		}
		switch len(candidates) {
		case 0:
			return nil, fmt.Errorf("virtual fkey %s.%s: %w: no field on %s references %s",
				e.name, f.Name, types.ErrUnknownField, child.name, e.name)
		case 1:
			target = candidates[0]
		default:
			for _, cf := range candidates {
				if cf.Name == e.name {
					target = cf
					break
				}
			}
			if target == nil {
				return nil, fmt.Errorf("virtual fkey %s.%s: %w", e.name, f.Name, types.ErrAmbiguousFKey)
			}
		}
	}

	multi := !target.Unique
	if f.MultiSet && f.Multi != multi {
		return nil, fmt.Errorf("virtual fkey %s.%s: %w", e.name, f.Name, types.ErrMultiplicity)
	}
	f.nav = &navInfo{child: child, field: target, multi: multi}
	return f.nav, nil
}

// childrenOf returns the child rows whose foreign key field points at the
// parent, merging persisted rows with pending in-memory changes the same
// way a query does. Parents that have never been inserted can still be
// referenced by pending rows holding the row object itself.
func (e *Entity) childrenOf(f *fieldInfo, parent *Row, parentKey any) ([]*Row, error) {
	var out []*Row
	index := make(map[*Row]int)

	if parentKey != nil {
		st, err := e.stmts.childrenBy(f.Name)
		if err != nil {
			return nil, err
		}
		defer st.Reset()
		if err := st.Bind(1, parentKey); err != nil {
			return nil, err
		}
		for {
			code, err := st.Step()
			if err != nil {
				return nil, err
			}
			if code == driver.Done {
				break
			}
			if code != driver.Row {
				return nil, driver.Confirm("step", code, driver.Row, driver.Done)
			}
			r, err := e.materialize(st.Values())
			if err != nil {
				return nil, err
			}
			if _, dup := index[r]; !dup {
				index[r] = len(out)
				out = append(out, r)
			}
		}
	}

	// Pending changes override what the database returned: dirty rows
	// join the result when they now point at the parent and leave it
	// when they no longer do.
	for r := range e.dirty {
		matches := false
		if !r.deleted {
			if stored, _ := r.stored(f.Name); stored == parent && parent != nil {
				matches = true
			} else if parentKey != nil && equalValues(r.rawLookup(f.Name), parentKey) {
				matches = true
			}
		}
		if i, present := index[r]; present {
			if !matches {
				out = append(out[:i], out[i+1:]...)
				delete(index, r)
				for other, j := range index {
					if j > i {
						index[other] = j - 1
					}
				}
			}
		} else if matches {
			index[r] = len(out)
			out = append(out, r)
		}
	}
	return out, nil
}
