package satchel

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/satchel/pkg/driver"
	"github.com/mesh-intelligence/satchel/pkg/types"
)

// Entity is a registered table: field metadata, the identity-map caches,
// the dirty set, and the prepared-statement bundle.
type Entity struct {
	m    *Manager
	name string
	key  string // key field name, or types.RowidKey

	fieldOrder []string // persisted fields in declaration order
	virtuals   []string
	fields     map[string]*fieldInfo
	uniques    []string

	byRowid *weakCache            // rowid -> row
	caches  map[string]*weakCache // unique field -> lookup -> row
	dirty   map[*Row]struct{}

	stmts *statements
}

// Name returns the entity (table) name.
func (e *Entity) Name() string { return e.name }

// Key returns the primary key field name, or "rowid".
func (e *Entity) Key() string { return e.key }

// Manager returns the owning manager.
func (e *Entity) Manager() *Manager { return e.m }

// Fields iterates the declared field names: persisted fields in
// declaration order, then virtual navigation fields.
func (e *Entity) Fields() []string {
	out := make([]string, 0, len(e.fieldOrder)+len(e.virtuals))
	out = append(out, e.fieldOrder...)
	out = append(out, e.virtuals...)
	return out
}

// Field returns the definition of the named field.
func (e *Entity) Field(name string) (types.Field, bool) {
	f, ok := e.fields[strings.ToLower(name)]
	if !ok {
		return types.Field{}, false
	}
	return f.Field, true
}

// keyKind returns the kind of the primary key for DDL and coercion.
func (e *Entity) keyKind() types.Kind {
	if e.key == types.RowidKey {
		return types.KindID
	}
	return e.fields[e.key].Kind
}

// New creates a row from the given values and schedules it for insertion
// at the next flush. Field names are case-insensitive; required fields
// must be present and non-nil. Unique fields are checked against both the
// in-memory caches and the database unless skipCheck is set.
func (e *Entity) New(data map[string]any, skipCheck ...bool) (*Row, error) {
	if err := e.m.checkOpen(); err != nil {
		return nil, wrap("new row", err)
	}
	skip := len(skipCheck) > 0 && skipCheck[0]

	r := &Row{
		e:       e,
		values:  make(map[string]any, len(e.fieldOrder)),
		lookups: make(map[string]any, len(e.fieldOrder)),
	}

	byName := make(map[string]any, len(data))
	for k, v := range data {
		byName[strings.ToLower(k)] = v
	}
	for k := range byName {
		f, ok := e.fields[k]
		if !ok {
			return nil, fmt.Errorf("new %s row: %w: %q", e.name, types.ErrUnknownField, k)
		}
		if f.Virtual {
			return nil, fmt.Errorf("new %s row: %w: %q", e.name, types.ErrVirtualField, k)
		}
	}

	for _, name := range e.fieldOrder {
		f := e.fields[name]
		v := byName[name]
		stored, lookup, err := e.transform(f, v, r)
		if err != nil {
			return nil, fmt.Errorf("new %s row: field %q: %w", e.name, name, err)
		}
		if f.Unique && lookup != nil && !skip {
			if err := e.checkUnique(f.Name, lookup, r); err != nil {
				return nil, fmt.Errorf("new %s row: field %q: %w", e.name, name, err)
			}
		}
		r.values[name] = stored
		r.lookups[name] = lookup
	}

	for _, name := range e.uniques {
		if lk := r.lookups[name]; lk != nil {
			e.caches[name].put(lk, r)
		}
	}

	e.markDirty(r)
	if e.m.tx != nil {
		e.m.tx.register(r).created = true
	}
	return r, nil
}

// Get returns the row with the given primary key, or nil when no such
// row exists. Repeated gets return the identical object while the first
// result is still referenced.
func (e *Entity) Get(pk any) (*Row, error) {
	if err := e.m.checkOpen(); err != nil {
		return nil, wrap("get row", err)
	}
	lookup, err := e.keyLookup(pk)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", e.name, err)
	}

	if r := e.cachedByKey(lookup); r != nil {
		if r.deleted {
			return nil, nil
		}
		return r, nil
	}

	st, err := e.stmts.get()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", e.name, err)
	}
	defer st.Reset()
	if err := st.Bind(1, lookup); err != nil {
		return nil, fmt.Errorf("get %s: %w", e.name, err)
	}
	code, err := st.Step()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", e.name, err)
	}
	switch code {
	case driver.Row:
		r, err := e.materialize(st.Values())
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", e.name, err)
		}
		return r, nil
	case driver.Done:
		return nil, nil
	default:
		return nil, fmt.Errorf("get %s: %w", e.name,
			driver.Confirm("step", code, driver.Row, driver.Done))
	}
}

// Has reports whether a row with the given primary key exists, either
// persisted or pending in memory.
func (e *Entity) Has(pk any) (bool, error) {
	if err := e.m.checkOpen(); err != nil {
		return false, wrap("has row", err)
	}
	lookup, err := e.keyLookup(pk)
	if err != nil {
		return false, fmt.Errorf("has %s: %w", e.name, err)
	}
	if r := e.cachedByKey(lookup); r != nil {
		return !r.deleted, nil
	}
	st, err := e.stmts.exists()
	if err != nil {
		return false, fmt.Errorf("has %s: %w", e.name, err)
	}
	defer st.Reset()
	if err := st.Bind(1, lookup); err != nil {
		return false, fmt.Errorf("has %s: %w", e.name, err)
	}
	code, err := st.Step()
	if err != nil {
		return false, fmt.Errorf("has %s: %w", e.name, err)
	}
	return code == driver.Row, nil
}

// keyLookup coerces a caller-supplied primary key to its lookup form.
func (e *Entity) keyLookup(pk any) (any, error) {
	if e.key == types.RowidKey {
		return toInt(pk)
	}
	f := e.fields[e.key]
	_, lookup, err := e.transform(f, pk, nil)
	if err != nil {
		return nil, err
	}
	if lookup == nil {
		return nil, types.ErrRequiredField
	}
	return lookup, nil
}

// cachedByKey consults the identity map for a primary-key lookup.
func (e *Entity) cachedByKey(lookup any) *Row {
	if e.key == types.RowidKey {
		if id, ok := lookup.(int64); ok {
			return e.byRowid.get(id)
		}
		return nil
	}
	return e.caches[e.key].get(lookup)
}

// materialize builds (or re-finds) a row from a driver result. The value
// slice holds the persisted fields in declaration order plus the rowid as
// its final column. Rows loaded inside a transaction register a reread
// hook so a rollback can restore their committed values.
func (e *Entity) materialize(values []any) (*Row, error) {
	if len(values) != len(e.fieldOrder)+1 {
		return nil, fmt.Errorf("%w: got %d columns, want %d",
			types.ErrInvalidField, len(values), len(e.fieldOrder)+1)
	}
	rowid, err := toInt(values[len(values)-1])
	if err != nil {
		return nil, err
	}
	id, _ := rowid.(int64)
	if existing := e.byRowid.get(id); existing != nil {
		return existing, nil
	}

	r := &Row{
		e:       e,
		rowid:   id,
		values:  make(map[string]any, len(e.fieldOrder)),
		lookups: make(map[string]any, len(e.fieldOrder)),
	}
	r.fill(values)

	e.byRowid.put(id, r)
	for _, name := range e.uniques {
		if lk := r.lookups[name]; lk != nil {
			e.caches[name].put(lk, r)
		}
	}
	if e.m.tx != nil {
		st := e.m.tx.register(r)
		st.loaded = true
		st.reread = r.rereadFunc()
	}
	return r, nil
}

// checkUnique verifies that no other row, cached or persisted, holds the
// lookup value on the named unique field.
func (e *Entity) checkUnique(field string, lookup any, self *Row) error {
	if other := e.caches[field].get(lookup); other != nil && other != self && !other.deleted {
		return fmt.Errorf("%w: %s=%v", types.ErrUniqueViolation, field, lookup)
	}
	st, err := e.stmts.uniqueBy(field)
	if err != nil {
		return err
	}
	defer st.Reset()
	if err := st.Bind(1, lookup); err != nil {
		return err
	}
	code, err := st.Step()
	if err != nil {
		return err
	}
	if code == driver.Row {
		other, err := toInt(st.Values()[0])
		if err == nil {
			if id, ok := other.(int64); ok && self != nil && id == self.rowid && id != 0 {
				return nil // the persisted copy of this very row
			}
		}
		return fmt.Errorf("%w: %s=%v", types.ErrUniqueViolation, field, lookup)
	}
	return nil
}

// markDirty adds the row to the dirty set and trips the manager's
// pending-change flag.
func (e *Entity) markDirty(r *Row) {
	r.dirty = true
	e.dirty[r] = struct{}{}
	e.m.noteChange()
}

// uncache removes the row from every identity-map cache.
func (e *Entity) uncache(r *Row) {
	if r.rowid != 0 {
		e.byRowid.remove(r.rowid)
	}
	for _, name := range e.uniques {
		if lk := r.rawLookup(name); lk != nil {
			e.caches[name].remove(lk)
		}
	}
}

// recache re-inserts the row into the identity-map caches, used when a
// rollback undoes a flushed delete.
func (e *Entity) recache(r *Row) {
	if r.rowid != 0 {
		e.byRowid.put(r.rowid, r)
	}
	for _, name := range e.uniques {
		if lk := r.rawLookup(name); lk != nil {
			e.caches[name].put(lk, r)
		}
	}
}
