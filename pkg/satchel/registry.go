package satchel

import (
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/mesh-intelligence/satchel/pkg/types"
)

// fieldInfo is a declared field plus its lazily resolved navigation
// target (virtual foreign keys only).
type fieldInfo struct {
	types.Field
	nav *navInfo
}

// navInfo caches a resolved virtual foreign key: the child entity, the
// child-side field pointing back, and the inferred multiplicity.
type navInfo struct {
	child *Entity
	field *fieldInfo
	multi bool
}

// New declares an entity. The key specifier is one of:
//
//   - nil: use the manager's default-key register, or the implicit rowid
//   - a string: the name of a declared field (or "rowid")
//   - a types.Field of kind ID: an integer key field added to the schema
//
// Fields are an ordered []types.Field, or a map of name to types.Field,
// string shorthand, or either (map[string]any). Map declarations are
// ordered by name so generated SQL is deterministic.
//
// Registration validates every field, forces the key unique, moves
// virtual foreign keys out of the persisted field list, and rejects any
// cycle of required entity references. Declaring the same name twice
// fails.
func (m *Manager) New(name string, key any, fields any) (*Entity, error) {
	if err := m.checkOpen(); err != nil {
		return nil, wrap("new entity", err)
	}
	name = strings.ToLower(name)
	if name == "" || name == types.RowidKey {
		return nil, fmt.Errorf("new entity: %w: %q", types.ErrReservedName, name)
	}
	if _, ok := m.entities[name]; ok {
		return nil, fmt.Errorf("new entity %s: %w", name, types.ErrDuplicateEntity)
	}

	defs, err := normalizeFields(fields)
	if err != nil {
		return nil, fmt.Errorf("new entity %s: %w", name, err)
	}

	e := &Entity{
		m:       m,
		name:    name,
		fields:  make(map[string]*fieldInfo, len(defs)),
		caches:  make(map[string]*weakCache),
		byRowid: newWeakCache(),
		dirty:   make(map[*Row]struct{}),
	}
	e.stmts = newStatements(e)

	// Resolve the key specifier before walking fields so the key field
	// can be forced unique in the same pass.
	keyName, idField, fromDefault, err := m.resolveKey(key)
	if err != nil {
		return nil, fmt.Errorf("new entity %s: %w", name, err)
	}
	if idField == nil && fromDefault && !declaresField(defs, keyName) {
		// The default-key register names a field the declaration does
		// not carry; it materializes as an integer key.
		f := types.ID()
		f.Name = keyName
		idField = &f
	}
	if idField != nil {
		defs = append([]types.Field{*idField}, defs...)
	}
	e.key = keyName

	for _, f := range defs {
		f.Name = strings.ToLower(f.Name)
		if f.Name == keyName {
			f.Unique = true
		}
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("new entity %s: %w", name, err)
		}
		if _, dup := e.fields[f.Name]; dup {
			return nil, fmt.Errorf("new entity %s: %w: duplicate field %q", name, types.ErrInvalidField, f.Name)
		}
		if f.Kind == types.KindID && f.Name != keyName {
			return nil, fmt.Errorf("new entity %s: field %q: %w", name, f.Name, types.ErrIDOffKey)
		}
		if f.Kind == types.KindJSON && m.codec == nil {
			return nil, fmt.Errorf("new entity %s: field %q: %w", name, f.Name, types.ErrNoCodec)
		}
		info := &fieldInfo{Field: f}
		e.fields[f.Name] = info
		if f.Virtual {
			e.virtuals = append(e.virtuals, f.Name)
			continue
		}
		e.fieldOrder = append(e.fieldOrder, f.Name)
		if f.Unique {
			e.uniques = append(e.uniques, f.Name)
			e.caches[f.Name] = newWeakCache()
		}
	}

	if keyName != types.RowidKey {
		kf, ok := e.fields[keyName]
		if !ok || kf.Virtual {
			return nil, fmt.Errorf("new entity %s: key %q: %w", name, keyName, types.ErrMissingKey)
		}
	}

	// Closure check: a chain of required entity references must never
	// lead back to the entity under declaration. Non-required cycles are
	// legal; the flush engine breaks them with a skip-fkeys pass.
	if err := m.checkClosure(e); err != nil {
		return nil, fmt.Errorf("new entity %s: %w", name, err)
	}

	m.entities[name] = e
	m.order = append(m.order, name)
	return e, nil
}

// Get returns the entity registered under name.
func (m *Manager) Get(name string) (*Entity, error) {
	e, ok := m.entities[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("get entity %s: %w", name, types.ErrEntityNotFound)
	}
	return e, nil
}

// Entities iterates registered entities in declaration order.
func (m *Manager) Entities() iter.Seq[*Entity] {
	return func(yield func(*Entity) bool) {
		for _, name := range m.order {
			if !yield(m.entities[name]) {
				return
			}
		}
	}
}

// resolveKey expands a key specifier into the key field name and, for ID
// descriptors, the field to prepend to the schema. The third result
// reports that the name came from the default-key register.
func (m *Manager) resolveKey(key any) (string, *types.Field, bool, error) {
	switch k := key.(type) {
	case nil:
		if m.defaultKey != "" {
			return strings.ToLower(m.defaultKey), nil, true, nil
		}
		return types.RowidKey, nil, false, nil
	case string:
		if k == "" {
			return types.RowidKey, nil, false, nil
		}
		return strings.ToLower(k), nil, false, nil
	case types.Field:
		if k.Kind != types.KindID {
			return "", nil, false, fmt.Errorf("%w: key field %q has kind %q", types.ErrInvalidField, k.Name, k.Kind)
		}
		f := k
		f.Name = strings.ToLower(f.Name)
		f.Unique = true
		return f.Name, &f, false, nil
	default:
		return "", nil, false, fmt.Errorf("%w: unsupported key specifier %T", types.ErrInvalidField, key)
	}
}

func declaresField(defs []types.Field, name string) bool {
	for _, f := range defs {
		if strings.ToLower(f.Name) == name {
			return true
		}
	}
	return false
}

// normalizeFields accepts the declaration forms New supports and returns
// an ordered field list.
func normalizeFields(fields any) ([]types.Field, error) {
	switch fs := fields.(type) {
	case []types.Field:
		return fs, nil
	case map[string]types.Field:
		defs := make([]types.Field, 0, len(fs))
		for name, f := range fs {
			f.Name = name
			defs = append(defs, f)
		}
		sortFields(defs)
		return defs, nil
	case map[string]string:
		defs := make([]types.Field, 0, len(fs))
		for name, spec := range fs {
			f, err := types.ParseField(name, spec)
			if err != nil {
				return nil, err
			}
			defs = append(defs, f)
		}
		sortFields(defs)
		return defs, nil
	case map[string]any:
		defs := make([]types.Field, 0, len(fs))
		for name, v := range fs {
			switch fv := v.(type) {
			case types.Field:
				fv.Name = name
				defs = append(defs, fv)
			case string:
				f, err := types.ParseField(name, fv)
				if err != nil {
					return nil, err
				}
				defs = append(defs, f)
			default:
				return nil, fmt.Errorf("%w: field %q declared as %T", types.ErrInvalidField, name, v)
			}
		}
		sortFields(defs)
		return defs, nil
	default:
		return nil, fmt.Errorf("%w: unsupported field collection %T", types.ErrInvalidField, fields)
	}
}

func sortFields(defs []types.Field) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
}

// checkClosure walks required entity references transitively from the
// entity under declaration. Reaching the entity's own name means a
// required cycle, which no flush order could ever satisfy. References to
// entities not yet declared are skipped: they cannot complete a cycle
// today, and they are re-examined when their own declaration runs this
// same walk.
func (m *Manager) checkClosure(e *Entity) error {
	seen := map[string]bool{e.name: true}
	var walk func(from *Entity) error
	walk = func(from *Entity) error {
		for _, name := range from.fieldOrder {
			f := from.fields[name]
			if f.Kind != types.KindEntity || !f.Required {
				continue
			}
			if f.Ref == e.name {
				return fmt.Errorf("%w: via %s.%s", types.ErrCircularSchema, from.name, f.Name)
			}
			if seen[f.Ref] {
				continue
			}
			seen[f.Ref] = true
			if next, ok := m.entities[f.Ref]; ok {
				if err := walk(next); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(e)
}
