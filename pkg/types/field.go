package types

import (
	"fmt"
	"strings"
)

// RowidKey is the reserved primary-key name meaning the implicit integer
// rowid of the underlying table. Entities keyed by rowid emit no PRIMARY
// KEY clause in their DDL.
const RowidKey = "rowid"

// Field describes one declared field of an entity.
//
// For KindEntity fields, Ref names the referenced entity. Virtual fields
// are navigation-only: they are dropped from the persisted field list and
// resolve parent-to-child at read time. For virtual fields, ChildField
// optionally pins the child-side foreign-key field and Multi declares the
// expected multiplicity; both are inferred when absent.
type Field struct {
	Name       string
	Kind       Kind
	Required   bool
	Unique     bool
	Virtual    bool
	Ref        string
	ChildField string
	Multi      bool

	// MultiSet records that Multi was declared explicitly, so the
	// registry can reject a declaration that contradicts the inferred
	// multiplicity.
	MultiSet bool
}

// Kind factories. Each returns a bare field of the kind; callers fill the
// name and flags, or use the shorthand form instead.

// Text returns a TEXT field definition.
func Text() Field { return Field{Kind: KindText} }

// Numeric returns a NUMERIC field definition.
func Numeric() Field { return Field{Kind: KindNumeric} }

// Int returns an INT field definition.
func Int() Field { return Field{Kind: KindInt} }

// Real returns a REAL field definition.
func Real() Field { return Field{Kind: KindReal} }

// Blob returns a BLOB field definition.
func Blob() Field { return Field{Kind: KindBlob} }

// ID returns an ID field definition. ID fields are integer primary keys
// that mirror the rowid after the first insert; the registry rejects them
// anywhere else.
func ID() Field { return Field{Kind: KindID, Unique: true} }

// JSON returns a JSON field definition. Registration fails unless the
// manager was opened with a codec.
func JSON() Field { return Field{Kind: KindJSON} }

// FKey returns a foreign-key field referencing the named entity.
func FKey(target string) Field { return Field{Kind: KindEntity, Ref: target} }

// VirtualFKey returns a navigation field resolving to the child rows of
// the named entity that reference this one. childField pins the child-side
// foreign key when more than one points back; pass "" to infer it.
func VirtualFKey(target, childField string) Field {
	return Field{Kind: KindEntity, Ref: target, Virtual: true, ChildField: childField}
}

// ParseField expands the string shorthand "<tag><flags>" into a field
// definition. The tag is a builtin kind name or, failing that, the name of
// a referenced entity. Flags, in any order after the tag:
//
//	!  required
//	?  explicitly optional (clears required)
//	*  virtual foreign key (navigation only; tag must be an entity)
//
// The returned field carries the lowercased name.
func ParseField(name, spec string) (Field, error) {
	tag := strings.TrimRight(spec, "?!*")
	flags := spec[len(tag):]
	if tag == "" {
		return Field{}, fmt.Errorf("%w: empty field spec %q", ErrInvalidField, spec)
	}

	var f Field
	if kind, ok := builtinKinds[strings.ToLower(tag)]; ok {
		f = Field{Kind: kind}
		if kind == KindID {
			f.Unique = true
		}
	} else {
		f = Field{Kind: KindEntity, Ref: strings.ToLower(tag)}
	}
	f.Name = strings.ToLower(name)

	for _, flag := range flags {
		switch flag {
		case '!':
			f.Required = true
		case '?':
			f.Required = false
		case '*':
			if f.Kind != KindEntity {
				return Field{}, fmt.Errorf("%w: %q is not an entity reference", ErrInvalidField, spec)
			}
			f.Virtual = true
		default:
			return Field{}, fmt.Errorf("%w: unknown flag %q in %q", ErrInvalidField, flag, spec)
		}
	}
	return f, nil
}

// Validate checks the internal consistency of a single field definition.
// Cross-entity checks (reference targets, cycles) belong to the registry.
func (f Field) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: unnamed field", ErrInvalidField)
	}
	if f.Name != strings.ToLower(f.Name) {
		return fmt.Errorf("%w: field name %q is not lowercase", ErrInvalidField, f.Name)
	}
	if f.Name == RowidKey {
		return fmt.Errorf("%w: %q", ErrReservedName, f.Name)
	}
	if !f.Kind.Valid() {
		return fmt.Errorf("%w: field %q has kind %q", ErrInvalidField, f.Name, f.Kind)
	}
	if f.Kind == KindEntity && f.Ref == "" {
		return fmt.Errorf("%w: field %q references no entity", ErrInvalidField, f.Name)
	}
	if f.Virtual && f.Kind != KindEntity {
		return fmt.Errorf("%w: field %q is virtual but not an entity reference", ErrInvalidField, f.Name)
	}
	if f.Kind != KindEntity && f.Ref != "" {
		return fmt.Errorf("%w: field %q has a reference but kind %q", ErrInvalidField, f.Name, f.Kind)
	}
	return nil
}
