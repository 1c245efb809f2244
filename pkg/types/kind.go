package types

// Kind identifies the storage and coercion class of a field.
type Kind string

// Field kinds. KindID is valid only as a primary key. KindEntity marks a
// foreign-key reference to another entity. KindJSON is available only when
// a Codec is configured on the manager.
const (
	KindText    Kind = "text"
	KindNumeric Kind = "numeric"
	KindInt     Kind = "int"
	KindReal    Kind = "real"
	KindBlob    Kind = "blob"
	KindID      Kind = "id"
	KindEntity  Kind = "entity"
	KindJSON    Kind = "json"
)

// builtinKinds maps the shorthand tag names to kinds. KindEntity is absent
// on purpose: a tag that is not a builtin kind is a foreign-key reference.
var builtinKinds = map[string]Kind{
	"text":    KindText,
	"numeric": KindNumeric,
	"int":     KindInt,
	"real":    KindReal,
	"blob":    KindBlob,
	"id":      KindID,
	"json":    KindJSON,
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindNumeric, KindInt, KindReal, KindBlob, KindID, KindEntity, KindJSON:
		return true
	}
	return false
}

// SQLType returns the SQLite column type for the kind. KindEntity has no
// type of its own; the DDL generator substitutes the referenced primary
// key's type.
func (k Kind) SQLType() string {
	switch k {
	case KindText, KindJSON:
		return "TEXT"
	case KindNumeric:
		return "NUMERIC"
	case KindInt, KindID:
		return "INTEGER"
	case KindReal:
		return "REAL"
	case KindBlob:
		return "BLOB"
	}
	return ""
}
