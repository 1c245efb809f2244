package satchel

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/satchel/pkg/types"
)

// CreateSQL renders the CREATE TABLE statement for the entity. Entity
// fields adopt the referenced primary key's column type and gain a
// cascading FOREIGN KEY clause; virtual fields are omitted; the PRIMARY
// KEY clause is omitted for rowid-keyed entities.
func (e *Entity) CreateSQL() (string, error) {
	var lines []string
	var fkeys []string

	for _, name := range e.fieldOrder {
		f := e.fields[name]
		sqlType := f.Kind.SQLType()
		if f.Kind == types.KindEntity {
			ref, err := e.m.Get(f.Ref)
			if err != nil {
				return "", fmt.Errorf("create sql %s: field %q: %w", e.name, name, err)
			}
			sqlType = ref.keyKind().SQLType()
			fkeys = append(fkeys, fmt.Sprintf(
				"FOREIGN KEY(%s) REFERENCES %s(%s) ON UPDATE CASCADE ON DELETE CASCADE",
				quoteIdent(name), quoteIdent(ref.name), ref.stmts.keyColumn()))
		}
		line := quoteIdent(name) + " " + sqlType
		if f.Required {
			line += " NOT NULL"
		}
		if f.Unique {
			line += " UNIQUE"
		}
		lines = append(lines, line)
	}

	lines = append(lines, fkeys...)
	if e.key != types.RowidKey {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY(%s)", quoteIdent(e.key)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		quoteIdent(e.name), strings.Join(lines, ", ")), nil
}

// Create runs the entity's DDL and invalidates the statement cache so
// prepared statements re-prepare against the fresh schema.
func (e *Entity) Create() error {
	if err := e.m.checkOpen(); err != nil {
		return wrap("create", err)
	}
	sql, err := e.CreateSQL()
	if err != nil {
		return err
	}
	if err := e.m.conn.Exec(sql); err != nil {
		return fmt.Errorf("create %s: %w", e.name, err)
	}
	e.stmts.invalidate()
	return nil
}
