package satchel

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/satchel/pkg/driver"
	"github.com/mesh-intelligence/satchel/pkg/types"
)

// statements is the per-entity bundle of lazily prepared statements.
// Everything is prepared on first use and re-prepared after invalidate,
// which Create calls when it (re)runs the DDL.
type statements struct {
	e *Entity

	insert   *driver.Stmt
	update   *driver.Stmt
	del      *driver.Stmt
	getStmt  *driver.Stmt
	getRowid *driver.Stmt
	existsPK *driver.Stmt
	uniques  map[string]*driver.Stmt
	children map[string]*driver.Stmt
}

func newStatements(e *Entity) *statements {
	return &statements{
		e:        e,
		uniques:  make(map[string]*driver.Stmt),
		children: make(map[string]*driver.Stmt),
	}
}

// invalidate finalizes every prepared statement so the next use prepares
// against the current schema.
func (s *statements) close() {
	for _, st := range []*driver.Stmt{s.insert, s.update, s.del, s.getStmt, s.getRowid, s.existsPK} {
		if st != nil {
			st.Close()
		}
	}
	for _, st := range s.uniques {
		st.Close()
	}
	for _, st := range s.children {
		st.Close()
	}
	s.insert, s.update, s.del, s.getStmt, s.getRowid, s.existsPK = nil, nil, nil, nil, nil, nil
	s.uniques = make(map[string]*driver.Stmt)
	s.children = make(map[string]*driver.Stmt)
}

func (s *statements) invalidate() { s.close() }

func (s *statements) prepare(slot **driver.Stmt, sql string) (*driver.Stmt, error) {
	if *slot != nil {
		return *slot, nil
	}
	st, err := s.e.m.conn.Prepare(sql)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", s.e.name, err)
	}
	*slot = st
	return st, nil
}

// quoted column list of the persisted fields, in declaration order.
func (s *statements) columns() string {
	cols := make([]string, len(s.e.fieldOrder))
	for i, name := range s.e.fieldOrder {
		cols[i] = quoteIdent(name)
	}
	return strings.Join(cols, ", ")
}

func (s *statements) insertStmt() (*driver.Stmt, error) {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(s.e.fieldOrder)), ", ")
	return s.prepare(&s.insert, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)", quoteIdent(s.e.name), s.columns(), marks))
}

func (s *statements) updateStmt() (*driver.Stmt, error) {
	sets := make([]string, len(s.e.fieldOrder))
	for i, name := range s.e.fieldOrder {
		sets[i] = quoteIdent(name) + " = ?"
	}
	return s.prepare(&s.update, fmt.Sprintf(
		"UPDATE %s SET %s WHERE rowid = ?", quoteIdent(s.e.name), strings.Join(sets, ", ")))
}

func (s *statements) deleteStmt() (*driver.Stmt, error) {
	return s.prepare(&s.del, fmt.Sprintf(
		"DELETE FROM %s WHERE rowid = ?", quoteIdent(s.e.name)))
}

// get selects all fields plus the rowid by primary key.
func (s *statements) get() (*driver.Stmt, error) {
	return s.prepare(&s.getStmt, fmt.Sprintf(
		"SELECT %s, rowid FROM %s WHERE %s = ?",
		s.columns(), quoteIdent(s.e.name), s.keyColumn()))
}

// getByRowid selects all fields plus the rowid by rowid, used by reread
// hooks.
func (s *statements) getByRowid() (*driver.Stmt, error) {
	return s.prepare(&s.getRowid, fmt.Sprintf(
		"SELECT %s, rowid FROM %s WHERE rowid = ?",
		s.columns(), quoteIdent(s.e.name)))
}

// exists probes for a primary key.
func (s *statements) exists() (*driver.Stmt, error) {
	return s.prepare(&s.existsPK, fmt.Sprintf(
		"SELECT 1 FROM %s WHERE %s = ?", quoteIdent(s.e.name), s.keyColumn()))
}

// uniqueBy probes a unique field and yields the holder's rowid so the
// caller can exempt the row's own persisted copy.
func (s *statements) uniqueBy(field string) (*driver.Stmt, error) {
	if st, ok := s.uniques[field]; ok {
		return st, nil
	}
	st, err := s.e.m.conn.Prepare(fmt.Sprintf(
		"SELECT rowid FROM %s WHERE %s = ?", quoteIdent(s.e.name), quoteIdent(field)))
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", s.e.name, err)
	}
	s.uniques[field] = st
	return st, nil
}

// childrenBy selects all rows whose foreign-key field equals the bound
// parent key, in rowid order.
func (s *statements) childrenBy(field string) (*driver.Stmt, error) {
	if st, ok := s.children[field]; ok {
		return st, nil
	}
	st, err := s.e.m.conn.Prepare(fmt.Sprintf(
		"SELECT %s, rowid FROM %s WHERE %s = ? ORDER BY rowid",
		s.columns(), quoteIdent(s.e.name), quoteIdent(field)))
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", s.e.name, err)
	}
	s.children[field] = st
	return st, nil
}

func (s *statements) keyColumn() string {
	if s.e.key == types.RowidKey {
		return "rowid"
	}
	return quoteIdent(s.e.key)
}

// quoteIdent double-quotes an identifier for SQL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
