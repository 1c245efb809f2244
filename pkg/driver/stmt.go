package driver

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/mesh-intelligence/satchel/pkg/types"
)

// Stmt is a prepared statement. The lifecycle mirrors the engine's:
// bind parameters, step until Done, reset, rebind, step again.
type Stmt struct {
	conn     *Conn
	text     string   // statement as written, with :names
	sql      string   // rewritten form with positional placeholders
	names    []string // per placeholder: name without the colon, or ""
	args     []any
	prepared *sql.Stmt
	query    bool

	rows    *sql.Rows
	started bool
	done    bool
	values  []any
	lastID  int64
}

// Text returns the statement as originally written.
func (s *Stmt) Text() string { return s.text }

// Bind sets the i-th parameter (1-based).
func (s *Stmt) Bind(i int, v any) error {
	if i < 1 || i > len(s.args) {
		return fmt.Errorf("bind %d: statement has %d parameters", i, len(s.args))
	}
	s.args[i-1] = v
	return nil
}

// BindBlob sets the i-th parameter to a byte slice.
func (s *Stmt) BindBlob(i int, b []byte) error {
	return s.Bind(i, b)
}

// BindNames sets every named parameter present in values. Names are given
// without the leading colon. Entries with no matching placeholder are
// ignored; placeholders left unbound step as NULL.
func (s *Stmt) BindNames(values map[string]any) error {
	for i, name := range s.names {
		if name == "" {
			continue
		}
		if v, ok := values[name]; ok {
			s.args[i] = v
		}
	}
	return nil
}

// Step advances the statement. Queries yield Row per result row and Done
// at exhaustion; other statements execute once and yield Done. A locked
// database yields Busy without consuming the statement.
func (s *Stmt) Step() (Code, error) {
	if !s.conn.IsOpen() {
		return Misuse, types.ErrClosed
	}
	if s.done {
		return Done, nil
	}

	if !s.started {
		s.started = true
		if !s.query {
			res, err := s.prepared.ExecContext(s.conn.ctx, s.args...)
			if err != nil {
				s.started = false
				if code := errCode(err); code == Busy {
					return Busy, nil
				}
				s.done = true
				return Fail, driverErr("step", err)
			}
			if id, err := res.LastInsertId(); err == nil {
				s.lastID = id
			}
			s.done = true
			return Done, nil
		}
		rows, err := s.prepared.QueryContext(s.conn.ctx, s.args...)
		if err != nil {
			s.started = false
			if code := errCode(err); code == Busy {
				return Busy, nil
			}
			s.done = true
			return Fail, driverErr("step", err)
		}
		s.rows = rows
	}

	if s.rows.Next() {
		if err := s.scan(); err != nil {
			return Fail, err
		}
		return Row, nil
	}
	err := s.rows.Err()
	s.rows.Close()
	s.rows = nil
	s.done = true
	if err != nil {
		if code := errCode(err); code == Busy {
			s.done = false
			s.started = false
			return Busy, nil
		}
		return Fail, driverErr("step", err)
	}
	return Done, nil
}

func (s *Stmt) scan() error {
	cols, err := s.rows.Columns()
	if err != nil {
		return driverErr("step", err)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return driverErr("step", err)
	}
	s.values = vals
	return nil
}

// Values returns the column values of the current row, valid after a Step
// that returned Row and until the next Step or Reset.
func (s *Stmt) Values() []any { return s.values }

// LastInsertRowid returns the rowid assigned by the most recent INSERT
// executed through this statement.
func (s *Stmt) LastInsertRowid() int64 { return s.lastID }

// Reset rewinds the statement for re-execution. Bindings are retained.
func (s *Stmt) Reset() error {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	s.started = false
	s.done = false
	s.values = nil
	return nil
}

// ClearBindings resets every parameter to NULL.
func (s *Stmt) ClearBindings() {
	for i := range s.args {
		s.args[i] = nil
	}
}

// Close finalizes the statement.
func (s *Stmt) Close() error {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	if s.prepared != nil {
		err := s.prepared.Close()
		s.prepared = nil
		return err
	}
	return nil
}

// rewritePlaceholders rewrites `?` and `:name` placeholders to the
// engine's positional form and records the name (or "") per position.
// Text inside single quotes is left alone. The statements this driver
// sees are machine-generated, so no further SQL awareness is needed.
func rewritePlaceholders(query string) (string, []string) {
	var out strings.Builder
	var names []string
	inString := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inString = !inString
			out.WriteByte(ch)
		case inString:
			out.WriteByte(ch)
		case ch == '?':
			names = append(names, "")
			out.WriteByte('?')
		case ch == ':' && i+1 < len(query) && isIdentByte(query[i+1]):
			j := i + 1
			for j < len(query) && isIdentByte(query[j]) {
				j++
			}
			names = append(names, query[i+1:j])
			out.WriteByte('?')
			i = j - 1
		default:
			out.WriteByte(ch)
		}
	}
	return out.String(), names
}

func isIdentByte(b byte) bool {
	return b == '_' || unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}

// isQuery reports whether the statement produces rows.
func isQuery(query string) bool {
	head := strings.ToUpper(strings.TrimSpace(query))
	for _, kw := range []string{"SELECT", "VALUES", "PRAGMA", "EXPLAIN", "WITH"} {
		if strings.HasPrefix(head, kw) {
			return true
		}
	}
	return false
}
