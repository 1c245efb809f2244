package satchel

import (
	"fmt"

	"github.com/mesh-intelligence/satchel/pkg/driver"
	"github.com/mesh-intelligence/satchel/pkg/types"
)

// Flush drains every dirty row inside a strict transaction. Any error
// rolls the transaction back, restoring in-memory state through the
// transaction hooks, and is re-raised. On success the manager-wide
// pending flag clears.
func (m *Manager) Flush() error {
	if err := m.Begin(true); err != nil {
		return wrap("flush", err)
	}
	if err := m.RawFlush(); err != nil {
		if rbErr := m.Rollback(); rbErr != nil {
			return fmt.Errorf("flush: %w (rollback: %v)", err, rbErr)
		}
		return fmt.Errorf("flush: %w", err)
	}
	if err := m.Commit(true); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	m.pending = false
	return nil
}

// RawFlush drains dirty rows across all entities without opening a
// transaction. The drain alternates skip-fkeys passes (which NULL out
// non-required forward references to break ordering deadlocks) with
// regular passes, and stops when a regular pass leaves nothing behind.
// A regular pass that makes no progress over the previous one means a
// dependency cycle no order can satisfy.
func (m *Manager) RawFlush() error {
	if err := m.checkOpen(); err != nil {
		return wrap("raw flush", err)
	}

	toFlush := make([]*Entity, 0, len(m.order))
	for _, name := range m.order {
		toFlush = append(toFlush, m.entities[name])
	}

	skipFkeys := false
	prev := -1
	for len(toFlush) > 0 {
		skipFkeys = !skipFkeys
		total := 0
		var next []*Entity
		for _, e := range toFlush {
			remaining, err := e.Flush(skipFkeys)
			if err != nil {
				return err
			}
			if remaining > 0 {
				total += remaining
				next = append(next, e)
			}
		}
		if !skipFkeys {
			if total == 0 {
				break
			}
			if prev >= 0 && total == prev {
				return types.ErrUnresolvableFlush
			}
			prev = total
		}
		toFlush = next
	}

	if m.tx == nil {
		m.pending = false
	}
	return nil
}

// Flush walks the entity's dirty set once and returns how many rows are
// still dirty afterwards: rows waiting on an unpersisted required
// referent, and rows partially flushed with NULLed foreign keys.
func (e *Entity) Flush(skipFkeys ...bool) (int, error) {
	if err := e.m.checkOpen(); err != nil {
		return 0, wrap("flush "+e.name, err)
	}
	skip := len(skipFkeys) > 0 && skipFkeys[0]

	snapshot := make([]*Row, 0, len(e.dirty))
	for r := range e.dirty {
		snapshot = append(snapshot, r)
	}
	for _, r := range snapshot {
		if err := e.flushRow(r, skip); err != nil {
			return len(e.dirty), fmt.Errorf("flush %s: %w", e.name, err)
		}
	}
	return len(e.dirty), nil
}

// flushRow emits the row's pending change. Deletes run exactly once and
// drop the row from the caches. Inserts and updates bind every persisted
// field; an entity field whose referent is still unpersisted defers the
// row (required) or binds NULL and leaves it partially flushed
// (non-required, skip-fkeys pass only). The dirty flag clears only once
// the row has a rowid.
func (e *Entity) flushRow(r *Row, skipFkeys bool) error {
	if !r.dirty {
		return nil
	}
	if tx := e.m.tx; tx != nil {
		tx.register(r)
	}

	if r.deleted {
		if r.rowid != 0 {
			st, err := e.stmts.deleteStmt()
			if err != nil {
				return err
			}
			defer st.Reset()
			if err := st.Bind(1, r.rowid); err != nil {
				return err
			}
			if err := e.m.stepDone(st, "delete"); err != nil {
				return err
			}
		}
		e.uncache(r)
		delete(e.dirty, r)
		r.dirty = false
		if e.m.tx != nil {
			r.txDirty = true
		}
		return nil
	}

	vals := make([]any, len(e.fieldOrder))
	partial := false
	for i, name := range e.fieldOrder {
		f := e.fields[name]
		stored, _ := r.stored(name)
		switch f.Kind {
		case types.KindEntity:
			if ref, ok := stored.(*Row); ok {
				if lk := ref.pkLookup(); lk != nil {
					// The referent gained its key since the write;
					// collapse the reference to the scalar.
					r.replaceStored(name, lk, lk)
					vals[i] = lk
					continue
				}
				if f.Required || !skipFkeys {
					return nil // retry on a later pass
				}
				vals[i] = nil
				partial = true
				continue
			}
			vals[i] = r.rawLookup(name)
		case types.KindJSON:
			if jv, ok := stored.(*jsonValue); ok {
				enc, err := jv.encode(e.m.codec)
				if err != nil {
					return err
				}
				vals[i] = enc
				r.replaceLookup(name, enc)
				continue
			}
			vals[i] = nil
		default:
			vals[i] = stored
		}
	}

	if r.rowid == 0 {
		st, err := e.stmts.insertStmt()
		if err != nil {
			return err
		}
		defer st.Reset()
		for i, v := range vals {
			if err := st.Bind(i+1, v); err != nil {
				return err
			}
		}
		if err := e.m.stepDone(st, "insert"); err != nil {
			return err
		}
		r.rowid = st.LastInsertRowid()
		e.byRowid.put(r.rowid, r)
		if e.key != types.RowidKey && e.fields[e.key].Kind == types.KindID {
			// ID keys mirror the rowid from the first insert onward.
			r.values[e.key] = r.rowid
			r.lookups[e.key] = r.rowid
			e.caches[e.key].put(r.rowid, r)
		}
	} else {
		st, err := e.stmts.updateStmt()
		if err != nil {
			return err
		}
		defer st.Reset()
		for i, v := range vals {
			if err := st.Bind(i+1, v); err != nil {
				return err
			}
		}
		if err := st.Bind(len(vals)+1, r.rowid); err != nil {
			return err
		}
		if err := e.m.stepDone(st, "update"); err != nil {
			return err
		}
	}

	if partial {
		return nil // succeeded for this pass, but stays dirty
	}
	if r.rowid != 0 {
		delete(e.dirty, r)
		r.dirty = false
		if e.m.tx != nil {
			r.txDirty = true
		}
	}
	return nil
}

// stepDone steps a statement to completion. BUSY consults the retry
// policy; transactions never retry.
func (m *Manager) stepDone(st *driver.Stmt, op string) error {
	attempt := 0
	for {
		code, err := st.Step()
		if err != nil {
			return err
		}
		switch code {
		case driver.Done:
			return nil
		case driver.Busy:
			attempt++
			if m.tx == nil && m.retry.Retry(attempt) {
				if err := st.Reset(); err != nil {
					return err
				}
				continue
			}
			return &types.DriverError{Op: op, Code: int(driver.Busy)}
		default:
			return driver.Confirm(op, code, driver.Done)
		}
	}
}
