package satchel

import "github.com/mesh-intelligence/satchel/pkg/types"

// txRow is the per-row state the active transaction needs to either
// promote or unwind the row's overlay when the transaction resolves.
// Pre-transaction facts (dirtiness, rowid, deletion) are recorded on
// first contact so rollback can restore them.
type txRow struct {
	row        *Row
	wasDirty   bool
	wasDeleted bool
	hadRowid   bool
	created    bool // row object born inside this transaction
	loaded     bool // row fetched from the database inside this transaction
	reread     func() error
}

// transaction tracks the manager's single active transaction: a begin
// depth for nesting, and the rows touched while it ran.
type transaction struct {
	m     *Manager
	depth int
	rows  map[*Row]*txRow
}

// register records a row with the transaction on first contact and
// returns its state record.
func (tx *transaction) register(r *Row) *txRow {
	if st, ok := tx.rows[r]; ok {
		return st
	}
	st := &txRow{
		row:        r,
		wasDirty:   r.dirty,
		wasDeleted: r.deleted,
		hadRowid:   r.rowid != 0,
	}
	tx.rows[r] = st
	return st
}

// InTransaction reports whether a transaction is active.
func (m *Manager) InTransaction() bool { return m.tx != nil }

// Begin starts a transaction, or deepens the active one. With strict set,
// an already-active transaction is an error instead.
func (m *Manager) Begin(strict bool) error {
	if err := m.checkOpen(); err != nil {
		return wrap("begin", err)
	}
	if m.tx != nil {
		if strict {
			return wrap("begin", types.ErrInTransaction)
		}
		m.tx.depth++
		return nil
	}
	if err := m.conn.Exec("BEGIN"); err != nil {
		return wrap("begin", err)
	}
	m.tx = &transaction{m: m, depth: 1, rows: make(map[*Row]*txRow)}
	return nil
}

// Commit unwinds one level of Begin. The underlying COMMIT runs only when
// the depth reaches zero, or immediately when force is set; at that point
// every touched row's overlay is promoted into its committed values.
func (m *Manager) Commit(force bool) error {
	if err := m.checkOpen(); err != nil {
		return wrap("commit", err)
	}
	if m.tx == nil {
		return wrap("commit", types.ErrNoTransaction)
	}
	m.tx.depth--
	if m.tx.depth > 0 && !force {
		return nil
	}
	if err := m.conn.Exec("COMMIT"); err != nil {
		return wrap("commit", err)
	}
	for _, st := range m.tx.rows {
		st.commit()
	}
	m.tx = nil
	return nil
}

// Rollback unconditionally rolls the transaction back, regardless of
// depth. Overlays are discarded, rows that were dirty before the
// transaction are dirty again (a rolled-back insert also loses its rowid),
// changes made only inside the transaction are dropped, and rows loaded
// during the transaction refetch
// their committed values so cached row objects stay correct.
func (m *Manager) Rollback() error {
	if err := m.checkOpen(); err != nil {
		return wrap("rollback", err)
	}
	if m.tx == nil {
		return wrap("rollback", types.ErrNoTransaction)
	}
	if err := m.conn.Exec("ROLLBACK"); err != nil {
		return wrap("rollback", err)
	}
	tx := m.tx
	m.tx = nil
	for _, st := range tx.rows {
		st.rollback()
	}
	return nil
}

// commit promotes the row's overlay into its committed maps.
func (st *txRow) commit() {
	r := st.row
	for k, v := range r.overlay {
		r.values[k] = v
	}
	for k, v := range r.overlayLookups {
		r.lookups[k] = v
	}
	r.overlay = nil
	r.overlayLookups = nil
	r.txDirty = false
	st.reread = nil
}

// rollback unwinds everything the transaction did to this row.
func (st *txRow) rollback() {
	r := st.row
	e := r.e

	// Undo the unique-cache swaps the overlay writes performed.
	for name, overlayLk := range r.overlayLookups {
		f := e.fields[name]
		if !f.Unique {
			continue
		}
		if overlayLk != nil {
			e.caches[name].remove(overlayLk)
		}
		if committed := r.lookups[name]; committed != nil {
			e.caches[name].put(committed, r)
		}
	}
	r.overlay = nil
	r.overlayLookups = nil

	if st.created {
		// The row never existed outside this transaction; forget it.
		delete(e.dirty, r)
		r.dirty = false
		r.txDirty = false
		r.deleted = true
		e.uncache(r)
		return
	}

	if r.txDirty {
		r.txDirty = false
		if !st.hadRowid && r.rowid != 0 {
			// The insert is gone; so is the assigned rowid.
			e.byRowid.remove(r.rowid)
			if e.key != types.RowidKey && e.fields[e.key].Kind == types.KindID {
				e.caches[e.key].remove(r.rowid)
				delete(r.values, e.key)
				delete(r.lookups, e.key)
			}
			r.rowid = 0
		}
		if r.deleted {
			// A flushed delete was undone; the row is cached again.
			e.recache(r)
		}
	}

	r.deleted = st.wasDeleted

	// Pending state reverts to the pre-transaction truth: a change that
	// predated the transaction (committed maps, flushed by the rolled
	// back transaction) is pending again; a change born inside it went
	// away with the overlay.
	if st.wasDirty {
		if !r.dirty {
			e.markDirty(r)
		}
	} else if r.dirty {
		delete(e.dirty, r)
		r.dirty = false
	}

	if st.loaded && st.reread != nil {
		// Best effort: a failed reread leaves the committed snapshot
		// as loaded, which is still consistent for rows the
		// transaction never flushed.
		_ = st.reread()
	}
}
