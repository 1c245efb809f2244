package satchel

import (
	"fmt"

	"github.com/mesh-intelligence/satchel/pkg/driver"
	"github.com/mesh-intelligence/satchel/pkg/types"
)

// Manager owns one database connection and the process-wide entity
// registry. All rows, entities, and queries hang off a manager; none of
// them are safe for concurrent use.
type Manager struct {
	conn  *driver.Conn
	codec types.Codec

	entities map[string]*Entity
	order    []string

	tx         *transaction
	pending    bool
	onChange   func()
	retry      types.RetryPolicy
	defaultKey string
}

// Option configures a Manager at Open time.
type Option func(*Manager)

// WithCodec installs a JSON codec, enabling the json field kind and
// JSON-path query expressions.
func WithCodec(c types.Codec) Option {
	return func(m *Manager) { m.codec = c }
}

// WithRetry sets the BUSY retry policy. Equivalent to SetRetry.
func WithRetry(p types.RetryPolicy) Option {
	return func(m *Manager) { m.SetRetry(p) }
}

// Open opens the database at path, or an in-memory database when path is
// empty, and returns a manager with an empty registry.
func Open(path string, opts ...Option) (*Manager, error) {
	conn, err := driver.Open(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		conn:     conn,
		entities: make(map[string]*Entity),
		retry:    types.RetryNever(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Close releases the connection. Pending changes are discarded; callers
// that want them persisted call Flush first.
func (m *Manager) Close() error {
	for _, e := range m.entities {
		e.stmts.close()
	}
	return m.conn.Close()
}

// DB exposes the underlying driver connection for introspection.
func (m *Manager) DB() *driver.Conn { return m.conn }

// Codec returns the configured JSON codec, or nil.
func (m *Manager) Codec() types.Codec { return m.codec }

// PendingChanges reports whether any row has been dirtied since the last
// successful whole-manager flush. Per-row and per-entity flushes do not
// reset it.
func (m *Manager) PendingChanges() bool { return m.pending }

// OnChange registers a callback invoked exactly once per transition of
// the manager from clean to dirty. Pass nil to unregister.
func (m *Manager) OnChange(fn func()) { m.onChange = fn }

// SetRetry sets the BUSY retry policy consulted outside transactions.
func (m *Manager) SetRetry(p types.RetryPolicy) {
	if p == nil {
		p = types.RetryNever()
	}
	m.retry = p
}

// SetDefaultKey sets the key specifier used by New when none is given.
// The empty string restores the built-in default, the implicit rowid.
func (m *Manager) SetDefaultKey(key string) { m.defaultKey = key }

// DefaultKey returns the default key register.
func (m *Manager) DefaultKey() string { return m.defaultKey }

// noteChange flips the pending flag and fires the on-change callback on
// the clean-to-dirty transition only.
func (m *Manager) noteChange() {
	if m.pending {
		return
	}
	m.pending = true
	if m.onChange != nil {
		m.onChange()
	}
}

// checkOpen returns ErrClosed when the connection is gone.
func (m *Manager) checkOpen() error {
	if !m.conn.IsOpen() {
		return types.ErrClosed
	}
	return nil
}

// wrap annotates an error with the manager operation that failed.
func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
