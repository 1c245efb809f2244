// Package driver adapts the embedded SQLite engine (modernc.org/sqlite)
// to the narrow step-based contract the entity manager depends on:
// exec, prepared statements with positional and named binding, stepping,
// last-insert rowid, and a BUSY signal.
//
// The adapter pins a single database/sql connection so that transaction
// statements and last_insert_rowid() observe one session, matching the
// manager's single-threaded model.
package driver

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/satchel/pkg/types"
)

// Conn is an open connection to one database file (or an in-memory
// database). Conn is not safe for concurrent use.
type Conn struct {
	db   *sql.DB
	conn *sql.Conn
	ctx  context.Context
	path string
}

// Open opens the database at path, or a private in-memory database when
// path is empty.
func Open(path string) (*Conn, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	// One pinned connection; the pool must never hand out a second
	// session or in-memory databases and transactions break.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	return &Conn{db: db, conn: conn, ctx: ctx, path: dsn}, nil
}

// Path returns the DSN the connection was opened with.
func (c *Conn) Path() string { return c.path }

// IsOpen reports whether the connection is usable.
func (c *Conn) IsOpen() bool { return c != nil && c.conn != nil }

// Close releases the pinned connection and the pool. Idempotent.
func (c *Conn) Close() error {
	if !c.IsOpen() {
		return nil
	}
	err := c.conn.Close()
	if dbErr := c.db.Close(); err == nil {
		err = dbErr
	}
	c.conn = nil
	c.db = nil
	return err
}

// Exec runs a statement that takes no parameters and returns no rows
// (DDL, transaction control, pragmas).
func (c *Conn) Exec(query string) error {
	if !c.IsOpen() {
		return types.ErrClosed
	}
	if _, err := c.conn.ExecContext(c.ctx, query); err != nil {
		return driverErr("exec", err)
	}
	return nil
}

// Prepare compiles a statement. Placeholders are `?` (positional) and
// `:name` (named); both are rewritten to the engine's positional form and
// tracked by index.
func (c *Conn) Prepare(query string) (*Stmt, error) {
	if !c.IsOpen() {
		return nil, types.ErrClosed
	}
	rewritten, names := rewritePlaceholders(query)
	prepared, err := c.conn.PrepareContext(c.ctx, rewritten)
	if err != nil {
		return nil, driverErr("prepare", err)
	}
	return &Stmt{
		conn:     c,
		text:     query,
		sql:      rewritten,
		names:    names,
		args:     make([]any, len(names)),
		prepared: prepared,
		query:    isQuery(rewritten),
	}, nil
}
