package satchel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/satchel/pkg/types"
)

// declareFamily sets up the parent/child pair used by the navigation and
// flush ordering tests. The child's foreign key is unique, so each parent
// has at most one child and the parent's virtual field is singular.
func declareFamily(t *testing.T, m *Manager) (*Entity, *Entity) {
	t.Helper()
	parent := declare(t, m, "parent", "key", []types.Field{
		{Name: "key", Kind: types.KindText},
		{Name: "name", Kind: types.KindText},
		{Name: "child", Kind: types.KindEntity, Ref: "child", Virtual: true},
	})
	child := declare(t, m, "child", "data", []types.Field{
		{Name: "parent", Kind: types.KindEntity, Ref: "parent", Required: true, Unique: true},
		{Name: "data", Kind: types.KindText},
	})
	return parent, child
}

func TestVirtualForeignKeyNavigation(t *testing.T) {
	m := testManager(t)
	parent, child := declareFamily(t, m)

	a, err := parent.New(map[string]any{"key": "a", "name": "first"})
	require.NoError(t, err)
	_, err = parent.New(map[string]any{"key": "b", "name": "second"})
	require.NoError(t, err)
	kid, err := child.New(map[string]any{"parent": a, "data": "blah"})
	require.NoError(t, err)
	require.NoError(t, m.Flush())

	got, err := parent.Get("a")
	require.NoError(t, err)
	kidNav := mustGet(t, got, "child")
	require.NotNil(t, kidNav)
	assert.Equal(t, "blah", mustGet(t, kidNav.(*Row), "data"))

	b, err := parent.Get("b")
	require.NoError(t, err)
	assert.Nil(t, mustGet(t, b, "child"))

	// Reparent in memory only: navigation follows the pending change.
	mustSet(t, kid, "parent", b)
	assert.Nil(t, mustGet(t, got, "child"))
	navB := mustGet(t, b, "child")
	require.NotNil(t, navB)
	assert.Same(t, kid, navB)
}

func TestFlushDefersForwardForeignKeys(t *testing.T) {
	m := testManager(t)

	// Mutual non-required references between integer-keyed entities:
	// neither row's key exists before its insert, so one side must be
	// inserted with a NULL reference and patched on a later pass.
	xid := types.ID()
	xid.Name = "id"
	x, err := m.New("x", xid, map[string]any{"other": "y"})
	require.NoError(t, err)
	yid := types.ID()
	yid.Name = "id"
	y, err := m.New("y", yid, map[string]any{"other": "x"})
	require.NoError(t, err)
	// DDL runs after both registrations; each table adopts the other's
	// key type.
	require.NoError(t, x.Create())
	require.NoError(t, y.Create())

	rx, err := x.New(map[string]any{})
	require.NoError(t, err)
	ry, err := y.New(map[string]any{"other": rx})
	require.NoError(t, err)
	mustSet(t, rx, "other", ry)

	require.NoError(t, m.Flush())
	assert.False(t, rx.Dirty())
	assert.False(t, ry.Dirty())
	assert.NotZero(t, rx.Rowid())
	assert.NotZero(t, ry.Rowid())

	// Both references resolved to the other row's key.
	rawX, err := rx.Raw("other")
	require.NoError(t, err)
	assert.Equal(t, ry.Rowid(), rawX)
	rawY, err := ry.Raw("other")
	require.NoError(t, err)
	assert.Equal(t, rx.Rowid(), rawY)
}

func TestFlushOrdersRequiredForeignKeys(t *testing.T) {
	m := testManager(t)
	_, child := declareFamily(t, m)
	parent, err := m.Get("parent")
	require.NoError(t, err)

	// The child's required reference names a parent that is not yet in
	// the database; one flush writes both rows with the reference intact.
	p, err := parent.New(map[string]any{"key": "p", "name": "n"})
	require.NoError(t, err)
	_, err = child.New(map[string]any{"parent": p, "data": "d"})
	require.NoError(t, err)

	require.NoError(t, m.Flush())

	got, err := child.Get("d")
	require.NoError(t, err)
	require.NotNil(t, got)
	raw, err := got.Raw("parent")
	require.NoError(t, err)
	assert.Equal(t, "p", raw)
}

func TestFlushUnresolvableDependency(t *testing.T) {
	m := testManager(t)
	target := declare(t, m, "target", nil, map[string]string{"name": "text"})
	ref := declare(t, m, "ref", nil, map[string]any{"target": "target!"})

	tr, err := target.New(map[string]any{"name": "t"})
	require.NoError(t, err)
	_, err = ref.New(map[string]any{"target": tr})
	require.NoError(t, err)

	// Deleting the referent before it ever reaches the database leaves
	// the required reference permanently unresolvable.
	require.NoError(t, tr.Delete())

	err = m.Flush()
	assert.ErrorIs(t, err, types.ErrUnresolvableFlush)
}

func TestIDKeyMirrorsRowid(t *testing.T) {
	m := testManager(t)
	idf := types.ID()
	idf.Name = "id"
	e := declare(t, m, "task", idf, map[string]string{"title": "text"})

	r, err := e.New(map[string]any{"title": "one"})
	require.NoError(t, err)
	assert.Nil(t, mustGet(t, r, "id"))

	require.NoError(t, m.Flush())
	assert.Equal(t, r.Rowid(), mustGet(t, r, "id"))

	// Fetch by the assigned key returns the identical object.
	got, err := e.Get(r.Rowid())
	require.NoError(t, err)
	assert.Same(t, r, got)
}

func TestFlushTwiceIsNoop(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	_, err := e.New(map[string]any{"key": "a", "value": "b"})
	require.NoError(t, err)
	require.NoError(t, m.Flush())
	require.NoError(t, m.Flush())
	assert.False(t, m.PendingChanges())

	remaining, err := e.Flush()
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestEntityFlushLeavesPendingFlag(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	_, err := e.New(map[string]any{"key": "a", "value": "b"})
	require.NoError(t, err)

	remaining, err := e.Flush()
	require.NoError(t, err)
	assert.Zero(t, remaining)

	// Per-entity flushes never reset the manager-wide flag.
	assert.True(t, m.PendingChanges())
}

func TestFlushUpdatesExistingRow(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	r, err := e.New(map[string]any{"key": "a", "value": "old"})
	require.NoError(t, err)
	require.NoError(t, m.Flush())
	rowid := r.Rowid()

	mustSet(t, r, "value", "new")
	require.NoError(t, m.Flush())
	assert.Equal(t, rowid, r.Rowid())

	// Verify through a fresh driver read.
	st, err := m.DB().Prepare(`SELECT value FROM map WHERE key = ?`)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Bind(1, "a"))
	code, err := st.Step()
	require.NoError(t, err)
	require.Equal(t, 100, int(code)) // ROW
	assert.Equal(t, "new", st.Values()[0])
}
