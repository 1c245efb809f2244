package satchel

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/satchel/pkg/types"
)

func TestInsertAndFetch(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	r, err := e.New(map[string]any{"key": "a", "value": "b"})
	require.NoError(t, err)
	assert.True(t, r.Dirty())
	assert.True(t, m.PendingChanges())

	require.NoError(t, m.Flush())
	assert.False(t, r.Dirty())
	assert.False(t, m.PendingChanges())

	// Drop the only strong reference and collect, so the fetch below
	// has to come from the database.
	r = nil
	runtime.GC()
	runtime.GC()

	got, err := e.Get("a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", mustGet(t, got, "key"))
	assert.Equal(t, "b", mustGet(t, got, "value"))
}

func TestGetMissingReturnsNil(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	got, err := e.Get("absent")
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err := e.Has("absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdentityMap(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	_, err := e.New(map[string]any{"key": "a", "value": "1"})
	require.NoError(t, err)
	require.NoError(t, m.Flush())

	first, err := e.Get("a")
	require.NoError(t, err)
	second, err := e.Get("a")
	require.NoError(t, err)
	assert.Same(t, first, second)

	// A pending row is identical to the object New returned.
	pending, err := e.New(map[string]any{"key": "b", "value": "2"})
	require.NoError(t, err)
	got, err := e.Get("b")
	require.NoError(t, err)
	assert.Same(t, pending, got)
}

func TestCaseInsensitiveAccess(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	r, err := e.New(map[string]any{"KEY": "a", "Value": "b"})
	require.NoError(t, err)

	assert.Equal(t, "a", mustGet(t, r, "Key"))
	assert.Equal(t, "b", mustGet(t, r, "VALUE"))
	mustSet(t, r, "VaLuE", "c")
	assert.Equal(t, "c", mustGet(t, r, "value"))

	// The underscore prefix reads the raw lookup value.
	assert.Equal(t, "c", mustGet(t, r, "_value"))

	_, err = r.Get("nope")
	assert.ErrorIs(t, err, types.ErrUnknownField)
	assert.ErrorIs(t, r.Set("nope", 1), types.ErrUnknownField)
}

func TestUniqueEnforcedInMemoryAndDatabase(t *testing.T) {
	m := testManager(t)
	e := declare(t, m, "user", "name", map[string]any{
		"name":  "text",
		"email": types.Field{Kind: types.KindText, Unique: true},
	})

	a, err := e.New(map[string]any{"name": "a", "email": "x@example.com"})
	require.NoError(t, err)

	// In-memory conflict, before any flush.
	_, err = e.New(map[string]any{"name": "b", "email": "x@example.com"})
	assert.ErrorIs(t, err, types.ErrUniqueViolation)

	require.NoError(t, m.Flush())

	// Database conflict after the holder was flushed and dropped.
	_ = a
	a = nil
	runtime.GC()
	runtime.GC()
	_, err = e.New(map[string]any{"name": "c", "email": "x@example.com"})
	assert.ErrorIs(t, err, types.ErrUniqueViolation)

	// Set-time conflict.
	b, err := e.New(map[string]any{"name": "d", "email": "d@example.com"})
	require.NoError(t, err)
	assert.ErrorIs(t, b.Set("email", "x@example.com"), types.ErrUniqueViolation)

	// Re-setting a row's own value is not a conflict.
	assert.NoError(t, b.Set("email", "d@example.com"))

	// skipCheck bypasses the database probe.
	_, err = e.New(map[string]any{"name": "e", "email": "x@example.com"}, true)
	assert.NoError(t, err)
}

func TestUniqueCacheSwapsOnSet(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	r, err := e.New(map[string]any{"key": "old", "value": "v"})
	require.NoError(t, err)

	mustSet(t, r, "key", "new")

	got, err := e.Get("new")
	require.NoError(t, err)
	assert.Same(t, r, got)
	gone, err := e.Get("old")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDeleteLifecycle(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	r, err := e.New(map[string]any{"key": "a", "value": "b"})
	require.NoError(t, err)
	require.NoError(t, m.Flush())

	require.NoError(t, r.Delete())
	assert.True(t, r.Deleted())
	assert.True(t, r.Dirty())
	require.NoError(t, r.Delete()) // idempotent

	// A deleted-but-unflushed row is already invisible to Get.
	got, err := e.Get("a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, m.Flush())
	got, err = e.Get("a")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Mutating a deleted row fails.
	assert.ErrorIs(t, r.Set("value", "x"), types.ErrDeletedRow)
}

func TestUnknownFieldInNew(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	_, err := e.New(map[string]any{"key": "a", "bogus": 1})
	assert.ErrorIs(t, err, types.ErrUnknownField)
}

func TestRowDebugSnapshot(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	r, err := e.New(map[string]any{"key": "a", "value": "b"})
	require.NoError(t, err)

	snap := r.Debug()
	assert.Equal(t, "map", snap["entity"])
	assert.Equal(t, true, snap["dirty"])
	values, ok := snap["values"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", values["key"])
}

func TestRowFieldsIterator(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	r, err := e.New(map[string]any{"key": "a", "value": "b"})
	require.NoError(t, err)

	got := map[string]any{}
	for name, v := range r.Fields() {
		got[name] = v
	}
	assert.Equal(t, map[string]any{"key": "a", "value": "b"}, got)
}

func TestRowFlushSingle(t *testing.T) {
	m := testManager(t)
	e := declareKV(t, m)

	r, err := e.New(map[string]any{"key": "a", "value": "b"})
	require.NoError(t, err)

	clean, err := r.Flush()
	require.NoError(t, err)
	assert.True(t, clean)
	assert.NotZero(t, r.Rowid())

	// A single-row flush does not reset the manager-wide flag.
	assert.True(t, m.PendingChanges())
}
