package satchel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/satchel/pkg/codec"
	"github.com/mesh-intelligence/satchel/pkg/types"
)

// testManager opens an in-memory manager with the default codec.
func testManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := Open("", append([]Option{WithCodec(codec.JSON())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

// declare registers an entity and runs its DDL.
func declare(t *testing.T, m *Manager, name string, key any, fields any) *Entity {
	t.Helper()
	e, err := m.New(name, key, fields)
	require.NoError(t, err)
	require.NoError(t, e.Create())
	return e
}

// declareKV registers the two-column map entity several tests share.
func declareKV(t *testing.T, m *Manager) *Entity {
	t.Helper()
	return declare(t, m, "map", "key", []types.Field{
		{Name: "key", Kind: types.KindText},
		{Name: "value", Kind: types.KindText},
	})
}

// mustGet reads a field and fails the test on error.
func mustGet(t *testing.T, r *Row, name string) any {
	t.Helper()
	v, err := r.Get(name)
	require.NoError(t, err)
	return v
}

// mustSet writes a field and fails the test on error.
func mustSet(t *testing.T, r *Row, name string, v any) {
	t.Helper()
	require.NoError(t, r.Set(name, v))
}
