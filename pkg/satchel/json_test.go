package satchel

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/satchel/pkg/types"
)

func declareDocs(t *testing.T, m *Manager) *Entity {
	t.Helper()
	return declare(t, m, "doc", "name", map[string]any{
		"name": "text",
		"body": "json",
	})
}

func TestJSONRoundTrip(t *testing.T) {
	m := testManager(t)
	e := declareDocs(t, m)

	original := map[string]any{
		"title": "hello",
		"tags":  []any{"a", "b"},
		"meta":  map[string]any{"depth": float64(2)},
	}
	_, err := e.New(map[string]any{"name": "a", "body": original})
	require.NoError(t, err)
	require.NoError(t, m.Flush())
	runtime.GC()

	r, err := e.Get("a")
	require.NoError(t, err)
	body := mustGet(t, r, "body").(*JSON)
	assert.Equal(t, original, body.Value())
}

func TestJSONFromEncodedString(t *testing.T) {
	m := testManager(t)
	e := declareDocs(t, m)

	r, err := e.New(map[string]any{"name": "a", "body": `{"x": 1}`})
	require.NoError(t, err)
	body := mustGet(t, r, "body").(*JSON)
	assert.Equal(t, float64(1), body.Get("x"))

	// Invalid JSON content fails at the call site.
	err = r.Set("body", "{not json")
	assert.ErrorIs(t, err, types.ErrNotCoercible)
}

func TestJSONMutationMarksRowDirty(t *testing.T) {
	m := testManager(t)
	e := declareDocs(t, m)

	r, err := e.New(map[string]any{"name": "a", "body": map[string]any{"n": float64(1)}})
	require.NoError(t, err)
	require.NoError(t, m.Flush())
	require.False(t, r.Dirty())

	body := mustGet(t, r, "body").(*JSON)
	require.NoError(t, body.Set(float64(2), "n"))
	assert.True(t, r.Dirty(), "structural mutation re-marks the row")

	require.NoError(t, m.Flush())
	require.False(t, r.Dirty())

	// The flushed encoding reflects the mutation.
	raw, err := r.Raw("body")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 2}`, raw.(string))

	// Nested sets create intermediate maps.
	require.NoError(t, body.Set("deep", "a", "b"))
	assert.True(t, r.Dirty())
	assert.Equal(t, "deep", body.Get("a", "b"))
}

func TestJSONGetMissingPath(t *testing.T) {
	m := testManager(t)
	e := declareDocs(t, m)

	r, err := e.New(map[string]any{"name": "a", "body": map[string]any{"x": float64(1)}})
	require.NoError(t, err)
	body := mustGet(t, r, "body").(*JSON)
	assert.Nil(t, body.Get("missing"))
	assert.Nil(t, body.Get("x", "deeper"))
}
