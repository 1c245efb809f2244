package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/satchel/pkg/codec"
	"github.com/mesh-intelligence/satchel/pkg/satchel"
	"github.com/mesh-intelligence/satchel/pkg/types"
)

const testSchema = `entities:
  - name: user
    key: name
    fields:
      - {name: name, spec: text}
      - {name: profile, spec: json}
  - name: task
    key: id
    fields:
      - {name: title, spec: text!}
      - {name: owner, spec: user!}
`

func writeConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, schemaFileExt), []byte(testSchema), 0o644))
	return dir
}

func TestRegisterSchemaFromYAML(t *testing.T) {
	dir := writeConfigDir(t)

	m, err := satchel.Open("", satchel.WithCodec(codec.JSON()))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, registerSchema(m, dir))

	users, err := m.Get("user")
	require.NoError(t, err)
	assert.Equal(t, "name", users.Key())

	tasks, err := m.Get("task")
	require.NoError(t, err)
	// "id" names no declared field, so it became an integer key.
	assert.Equal(t, "id", tasks.Key())
	f, ok := tasks.Field("id")
	require.True(t, ok)
	assert.Equal(t, types.KindID, f.Kind)

	f, ok = tasks.Field("owner")
	require.True(t, ok)
	assert.Equal(t, types.KindEntity, f.Kind)
	assert.Equal(t, "user", f.Ref)
	assert.True(t, f.Required)

	// The DDL ran: a round trip through the tables works.
	alice, err := users.New(map[string]any{"name": "alice"})
	require.NoError(t, err)
	_, err = tasks.New(map[string]any{"title": "write docs", "owner": alice})
	require.NoError(t, err)
	require.NoError(t, m.Flush())
}

func TestRegisterSchemaMissingFileIsFine(t *testing.T) {
	m, err := satchel.Open("")
	require.NoError(t, err)
	defer m.Close()

	assert.NoError(t, registerSchema(m, t.TempDir()))
}

func TestRegisterSchemaBadSpec(t *testing.T) {
	dir := t.TempDir()
	bad := "entities:\n  - name: t\n    fields:\n      - {name: x, spec: \"!\"}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, schemaFileExt), []byte(bad), 0o644))

	m, err := satchel.Open("")
	require.NoError(t, err)
	defer m.Close()

	assert.Error(t, registerSchema(m, dir))
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "satchel v")
	assert.Contains(t, out.String(), modulePath)
}

func TestInitAndSetGetRoundTrip(t *testing.T) {
	dir := writeConfigDir(t)
	t.Setenv("SATCHEL_CONFIG_DIR", dir)
	t.Setenv("SATCHEL_DB", filepath.Join(dir, "test.db"))

	run := func(args ...string) string {
		t.Helper()
		root := NewRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(args)
		require.NoError(t, root.Execute(), "args: %v", args)
		return out.String()
	}

	out := run("init")
	assert.Contains(t, out, "2 entities")

	out = run("set", "user", "alice", "name=alice")
	assert.Contains(t, out, "alice")

	out = run("get", "user", "alice")
	assert.Contains(t, out, "alice")

	out = run("list", "user")
	assert.Contains(t, out, "1 row(s)")

	out = run("del", "user", "alice")
	assert.Contains(t, out, "deleted")
}
