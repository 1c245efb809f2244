package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigDirPrecedence(t *testing.T) {
	t.Setenv(EnvConfigDir, "")

	// Flag wins over everything.
	got, err := ResolveConfigDir("/tmp/satchel-flag")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/tmp/satchel-flag"), got)

	// Environment wins over defaults.
	t.Setenv(EnvConfigDir, "/tmp/satchel-env")
	got, err = ResolveConfigDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/tmp/satchel-env"), got)
}

func TestResolveConfigDirLocalDirectory(t *testing.T) {
	t.Setenv(EnvConfigDir, "")
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, DefaultConfigDirName), 0o755))
	t.Chdir(dir)

	got, err := ResolveConfigDir("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfigDirName, filepath.Base(got))
}

func TestDefaultConfigDirLinux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux-specific layout")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	got, err := DefaultConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/xdg/satchel", got)
}

func TestResolveDatabasePrecedence(t *testing.T) {
	t.Setenv(EnvDatabase, "")

	got, err := ResolveDatabase(":memory:", "cfg.db", "/conf")
	require.NoError(t, err)
	assert.Equal(t, "", got, "explicit :memory: flag yields an in-memory database")

	got, err = ResolveDatabase("/tmp/flag.db", "cfg.db", "/conf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/tmp/flag.db"), got)

	got, err = ResolveDatabase("", "/tmp/cfg.db", "/conf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/tmp/cfg.db"), got)

	t.Setenv(EnvDatabase, "/tmp/env.db")
	got, err = ResolveDatabase("", "", "/conf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/tmp/env.db"), got)

	t.Setenv(EnvDatabase, "")
	got, err = ResolveDatabase("", "", "/conf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/conf", DefaultDatabaseName), got)
}
