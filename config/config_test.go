package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadMergesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evolu.json")
	contents := `{
		// trailing comments and commas are fine, hujson handles both
		"name": "MyApp",
		"syncUrl": "wss://relay.example.com/sync",
		"indexes": [{"table": "todo", "columns": ["title"]}],
	}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "MyApp", cfg.Name)
	require.Equal(t, "wss://relay.example.com/sync", cfg.SyncURL)
	require.Equal(t, Default().MaxDrift, cfg.MaxDrift)
	require.Equal(t, []Index{{Table: "todo", Columns: []string{"title"}}}, cfg.Indexes)
}

func TestResolveMnemonicGeneratesWhenAbsent(t *testing.T) {
	m, err := ResolveMnemonic(Configuration{})
	require.NoError(t, err)
	require.NotEmpty(t, m)
}

func TestDatabasePathUsesName(t *testing.T) {
	require.Equal(t, "Evolu.sqlite", DatabasePath(Default()))
}

func TestDefaultMaxDriftMatchesSpec(t *testing.T) {
	require.Equal(t, 5*time.Minute, Default().MaxDrift)
}
