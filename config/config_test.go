package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_OverridesDefaultsPartially(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crabdb.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool_size = 256
verbose = true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 256, cfg.PoolSize)
	require.True(t, cfg.Verbose)
	require.Equal(t, Default().ReplacerK, cfg.ReplacerK)
	require.Equal(t, Default().DataFile, cfg.DataFile)
}

func TestLoad_RejectsInvalidPoolSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crabdb.toml")
	require.NoError(t, os.WriteFile(path, []byte(`pool_size = 0`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
