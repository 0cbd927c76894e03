package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3000, cfg.Ports.RangeMin)
	assert.Equal(t, 3099, cfg.Ports.RangeMax)
	assert.Contains(t, cfg.Ports.KnownCommon, 9090)
	assert.NotEmpty(t, cfg.Paths.AppDataDir)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sessiond", cfg.Server.Name)
	assert.Equal(t, 3000, cfg.Ports.RangeMin)
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	t.Setenv("SESSIOND_LOGGING_LEVEL", "debug")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sessiond.yaml"
	require.NoError(t, os.WriteFile(path, []byte("ports:\n  rangeMin: 4100\n  rangeMax: 4199\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Ports.RangeMin)
	assert.Equal(t, 4199, cfg.Ports.RangeMax)
}
