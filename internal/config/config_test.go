package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, 50, cfg.Pagination.DefaultLimit)
	assert.Equal(t, "#FF5733", cfg.Projects.DefaultColor)
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("log:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"addr":      "server:\n  addr: nope\n",
		"base_path": "server:\n  base_path: v0\n",
		"level":     "log:\n  level: loud\n",
		"limits":    "pagination:\n  default_limit: 500\n  max_limit: 10\n",
		"color":     "projects:\n  default_color: red\n",
		"hook_url":  "hooks:\n  - url: ftp://example.com\n",
	}
	for name, doc := range cases {
		_, err := FromYAML([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(Path(dir), []byte(GenerateDefault()), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.Bootstrap.Admin.Username)
}

func TestHooks(t *testing.T) {
	cfg, err := FromYAML([]byte("hooks:\n  - url: http://127.0.0.1:9000/in\n    types: [task.created]\n"))
	require.NoError(t, err)
	require.Len(t, cfg.Hooks, 1)
	assert.Equal(t, []string{"task.created"}, cfg.Hooks[0].Types)
	assert.Nil(t, cfg.Hooks[0].Enabled)
}
