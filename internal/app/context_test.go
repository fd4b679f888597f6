package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"okrline/internal/config"
	"okrline/internal/domain"
)

func TestOpenBootstrapsAdminOnce(t *testing.T) {
	dir := t.TempDir()
	yml := "bootstrap:\n  admin:\n    id: root\n    username: root\n"
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(yml), 0o644))
	ctx := context.Background()

	rt, err := Open(ctx, Options{Workspace: dir, Logger: zap.NewNop(), Metrics: true})
	require.NoError(t, err)
	u, err := rt.Engine.Me(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, u.Role)
	require.NotNil(t, rt.Metrics)

	_, created, err := EnsureAdmin(ctx, rt.Engine, config.BootstrapUser{ID: "other", Username: "other"})
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, rt.Close())

	_, err = os.Stat(filepath.Join(dir, ".okrline", "okrline.db"))
	assert.NoError(t, err)
}

func TestOpenWithoutBootstrap(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(context.Background(), Options{Workspace: dir, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer rt.Close()
	users, err := rt.Engine.ListUsers(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Nil(t, rt.Metrics)
}
