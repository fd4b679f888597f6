package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okrline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(conn))
	require.NoError(t, Migrate(conn))

	latest, err := Latest()
	require.NoError(t, err)
	v, err := Version(conn)
	require.NoError(t, err)
	assert.Equal(t, latest, v)
}

func TestObjectiveParentCheck(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, Migrate(conn))

	_, err = conn.Exec(`INSERT INTO objectives(id,epic_id,project_id,title,owner_id,created_at,updated_at) VALUES ('o1',NULL,NULL,'t','u','x','x')`)
	assert.Error(t, err)
}
