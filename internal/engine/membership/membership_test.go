package membership

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okrline/internal/db"
	"okrline/internal/domain"
	"okrline/internal/migrate"
	"okrline/internal/repo"
)

func newRegistry(t *testing.T) Registry {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	now := "2026-01-01T00:00:00Z"
	require.NoError(t, r.InsertUser(ctx, nil, domain.User{ID: "u1", Username: "ana", Role: domain.RoleEmployee, CreatedAt: now}))
	require.NoError(t, r.InsertProject(ctx, nil, domain.Project{ID: "p1", Name: "Q1", StartDate: "2026-01-01", Color: domain.DefaultProjectColor, Type: domain.ProjectTypeMission, CreatedBy: "u1", CreatedAt: now, UpdatedAt: now}))
	fixed := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	return Registry{Repo: r, Now: func() time.Time { return fixed }}
}

func TestAddRemoveLifecycle(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	ok, err := reg.IsMember(ctx, nil, "p1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	m, err := reg.Add(ctx, nil, "p1", "u1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.MemberMember, m.Role)
	assert.Equal(t, "2026-02-03T04:05:06Z", m.JoinedAt)

	_, err = reg.Add(ctx, nil, "p1", "u1", domain.MemberOwner)
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)

	role, ok, err := reg.Role(ctx, nil, "p1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.MemberMember, role)

	m, err = reg.SetRole(ctx, nil, "p1", "u1", domain.MemberManager)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberManager, m.Role)

	require.NoError(t, reg.Remove(ctx, nil, "p1", "u1"))
	assert.ErrorIs(t, reg.Remove(ctx, nil, "p1", "u1"), domain.ErrNotAMember)

	_, ok, err = reg.Role(ctx, nil, "p1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddValidates(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Add(ctx, nil, "p1", "u1", "boss")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = reg.Add(ctx, nil, "nope", "u1", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = reg.Add(ctx, nil, "p1", "ghost", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, reg.Remove(ctx, nil, "nope", "u1"), domain.ErrNotFound)
	_, err = reg.SetRole(ctx, nil, "p1", "u1", domain.MemberOwner)
	assert.ErrorIs(t, err, domain.ErrNotAMember)
}
