package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okrline/internal/db"
	"okrline/internal/domain"
	"okrline/internal/engine/membership"
	"okrline/internal/migrate"
	"okrline/internal/repo"
)

const now = "2026-01-01T00:00:00Z"

type fixture struct {
	res   Resolver
	users map[string]domain.User
}

// newFixture seeds a mission project m1 (epic e1 -> objective o1 -> okr k1 ->
// activity a1 -> task t1 assigned to "outsider") and a plain project p2.
func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	ctx := context.Background()

	users := map[string]domain.User{}
	for _, u := range []domain.User{
		{ID: "admin", Username: "admin", Role: domain.RoleAdmin},
		{ID: "boss", Username: "boss", Role: domain.RoleManager},
		{ID: "owner", Username: "owner", Role: domain.RoleEmployee},
		{ID: "member", Username: "member", Role: domain.RoleEmployee},
		{ID: "outsider", Username: "outsider", Role: domain.RoleEmployee},
	} {
		u.CreatedAt = now
		require.NoError(t, r.InsertUser(ctx, nil, u))
		users[u.ID] = u
	}
	require.NoError(t, r.InsertProject(ctx, nil, domain.Project{ID: "m1", Name: "Moon", StartDate: "2026-01-01", Color: domain.DefaultProjectColor, Type: domain.ProjectTypeMission, CreatedBy: "owner", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, r.InsertProject(ctx, nil, domain.Project{ID: "p2", Name: "Q1", StartDate: "2026-01-01", Color: domain.DefaultProjectColor, Type: domain.ProjectTypeStandard, CreatedBy: "owner", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, r.InsertMembership(ctx, nil, domain.Membership{ProjectID: "m1", UserID: "owner", Role: domain.MemberOwner, JoinedAt: now}))
	require.NoError(t, r.InsertMembership(ctx, nil, domain.Membership{ProjectID: "m1", UserID: "member", Role: domain.MemberMember, JoinedAt: now}))
	require.NoError(t, r.InsertEpic(ctx, nil, domain.Epic{ID: "e1", ProjectID: "m1", Title: "Launch", OwnerID: "owner", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, r.InsertObjective(ctx, nil, domain.Objective{ID: "o1", Parent: domain.ViaEpic("e1"), Title: "Orbit", OwnerID: "owner", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, r.InsertObjective(ctx, nil, domain.Objective{ID: "o2", Parent: domain.ViaProject("p2"), Title: "Grow", OwnerID: "owner", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, r.InsertOKR(ctx, nil, domain.OKR{ID: "k1", ObjectiveID: "o1", KeyResult: "kr", TargetValue: 100, OwnerID: "owner", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, r.InsertActivity(ctx, nil, domain.Activity{ID: "a1", OKRID: "k1", Name: "Build", OwnerID: "owner", StartDate: "2026-01-01", CreatedAt: now, UpdatedAt: now}))
	assignee := "outsider"
	require.NoError(t, r.InsertTask(ctx, nil, domain.Task{ID: "t1", ActivityID: "a1", Title: "rocket", Status: domain.TaskBacklog, AssigneeID: &assignee, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, r.InsertTask(ctx, nil, domain.Task{ID: "t2", ActivityID: "a1", Title: "fuel", Status: domain.TaskBacklog, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, r.InsertComment(ctx, nil, domain.Comment{ID: "c1", TaskID: "t2", UserID: "member", Text: "hi", CreatedAt: now, UpdatedAt: now}))

	return fixture{res: Resolver{Repo: r, Members: membership.Registry{Repo: r}}, users: users}
}

func (f fixture) check(t *testing.T, user string, action Action, target Target) error {
	t.Helper()
	return f.res.Authorize(context.Background(), nil, f.users[user], action, target)
}

func TestGlobalRolesBypassMembership(t *testing.T) {
	f := newFixture(t)
	for _, u := range []string{"admin", "boss"} {
		assert.NoError(t, f.check(t, u, ActionDelete, On(domain.KindEpic, "e1")))
		assert.NoError(t, f.check(t, u, ActionCreate, Under(domain.KindMembership, domain.Ref(domain.KindProject, "p2"))))
	}
}

func TestMissingProfileIsDenied(t *testing.T) {
	f := newFixture(t)
	err := f.res.Authorize(context.Background(), nil, domain.User{}, ActionRead, On(domain.KindProject, "m1"))
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = f.res.Principal(context.Background(), nil, "ghost")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestMemberRules(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.check(t, "member", ActionRead, On(domain.KindEpic, "e1")))
	assert.ErrorIs(t, f.check(t, "member", ActionDelete, On(domain.KindEpic, "e1")), domain.ErrPermissionDenied)
	assert.ErrorIs(t, f.check(t, "member", ActionCreate, Under(domain.KindObjective, domain.Ref(domain.KindEpic, "e1"))), domain.ErrPermissionDenied)
	assert.NoError(t, f.check(t, "member", ActionUpdate, On(domain.KindOKR, "k1")))
	assert.NoError(t, f.check(t, "member", ActionUpdate, On(domain.KindActivity, "a1")))
	assert.NoError(t, f.check(t, "member", ActionCreate, Under(domain.KindTask, domain.Ref(domain.KindActivity, "a1"))))
	assert.ErrorIs(t, f.check(t, "member", ActionAssign, On(domain.KindTask, "t2")), domain.ErrPermissionDenied)
	assert.ErrorIs(t, f.check(t, "member", ActionCreate, Under(domain.KindMembership, domain.Ref(domain.KindProject, "m1"))), domain.ErrPermissionDenied)
	assert.ErrorIs(t, f.check(t, "member", ActionUpdate, On(domain.KindProject, "m1")), domain.ErrPermissionDenied)
}

func TestOwnerRules(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.check(t, "owner", ActionDelete, On(domain.KindEpic, "e1")))
	assert.NoError(t, f.check(t, "owner", ActionCreate, Under(domain.KindOKR, domain.Ref(domain.KindObjective, "o1"))))
	assert.NoError(t, f.check(t, "owner", ActionAssign, On(domain.KindTask, "t2")))
	assert.NoError(t, f.check(t, "owner", ActionDelete, On(domain.KindComment, "c1")))
	// owner of m1 has no membership in p2
	assert.ErrorIs(t, f.check(t, "owner", ActionRead, On(domain.KindObjective, "o2")), domain.ErrPermissionDenied)
}

func TestNonMemberIsDenied(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.check(t, "outsider", ActionRead, On(domain.KindProject, "m1")), domain.ErrPermissionDenied)
	assert.ErrorIs(t, f.check(t, "outsider", ActionList, Under(domain.KindTask, domain.Ref(domain.KindActivity, "a1"))), domain.ErrPermissionDenied)
	assert.ErrorIs(t, f.check(t, "outsider", ActionRead, On(domain.KindTask, "t2")), domain.ErrPermissionDenied)
}

func TestAssigneeOverride(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.check(t, "outsider", ActionRead, On(domain.KindTask, "t1")))
	assert.NoError(t, f.check(t, "outsider", ActionUpdate, On(domain.KindTask, "t1")))
	assert.ErrorIs(t, f.check(t, "outsider", ActionDelete, On(domain.KindTask, "t1")), domain.ErrPermissionDenied)
	assert.NoError(t, f.check(t, "outsider", ActionCreate, Under(domain.KindComment, domain.Ref(domain.KindTask, "t1"))))
	assert.ErrorIs(t, f.check(t, "outsider", ActionCreate, Under(domain.KindComment, domain.Ref(domain.KindTask, "t2"))), domain.ErrPermissionDenied)
}

func TestCommentAuthorOverride(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.check(t, "member", ActionUpdate, On(domain.KindComment, "c1")))
	assert.NoError(t, f.check(t, "member", ActionDelete, On(domain.KindComment, "c1")))
}

func TestMissingTargetIsNotFound(t *testing.T) {
	f := newFixture(t)
	err := f.check(t, "member", ActionRead, On(domain.KindEpic, "nope"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProjectCreateNeedsOnlyProfile(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.check(t, "outsider", ActionCreate, Target{Kind: domain.KindProject}))
}

func TestObjectiveResolvesThroughEitherParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.res.ProjectOf(ctx, nil, domain.Ref(domain.KindObjective, "o1"))
	require.NoError(t, err)
	assert.Equal(t, "m1", p)

	p, err = f.res.ProjectOf(ctx, nil, domain.Ref(domain.KindObjective, "o2"))
	require.NoError(t, err)
	assert.Equal(t, "p2", p)
}

func TestVisibility(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.res.Visibility(f.users["boss"], domain.KindTask).All)
	v := f.res.Visibility(f.users["member"], domain.KindTask)
	assert.Equal(t, repo.Visibility{UserID: "member", IncludeAssigned: true}, v)
	assert.False(t, f.res.Visibility(f.users["member"], domain.KindEpic).IncludeAssigned)
	assert.Equal(t, repo.Visibility{}, f.res.Visibility(domain.User{}, domain.KindEpic))
}
