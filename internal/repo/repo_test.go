package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okrline/internal/db"
	"okrline/internal/domain"
	"okrline/internal/migrate"
)

const ts = "2026-01-01T00:00:00Z"

func newTestRepo(t *testing.T) (Repo, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return Repo{DB: conn}, conn
}

// seed builds user -> project(type project) -> objective -> okr -> activity -> task.
func seed(t *testing.T, r Repo) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.InsertUser(ctx, nil, domain.User{ID: "u1", Username: "ana", Role: domain.RoleEmployee, CreatedAt: ts}))
	require.NoError(t, r.InsertUser(ctx, nil, domain.User{ID: "u2", Username: "bo", Role: domain.RoleEmployee, CreatedAt: ts}))
	require.NoError(t, r.InsertProject(ctx, nil, domain.Project{ID: "p1", Name: "Q1", StartDate: "2026-01-01", Color: domain.DefaultProjectColor, Type: domain.ProjectTypeStandard, CreatedBy: "u1", CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertMembership(ctx, nil, domain.Membership{ProjectID: "p1", UserID: "u1", Role: domain.MemberMember, JoinedAt: ts}))
	require.NoError(t, r.InsertObjective(ctx, nil, domain.Objective{ID: "o1", Parent: domain.ViaProject("p1"), Title: "Grow", OwnerID: "u1", CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertOKR(ctx, nil, domain.OKR{ID: "k1", ObjectiveID: "o1", KeyResult: "Signups", TargetValue: 100, OwnerID: "u1", CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertActivity(ctx, nil, domain.Activity{ID: "a1", OKRID: "k1", Name: "Campaign", OwnerID: "u1", StartDate: "2026-01-01", CreatedAt: ts, UpdatedAt: ts}))
	assignee := "u2"
	require.NoError(t, r.InsertTask(ctx, nil, domain.Task{ID: "t1", ActivityID: "a1", Title: "A", Status: domain.TaskCompleted, CompletionPercentage: 100, CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertTask(ctx, nil, domain.Task{ID: "t2", ActivityID: "a1", Title: "B", Status: domain.TaskBacklog, AssigneeID: &assignee, CreatedAt: ts, UpdatedAt: "2026-01-02T00:00:00Z"}))
}

func TestParentOfWalksToProject(t *testing.T) {
	r, _ := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()

	ref := domain.Ref(domain.KindTask, "t1")
	var chain []string
	for ref.Kind != "" {
		chain = append(chain, ref.Kind)
		var err error
		ref, err = r.ParentOf(ctx, nil, ref)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"task", "activity", "okr", "objective", "project"}, chain)

	_, err := r.ParentOf(ctx, nil, domain.Ref(domain.KindTask, "missing"))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestVisibilityFiltersLists(t *testing.T) {
	r, _ := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()

	tasks, err := r.ListTasks(ctx, nil, TaskFilters{Visibility: Visibility{UserID: "u1", IncludeAssigned: true}})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = r.ListTasks(ctx, nil, TaskFilters{Visibility: Visibility{UserID: "u2", IncludeAssigned: true}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t2", tasks[0].ID)

	okrs, err := r.ListOKRs(ctx, nil, ListFilter{Visibility: Visibility{UserID: "u2"}})
	require.NoError(t, err)
	assert.Empty(t, okrs)

	projects, err := r.ListProjects(ctx, nil, Visibility{}, Page{})
	require.NoError(t, err)
	assert.Empty(t, projects)

	projects, err = r.ListProjects(ctx, nil, Visibility{All: true}, Page{})
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestActivityTaskCounts(t *testing.T) {
	r, _ := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()

	counts, err := r.ActivityTaskCounts(ctx, nil, "k1")
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, ActivityTaskCount{ActivityID: "a1", Total: 2, Completed: 1}, counts[0])

	require.NoError(t, r.InsertActivity(ctx, nil, domain.Activity{ID: "a2", OKRID: "k1", Name: "Empty", OwnerID: "u1", StartDate: "2026-01-01", CreatedAt: "2026-01-03T00:00:00Z", UpdatedAt: ts}))
	single, err := r.TaskCountsForActivity(ctx, nil, "a2")
	require.NoError(t, err)
	assert.Equal(t, 0, single.Total)
}

func TestMembershipConflicts(t *testing.T) {
	r, _ := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()

	err := r.InsertMembership(ctx, nil, domain.Membership{ProjectID: "p1", UserID: "u1", Role: domain.MemberOwner, JoinedAt: ts})
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)
	assert.ErrorIs(t, r.DeleteMembership(ctx, nil, "p1", "u2"), domain.ErrNotAMember)
}

func TestChildrenOrder(t *testing.T) {
	r, _ := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()

	sub := "t1"
	require.NoError(t, r.InsertTask(ctx, nil, domain.Task{ID: "t3", ActivityID: "a1", Title: "sub", Status: domain.TaskBacklog, ParentTaskID: &sub, CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertComment(ctx, nil, domain.Comment{ID: "c1", TaskID: "t1", UserID: "u1", Text: "hi", CreatedAt: ts, UpdatedAt: ts}))

	children, err := r.Children(ctx, nil, domain.Ref(domain.KindActivity, "a1"))
	require.NoError(t, err)
	assert.Len(t, children, 2)

	children, err = r.Children(ctx, nil, domain.Ref(domain.KindTask, "t1"))
	require.NoError(t, err)
	assert.Equal(t, []domain.EntityRef{{Kind: domain.KindTask, ID: "t3"}, {Kind: domain.KindComment, ID: "c1"}}, children)
}

func TestLogsAfterIsOldestFirst(t *testing.T) {
	r, _ := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()

	latest, err := r.LatestLogID(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, latest)

	var ids []int64
	for _, typ := range []string{"task.created", "task.updated", "task.deleted"} {
		id, err := r.InsertLog(ctx, nil, domain.Log{ProjectID: "p1", EntityKind: domain.KindTask, EntityID: "t1", UserID: "u1", Text: typ, Type: typ, CreatedAt: ts})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	latest, err = r.LatestLogID(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, ids[2], latest)

	after, err := r.LogsAfter(ctx, nil, ids[0], 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "task.updated", after[0].Type)
	assert.Equal(t, "task.deleted", after[1].Type)

	after, err = r.LogsAfter(ctx, nil, 0, 1)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, ids[0], after[0].ID)
}
