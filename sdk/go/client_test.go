package okrlinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"okrline/internal/config"
	"okrline/internal/db"
	"okrline/internal/domain"
	"okrline/internal/engine"
	"okrline/internal/migrate"
	"okrline/internal/server"
)

func newTestAPI(t *testing.T) (string, server.AuthConfig) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default(), zap.NewNop())
	for _, id := range []string{"owner", "dev"} {
		_, err := e.RegisterUser(context.Background(), engine.UserInput{ID: id, Username: id})
		require.NoError(t, err)
	}
	authCfg := server.AuthConfig{JWTSecret: "sdk-secret", AllowUserHeader: true}
	handler, err := server.New(server.Config{Engine: e, Auth: authCfg})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL, authCfg
}

func TestClientProgressFlow(t *testing.T) {
	ctx := context.Background()
	baseURL, authCfg := newTestAPI(t)
	token, err := server.MintToken(authCfg, "owner", 0)
	require.NoError(t, err)
	c := New(baseURL, token)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "owner", me.ID)

	p, err := c.CreateProject(ctx, "Q3", "project")
	require.NoError(t, err)
	_, err = c.AddMember(ctx, p.ID, "dev", "member")
	require.NoError(t, err)
	members, err := c.ListMembers(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	obj, err := c.CreateObjective(ctx, "", p.ID, "Retention")
	require.NoError(t, err)
	assert.Equal(t, domain.KindProject, obj.Parent.Kind)
	okr, err := c.CreateOKR(ctx, obj.ID, "Churn below 2%")
	require.NoError(t, err)
	act, err := c.CreateActivity(ctx, okr.ID, "Onboarding emails")
	require.NoError(t, err)

	dev := &Client{BaseURL: baseURL, UserID: "dev"}
	task, err := dev.CreateTask(ctx, act.ID, "Write sequence", "dev")
	require.NoError(t, err)
	task, err = dev.SetTaskStatus(ctx, task.ID, "in progress")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", task.Status)
	assert.Equal(t, 50, task.CompletionPercentage)

	prog, err := dev.OKRProgress(ctx, okr.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, prog.Progress)
	require.Len(t, prog.Activities, 1)
	assert.Equal(t, 0, prog.Activities[0].Progress)

	_, err = dev.SetTaskStatus(ctx, task.ID, "completed")
	require.NoError(t, err)
	prog, err = c.RecomputeOKR(ctx, okr.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, prog.Progress)
	assert.Equal(t, 100, prog.CurrentValue)

	tasks, next, err := dev.ListTasks(ctx, TaskFilter{AssigneeID: "dev", Status: "completed"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Empty(t, next)

	logs, err := c.ProjectLogs(ctx, p.ID, 5)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "task.updated", logs[0].Type)

	res, err := c.DeleteTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts[domain.KindTask])
	prog, err = c.OKRProgress(ctx, okr.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, prog.Progress)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	ctx := context.Background()
	baseURL, _ := newTestAPI(t)
	c := &Client{BaseURL: baseURL, UserID: "dev"}

	_, err := c.OKRProgress(ctx, "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)

	anon := &Client{BaseURL: baseURL}
	_, err = anon.Me(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
