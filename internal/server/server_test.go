package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"okrline/internal/config"
	"okrline/internal/db"
	"okrline/internal/domain"
	"okrline/internal/engine"
	"okrline/internal/metrics"
	"okrline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL     string
	client  *http.Client
	authCfg AuthConfig
}

func newTestServer(t *testing.T, m *metrics.Metrics) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default(), zap.NewNop())
	for _, u := range []engine.UserInput{
		{ID: "admin", Username: "admin", Role: domain.RoleAdmin},
		{ID: "owner", Username: "owner"},
		{ID: "member", Username: "member"},
		{ID: "outsider", Username: "outsider"},
	} {
		_, err := e.RegisterUser(context.Background(), u)
		require.NoError(t, err)
	}
	authCfg := AuthConfig{JWTSecret: testSecret, AllowUserHeader: true, AllowDevLogin: true}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: authCfg, Metrics: m})
	require.NoError(t, err)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String(), client: &http.Client{Timeout: 10 * time.Second}, authCfg: authCfg}
}

// call sends body as JSON acting as user (X-User-Id) and decodes the reply
// into out when out is non-nil.
func (s *testServer) call(t *testing.T, user, method, path string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return resp.StatusCode
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) project(t *testing.T, typ string) domain.Project {
	t.Helper()
	var p domain.Project
	require.Equal(t, http.StatusCreated, s.call(t, "owner", http.MethodPost, "/v0/projects", CreateProjectRequest{Name: "Q1", Type: typ}, &p))
	require.Equal(t, http.StatusCreated, s.call(t, "owner", http.MethodPost, "/v0/projects/"+p.ID+"/members", AddMemberRequest{UserID: "member"}, nil))
	return p
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t, nil)
	var body map[string]string
	assert.Equal(t, http.StatusOK, s.call(t, "", http.MethodGet, "/v0/health", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAuthenticationRequired(t *testing.T) {
	s := newTestServer(t, nil)
	var env errorEnvelope
	require.Equal(t, http.StatusUnauthorized, s.call(t, "", http.MethodGet, "/v0/projects", nil, &env))
	assert.Equal(t, "unauthorized", env.Error.Code)
}

func TestBearerToken(t *testing.T) {
	s := newTestServer(t, nil)
	token, err := MintToken(s.authCfg, "owner", time.Minute)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, s.URL+"/v0/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me domain.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "owner", me.ID)

	forged, err := MintToken(AuthConfig{JWTSecret: "other"}, "admin", time.Minute)
	require.NoError(t, err)
	req, err = http.NewRequest(http.MethodGet, s.URL+"/v0/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp2, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestDevLogin(t *testing.T) {
	s := newTestServer(t, nil)
	var out DevLoginResponse
	require.Equal(t, http.StatusOK, s.call(t, "", http.MethodPost, "/v0/auth/dev/login", DevLoginRequest{UserID: "member"}, &out))
	p, err := authenticateJWT(out.Token, s.authCfg)
	require.NoError(t, err)
	assert.Equal(t, "member", p.UserID)

	assert.Equal(t, http.StatusNotFound, s.call(t, "", http.MethodPost, "/v0/auth/dev/login", DevLoginRequest{UserID: "ghost"}, nil))
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	p := s.project(t, domain.ProjectTypeStandard)

	var env errorEnvelope
	require.Equal(t, http.StatusForbidden, s.call(t, "outsider", http.MethodGet, "/v0/projects/"+p.ID, nil, &env))
	assert.Equal(t, "forbidden", env.Error.Code)
	assert.Equal(t, "read", env.Error.Details["action"])
	assert.Equal(t, domain.KindProject, env.Error.Details["kind"])

	env = errorEnvelope{}
	require.Equal(t, http.StatusNotFound, s.call(t, "admin", http.MethodGet, "/v0/projects/missing", nil, &env))
	assert.Equal(t, "not_found", env.Error.Code)

	env = errorEnvelope{}
	require.Equal(t, http.StatusConflict, s.call(t, "owner", http.MethodPost, "/v0/projects/"+p.ID+"/members", AddMemberRequest{UserID: "member"}, &env))
	assert.Equal(t, "already_member", env.Error.Code)

	env = errorEnvelope{}
	require.Equal(t, http.StatusNotFound, s.call(t, "owner", http.MethodDelete, "/v0/projects/"+p.ID+"/members/outsider", nil, &env))
	assert.Equal(t, "not_a_member", env.Error.Code)

	env = errorEnvelope{}
	require.Equal(t, http.StatusBadRequest, s.call(t, "owner", http.MethodPost, "/v0/objectives",
		CreateObjectiveRequest{Title: "Grow"}, &env))
	assert.Equal(t, "validation_error", env.Error.Code)
	assert.Equal(t, "parent", env.Error.Details["field"])

	env = errorEnvelope{}
	require.Equal(t, http.StatusBadRequest, s.call(t, "owner", http.MethodGet, "/v0/projects?cursor=broken", nil, &env))
	assert.Equal(t, "bad_request", env.Error.Code)
}

func TestOKRProgressOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	p := s.project(t, domain.ProjectTypeStandard)

	var obj domain.Objective
	require.Equal(t, http.StatusCreated, s.call(t, "owner", http.MethodPost, "/v0/objectives", CreateObjectiveRequest{ProjectID: p.ID, Title: "Grow"}, &obj))
	pid, ok := obj.Parent.ProjectID()
	require.True(t, ok)
	assert.Equal(t, p.ID, pid)

	var okr domain.OKR
	require.Equal(t, http.StatusCreated, s.call(t, "owner", http.MethodPost, "/v0/objectives/"+obj.ID+"/okrs", CreateOKRRequest{KeyResult: "Signups +20%"}, &okr))
	var act domain.Activity
	require.Equal(t, http.StatusCreated, s.call(t, "owner", http.MethodPost, "/v0/okrs/"+okr.ID+"/activities", CreateActivityRequest{Name: "Campaign"}, &act))

	var first, second domain.Task
	require.Equal(t, http.StatusCreated, s.call(t, "member", http.MethodPost, "/v0/activities/"+act.ID+"/tasks", CreateTaskRequest{Title: "draft"}, &first))
	require.Equal(t, http.StatusCreated, s.call(t, "member", http.MethodPost, "/v0/activities/"+act.ID+"/tasks", CreateTaskRequest{Title: "ship"}, &second))
	assert.Equal(t, domain.TaskBacklog, first.Status)

	var env errorEnvelope
	require.Equal(t, http.StatusBadRequest, s.call(t, "member", http.MethodPatch, "/v0/tasks/"+first.ID, UpdateTaskRequest{Status: strPtr("done")}, &env))
	assert.Equal(t, "validation_error", env.Error.Code)

	var updated domain.Task
	require.Equal(t, http.StatusOK, s.call(t, "member", http.MethodPatch, "/v0/tasks/"+first.ID, UpdateTaskRequest{Status: strPtr("completed")}, &updated))
	assert.Equal(t, 100, updated.CompletionPercentage)

	var progress OKRProgressResponse
	require.Equal(t, http.StatusOK, s.call(t, "member", http.MethodGet, "/v0/okrs/"+okr.ID+"/progress", nil, &progress))
	assert.Equal(t, 100, progress.Progress)
	require.Len(t, progress.Activities, 1)
	assert.Equal(t, 50, progress.Activities[0].Progress)
	assert.Equal(t, 2, progress.Activities[0].TotalTasks)

	var tasks Page[domain.Task]
	require.Equal(t, http.StatusOK, s.call(t, "member", http.MethodGet, "/v0/tasks?status=completed&activity_id="+act.ID, nil, &tasks))
	require.Len(t, tasks.Items, 1)
	assert.Equal(t, first.ID, tasks.Items[0].ID)

	require.Equal(t, http.StatusBadRequest, s.call(t, "member", http.MethodPost, "/v0/tasks/"+first.ID+"/comments",
		CommentRequest{Text: strings.Repeat("x", 1251)}, nil))
	var c domain.Comment
	require.Equal(t, http.StatusCreated, s.call(t, "member", http.MethodPost, "/v0/tasks/"+first.ID+"/comments", CommentRequest{Text: "looks good"}, &c))
	assert.Equal(t, "member", c.UserID)

	var logs paginatedLogs
	require.Equal(t, http.StatusOK, s.call(t, "member", http.MethodGet, "/v0/projects/"+p.ID+"/logs?entity_kind=task", nil, &logs))
	assert.NotEmpty(t, logs.Items)
	require.Equal(t, http.StatusForbidden, s.call(t, "outsider", http.MethodGet, "/v0/projects/"+p.ID+"/logs", nil, nil))
}

func TestDeleteEpicReturnsCounts(t *testing.T) {
	s := newTestServer(t, nil)
	p := s.project(t, domain.ProjectTypeMission)

	var epic domain.Epic
	require.Equal(t, http.StatusCreated, s.call(t, "owner", http.MethodPost, "/v0/projects/"+p.ID+"/epics", CreateEpicRequest{Title: "Launch"}, &epic))
	var obj domain.Objective
	require.Equal(t, http.StatusCreated, s.call(t, "owner", http.MethodPost, "/v0/objectives", CreateObjectiveRequest{EpicID: epic.ID, Title: "Grow"}, &obj))
	var okr domain.OKR
	require.Equal(t, http.StatusCreated, s.call(t, "owner", http.MethodPost, "/v0/objectives/"+obj.ID+"/okrs", CreateOKRRequest{KeyResult: "KR"}, &okr))

	require.Equal(t, http.StatusForbidden, s.call(t, "member", http.MethodDelete, "/v0/epics/"+epic.ID, nil, nil))

	var res engine.DeleteResult
	require.Equal(t, http.StatusOK, s.call(t, "owner", http.MethodDelete, "/v0/epics/"+epic.ID, nil, &res))
	assert.Equal(t, map[string]int{domain.KindEpic: 1, domain.KindObjective: 1, domain.KindOKR: 1}, res.Counts)
	assert.Equal(t, http.StatusNotFound, s.call(t, "owner", http.MethodGet, "/v0/okrs/"+okr.ID, nil, nil))
}

func TestProjectPaging(t *testing.T) {
	s := newTestServer(t, nil)
	for i := 0; i < 3; i++ {
		s.project(t, domain.ProjectTypeStandard)
	}
	var page Page[domain.Project]
	require.Equal(t, http.StatusOK, s.call(t, "owner", http.MethodGet, "/v0/projects?limit=2", nil, &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	var rest Page[domain.Project]
	require.Equal(t, http.StatusOK, s.call(t, "owner", http.MethodGet, "/v0/projects?limit=2&cursor="+page.NextCursor, nil, &rest))
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.NextCursor)
	for _, p := range page.Items {
		assert.NotEqual(t, p.ID, rest.Items[0].ID)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, metrics.New())
	s.call(t, "", http.MethodGet, "/v0/health", nil, nil)

	resp, err := s.client.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `okrline_http_requests_total{method="GET",route="/v0/health",status="200"} 1`)
}

func TestOpenAPIDocument(t *testing.T) {
	s := newTestServer(t, nil)
	var doc map[string]any
	require.Equal(t, http.StatusOK, s.call(t, "", http.MethodGet, "/v0/openapi.json", nil, &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v0/okrs/{okr_id}/progress")
	assert.Contains(t, paths, "/v0/tasks/{task_id}/comments")
}

func strPtr(s string) *string { return &s }
