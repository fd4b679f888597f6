package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"okrline/internal/config"
	"okrline/internal/db"
	"okrline/internal/domain"
	"okrline/internal/engine"
	"okrline/internal/migrate"
)

type hookSink struct {
	mu       sync.Mutex
	failNext bool
	got      []domain.Log
	headers  []http.Header
}

func (s *hookSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	var l domain.Log
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.got = append(s.got, l)
	s.headers = append(s.headers, r.Header.Clone())
	w.WriteHeader(http.StatusNoContent)
}

func newHookEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default(), zap.NewNop())
	_, err = e.RegisterUser(context.Background(), engine.UserInput{ID: "owner", Username: "owner"})
	require.NoError(t, err)
	return e
}

func TestLogForwarderDeliversNewEntries(t *testing.T) {
	ctx := context.Background()
	e := newHookEngine(t)
	_, err := e.CreateProject(ctx, "owner", engine.ProjectInput{Name: "before"})
	require.NoError(t, err)

	sink := &hookSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	f := NewLogForwarder(e, []config.LogHook{{URL: srv.URL, Secret: "s3cret", Types: []string{"project.created"}}}, nil)
	f.dispatchAll(ctx)
	assert.Empty(t, sink.got, "entries older than the first poll are skipped")

	p, err := e.CreateProject(ctx, "owner", engine.ProjectInput{Name: "after"})
	require.NoError(t, err)
	f.dispatchAll(ctx)
	f.dispatchAll(ctx)

	require.Len(t, sink.got, 1)
	assert.Equal(t, "project.created", sink.got[0].Type)
	assert.Equal(t, p.ID, sink.got[0].EntityID)
	assert.Equal(t, "s3cret", sink.headers[0].Get("X-Okrline-Secret"))
	assert.Equal(t, p.ID, sink.headers[0].Get("X-Okrline-Project"))
}

func TestLogForwarderRetriesFailedDelivery(t *testing.T) {
	ctx := context.Background()
	e := newHookEngine(t)
	sink := &hookSink{failNext: true}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	f := NewLogForwarder(e, []config.LogHook{{URL: srv.URL, Types: []string{"project.created"}}}, nil)
	f.dispatchAll(ctx)
	_, err := e.CreateProject(ctx, "owner", engine.ProjectInput{Name: "retry"})
	require.NoError(t, err)

	f.dispatchAll(ctx)
	assert.Empty(t, sink.got)
	f.dispatchAll(ctx)
	require.Len(t, sink.got, 1)
}

func TestLogForwarderSkipsDisabledHooks(t *testing.T) {
	ctx := context.Background()
	e := newHookEngine(t)
	sink := &hookSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	off := false
	f := NewLogForwarder(e, []config.LogHook{{URL: srv.URL, Enabled: &off}}, nil)
	f.dispatchAll(ctx)
	_, err := e.CreateProject(ctx, "owner", engine.ProjectInput{Name: "quiet"})
	require.NoError(t, err)
	f.dispatchAll(ctx)
	assert.Empty(t, sink.got)
}
