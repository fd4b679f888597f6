package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"okrline/internal/config"
	"okrline/internal/domain"
	"okrline/internal/engine"
)

const (
	defaultHookInterval = 2 * time.Second
	defaultHookTimeout  = 5 * time.Second
	defaultHookBatch    = 100
)

// LogForwarder posts new audit log entries to the configured hooks. Each
// hook starts at the newest entry present when it is first polled.
type LogForwarder struct {
	engine   engine.Engine
	hooks    []config.LogHook
	client   *http.Client
	log      *zap.Logger
	interval time.Duration
	mu       sync.Mutex
	cursors  map[int]int64
}

func NewLogForwarder(e engine.Engine, hooks []config.LogHook, log *zap.Logger) *LogForwarder {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogForwarder{
		engine:   e,
		hooks:    hooks,
		client:   &http.Client{Timeout: defaultHookTimeout},
		log:      log.Named("hooks"),
		interval: defaultHookInterval,
		cursors:  make(map[int]int64),
	}
}

// Run polls until ctx is done.
func (f *LogForwarder) Run(ctx context.Context) {
	if len(f.hooks) == 0 {
		return
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		f.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (f *LogForwarder) dispatchAll(ctx context.Context) {
	for i, hook := range f.hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		f.dispatch(ctx, i, hook)
	}
}

func (f *LogForwarder) dispatch(ctx context.Context, idx int, hook config.LogHook) {
	cursor := f.cursorFor(ctx, idx)
	entries, err := f.engine.Repo.LogsAfter(ctx, nil, cursor, defaultHookBatch)
	if err != nil {
		f.log.Warn("fetch logs failed", zap.Error(err))
		return
	}
	filter := newTypeFilter(hook.Types)
	for _, l := range entries {
		if !filter.match(l.Type) {
			f.setCursor(idx, l.ID)
			continue
		}
		if err := f.post(ctx, hook, l); err != nil {
			f.log.Warn("delivery failed", zap.String("url", hook.URL), zap.Int64("log_id", l.ID), zap.Error(err))
			return
		}
		f.setCursor(idx, l.ID)
	}
}

func (f *LogForwarder) cursorFor(ctx context.Context, idx int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.cursors[idx]; ok {
		return cur
	}
	cur, err := f.engine.Repo.LatestLogID(ctx, nil)
	if err != nil {
		f.log.Warn("init cursor failed", zap.Error(err))
		cur = 0
	}
	f.cursors[idx] = cur
	return cur
}

func (f *LogForwarder) setCursor(idx int, value int64) {
	f.mu.Lock()
	f.cursors[idx] = value
	f.mu.Unlock()
}

func (f *LogForwarder) post(ctx context.Context, hook config.LogHook, l domain.Log) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	client := f.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Okrline-Log-Type", l.Type)
	req.Header.Set("X-Okrline-Delivery", strconv.FormatInt(l.ID, 10))
	if l.ProjectID != "" {
		req.Header.Set("X-Okrline-Project", l.ProjectID)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Okrline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type typeFilter struct {
	all bool
	set map[string]struct{}
}

func newTypeFilter(types []string) typeFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if key := strings.TrimSpace(t); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return typeFilter{all: true}
	}
	return typeFilter{set: set}
}

func (f typeFilter) match(logType string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[logType]
	return ok
}
