package okrlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal okrline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// UserID is sent as X-User-Id when no token is set. Servers accept it
	// only when started with --allow-user-header.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
}

type Project struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	StartDate string  `json:"start_date"`
	EndDate   *string `json:"end_date,omitempty"`
	Color     string  `json:"color"`
	CreatedBy string  `json:"created_by"`
}

type Membership struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
}

type Objective struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Parent struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	} `json:"parent"`
}

type OKR struct {
	ID           string `json:"id"`
	ObjectiveID  string `json:"objective_id"`
	KeyResult    string `json:"key_result"`
	CurrentValue int    `json:"current_value"`
	TargetValue  int    `json:"target_value"`
	Progress     int    `json:"progress"`
}

type Activity struct {
	ID       string `json:"id"`
	OKRID    string `json:"okr_id"`
	Name     string `json:"name"`
	Progress int    `json:"progress"`
}

type Task struct {
	ID                   string  `json:"id"`
	ActivityID           string  `json:"activity_id"`
	Title                string  `json:"title"`
	AssigneeID           *string `json:"assignee_id,omitempty"`
	ParentTaskID         *string `json:"parent_task_id,omitempty"`
	Status               string  `json:"status"`
	CompletionPercentage int     `json:"completion_percentage"`
	Archived             bool    `json:"archived"`
}

type ActivityProgress struct {
	ActivityID     string `json:"activity_id"`
	TotalTasks     int    `json:"total_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	Progress       int    `json:"progress"`
}

type OKRProgress struct {
	OKRID        string             `json:"okr_id"`
	Progress     int                `json:"progress"`
	CurrentValue int                `json:"current_value"`
	Activities   []ActivityProgress `json:"activities,omitempty"`
}

type Log struct {
	ID         int64  `json:"id"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	UserID     string `json:"user_id"`
	Text       string `json:"log_text"`
	Type       string `json:"log_type"`
	CreatedAt  string `json:"created_at"`
}

type DeleteResult struct {
	Counts map[string]int `json:"counts"`
}

// APIError is a non-2xx reply. Code is the envelope's error code when the
// body could be decoded.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("okrline api error: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("okrline api error: %d %s", e.StatusCode, e.Body)
}

type page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// CreateProject creates a project of type "mission" or "project".
func (c *Client) CreateProject(ctx context.Context, name, projectType string) (Project, error) {
	var resp Project
	body := map[string]any{"name": name}
	if projectType != "" {
		body["type"] = projectType
	}
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

func (c *Client) AddMember(ctx context.Context, projectID, userID, role string) (Membership, error) {
	var resp Membership
	body := map[string]any{"user_id": userID}
	if role != "" {
		body["role"] = role
	}
	err := c.do(ctx, http.MethodPost, path("projects", projectID, "members"), body, &resp)
	return resp, err
}

func (c *Client) RemoveMember(ctx context.Context, projectID, userID string) error {
	return c.do(ctx, http.MethodDelete, path("projects", projectID, "members", userID), nil, nil)
}

func (c *Client) ListMembers(ctx context.Context, projectID string) ([]Membership, error) {
	var resp []Membership
	err := c.do(ctx, http.MethodGet, path("projects", projectID, "members"), nil, &resp)
	return resp, err
}

// CreateObjective places the objective under epicID when set, otherwise
// directly under projectID.
func (c *Client) CreateObjective(ctx context.Context, epicID, projectID, title string) (Objective, error) {
	var resp Objective
	body := map[string]any{"title": title}
	if epicID != "" {
		body["epic_id"] = epicID
	}
	if projectID != "" {
		body["project_id"] = projectID
	}
	err := c.do(ctx, http.MethodPost, "objectives", body, &resp)
	return resp, err
}

func (c *Client) CreateOKR(ctx context.Context, objectiveID, keyResult string) (OKR, error) {
	var resp OKR
	err := c.do(ctx, http.MethodPost, path("objectives", objectiveID, "okrs"), map[string]any{"key_result": keyResult}, &resp)
	return resp, err
}

func (c *Client) CreateActivity(ctx context.Context, okrID, name string) (Activity, error) {
	var resp Activity
	err := c.do(ctx, http.MethodPost, path("okrs", okrID, "activities"), map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) CreateTask(ctx context.Context, activityID, title, assigneeID string) (Task, error) {
	var resp Task
	body := map[string]any{"title": title}
	if assigneeID != "" {
		body["assignee_id"] = assigneeID
	}
	err := c.do(ctx, http.MethodPost, path("activities", activityID, "tasks"), body, &resp)
	return resp, err
}

// SetTaskStatus moves a task; the server derives completion and recomputes
// the OKR.
func (c *Client) SetTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, path("tasks", taskID), map[string]any{"status": status}, &resp)
	return resp, err
}

type TaskFilter struct {
	ActivityID string
	ProjectID  string
	AssigneeID string
	Status     string
	Limit      int
	Cursor     string
}

// ListTasks returns one page of tasks and the cursor of the next page.
func (c *Client) ListTasks(ctx context.Context, f TaskFilter) ([]Task, string, error) {
	q := url.Values{}
	setParam(q, "activity_id", f.ActivityID)
	setParam(q, "project_id", f.ProjectID)
	setParam(q, "assignee_id", f.AssigneeID)
	setParam(q, "status", f.Status)
	setParam(q, "cursor", f.Cursor)
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", f.Limit))
	}
	var resp page[Task]
	err := c.do(ctx, http.MethodGet, withQuery("tasks", q), nil, &resp)
	return resp.Items, resp.NextCursor, err
}

func (c *Client) DeleteTask(ctx context.Context, taskID string) (DeleteResult, error) {
	var resp DeleteResult
	err := c.do(ctx, http.MethodDelete, path("tasks", taskID), nil, &resp)
	return resp, err
}

func (c *Client) OKRProgress(ctx context.Context, okrID string) (OKRProgress, error) {
	var resp OKRProgress
	err := c.do(ctx, http.MethodGet, path("okrs", okrID, "progress"), nil, &resp)
	return resp, err
}

func (c *Client) RecomputeOKR(ctx context.Context, okrID string) (OKRProgress, error) {
	var resp OKRProgress
	err := c.do(ctx, http.MethodPost, path("okrs", okrID, "recompute"), nil, &resp)
	return resp, err
}

// ProjectLogs returns the newest entries of a project's audit log.
func (c *Client) ProjectLogs(ctx context.Context, projectID string, limit int) ([]Log, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var resp page[Log]
	err := c.do(ctx, http.MethodGet, withQuery(path("projects", projectID, "logs"), q), nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}

func path(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.Join(escaped, "/")
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func setParam(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
