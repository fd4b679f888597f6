package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"okrline/internal/domain"
	"okrline/internal/engine"
	"okrline/internal/repo"
)

// Request payloads

type CreateUserRequest struct {
	ID        string `json:"id,omitempty"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Position  string `json:"position,omitempty"`
	Role      string `json:"role,omitempty" enum:"admin,manager,employee"`
}

type SetRoleRequest struct {
	Role string `json:"role"`
}

type CreateProjectRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	StartDate   string  `json:"start_date,omitempty" format:"date"`
	EndDate     *string `json:"end_date,omitempty" format:"date"`
	Color       string  `json:"color,omitempty"`
	Type        string  `json:"type,omitempty" enum:"mission,project"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	StartDate   *string `json:"start_date,omitempty" format:"date"`
	EndDate     *string `json:"end_date,omitempty"`
	Color       *string `json:"color,omitempty"`
	Type        *string `json:"type,omitempty" enum:"mission,project"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty" enum:"owner,manager,member"`
}

type CreateEpicRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
}

type UpdateEpicRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	OwnerID     *string `json:"owner_id,omitempty"`
}

type CreateObjectiveRequest struct {
	EpicID      string `json:"epic_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
}

type UpdateObjectiveRequest struct {
	EpicID      *string `json:"epic_id,omitempty"`
	ProjectID   *string `json:"project_id,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	OwnerID     *string `json:"owner_id,omitempty"`
}

type CreateOKRRequest struct {
	KeyResult   string `json:"key_result"`
	TargetValue *int   `json:"target_value,omitempty" minimum:"1"`
	OwnerID     string `json:"owner_id,omitempty"`
}

type UpdateOKRRequest struct {
	KeyResult   *string `json:"key_result,omitempty"`
	TargetValue *int    `json:"target_value,omitempty" minimum:"1"`
	OwnerID     *string `json:"owner_id,omitempty"`
}

type CreateActivityRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	OwnerID     string  `json:"owner_id,omitempty"`
	StartDate   string  `json:"start_date,omitempty" format:"date"`
	EndDate     *string `json:"end_date,omitempty" format:"date"`
}

type UpdateActivityRequest struct {
	OKRID       *string `json:"okr_id,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	OwnerID     *string `json:"owner_id,omitempty"`
	StartDate   *string `json:"start_date,omitempty" format:"date"`
	EndDate     *string `json:"end_date,omitempty"`
}

type CreateTaskRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	AssigneeID   string `json:"assignee_id,omitempty"`
	ParentTaskID string `json:"parent_task_id,omitempty"`
	Status       string `json:"status,omitempty"`
	Archived     bool   `json:"archived,omitempty"`
}

type UpdateTaskRequest struct {
	ActivityID   *string `json:"activity_id,omitempty"`
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	ParentTaskID *string `json:"parent_task_id,omitempty"`
	Status       *string `json:"status,omitempty"`
	Archived     *bool   `json:"archived,omitempty"`
}

type CommentRequest struct {
	Text string `json:"text" maxLength:"1250"`
}

type CreateNoteRequest struct {
	EntityKind string `json:"entity_kind" enum:"project,epic,objective,okr,activity,task,comment"`
	EntityID   string `json:"entity_id"`
	Text       string `json:"log_text"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

type OKRProgressResponse struct {
	domain.OKRProgress
	Activities []engine.ActivityProgress `json:"activities"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Paging

// PageParams are the keyset paging query parameters.
type PageParams struct {
	Limit  int    `query:"limit" minimum:"0" doc:"page size, server default when 0"`
	Cursor string `query:"cursor" doc:"next_cursor of the previous page"`
}

func (p PageParams) page(e engine.Engine) (repo.Page, huma.StatusError) {
	ts, id, err := parseCompositeCursor(p.Cursor)
	if err != nil {
		return repo.Page{}, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": p.Cursor})
	}
	return repo.Page{Limit: e.PageLimit(p.Limit), CursorCreatedAt: ts, CursorID: id}, nil
}

// paged wraps a result page. A full page gets a cursor pointing past its
// last item.
func paged[T any](items []T, page repo.Page, key func(T) (string, string)) Page[T] {
	out := Page[T]{Items: items}
	if out.Items == nil {
		out.Items = []T{}
	}
	if page.Limit > 0 && len(items) == page.Limit {
		out.NextCursor = composeCursor(key(items[len(items)-1]))
	}
	return out
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
