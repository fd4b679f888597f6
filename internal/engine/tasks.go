package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"okrline/internal/domain"
	"okrline/internal/engine/auth"
	"okrline/internal/engine/progress"
	"okrline/internal/events"
	"okrline/internal/repo"
)

type TaskInput struct {
	ActivityID   string
	Title        string
	Description  string
	AssigneeID   string
	ParentTaskID string
	Status       string
	Archived     bool
}

// okrOfActivity returns the OKR an activity belongs to.
func (e Engine) okrOfActivity(ctx context.Context, tx *sql.Tx, activityID string) (string, error) {
	a, err := e.Repo.GetActivity(ctx, tx, activityID)
	if err != nil {
		return "", err
	}
	return a.OKRID, nil
}

// checkAssignee requires the assign right when the new assignee is someone
// other than the caller. Clearing another user's assignment needs it too.
func (e Engine) checkAssignee(ctx context.Context, tx *sql.Tx, actor domain.User, assigneeID string, target auth.Target) error {
	if assigneeID == "" {
		return nil
	}
	if _, err := e.Repo.GetUser(ctx, tx, assigneeID); err != nil {
		return err
	}
	if assigneeID == actor.ID {
		return nil
	}
	return e.requireAssign(ctx, tx, actor, target)
}

func (e Engine) requireAssign(ctx context.Context, tx *sql.Tx, actor domain.User, target auth.Target) error {
	if err := e.Access.Authorize(ctx, tx, actor, auth.ActionAssign, target); err != nil {
		e.Metrics.RecordDenial(domain.KindTask, string(auth.ActionAssign), err)
		return err
	}
	return nil
}

// checkParentTask enforces same-activity parents and rejects cycles.
func (e Engine) checkParentTask(ctx context.Context, tx *sql.Tx, taskID, parentID, activityID string) error {
	cur := parentID
	for depth := 0; cur != ""; depth++ {
		if cur == taskID {
			return domain.ValidationError{Field: "parent_task_id", Reason: "task hierarchy cycle detected"}
		}
		if depth > 64 {
			return domain.InconsistentStateError{Level: domain.KindTask, ID: taskID, Err: errors.New("subtask chain too deep")}
		}
		t, err := e.Repo.GetTask(ctx, tx, cur)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) && cur == parentID {
				return domain.ValidationError{Field: "parent_task_id", Reason: "parent task not found"}
			}
			return err
		}
		if cur == parentID && t.ActivityID != activityID {
			return domain.ValidationError{Field: "parent_task_id", Reason: "parent task belongs to another activity"}
		}
		if t.ParentTaskID == nil {
			return nil
		}
		cur = *t.ParentTaskID
	}
	return nil
}

// CreateTask stores a task and recomputes its OKR in the same transaction.
func (e Engine) CreateTask(ctx context.Context, actorID string, in TaskInput) (domain.Task, error) {
	var t domain.Task
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := required("activity_id", in.ActivityID); err != nil {
			return err
		}
		parent := auth.Under(domain.KindTask, domain.Ref(domain.KindActivity, in.ActivityID))
		actor, err := e.authorize(ctx, tx, actorID, auth.ActionCreate, parent)
		if err != nil {
			return err
		}
		if err := required("title", in.Title); err != nil {
			return err
		}
		status, err := domain.NormalizeTaskStatus(in.Status)
		if err != nil {
			return err
		}
		if err := e.checkAssignee(ctx, tx, actor, in.AssigneeID, parent); err != nil {
			return err
		}
		id := newID()
		if in.ParentTaskID != "" {
			if err := e.checkParentTask(ctx, tx, id, in.ParentTaskID, in.ActivityID); err != nil {
				return err
			}
		}
		okrID, err := e.okrOfActivity(ctx, tx, in.ActivityID)
		if err != nil {
			return err
		}
		now := e.stamp()
		t = domain.Task{
			ID:                   id,
			ActivityID:           in.ActivityID,
			Title:                strings.TrimSpace(in.Title),
			Description:          in.Description,
			AssigneeID:           optionalString(in.AssigneeID),
			ParentTaskID:         optionalString(in.ParentTaskID),
			Status:               status,
			CompletionPercentage: progress.Completion(status),
			Archived:             in.Archived,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if err := e.recomputeAll(ctx, tx, okrID); err != nil {
			return err
		}
		projectID, err := e.Access.ProjectOf(ctx, tx, domain.Ref(domain.KindActivity, t.ActivityID))
		if err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindTask, events.Created, projectID, t.ID, actorID, "task "+t.Title+" created")
	})
	return t, err
}

func (e Engine) GetTask(ctx context.Context, actorID, id string) (domain.Task, error) {
	var t domain.Task
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionRead, auth.On(domain.KindTask, id)); err != nil {
			return err
		}
		var err error
		t, err = e.Repo.GetTask(ctx, tx, id)
		return err
	})
	return t, err
}

type TaskQuery struct {
	ActivityID   string
	ProjectID    string
	AssigneeID   string
	ParentTaskID string
	Status       string
	Archived     *bool
	Page         repo.Page
}

// ListTasks returns the tasks visible to the caller: those in projects they
// belong to plus those assigned to them.
func (e Engine) ListTasks(ctx context.Context, actorID string, q TaskQuery) ([]domain.Task, error) {
	vis, err := e.VisibleFilter(ctx, actorID, domain.KindTask)
	if err != nil {
		return nil, err
	}
	status := q.Status
	if status != "" {
		if status, err = domain.NormalizeTaskStatus(status); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListTasks(ctx, nil, repo.TaskFilters{
		ActivityID:   q.ActivityID,
		ProjectID:    q.ProjectID,
		AssigneeID:   q.AssigneeID,
		ParentTaskID: q.ParentTaskID,
		Status:       status,
		Archived:     q.Archived,
		Visibility:   vis,
		Page:         e.page(q.Page),
	})
}

// TaskPatch lists the fields to change. An empty AssigneeID or ParentTaskID
// clears the field.
type TaskPatch struct {
	ActivityID   *string
	Title        *string
	Description  *string
	AssigneeID   *string
	ParentTaskID *string
	Status       *string
	Archived     *bool
}

// UpdateTask applies patch, derives completion from status and recomputes
// every affected OKR before committing.
func (e Engine) UpdateTask(ctx context.Context, actorID, id string, patch TaskPatch) (domain.Task, error) {
	var t domain.Task
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		target := auth.On(domain.KindTask, id)
		actor, err := e.authorize(ctx, tx, actorID, auth.ActionUpdate, target)
		if err != nil {
			return err
		}
		if t, err = e.Repo.GetTask(ctx, tx, id); err != nil {
			return err
		}
		oldOKR, err := e.okrOfActivity(ctx, tx, t.ActivityID)
		if err != nil {
			return err
		}
		newOKR := oldOKR
		if patch.ActivityID != nil && *patch.ActivityID != t.ActivityID {
			if _, err := e.authorize(ctx, tx, actorID, auth.ActionCreate, auth.Under(domain.KindTask, domain.Ref(domain.KindActivity, *patch.ActivityID))); err != nil {
				return err
			}
			subtasks, err := e.Repo.CountSubtasks(ctx, tx, t.ID)
			if err != nil {
				return err
			}
			if subtasks > 0 {
				return domain.ValidationError{Field: "activity_id", Reason: "cannot move a task that has subtasks"}
			}
			if t.ParentTaskID != nil && (patch.ParentTaskID == nil || *patch.ParentTaskID != "") {
				return domain.ValidationError{Field: "activity_id", Reason: "detach the task from its parent before moving it"}
			}
			t.ActivityID = *patch.ActivityID
			if newOKR, err = e.okrOfActivity(ctx, tx, t.ActivityID); err != nil {
				return err
			}
		}
		if patch.Title != nil {
			if err := required("title", *patch.Title); err != nil {
				return err
			}
			t.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.AssigneeID != nil {
			next := *patch.AssigneeID
			if !t.AssignedTo(next) {
				if err := e.checkAssignee(ctx, tx, actor, next, target); err != nil {
					return err
				}
			}
			if next == "" && t.AssigneeID != nil && *t.AssigneeID != actor.ID {
				if err := e.requireAssign(ctx, tx, actor, target); err != nil {
					return err
				}
			}
			t.AssigneeID = optionalString(next)
		}
		if patch.ParentTaskID != nil {
			if *patch.ParentTaskID != "" {
				if err := e.checkParentTask(ctx, tx, t.ID, *patch.ParentTaskID, t.ActivityID); err != nil {
					return err
				}
			}
			t.ParentTaskID = optionalString(*patch.ParentTaskID)
		}
		if patch.Status != nil {
			status, err := domain.NormalizeTaskStatus(*patch.Status)
			if err != nil {
				return err
			}
			t.Status = status
		}
		if patch.Archived != nil {
			t.Archived = *patch.Archived
		}
		t.CompletionPercentage = progress.Completion(t.Status)
		t.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		if err := e.recomputeAll(ctx, tx, oldOKR, newOKR); err != nil {
			return err
		}
		projectID, err := e.Access.ProjectOf(ctx, tx, domain.Ref(domain.KindTask, t.ID))
		if err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindTask, events.Updated, projectID, t.ID, actorID, "task "+t.Title+" is "+t.Status)
	})
	return t, err
}

// DeleteTask removes the task with its subtasks and comments and recomputes the OKR.
func (e Engine) DeleteTask(ctx context.Context, actorID, id string) (DeleteResult, error) {
	return e.deleteCascade(ctx, actorID, domain.Ref(domain.KindTask, id))
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Comments

const maxCommentLength = 1250

func validCommentText(text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ValidationError{Field: "text", Reason: "required"}
	}
	if utf8.RuneCountInString(text) > maxCommentLength {
		return domain.ValidationError{Field: "text", Reason: fmt.Sprintf("must be at most %d characters", maxCommentLength)}
	}
	return nil
}

func (e Engine) CreateComment(ctx context.Context, actorID, taskID, text string) (domain.Comment, error) {
	var c domain.Comment
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := required("task_id", taskID); err != nil {
			return err
		}
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionCreate, auth.Under(domain.KindComment, domain.Ref(domain.KindTask, taskID))); err != nil {
			return err
		}
		if _, err := e.Repo.GetTask(ctx, tx, taskID); err != nil {
			return err
		}
		if err := validCommentText(text); err != nil {
			return err
		}
		now := e.stamp()
		c = domain.Comment{ID: newID(), TaskID: taskID, UserID: actorID, Text: text, CreatedAt: now, UpdatedAt: now}
		if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		projectID, err := e.Access.ProjectOf(ctx, tx, domain.Ref(domain.KindTask, taskID))
		if err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindComment, events.Created, projectID, c.ID, actorID, "")
	})
	return c, err
}

func (e Engine) GetComment(ctx context.Context, actorID, id string) (domain.Comment, error) {
	var c domain.Comment
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionRead, auth.On(domain.KindComment, id)); err != nil {
			return err
		}
		var err error
		c, err = e.Repo.GetComment(ctx, tx, id)
		return err
	})
	return c, err
}

// ListComments lists the comments of one task, oldest last.
func (e Engine) ListComments(ctx context.Context, actorID, taskID string, page repo.Page) ([]domain.Comment, error) {
	var res []domain.Comment
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionList, auth.Under(domain.KindComment, domain.Ref(domain.KindTask, taskID))); err != nil {
			return err
		}
		var err error
		res, err = e.Repo.ListComments(ctx, tx, repo.ListFilter{ParentID: taskID, Visibility: repo.Visibility{All: true}, Page: e.page(page)})
		return err
	})
	return res, err
}

func (e Engine) UpdateComment(ctx context.Context, actorID, id, text string) (domain.Comment, error) {
	var c domain.Comment
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionUpdate, auth.On(domain.KindComment, id)); err != nil {
			return err
		}
		if err := validCommentText(text); err != nil {
			return err
		}
		var err error
		if c, err = e.Repo.GetComment(ctx, tx, id); err != nil {
			return err
		}
		c.Text = text
		c.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateComment(ctx, tx, c); err != nil {
			return err
		}
		projectID, err := e.Access.ProjectOf(ctx, tx, domain.Ref(domain.KindComment, id))
		if err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindComment, events.Updated, projectID, c.ID, actorID, "")
	})
	return c, err
}

func (e Engine) DeleteComment(ctx context.Context, actorID, id string) (DeleteResult, error) {
	return e.deleteCascade(ctx, actorID, domain.Ref(domain.KindComment, id))
}
