package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"okrline/internal/domain"
	"okrline/internal/engine"
)

func taskKey(v domain.Task) (string, string)       { return v.CreatedAt, v.ID }
func commentKey(v domain.Comment) (string, string) { return v.CreatedAt, v.ID }

// TaskFilters are the query parameters of the task listing.
type TaskFilters struct {
	ActivityID   string `query:"activity_id"`
	ProjectID    string `query:"project_id"`
	AssigneeID   string `query:"assignee_id"`
	ParentTaskID string `query:"parent_task_id"`
	Status       string `query:"status" doc:"backlog, in_progress or completed"`
	Archived     string `query:"archived" enum:"true,false" doc:"omit to include both"`
}

func (f TaskFilters) archived() (*bool, huma.StatusError) {
	if f.Archived == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(f.Archived)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", "archived must be true or false", map[string]any{"archived": f.Archived})
	}
	return &v, nil
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/activities/{activity_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ActivityID string `path:"activity_id"`
		Body       CreateTaskRequest
	}) (*struct {
		Body domain.Task
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, userID, engine.TaskInput{
			ActivityID:   input.ActivityID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			AssigneeID:   input.Body.AssigneeID,
			ParentTaskID: input.Body.ParentTaskID,
			Status:       input.Body.Status,
			Archived:     input.Body.Archived,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List visible tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TaskFilters
		PageParams
	}) (*struct {
		Body Page[domain.Task]
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, perr := input.page(e)
		if perr != nil {
			return nil, perr
		}
		archived, aerr := input.archived()
		if aerr != nil {
			return nil, aerr
		}
		items, err := e.ListTasks(ctx, userID, engine.TaskQuery{
			ActivityID:   input.ActivityID,
			ProjectID:    input.ProjectID,
			AssigneeID:   input.AssigneeID,
			ParentTaskID: input.ParentTaskID,
			Status:       input.Status,
			Archived:     archived,
			Page:         page,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body Page[domain.Task]
		}{Body: paged(items, page, taskKey)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, userID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task; completion follows status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   UpdateTaskRequest
	}) (*struct {
		Body domain.Task
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, userID, input.TaskID, engine.TaskPatch{
			ActivityID:   input.Body.ActivityID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			AssigneeID:   input.Body.AssigneeID,
			ParentTaskID: input.Body.ParentTaskID,
			Status:       input.Body.Status,
			Archived:     input.Body.Archived,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task with its subtasks and comments",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*deleteOutput, error) {
		return runDelete(ctx, func(userID string) (engine.DeleteResult, error) {
			return e.DeleteTask(ctx, userID, input.TaskID)
		})
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/comments",
		Summary:       "Comment on a task",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   CommentRequest
	}) (*struct {
		Body domain.Comment
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateComment(ctx, userID, input.TaskID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/comments",
		Summary:     "List comments of a task",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		PageParams
	}) (*struct {
		Body Page[domain.Comment]
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, perr := input.page(e)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListComments(ctx, userID, input.TaskID, page)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body Page[domain.Comment]
		}{Body: paged(items, page, commentKey)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-comment",
		Method:      http.MethodGet,
		Path:        "/comments/{comment_id}",
		Summary:     "Get comment",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		CommentID string `path:"comment_id"`
	}) (*struct {
		Body domain.Comment
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.GetComment(ctx, userID, input.CommentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-comment",
		Method:      http.MethodPatch,
		Path:        "/comments/{comment_id}",
		Summary:     "Edit comment text",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		CommentID string `path:"comment_id"`
		Body      CommentRequest
	}) (*struct {
		Body domain.Comment
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateComment(ctx, userID, input.CommentID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-comment",
		Method:      http.MethodDelete,
		Path:        "/comments/{comment_id}",
		Summary:     "Delete comment",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		CommentID string `path:"comment_id"`
	}) (*deleteOutput, error) {
		return runDelete(ctx, func(userID string) (engine.DeleteResult, error) {
			return e.DeleteComment(ctx, userID, input.CommentID)
		})
	})
}
