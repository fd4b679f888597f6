package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"okrline/internal/domain"
	"okrline/internal/engine"
)

func epicKey(v domain.Epic) (string, string)           { return v.CreatedAt, v.ID }
func objectiveKey(v domain.Objective) (string, string) { return v.CreatedAt, v.ID }
func okrKey(v domain.OKR) (string, string)             { return v.CreatedAt, v.ID }
func activityKey(v domain.Activity) (string, string)   { return v.CreatedAt, v.ID }

func registerEpics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-epic",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/epics",
		Summary:       "Create epic in a mission project",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      CreateEpicRequest
	}) (*struct {
		Body domain.Epic
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ep, err := e.CreateEpic(ctx, userID, engine.EpicInput{
			ProjectID:   input.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			OwnerID:     input.Body.OwnerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Epic
		}{Body: ep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-epics",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/epics",
		Summary:     "List epics of a project",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		PageParams
	}) (*struct {
		Body Page[domain.Epic]
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, perr := input.page(e)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListEpics(ctx, userID, input.ProjectID, page)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body Page[domain.Epic]
		}{Body: paged(items, page, epicKey)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-epic",
		Method:      http.MethodGet,
		Path:        "/epics/{epic_id}",
		Summary:     "Get epic",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		EpicID string `path:"epic_id"`
	}) (*struct {
		Body domain.Epic
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ep, err := e.GetEpic(ctx, userID, input.EpicID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Epic
		}{Body: ep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-epic",
		Method:      http.MethodPatch,
		Path:        "/epics/{epic_id}",
		Summary:     "Update epic",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		EpicID string `path:"epic_id"`
		Body   UpdateEpicRequest
	}) (*struct {
		Body domain.Epic
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ep, err := e.UpdateEpic(ctx, userID, input.EpicID, engine.EpicPatch{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			OwnerID:     input.Body.OwnerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Epic
		}{Body: ep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-epic",
		Method:      http.MethodDelete,
		Path:        "/epics/{epic_id}",
		Summary:     "Delete epic and its objectives",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		EpicID string `path:"epic_id"`
	}) (*deleteOutput, error) {
		return runDelete(ctx, func(userID string) (engine.DeleteResult, error) {
			return e.DeleteEpic(ctx, userID, input.EpicID)
		})
	})
}

func registerObjectives(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-objective",
		Method:        http.MethodPost,
		Path:          "/objectives",
		Summary:       "Create objective under an epic or directly under a project",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateObjectiveRequest
	}) (*struct {
		Body domain.Objective
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		parent, err := domain.NewObjectiveParent(input.Body.EpicID, input.Body.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		o, err := e.CreateObjective(ctx, userID, engine.ObjectiveInput{
			Parent:      parent,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			OwnerID:     input.Body.OwnerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Objective
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-objectives",
		Method:      http.MethodGet,
		Path:        "/objectives",
		Summary:     "List visible objectives",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		EpicID    string `query:"epic_id"`
		ProjectID string `query:"project_id"`
		PageParams
	}) (*struct {
		Body Page[domain.Objective]
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, perr := input.page(e)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListObjectives(ctx, userID, input.EpicID, input.ProjectID, page)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body Page[domain.Objective]
		}{Body: paged(items, page, objectiveKey)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-objective",
		Method:      http.MethodGet,
		Path:        "/objectives/{objective_id}",
		Summary:     "Get objective",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ObjectiveID string `path:"objective_id"`
	}) (*struct {
		Body domain.Objective
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.GetObjective(ctx, userID, input.ObjectiveID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Objective
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-objective",
		Method:      http.MethodPatch,
		Path:        "/objectives/{objective_id}",
		Summary:     "Update or re-parent objective",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ObjectiveID string `path:"objective_id"`
		Body        UpdateObjectiveRequest
	}) (*struct {
		Body domain.Objective
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		patch := engine.ObjectivePatch{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			OwnerID:     input.Body.OwnerID,
		}
		if input.Body.EpicID != nil || input.Body.ProjectID != nil {
			parent, err := domain.NewObjectiveParent(deref(input.Body.EpicID), deref(input.Body.ProjectID))
			if err != nil {
				return nil, handleError(err)
			}
			patch.Parent = &parent
		}
		o, err := e.UpdateObjective(ctx, userID, input.ObjectiveID, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Objective
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-objective",
		Method:      http.MethodDelete,
		Path:        "/objectives/{objective_id}",
		Summary:     "Delete objective and its OKRs",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ObjectiveID string `path:"objective_id"`
	}) (*deleteOutput, error) {
		return runDelete(ctx, func(userID string) (engine.DeleteResult, error) {
			return e.DeleteObjective(ctx, userID, input.ObjectiveID)
		})
	})
}

func registerOKRs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-okr",
		Method:        http.MethodPost,
		Path:          "/objectives/{objective_id}/okrs",
		Summary:       "Create key result",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ObjectiveID string `path:"objective_id"`
		Body        CreateOKRRequest
	}) (*struct {
		Body domain.OKR
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		k, err := e.CreateOKR(ctx, userID, engine.OKRInput{
			ObjectiveID: input.ObjectiveID,
			KeyResult:   input.Body.KeyResult,
			TargetValue: input.Body.TargetValue,
			OwnerID:     input.Body.OwnerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OKR
		}{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-okrs",
		Method:      http.MethodGet,
		Path:        "/objectives/{objective_id}/okrs",
		Summary:     "List key results of an objective",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ObjectiveID string `path:"objective_id"`
		PageParams
	}) (*struct {
		Body Page[domain.OKR]
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, perr := input.page(e)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListOKRs(ctx, userID, input.ObjectiveID, page)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body Page[domain.OKR]
		}{Body: paged(items, page, okrKey)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-okr",
		Method:      http.MethodGet,
		Path:        "/okrs/{okr_id}",
		Summary:     "Get key result",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		OKRID string `path:"okr_id"`
	}) (*struct {
		Body domain.OKR
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		k, err := e.GetOKR(ctx, userID, input.OKRID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OKR
		}{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-okr",
		Method:      http.MethodPatch,
		Path:        "/okrs/{okr_id}",
		Summary:     "Update key result; progress is derived and cannot be set",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		OKRID string `path:"okr_id"`
		Body  UpdateOKRRequest
	}) (*struct {
		Body domain.OKR
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		k, err := e.UpdateOKR(ctx, userID, input.OKRID, engine.OKRPatch{
			KeyResult:   input.Body.KeyResult,
			TargetValue: input.Body.TargetValue,
			OwnerID:     input.Body.OwnerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OKR
		}{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-okr",
		Method:      http.MethodDelete,
		Path:        "/okrs/{okr_id}",
		Summary:     "Delete key result and its activities",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		OKRID string `path:"okr_id"`
	}) (*deleteOutput, error) {
		return runDelete(ctx, func(userID string) (engine.DeleteResult, error) {
			return e.DeleteOKR(ctx, userID, input.OKRID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "okr-progress",
		Method:      http.MethodGet,
		Path:        "/okrs/{okr_id}/progress",
		Summary:     "Stored progress with the per-activity breakdown",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		OKRID string `path:"okr_id"`
	}) (*struct {
		Body OKRProgressResponse
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, acts, err := e.OKRBreakdown(ctx, userID, input.OKRID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OKRProgressResponse
		}{Body: OKRProgressResponse{OKRProgress: p, Activities: nonNil(acts)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recompute-okr",
		Method:      http.MethodPost,
		Path:        "/okrs/{okr_id}/recompute",
		Summary:     "Recompute and store progress",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		OKRID string `path:"okr_id"`
	}) (*struct {
		Body domain.OKRProgress
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RecomputeOKR(ctx, userID, input.OKRID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OKRProgress
		}{Body: p}, nil
	})
}

func registerActivities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-activity",
		Method:        http.MethodPost,
		Path:          "/okrs/{okr_id}/activities",
		Summary:       "Create activity",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		OKRID string `path:"okr_id"`
		Body  CreateActivityRequest
	}) (*struct {
		Body domain.Activity
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateActivity(ctx, userID, engine.ActivityInput{
			OKRID:       input.OKRID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			OwnerID:     input.Body.OwnerID,
			StartDate:   input.Body.StartDate,
			EndDate:     input.Body.EndDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/okrs/{okr_id}/activities",
		Summary:     "List activities with computed progress",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		OKRID string `path:"okr_id"`
		PageParams
	}) (*struct {
		Body Page[domain.Activity]
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, perr := input.page(e)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListActivities(ctx, userID, input.OKRID, page)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body Page[domain.Activity]
		}{Body: paged(items, page, activityKey)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-activity",
		Method:      http.MethodGet,
		Path:        "/activities/{activity_id}",
		Summary:     "Get activity with computed progress",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ActivityID string `path:"activity_id"`
	}) (*struct {
		Body domain.Activity
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetActivity(ctx, userID, input.ActivityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-activity",
		Method:      http.MethodPatch,
		Path:        "/activities/{activity_id}",
		Summary:     "Update or move activity",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ActivityID string `path:"activity_id"`
		Body       UpdateActivityRequest
	}) (*struct {
		Body domain.Activity
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateActivity(ctx, userID, input.ActivityID, engine.ActivityPatch{
			OKRID:       input.Body.OKRID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			OwnerID:     input.Body.OwnerID,
			StartDate:   input.Body.StartDate,
			EndDate:     input.Body.EndDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-activity",
		Method:      http.MethodDelete,
		Path:        "/activities/{activity_id}",
		Summary:     "Delete activity and its tasks",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ActivityID string `path:"activity_id"`
	}) (*deleteOutput, error) {
		return runDelete(ctx, func(userID string) (engine.DeleteResult, error) {
			return e.DeleteActivity(ctx, userID, input.ActivityID)
		})
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
