package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"okrline/internal/domain"
	"okrline/internal/engine/auth"
	"okrline/internal/events"
	"okrline/internal/repo"
)

// ownerOr defaults an owner field to the acting user and checks it exists.
func (e Engine) ownerOr(ctx context.Context, tx *sql.Tx, ownerID, actorID string) (string, error) {
	if ownerID == "" {
		return actorID, nil
	}
	if _, err := e.Repo.GetUser(ctx, tx, ownerID); err != nil {
		return "", err
	}
	return ownerID, nil
}

// Epics

type EpicInput struct {
	ProjectID   string
	Title       string
	Description string
	OwnerID     string
}

func (e Engine) CreateEpic(ctx context.Context, actorID string, in EpicInput) (domain.Epic, error) {
	var ep domain.Epic
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := required("project_id", in.ProjectID); err != nil {
			return err
		}
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionCreate, auth.Under(domain.KindEpic, domain.Ref(domain.KindProject, in.ProjectID))); err != nil {
			return err
		}
		p, err := e.Repo.GetProject(ctx, tx, in.ProjectID)
		if err != nil {
			return err
		}
		if p.Type != domain.ProjectTypeMission {
			return domain.ValidationError{Field: "project_id", Reason: "epics require a mission project"}
		}
		if err := required("title", in.Title); err != nil {
			return err
		}
		owner, err := e.ownerOr(ctx, tx, in.OwnerID, actorID)
		if err != nil {
			return err
		}
		now := e.stamp()
		ep = domain.Epic{
			ID:          newID(),
			ProjectID:   p.ID,
			Title:       strings.TrimSpace(in.Title),
			Description: in.Description,
			OwnerID:     owner,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertEpic(ctx, tx, ep); err != nil {
			return fmt.Errorf("insert epic: %w", err)
		}
		return e.appendLog(ctx, tx, domain.KindEpic, events.Created, p.ID, ep.ID, actorID, "epic "+ep.Title+" created")
	})
	return ep, err
}

func (e Engine) GetEpic(ctx context.Context, actorID, id string) (domain.Epic, error) {
	var ep domain.Epic
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionRead, auth.On(domain.KindEpic, id)); err != nil {
			return err
		}
		var err error
		ep, err = e.Repo.GetEpic(ctx, tx, id)
		return err
	})
	return ep, err
}

func (e Engine) ListEpics(ctx context.Context, actorID, projectID string, page repo.Page) ([]domain.Epic, error) {
	vis, err := e.VisibleFilter(ctx, actorID, domain.KindEpic)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListEpics(ctx, nil, repo.ListFilter{ParentID: projectID, Visibility: vis, Page: e.page(page)})
}

type EpicPatch struct {
	Title       *string
	Description *string
	OwnerID     *string
}

func (e Engine) UpdateEpic(ctx context.Context, actorID, id string, patch EpicPatch) (domain.Epic, error) {
	var ep domain.Epic
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionUpdate, auth.On(domain.KindEpic, id)); err != nil {
			return err
		}
		var err error
		ep, err = e.Repo.GetEpic(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			if err := required("title", *patch.Title); err != nil {
				return err
			}
			ep.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			ep.Description = *patch.Description
		}
		if patch.OwnerID != nil {
			if ep.OwnerID, err = e.ownerOr(ctx, tx, *patch.OwnerID, actorID); err != nil {
				return err
			}
		}
		ep.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateEpic(ctx, tx, ep); err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindEpic, events.Updated, ep.ProjectID, ep.ID, actorID, "")
	})
	return ep, err
}

// DeleteEpic removes the epic with all of its objectives, OKRs, activities
// and tasks in one transaction.
func (e Engine) DeleteEpic(ctx context.Context, actorID, id string) (DeleteResult, error) {
	return e.deleteCascade(ctx, actorID, domain.Ref(domain.KindEpic, id))
}

// Objectives

type ObjectiveInput struct {
	Parent      domain.ObjectiveParent
	Title       string
	Description string
	OwnerID     string
}

// checkObjectiveParent enforces that epics live in mission projects and
// direct objectives in plain ones.
func (e Engine) checkObjectiveParent(ctx context.Context, tx *sql.Tx, parent domain.ObjectiveParent) error {
	if parent.IsZero() {
		return domain.ValidationError{Field: "parent", Reason: "objective requires an epic or a project"}
	}
	if epicID, ok := parent.EpicID(); ok {
		_, err := e.Repo.GetEpic(ctx, tx, epicID)
		return err
	}
	projectID, _ := parent.ProjectID()
	p, err := e.Repo.GetProject(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if p.Type != domain.ProjectTypeStandard {
		return domain.ValidationError{Field: "project_id", Reason: "mission projects hold objectives through epics"}
	}
	return nil
}

func (e Engine) CreateObjective(ctx context.Context, actorID string, in ObjectiveInput) (domain.Objective, error) {
	var o domain.Objective
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if in.Parent.IsZero() {
			return domain.ValidationError{Field: "parent", Reason: "objective requires an epic or a project"}
		}
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionCreate, auth.Under(domain.KindObjective, in.Parent.Ref())); err != nil {
			return err
		}
		if err := e.checkObjectiveParent(ctx, tx, in.Parent); err != nil {
			return err
		}
		if err := required("title", in.Title); err != nil {
			return err
		}
		owner, err := e.ownerOr(ctx, tx, in.OwnerID, actorID)
		if err != nil {
			return err
		}
		now := e.stamp()
		o = domain.Objective{
			ID:          newID(),
			Parent:      in.Parent,
			Title:       strings.TrimSpace(in.Title),
			Description: in.Description,
			OwnerID:     owner,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertObjective(ctx, tx, o); err != nil {
			return fmt.Errorf("insert objective: %w", err)
		}
		projectID, err := e.Access.ProjectOf(ctx, tx, in.Parent.Ref())
		if err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindObjective, events.Created, projectID, o.ID, actorID, "objective "+o.Title+" created")
	})
	return o, err
}

func (e Engine) GetObjective(ctx context.Context, actorID, id string) (domain.Objective, error) {
	var o domain.Objective
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionRead, auth.On(domain.KindObjective, id)); err != nil {
			return err
		}
		var err error
		o, err = e.Repo.GetObjective(ctx, tx, id)
		return err
	})
	return o, err
}

// ListObjectives filters by epic, or by project across both parent variants.
func (e Engine) ListObjectives(ctx context.Context, actorID, epicID, projectID string, page repo.Page) ([]domain.Objective, error) {
	vis, err := e.VisibleFilter(ctx, actorID, domain.KindObjective)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListObjectives(ctx, nil, repo.ObjectiveFilter{EpicID: epicID, ProjectID: projectID, Visibility: vis, Page: e.page(page)})
}

type ObjectivePatch struct {
	Parent      *domain.ObjectiveParent
	Title       *string
	Description *string
	OwnerID     *string
}

func (e Engine) UpdateObjective(ctx context.Context, actorID, id string, patch ObjectivePatch) (domain.Objective, error) {
	var o domain.Objective
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionUpdate, auth.On(domain.KindObjective, id)); err != nil {
			return err
		}
		var err error
		o, err = e.Repo.GetObjective(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.Parent != nil && *patch.Parent != o.Parent {
			if _, err := e.authorize(ctx, tx, actorID, auth.ActionCreate, auth.Under(domain.KindObjective, patch.Parent.Ref())); err != nil {
				return err
			}
			if err := e.checkObjectiveParent(ctx, tx, *patch.Parent); err != nil {
				return err
			}
			o.Parent = *patch.Parent
		}
		if patch.Title != nil {
			if err := required("title", *patch.Title); err != nil {
				return err
			}
			o.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			o.Description = *patch.Description
		}
		if patch.OwnerID != nil {
			if o.OwnerID, err = e.ownerOr(ctx, tx, *patch.OwnerID, actorID); err != nil {
				return err
			}
		}
		o.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateObjective(ctx, tx, o); err != nil {
			return err
		}
		projectID, err := e.Access.ProjectOf(ctx, tx, o.Parent.Ref())
		if err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindObjective, events.Updated, projectID, o.ID, actorID, "")
	})
	return o, err
}

func (e Engine) DeleteObjective(ctx context.Context, actorID, id string) (DeleteResult, error) {
	return e.deleteCascade(ctx, actorID, domain.Ref(domain.KindObjective, id))
}

// OKRs

type OKRInput struct {
	ObjectiveID string
	KeyResult   string
	TargetValue *int
	OwnerID     string
}

func (e Engine) CreateOKR(ctx context.Context, actorID string, in OKRInput) (domain.OKR, error) {
	var k domain.OKR
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := required("objective_id", in.ObjectiveID); err != nil {
			return err
		}
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionCreate, auth.Under(domain.KindOKR, domain.Ref(domain.KindObjective, in.ObjectiveID))); err != nil {
			return err
		}
		if _, err := e.Repo.GetObjective(ctx, tx, in.ObjectiveID); err != nil {
			return err
		}
		if err := required("key_result", in.KeyResult); err != nil {
			return err
		}
		target := 100
		if in.TargetValue != nil {
			target = *in.TargetValue
		}
		if target < 0 {
			return domain.ValidationError{Field: "target_value", Reason: "must not be negative"}
		}
		owner, err := e.ownerOr(ctx, tx, in.OwnerID, actorID)
		if err != nil {
			return err
		}
		now := e.stamp()
		k = domain.OKR{
			ID:          newID(),
			ObjectiveID: in.ObjectiveID,
			KeyResult:   strings.TrimSpace(in.KeyResult),
			TargetValue: target,
			OwnerID:     owner,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertOKR(ctx, tx, k); err != nil {
			return fmt.Errorf("insert okr: %w", err)
		}
		projectID, err := e.Access.ProjectOf(ctx, tx, domain.Ref(domain.KindOKR, k.ID))
		if err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindOKR, events.Created, projectID, k.ID, actorID, "okr "+k.KeyResult+" created")
	})
	return k, err
}

func (e Engine) GetOKR(ctx context.Context, actorID, id string) (domain.OKR, error) {
	var k domain.OKR
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionRead, auth.On(domain.KindOKR, id)); err != nil {
			return err
		}
		var err error
		k, err = e.Repo.GetOKR(ctx, tx, id)
		return err
	})
	return k, err
}

func (e Engine) ListOKRs(ctx context.Context, actorID, objectiveID string, page repo.Page) ([]domain.OKR, error) {
	vis, err := e.VisibleFilter(ctx, actorID, domain.KindOKR)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListOKRs(ctx, nil, repo.ListFilter{ParentID: objectiveID, Visibility: vis, Page: e.page(page)})
}

// OKRPatch holds the client-editable fields. Progress and current_value are derived.
type OKRPatch struct {
	KeyResult   *string
	TargetValue *int
	OwnerID     *string
}

func (e Engine) UpdateOKR(ctx context.Context, actorID, id string, patch OKRPatch) (domain.OKR, error) {
	var k domain.OKR
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionUpdate, auth.On(domain.KindOKR, id)); err != nil {
			return err
		}
		var err error
		k, err = e.Repo.GetOKR(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.KeyResult != nil {
			if err := required("key_result", *patch.KeyResult); err != nil {
				return err
			}
			k.KeyResult = strings.TrimSpace(*patch.KeyResult)
		}
		if patch.TargetValue != nil {
			if *patch.TargetValue < 0 {
				return domain.ValidationError{Field: "target_value", Reason: "must not be negative"}
			}
			k.TargetValue = *patch.TargetValue
		}
		if patch.OwnerID != nil {
			if k.OwnerID, err = e.ownerOr(ctx, tx, *patch.OwnerID, actorID); err != nil {
				return err
			}
		}
		k.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateOKR(ctx, tx, k); err != nil {
			return err
		}
		projectID, err := e.Access.ProjectOf(ctx, tx, domain.Ref(domain.KindOKR, k.ID))
		if err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindOKR, events.Updated, projectID, k.ID, actorID, "")
	})
	return k, err
}

func (e Engine) DeleteOKR(ctx context.Context, actorID, id string) (DeleteResult, error) {
	return e.deleteCascade(ctx, actorID, domain.Ref(domain.KindOKR, id))
}

// GetOKRProgress returns the stored progress of an OKR.
func (e Engine) GetOKRProgress(ctx context.Context, actorID, okrID string) (domain.OKRProgress, error) {
	var p domain.OKRProgress
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionRead, auth.On(domain.KindOKR, okrID)); err != nil {
			return err
		}
		var err error
		p, err = e.Progress.Stored(ctx, tx, okrID)
		return err
	})
	return p, err
}

// OKRBreakdown returns the per-activity snapshot behind an OKR's progress.
func (e Engine) OKRBreakdown(ctx context.Context, actorID, okrID string) (domain.OKRProgress, []ActivityProgress, error) {
	var (
		p     domain.OKRProgress
		stats []ActivityProgress
	)
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionRead, auth.On(domain.KindOKR, okrID)); err != nil {
			return err
		}
		var err error
		if p, err = e.Progress.Stored(ctx, tx, okrID); err != nil {
			return err
		}
		snap, err := e.Progress.Snapshot(ctx, tx, okrID)
		if err != nil {
			return err
		}
		for _, s := range snap.Activities {
			stats = append(stats, ActivityProgress{ActivityID: s.ActivityID, TotalTasks: s.Total, CompletedTasks: s.Completed, Progress: s.Progress})
		}
		return nil
	})
	return p, stats, err
}

type ActivityProgress struct {
	ActivityID     string `json:"activity_id"`
	TotalTasks     int    `json:"total_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	Progress       int    `json:"progress"`
}

// RecomputeOKR re-derives and stores progress on demand.
func (e Engine) RecomputeOKR(ctx context.Context, actorID, okrID string) (domain.OKRProgress, error) {
	var p domain.OKRProgress
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionUpdate, auth.On(domain.KindOKR, okrID)); err != nil {
			return err
		}
		var err error
		p, err = e.recompute(ctx, tx, okrID)
		return err
	})
	return p, err
}

// recompute refreshes an OKR inside the caller's transaction.
func (e Engine) recompute(ctx context.Context, tx *sql.Tx, okrID string) (domain.OKRProgress, error) {
	p, err := e.Progress.RecomputeOKR(ctx, tx, okrID)
	e.Metrics.RecordRecompute(err)
	if err != nil {
		e.logger(ctx).Warn("okr recompute failed", zap.String("okr_id", okrID), zap.Error(err))
		return p, err
	}
	e.logger(ctx).Debug("okr recomputed", zap.String("okr_id", okrID), zap.Int("progress", p.Progress))
	return p, nil
}

// recomputeAll refreshes each distinct OKR once.
func (e Engine) recomputeAll(ctx context.Context, tx *sql.Tx, okrIDs ...string) error {
	seen := map[string]bool{}
	for _, id := range okrIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, err := e.recompute(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

// Activities

type ActivityInput struct {
	OKRID       string
	Name        string
	Description string
	OwnerID     string
	StartDate   string
	EndDate     *string
}

func (e Engine) withProgress(ctx context.Context, tx *sql.Tx, a domain.Activity) (domain.Activity, error) {
	stat, err := e.Progress.ActivityProgress(ctx, tx, a.ID)
	if err != nil {
		return a, err
	}
	a.Progress = stat.Progress
	return a, nil
}

func (e Engine) CreateActivity(ctx context.Context, actorID string, in ActivityInput) (domain.Activity, error) {
	var a domain.Activity
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := required("okr_id", in.OKRID); err != nil {
			return err
		}
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionCreate, auth.Under(domain.KindActivity, domain.Ref(domain.KindOKR, in.OKRID))); err != nil {
			return err
		}
		if _, err := e.Repo.GetOKR(ctx, tx, in.OKRID); err != nil {
			return err
		}
		if err := required("name", in.Name); err != nil {
			return err
		}
		if in.StartDate == "" {
			in.StartDate = e.now().UTC().Format(dateLayout)
		}
		if err := validRange(in.StartDate, in.EndDate); err != nil {
			return err
		}
		owner, err := e.ownerOr(ctx, tx, in.OwnerID, actorID)
		if err != nil {
			return err
		}
		now := e.stamp()
		a = domain.Activity{
			ID:          newID(),
			OKRID:       in.OKRID,
			Name:        strings.TrimSpace(in.Name),
			Description: in.Description,
			OwnerID:     owner,
			StartDate:   in.StartDate,
			EndDate:     emptyToNil(in.EndDate),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertActivity(ctx, tx, a); err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		if err := e.recomputeAll(ctx, tx, a.OKRID); err != nil {
			return err
		}
		projectID, err := e.Access.ProjectOf(ctx, tx, domain.Ref(domain.KindOKR, a.OKRID))
		if err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindActivity, events.Created, projectID, a.ID, actorID, "activity "+a.Name+" created")
	})
	return a, err
}

func (e Engine) GetActivity(ctx context.Context, actorID, id string) (domain.Activity, error) {
	var a domain.Activity
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionRead, auth.On(domain.KindActivity, id)); err != nil {
			return err
		}
		var err error
		if a, err = e.Repo.GetActivity(ctx, tx, id); err != nil {
			return err
		}
		a, err = e.withProgress(ctx, tx, a)
		return err
	})
	return a, err
}

func (e Engine) ListActivities(ctx context.Context, actorID, okrID string, page repo.Page) ([]domain.Activity, error) {
	vis, err := e.VisibleFilter(ctx, actorID, domain.KindActivity)
	if err != nil {
		return nil, err
	}
	var res []domain.Activity
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		list, err := e.Repo.ListActivities(ctx, tx, repo.ListFilter{ParentID: okrID, Visibility: vis, Page: e.page(page)})
		if err != nil {
			return err
		}
		for _, a := range list {
			a, err := e.withProgress(ctx, tx, a)
			if err != nil {
				return err
			}
			res = append(res, a)
		}
		return nil
	})
	return res, err
}

type ActivityPatch struct {
	OKRID       *string
	Name        *string
	Description *string
	OwnerID     *string
	StartDate   *string
	EndDate     *string
}

func (e Engine) UpdateActivity(ctx context.Context, actorID, id string, patch ActivityPatch) (domain.Activity, error) {
	var a domain.Activity
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionUpdate, auth.On(domain.KindActivity, id)); err != nil {
			return err
		}
		var err error
		if a, err = e.Repo.GetActivity(ctx, tx, id); err != nil {
			return err
		}
		oldOKR := a.OKRID
		if patch.OKRID != nil && *patch.OKRID != a.OKRID {
			if _, err := e.authorize(ctx, tx, actorID, auth.ActionCreate, auth.Under(domain.KindActivity, domain.Ref(domain.KindOKR, *patch.OKRID))); err != nil {
				return err
			}
			if _, err := e.Repo.GetOKR(ctx, tx, *patch.OKRID); err != nil {
				return err
			}
			a.OKRID = *patch.OKRID
		}
		if patch.Name != nil {
			if err := required("name", *patch.Name); err != nil {
				return err
			}
			a.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			a.Description = *patch.Description
		}
		if patch.OwnerID != nil {
			if a.OwnerID, err = e.ownerOr(ctx, tx, *patch.OwnerID, actorID); err != nil {
				return err
			}
		}
		if patch.StartDate != nil {
			a.StartDate = *patch.StartDate
		}
		if patch.EndDate != nil {
			a.EndDate = emptyToNil(patch.EndDate)
		}
		if err := validRange(a.StartDate, a.EndDate); err != nil {
			return err
		}
		a.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateActivity(ctx, tx, a); err != nil {
			return err
		}
		if err := e.recomputeAll(ctx, tx, oldOKR, a.OKRID); err != nil {
			return err
		}
		if a, err = e.withProgress(ctx, tx, a); err != nil {
			return err
		}
		projectID, err := e.Access.ProjectOf(ctx, tx, domain.Ref(domain.KindActivity, a.ID))
		if err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindActivity, events.Updated, projectID, a.ID, actorID, "")
	})
	return a, err
}

func (e Engine) DeleteActivity(ctx context.Context, actorID, id string) (DeleteResult, error) {
	return e.deleteCascade(ctx, actorID, domain.Ref(domain.KindActivity, id))
}
