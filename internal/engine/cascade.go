package engine

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"okrline/internal/domain"
	"okrline/internal/engine/auth"
	"okrline/internal/events"
)

// DeleteResult reports how many rows of each kind a delete removed.
type DeleteResult struct {
	Root   domain.EntityRef `json:"root"`
	Counts map[string]int   `json:"counts"`
}

// Total is the number of removed rows, the root included.
func (r DeleteResult) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// planDelete lists root and every descendant, leaves first.
func (e Engine) planDelete(ctx context.Context, tx *sql.Tx, root domain.EntityRef) ([]domain.EntityRef, error) {
	var plan []domain.EntityRef
	seen := map[domain.EntityRef]bool{}
	var visit func(ref domain.EntityRef) error
	visit = func(ref domain.EntityRef) error {
		if seen[ref] {
			return domain.InconsistentStateError{Level: ref.Kind, ID: ref.ID, Err: fmt.Errorf("%s reached twice", ref.Kind)}
		}
		seen[ref] = true
		children, err := e.Repo.Children(ctx, tx, ref)
		if err != nil {
			return domain.InconsistentStateError{Level: ref.Kind, ID: ref.ID, Err: err}
		}
		for _, c := range children {
			if err := visit(c); err != nil {
				return err
			}
		}
		plan = append(plan, ref)
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}
	return plan, nil
}

// survivingOKR is the OKR whose progress changes when root goes away.
func (e Engine) survivingOKR(ctx context.Context, tx *sql.Tx, root domain.EntityRef) (string, error) {
	switch root.Kind {
	case domain.KindActivity:
		return e.okrOfActivity(ctx, tx, root.ID)
	case domain.KindTask:
		t, err := e.Repo.GetTask(ctx, tx, root.ID)
		if err != nil {
			return "", err
		}
		return e.okrOfActivity(ctx, tx, t.ActivityID)
	}
	return "", nil
}

// deleteCascade removes root and everything below it in one transaction.
// Any failing step rolls the whole delete back.
func (e Engine) deleteCascade(ctx context.Context, actorID string, root domain.EntityRef) (DeleteResult, error) {
	res := DeleteResult{Root: root, Counts: map[string]int{}}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionDelete, auth.On(root.Kind, root.ID)); err != nil {
			return err
		}
		projectID, err := e.Access.ProjectOf(ctx, tx, root)
		if err != nil {
			return err
		}
		okrID, err := e.survivingOKR(ctx, tx, root)
		if err != nil {
			return err
		}
		plan, err := e.planDelete(ctx, tx, root)
		if err != nil {
			return err
		}
		isProject := root.Kind == domain.KindProject
		if isProject {
			n, err := e.Repo.DeleteProjectMemberships(ctx, tx, root.ID)
			if err != nil {
				return domain.InconsistentStateError{Level: domain.KindMembership, ID: root.ID, Err: err}
			}
			if n > 0 {
				res.Counts[domain.KindMembership] = int(n)
			}
		}
		for _, ref := range plan {
			if e.BeforeDelete != nil {
				if err := e.BeforeDelete(ctx, tx, ref); err != nil {
					return domain.InconsistentStateError{Level: ref.Kind, ID: ref.ID, Err: err}
				}
			}
			if !isProject {
				if err := e.appendLog(ctx, tx, ref.Kind, events.Deleted, projectID, ref.ID, actorID, ""); err != nil {
					return err
				}
			}
			if err := e.Repo.DeleteEntity(ctx, tx, ref); err != nil {
				return domain.InconsistentStateError{Level: ref.Kind, ID: ref.ID, Err: err}
			}
			res.Counts[ref.Kind]++
		}
		if isProject {
			if err := e.appendLog(ctx, tx, domain.KindProject, events.Deleted, "", root.ID, actorID, ""); err != nil {
				return err
			}
		}
		return e.recomputeAll(ctx, tx, okrID)
	})
	if err != nil {
		return DeleteResult{Root: root}, err
	}
	e.Metrics.RecordCascade(res.Counts)
	e.logger(ctx).Info("cascade delete",
		zap.String("actor_id", actorID),
		zap.String("kind", root.Kind),
		zap.String("id", root.ID),
		zap.Int("rows", res.Total()),
		zap.Any("counts", res.Counts))
	return res, nil
}
