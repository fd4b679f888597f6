package engine

import (
	"context"
	"database/sql"
	"strings"

	"okrline/internal/domain"
	"okrline/internal/engine/auth"
	"okrline/internal/repo"
)

// LogQuery filters the audit trail. Cursor pages towards older entries.
type LogQuery struct {
	ProjectID  string
	EntityKind string
	EntityID   string
	Type       string
	Cursor     int64
	Limit      int
}

// ListLogs returns entries of projects the caller belongs to, newest first.
func (e Engine) ListLogs(ctx context.Context, actorID string, q LogQuery) ([]domain.Log, error) {
	var vis repo.Visibility
	var err error
	if q.ProjectID != "" {
		if err = e.ResolveAccess(ctx, actorID, auth.ActionList, auth.Under(domain.KindLog, domain.Ref(domain.KindProject, q.ProjectID))); err != nil {
			return nil, err
		}
		vis = repo.Visibility{All: true}
	} else if vis, err = e.VisibleFilter(ctx, actorID, domain.KindLog); err != nil {
		return nil, err
	}
	return e.Repo.ListLogs(ctx, nil, repo.LogFilters{
		ProjectID:  q.ProjectID,
		EntityKind: q.EntityKind,
		EntityID:   q.EntityID,
		Type:       q.Type,
		Cursor:     q.Cursor,
		Limit:      e.PageLimit(q.Limit),
		Visibility: vis,
	})
}

// CreateLog attaches a free-text note to an entity. Notes are typed
// "<kind>.note".
func (e Engine) CreateLog(ctx context.Context, actorID string, ref domain.EntityRef, text string) (domain.Log, error) {
	var l domain.Log
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := required("entity_id", ref.ID); err != nil {
			return err
		}
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionCreate, auth.Under(domain.KindLog, ref)); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if err := required("log_text", text); err != nil {
			return err
		}
		projectID, err := e.Access.ProjectOf(ctx, tx, ref)
		if err != nil {
			return err
		}
		l, err = e.Events.Append(ctx, tx, ref.Kind+".note", projectID, ref, actorID, text)
		return err
	})
	return l, err
}
