package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"okrline/internal/domain"
	"okrline/internal/repo"
)

// Log types written by the engine.
const (
	Created = "created"
	Updated = "updated"
	Deleted = "deleted"
	Added   = "added"
	Removed = "removed"
)

// Type builds a log type such as "task.created".
func Type(kind, verb string) string { return kind + "." + verb }

type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

// Append writes one audit row in tx. projectID may be empty for entries
// that must outlive their project.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, logType, projectID string, ref domain.EntityRef, userID, text string) (domain.Log, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if text == "" {
		text = fmt.Sprintf("%s %s", logType, ref.ID)
	}
	l := domain.Log{
		ProjectID:  projectID,
		EntityKind: ref.Kind,
		EntityID:   ref.ID,
		UserID:     userID,
		Text:       text,
		Type:       logType,
		CreatedAt:  w.Now().UTC().Format(time.RFC3339),
	}
	id, err := w.Repo.InsertLog(ctx, tx, l)
	if err != nil {
		return domain.Log{}, fmt.Errorf("append log %s: %w", logType, err)
	}
	l.ID = id
	return l, nil
}
