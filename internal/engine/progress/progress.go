// Package progress derives completion figures for activities and OKRs from
// their task rows.
package progress

import (
	"context"
	"database/sql"
	"fmt"

	"okrline/internal/domain"
	"okrline/internal/repo"
)

// Completion maps a task status to its fixed completion percentage.
func Completion(status string) int {
	switch status {
	case domain.TaskInProgress:
		return 50
	case domain.TaskCompleted:
		return 100
	default:
		return 0
	}
}

// Percent is round-half-up of 100*part/total, 0 when total is 0.
func Percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*part + total) / (2 * total)
}

type ActivityStat struct {
	ActivityID string `json:"activity_id"`
	Total      int    `json:"total_tasks"`
	Completed  int    `json:"completed_tasks"`
	Progress   int    `json:"progress"`
}

// Done reports whether the activity counts as completed for its OKR.
func (s ActivityStat) Done() bool { return s.Completed > 0 }

// Snapshot is the state of one OKR read in a single statement.
type Snapshot struct {
	OKRID      string         `json:"okr_id"`
	Activities []ActivityStat `json:"activities"`
}

// Progress is the OKR percentage: activities with at least one completed
// task over all activities.
func (s Snapshot) Progress() int {
	done := 0
	for _, a := range s.Activities {
		if a.Done() {
			done++
		}
	}
	return Percent(done, len(s.Activities))
}

func statFrom(c repo.ActivityTaskCount) ActivityStat {
	return ActivityStat{
		ActivityID: c.ActivityID,
		Total:      c.Total,
		Completed:  c.Completed,
		Progress:   Percent(c.Completed, c.Total),
	}
}

type Aggregator struct {
	Repo repo.Repo
}

// ActivityProgress computes an activity's progress on demand. It is never stored.
func (a Aggregator) ActivityProgress(ctx context.Context, tx *sql.Tx, activityID string) (ActivityStat, error) {
	c, err := a.Repo.TaskCountsForActivity(ctx, tx, activityID)
	if err != nil {
		return ActivityStat{}, err
	}
	return statFrom(c), nil
}

func (a Aggregator) Snapshot(ctx context.Context, tx *sql.Tx, okrID string) (Snapshot, error) {
	counts, err := a.Repo.ActivityTaskCounts(ctx, tx, okrID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{OKRID: okrID, Activities: make([]ActivityStat, 0, len(counts))}
	for _, c := range counts {
		snap.Activities = append(snap.Activities, statFrom(c))
	}
	return snap, nil
}

// RecomputeOKR derives and persists progress and current_value for okrID.
// It must run in the same transaction as the write that triggered it; any
// failure is reported as InconsistentStateError so the caller rolls back.
func (a Aggregator) RecomputeOKR(ctx context.Context, tx *sql.Tx, okrID string) (domain.OKRProgress, error) {
	snap, err := a.Snapshot(ctx, tx, okrID)
	if err != nil {
		return domain.OKRProgress{}, domain.InconsistentStateError{Level: domain.KindOKR, ID: okrID, Err: fmt.Errorf("snapshot: %w", err)}
	}
	p := snap.Progress()
	if err := a.Repo.SetOKRProgress(ctx, tx, okrID, p); err != nil {
		return domain.OKRProgress{}, domain.InconsistentStateError{Level: domain.KindOKR, ID: okrID, Err: fmt.Errorf("persist progress: %w", err)}
	}
	return domain.OKRProgress{OKRID: okrID, Progress: p, CurrentValue: p}, nil
}

// Stored reads the persisted progress of an OKR.
func (a Aggregator) Stored(ctx context.Context, tx *sql.Tx, okrID string) (domain.OKRProgress, error) {
	k, err := a.Repo.GetOKR(ctx, tx, okrID)
	if err != nil {
		return domain.OKRProgress{}, err
	}
	return domain.OKRProgress{OKRID: k.ID, Progress: k.Progress, CurrentValue: k.CurrentValue}, nil
}
