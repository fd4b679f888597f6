package engine

import (
	"context"
	"database/sql"
	"slices"

	"okrline/internal/domain"
	"okrline/internal/engine/auth"
	"okrline/internal/engine/progress"
	"okrline/internal/repo"
)

type OKRNode struct {
	domain.OKR
	Activities []domain.Activity `json:"activities"`
}

type ObjectiveNode struct {
	domain.Objective
	OKRs []OKRNode `json:"okrs"`
}

type EpicNode struct {
	domain.Epic
	Objectives []ObjectiveNode `json:"objectives"`
}

// ProjectTree is a project with its whole planning hierarchy, oldest first.
// Tasks are left out; activities carry their computed progress.
type ProjectTree struct {
	Project    domain.Project  `json:"project"`
	Epics      []EpicNode      `json:"epics"`
	Objectives []ObjectiveNode `json:"objectives"`
}

func oldestFirst[T any](items []T) []T {
	slices.Reverse(items)
	return items
}

func (e Engine) Tree(ctx context.Context, actorID, projectID string) (ProjectTree, error) {
	var tree ProjectTree
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionRead, auth.On(domain.KindProject, projectID)); err != nil {
			return err
		}
		var err error
		if tree.Project, err = e.Repo.GetProject(ctx, tx, projectID); err != nil {
			return err
		}
		all := repo.Visibility{All: true}
		epics, err := e.Repo.ListEpics(ctx, tx, repo.ListFilter{ParentID: projectID, Visibility: all})
		if err != nil {
			return err
		}
		tree.Epics = make([]EpicNode, 0, len(epics))
		for _, ep := range oldestFirst(epics) {
			objs, err := e.objectiveNodes(ctx, tx, repo.ObjectiveFilter{EpicID: ep.ID, Visibility: all})
			if err != nil {
				return err
			}
			tree.Epics = append(tree.Epics, EpicNode{Epic: ep, Objectives: objs})
		}
		tree.Objectives, err = e.objectiveNodes(ctx, tx, repo.ObjectiveFilter{ProjectID: projectID, Visibility: all})
		return err
	})
	return tree, err
}

func (e Engine) objectiveNodes(ctx context.Context, tx *sql.Tx, f repo.ObjectiveFilter) ([]ObjectiveNode, error) {
	all := repo.Visibility{All: true}
	objs, err := e.Repo.ListObjectives(ctx, tx, f)
	if err != nil {
		return nil, err
	}
	nodes := make([]ObjectiveNode, 0, len(objs))
	for _, o := range oldestFirst(objs) {
		if _, viaEpic := o.Parent.EpicID(); viaEpic && f.EpicID == "" {
			continue
		}
		okrs, err := e.Repo.ListOKRs(ctx, tx, repo.ListFilter{ParentID: o.ID, Visibility: all})
		if err != nil {
			return nil, err
		}
		node := ObjectiveNode{Objective: o, OKRs: make([]OKRNode, 0, len(okrs))}
		for _, k := range oldestFirst(okrs) {
			acts, err := e.Repo.ListActivities(ctx, tx, repo.ListFilter{ParentID: k.ID, Visibility: all})
			if err != nil {
				return nil, err
			}
			snap, err := e.Progress.Snapshot(ctx, tx, k.ID)
			if err != nil {
				return nil, err
			}
			stats := make(map[string]progress.ActivityStat, len(snap.Activities))
			for _, s := range snap.Activities {
				stats[s.ActivityID] = s
			}
			acts = oldestFirst(acts)
			for i := range acts {
				acts[i].Progress = stats[acts[i].ID].Progress
			}
			node.OKRs = append(node.OKRs, OKRNode{OKR: k, Activities: acts})
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
