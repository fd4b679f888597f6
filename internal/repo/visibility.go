package repo

import (
	"fmt"

	"okrline/internal/domain"
)

// Visibility is a list filter computed by the access resolver. The zero
// value matches nothing.
type Visibility struct {
	All bool
	// UserID restricts rows to projects where the user holds a membership.
	UserID string
	// IncludeAssigned also admits tasks (and their comments) assigned to UserID.
	IncludeAssigned bool
}

const memberProjects = `SELECT project_id FROM memberships WHERE user_id=?`

var scopeViews = map[string]string{
	domain.KindObjective: "objective_scope",
	domain.KindOKR:       "okr_scope",
	domain.KindActivity:  "activity_scope",
	domain.KindTask:      "task_scope",
}

// predicate renders the filter for rows of kind stored in table. An empty
// clause means no restriction.
func (v Visibility) predicate(kind, table string) (string, []any) {
	if v.All {
		return "", nil
	}
	if v.UserID == "" {
		return "1=0", nil
	}
	uid := v.UserID
	switch kind {
	case domain.KindProject:
		return fmt.Sprintf("%s.id IN (%s)", table, memberProjects), []any{uid}
	case domain.KindEpic, domain.KindMembership, domain.KindLog:
		return fmt.Sprintf("%s.project_id IN (%s)", table, memberProjects), []any{uid}
	case domain.KindObjective, domain.KindOKR, domain.KindActivity:
		return fmt.Sprintf("%s.id IN (SELECT s.id FROM %s s WHERE s.project_id IN (%s))", table, scopeViews[kind], memberProjects), []any{uid}
	case domain.KindTask:
		clause := fmt.Sprintf("%s.id IN (SELECT s.id FROM task_scope s WHERE s.project_id IN (%s))", table, memberProjects)
		args := []any{uid}
		if v.IncludeAssigned {
			clause = fmt.Sprintf("(%s OR %s.assignee_id=?)", clause, table)
			args = append(args, uid)
		}
		return clause, args
	case domain.KindComment:
		clause := fmt.Sprintf("%s.task_id IN (SELECT s.id FROM task_scope s WHERE s.project_id IN (%s))", table, memberProjects)
		args := []any{uid}
		if v.IncludeAssigned {
			clause = fmt.Sprintf("(%s OR %s.task_id IN (SELECT id FROM tasks WHERE assignee_id=?))", clause, table)
			args = append(args, uid)
		}
		return clause, args
	}
	return "1=0", nil
}

func (v Visibility) apply(kind, table string, clauses []string, args []any) ([]string, []any) {
	clause, extra := v.predicate(kind, table)
	if clause == "" {
		return clauses, args
	}
	return append(clauses, clause), append(args, extra...)
}
