package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"okrline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q runs on tx when one is given, otherwise on the pool.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

var tables = map[string]string{
	domain.KindProject:   "projects",
	domain.KindEpic:      "epics",
	domain.KindObjective: "objectives",
	domain.KindOKR:       "okrs",
	domain.KindActivity:  "activities",
	domain.KindTask:      "tasks",
	domain.KindComment:   "comments",
	domain.KindUser:      "users",
}

func notFound(kind, id string) error {
	return domain.NotFoundError{Kind: kind, ID: id}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func checkAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

// Page is a keyset cursor over (created_at, id), newest first.
type Page struct {
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func pagedQuery(selectFrom, table string, clauses []string, args []any, page Page) (string, []any) {
	if page.CursorCreatedAt != "" && page.CursorID != "" {
		clauses = append(clauses, fmt.Sprintf("(%[1]s.created_at < ? OR (%[1]s.created_at = ? AND %[1]s.id < ?))", table))
		args = append(args, page.CursorCreatedAt, page.CursorCreatedAt, page.CursorID)
	}
	query := selectFrom
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %[1]s.created_at DESC, %[1]s.id DESC", table)
	if page.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, page.Limit)
	}
	return query, args
}

// Exists reports whether a row of the given kind exists.
func (r Repo) Exists(ctx context.Context, tx *sql.Tx, ref domain.EntityRef) (bool, error) {
	table, ok := tables[ref.Kind]
	if !ok {
		return false, fmt.Errorf("unknown entity kind %q", ref.Kind)
	}
	var one int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id=?`, ref.ID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// DeleteEntity removes a single row. Children must already be gone or be
// covered by foreign key cascades.
func (r Repo) DeleteEntity(ctx context.Context, tx *sql.Tx, ref domain.EntityRef) error {
	table, ok := tables[ref.Kind]
	if !ok {
		return fmt.Errorf("unknown entity kind %q", ref.Kind)
	}
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM `+table+` WHERE id=?`, ref.ID)
	if err != nil {
		return err
	}
	return checkAffected(res, ref.Kind, ref.ID)
}

// ParentOf returns the direct parent of ref in the hierarchy. Projects and
// users have no parent.
func (r Repo) ParentOf(ctx context.Context, tx *sql.Tx, ref domain.EntityRef) (domain.EntityRef, error) {
	q := r.q(tx)
	var (
		parent sql.NullString
		err    error
	)
	switch ref.Kind {
	case domain.KindProject:
		ok, err := r.Exists(ctx, tx, ref)
		if err != nil {
			return domain.EntityRef{}, err
		}
		if !ok {
			return domain.EntityRef{}, notFound(ref.Kind, ref.ID)
		}
		return domain.EntityRef{}, nil
	case domain.KindEpic:
		err = q.QueryRowContext(ctx, `SELECT project_id FROM epics WHERE id=?`, ref.ID).Scan(&parent)
		if err == nil {
			return domain.Ref(domain.KindProject, parent.String), nil
		}
	case domain.KindObjective:
		var epicID, projectID sql.NullString
		err = q.QueryRowContext(ctx, `SELECT epic_id, project_id FROM objectives WHERE id=?`, ref.ID).Scan(&epicID, &projectID)
		if err == nil {
			p, perr := domain.NewObjectiveParent(epicID.String, projectID.String)
			if perr != nil {
				return domain.EntityRef{}, domain.InconsistentStateError{Level: domain.KindObjective, ID: ref.ID, Err: perr}
			}
			return p.Ref(), nil
		}
	case domain.KindOKR:
		err = q.QueryRowContext(ctx, `SELECT objective_id FROM okrs WHERE id=?`, ref.ID).Scan(&parent)
		if err == nil {
			return domain.Ref(domain.KindObjective, parent.String), nil
		}
	case domain.KindActivity:
		err = q.QueryRowContext(ctx, `SELECT okr_id FROM activities WHERE id=?`, ref.ID).Scan(&parent)
		if err == nil {
			return domain.Ref(domain.KindOKR, parent.String), nil
		}
	case domain.KindTask:
		err = q.QueryRowContext(ctx, `SELECT activity_id FROM tasks WHERE id=?`, ref.ID).Scan(&parent)
		if err == nil {
			return domain.Ref(domain.KindActivity, parent.String), nil
		}
	case domain.KindComment:
		err = q.QueryRowContext(ctx, `SELECT task_id FROM comments WHERE id=?`, ref.ID).Scan(&parent)
		if err == nil {
			return domain.Ref(domain.KindTask, parent.String), nil
		}
	default:
		return domain.EntityRef{}, fmt.Errorf("kind %q has no parent", ref.Kind)
	}
	if err == sql.ErrNoRows {
		return domain.EntityRef{}, notFound(ref.Kind, ref.ID)
	}
	return domain.EntityRef{}, err
}

// Children lists the direct descendants of ref, in the order a cascading
// delete should visit them.
func (r Repo) Children(ctx context.Context, tx *sql.Tx, ref domain.EntityRef) ([]domain.EntityRef, error) {
	var queries []struct {
		kind  string
		query string
	}
	add := func(kind, query string) {
		queries = append(queries, struct {
			kind  string
			query string
		}{kind, query})
	}
	switch ref.Kind {
	case domain.KindProject:
		add(domain.KindEpic, `SELECT id FROM epics WHERE project_id=? ORDER BY created_at, id`)
		add(domain.KindObjective, `SELECT id FROM objectives WHERE project_id=? ORDER BY created_at, id`)
	case domain.KindEpic:
		add(domain.KindObjective, `SELECT id FROM objectives WHERE epic_id=? ORDER BY created_at, id`)
	case domain.KindObjective:
		add(domain.KindOKR, `SELECT id FROM okrs WHERE objective_id=? ORDER BY created_at, id`)
	case domain.KindOKR:
		add(domain.KindActivity, `SELECT id FROM activities WHERE okr_id=? ORDER BY created_at, id`)
	case domain.KindActivity:
		add(domain.KindTask, `SELECT id FROM tasks WHERE activity_id=? AND parent_task_id IS NULL ORDER BY created_at, id`)
	case domain.KindTask:
		add(domain.KindTask, `SELECT id FROM tasks WHERE parent_task_id=? ORDER BY created_at, id`)
		add(domain.KindComment, `SELECT id FROM comments WHERE task_id=? ORDER BY created_at, id`)
	case domain.KindComment:
		return nil, nil
	default:
		return nil, fmt.Errorf("kind %q has no children", ref.Kind)
	}
	var out []domain.EntityRef
	for _, c := range queries {
		ids, err := r.ids(ctx, tx, c.query, ref.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			out = append(out, domain.Ref(c.kind, id))
		}
	}
	return out, nil
}

func (r Repo) ids(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
