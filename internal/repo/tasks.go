package repo

import (
	"context"
	"database/sql"

	"okrline/internal/domain"
)

const taskColumns = `tasks.id,tasks.activity_id,tasks.title,COALESCE(tasks.description,''),tasks.assignee_id,tasks.parent_task_id,tasks.status,tasks.completion_percentage,tasks.archived,tasks.created_at,tasks.updated_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var (
		t                domain.Task
		assignee, parent sql.NullString
		archived         int
	)
	err := row.Scan(&t.ID, &t.ActivityID, &t.Title, &t.Description, &assignee, &parent, &t.Status, &t.CompletionPercentage, &archived, &t.CreatedAt, &t.UpdatedAt)
	t.AssigneeID = stringPtr(assignee)
	t.ParentTaskID = stringPtr(parent)
	t.Archived = archived != 0
	return t, err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,activity_id,title,description,assignee_id,parent_task_id,status,completion_percentage,archived,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ActivityID, t.Title, nullable(t.Description), nullableStringPtr(t.AssigneeID), nullableStringPtr(t.ParentTaskID),
		t.Status, t.CompletionPercentage, boolInt(t.Archived), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET activity_id=?,title=?,description=?,assignee_id=?,parent_task_id=?,status=?,completion_percentage=?,archived=?,updated_at=? WHERE id=?`,
		t.ActivityID, t.Title, nullable(t.Description), nullableStringPtr(t.AssigneeID), nullableStringPtr(t.ParentTaskID),
		t.Status, t.CompletionPercentage, boolInt(t.Archived), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return checkAffected(res, domain.KindTask, t.ID)
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return t, notFound(domain.KindTask, id)
	}
	return t, err
}

type TaskFilters struct {
	ActivityID   string
	ProjectID    string
	AssigneeID   string
	ParentTaskID string
	Status       string
	// Archived is tri-state: nil lists both.
	Archived   *bool
	Visibility Visibility
	Page       Page
}

func (r Repo) ListTasks(ctx context.Context, tx *sql.Tx, f TaskFilters) ([]domain.Task, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ActivityID != "" {
		clauses = append(clauses, "tasks.activity_id=?")
		args = append(args, f.ActivityID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "tasks.id IN (SELECT id FROM task_scope WHERE project_id=?)")
		args = append(args, f.ProjectID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "tasks.assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.ParentTaskID != "" {
		clauses = append(clauses, "tasks.parent_task_id=?")
		args = append(args, f.ParentTaskID)
	}
	if f.Status != "" {
		clauses = append(clauses, "tasks.status=?")
		args = append(args, f.Status)
	}
	if f.Archived != nil {
		clauses = append(clauses, "tasks.archived=?")
		args = append(args, boolInt(*f.Archived))
	}
	clauses, args = f.Visibility.apply(domain.KindTask, "tasks", clauses, args)
	query, args := pagedQuery(`SELECT `+taskColumns+` FROM tasks`, "tasks", clauses, args, f.Page)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountSubtasks returns how many tasks name id as their parent.
func (r Repo) CountSubtasks(ctx context.Context, tx *sql.Tx, id string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE parent_task_id=?`, id).Scan(&n)
	return n, err
}

func (r Repo) CountTasksByStatus(ctx context.Context, tx *sql.Tx, activityID string) (map[string]int, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE activity_id=? GROUP BY status`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}
