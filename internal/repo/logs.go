package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"okrline/internal/domain"
)

func (r Repo) InsertLog(ctx context.Context, tx *sql.Tx, l domain.Log) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO logs(project_id,entity_kind,entity_id,user_id,log_text,log_type,created_at) VALUES (?,?,?,?,?,?,?)`,
		nullable(l.ProjectID), l.EntityKind, l.EntityID, l.UserID, l.Text, l.Type, l.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type LogFilters struct {
	ProjectID  string
	EntityKind string
	EntityID   string
	Type       string
	// Cursor returns entries with smaller ids.
	Cursor     int64
	Limit      int
	Visibility Visibility
}

// ListLogs returns entries newest first.
func (r Repo) ListLogs(ctx context.Context, tx *sql.Tx, f LogFilters) ([]domain.Log, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ProjectID != "" {
		clauses = append(clauses, "logs.project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "logs.entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "logs.entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Type != "" {
		clauses = append(clauses, "logs.log_type=?")
		args = append(args, f.Type)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "logs.id < ?")
		args = append(args, f.Cursor)
	}
	clauses, args = f.Visibility.apply(domain.KindLog, "logs", clauses, args)
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id,COALESCE(project_id,''),entity_kind,entity_id,user_id,log_text,log_type,created_at FROM logs %s ORDER BY id DESC LIMIT ?`, where)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Log
	for rows.Next() {
		var l domain.Log
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.EntityKind, &l.EntityID, &l.UserID, &l.Text, &l.Type, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// LogsAfter returns up to limit entries with ids above after, oldest first.
func (r Repo) LogsAfter(ctx context.Context, tx *sql.Tx, after int64, limit int) ([]domain.Log, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,COALESCE(project_id,''),entity_kind,entity_id,user_id,log_text,log_type,created_at FROM logs WHERE id > ? ORDER BY id ASC LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Log
	for rows.Next() {
		var l domain.Log
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.EntityKind, &l.EntityID, &l.UserID, &l.Text, &l.Type, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) LatestLogID(ctx context.Context, tx *sql.Tx) (int64, error) {
	var id int64
	err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM logs`).Scan(&id)
	return id, err
}
