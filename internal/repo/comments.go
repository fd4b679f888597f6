package repo

import (
	"context"
	"database/sql"

	"okrline/internal/domain"
)

const commentColumns = `comments.id,comments.task_id,comments.user_id,comments.text,comments.created_at,comments.updated_at`

func scanComment(row interface{ Scan(...any) error }) (domain.Comment, error) {
	var c domain.Comment
	err := row.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Text, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO comments(id,task_id,user_id,text,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.UserID, c.Text, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) UpdateComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE comments SET text=?,updated_at=? WHERE id=?`, c.Text, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	return checkAffected(res, domain.KindComment, c.ID)
}

func (r Repo) GetComment(ctx context.Context, tx *sql.Tx, id string) (domain.Comment, error) {
	c, err := scanComment(r.q(tx).QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return c, notFound(domain.KindComment, id)
	}
	return c, err
}

func (r Repo) ListComments(ctx context.Context, tx *sql.Tx, f ListFilter) ([]domain.Comment, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ParentID != "" {
		clauses = append(clauses, "comments.task_id=?")
		args = append(args, f.ParentID)
	}
	clauses, args = f.Visibility.apply(domain.KindComment, "comments", clauses, args)
	query, args := pagedQuery(`SELECT `+commentColumns+` FROM comments`, "comments", clauses, args, f.Page)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
