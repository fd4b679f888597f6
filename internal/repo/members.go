package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"okrline/internal/domain"
)

func (r Repo) InsertMembership(ctx context.Context, tx *sql.Tx, m domain.Membership) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO memberships(project_id,user_id,role,joined_at) VALUES (?,?,?,?)`,
		m.ProjectID, m.UserID, m.Role, m.JoinedAt)
	if err != nil && isUniqueViolation(err) {
		return domain.ErrAlreadyMember
	}
	return err
}

func (r Repo) DeleteMembership(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM memberships WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotAMember
	}
	return nil
}

func (r Repo) UpdateMembershipRole(ctx context.Context, tx *sql.Tx, projectID, userID, role string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE memberships SET role=? WHERE project_id=? AND user_id=?`, role, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotAMember
	}
	return nil
}

func (r Repo) GetMembership(ctx context.Context, tx *sql.Tx, projectID, userID string) (domain.Membership, error) {
	var m domain.Membership
	err := r.q(tx).QueryRowContext(ctx, `SELECT project_id,user_id,role,joined_at FROM memberships WHERE project_id=? AND user_id=?`, projectID, userID).
		Scan(&m.ProjectID, &m.UserID, &m.Role, &m.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return m, domain.ErrNotAMember
	}
	return m, err
}

func (r Repo) ListMemberships(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Membership, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT project_id,user_id,role,joined_at FROM memberships WHERE project_id=? ORDER BY joined_at, user_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// DeleteProjectMemberships drops every membership of a project and returns how many were removed.
func (r Repo) DeleteProjectMemberships(ctx context.Context, tx *sql.Tx, projectID string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM memberships WHERE project_id=?`, projectID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
