package repo

import (
	"context"
	"database/sql"

	"okrline/internal/domain"
)

const userColumns = `id,username,COALESCE(email,''),COALESCE(first_name,''),COALESCE(last_name,''),COALESCE(position,''),role,created_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.Position, &u.Role, &u.CreatedAt)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id,username,email,first_name,last_name,position,role,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.Username, nullable(u.Email), nullable(u.FirstName), nullable(u.LastName), nullable(u.Position), u.Role, u.CreatedAt)
	return err
}

func (r Repo) UpdateUserRole(ctx context.Context, tx *sql.Tx, id, role string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, role, id)
	if err != nil {
		return err
	}
	return checkAffected(res, domain.KindUser, id)
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	u, err := scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return u, notFound(domain.KindUser, id)
	}
	return u, err
}

func (r Repo) GetUserByUsername(ctx context.Context, tx *sql.Tx, username string) (domain.User, error) {
	u, err := scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, username))
	if err == sql.ErrNoRows {
		return u, notFound(domain.KindUser, username)
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context, tx *sql.Tx) ([]domain.User, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

const projectColumns = `projects.id,projects.name,COALESCE(projects.description,''),projects.start_date,projects.end_date,projects.color,projects.type,projects.created_by,projects.created_at,projects.updated_at`

func scanProject(row interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	var end sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.StartDate, &end, &p.Color, &p.Type, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	p.EndDate = stringPtr(end)
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,name,description,start_date,end_date,color,type,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.StartDate, nullableStringPtr(p.EndDate), p.Color, p.Type, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE projects SET name=?,description=?,start_date=?,end_date=?,color=?,type=?,updated_at=? WHERE id=?`,
		p.Name, nullable(p.Description), p.StartDate, nullableStringPtr(p.EndDate), p.Color, p.Type, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	return checkAffected(res, domain.KindProject, p.ID)
}

func (r Repo) GetProject(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	p, err := scanProject(r.q(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return p, notFound(domain.KindProject, id)
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context, tx *sql.Tx, vis Visibility, page Page) ([]domain.Project, error) {
	clauses, args := vis.apply(domain.KindProject, "projects", nil, nil)
	query, args := pagedQuery(`SELECT `+projectColumns+` FROM projects`, "projects", clauses, args, page)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CountProjectChildren returns the number of epics and direct objectives.
func (r Repo) CountProjectChildren(ctx context.Context, tx *sql.Tx, projectID string) (epics, objectives int, err error) {
	err = r.q(tx).QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM epics WHERE project_id=?), (SELECT COUNT(*) FROM objectives WHERE project_id=?)`,
		projectID, projectID).Scan(&epics, &objectives)
	return epics, objectives, err
}
