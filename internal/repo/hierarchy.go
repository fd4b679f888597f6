package repo

import (
	"context"
	"database/sql"

	"okrline/internal/domain"
)

// ListFilter narrows a hierarchy listing to one parent.
type ListFilter struct {
	ParentID   string
	Visibility Visibility
	Page       Page
}

const epicColumns = `epics.id,epics.project_id,epics.title,COALESCE(epics.description,''),epics.owner_id,epics.created_at,epics.updated_at`

func scanEpic(row interface{ Scan(...any) error }) (domain.Epic, error) {
	var e domain.Epic
	err := row.Scan(&e.ID, &e.ProjectID, &e.Title, &e.Description, &e.OwnerID, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (r Repo) InsertEpic(ctx context.Context, tx *sql.Tx, e domain.Epic) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO epics(id,project_id,title,description,owner_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.Title, nullable(e.Description), e.OwnerID, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) UpdateEpic(ctx context.Context, tx *sql.Tx, e domain.Epic) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE epics SET title=?,description=?,owner_id=?,updated_at=? WHERE id=?`,
		e.Title, nullable(e.Description), e.OwnerID, e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	return checkAffected(res, domain.KindEpic, e.ID)
}

func (r Repo) GetEpic(ctx context.Context, tx *sql.Tx, id string) (domain.Epic, error) {
	e, err := scanEpic(r.q(tx).QueryRowContext(ctx, `SELECT `+epicColumns+` FROM epics WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return e, notFound(domain.KindEpic, id)
	}
	return e, err
}

func (r Repo) ListEpics(ctx context.Context, tx *sql.Tx, f ListFilter) ([]domain.Epic, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ParentID != "" {
		clauses = append(clauses, "epics.project_id=?")
		args = append(args, f.ParentID)
	}
	clauses, args = f.Visibility.apply(domain.KindEpic, "epics", clauses, args)
	query, args := pagedQuery(`SELECT `+epicColumns+` FROM epics`, "epics", clauses, args, f.Page)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Epic
	for rows.Next() {
		e, err := scanEpic(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

const objectiveColumns = `objectives.id,objectives.epic_id,objectives.project_id,objectives.title,COALESCE(objectives.description,''),objectives.owner_id,objectives.created_at,objectives.updated_at`

func scanObjective(row interface{ Scan(...any) error }) (domain.Objective, error) {
	var (
		o                 domain.Objective
		epicID, projectID sql.NullString
	)
	if err := row.Scan(&o.ID, &epicID, &projectID, &o.Title, &o.Description, &o.OwnerID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return o, err
	}
	parent, err := domain.NewObjectiveParent(epicID.String, projectID.String)
	if err != nil {
		return o, domain.InconsistentStateError{Level: domain.KindObjective, ID: o.ID, Err: err}
	}
	o.Parent = parent
	return o, nil
}

func objectiveParentColumns(p domain.ObjectiveParent) (epicID, projectID any) {
	if id, ok := p.EpicID(); ok {
		return id, nil
	}
	if id, ok := p.ProjectID(); ok {
		return nil, id
	}
	return nil, nil
}

func (r Repo) InsertObjective(ctx context.Context, tx *sql.Tx, o domain.Objective) error {
	epicID, projectID := objectiveParentColumns(o.Parent)
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO objectives(id,epic_id,project_id,title,description,owner_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		o.ID, epicID, projectID, o.Title, nullable(o.Description), o.OwnerID, o.CreatedAt, o.UpdatedAt)
	return err
}

func (r Repo) UpdateObjective(ctx context.Context, tx *sql.Tx, o domain.Objective) error {
	epicID, projectID := objectiveParentColumns(o.Parent)
	res, err := r.q(tx).ExecContext(ctx, `UPDATE objectives SET epic_id=?,project_id=?,title=?,description=?,owner_id=?,updated_at=? WHERE id=?`,
		epicID, projectID, o.Title, nullable(o.Description), o.OwnerID, o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	return checkAffected(res, domain.KindObjective, o.ID)
}

func (r Repo) GetObjective(ctx context.Context, tx *sql.Tx, id string) (domain.Objective, error) {
	o, err := scanObjective(r.q(tx).QueryRowContext(ctx, `SELECT `+objectiveColumns+` FROM objectives WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return o, notFound(domain.KindObjective, id)
	}
	return o, err
}

// ObjectiveFilter selects objectives by either parent variant or by owning
// project across both variants.
type ObjectiveFilter struct {
	EpicID     string
	ProjectID  string
	Visibility Visibility
	Page       Page
}

func (r Repo) ListObjectives(ctx context.Context, tx *sql.Tx, f ObjectiveFilter) ([]domain.Objective, error) {
	var (
		clauses []string
		args    []any
	)
	if f.EpicID != "" {
		clauses = append(clauses, "objectives.epic_id=?")
		args = append(args, f.EpicID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "objectives.id IN (SELECT id FROM objective_scope WHERE project_id=?)")
		args = append(args, f.ProjectID)
	}
	clauses, args = f.Visibility.apply(domain.KindObjective, "objectives", clauses, args)
	query, args := pagedQuery(`SELECT `+objectiveColumns+` FROM objectives`, "objectives", clauses, args, f.Page)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Objective
	for rows.Next() {
		o, err := scanObjective(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

const okrColumns = `okrs.id,okrs.objective_id,okrs.key_result,okrs.current_value,okrs.target_value,okrs.progress,okrs.owner_id,okrs.created_at,okrs.updated_at`

func scanOKR(row interface{ Scan(...any) error }) (domain.OKR, error) {
	var k domain.OKR
	err := row.Scan(&k.ID, &k.ObjectiveID, &k.KeyResult, &k.CurrentValue, &k.TargetValue, &k.Progress, &k.OwnerID, &k.CreatedAt, &k.UpdatedAt)
	return k, err
}

func (r Repo) InsertOKR(ctx context.Context, tx *sql.Tx, k domain.OKR) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO okrs(id,objective_id,key_result,current_value,target_value,progress,owner_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		k.ID, k.ObjectiveID, k.KeyResult, k.CurrentValue, k.TargetValue, k.Progress, k.OwnerID, k.CreatedAt, k.UpdatedAt)
	return err
}

// UpdateOKR writes client-editable fields; progress and current_value are
// owned by SetOKRProgress.
func (r Repo) UpdateOKR(ctx context.Context, tx *sql.Tx, k domain.OKR) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE okrs SET objective_id=?,key_result=?,target_value=?,owner_id=?,updated_at=? WHERE id=?`,
		k.ObjectiveID, k.KeyResult, k.TargetValue, k.OwnerID, k.UpdatedAt, k.ID)
	if err != nil {
		return err
	}
	return checkAffected(res, domain.KindOKR, k.ID)
}

func (r Repo) SetOKRProgress(ctx context.Context, tx *sql.Tx, id string, progress int) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE okrs SET progress=?, current_value=? WHERE id=?`, progress, progress, id)
	if err != nil {
		return err
	}
	return checkAffected(res, domain.KindOKR, id)
}

func (r Repo) GetOKR(ctx context.Context, tx *sql.Tx, id string) (domain.OKR, error) {
	k, err := scanOKR(r.q(tx).QueryRowContext(ctx, `SELECT `+okrColumns+` FROM okrs WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return k, notFound(domain.KindOKR, id)
	}
	return k, err
}

func (r Repo) ListOKRs(ctx context.Context, tx *sql.Tx, f ListFilter) ([]domain.OKR, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ParentID != "" {
		clauses = append(clauses, "okrs.objective_id=?")
		args = append(args, f.ParentID)
	}
	clauses, args = f.Visibility.apply(domain.KindOKR, "okrs", clauses, args)
	query, args := pagedQuery(`SELECT `+okrColumns+` FROM okrs`, "okrs", clauses, args, f.Page)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OKR
	for rows.Next() {
		k, err := scanOKR(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

const activityColumns = `activities.id,activities.okr_id,activities.name,COALESCE(activities.description,''),activities.owner_id,activities.start_date,activities.end_date,activities.created_at,activities.updated_at`

func scanActivity(row interface{ Scan(...any) error }) (domain.Activity, error) {
	var (
		a   domain.Activity
		end sql.NullString
	)
	err := row.Scan(&a.ID, &a.OKRID, &a.Name, &a.Description, &a.OwnerID, &a.StartDate, &end, &a.CreatedAt, &a.UpdatedAt)
	a.EndDate = stringPtr(end)
	return a, err
}

func (r Repo) InsertActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO activities(id,okr_id,name,description,owner_id,start_date,end_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OKRID, a.Name, nullable(a.Description), a.OwnerID, a.StartDate, nullableStringPtr(a.EndDate), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) UpdateActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE activities SET okr_id=?,name=?,description=?,owner_id=?,start_date=?,end_date=?,updated_at=? WHERE id=?`,
		a.OKRID, a.Name, nullable(a.Description), a.OwnerID, a.StartDate, nullableStringPtr(a.EndDate), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	return checkAffected(res, domain.KindActivity, a.ID)
}

func (r Repo) GetActivity(ctx context.Context, tx *sql.Tx, id string) (domain.Activity, error) {
	a, err := scanActivity(r.q(tx).QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return a, notFound(domain.KindActivity, id)
	}
	return a, err
}

func (r Repo) ListActivities(ctx context.Context, tx *sql.Tx, f ListFilter) ([]domain.Activity, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ParentID != "" {
		clauses = append(clauses, "activities.okr_id=?")
		args = append(args, f.ParentID)
	}
	clauses, args = f.Visibility.apply(domain.KindActivity, "activities", clauses, args)
	query, args := pagedQuery(`SELECT `+activityColumns+` FROM activities`, "activities", clauses, args, f.Page)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActivityTaskCount is the task tally of one activity.
type ActivityTaskCount struct {
	ActivityID string
	Total      int
	Completed  int
}

// ActivityTaskCounts tallies tasks per activity of an OKR in one statement
// so activity and OKR progress derive from the same snapshot.
func (r Repo) ActivityTaskCounts(ctx context.Context, tx *sql.Tx, okrID string) ([]ActivityTaskCount, error) {
	return r.activityTaskCounts(ctx, tx, `a.okr_id=?`, okrID)
}

// TaskCountsForActivity tallies a single activity.
func (r Repo) TaskCountsForActivity(ctx context.Context, tx *sql.Tx, activityID string) (ActivityTaskCount, error) {
	counts, err := r.activityTaskCounts(ctx, tx, `a.id=?`, activityID)
	if err != nil {
		return ActivityTaskCount{}, err
	}
	if len(counts) == 0 {
		return ActivityTaskCount{}, notFound(domain.KindActivity, activityID)
	}
	return counts[0], nil
}

func (r Repo) activityTaskCounts(ctx context.Context, tx *sql.Tx, where string, arg string) ([]ActivityTaskCount, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT a.id, COUNT(t.id), COALESCE(SUM(CASE WHEN t.status='completed' THEN 1 ELSE 0 END),0)
FROM activities a LEFT JOIN tasks t ON t.activity_id=a.id
WHERE `+where+`
GROUP BY a.id ORDER BY a.created_at, a.id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ActivityTaskCount
	for rows.Next() {
		var c ActivityTaskCount
		if err := rows.Scan(&c.ActivityID, &c.Total, &c.Completed); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
