package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"okrline/internal/config"
	"okrline/internal/domain"
	"okrline/internal/engine/auth"
	"okrline/internal/engine/membership"
	"okrline/internal/engine/progress"
	"okrline/internal/events"
	"okrline/internal/logging"
	"okrline/internal/metrics"
	"okrline/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Access   auth.Resolver
	Members  membership.Registry
	Progress progress.Aggregator
	Events   events.Writer
	Config   *config.Config
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
	// BeforeDelete runs inside the transaction for every row of a cascade
	// plan, leaves first. An error aborts the whole delete.
	BeforeDelete func(ctx context.Context, tx *sql.Tx, ref domain.EntityRef) error
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := repo.Repo{DB: db}
	e := Engine{
		DB:       db,
		Repo:     r,
		Progress: progress.Aggregator{Repo: r},
		Config:   cfg,
		Log:      log,
	}
	return e.WithClock(time.Now)
}

// WithClock returns a copy whose timestamps come from now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Members = membership.Registry{Repo: e.Repo, Now: now}
	e.Access = auth.Resolver{Repo: e.Repo, Members: e.Members}
	e.Events = events.Writer{Repo: e.Repo, Now: now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger(ctx context.Context) *zap.Logger {
	return logging.FromContext(ctx, e.Log)
}

// inTx runs fn in one transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// authorize loads the caller's profile and checks action on target.
func (e Engine) authorize(ctx context.Context, tx *sql.Tx, actorID string, action auth.Action, target auth.Target) (domain.User, error) {
	u, err := e.Access.Principal(ctx, tx, actorID)
	if err == nil {
		err = e.Access.Authorize(ctx, tx, u, action, target)
	}
	if err != nil {
		e.Metrics.RecordDenial(target.Kind, string(action), err)
		if errors.Is(err, domain.ErrPermissionDenied) {
			e.logger(ctx).Debug("access denied",
				zap.String("actor_id", actorID),
				zap.String("action", string(action)),
				zap.String("kind", target.Kind),
				zap.String("id", target.ID),
				zap.Error(err))
		}
		return domain.User{}, err
	}
	return u, nil
}

// ResolveAccess answers whether actorID may perform action on target.
func (e Engine) ResolveAccess(ctx context.Context, actorID string, action auth.Action, target auth.Target) error {
	_, err := e.authorize(ctx, nil, actorID, action, target)
	return err
}

// VisibleFilter returns the list predicate for actorID over kind.
func (e Engine) VisibleFilter(ctx context.Context, actorID, kind string) (repo.Visibility, error) {
	u, err := e.Access.Principal(ctx, nil, actorID)
	if err != nil {
		return repo.Visibility{}, err
	}
	return e.Access.Visibility(u, kind), nil
}

func (e Engine) appendLog(ctx context.Context, tx *sql.Tx, kind, verb, projectID, entityID, actorID, text string) error {
	_, err := e.Events.Append(ctx, tx, events.Type(kind, verb), projectID, domain.Ref(kind, entityID), actorID, text)
	return err
}

// PageLimit clamps a requested page size to the configured bounds.
func (e Engine) PageLimit(limit int) int {
	def, max := e.Config.Pagination.DefaultLimit, e.Config.Pagination.MaxLimit
	if def <= 0 {
		def = 50
	}
	if limit <= 0 {
		return def
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func (e Engine) page(p repo.Page) repo.Page {
	p.Limit = e.PageLimit(p.Limit)
	return p
}

func newID() string { return uuid.NewString() }

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return domain.ValidationError{Field: field, Reason: "required"}
	}
	return nil
}

const dateLayout = "2006-01-02"

func validDate(field, v string) error {
	if _, err := time.Parse(dateLayout, v); err != nil {
		return domain.ValidationError{Field: field, Reason: "must be a YYYY-MM-DD date"}
	}
	return nil
}

func validRange(start string, end *string) error {
	if err := validDate("start_date", start); err != nil {
		return err
	}
	if end == nil || *end == "" {
		return nil
	}
	if err := validDate("end_date", *end); err != nil {
		return err
	}
	if *end < start {
		return domain.ValidationError{Field: "end_date", Reason: "must not be before start_date"}
	}
	return nil
}

func emptyToNil(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}

// Users

type UserInput struct {
	ID        string
	Username  string
	Email     string
	FirstName string
	LastName  string
	Position  string
	Role      string
}

// RegisterUser stores a profile without an acting user. It backs local
// administration and bootstrap.
func (e Engine) RegisterUser(ctx context.Context, in UserInput) (domain.User, error) {
	var u domain.User
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		u, err = e.insertUser(ctx, tx, in)
		return err
	})
	return u, err
}

// CreateUser stores a profile on behalf of a global admin.
func (e Engine) CreateUser(ctx context.Context, actorID string, in UserInput) (domain.User, error) {
	var u domain.User
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.requireAdmin(ctx, tx, actorID, domain.KindUser); err != nil {
			return err
		}
		var err error
		u, err = e.insertUser(ctx, tx, in)
		return err
	})
	return u, err
}

func (e Engine) requireAdmin(ctx context.Context, tx *sql.Tx, actorID, kind string) error {
	actor, err := e.Access.Principal(ctx, tx, actorID)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleAdmin {
		err := auth.ForbiddenError{Action: auth.ActionCreate, Kind: kind, Reason: "requires admin role"}
		e.Metrics.RecordDenial(kind, string(auth.ActionCreate), err)
		return err
	}
	return nil
}

func (e Engine) insertUser(ctx context.Context, tx *sql.Tx, in UserInput) (domain.User, error) {
	if err := required("username", in.Username); err != nil {
		return domain.User{}, err
	}
	if in.Role == "" {
		in.Role = domain.RoleEmployee
	}
	if !domain.ValidUserRole(in.Role) {
		return domain.User{}, domain.ValidationError{Field: "role", Reason: "must be one of admin, manager, employee"}
	}
	if _, err := e.Repo.GetUserByUsername(ctx, tx, in.Username); err == nil {
		return domain.User{}, domain.ValidationError{Field: "username", Reason: "already taken"}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}
	if in.ID == "" {
		in.ID = newID()
	}
	u := domain.User{
		ID:        in.ID,
		Username:  strings.TrimSpace(in.Username),
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Position:  in.Position,
		Role:      in.Role,
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// SetUserRole changes a global role. Admin only.
func (e Engine) SetUserRole(ctx context.Context, actorID, userID, role string) (domain.User, error) {
	var u domain.User
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.requireAdmin(ctx, tx, actorID, domain.KindUser); err != nil {
			return err
		}
		if !domain.ValidUserRole(role) {
			return domain.ValidationError{Field: "role", Reason: "must be one of admin, manager, employee"}
		}
		if err := e.Repo.UpdateUserRole(ctx, tx, userID, role); err != nil {
			return err
		}
		var err error
		u, err = e.Repo.GetUser(ctx, tx, userID)
		return err
	})
	return u, err
}

// Me returns the caller's profile.
func (e Engine) Me(ctx context.Context, actorID string) (domain.User, error) {
	return e.Access.Principal(ctx, nil, actorID)
}

// GetUser returns a profile to any caller that has one.
func (e Engine) GetUser(ctx context.Context, actorID, userID string) (domain.User, error) {
	if _, err := e.Access.Principal(ctx, nil, actorID); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, nil, userID)
}

func (e Engine) ListUsers(ctx context.Context, actorID string) ([]domain.User, error) {
	if actorID != "" {
		if _, err := e.Access.Principal(ctx, nil, actorID); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListUsers(ctx, nil)
}

// Projects

type ProjectInput struct {
	Name        string
	Description string
	StartDate   string
	EndDate     *string
	Color       string
	Type        string
}

// CreateProject stores a project and makes the creator its owner.
func (e Engine) CreateProject(ctx context.Context, actorID string, in ProjectInput) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionCreate, auth.Target{Kind: domain.KindProject}); err != nil {
			return err
		}
		if err := required("name", in.Name); err != nil {
			return err
		}
		if in.StartDate == "" {
			in.StartDate = e.now().UTC().Format(dateLayout)
		}
		if err := validRange(in.StartDate, in.EndDate); err != nil {
			return err
		}
		if in.Type == "" {
			in.Type = domain.ProjectTypeStandard
		}
		if !domain.ValidProjectType(in.Type) {
			return domain.ValidationError{Field: "type", Reason: "must be mission or project"}
		}
		if in.Color == "" {
			in.Color = e.Config.Projects.DefaultColor
		}
		if in.Color == "" {
			in.Color = domain.DefaultProjectColor
		}
		now := e.stamp()
		p = domain.Project{
			ID:          newID(),
			Name:        strings.TrimSpace(in.Name),
			Description: in.Description,
			StartDate:   in.StartDate,
			EndDate:     emptyToNil(in.EndDate),
			Color:       in.Color,
			Type:        in.Type,
			CreatedBy:   actorID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		if _, err := e.Members.Add(ctx, tx, p.ID, actorID, domain.MemberOwner); err != nil {
			return fmt.Errorf("add owner: %w", err)
		}
		return e.appendLog(ctx, tx, domain.KindProject, events.Created, p.ID, p.ID, actorID, "project "+p.Name+" created")
	})
	return p, err
}

func (e Engine) GetProject(ctx context.Context, actorID, id string) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionRead, auth.On(domain.KindProject, id)); err != nil {
			return err
		}
		var err error
		p, err = e.Repo.GetProject(ctx, tx, id)
		return err
	})
	return p, err
}

func (e Engine) ListProjects(ctx context.Context, actorID string, page repo.Page) ([]domain.Project, error) {
	vis, err := e.VisibleFilter(ctx, actorID, domain.KindProject)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListProjects(ctx, nil, vis, e.page(page))
}

type ProjectPatch struct {
	Name        *string
	Description *string
	StartDate   *string
	EndDate     *string
	Color       *string
	Type        *string
}

func (e Engine) UpdateProject(ctx context.Context, actorID, id string, patch ProjectPatch) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionUpdate, auth.On(domain.KindProject, id)); err != nil {
			return err
		}
		var err error
		p, err = e.Repo.GetProject(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			if err := required("name", *patch.Name); err != nil {
				return err
			}
			p.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.StartDate != nil {
			p.StartDate = *patch.StartDate
		}
		if patch.EndDate != nil {
			p.EndDate = emptyToNil(patch.EndDate)
		}
		if err := validRange(p.StartDate, p.EndDate); err != nil {
			return err
		}
		if patch.Color != nil {
			p.Color = *patch.Color
		}
		if patch.Type != nil && *patch.Type != p.Type {
			if !domain.ValidProjectType(*patch.Type) {
				return domain.ValidationError{Field: "type", Reason: "must be mission or project"}
			}
			epics, objectives, err := e.Repo.CountProjectChildren(ctx, tx, id)
			if err != nil {
				return err
			}
			if epics+objectives > 0 {
				return domain.ValidationError{Field: "type", Reason: "cannot change while the project has epics or objectives"}
			}
			p.Type = *patch.Type
		}
		p.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindProject, events.Updated, p.ID, p.ID, actorID, "")
	})
	return p, err
}

// DeleteProject removes the project and every descendant row.
func (e Engine) DeleteProject(ctx context.Context, actorID, id string) (DeleteResult, error) {
	return e.deleteCascade(ctx, actorID, domain.Ref(domain.KindProject, id))
}
