// Package membership keeps the project to user relation and the
// per-project role of each member. Reads always hit the database.
package membership

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"okrline/internal/domain"
	"okrline/internal/repo"
)

type Registry struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (r Registry) now() string {
	if r.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return r.Now().UTC().Format(time.RFC3339)
}

func validRole(role string) (string, error) {
	if role == "" {
		return domain.MemberMember, nil
	}
	if !domain.ValidMemberRole(role) {
		return "", domain.ValidationError{Field: "role", Reason: "must be one of owner, manager, member"}
	}
	return role, nil
}

func (r Registry) ensureProjectAndUser(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	if _, err := r.Repo.GetProject(ctx, tx, projectID); err != nil {
		return err
	}
	if _, err := r.Repo.GetUser(ctx, tx, userID); err != nil {
		return err
	}
	return nil
}

// Add creates a membership; role defaults to member.
func (r Registry) Add(ctx context.Context, tx *sql.Tx, projectID, userID, role string) (domain.Membership, error) {
	role, err := validRole(role)
	if err != nil {
		return domain.Membership{}, err
	}
	if err := r.ensureProjectAndUser(ctx, tx, projectID, userID); err != nil {
		return domain.Membership{}, err
	}
	m := domain.Membership{ProjectID: projectID, UserID: userID, Role: role, JoinedAt: r.now()}
	if err := r.Repo.InsertMembership(ctx, tx, m); err != nil {
		return domain.Membership{}, err
	}
	return m, nil
}

// Remove deletes a membership. Removing the last owner leaves the project
// without one.
func (r Registry) Remove(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	if _, err := r.Repo.GetProject(ctx, tx, projectID); err != nil {
		return err
	}
	return r.Repo.DeleteMembership(ctx, tx, projectID, userID)
}

func (r Registry) SetRole(ctx context.Context, tx *sql.Tx, projectID, userID, role string) (domain.Membership, error) {
	if role == "" {
		return domain.Membership{}, domain.ValidationError{Field: "role", Reason: "required"}
	}
	role, err := validRole(role)
	if err != nil {
		return domain.Membership{}, err
	}
	if _, err := r.Repo.GetProject(ctx, tx, projectID); err != nil {
		return domain.Membership{}, err
	}
	if err := r.Repo.UpdateMembershipRole(ctx, tx, projectID, userID, role); err != nil {
		return domain.Membership{}, err
	}
	return r.Repo.GetMembership(ctx, tx, projectID, userID)
}

// Role returns the member's role, ok is false when there is no membership.
func (r Registry) Role(ctx context.Context, tx *sql.Tx, projectID, userID string) (string, bool, error) {
	m, err := r.Repo.GetMembership(ctx, tx, projectID, userID)
	if errors.Is(err, domain.ErrNotAMember) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return m.Role, true, nil
}

func (r Registry) IsMember(ctx context.Context, tx *sql.Tx, projectID, userID string) (bool, error) {
	_, ok, err := r.Role(ctx, tx, projectID, userID)
	return ok, err
}

func (r Registry) List(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Membership, error) {
	if _, err := r.Repo.GetProject(ctx, tx, projectID); err != nil {
		return nil, err
	}
	return r.Repo.ListMemberships(ctx, tx, projectID)
}
