package engine

import (
	"context"
	"database/sql"

	"okrline/internal/domain"
	"okrline/internal/engine/auth"
	"okrline/internal/events"
)

func memberTarget(projectID string) auth.Target {
	return auth.Under(domain.KindMembership, domain.Ref(domain.KindProject, projectID))
}

// AddMember adds userID to the project. Role defaults to member.
func (e Engine) AddMember(ctx context.Context, actorID, projectID, userID, role string) (domain.Membership, error) {
	var m domain.Membership
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionCreate, memberTarget(projectID)); err != nil {
			return err
		}
		var err error
		if m, err = e.Members.Add(ctx, tx, projectID, userID, role); err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindMembership, events.Added, projectID, userID, actorID, "member "+userID+" added as "+m.Role)
	})
	return m, err
}

func (e Engine) RemoveMember(ctx context.Context, actorID, projectID, userID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionDelete, memberTarget(projectID)); err != nil {
			return err
		}
		if err := e.Members.Remove(ctx, tx, projectID, userID); err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindMembership, events.Removed, projectID, userID, actorID, "member "+userID+" removed")
	})
}

func (e Engine) SetMemberRole(ctx context.Context, actorID, projectID, userID, role string) (domain.Membership, error) {
	var m domain.Membership
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionUpdate, memberTarget(projectID)); err != nil {
			return err
		}
		var err error
		if m, err = e.Members.SetRole(ctx, tx, projectID, userID, role); err != nil {
			return err
		}
		return e.appendLog(ctx, tx, domain.KindMembership, events.Updated, projectID, userID, actorID, "member "+userID+" is now "+m.Role)
	})
	return m, err
}

func (e Engine) ListMembers(ctx context.Context, actorID, projectID string) ([]domain.Membership, error) {
	var res []domain.Membership
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.authorize(ctx, tx, actorID, auth.ActionList, memberTarget(projectID)); err != nil {
			return err
		}
		var err error
		res, err = e.Members.List(ctx, tx, projectID)
		return err
	})
	return res, err
}
