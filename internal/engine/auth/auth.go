package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"okrline/internal/domain"
	"okrline/internal/engine/membership"
	"okrline/internal/repo"
)

type Action string

const (
	ActionList   Action = "list"
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionAssign Action = "assign"
)

// ForbiddenError indicates a denied action.
type ForbiddenError struct {
	Action Action
	Kind   string
	Reason string
}

func (e ForbiddenError) Error() string {
	msg := fmt.Sprintf("permission denied: %s %s", e.Action, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e ForbiddenError) Is(target error) bool { return target == domain.ErrPermissionDenied }

// Target is the entity acted on. For create and list, ID is empty and
// Parent carries the reference supplied in the payload.
type Target struct {
	Kind   string
	ID     string
	Parent domain.EntityRef
}

func On(kind, id string) Target { return Target{Kind: kind, ID: id} }

func Under(kind string, parent domain.EntityRef) Target { return Target{Kind: kind, Parent: parent} }

type roles map[string]bool

var (
	anyRole    = roles{domain.MemberOwner: true, domain.MemberManager: true, domain.MemberMember: true}
	structural = roles{domain.MemberOwner: true, domain.MemberManager: true}
)

// rules holds the employee permissions by membership role.
var rules = map[string]map[Action]roles{
	domain.KindProject: {
		ActionList: anyRole, ActionRead: anyRole,
		ActionUpdate: structural, ActionDelete: structural,
	},
	domain.KindMembership: {
		ActionList: anyRole, ActionRead: anyRole,
		ActionCreate: structural, ActionUpdate: structural, ActionDelete: structural,
	},
	domain.KindEpic: {
		ActionList: anyRole, ActionRead: anyRole,
		ActionCreate: structural, ActionUpdate: structural, ActionDelete: structural,
	},
	domain.KindObjective: {
		ActionList: anyRole, ActionRead: anyRole,
		ActionCreate: structural, ActionUpdate: structural, ActionDelete: structural,
	},
	domain.KindOKR: {
		ActionList: anyRole, ActionRead: anyRole,
		ActionCreate: structural, ActionUpdate: anyRole, ActionDelete: structural,
	},
	domain.KindActivity: {
		ActionList: anyRole, ActionRead: anyRole,
		ActionCreate: structural, ActionUpdate: anyRole, ActionDelete: structural,
	},
	domain.KindTask: {
		ActionList: anyRole, ActionRead: anyRole,
		ActionCreate: anyRole, ActionUpdate: anyRole, ActionDelete: anyRole,
		ActionAssign: structural,
	},
	domain.KindComment: {
		ActionList: anyRole, ActionRead: anyRole,
		ActionCreate: anyRole, ActionUpdate: structural, ActionDelete: structural,
	},
	domain.KindLog: {
		ActionList: anyRole, ActionRead: anyRole, ActionCreate: anyRole,
	},
}

// Allowed reports whether a membership role grants action on kind.
func Allowed(kind string, action Action, memberRole string) bool {
	return rules[kind][action][memberRole]
}

const maxDepth = 8

// Resolver decides access from the global role, the membership rows and
// task assignment. It holds no state between calls.
type Resolver struct {
	Repo    repo.Repo
	Members membership.Registry
}

// Principal loads the caller's profile. A missing profile is a denial.
func (r Resolver) Principal(ctx context.Context, tx *sql.Tx, userID string) (domain.User, error) {
	if userID == "" {
		return domain.User{}, ForbiddenError{Reason: "unauthenticated"}
	}
	u, err := r.Repo.GetUser(ctx, tx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, ForbiddenError{Reason: "no user profile"}
	}
	return u, err
}

// ProjectOf walks ref up its ancestor chain to the owning project.
func (r Resolver) ProjectOf(ctx context.Context, tx *sql.Tx, ref domain.EntityRef) (string, error) {
	for i := 0; i < maxDepth; i++ {
		if ref.Kind == domain.KindProject {
			if _, err := r.Repo.ParentOf(ctx, tx, ref); err != nil {
				return "", err
			}
			return ref.ID, nil
		}
		parent, err := r.Repo.ParentOf(ctx, tx, ref)
		if err != nil {
			return "", err
		}
		ref = parent
	}
	return "", domain.InconsistentStateError{Level: ref.Kind, ID: ref.ID, Err: errors.New("ancestor chain too deep")}
}

// Authorize returns nil when user may perform action on target and a
// ForbiddenError otherwise. Missing targets surface as NotFound.
func (r Resolver) Authorize(ctx context.Context, tx *sql.Tx, user domain.User, action Action, target Target) error {
	if user.ID == "" || !domain.ValidUserRole(user.Role) {
		return ForbiddenError{Action: action, Kind: target.Kind, Reason: "no user profile"}
	}
	if user.Role == domain.RoleAdmin || user.Role == domain.RoleManager {
		return nil
	}
	if target.Kind == domain.KindProject && action == ActionCreate {
		return nil
	}

	ok, err := r.override(ctx, tx, user, action, target)
	if err != nil || ok {
		return err
	}

	anchor := target.Parent
	if target.ID != "" {
		anchor = domain.Ref(target.Kind, target.ID)
	}
	if anchor.ID == "" {
		return ForbiddenError{Action: action, Kind: target.Kind, Reason: "no project scope"}
	}
	projectID, err := r.ProjectOf(ctx, tx, anchor)
	if err != nil {
		return err
	}
	role, member, err := r.Members.Role(ctx, tx, projectID, user.ID)
	if err != nil {
		return err
	}
	if !member {
		return ForbiddenError{Action: action, Kind: target.Kind, Reason: "not a project member"}
	}
	if !Allowed(target.Kind, action, role) {
		return ForbiddenError{Action: action, Kind: target.Kind, Reason: "requires project " + roleHint(target.Kind, action)}
	}
	return nil
}

// override applies the grants that do not depend on membership.
func (r Resolver) override(ctx context.Context, tx *sql.Tx, user domain.User, action Action, target Target) (bool, error) {
	switch target.Kind {
	case domain.KindTask:
		if target.ID == "" || (action != ActionRead && action != ActionUpdate) {
			return false, nil
		}
		t, err := r.Repo.GetTask(ctx, tx, target.ID)
		if err != nil {
			return false, err
		}
		return t.AssignedTo(user.ID), nil
	case domain.KindComment:
		if target.ID == "" {
			if target.Parent.Kind != domain.KindTask || (action != ActionCreate && action != ActionList) {
				return false, nil
			}
			t, err := r.Repo.GetTask(ctx, tx, target.Parent.ID)
			if err != nil {
				return false, err
			}
			return t.AssignedTo(user.ID), nil
		}
		c, err := r.Repo.GetComment(ctx, tx, target.ID)
		if err != nil {
			return false, err
		}
		switch action {
		case ActionUpdate, ActionDelete:
			return c.UserID == user.ID, nil
		case ActionRead:
			if c.UserID == user.ID {
				return true, nil
			}
			t, err := r.Repo.GetTask(ctx, tx, c.TaskID)
			if err != nil {
				return false, err
			}
			return t.AssignedTo(user.ID), nil
		}
	}
	return false, nil
}

func roleHint(kind string, action Action) string {
	if rules[kind][action][domain.MemberManager] {
		return "owner or manager role"
	}
	return "permission"
}

// Visibility is the list predicate for kind.
func (r Resolver) Visibility(user domain.User, kind string) repo.Visibility {
	switch {
	case user.ID == "" || !domain.ValidUserRole(user.Role):
		return repo.Visibility{}
	case user.Role == domain.RoleAdmin || user.Role == domain.RoleManager:
		return repo.Visibility{All: true}
	}
	return repo.Visibility{
		UserID:          user.ID,
		IncludeAssigned: kind == domain.KindTask || kind == domain.KindComment,
	}
}
