package domain

import (
	"encoding/json"
	"strings"
)

// Global user roles.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// Project membership roles.
const (
	MemberOwner   = "owner"
	MemberManager = "manager"
	MemberMember  = "member"
)

// Project types. Mission projects hold epics, plain projects hold objectives directly.
const (
	ProjectTypeMission  = "mission"
	ProjectTypeStandard = "project"
)

// Task statuses.
const (
	TaskBacklog    = "backlog"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
)

// Entity kinds used by audit logs, access checks and cascade plans.
const (
	KindUser       = "user"
	KindProject    = "project"
	KindMembership = "membership"
	KindEpic       = "epic"
	KindObjective  = "objective"
	KindOKR        = "okr"
	KindActivity   = "activity"
	KindTask       = "task"
	KindComment    = "comment"
	KindLog        = "log"
)

const DefaultProjectColor = "#FF5733"

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Position  string `json:"position,omitempty"`
	Role      string `json:"role" enum:"admin,manager,employee"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	StartDate   string  `json:"start_date" format:"date"`
	EndDate     *string `json:"end_date,omitempty" format:"date"`
	Color       string  `json:"color"`
	Type        string  `json:"type" enum:"mission,project"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Membership struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role" enum:"owner,manager,member"`
	JoinedAt  string `json:"joined_at" format:"date-time"`
}

type Epic struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// ObjectiveParent is either an epic or a project, never both.
// The zero value is invalid.
type ObjectiveParent struct {
	kind string
	id   string
}

// ViaEpic places an objective under an epic.
func ViaEpic(epicID string) ObjectiveParent {
	return ObjectiveParent{kind: KindEpic, id: epicID}
}

// ViaProject places an objective directly under a project.
func ViaProject(projectID string) ObjectiveParent {
	return ObjectiveParent{kind: KindProject, id: projectID}
}

// NewObjectiveParent builds a parent from the two optional ids a client may send.
func NewObjectiveParent(epicID, projectID string) (ObjectiveParent, error) {
	epicID = strings.TrimSpace(epicID)
	projectID = strings.TrimSpace(projectID)
	switch {
	case epicID != "" && projectID != "":
		return ObjectiveParent{}, ValidationError{Field: "parent", Reason: "objective cannot belong to both an epic and a project"}
	case epicID != "":
		return ViaEpic(epicID), nil
	case projectID != "":
		return ViaProject(projectID), nil
	default:
		return ObjectiveParent{}, ValidationError{Field: "parent", Reason: "objective requires an epic or a project"}
	}
}

func (p ObjectiveParent) IsZero() bool { return p.id == "" }

func (p ObjectiveParent) EpicID() (string, bool) {
	return p.id, p.kind == KindEpic && p.id != ""
}

func (p ObjectiveParent) ProjectID() (string, bool) {
	return p.id, p.kind == KindProject && p.id != ""
}

// Ref returns the parent as an entity reference.
func (p ObjectiveParent) Ref() EntityRef {
	return EntityRef{Kind: p.kind, ID: p.id}
}

func (p ObjectiveParent) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(map[string]string{"kind": p.kind, "id": p.id})
}

func (p *ObjectiveParent) UnmarshalJSON(data []byte) error {
	var raw *struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*p = ObjectiveParent{}
		return nil
	}
	switch raw.Kind {
	case KindEpic:
		*p = ViaEpic(raw.ID)
	case KindProject:
		*p = ViaProject(raw.ID)
	default:
		return ValidationError{Field: "parent", Reason: "unknown parent kind " + raw.Kind}
	}
	return nil
}

type Objective struct {
	ID          string          `json:"id"`
	Parent      ObjectiveParent `json:"parent"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	OwnerID     string          `json:"owner_id"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	UpdatedAt   string          `json:"updated_at" format:"date-time"`
}

type OKR struct {
	ID           string `json:"id"`
	ObjectiveID  string `json:"objective_id"`
	KeyResult    string `json:"key_result"`
	CurrentValue int    `json:"current_value"`
	TargetValue  int    `json:"target_value"`
	Progress     int    `json:"progress" minimum:"0" maximum:"100"`
	OwnerID      string `json:"owner_id"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type OKRProgress struct {
	OKRID        string `json:"okr_id"`
	Progress     int    `json:"progress"`
	CurrentValue int    `json:"current_value"`
}

type Activity struct {
	ID          string  `json:"id"`
	OKRID       string  `json:"okr_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	OwnerID     string  `json:"owner_id"`
	StartDate   string  `json:"start_date" format:"date"`
	EndDate     *string `json:"end_date,omitempty" format:"date"`
	Progress    int     `json:"progress"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID                   string  `json:"id"`
	ActivityID           string  `json:"activity_id"`
	Title                string  `json:"title"`
	Description          string  `json:"description,omitempty"`
	AssigneeID           *string `json:"assignee_id,omitempty"`
	ParentTaskID         *string `json:"parent_task_id,omitempty"`
	Status               string  `json:"status" enum:"backlog,in_progress,completed"`
	CompletionPercentage int     `json:"completion_percentage"`
	Archived             bool    `json:"archived"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

// AssignedTo reports whether userID is the task's assignee.
func (t Task) AssignedTo(userID string) bool {
	return t.AssigneeID != nil && userID != "" && *t.AssigneeID == userID
}

type Log struct {
	ID         int64  `json:"id"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	UserID     string `json:"user_id"`
	Text       string `json:"log_text"`
	Type       string `json:"log_type"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// EntityRef points at a single row of any kind.
type EntityRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func Ref(kind, id string) EntityRef { return EntityRef{Kind: kind, ID: id} }

// NormalizeTaskStatus maps accepted spellings onto the stored status.
func NormalizeTaskStatus(status string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case "":
		return TaskBacklog, nil
	case TaskBacklog, TaskInProgress, TaskCompleted:
		return s, nil
	case "in progress", "in-progress":
		return TaskInProgress, nil
	}
	return "", ValidationError{Field: "status", Reason: "must be one of backlog, in_progress, completed"}
}

func ValidUserRole(role string) bool {
	return role == RoleAdmin || role == RoleManager || role == RoleEmployee
}

func ValidMemberRole(role string) bool {
	return role == MemberOwner || role == MemberManager || role == MemberMember
}

func ValidProjectType(t string) bool {
	return t == ProjectTypeMission || t == ProjectTypeStandard
}
