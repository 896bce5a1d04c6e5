package models

import "time"

// User is the account record behind an authenticated actor.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string `json:"id"`
	Tier Tier   `json:"tier"`
}

// Project is a user's app under construction.
type Project struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      ProjectStatus `json:"status"`
	Tier        Tier          `json:"tier"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SpecDocument is the live content of one document type within a project.
type SpecDocument struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	DocType      DocType   `json:"doc_type"`
	Content      string    `json:"content"`
	Version      int       `json:"version"`
	LastEditedBy string    `json:"last_edited_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SpecVersion is an immutable snapshot of a document's earlier state.
type SpecVersion struct {
	ID             string    `json:"id"`
	SpecDocumentID string    `json:"spec_document_id"`
	Version        int       `json:"version"`
	Content        string    `json:"content"`
	ChangeSummary  string    `json:"change_summary"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// TaskContext is the input snapshot captured when a task is created.
type TaskContext struct {
	ProjectName    string             `json:"project_name"`
	Tier           Tier               `json:"tier"`
	Specs          map[DocType]string `json:"specs,omitempty"`
	Feedback       string             `json:"feedback,omitempty"`
	OriginChangeID string             `json:"origin_change_id,omitempty"`
	OriginFilePath string             `json:"origin_file_path,omitempty"`
}

// TaskOutput summarises a completed task.
type TaskOutput struct {
	Summary   string   `json:"summary"`
	Paths     []string `json:"paths"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// Task is one request for AI work on a project.
type Task struct {
	ID             string      `json:"id"`
	ProjectID      string      `json:"project_id"`
	Capability     Capability  `json:"capability"`
	Description    string      `json:"description"`
	Status         TaskStatus  `json:"status"`
	Context        TaskContext `json:"context"`
	Output         *TaskOutput `json:"output,omitempty"`
	Error          string      `json:"error,omitempty"`
	OriginChangeID string      `json:"origin_change_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// CodeChange is one proposed file change awaiting a review decision.
// Approved is nil while pending.
type CodeChange struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	FilePath   string     `json:"file_path"`
	Kind       ChangeKind `json:"change_type"`
	Diff       string     `json:"diff"`
	Capability Capability `json:"capability"`
	Reasoning  string     `json:"reasoning"`
	Approved   *bool      `json:"approved"`
	CreatedAt  time.Time  `json:"created_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	DecidedBy  string     `json:"decided_by,omitempty"`
}

// Pending reports whether no decision has been recorded.
func (c *CodeChange) Pending() bool { return c.Approved == nil }

// EventType identifies the kind of domain event.
type EventType string

const (
	EventChangeApproved EventType = "change.approved"
)

// ChangeApproved is emitted once a code change has been approved.
// Applying the change is up to whoever consumes the event.
type ChangeApproved struct {
	Type       EventType  `json:"type"`
	ChangeID   string     `json:"change_id"`
	TaskID     string     `json:"task_id"`
	ProjectID  string     `json:"project_id"`
	FilePath   string     `json:"file_path"`
	Kind       ChangeKind `json:"change_type"`
	Capability Capability `json:"capability"`
	Diff       string     `json:"diff"`
	ApprovedBy string     `json:"approved_by"`
	ApprovedAt time.Time  `json:"approved_at"`
}
