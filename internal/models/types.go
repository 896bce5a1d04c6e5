// Package models defines the records exchanged between specforge components.
package models

import (
	"fmt"
	"strings"
)

// Tier is a subscription level. It selects generation settings and project limits.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierPremium:
		return true
	}
	return false
}

// ProjectLimit returns the maximum number of projects for the tier.
// Zero means unlimited.
func (t Tier) ProjectLimit() int {
	if t == TierPro || t == TierPremium {
		return 0
	}
	return 1
}

// ParseTier normalises s into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectDraft    ProjectStatus = "draft"
	ProjectBuilding ProjectStatus = "building"
	ProjectReady    ProjectStatus = "ready"
	ProjectDeployed ProjectStatus = "deployed"
	ProjectError    ProjectStatus = "error"
)

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectDraft, ProjectBuilding, ProjectReady, ProjectDeployed, ProjectError:
		return true
	}
	return false
}

// DocType identifies a specification document within a project.
type DocType string

const (
	DocDesign       DocType = "design"
	DocRequirements DocType = "requirements"
	DocTasks        DocType = "tasks"

	DocDatabaseSchema DocType = "database_schema"
	DocAPIEndpoints   DocType = "api_endpoints"
	DocAuthSetup      DocType = "auth_setup"
	DocRealtimeSetup  DocType = "realtime_setup"
	DocEdgeFunctions  DocType = "edge_functions"
)

// CoreDocTypes are created for every project.
var CoreDocTypes = []DocType{DocDesign, DocRequirements, DocTasks}

// BackendDocTypes are created when a project opts into backend documents.
var BackendDocTypes = []DocType{
	DocDatabaseSchema, DocAPIEndpoints, DocAuthSetup, DocRealtimeSetup, DocEdgeFunctions,
}

// Valid reports whether d is a core or backend doc type.
func (d DocType) Valid() bool {
	for _, t := range CoreDocTypes {
		if d == t {
			return true
		}
	}
	for _, t := range BackendDocTypes {
		if d == t {
			return true
		}
	}
	return false
}

// Capability names the kind of code a task asks the generation backend for.
type Capability string

const (
	CapabilityDesign  Capability = "design"
	CapabilityBackend Capability = "backend"
	CapabilityTesting Capability = "testing"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityDesign, CapabilityBackend, CapabilityTesting:
		return true
	}
	return false
}

// DefaultOutputPath is where a generated file lands when the backend
// returns text without naming one.
func (c Capability) DefaultOutputPath() string {
	switch c {
	case CapabilityDesign:
		return "components/GeneratedComponent.js"
	case CapabilityBackend:
		return "api/generated_endpoints.py"
	case CapabilityTesting:
		return "__tests__/generated.test.js"
	}
	return "generated.txt"
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransition reports whether a task may move from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskInProgress || next == TaskFailed
	case TaskInProgress:
		return next == TaskCompleted || next == TaskFailed
	}
	return false
}

// ChangeKind describes what a code change does to its file.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeModify ChangeKind = "modify"
	ChangeDelete ChangeKind = "delete"
)

// Valid reports whether k is a known change kind.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeCreate, ChangeModify, ChangeDelete:
		return true
	}
	return false
}
