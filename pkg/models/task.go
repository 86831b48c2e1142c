package models

import (
	"encoding/json"
	"time"
)

// TaskPriority ranks task dispatch order. Lower integer value means higher priority.
type TaskPriority int

const (
	TaskPriorityHigh   TaskPriority = 0
	TaskPriorityNormal TaskPriority = 1
	TaskPriorityLow    TaskPriority = 2
)

// TaskStatus enumerates a TaskRecord's lifecycle state.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusStreaming TaskStatus = "streaming"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether status is one of the three terminal states.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskRecord is a single unit of scheduled work tracked by the Task Manager.
type TaskRecord struct {
	ID              string          `json:"id"`
	ActionID        string          `json:"action_id"`
	Service         string          `json:"service"`
	Priority        TaskPriority    `json:"priority"`
	Status          TaskStatus      `json:"status"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	Context         json.RawMessage `json:"context,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	GroupID         string          `json:"group_id,omitempty"`
	SkipConcurrency bool            `json:"skip_concurrency"`
	CancelRequested bool            `json:"cancel_requested"`
	CtxKey          string          `json:"-"`
	ParamsKey       string          `json:"-"`
	IsController    bool            `json:"is_controller"`
}

// TaskHistory is the terminal-state projection of a top-level (non-child) task.
type TaskHistory struct {
	ID          string          `json:"id"`
	ActionID    string          `json:"action_id"`
	Service     string          `json:"service"`
	Status      TaskStatus      `json:"status"`
	SubmittedAt time.Time       `json:"submitted_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  time.Time       `json:"finished_at"`
	DurationMs  int64           `json:"duration_ms"`
	ChildCount  int             `json:"child_count"`
	ItemID      string          `json:"item_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ContextInput is the UI context passed by a caller resolving available actions.
type ContextInput struct {
	Page         string   `json:"page"`
	EntityID     string   `json:"entityId,omitempty"`
	IsDetailView bool     `json:"isDetailView"`
	SelectedIDs  []string `json:"selectedIds,omitempty"`
	VisibleIDs   []string `json:"visibleIds,omitempty"`
}
