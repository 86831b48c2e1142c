package events

// TaskQueuedPayload is the payload for task.queued events.
// Published when a task is first accepted by the manager, before dispatch.
type TaskQueuedPayload struct {
	Type      string `json:"type"`       // always EventTypeTaskQueued
	TaskID    string `json:"task_id"`    // task UUID
	ActionID  string `json:"action_id"`  // action this task will run
	Service   string `json:"service"`    // owning service name
	GroupID   string `json:"group_id,omitempty"`
	Status    string `json:"status"`     // always "queued"
	Timestamp string `json:"timestamp"`  // RFC3339Nano
}

// TaskStartedPayload is the payload for task.started events.
// Published when a worker dispatches the task to its handler.
type TaskStartedPayload struct {
	Type      string `json:"type"`    // always EventTypeTaskStarted
	TaskID    string `json:"task_id"` // task UUID
	Status    string `json:"status"`  // always "running"
	Timestamp string `json:"timestamp"`
}

// TaskProgressPayload is the payload for task.progress transient events.
// Handler-reported, high frequency, not persisted, carries no status change.
type TaskProgressPayload struct {
	Type      string         `json:"type"`    // always EventTypeTaskProgress
	TaskID    string         `json:"task_id"` // task UUID
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// TaskCompletedPayload is the payload for task.completed events.
type TaskCompletedPayload struct {
	Type      string         `json:"type"`    // always EventTypeTaskCompleted
	TaskID    string         `json:"task_id"` // task UUID
	Status    string         `json:"status"`  // always "completed"
	Result    map[string]any `json:"result,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// TaskFailedPayload is the payload for task.failed events.
type TaskFailedPayload struct {
	Type      string `json:"type"`    // always EventTypeTaskFailed
	TaskID    string `json:"task_id"` // task UUID
	Status    string `json:"status"`  // always "failed"
	Error     string `json:"error"`   // "<ExceptionType>: <message>"
	Timestamp string `json:"timestamp"`
}

// TaskCancelledPayload is the payload for task.cancelled events.
// May be published without a preceding task.started for tasks cancelled
// while still queued.
type TaskCancelledPayload struct {
	Type      string `json:"type"`    // always EventTypeTaskCancelled
	TaskID    string `json:"task_id"` // task UUID
	Status    string `json:"status"`  // always "cancelled"
	Timestamp string `json:"timestamp"`
}

// InteractionBatchIngestedPayload is the payload for
// interaction.batch_ingested events. Published once per /interactions/sync
// call so the UI can reflect freshly derived watch stats without polling.
type InteractionBatchIngestedPayload struct {
	Type       string `json:"type"`      // always EventTypeInteractionBatchIngested
	SessionID  string `json:"session_id"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
	ErrorCount int    `json:"error_count"`
	Timestamp  string `json:"timestamp"`
}
