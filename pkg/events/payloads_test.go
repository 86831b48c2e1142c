package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskQueuedPayload(t *testing.T) {
	payload := TaskQueuedPayload{
		Type:      EventTypeTaskQueued,
		TaskID:    "task-123",
		ActionID:  "restart_service",
		Service:   "stash",
		GroupID:   "grp-1",
		Status:    "queued",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}

	assert.Equal(t, EventTypeTaskQueued, payload.Type)
	assert.Equal(t, "task-123", payload.TaskID)
	assert.Equal(t, "restart_service", payload.ActionID)
	assert.Equal(t, "stash", payload.Service)
	assert.Equal(t, "grp-1", payload.GroupID)
	assert.Equal(t, "queued", payload.Status)
	assert.NotEmpty(t, payload.Timestamp)
}

func TestTaskQueuedPayload_GroupIDOptional(t *testing.T) {
	payload := TaskQueuedPayload{
		Type:      EventTypeTaskQueued,
		TaskID:    "task-456",
		ActionID:  "scan_library",
		Service:   "stash",
		Status:    "queued",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
	assert.Empty(t, payload.GroupID)
}

func TestTaskStartedPayload(t *testing.T) {
	payload := TaskStartedPayload{
		Type:      EventTypeTaskStarted,
		TaskID:    "task-123",
		Status:    "running",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}

	assert.Equal(t, EventTypeTaskStarted, payload.Type)
	assert.Equal(t, "task-123", payload.TaskID)
	assert.Equal(t, "running", payload.Status)
}

func TestTaskProgressPayload(t *testing.T) {
	t.Run("carries arbitrary handler-reported detail", func(t *testing.T) {
		payload := TaskProgressPayload{
			Type:      EventTypeTaskProgress,
			TaskID:    "task-123",
			Detail:    map[string]any{"processed": 42, "total": 100},
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}

		assert.Equal(t, EventTypeTaskProgress, payload.Type)
		assert.Equal(t, 42, payload.Detail["processed"])
		assert.Equal(t, 100, payload.Detail["total"])
	})

	t.Run("detail is optional", func(t *testing.T) {
		payload := TaskProgressPayload{
			Type:      EventTypeTaskProgress,
			TaskID:    "task-456",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}
		assert.Nil(t, payload.Detail)
	})
}

func TestTaskCompletedPayload(t *testing.T) {
	t.Run("carries result", func(t *testing.T) {
		payload := TaskCompletedPayload{
			Type:      EventTypeTaskCompleted,
			TaskID:    "task-123",
			Status:    "completed",
			Result:    map[string]any{"scanned": 12},
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}

		assert.Equal(t, EventTypeTaskCompleted, payload.Type)
		assert.Equal(t, "completed", payload.Status)
		assert.Equal(t, 12, payload.Result["scanned"])
	})

	t.Run("result is optional", func(t *testing.T) {
		payload := TaskCompletedPayload{
			Type:      EventTypeTaskCompleted,
			TaskID:    "task-456",
			Status:    "completed",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}
		assert.Nil(t, payload.Result)
	})
}

func TestTaskFailedPayload(t *testing.T) {
	payload := TaskFailedPayload{
		Type:      EventTypeTaskFailed,
		TaskID:    "task-123",
		Status:    "failed",
		Error:     "ConnectionError: stash unreachable",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}

	assert.Equal(t, EventTypeTaskFailed, payload.Type)
	assert.Equal(t, "failed", payload.Status)
	assert.Contains(t, payload.Error, "unreachable")
}

func TestTaskCancelledPayload(t *testing.T) {
	t.Run("cancelled after started", func(t *testing.T) {
		payload := TaskCancelledPayload{
			Type:      EventTypeTaskCancelled,
			TaskID:    "task-123",
			Status:    "cancelled",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}
		assert.Equal(t, EventTypeTaskCancelled, payload.Type)
		assert.Equal(t, "cancelled", payload.Status)
	})

	t.Run("cancelled while still queued has no prior started event", func(t *testing.T) {
		// This payload type makes no distinction: the sequence guarantee
		// (no started event was ever published) lives in the caller, not
		// in the payload shape itself.
		payload := TaskCancelledPayload{
			Type:      EventTypeTaskCancelled,
			TaskID:    "task-789",
			Status:    "cancelled",
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}
		assert.Equal(t, "task-789", payload.TaskID)
	})
}

func TestInteractionBatchIngestedPayload(t *testing.T) {
	payload := InteractionBatchIngestedPayload{
		Type:       EventTypeInteractionBatchIngested,
		SessionID:  "sess-1",
		Accepted:   9,
		Duplicates: 1,
		ErrorCount: 0,
		Timestamp:  time.Now().Format(time.RFC3339Nano),
	}

	assert.Equal(t, EventTypeInteractionBatchIngested, payload.Type)
	assert.Equal(t, "sess-1", payload.SessionID)
	assert.Equal(t, 9, payload.Accepted)
	assert.Equal(t, 1, payload.Duplicates)
	assert.Equal(t, 0, payload.ErrorCount)
}

func TestPayloadTypes(t *testing.T) {
	t.Run("all payload types have correct type field", func(t *testing.T) {
		queued := TaskQueuedPayload{Type: EventTypeTaskQueued, TaskID: "t1"}
		assert.Equal(t, EventTypeTaskQueued, queued.Type)

		started := TaskStartedPayload{Type: EventTypeTaskStarted, TaskID: "t1"}
		assert.Equal(t, EventTypeTaskStarted, started.Type)

		progress := TaskProgressPayload{Type: EventTypeTaskProgress, TaskID: "t1"}
		assert.Equal(t, EventTypeTaskProgress, progress.Type)

		completed := TaskCompletedPayload{Type: EventTypeTaskCompleted, TaskID: "t1"}
		assert.Equal(t, EventTypeTaskCompleted, completed.Type)

		failed := TaskFailedPayload{Type: EventTypeTaskFailed, TaskID: "t1"}
		assert.Equal(t, EventTypeTaskFailed, failed.Type)

		cancelled := TaskCancelledPayload{Type: EventTypeTaskCancelled, TaskID: "t1"}
		assert.Equal(t, EventTypeTaskCancelled, cancelled.Type)
	})
}
