package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTaskChannelPayloads_ContainTaskID is a contract test between the Go
// backend and any WebSocket client.
//
// Clients route incoming WS events by inspecting `task_id` in the JSON
// payload. ANY payload published on a task-specific channel (task:{id})
// MUST include a non-empty `task_id` field — otherwise a client listening
// on a specific task can't tell which task the event belongs to.
//
// This test guards against a new task payload struct that forgets to
// carry TaskID, or a call site that forgets to populate it.
func TestTaskChannelPayloads_ContainTaskID(t *testing.T) {
	const testTaskID = "task-contract-test"

	tests := []struct {
		name    string
		payload any
	}{
		{
			name: "TaskQueuedPayload",
			payload: TaskQueuedPayload{
				Type:      EventTypeTaskQueued,
				TaskID:    testTaskID,
				ActionID:  "restart_service",
				Service:   "stash",
				Status:    "queued",
				Timestamp: "2026-01-01T00:00:00Z",
			},
		},
		{
			name: "TaskStartedPayload",
			payload: TaskStartedPayload{
				Type:      EventTypeTaskStarted,
				TaskID:    testTaskID,
				Status:    "running",
				Timestamp: "2026-01-01T00:00:00Z",
			},
		},
		{
			name: "TaskProgressPayload",
			payload: TaskProgressPayload{
				Type:      EventTypeTaskProgress,
				TaskID:    testTaskID,
				Detail:    map[string]any{"processed": 1},
				Timestamp: "2026-01-01T00:00:00Z",
			},
		},
		{
			name: "TaskCompletedPayload",
			payload: TaskCompletedPayload{
				Type:      EventTypeTaskCompleted,
				TaskID:    testTaskID,
				Status:    "completed",
				Timestamp: "2026-01-01T00:00:00Z",
			},
		},
		{
			name: "TaskFailedPayload",
			payload: TaskFailedPayload{
				Type:      EventTypeTaskFailed,
				TaskID:    testTaskID,
				Status:    "failed",
				Error:     "boom",
				Timestamp: "2026-01-01T00:00:00Z",
			},
		},
		{
			name: "TaskCancelledPayload",
			payload: TaskCancelledPayload{
				Type:      EventTypeTaskCancelled,
				TaskID:    testTaskID,
				Status:    "cancelled",
				Timestamp: "2026-01-01T00:00:00Z",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.payload)
			require.NoError(t, err, "failed to marshal %s", tt.name)

			var parsed map[string]any
			require.NoError(t, json.Unmarshal(data, &parsed), "failed to unmarshal %s", tt.name)

			tid, ok := parsed["task_id"]
			assert.True(t, ok,
				"%s JSON is missing \"task_id\" field — task-channel routing will silently drop this event", tt.name)
			assert.Equal(t, testTaskID, tid,
				"%s task_id has wrong value", tt.name)
		})
	}
}

// TestInteractionBatchIngestedPayload_ContainsSessionID verifies the
// interaction.batch_ingested payload carries the session it derived stats
// for, since it isn't routed by task_id.
func TestInteractionBatchIngestedPayload_ContainsSessionID(t *testing.T) {
	payload := InteractionBatchIngestedPayload{
		Type:      EventTypeInteractionBatchIngested,
		SessionID: "sess-progress",
		Accepted:  3,
		Timestamp: "2026-01-01T00:00:00Z",
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))

	sid, ok := parsed["session_id"]
	assert.True(t, ok, "InteractionBatchIngestedPayload is missing session_id")
	assert.Equal(t, "sess-progress", sid)
}
