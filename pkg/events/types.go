// Package events delivers task and interaction lifecycle events to
// WebSocket clients, fed by PostgreSQL NOTIFY/LISTEN so publishing
// (EventPublisher, in its own short transaction) stays decoupled
// from delivery (ConnectionManager, driven by NotifyListener).
//
// ════════════════════════════════════════════════════════════════
// Task Lifecycle
// ════════════════════════════════════════════════════════════════
//
// Every task moves through a deterministic event sequence, regardless of
// which action handler runs it:
//
//	queued → started → (progress)* → {completed | failed | cancelled}
//
// A cancelled event may arrive without a preceding started event — this
// is the cancelled-while-queued case, where a task is pulled off the
// queue before a worker ever picked it up. Listeners for a given task_id
// always see exactly one terminal event, and never see a terminal event
// before started unless that terminal event is cancelled.
//
// progress events are optional and purely informational — handlers may
// emit zero, one, or many of them between started and the terminal
// event. They carry no status change of their own.
//
// ════════════════════════════════════════════════════════════════
package events

// Persistent event types (stored in DB + NOTIFY).
const (
	// Task lifecycle — see package doc for the full sequence.
	EventTypeTaskQueued    = "task.queued"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskCancelled = "task.cancelled"

	// Interaction ingest — emitted once per /interactions/sync batch.
	EventTypeInteractionBatchIngested = "interaction.batch_ingested"
)

// Transient event types (NOTIFY only, no DB persistence).
const (
	// Handler-reported progress — high frequency, ephemeral, no status change.
	EventTypeTaskProgress = "task.progress"
)

// GlobalTasksChannel is the channel for task-list-level lifecycle events.
// The task queue / history page subscribes to this for real-time updates.
const GlobalTasksChannel = "tasks"

// TaskChannel returns the channel name for a specific task's events.
// Format: "task:{task_id}"
func TaskChannel(taskID string) string {
	return "task:" + taskID
}

// taskChannelPrefix is the prefix every per-task channel name carries —
// used by isKnownChannel to recognize TaskChannel's output without
// round-tripping through a task ID.
const taskChannelPrefix = "task:"

// isKnownChannel reports whether channel is one this system actually
// publishes on: the global tasks/interactions channel, or a per-task
// channel. ConnectionManager.subscribe rejects anything else before ever
// issuing a LISTEN, since no publisher will ever NOTIFY on it.
func isKnownChannel(channel string) bool {
	if channel == GlobalTasksChannel {
		return true
	}
	return len(channel) > len(taskChannelPrefix) && channel[:len(taskChannelPrefix)] == taskChannelPrefix
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "task:abc-123")
	LastEventID *int   `json:"last_event_id,omitempty"` // For catchup
}
