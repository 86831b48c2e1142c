package task

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/stashsense/orchestrator/pkg/events"
	"github.com/stashsense/orchestrator/pkg/models"
)

// PublishEventsTo registers a Listener that translates the Manager's
// internal lifecycle notifications into typed events.Publisher calls, so
// the WebSocket stream reflects every task transition without the Manager
// itself knowing anything about events or persistence formats. Publish
// errors are logged and swallowed, matching the rest of the event pipeline's
// best-effort delivery.
func (m *Manager) PublishEventsTo(publisher *events.EventPublisher) {
	m.AddListener(func(event string, rec *models.TaskRecord, _ map[string]any) {
		ctx := context.Background()
		ts := time.Now().Format(time.RFC3339Nano)

		var err error
		switch event {
		case "queued":
			err = publisher.PublishTaskQueued(ctx, events.TaskQueuedPayload{
				Type:      events.EventTypeTaskQueued,
				TaskID:    rec.ID,
				ActionID:  rec.ActionID,
				Service:   rec.Service,
				GroupID:   rec.GroupID,
				Status:    "queued",
				Timestamp: ts,
			})
		case "started":
			err = publisher.PublishTaskStarted(ctx, events.TaskStartedPayload{
				Type:      events.EventTypeTaskStarted,
				TaskID:    rec.ID,
				Status:    "running",
				Timestamp: ts,
			})
		case "completed":
			err = publisher.PublishTaskCompleted(ctx, events.TaskCompletedPayload{
				Type:      events.EventTypeTaskCompleted,
				TaskID:    rec.ID,
				Status:    "completed",
				Result:    decodeResult(rec.Result),
				Timestamp: ts,
			})
		case "failed":
			err = publisher.PublishTaskFailed(ctx, events.TaskFailedPayload{
				Type:      events.EventTypeTaskFailed,
				TaskID:    rec.ID,
				Status:    "failed",
				Error:     rec.Error,
				Timestamp: ts,
			})
		case "cancelled":
			err = publisher.PublishTaskCancelled(ctx, events.TaskCancelledPayload{
				Type:      events.EventTypeTaskCancelled,
				TaskID:    rec.ID,
				Status:    "cancelled",
				Timestamp: ts,
			})
		}
		if err != nil {
			slog.Warn("failed to publish task event", "event", event, "task_id", rec.ID, "error", err)
		}
	})
}

// decodeResult best-effort unmarshals a task's raw JSON result into the
// map shape TaskCompletedPayload carries over the wire; a non-object result
// or decode failure is dropped rather than failing the whole publish.
func decodeResult(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
