package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventPublisher publishes events for WebSocket delivery.
// Persistent events are stored in the events table then broadcast via NOTIFY.
// Transient events (task.progress) are broadcast via NOTIFY only.
//
// Each public method accepts a specific typed payload struct — see payloads.go.
// Internally, payloads are marshaled to JSON and routed to the appropriate
// channel via persistAndNotify or notifyOnly.
type EventPublisher struct {
	pool *pgxpool.Pool
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(pool *pgxpool.Pool) *EventPublisher {
	return &EventPublisher{pool: pool}
}

// --- Typed public methods ---

// PublishTaskQueued persists and broadcasts a task.queued event, both to
// the task's own channel and to the global tasks list channel.
func (p *EventPublisher) PublishTaskQueued(ctx context.Context, payload TaskQueuedPayload) error {
	return p.publishTaskEvent(ctx, payload.TaskID, payload)
}

// PublishTaskStarted persists and broadcasts a task.started event.
func (p *EventPublisher) PublishTaskStarted(ctx context.Context, payload TaskStartedPayload) error {
	return p.publishTaskEvent(ctx, payload.TaskID, payload)
}

// PublishTaskProgress broadcasts a task.progress transient event (no DB
// persistence) to the task's own channel only — the list page has no use
// for per-task progress chatter.
func (p *EventPublisher) PublishTaskProgress(ctx context.Context, payload TaskProgressPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal TaskProgressPayload: %w", err)
	}
	return p.notifyOnly(ctx, TaskChannel(payload.TaskID), payloadJSON)
}

// PublishTaskCompleted persists and broadcasts a task.completed event.
func (p *EventPublisher) PublishTaskCompleted(ctx context.Context, payload TaskCompletedPayload) error {
	return p.publishTaskEvent(ctx, payload.TaskID, payload)
}

// PublishTaskFailed persists and broadcasts a task.failed event.
func (p *EventPublisher) PublishTaskFailed(ctx context.Context, payload TaskFailedPayload) error {
	return p.publishTaskEvent(ctx, payload.TaskID, payload)
}

// PublishTaskCancelled persists and broadcasts a task.cancelled event. May
// be published without a preceding task.started for tasks cancelled while
// still queued.
func (p *EventPublisher) PublishTaskCancelled(ctx context.Context, payload TaskCancelledPayload) error {
	return p.publishTaskEvent(ctx, payload.TaskID, payload)
}

// publishTaskEvent persists to the task's own channel and mirrors a
// transient copy to the global tasks channel, so the task list/history page
// updates live without polling. Both publishes are best-effort: if the
// persistent one fails, the transient one is still attempted. Returns the
// first error encountered (if any).
func (p *EventPublisher) publishTaskEvent(ctx context.Context, taskID string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task event payload: %w", err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, TaskChannel(taskID), payloadJSON); err != nil {
		slog.Warn("Failed to publish task event to task channel", "task_id", taskID, "error", err)
		firstErr = err
	}
	if err := p.notifyOnly(ctx, GlobalTasksChannel, payloadJSON); err != nil {
		slog.Warn("Failed to publish task event to global channel", "task_id", taskID, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishInteractionBatchIngested persists and broadcasts an
// interaction.batch_ingested event to the global tasks channel, so the
// interactions admin view can reflect freshly derived watch stats without
// polling.
func (p *EventPublisher) PublishInteractionBatchIngested(ctx context.Context, payload InteractionBatchIngestedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal InteractionBatchIngestedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, GlobalTasksChannel, payloadJSON)
}

// --- Internal core methods ---

// persistAndNotify persists a pre-marshaled event to the database and broadcasts
// via NOTIFY in a single transaction (pg_notify is transactional — held until COMMIT).
func (p *EventPublisher) persistAndNotify(ctx context.Context, channel string, payloadJSON []byte) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1. Persist to events table (within transaction)
	var eventID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO events (channel, payload) VALUES ($1, $2) RETURNING id`,
		channel, payloadJSON,
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	// Build NOTIFY payload with db_event_id for catchup tracking.
	notifyPayload, err := injectDBEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	// 2. pg_notify within same transaction — held until COMMIT
	_, err = tx.Exec(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	// 3. Commit — INSERT is persisted and NOTIFY fires atomically
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}

	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting to DB.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// injectDBEventIDAndTruncate adds db_event_id to the JSON payload for NOTIFY
// delivery and applies truncation if the result exceeds PostgreSQL's limit.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}

	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes, extracting only the routing fields the client needs
// to fetch the complete event from the database.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type      string `json:"type"`
		TaskID    string `json:"task_id"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":      routing.Type,
		"task_id":   routing.TaskID,
		"truncated": true,
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
