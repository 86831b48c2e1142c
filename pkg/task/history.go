package task

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/stashsense/orchestrator/pkg/models"
)

// persistHistory implements spec §4.5 "History persistence": best-effort,
// errors are logged and swallowed rather than surfaced to the caller.
func (m *Manager) persistHistory(ctx context.Context, rec *models.TaskRecord) {
	if m.pool == nil {
		return
	}
	if err := m.insertHistory(ctx, rec); err != nil {
		slog.Warn("task history insert failed", "task_id", rec.ID, "error", err)
		return
	}
	if err := m.pruneHistory(ctx); err != nil {
		slog.Warn("task history prune failed", "error", err)
	}
}

func (m *Manager) insertHistory(ctx context.Context, rec *models.TaskRecord) error {
	childCount := m.childCount(rec.ID)
	itemID := itemIDFromContext(rec.Context)

	finishedAt := time.Now()
	if rec.FinishedAt != nil {
		finishedAt = *rec.FinishedAt
	}
	from := rec.SubmittedAt
	if rec.StartedAt != nil {
		from = *rec.StartedAt
	}
	durationMs := finishedAt.Sub(from).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	_, err := m.pool.Exec(ctx, `
		INSERT INTO task_history
			(id, action_id, service, status, submitted_at, started_at, finished_at, duration_ms, child_count, item_id, error, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.ActionID, rec.Service, string(rec.Status),
		rec.SubmittedAt, rec.StartedAt, finishedAt, durationMs,
		childCount, itemID, rec.Error, nullableJSON(rec.Result),
	)
	return err
}

// pruneHistory enforces the retention cap: once the table exceeds
// retentionMax rows, the oldest rows are deleted down to retentionTo.
func (m *Manager) pruneHistory(ctx context.Context) error {
	var total int
	if err := m.pool.QueryRow(ctx, `SELECT count(*) FROM task_history`).Scan(&total); err != nil {
		return err
	}
	if total <= m.retentionMax {
		return nil
	}
	excess := total - m.retentionTo
	_, err := m.pool.Exec(ctx, `
		DELETE FROM task_history WHERE id IN (
			SELECT id FROM task_history ORDER BY created_at ASC LIMIT $1
		)`, excess)
	return err
}

// History returns the most recent terminal-state tasks, newest first,
// optionally filtered by service and/or status, for spec §6's
// GET /tasks/history route.
func (m *Manager) History(ctx context.Context, limit int, service, status string) ([]models.TaskHistory, error) {
	if m.pool == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, action_id, service, status, submitted_at, started_at, finished_at, duration_ms, child_count, item_id, error, result, created_at
		FROM task_history
		WHERE ($1 = '' OR service = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`
	rows, err := m.pool.Query(ctx, query, service, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TaskHistory
	for rows.Next() {
		var h models.TaskHistory
		if err := rows.Scan(&h.ID, &h.ActionID, &h.Service, &h.Status, &h.SubmittedAt, &h.StartedAt,
			&h.FinishedAt, &h.DurationMs, &h.ChildCount, &h.ItemID, &h.Error, &h.Result, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (m *Manager) childCount(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.children[taskID])
}

func itemIDFromContext(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v struct {
		ItemID string `json:"item_id"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.ItemID
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
