package events

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGEventStore queries the events table directly over pgx/v5 — the catchup
// path's only dependency on persistence. It implements CatchupQuerier.
type PGEventStore struct {
	pool *pgxpool.Pool
}

// NewPGEventStore wraps a connection pool for catchup queries against the
// events table written by EventPublisher.persistAndNotify.
func NewPGEventStore(pool *pgxpool.Pool) *PGEventStore {
	return &PGEventStore{pool: pool}
}

var _ CatchupQuerier = (*PGEventStore)(nil)

// GetCatchupEvents returns events on channel with id > sinceID, oldest
// first, capped at limit rows.
func (s *PGEventStore) GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, payload FROM events
		WHERE channel = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []CatchupEvent
	for rows.Next() {
		var id int
		var raw json.RawMessage
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		events = append(events, CatchupEvent{ID: id, Payload: payload})
	}
	return events, rows.Err()
}
