package interaction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// dbEvent is a persisted interaction_events row, trimmed to the columns the
// segment-reconstruction pipeline needs.
type dbEvent struct {
	eventType string
	clientTS  time.Time
	metadata  json.RawMessage
}

func scanDBEvents(rows pgx.Rows) ([]dbEvent, error) {
	defer rows.Close()
	var events []dbEvent
	for rows.Next() {
		var e dbEvent
		if err := rows.Scan(&e.eventType, &e.clientTS, &e.metadata); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// controlEventTypes drive the playback state machine; scene_watch_progress
// is deliberately excluded since it's a continuous signal, not a transition.
var controlEventTypes = map[string]bool{
	"scene_watch_start":    true,
	"scene_watch_pause":    true,
	"scene_watch_complete": true,
	"scene_seek":           true,
}

func eventMetadataFloat(raw json.RawMessage, key string) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return nil
	}
	return &f
}

func toReplayEvent(eventType string, metadata json.RawMessage) ReplayEvent {
	return ReplayEvent{
		Type:     eventType,
		Position: eventMetadataFloat(metadata, "position"),
		From:     eventMetadataFloat(metadata, "from"),
		To:       eventMetadataFloat(metadata, "to"),
	}
}

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// parseLastEntityMetadata extracts {"last_entity": {"type","id","ts"}} from a
// session-scoped event's metadata, per spec §4.6 phase 2.
func parseLastEntityMetadata(raw json.RawMessage) (entityType, entityID string, ts time.Time, ok bool) {
	if len(raw) == 0 {
		return "", "", time.Time{}, false
	}
	var wrapper struct {
		LastEntity *struct {
			Type string          `json:"type"`
			ID   string          `json:"id"`
			TS   json.RawMessage `json:"ts"`
		} `json:"last_entity"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.LastEntity == nil {
		return "", "", time.Time{}, false
	}
	entityType = wrapper.LastEntity.Type
	entityID = wrapper.LastEntity.ID
	if entityType == "" || entityID == "" {
		return "", "", time.Time{}, false
	}
	ts = time.Now()
	if len(wrapper.LastEntity.TS) > 0 {
		if parsed, err := parseFlexibleTimestamp(wrapper.LastEntity.TS); err == nil {
			ts = parsed
		}
	}
	return entityType, entityID, ts, true
}

// parseFlexibleTimestamp accepts either an ISO-8601 string or an epoch-ms
// numeric string (also tolerating a bare JSON number), per spec §4.6.
func parseFlexibleTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms), nil
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp")
}
