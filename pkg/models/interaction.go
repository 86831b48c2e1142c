package models

import (
	"encoding/json"
	"time"
)

// EventTypeSceneWatchProgress is never persisted as an InteractionEvent row;
// its effect only flows into derived session/scene-watch state.
const EventTypeSceneWatchProgress = "scene_watch_progress"

// Control event types that drive the playback state machine (§4.6.1).
const (
	EventTypeSceneWatchStart    = "scene_watch_start"
	EventTypeSceneWatchPause    = "scene_watch_pause"
	EventTypeSceneWatchComplete = "scene_watch_complete"
	EventTypeSceneSeek          = "scene_seek"
	EventTypeScenePageEnter     = "scene_page_enter"
	EventTypeScenePageLeave     = "scene_page_leave"
	EventTypeSceneView          = "scene_view"
)

// IncomingEvent is a single raw telemetry event as submitted by a client batch.
type IncomingEvent struct {
	ClientEventID string          `json:"client_event_id,omitempty"`
	SessionID     string          `json:"session_id"`
	EventType     string          `json:"event_type"`
	EntityType    string          `json:"entity_type,omitempty"`
	EntityID      string          `json:"entity_id,omitempty"`
	ClientTS      time.Time       `json:"client_ts"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// InteractionEvent is the immutable, append-only persisted projection of an
// IncomingEvent (scene_watch_progress excluded per §3).
type InteractionEvent struct {
	ID            int64           `json:"id" db:"id"`
	ClientEventID string          `json:"client_event_id,omitempty" db:"client_event_id"`
	SessionID     string          `json:"session_id" db:"session_id"`
	EventType     string          `json:"event_type" db:"event_type"`
	EntityType    string          `json:"entity_type,omitempty" db:"entity_type"`
	EntityID      string          `json:"entity_id,omitempty" db:"entity_id"`
	ClientTS      time.Time       `json:"client_ts" db:"client_ts"`
	Metadata      json.RawMessage `json:"metadata,omitempty" db:"metadata"`
}

// InteractionSession tracks one logical viewing session, possibly reached
// by multiple client-side session ids via alias or fingerprint merge.
type InteractionSession struct {
	SessionID          string     `json:"session_id" db:"session_id"`
	ClientFingerprint  string     `json:"client_fingerprint,omitempty" db:"client_fingerprint"`
	SessionStartTS     time.Time  `json:"session_start_ts" db:"session_start_ts"`
	LastEventTS        time.Time  `json:"last_event_ts" db:"last_event_ts"`
	LastEntityType     string     `json:"last_entity_type,omitempty" db:"last_entity_type"`
	LastEntityID       string     `json:"last_entity_id,omitempty" db:"last_entity_id"`
	LastEntityEventTS  *time.Time `json:"last_entity_event_ts,omitempty" db:"last_entity_event_ts"`
	EndedAt            *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// InteractionSessionAlias is a durable alias_session_id -> canonical_session_id mapping.
type InteractionSessionAlias struct {
	AliasSessionID     string `json:"alias_session_id" db:"alias_session_id"`
	CanonicalSessionID string `json:"canonical_session_id" db:"canonical_session_id"`
}

// SceneWatch is the per-(session, scene) watch-time aggregate.
type SceneWatch struct {
	ID                   int64      `json:"id" db:"id"`
	SessionID            string     `json:"session_id" db:"session_id"`
	SceneID              string     `json:"scene_id" db:"scene_id"`
	PageEnteredAt        *time.Time `json:"page_entered_at,omitempty" db:"page_entered_at"`
	PageLeftAt           *time.Time `json:"page_left_at,omitempty" db:"page_left_at"`
	TotalWatchedS        float64    `json:"total_watched_s" db:"total_watched_s"`
	WatchPercent         *float64   `json:"watch_percent,omitempty" db:"watch_percent"`
	LastProcessedEventTS *time.Time `json:"last_processed_event_ts,omitempty" db:"last_processed_event_ts"`
}

// SceneWatchSegment is a closed [start_s, end_s] interval of media-time playback.
type SceneWatchSegment struct {
	ID           int64   `json:"id" db:"id"`
	SceneWatchID int64   `json:"scene_watch_id" db:"scene_watch_id"`
	SessionID    string  `json:"session_id" db:"session_id"`
	SceneID      string  `json:"scene_id" db:"scene_id"`
	StartS       float64 `json:"start_s" db:"start_s"`
	EndS         float64 `json:"end_s" db:"end_s"`
	WatchedS     float64 `json:"watched_s" db:"watched_s"`
}

// SceneDerived holds pre-aggregated per-scene counters.
type SceneDerived struct {
	EntityID        string     `json:"entity_id" db:"entity_id"`
	ViewCount       int64      `json:"view_count" db:"view_count"`
	DerivedOCount   int64      `json:"derived_o_count" db:"derived_o_count"`
	LastViewedAt    *time.Time `json:"last_viewed_at,omitempty" db:"last_viewed_at"`
}

// ImageDerived holds pre-aggregated per-image counters.
type ImageDerived struct {
	EntityID      string     `json:"entity_id" db:"entity_id"`
	ViewCount     int64      `json:"view_count" db:"view_count"`
	DerivedOCount int64      `json:"derived_o_count" db:"derived_o_count"`
	LastViewedAt  *time.Time `json:"last_viewed_at,omitempty" db:"last_viewed_at"`
}

// InteractionLibrarySearch records a user's search within a library view.
type InteractionLibrarySearch struct {
	ID        int64           `json:"id" db:"id"`
	SessionID string          `json:"session_id" db:"session_id"`
	Library   string          `json:"library" db:"library"`
	Query     string          `json:"query" db:"query"`
	Filters   json.RawMessage `json:"filters,omitempty" db:"filters"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Interval is a generic closed [Start, End] media-time interval used by the
// segment-reconstruction playback state machine.
type Interval struct {
	Start float64
	End   float64
}
