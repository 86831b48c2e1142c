package models

import (
	"encoding/json"
	"time"
)

// AIModel is a unique (service, model_id?, name) model descriptor.
type AIModel struct {
	ID         int64           `json:"id" db:"id"`
	Service    string          `json:"service" db:"service"`
	ModelID    string          `json:"model_id,omitempty" db:"model_id"`
	Name       string          `json:"name" db:"name"`
	Version    string          `json:"version,omitempty" db:"version"`
	Type       string          `json:"type,omitempty" db:"type"`
	Categories []string        `json:"categories,omitempty" db:"-"`
	Extra      json.RawMessage `json:"extra,omitempty" db:"extra"`
}

// AIModelRunStatus enumerates the status of a single model pipeline run.
type AIModelRunStatus string

const (
	AIModelRunStatusCompleted AIModelRunStatus = "completed"
	AIModelRunStatusFailed    AIModelRunStatus = "failed"
)

// AIModelRun is a single completed invocation of an AI model pipeline against one entity.
type AIModelRun struct {
	ID             int64            `json:"id" db:"id"`
	Service        string           `json:"service" db:"service"`
	EntityType     string           `json:"entity_type" db:"entity_type"`
	EntityID       string           `json:"entity_id" db:"entity_id"`
	Status         AIModelRunStatus `json:"status" db:"status"`
	StartedAt      time.Time        `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	InputParams    json.RawMessage  `json:"input_params,omitempty" db:"input_params"`
	ResultMetadata json.RawMessage  `json:"result_metadata,omitempty" db:"result_metadata"`
}

// AIModelRunModel is the join row between a run and a model it exercised.
type AIModelRunModel struct {
	ID             int64           `json:"id" db:"id"`
	RunID          int64           `json:"run_id" db:"run_id"`
	ModelID        int64           `json:"model_id" db:"model_id"`
	InputParams    json.RawMessage `json:"input_params,omitempty" db:"input_params"`
	FrameInterval  float64         `json:"frame_interval" db:"frame_interval"`
}

// AIResultTimespan is one labeled frame interval produced by a run.
type AIResultTimespan struct {
	ID          int64    `json:"id" db:"id"`
	RunID       int64    `json:"run_id" db:"run_id"`
	EntityID    string   `json:"entity_id" db:"entity_id"`
	PayloadType string   `json:"payload_type" db:"payload_type"`
	Category    string   `json:"category,omitempty" db:"category"`
	Label       string   `json:"label" db:"label"`
	ReferenceID *int64   `json:"reference_id,omitempty" db:"reference_id"`
	StartS      float64  `json:"start_s" db:"start_s"`
	EndS        float64  `json:"end_s" db:"end_s"`
	Confidence  *float64 `json:"confidence,omitempty" db:"confidence"`
}

// AIResultAggregate accelerates threshold queries over timespans.
type AIResultAggregate struct {
	ID          int64   `json:"id" db:"id"`
	RunID       int64   `json:"run_id" db:"run_id"`
	EntityID    string  `json:"entity_id" db:"entity_id"`
	PayloadType string  `json:"payload_type" db:"payload_type"`
	Category    string  `json:"category" db:"category"`
	Label       string  `json:"label" db:"label"`
	ReferenceID *int64  `json:"reference_id,omitempty" db:"reference_id"`
	Metric      string  `json:"metric" db:"metric"`
	ValueFloat  float64 `json:"value_float" db:"value_float"`
}

// Frame is one raw timespan entry from an AI model's payload before persistence.
type Frame struct {
	Start      float64  `json:"start"`
	End        *float64 `json:"end,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ModelPayload is the {timespans: {category -> {label -> [frame]}}} shape
// a plugin action handler receives back from a remote AI model call.
type ModelPayload struct {
	SchemaVersion int                                   `json:"schema_version"`
	FrameInterval float64                                `json:"frame_interval"`
	Timespans     map[string]map[string][]Frame          `json:"timespans"`
}
