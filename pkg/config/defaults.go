package config

import "time"

// Defaults holds the system-wide tunable constants that are not worth
// their own YAML section but still need one documented source.
type Defaults struct {
	// LoopInterval mirrors TaskManagerConfig.LoopInterval. It is not read
	// anywhere: the Task Manager takes its loop interval from
	// TaskManagerConfig.
	LoopInterval time.Duration `yaml:"loop_interval,omitempty"`

	// DedupeTTL mirrors TaskManagerConfig.DedupeTTL and is likewise not
	// read anywhere.
	DedupeTTL time.Duration `yaml:"dedupe_ttl,omitempty"`

	// TaskHistoryRetentionMax mirrors RetentionConfig.TaskHistoryMax. It
	// is not read anywhere: the Task Manager prunes TaskHistory inline
	// using RetentionConfig.
	TaskHistoryRetentionMax int `yaml:"task_history_retention_max,omitempty" validate:"omitempty,min=1"`

	// TaskHistoryRetentionTo mirrors RetentionConfig.TaskHistoryTo and is
	// likewise not read anywhere.
	TaskHistoryRetentionTo int `yaml:"task_history_retention_to,omitempty" validate:"omitempty,min=1"`

	// MergeTTL is the window during which a new interaction session id
	// sharing a client fingerprint with a still-open (not ended) session
	// whose last event falls inside the window is folded into that session
	// as an alias instead of standing on its own. Open sessions quiet for
	// longer than MergeTTL are finalized when such a new id arrives.
	MergeTTL time.Duration `yaml:"merge_ttl,omitempty"`

	// MinSessionSeconds is the minimum session duration (first to last
	// event) for a finalized stale session to bump its last entity's
	// derived_o_count.
	MinSessionSeconds time.Duration `yaml:"min_session_seconds,omitempty"`

	// SegmentMinDuration is the shortest scene-watch segment that gets
	// persisted; shorter spans are discarded, and existing rows shorter
	// than this are deleted on the next recompute of their scene.
	SegmentMinDuration time.Duration `yaml:"segment_min_duration,omitempty"`

	// SegmentMergeGap is the maximum gap between two watch segments that
	// still causes them to be merged into one.
	SegmentMergeGap time.Duration `yaml:"segment_merge_gap,omitempty"`

	// SegmentMargin is the time margin added on both sides of a batch's
	// client-timestamp range to pick the persisted events replayed when
	// recomputing scene-watch segments.
	SegmentMargin time.Duration `yaml:"segment_margin,omitempty"`
}

// DefaultDefaults returns the built-in system defaults.
func DefaultDefaults() *Defaults {
	return &Defaults{
		LoopInterval:            50 * time.Millisecond,
		DedupeTTL:               2 * time.Minute,
		TaskHistoryRetentionMax: 600,
		TaskHistoryRetentionTo:  500,
		MergeTTL:                120 * time.Second,
		MinSessionSeconds:       600 * time.Second,
		SegmentMinDuration:      1500 * time.Millisecond,
		SegmentMergeGap:         500 * time.Millisecond,
		SegmentMargin:           2 * time.Second,
	}
}
