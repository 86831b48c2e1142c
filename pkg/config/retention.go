package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// TaskHistoryMax is the number of terminal TaskHistory rows kept
	// before the Task Manager, on its next history insert, prunes the
	// oldest down to TaskHistoryTo.
	TaskHistoryMax int `yaml:"task_history_max"`

	// TaskHistoryTo is the row count TaskHistory is pruned down to once
	// TaskHistoryMax is exceeded.
	TaskHistoryTo int `yaml:"task_history_to"`

	// StaleSessionTimeout is how long an interaction session can go
	// without a new event before it is force-finalized by the cleanup
	// loop (page-leave never arrived, e.g. a crashed tab).
	StaleSessionTimeout time.Duration `yaml:"stale_session_timeout"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		TaskHistoryMax:      600,
		TaskHistoryTo:       500,
		StaleSessionTimeout: 30 * time.Minute,
		CleanupInterval:     10 * time.Minute,
	}
}
