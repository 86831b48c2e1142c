package config

import "time"

// TaskManagerConfig contains Task Manager scheduling configuration.
// These values control how the in-process priority queue runs and how
// much concurrency each backend service is allowed.
type TaskManagerConfig struct {
	// LoopInterval is how long the runner loop sleeps between passes that
	// check for newly-startable tasks; it has no other wake-up signal.
	LoopInterval time.Duration `yaml:"loop_interval"`

	// DefaultConcurrency is the per-service concurrency limit used when a
	// service has no entry in ServiceConcurrency.
	DefaultConcurrency int `yaml:"default_concurrency"`

	// ServiceConcurrency overrides DefaultConcurrency per service name.
	ServiceConcurrency map[string]int `yaml:"service_concurrency"`

	// DedupeTTL is not read anywhere: the Task Manager's FindDuplicate only
	// matches tasks that are still queued, running or streaming.
	DedupeTTL time.Duration `yaml:"dedupe_ttl"`
}

// DefaultTaskManagerConfig returns the built-in Task Manager defaults.
func DefaultTaskManagerConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		LoopInterval:       50 * time.Millisecond,
		DefaultConcurrency: 1,
		ServiceConcurrency: map[string]int{},
		DedupeTTL:          2 * time.Minute,
	}
}
