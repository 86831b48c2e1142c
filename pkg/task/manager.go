// Package task implements the orchestrator's Task Manager: a single
// cooperative-executor scheduler with per-service priority queues,
// submission dedupe, cooperative cancellation, and terminal-state history
// (spec §4.5, §5).
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stashsense/orchestrator/pkg/apierr"
	"github.com/stashsense/orchestrator/pkg/config"
	"github.com/stashsense/orchestrator/pkg/models"
	"github.com/stashsense/orchestrator/pkg/registry"
)

// Listener observes task lifecycle events. Invocations for a single task
// arrive in deterministic order: queued → started → {completed|failed|cancelled},
// or queued → cancelled for a task cancelled before it starts.
// Panics inside a listener are recovered and swallowed, matching the
// teacher's "exceptions are swallowed" event-dispatch convention.
type Listener func(event string, rec *models.TaskRecord, extra map[string]any)

// TaskSpec is the input to Submit: what to run and how to schedule it.
type TaskSpec struct {
	ActionID        string
	Service         string
	Priority        models.TaskPriority
	Context         json.RawMessage
	Params          json.RawMessage
	GroupID         string
	SkipConcurrency bool
	IsController    bool
	Handler         registry.ActionHandler
}

// Manager owns every piece of task-manager state described in spec §4.5.
// Per §5, a single mutex guards the maps/queues: the runner loop increments
// running_counts and pops queues, a finishing task's goroutine decrements
// running_counts, and Cancel removes queued entries, all under that mutex;
// handler execution itself runs concurrently in its own goroutine.
type Manager struct {
	actions  *registry.ActionRegistry
	services *registry.ServiceRegistry
	pool     *pgxpool.Pool

	mu            sync.Mutex
	tasks         map[string]*models.TaskRecord
	queues        map[string]*serviceQueue
	runningCounts map[string]int
	cancelTokens  map[string]*CancelToken
	handlers      map[string]registry.ActionHandler
	specs         map[string]TaskSpec
	children      map[string][]string

	seq uint64

	defaultConcurrency int
	serviceConcurrency map[string]int
	loopInterval       time.Duration
	retentionMax       int
	retentionTo        int

	listenersMu sync.RWMutex
	listeners   []Listener

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewManager builds a Manager. pool may be nil in tests that don't need
// history persistence; services may be nil to treat every service as
// always-ready (used by tests exercising scheduling alone).
func NewManager(cfg *config.TaskManagerConfig, retention *config.RetentionConfig, actions *registry.ActionRegistry, services *registry.ServiceRegistry, pool *pgxpool.Pool) *Manager {
	m := &Manager{
		actions:            actions,
		services:           services,
		pool:               pool,
		tasks:              make(map[string]*models.TaskRecord),
		queues:             make(map[string]*serviceQueue),
		runningCounts:      make(map[string]int),
		cancelTokens:       make(map[string]*CancelToken),
		handlers:           make(map[string]registry.ActionHandler),
		specs:              make(map[string]TaskSpec),
		children:           make(map[string][]string),
		defaultConcurrency: 1,
		serviceConcurrency: map[string]int{},
		loopInterval:       50 * time.Millisecond,
		retentionMax:       600,
		retentionTo:        500,
		stopCh:             make(chan struct{}),
	}
	if cfg != nil {
		m.defaultConcurrency = cfg.DefaultConcurrency
		m.serviceConcurrency = copyIntMap(cfg.ServiceConcurrency)
		if cfg.LoopInterval > 0 {
			m.loopInterval = cfg.LoopInterval
		}
	}
	if retention != nil {
		if retention.TaskHistoryMax > 0 {
			m.retentionMax = retention.TaskHistoryMax
		}
		if retention.TaskHistoryTo > 0 {
			m.retentionTo = retention.TaskHistoryTo
		}
	}
	return m
}

func copyIntMap(src map[string]int) map[string]int {
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Reload applies a settings-driven configuration refresh: loop_interval and
// per-service concurrency limits. Called from the backend-refresh hook chain
// (spec §4.5 "Configuration reload").
func (m *Manager) Reload(cfg *config.TaskManagerConfig) {
	if cfg == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.LoopInterval > 0 {
		m.loopInterval = cfg.LoopInterval
	}
	if cfg.DefaultConcurrency > 0 {
		m.defaultConcurrency = cfg.DefaultConcurrency
	}
	m.serviceConcurrency = copyIntMap(cfg.ServiceConcurrency)
}

// AddListener registers an event listener. Listeners fire in registration order.
func (m *Manager) AddListener(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) emit(event string, rec *models.TaskRecord, extra map[string]any) {
	m.listenersMu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()

	// Copy the record under the task mutex: rec may still be mutated
	// concurrently (e.g. a Cancel racing this event) by another goroutine.
	m.mu.Lock()
	snapshot := *rec
	m.mu.Unlock()

	for _, l := range listeners {
		m.invokeListener(l, event, &snapshot, extra)
	}
}

func (m *Manager) invokeListener(l Listener, event string, rec *models.TaskRecord, extra map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("task listener panicked", "event", event, "task_id", rec.ID, "recover", r)
		}
	}()
	l(event, rec, extra)
}

// Get returns a copy of a tracked task's current record.
func (m *Manager) Get(taskID string) (models.TaskRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[taskID]
	if !ok {
		return models.TaskRecord{}, false
	}
	return *rec, true
}

// List returns every currently-tracked task (any status, including
// terminal ones not yet pruned from memory), optionally filtered by
// service and/or status. Empty filters match everything.
func (m *Manager) List(service string, status models.TaskStatus) []models.TaskRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TaskRecord, 0, len(m.tasks))
	for _, rec := range m.tasks {
		if service != "" && rec.Service != service {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// Submit enqueues a new task per spec §4.5 "Submit". Service is derived from
// the resolved action descriptor when available, falling back to spec.Service.
func (m *Manager) Submit(_ context.Context, spec TaskSpec) (*models.TaskRecord, error) {
	service := spec.Service
	handler := spec.Handler
	if m.actions != nil {
		if desc, h, ok := m.actions.Get(spec.ActionID); ok {
			if desc.Service != "" {
				service = desc.Service
			}
			if handler == nil {
				handler = h
			}
		}
	}
	if service == "" {
		return nil, apierr.WithCode(apierr.CodeNotFound, fmt.Errorf("%w: no service resolved for action %q", apierr.ErrNotFound, spec.ActionID))
	}
	if handler == nil {
		return nil, apierr.WithCode(apierr.CodeNotFound, fmt.Errorf("%w: no handler registered for action %q", apierr.ErrNotFound, spec.ActionID))
	}

	ctxKey, err := fingerprint(spec.Context)
	if err != nil {
		return nil, fmt.Errorf("fingerprint context: %w", err)
	}
	paramsKey, err := fingerprint(spec.Params)
	if err != nil {
		return nil, fmt.Errorf("fingerprint params: %w", err)
	}

	rec := &models.TaskRecord{
		ID:              uuid.NewString(),
		ActionID:        spec.ActionID,
		Service:         service,
		Priority:        spec.Priority,
		Status:          models.TaskStatusQueued,
		SubmittedAt:     time.Now(),
		Context:         spec.Context,
		Params:          spec.Params,
		GroupID:         spec.GroupID,
		SkipConcurrency: spec.SkipConcurrency,
		CtxKey:          ctxKey,
		ParamsKey:       paramsKey,
		IsController:    spec.IsController,
	}

	m.mu.Lock()
	m.tasks[rec.ID] = rec
	m.handlers[rec.ID] = handler
	m.specs[rec.ID] = spec
	m.cancelTokens[rec.ID] = NewCancelToken()
	if spec.GroupID != "" {
		m.children[spec.GroupID] = append(m.children[spec.GroupID], rec.ID)
	}
	q, ok := m.queues[service]
	if !ok {
		q = newServiceQueue()
		m.queues[service] = q
	}
	m.seq++
	q.push(rec.ID, int(spec.Priority), m.seq)
	m.mu.Unlock()

	m.emit("queued", rec, nil)
	return rec, nil
}

// FindDuplicate implements spec §4.5 "Find duplicate": a linear scan for the
// first non-terminal task matching (action, service, dedupe pair). Best
// effort and advisory only — there is no lock between check and Submit.
func (m *Manager) FindDuplicate(actionID, service, ctxKey, paramsKey string) (models.TaskRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.tasks {
		if rec.ActionID != actionID || rec.Service != service {
			continue
		}
		switch rec.Status {
		case models.TaskStatusQueued, models.TaskStatusRunning, models.TaskStatusStreaming:
		default:
			continue
		}
		if rec.CtxKey == ctxKey && rec.ParamsKey == paramsKey {
			return *rec, true
		}
	}
	return models.TaskRecord{}, false
}

// Cancel implements spec §4.5 "Cancel": queued tasks are removed and marked
// cancelled immediately; running tasks are signalled and transition at their
// next checkpoint; terminal tasks are a no-op. Children (group_id == taskID)
// are cancelled recursively regardless of outcome.
func (m *Manager) Cancel(taskID string) bool {
	m.mu.Lock()
	rec, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if rec.Status.IsTerminal() {
		m.mu.Unlock()
		return false
	}

	var finalized *models.TaskRecord
	switch rec.Status {
	case models.TaskStatusQueued:
		if q, ok := m.queues[rec.Service]; ok {
			q.remove(taskID)
		}
		rec.Status = models.TaskStatusCancelled
		rec.CancelRequested = true
		now := time.Now()
		rec.FinishedAt = &now
		finalized = rec
	default: // running, streaming
		rec.CancelRequested = true
		if tok, ok := m.cancelTokens[taskID]; ok {
			tok.Cancel()
		}
	}
	children := append([]string(nil), m.children[taskID]...)
	m.mu.Unlock()

	if finalized != nil {
		m.emit("cancelled", finalized, nil)
		if finalized.GroupID == "" {
			m.persistHistory(context.Background(), finalized)
		}
	}
	for _, childID := range children {
		m.Cancel(childID)
	}
	return true
}

func (m *Manager) concurrencyLimit(service string) int {
	if limit, ok := m.serviceConcurrency[service]; ok && limit > 0 {
		return limit
	}
	return m.defaultConcurrency
}

func (m *Manager) getLoopInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loopInterval
}
