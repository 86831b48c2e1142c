package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stashsense/orchestrator/pkg/models"
	"github.com/stashsense/orchestrator/pkg/registry"
)

// Start launches the single cooperative runner loop (spec §4.5 "Runner").
// Safe to call once; subsequent calls are no-ops.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runLoop(ctx)
}

// Stop signals the runner loop to exit and waits for in-flight tasks'
// bookkeeping goroutines to finish.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) runLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		m.tick(ctx)

		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(m.getLoopInterval()):
		}
	}
}

// tick walks every service with a non-empty queue once, matching spec §4.5's
// per-loop dispatch rule: at most one task popped per service per iteration.
func (m *Manager) tick(ctx context.Context) {
	for _, service := range m.serviceNames() {
		m.dispatchService(ctx, service)
	}
}

func (m *Manager) serviceNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.queues))
	for s := range m.queues {
		names = append(names, s)
	}
	return names
}

func (m *Manager) dispatchService(ctx context.Context, service string) {
	m.mu.Lock()
	q, ok := m.queues[service]
	if !ok || q.len() == 0 {
		m.mu.Unlock()
		return
	}
	limit := m.concurrencyLimit(service)
	if m.runningCounts[service] >= limit {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// Readiness probe is a suspension point (spec §5); never hold the task
	// mutex across it.
	if m.services != nil && !m.services.IsReady(ctx, service) {
		return
	}

	m.mu.Lock()
	if m.runningCounts[service] >= limit {
		m.mu.Unlock()
		return
	}
	taskID, ok := q.pop()
	if !ok {
		m.mu.Unlock()
		return
	}
	rec, ok := m.tasks[taskID]
	if !ok || rec.Status != models.TaskStatusQueued {
		m.mu.Unlock()
		return
	}
	if !rec.SkipConcurrency {
		m.runningCounts[service]++
	}
	now := time.Now()
	rec.StartedAt = &now
	rec.Status = models.TaskStatusRunning
	m.mu.Unlock()

	m.emit("started", rec, nil)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runTask(ctx, taskID)
	}()
}

// runTask executes one task's handler and resolves its terminal state
// (spec §4.5 "Run task").
func (m *Manager) runTask(ctx context.Context, taskID string) {
	m.mu.Lock()
	rec, ok := m.tasks[taskID]
	var handler registry.ActionHandler
	var token *CancelToken
	var service string
	var skipConcurrency bool
	if ok {
		handler = m.handlers[taskID]
		token = m.cancelTokens[taskID]
		service = rec.Service
		skipConcurrency = rec.SkipConcurrency
	}
	m.mu.Unlock()
	if !ok || handler == nil {
		return
	}

	taskCtx := ctx
	if token != nil {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-token.Done():
				cancel()
			case <-done:
			}
		}()
	}

	result, runErr := m.invokeHandler(taskCtx, handler, rec)

	m.mu.Lock()
	if !skipConcurrency && m.runningCounts[service] > 0 {
		m.runningCounts[service]--
	}
	cancelled := token != nil && token.Requested()
	now := time.Now()
	rec.FinishedAt = &now
	var event string
	switch {
	case cancelled:
		rec.Status = models.TaskStatusCancelled
		event = "cancelled"
	case runErr != nil:
		rec.Status = models.TaskStatusFailed
		rec.Error = runErr.Error()
		event = "failed"
	default:
		rec.Status = models.TaskStatusCompleted
		rec.Result = result
		event = "completed"
	}
	m.mu.Unlock()

	m.emit(event, rec, nil)
	if rec.GroupID == "" {
		m.persistHistory(context.Background(), rec)
	}
}

// invokeHandler runs handler, converting a panic into an error whose
// message is "panic: <value>". A returned error is recorded by its own
// Error() text; neither form carries the Go type of the error or value.
func (m *Manager) invokeHandler(ctx context.Context, handler registry.ActionHandler, rec *models.TaskRecord) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, rec)
}
