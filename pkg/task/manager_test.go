package task

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashsense/orchestrator/pkg/config"
	"github.com/stashsense/orchestrator/pkg/models"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.DefaultTaskManagerConfig()
	cfg.LoopInterval = 5 * time.Millisecond
	return NewManager(cfg, config.DefaultRetentionConfig(), nil, nil, nil)
}

func awaitStatus(t *testing.T, m *Manager, taskID string, want models.TaskStatus) models.TaskRecord {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		rec, ok := m.Get(taskID)
		require.True(t, ok)
		if rec.Status == want {
			return rec
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for status %q, last seen %q", want, rec.Status)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestManager_SubmitAndRunCompletes(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	var events []string
	var mu sync.Mutex
	m.AddListener(func(event string, rec *models.TaskRecord, _ map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	})

	rec, err := m.Submit(ctx, TaskSpec{
		ActionID: "noop",
		Service:  "svc",
		Handler: func(_ context.Context, _ *models.TaskRecord) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		},
	})
	require.NoError(t, err)

	final := awaitStatus(t, m, rec.ID, models.TaskStatusCompleted)
	assert.JSONEq(t, `{"ok":true}`, string(final.Result))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"queued", "started", "completed"}, events)
}

func TestManager_HandlerErrorMarksFailed(t *testing.T) {
	m := testManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	rec, err := m.Submit(ctx, TaskSpec{
		ActionID: "boom",
		Service:  "svc",
		Handler: func(_ context.Context, _ *models.TaskRecord) (json.RawMessage, error) {
			return nil, assertError{"kaboom"}
		},
	})
	require.NoError(t, err)

	final := awaitStatus(t, m, rec.ID, models.TaskStatusFailed)
	assert.Equal(t, "kaboom", final.Error)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func TestManager_CancelWhileQueued(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	// Runner never started: task stays queued until we cancel it.
	rec, err := m.Submit(ctx, TaskSpec{
		ActionID: "noop",
		Service:  "svc",
		Handler: func(_ context.Context, _ *models.TaskRecord) (json.RawMessage, error) {
			return nil, nil
		},
	})
	require.NoError(t, err)

	ok := m.Cancel(rec.ID)
	assert.True(t, ok)

	final, found := m.Get(rec.ID)
	require.True(t, found)
	assert.Equal(t, models.TaskStatusCancelled, final.Status)

	// Cancelling again is a no-op.
	assert.False(t, m.Cancel(rec.ID))
}

func TestManager_CancelWhileRunning(t *testing.T) {
	m := testManager(t)
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	m.Start(ctx)
	defer m.Stop()

	started := make(chan struct{})
	rec, err := m.Submit(ctx, TaskSpec{
		ActionID: "slow",
		Service:  "svc",
		Handler: func(handlerCtx context.Context, _ *models.TaskRecord) (json.RawMessage, error) {
			close(started)
			<-handlerCtx.Done()
			return nil, nil
		},
	})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	assert.True(t, m.Cancel(rec.ID))
	final := awaitStatus(t, m, rec.ID, models.TaskStatusCancelled)
	assert.True(t, final.CancelRequested)
}

func TestManager_FindDuplicate(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	block := make(chan struct{})
	handler := func(handlerCtx context.Context, _ *models.TaskRecord) (json.RawMessage, error) {
		<-block
		return nil, nil
	}

	rec, err := m.Submit(ctx, TaskSpec{ActionID: "dup", Service: "svc", Context: json.RawMessage(`{"sceneId":"1"}`), Handler: handler})
	require.NoError(t, err)

	dup, found := m.FindDuplicate("dup", "svc", rec.CtxKey, rec.ParamsKey)
	assert.True(t, found)
	assert.Equal(t, rec.ID, dup.ID)

	_, found = m.FindDuplicate("dup", "svc", "different-key", "")
	assert.False(t, found)

	close(block)
}

func TestManager_Reload_UpdatesConcurrencyAndInterval(t *testing.T) {
	m := testManager(t)
	assert.Equal(t, 1, m.concurrencyLimit("svc"))

	m.Reload(&config.TaskManagerConfig{
		LoopInterval:       10 * time.Millisecond,
		DefaultConcurrency: 3,
		ServiceConcurrency: map[string]int{"svc": 7},
	})

	assert.Equal(t, 7, m.concurrencyLimit("svc"))
	assert.Equal(t, 3, m.concurrencyLimit("other"))
	assert.Equal(t, 10*time.Millisecond, m.getLoopInterval())
}

func TestManager_ServiceConcurrencyLimit(t *testing.T) {
	cfg := config.DefaultTaskManagerConfig()
	cfg.LoopInterval = 2 * time.Millisecond
	cfg.ServiceConcurrency = map[string]int{"svc": 1}
	m := NewManager(cfg, config.DefaultRetentionConfig(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	var runningMu sync.Mutex
	running := 0
	maxObserved := 0
	release := make(chan struct{})

	handler := func(_ context.Context, _ *models.TaskRecord) (json.RawMessage, error) {
		runningMu.Lock()
		running++
		if running > maxObserved {
			maxObserved = running
		}
		runningMu.Unlock()
		<-release
		runningMu.Lock()
		running--
		runningMu.Unlock()
		return nil, nil
	}

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := m.Submit(ctx, TaskSpec{ActionID: "slow", Service: "svc", Handler: handler})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)

	for _, id := range ids {
		awaitStatus(t, m, id, models.TaskStatusCompleted)
	}

	runningMu.Lock()
	defer runningMu.Unlock()
	assert.Equal(t, 1, maxObserved, "concurrency limit of 1 should never be exceeded")
}
