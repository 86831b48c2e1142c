package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashsense/orchestrator/pkg/database"
	testdb "github.com/stashsense/orchestrator/test/database"
	"github.com/stashsense/orchestrator/test/util"
)

var integrationUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// streamingTestEnv holds all wired-up components for an integration test.
type streamingTestEnv struct {
	dbClient  *database.Client
	publisher *EventPublisher
	store     *PGEventStore
	manager   *ConnectionManager
	listener  *NotifyListener
	server    *httptest.Server
	taskID    string
	channel   string // task:<taskID>
}

// setupStreamingTest wires all real components together against a real
// PostgreSQL database (testcontainers locally, service container in CI).
func setupStreamingTest(t *testing.T) *streamingTestEnv {
	t.Helper()

	dbClient := testdb.NewTestClient(t)
	ctx := context.Background()

	taskID := uuid.New().String()
	channel := TaskChannel(taskID)

	publisher := NewEventPublisher(dbClient.Pool)
	store := NewPGEventStore(dbClient.Pool)
	manager := NewConnectionManager(store, 5*time.Second)

	// NotifyListener needs the base connection string (no schema search_path)
	// because NOTIFY/LISTEN is database-level, not schema-level.
	baseConnStr := util.GetBaseConnectionString(t)
	listener := NewNotifyListener(baseConnStr, manager)
	require.NoError(t, listener.Start(ctx))
	manager.SetListener(listener)

	t.Cleanup(func() { listener.Stop(context.Background()) })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := integrationUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("WebSocket upgrade error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(func() { server.Close() })

	return &streamingTestEnv{
		dbClient:  dbClient,
		publisher: publisher,
		store:     store,
		manager:   manager,
		listener:  listener,
		server:    server,
		taskID:    taskID,
		channel:   channel,
	}
}

// connectWS opens a WebSocket to the test server and returns the connection.
// The connection is automatically closed on test cleanup.
func (env *streamingTestEnv) connectWS(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + env.server.URL[len("http"):]

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readJSONTimeout reads a JSON message from the WebSocket with a timeout.
func readJSONTimeout(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// subscribeAndWait connects a WebSocket, reads connection.established,
// subscribes to the env's channel, reads subscription.confirmed, and
// waits for the LISTEN to propagate.
func (env *streamingTestEnv) subscribeAndWait(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := env.connectWS(t)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: env.channel})

	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	// Wait for the async LISTEN goroutine to complete on the NotifyListener's
	// dedicated connection, polling instead of sleeping.
	require.Eventually(t, func() bool {
		return env.listener.isListening(env.channel)
	}, 2*time.Second, 10*time.Millisecond, "LISTEN did not propagate for channel %s", env.channel)

	return conn
}

// --- Tests ---

func TestIntegration_PublisherPersistsAndNotifies(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	err := env.publisher.PublishTaskQueued(ctx, TaskQueuedPayload{
		Type:      EventTypeTaskQueued,
		TaskID:    env.taskID,
		ActionID:  "restart_service",
		Service:   "stash",
		Status:    "queued",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	err = env.publisher.PublishTaskCompleted(ctx, TaskCompletedPayload{
		Type:      EventTypeTaskCompleted,
		TaskID:    env.taskID,
		Status:    "completed",
		Result:    map[string]any{"ok": true},
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	events, err := env.store.GetCatchupEvents(ctx, env.channel, 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventTypeTaskQueued, events[0].Payload["type"])
	assert.Equal(t, "restart_service", events[0].Payload["action_id"])

	assert.Equal(t, EventTypeTaskCompleted, events[1].Payload["type"])
	assert.Equal(t, "completed", events[1].Payload["status"])

	assert.Greater(t, events[1].ID, events[0].ID)
}

func TestIntegration_TransientEventsNotPersisted(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	err := env.publisher.PublishTaskProgress(ctx, TaskProgressPayload{
		Type:      EventTypeTaskProgress,
		TaskID:    env.taskID,
		Detail:    map[string]any{"processed": 1},
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	events, err := env.store.GetCatchupEvents(ctx, env.channel, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, events, "transient events should not be persisted in DB")
}

func TestIntegration_EndToEnd_PublishToWebSocket(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	err := env.publisher.PublishTaskStarted(ctx, TaskStartedPayload{
		Type:      EventTypeTaskStarted,
		TaskID:    env.taskID,
		Status:    "running",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeTaskStarted, msg["type"])
	assert.Equal(t, env.taskID, msg["task_id"])
	assert.Equal(t, "running", msg["status"])
	// db_event_id should be present (added by persistAndNotify after INSERT)
	assert.NotNil(t, msg["db_event_id"])
}

func TestIntegration_TransientEventDelivery(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	err := env.publisher.PublishTaskProgress(ctx, TaskProgressPayload{
		Type:      EventTypeTaskProgress,
		TaskID:    env.taskID,
		Detail:    map[string]any{"pct": 42},
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeTaskProgress, msg["type"])
	detail, ok := msg["detail"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(42), detail["pct"])

	events, err := env.store.GetCatchupEvents(ctx, env.channel, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, events, "transient events should not be persisted")
}

func TestIntegration_TaskLifecycleSequence(t *testing.T) {
	// Verifies the deterministic queued → started → progress → completed
	// sequence arrives over the wire in order, with progress carrying no
	// status change and both endpoints persisted.
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	require.NoError(t, env.publisher.PublishTaskQueued(ctx, TaskQueuedPayload{
		Type: EventTypeTaskQueued, TaskID: env.taskID, ActionID: "scan_library",
		Service: "stash", Status: "queued", Timestamp: time.Now().Format(time.RFC3339Nano),
	}))
	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeTaskQueued, msg["type"])

	require.NoError(t, env.publisher.PublishTaskStarted(ctx, TaskStartedPayload{
		Type: EventTypeTaskStarted, TaskID: env.taskID, Status: "running",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}))
	msg = readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeTaskStarted, msg["type"])

	require.NoError(t, env.publisher.PublishTaskProgress(ctx, TaskProgressPayload{
		Type: EventTypeTaskProgress, TaskID: env.taskID,
		Detail: map[string]any{"step": "phase 1"}, Timestamp: time.Now().Format(time.RFC3339Nano),
	}))
	msg = readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeTaskProgress, msg["type"])

	require.NoError(t, env.publisher.PublishTaskCompleted(ctx, TaskCompletedPayload{
		Type: EventTypeTaskCompleted, TaskID: env.taskID, Status: "completed",
		Result: map[string]any{"scanned": float64(3)}, Timestamp: time.Now().Format(time.RFC3339Nano),
	}))
	msg = readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeTaskCompleted, msg["type"])

	// Only the 3 persistent events land in the DB — progress is transient.
	events, err := env.store.GetCatchupEvents(ctx, env.channel, 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, EventTypeTaskQueued, events[0].Payload["type"])
	assert.Equal(t, EventTypeTaskStarted, events[1].Payload["type"])
	assert.Equal(t, EventTypeTaskCompleted, events[2].Payload["type"])
}

func TestIntegration_CancelledWhileQueued_SkipsStarted(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	require.NoError(t, env.publisher.PublishTaskQueued(ctx, TaskQueuedPayload{
		Type: EventTypeTaskQueued, TaskID: env.taskID, ActionID: "scan_library",
		Service: "stash", Status: "queued", Timestamp: time.Now().Format(time.RFC3339Nano),
	}))
	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeTaskQueued, msg["type"])

	require.NoError(t, env.publisher.PublishTaskCancelled(ctx, TaskCancelledPayload{
		Type: EventTypeTaskCancelled, TaskID: env.taskID, Status: "cancelled",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}))
	msg = readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeTaskCancelled, msg["type"])

	events, err := env.store.GetCatchupEvents(ctx, env.channel, 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.NotEqual(t, EventTypeTaskStarted, e.Payload["type"], "no started event should exist for a task cancelled while queued")
	}
}

func TestIntegration_CatchupFromRealDB(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	// Pre-populate DB with 3 persistent events.
	var firstEventID int
	for i := 1; i <= 3; i++ {
		require.NoError(t, env.publisher.PublishTaskCompleted(ctx, TaskCompletedPayload{
			Type: EventTypeTaskCompleted, TaskID: env.taskID, Status: "completed",
			Result:    map[string]any{"seq": i},
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}))
	}

	allEvents, err := env.store.GetCatchupEvents(ctx, env.channel, 0, 100)
	require.NoError(t, err)
	require.Len(t, allEvents, 3)
	firstEventID = allEvents[0].ID

	// Connect a NEW WebSocket client (simulates reconnection).
	conn := env.connectWS(t)
	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	// Subscribe — auto-catchup delivers all 3 prior events immediately.
	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: env.channel})
	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	for i := 1; i <= 3; i++ {
		msg = readJSONTimeout(t, conn, 5*time.Second)
		assert.Equal(t, EventTypeTaskCompleted, msg["type"])
	}

	// Explicit catchup from the first event's ID — should return only events 2 and 3.
	catchupFrom := firstEventID
	writeJSON(t, conn, ClientMessage{
		Action:      "catchup",
		Channel:     env.channel,
		LastEventID: &catchupFrom,
	})

	for i := 0; i < 2; i++ {
		msg = readJSONTimeout(t, conn, 5*time.Second)
		assert.Equal(t, EventTypeTaskCompleted, msg["type"])
	}

	// No more messages — verify with a short deadline.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "should not receive more messages after catchup")
}

func TestIntegration_ResubscribeAfterUnsubscribe_KeepsListen(t *testing.T) {
	// Regression test for the race condition where a rapid unsubscribe/resubscribe
	// cycle (as caused by React StrictMode double-render) would drop the PG LISTEN.
	//
	// The race was:
	//   1. subscribe → LISTEN active
	//   2. unsubscribe → async goroutine: UNLISTEN (deferred)
	//   3. resubscribe → l.Subscribe saw "already listening" → returned early
	//   4. goroutine fired UNLISTEN → PG dropped the LISTEN
	//   5. all subsequent NOTIFY events were silently lost
	//
	// The fix has two parts:
	//   - l.Subscribe always sends LISTEN (no early return; PG handles duplicates)
	//   - the UNLISTEN goroutine re-checks m.channels and skips if resubscribed
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.connectWS(t)
	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: env.channel})
	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	require.Eventually(t, func() bool {
		return env.listener.isListening(env.channel)
	}, 2*time.Second, 10*time.Millisecond, "initial LISTEN should propagate")

	// Rapid unsubscribe + resubscribe (mimics React StrictMode cleanup/remount).
	writeJSON(t, conn, ClientMessage{Action: "unsubscribe", Channel: env.channel})
	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: env.channel})

	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	time.Sleep(200 * time.Millisecond) // Let the async UNLISTEN goroutine run
	require.True(t, env.listener.isListening(env.channel),
		"LISTEN must survive a rapid unsubscribe/resubscribe cycle")

	err := env.publisher.PublishTaskStarted(ctx, TaskStartedPayload{
		Type:      EventTypeTaskStarted,
		TaskID:    env.taskID,
		Status:    "running",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	// Drain any catchup events from the resubscribe before checking for the live event.
	for {
		msg = readJSONTimeout(t, conn, 5*time.Second)
		if msg["type"] == EventTypeTaskStarted {
			break
		}
	}

	assert.Equal(t, EventTypeTaskStarted, msg["type"])
	assert.Equal(t, env.taskID, msg["task_id"])
}

func TestIntegration_ListenerGenerationCounter_StaleUnlistenSkipped(t *testing.T) {
	// Tests the generation counter inside NotifyListener directly, bypassing
	// the ConnectionManager. This exercises the exact scenario from code review:
	//
	//   1. Subscribe → LISTEN, gen=1
	//   2. Concurrent Unsubscribe → captures gen=1, enqueues UNLISTEN(gen=1)
	//   3. Subscribe again → gen=2, enqueues LISTEN
	//   4. cmdCh processes: could be LISTEN then UNLISTEN(gen=1)
	//   5. processPendingCmds detects gen mismatch → skips stale UNLISTEN
	//   6. PG stays listened, l.channels stays true
	env := setupStreamingTest(t)
	ctx := context.Background()
	channel := env.channel

	require.NoError(t, env.listener.Subscribe(ctx, channel))
	require.True(t, env.listener.isListening(channel))

	unsubDone := make(chan struct{})
	go func() {
		defer close(unsubDone)
		_ = env.listener.Unsubscribe(context.Background(), channel)
	}()

	require.NoError(t, env.listener.Subscribe(ctx, channel))

	<-unsubDone

	require.True(t, env.listener.isListening(channel),
		"l.channels must stay true after stale UNLISTEN is skipped")

	conn := env.subscribeAndWait(t)

	err := env.publisher.PublishTaskStarted(ctx, TaskStartedPayload{
		Type:      EventTypeTaskStarted,
		TaskID:    env.taskID,
		Status:    "running",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	for {
		msg := readJSONTimeout(t, conn, 5*time.Second)
		if msg["type"] == EventTypeTaskStarted {
			assert.Equal(t, env.taskID, msg["task_id"])
			break
		}
	}
}
