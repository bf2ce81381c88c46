package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mrtnsch/checkboxes/internal/adapter/memory"
	"github.com/mrtnsch/checkboxes/internal/adapter/metrics"
	"github.com/mrtnsch/checkboxes/internal/broadcast"
	"github.com/mrtnsch/checkboxes/internal/domain"
	"github.com/mrtnsch/checkboxes/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	registry      *broadcast.Registry
	store         *memory.BitmapStore
	handler       *Handler
	toggleMetrics *metrics.ToggleMetrics
	dial          func() *ws.Conn
}

// newTestEnv serves sessions over an httptest server backed by an in-memory
// store of the given size.
func newTestEnv(t *testing.T, size int) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	toggleMetrics := metrics.NewToggleMetrics(reg)

	registry := broadcast.NewRegistry(16, wsMetrics)
	store := memory.NewBitmapStore(size)
	handler := NewHandler(registry, store, clockwork.NewRealClock(), time.Second, wsMetrics, toggleMetrics)
	handler.snapshotRetry.InitialBackoff = time.Millisecond

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		handler.Serve(r.Context(), conn)
	}))
	t.Cleanup(server.Close)

	dial := func() *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	return &testEnv{
		registry:      registry,
		store:         store,
		handler:       handler,
		toggleMetrics: toggleMetrics,
		dial:          dial,
	}
}

func (e *testEnv) waitForClients(t *testing.T, expected int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.registry.Len() == expected },
		time.Second, time.Millisecond, "expected %d registered clients", expected)
}

func readText(t *testing.T, conn *ws.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, ws.TextMessage, messageType)
	return string(data)
}

func readSnapshot(t *testing.T, conn *ws.Conn) protocol.Snapshot {
	t.Helper()
	var snap protocol.Snapshot
	require.NoError(t, json.Unmarshal([]byte(readText(t, conn)), &snap))
	return snap
}

func sendText(t *testing.T, conn *ws.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(text)))
}

func TestSession_EndToEnd(t *testing.T) {
	env := newTestEnv(t, 8)

	first := env.dial()
	snap := readSnapshot(t, first)
	assert.Empty(t, snap.TrueIndices)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, snap.FalseIndices)
	assert.True(t, snap.IsInitial)

	second := env.dial()
	readSnapshot(t, second)
	env.waitForClients(t, 2)

	sendText(t, first, "checkbox:3:true")
	assert.Equal(t, "Checkbox updated: 3:true", readText(t, second))

	third := env.dial()
	snap = readSnapshot(t, third)
	assert.Equal(t, []int{3}, snap.TrueIndices)
	assert.Equal(t, []int{0, 1, 2, 4, 5, 6, 7}, snap.FalseIndices)
	assert.True(t, snap.IsInitial)
}

func TestSession_InitialSnapshotReflectsStore(t *testing.T) {
	env := newTestEnv(t, 12)
	ctx := context.Background()
	require.NoError(t, env.store.SetBit(ctx, 0, true))
	require.NoError(t, env.store.SetBit(ctx, 11, true))

	snap := readSnapshot(t, env.dial())

	assert.Equal(t, []int{0, 11}, snap.TrueIndices)
	assert.Len(t, snap.FalseIndices, 10)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.toggleMetrics.SnapshotsServed.WithLabelValues("ok")))
}

func TestSession_BroadcastExcludesSender(t *testing.T) {
	env := newTestEnv(t, 16)

	a, b, c := env.dial(), env.dial(), env.dial()
	for _, conn := range []*ws.Conn{a, b, c} {
		readSnapshot(t, conn)
	}
	env.waitForClients(t, 3)

	sendText(t, a, "checkbox:3:true")
	assert.Equal(t, "Checkbox updated: 3:true", readText(t, b))
	assert.Equal(t, "Checkbox updated: 3:true", readText(t, c))

	// A's next message is B's change, not an echo of its own.
	sendText(t, b, "checkbox:6:false")
	assert.Equal(t, "Checkbox updated: 6:false", readText(t, a))
	assert.Equal(t, "Checkbox updated: 6:false", readText(t, c))
}

func TestSession_SlowReaderReceivesFullSnapshot(t *testing.T) {
	const size = 4_000_000
	env := newTestEnv(t, size)
	env.handler.writeTimeout = 100 * time.Millisecond
	require.NoError(t, env.store.SetBit(context.Background(), size-1, true))

	conn := env.dial()
	// Let the snapshot fill the socket buffers and stall well past the
	// per-frame write timeout before reading anything.
	time.Sleep(10 * env.handler.writeTimeout)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(30*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap protocol.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.True(t, snap.IsInitial)
	assert.Equal(t, []int{size - 1}, snap.TrueIndices)
	assert.Len(t, snap.FalseIndices, size-1)
	assert.Equal(t, 1, env.registry.Len())
}

func TestSession_OutOfRangeToggleDropped(t *testing.T) {
	env := newTestEnv(t, 8)

	a, b := env.dial(), env.dial()
	readSnapshot(t, a)
	readSnapshot(t, b)
	env.waitForClients(t, 2)

	sendText(t, a, "checkbox:8:true")
	sendText(t, a, "checkbox:4294967295:true")
	sendText(t, a, "checkbox:4294967296:true")
	sendText(t, a, "checkbox:18446744073709551616:false")
	sendText(t, a, "checkbox:7:true")

	assert.Equal(t, "Checkbox updated: 7:true", readText(t, b))
	assert.Equal(t, 0.0, testutil.ToFloat64(env.toggleMetrics.TogglesProcessed.WithLabelValues(metrics.ToggleMalformed)))
	assert.Equal(t, 4.0, testutil.ToFloat64(env.toggleMetrics.TogglesProcessed.WithLabelValues(metrics.ToggleOutOfRange)))

	snap, err := env.store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{7}, snap.TrueIndices)
}

func TestSession_MalformedFramesIgnored(t *testing.T) {
	env := newTestEnv(t, 8)

	a, b := env.dial(), env.dial()
	readSnapshot(t, a)
	readSnapshot(t, b)
	env.waitForClients(t, 2)

	malformed := []string{
		"",
		"hello",
		"checkbox:",
		"checkbox:1",
		"checkbox:x:true",
		"checkbox:-1:true",
		"checkbox:1:yes",
		"checkbox:1:true:extra",
		`{"true_indices":[],"false_indices":[],"is_initial":true}`,
	}
	for _, frame := range malformed {
		sendText(t, a, frame)
	}
	require.NoError(t, a.WriteMessage(ws.BinaryMessage, []byte("checkbox:1:true")))
	sendText(t, a, "checkbox:1:true")

	assert.Equal(t, "Checkbox updated: 1:true", readText(t, b))
	assert.Equal(t, float64(len(malformed)), testutil.ToFloat64(env.toggleMetrics.TogglesProcessed.WithLabelValues(metrics.ToggleMalformed)))
	assert.Equal(t, 2, env.registry.Len(), "malformed frames must not end the session")
}

func TestSession_StoreFailureDropsToggle(t *testing.T) {
	env := newTestEnv(t, 8)

	a, b := env.dial(), env.dial()
	readSnapshot(t, a)
	readSnapshot(t, b)
	env.waitForClients(t, 2)

	env.store.FailWith(fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable))
	sendText(t, a, "checkbox:1:true")
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(env.toggleMetrics.TogglesProcessed.WithLabelValues(metrics.ToggleStoreUnavailable)) == 1
	}, time.Second, time.Millisecond)

	env.store.FailWith(nil)
	sendText(t, a, "checkbox:2:true")

	assert.Equal(t, "Checkbox updated: 2:true", readText(t, b))
	assert.Equal(t, 2, env.registry.Len())
}

func TestSession_SnapshotUnavailableKeepsSessionActive(t *testing.T) {
	env := newTestEnv(t, 8)
	env.store.FailWith(fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable))

	a := env.dial()
	env.waitForClients(t, 1)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(env.toggleMetrics.SnapshotsServed.WithLabelValues("error")) == 1
	}, time.Second, time.Millisecond)

	env.store.FailWith(nil)
	b := env.dial()
	readSnapshot(t, b)
	env.waitForClients(t, 2)

	sendText(t, b, "checkbox:4:true")
	assert.Equal(t, "Checkbox updated: 4:true", readText(t, a))
}

func TestSession_DeregistersOnDisconnect(t *testing.T) {
	env := newTestEnv(t, 8)

	a := env.dial()
	readSnapshot(t, a)
	env.waitForClients(t, 1)

	require.NoError(t, a.Close())
	env.waitForClients(t, 0)
}

func TestSession_ShutdownSendsCloseFrame(t *testing.T) {
	env := newTestEnv(t, 8)

	a := env.dial()
	readSnapshot(t, a)
	env.waitForClients(t, 1)

	assert.Equal(t, 1, env.registry.CloseAll(broadcast.ReasonShutdown))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseGoingAway, closeErr.Code)
	assert.Equal(t, broadcast.ReasonShutdown, closeErr.Text)
	assert.Equal(t, 0, env.registry.Len())
}

func TestHandler_WaitDrainsAfterCloseAll(t *testing.T) {
	env := newTestEnv(t, 8)
	require.NoError(t, env.handler.Wait(context.Background()), "no sessions to wait for")

	a, b := env.dial(), env.dial()
	readSnapshot(t, a)
	readSnapshot(t, b)
	env.waitForClients(t, 2)

	env.registry.CloseAll(broadcast.ReasonShutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.handler.Wait(ctx))

	// Both close frames were written before Wait returned.
	for _, conn := range []*ws.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		var closeErr *ws.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, ws.CloseGoingAway, closeErr.Code)
	}
}

func TestHandler_WaitHonoursContext(t *testing.T) {
	env := newTestEnv(t, 8)
	readSnapshot(t, env.dial())
	env.waitForClients(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, env.handler.Wait(ctx), context.DeadlineExceeded)
}

func TestSession_StateLifecycle(t *testing.T) {
	registry := broadcast.NewRegistry(4, nil)
	handler := NewHandler(registry, memory.NewBitmapStore(8), clockwork.NewRealClock(), time.Second, nil, nil)
	serverConn, clientConn := newTestConnPair(t)

	s := handler.newSession(serverConn)
	assert.Equal(t, Connecting, s.State())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(context.Background())
	}()

	readSnapshot(t, clientConn)
	assert.Equal(t, Active, s.State())
	_, registered := registry.Lookup(s.ID())
	assert.True(t, registered)

	require.NoError(t, clientConn.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after the peer disconnected")
	}

	assert.Equal(t, Closed, s.State())
	_, registered = registry.Lookup(s.ID())
	assert.False(t, registered)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "closing", Closing.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "unknown", State(42).String())
}
