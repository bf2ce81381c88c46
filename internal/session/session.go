package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mrtnsch/checkboxes/internal/adapter/metrics"
	"github.com/mrtnsch/checkboxes/internal/broadcast"
	"github.com/mrtnsch/checkboxes/internal/domain"
	"github.com/mrtnsch/checkboxes/internal/platform/retry"
	"github.com/mrtnsch/checkboxes/internal/protocol"
)

const defaultStoreTimeout = 2 * time.Second

// State is the lifecycle stage of a session.
type State int32

const (
	Connecting State = iota
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler creates a Session for every upgraded connection. It is safe for
// concurrent use; all sessions share its registry and store.
type Handler struct {
	registry      *broadcast.Registry
	store         domain.CheckboxStore
	clock         clockwork.Clock
	storeTimeout  time.Duration
	writeTimeout  time.Duration
	snapshotRetry retry.Policy
	wsMetrics     *metrics.WebSocketMetrics
	toggleMetrics *metrics.ToggleMetrics

	mu      sync.Mutex
	active  int
	drained chan struct{}
}

// NewHandler wires sessions to the registry and store. Both metric groups may be nil.
func NewHandler(
	registry *broadcast.Registry,
	store domain.CheckboxStore,
	clock clockwork.Clock,
	storeTimeout time.Duration,
	wsMetrics *metrics.WebSocketMetrics,
	toggleMetrics *metrics.ToggleMetrics,
) *Handler {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Handler{
		registry:     registry,
		store:        store,
		clock:        clock,
		storeTimeout: storeTimeout,
		writeTimeout: writeDeadline,
		snapshotRetry: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   100 * time.Millisecond,
			RateLimitBackoff: time.Second,
		},
		wsMetrics:     wsMetrics,
		toggleMetrics: toggleMetrics,
	}
}

// Serve runs a session on conn until the connection ends. It blocks, so the
// caller's goroutine becomes the session's read loop.
func (h *Handler) Serve(ctx context.Context, conn *websocket.Conn) {
	defer h.track()()
	h.newSession(conn).run(ctx)
}

// track counts a running session; the returned func ends it.
func (h *Handler) track() func() {
	h.mu.Lock()
	if h.active == 0 {
		h.drained = make(chan struct{})
	}
	h.active++
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.active--
		if h.active == 0 {
			close(h.drained)
		}
	}
}

// Wait blocks until every running session has finished its teardown,
// including the close frame, or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	h.mu.Lock()
	if h.active == 0 {
		h.mu.Unlock()
		return nil
	}
	drained := h.drained
	h.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions to close: %w", ctx.Err())
	}
}

// Clients returns the number of registered clients.
func (h *Handler) Clients() int {
	return h.registry.Len()
}

// Session is one connected client.
type Session struct {
	handler    *Handler
	connection *websocket.Conn
	client     *broadcast.Client
	writer     *writer
	logger     *slog.Logger
	state      atomic.Int32
}

func (h *Handler) newSession(conn *websocket.Conn) *Session {
	client := h.registry.NewClient()
	return &Session{
		handler:    h,
		connection: conn,
		client:     client,
		logger:     slog.Default().With("client_id", client.ID()),
	}
}

// ID returns the client identifier.
func (s *Session) ID() uint64 {
	return s.client.ID()
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Session) run(ctx context.Context) {
	h := s.handler
	start := h.clock.Now()

	h.registry.Register(s.client)
	s.writer = startWriter(s.connection, s.client, h.clock, h.writeTimeout, h.wsMetrics)
	s.setState(Active)
	s.logger.InfoContext(ctx, "Client connected", "clients", h.registry.Len())

	s.sendInitialSnapshot(ctx)
	s.readLoop(ctx)

	s.setState(Closing)
	h.registry.Deregister(s.client.ID())
	s.client.Close("")
	<-s.writer.done
	_ = s.connection.Close()
	s.setState(Closed)

	if h.wsMetrics != nil {
		h.wsMetrics.ConnectionDuration.Observe(h.clock.Since(start).Seconds())
	}
	s.logger.InfoContext(ctx, "Client disconnected", "reason", s.client.CloseReason())
}

// sendInitialSnapshot fills the client's initial slot. When the store stays
// unavailable the slot is released empty so incremental updates still flow.
func (s *Session) sendInitialSnapshot(ctx context.Context) {
	h := s.handler

	policy := h.snapshotRetry
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		s.logger.WarnContext(ctx, "Snapshot fetch failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	}

	snap, err := retry.Do(ctx, policy, classifyStoreError, func() (domain.Snapshot, error) {
		storeCtx, cancel := context.WithTimeout(ctx, h.storeTimeout)
		defer cancel()
		return h.store.Snapshot(storeCtx)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to fetch initial snapshot", "error", err)
		s.observeSnapshot("error")
		s.client.PushInitial(nil)
		return
	}

	data, err := protocol.Encode(protocol.NewSnapshot(snap, true))
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to encode initial snapshot", "error", err)
		s.observeSnapshot("error")
		s.client.PushInitial(nil)
		return
	}

	s.client.PushInitial(data)
	s.observeSnapshot("ok")
	s.logger.DebugContext(ctx, "Initial snapshot queued", "checked", len(snap.TrueIndices), "size", snap.Size())
}

func classifyStoreError(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrOutOfRange) {
		return retry.Stop
	}
	return retry.Retry
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		messageType, data, err := s.connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.DebugContext(ctx, "Connection read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			s.logger.DebugContext(ctx, "Ignoring non-text frame", "type", messageType)
			continue
		}
		s.handleFrame(ctx, data)
	}
}

// handleFrame applies one inbound toggle. Rejected toggles are dropped
// without notifying anyone, the sender included.
func (s *Session) handleFrame(ctx context.Context, data []byte) {
	h := s.handler
	start := h.clock.Now()

	toggle, err := protocol.DecodeToggle(data)
	if errors.Is(err, domain.ErrOutOfRange) {
		s.logger.WarnContext(ctx, "Dropping toggle", "reason", metrics.ToggleOutOfRange, "error", err)
		s.observeToggle(metrics.ToggleOutOfRange)
		return
	}
	if err != nil {
		s.logger.DebugContext(ctx, "Ignoring malformed frame", "error", err)
		s.observeToggle(metrics.ToggleMalformed)
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	err = h.store.SetBit(storeCtx, toggle.Index, toggle.Checked)
	cancel()
	if err != nil {
		result := metrics.ToggleStoreUnavailable
		if errors.Is(err, domain.ErrOutOfRange) {
			result = metrics.ToggleOutOfRange
		}
		s.logger.WarnContext(ctx, "Dropping toggle", "index", toggle.Index, "checked", toggle.Checked, "reason", result, "error", err)
		s.observeToggle(result)
		return
	}

	msg, err := protocol.Encode(protocol.Change(toggle))
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to encode change", "error", err)
		return
	}
	recipients := h.registry.BroadcastExcept(s.client.ID(), msg)

	s.observeToggle(metrics.ToggleAccepted)
	if h.toggleMetrics != nil {
		h.toggleMetrics.BroadcastFanout.Observe(float64(recipients))
		h.toggleMetrics.ProcessingDuration.Observe(h.clock.Since(start).Seconds())
	}
}

func (s *Session) observeToggle(result string) {
	if m := s.handler.toggleMetrics; m != nil {
		m.TogglesProcessed.WithLabelValues(result).Inc()
	}
}

func (s *Session) observeSnapshot(result string) {
	if m := s.handler.toggleMetrics; m != nil {
		m.SnapshotsServed.WithLabelValues(result).Inc()
	}
}
