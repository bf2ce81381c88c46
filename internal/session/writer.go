package session

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mrtnsch/checkboxes/internal/adapter/metrics"
	"github.com/mrtnsch/checkboxes/internal/broadcast"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second

	// minInitialThroughput is the slowest link, in bytes per second, that
	// still receives the initial snapshot before its deadline.
	minInitialThroughput = 32 << 10
)

// writer is the only goroutine that writes data frames to the connection.
// Pings and close frames go through WriteControl, which gorilla allows to
// run concurrently with the read loop's automatic close replies.
type writer struct {
	connection *websocket.Conn
	client     *broadcast.Client
	clock      clockwork.Clock
	metrics    *metrics.WebSocketMetrics
	timeout    time.Duration
	done       chan struct{}
}

func startWriter(connection *websocket.Conn, client *broadcast.Client, clock clockwork.Clock, timeout time.Duration, wsMetrics *metrics.WebSocketMetrics) *writer {
	if timeout <= 0 {
		timeout = writeDeadline
	}
	w := &writer{
		connection: connection,
		client:     client,
		clock:      clock,
		metrics:    wsMetrics,
		timeout:    timeout,
		done:       make(chan struct{}),
	}
	go w.run()
	return w
}

// run delivers the initial slot first, then the outbound queue in order.
// Any write failure ends the writer and closes the connection, which in turn
// ends the read loop.
func (w *writer) run() {
	defer close(w.done)
	defer func() { _ = w.connection.Close() }()

	ticker := w.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	initial := w.client.Initial()
	var outbound <-chan []byte

	for {
		select {
		case msg := <-initial:
			initial = nil
			outbound = w.client.Outbound()
			if msg != nil && !w.write(msg, w.initialTimeout(len(msg))) {
				return
			}
		case msg, ok := <-outbound:
			if !ok {
				w.writeClose()
				return
			}
			if !w.write(msg, w.timeout) {
				return
			}
		case <-w.client.Done():
			w.writeClose()
			return
		case <-ticker.Chan():
			deadline := w.clock.Now().Add(w.timeout)
			if err := w.connection.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if w.metrics != nil {
					w.metrics.PingFailures.Inc()
				}
				return
			}
		}
	}
}

// initialTimeout grows the write deadline with the snapshot size, so a
// multi-megabyte snapshot is not cut off on a slow link.
func (w *writer) initialTimeout(size int) time.Duration {
	return w.timeout + time.Duration(float64(size)/minInitialThroughput*float64(time.Second))
}

func (w *writer) write(msg []byte, timeout time.Duration) bool {
	_ = w.connection.SetWriteDeadline(w.clock.Now().Add(timeout))
	if err := w.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
		return false
	}
	if w.metrics != nil {
		w.metrics.MessagesSent.Inc()
	}
	return true
}

// writeClose sends a close frame carrying the client's close reason. Errors
// are ignored: the peer may already be gone.
func (w *writer) writeClose() {
	reason := w.client.CloseReason()
	frame := websocket.FormatCloseMessage(closeCode(reason), reason)
	_ = w.connection.WriteControl(websocket.CloseMessage, frame, w.clock.Now().Add(w.timeout))
}

func closeCode(reason string) int {
	switch reason {
	case broadcast.ReasonShutdown:
		return websocket.CloseGoingAway
	case broadcast.ReasonSlowConsumer:
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseNormalClosure
	}
}
