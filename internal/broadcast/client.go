package broadcast

import (
	"sync"

	"github.com/mrtnsch/checkboxes/internal/domain"
)

// Close reasons sent to the peer in the websocket close frame.
const (
	ReasonSlowConsumer = "slow consumer"
	ReasonShutdown     = "server shutting down"
)

// Client is the registry's handle on one connection: an identifier and the
// bounded outbound queue drained by that connection's writer.
//
// The writer must deliver the initial slot before anything queued on
// Outbound, so a client never sees an incremental update ahead of its first
// full snapshot.
type Client struct {
	id uint64

	mu       sync.RWMutex
	closed   bool
	reason   string
	outbound chan []byte
	done     chan struct{}

	initial     chan []byte
	initialOnce sync.Once
}

func newClient(id uint64, bufferSize int) *Client {
	return &Client{
		id:       id,
		outbound: make(chan []byte, bufferSize),
		done:     make(chan struct{}),
		initial:  make(chan []byte, 1),
	}
}

// ID returns the process-unique client identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Push queues msg without blocking. It fails with domain.ErrChannelClosed
// after Close and with domain.ErrClientSlow when the queue is full.
func (c *Client) Push(msg []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return domain.ErrChannelClosed
	}
	select {
	case c.outbound <- msg:
		return nil
	default:
		return domain.ErrClientSlow
	}
}

// PushInitial fills the one-shot initial slot. Later calls are ignored.
// A nil msg opens the slot without sending anything.
func (c *Client) PushInitial(msg []byte) {
	c.initialOnce.Do(func() {
		c.initial <- msg
	})
}

// Initial yields the initial message exactly once.
func (c *Client) Initial() <-chan []byte {
	return c.initial
}

// Outbound yields queued messages in push order and is closed by Close.
func (c *Client) Outbound() <-chan []byte {
	return c.outbound
}

// Done is closed by Close.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the outbound queue and records why. Only the first call has
// any effect; it reports whether this call closed the client.
func (c *Client) Close(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	c.reason = reason
	close(c.done)
	close(c.outbound)
	return true
}

// CloseReason returns the reason passed to the first Close call.
func (c *Client) CloseReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
