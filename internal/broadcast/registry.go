package broadcast

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mrtnsch/checkboxes/internal/adapter/metrics"
	"github.com/mrtnsch/checkboxes/internal/domain"
)

const defaultBufferSize = 256

// Registry is the set of connected clients. Register and Deregister take the
// write lock; broadcasts only hold the read lock, so fan-out never blocks
// connection churn for longer than one map iteration.
type Registry struct {
	mu      sync.RWMutex
	clients map[uint64]*Client

	nextID     atomic.Uint64
	bufferSize int
	metrics    *metrics.WebSocketMetrics
}

// NewRegistry creates an empty registry. bufferSize bounds each client's
// outbound queue; wsMetrics may be nil.
func NewRegistry(bufferSize int, wsMetrics *metrics.WebSocketMetrics) *Registry {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Registry{
		clients:    make(map[uint64]*Client),
		bufferSize: bufferSize,
		metrics:    wsMetrics,
	}
}

// NewClient allocates the next identifier and a client for it. The client is
// not registered yet. Identifiers start at 1 and are never reused.
func (r *Registry) NewClient() *Client {
	return newClient(r.nextID.Add(1), r.bufferSize)
}

// Register adds c. Registering an identifier twice is a programming error and panics.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[c.ID()]; exists {
		panic(fmt.Sprintf("broadcast: client %d registered twice", c.ID()))
	}
	r.clients[c.ID()] = c

	if r.metrics != nil {
		r.metrics.ActiveConnections.Inc()
	}
}

// Deregister removes id if present and reports whether it was.
// Removing an absent id is a no-op.
func (r *Registry) Deregister(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[id]; !exists {
		return false
	}
	delete(r.clients, id)

	if r.metrics != nil {
		r.metrics.ActiveConnections.Dec()
	}
	return true
}

// Lookup returns the registered client for id.
func (r *Registry) Lookup(id uint64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// BroadcastExcept queues msg for every registered client except senderID and
// returns how many accepted it. Closed clients are skipped silently; clients
// whose queue is full are deregistered and closed as slow consumers.
func (r *Registry) BroadcastExcept(senderID uint64, msg []byte) int {
	var slow []*Client
	delivered := 0

	r.mu.RLock()
	for id, c := range r.clients {
		if id == senderID {
			continue
		}
		err := c.Push(msg)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, domain.ErrClientSlow):
			slow = append(slow, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range slow {
		r.Deregister(c.ID())
		if c.Close(ReasonSlowConsumer) {
			slog.Warn("Disconnecting slow client", "client_id", c.ID())
			if r.metrics != nil {
				r.metrics.SlowClientsEvicted.Inc()
			}
		}
	}

	return delivered
}

// CloseAll deregisters and closes every client with reason and returns how
// many were closed.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		clients = append(clients, c)
		delete(r.clients, id)
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveConnections.Sub(float64(len(clients)))
	}

	for _, c := range clients {
		c.Close(reason)
	}
	return len(clients)
}
