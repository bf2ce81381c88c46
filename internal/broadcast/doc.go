// Package broadcast implements the client registry and change fan-out.
//
// The Registry maps client identifiers to Clients, each owning a bounded outbound
// queue drained by its connection's writer. BroadcastExcept pushes a message to every
// client but the sender under a shared lock and never blocks: closed clients are
// skipped, full queues get their client evicted so it reconnects and resyncs.
package broadcast
