// Package session runs one websocket connection: it registers the client,
// sends the initial snapshot, applies inbound toggles to the store and fans
// accepted changes out to every other client.
//
// Each connection has two goroutines. The read loop runs on the caller's
// goroutine; the writer drains the client's outbound queue. Closing the
// client is the single shutdown signal for both.
package session
