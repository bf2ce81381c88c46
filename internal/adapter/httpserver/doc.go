// Package httpserver is the Echo front door: the /ws upgrade with its
// connection limits, the read-only checkbox endpoints, health probes,
// Prometheus metrics and the static client.
package httpserver
