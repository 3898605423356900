// Package orchestrator runs the chat turn lifecycle: it selects or
// creates the session, persists both sides of the exchange, streams
// assistant chunks to the transport, and recovers partial turns after a
// reconnect.
package orchestrator
