// Package warehouse is the only path to the analytics warehouse. Every
// statement, whether typed by a user or generated by the agent, passes
// through the same pipeline: remap stale vocabulary, validate against the
// SELECT-only allow-list guard, execute with a hard timeout and row cap,
// and serve repeats from a short-lived Redis result cache.
package warehouse
