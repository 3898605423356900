// Package agent wraps the Bedrock tool-calling runtime. It exposes the
// gateway's operations as model tools, runs the tool-use loop, and
// normalizes the runtime's heterogeneous streaming chunks into one
// deterministic assistant string. Live agent instances are cached per
// session and evicted on model change, corrupted history, or LRU
// pressure.
package agent
