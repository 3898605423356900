// Package session persists chat sessions and their message transcripts.
// Messages carry a per-session sequence number that is dense and
// monotonic: reconnect recovery depends on "give me everything after
// sequence N" returning a gap-free suffix, so sequence allocation is
// atomic in both backends. Two backends exist: DynamoDB for production
// and Postgres for self-hosted deployments; the flag SESSION_BACKEND
// selects one at startup.
package session
