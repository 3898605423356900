package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/meridian/voter-gateway/internal/auth"
	"github.com/meridian/voter-gateway/internal/pkg/httputil"
)

// ListSessions returns the caller's chat sessions.
//
//	GET /api/sessions
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	out, err := h.sessions.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, out)
}

// GetSession returns one session.
//
//	GET /api/sessions/{id}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, s)
}

// SessionHistory returns the session's messages in sequence order.
// An optional after_seq query parameter skips already-seen messages.
//
//	GET /api/sessions/{id}/messages
func (h *Handlers) SessionHistory(w http.ResponseWriter, r *http.Request) {
	afterSeq := 0
	if v := r.URL.Query().Get("after_seq"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "after_seq must be a non-negative integer")
			return
		}
		afterSeq = n
	}

	msgs, err := h.sessions.History(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), afterSeq)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, msgs)
}

type renamePayload struct {
	Name string `json:"name"`
}

// RenameSession sets a session's display name.
//
//	PUT /api/sessions/{id}/rename
func (h *Handlers) RenameSession(w http.ResponseWriter, r *http.Request) {
	var req renamePayload
	if !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	if err := h.sessions.Rename(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), req.Name); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ArchiveSession hides a session from listings.
//
//	POST /api/sessions/{id}/archive
func (h *Handlers) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Archive(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}
