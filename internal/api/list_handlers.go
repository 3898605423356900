package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/meridian/voter-gateway/internal/auth"
	"github.com/meridian/voter-gateway/internal/lists"
	"github.com/meridian/voter-gateway/internal/pkg/httputil"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
)

type listPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"sql"`
	Prompt      string `json:"prompt"`
	RowCount    int    `json:"row_count"`
}

// CreateList saves a new list definition.
//
//	POST /api/lists
func (h *Handlers) CreateList(w http.ResponseWriter, r *http.Request) {
	var req listPayload
	if !httputil.Decode(w, r, &req) {
		return
	}
	l, err := h.lists.Create(r.Context(), auth.UserID(r.Context()), lists.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		SQLText:     req.SQL,
		Prompt:      req.Prompt,
		RowCount:    req.RowCount,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, l)
}

// ListLists returns the caller's active lists.
//
//	GET /api/lists
func (h *Handlers) ListLists(w http.ResponseWriter, r *http.Request) {
	out, err := h.lists.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, out)
}

// GetList returns one list.
//
//	GET /api/lists/{id}
func (h *Handlers) GetList(w http.ResponseWriter, r *http.Request) {
	l, err := h.lists.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, l)
}

type listUpdatePayload struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	SQL         *string `json:"sql"`
	Prompt      *string `json:"prompt"`
}

// UpdateList edits list fields; a changed query re-validates.
//
//	PUT /api/lists/{id}
func (h *Handlers) UpdateList(w http.ResponseWriter, r *http.Request) {
	var req listUpdatePayload
	if !httputil.Decode(w, r, &req) {
		return
	}
	l, err := h.lists.Update(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), lists.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		SQLText:     req.SQL,
		Prompt:      req.Prompt,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, l)
}

// DeleteList soft-deletes a list.
//
//	DELETE /api/lists/{id}
func (h *Handlers) DeleteList(w http.ResponseWriter, r *http.Request) {
	if err := h.lists.Delete(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// RunList re-executes the stored query.
//
//	POST /api/lists/{id}/run
func (h *Handlers) RunList(w http.ResponseWriter, r *http.Request) {
	res, err := h.lists.Run(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, res)
}

// RegenerateListSQL re-derives the stored SQL from the list's saved
// natural-language prompt and persists the new query.
//
//	POST /api/lists/{id}/regenerate-sql
func (h *Handlers) RegenerateListSQL(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	listID := chi.URLParam(r, "id")

	l, err := h.lists.Get(r.Context(), userID, listID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if strings.TrimSpace(l.Prompt) == "" {
		httputil.BadRequest(w, "list has no stored prompt to regenerate from")
		return
	}

	sqlText, err := h.sqlgen.Generate(r.Context(), l.Prompt)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	updated, err := h.lists.Update(r.Context(), userID, listID, lists.UpdateInput{SQLText: &sqlText})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, updated)
}

// ExportList streams the list's current rows as CSV.
//
//	GET /api/lists/{id}/export
func (h *Handlers) ExportList(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="list-`+listID+`.csv"`)
	if err := h.lists.ExportCSV(r.Context(), auth.UserID(r.Context()), listID, w); err != nil {
		// Headers may already be out; log and stop the stream.
		logger.Error("csv export failed", "list_id", listID, "error", err.Error())
	}
}
