package api

import (
	"net/http"
	"strings"

	"github.com/meridian/voter-gateway/internal/pkg/httputil"
	"github.com/meridian/voter-gateway/internal/warehouse"
)

type generateSQLRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateSQL turns a natural-language prompt into a guard-checked,
// remapped SELECT without executing it.
//
//	POST /api/query/generate-sql
func (h *Handlers) GenerateSQL(w http.ResponseWriter, r *http.Request) {
	var req generateSQLRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		httputil.BadRequest(w, "prompt is required")
		return
	}

	sqlText, err := h.sqlgen.Generate(r.Context(), req.Prompt)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"sql": sqlText, "prompt": req.Prompt})
}

type executeRequest struct {
	SQL string `json:"sql"`
}

// ExecuteQuery runs one SELECT through the guarded pipeline.
//
//	POST /api/query/execute
func (h *Handlers) ExecuteQuery(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		httputil.BadRequest(w, "sql is required")
		return
	}

	res, err := h.executor.Execute(warehouse.WithCaller(r.Context(), "api"), req.SQL)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, res)
}
