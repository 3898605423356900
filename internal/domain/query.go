package domain

// QueryResult is the streamed, ephemeral view of one warehouse query.
// It is never persisted; saved lists persist the query definition instead.
type QueryResult struct {
	Columns      []string        `json:"columns"`
	Rows         [][]interface{} `json:"rows"`
	RowCount     int             `json:"row_count"`
	Truncated    bool            `json:"truncated"`
	ElapsedMS    int64           `json:"elapsed_ms"`
	OriginalSQL  string          `json:"original_sql"`
	EffectiveSQL string          `json:"effective_sql"`
	CacheHit     bool            `json:"cache_hit,omitempty"`
}

// QueryErrorKind classifies executor failures.
type QueryErrorKind string

const (
	QueryErrGuardReject QueryErrorKind = "guard_reject"
	QueryErrBackend     QueryErrorKind = "backend"
	QueryErrTimeout     QueryErrorKind = "timeout"
)

// QueryError carries an executor failure with both SQL forms so the agent
// can retry or explain. It satisfies the error interface.
type QueryError struct {
	Kind         QueryErrorKind `json:"kind"`
	Detail       string         `json:"detail"`
	OriginalSQL  string         `json:"original_sql,omitempty"`
	EffectiveSQL string         `json:"effective_sql,omitempty"`
}

func (e *QueryError) Error() string {
	return string(e.Kind) + ": " + e.Detail
}
