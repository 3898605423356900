package warehouse

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian/voter-gateway/internal/domain"
	"github.com/meridian/voter-gateway/internal/pkg/logger"
)

// Executor runs guarded, remapped SELECTs against the warehouse and caches
// results briefly in Redis so repeated agent tool calls within one
// conversation don't re-bill the same scan.
type Executor struct {
	db       *sql.DB
	guard    *Guard
	remapper *Remapper
	cache    *redis.Client // nil disables caching
	rowCap   int
	timeout  time.Duration
	cacheTTL time.Duration
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	RowCap   int
	Timeout  time.Duration
	CacheTTL time.Duration
}

type callerKeyType struct{}

var callerKey callerKeyType

// WithCaller tags the context with the component submitting the query. The
// tag is prepended to the submitted statement as a comment so warehouse-side
// audit logs can attribute spend.
func WithCaller(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, callerKey, name)
}

func callerFrom(ctx context.Context) string {
	if name, ok := ctx.Value(callerKey).(string); ok && name != "" {
		return name
	}
	return "gateway"
}

// NewExecutor wires the executor. cache may be nil.
func NewExecutor(db *sql.DB, guard *Guard, remapper *Remapper, cache *redis.Client, opts ExecutorOptions) *Executor {
	if opts.RowCap <= 0 {
		opts.RowCap = 1_000_000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Executor{
		db:       db,
		guard:    guard,
		remapper: remapper,
		cache:    cache,
		rowCap:   opts.RowCap,
		timeout:  opts.Timeout,
		cacheTTL: opts.CacheTTL,
	}
}

// Prepare runs guard validation and remapping without executing. It returns
// the effective SQL that Execute would submit.
func (e *Executor) Prepare(sqlText string) (string, error) {
	effective := e.remapper.Apply(sqlText)
	if err := e.guard.Validate(effective); err != nil {
		var rej *RejectError
		if errors.As(err, &rej) {
			return "", &domain.QueryError{
				Kind:         domain.QueryErrGuardReject,
				Detail:       rej.Error(),
				OriginalSQL:  sqlText,
				EffectiveSQL: effective,
			}
		}
		return "", err
	}
	return effective, nil
}

// Execute validates, remaps and runs a statement. Row order follows the
// statement's ORDER BY; results beyond the row cap are dropped and the
// result is marked truncated.
func (e *Executor) Execute(ctx context.Context, sqlText string) (*domain.QueryResult, error) {
	effective, err := e.Prepare(sqlText)
	if err != nil {
		return nil, err
	}

	if res, ok := e.cacheGet(ctx, effective); ok {
		res.OriginalSQL = sqlText
		res.CacheHit = true
		return res, nil
	}

	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// The label rides only on the submitted text; effective SQL and the
	// cache key stay label-free so every caller shares one cache entry.
	submitted := fmt.Sprintf("-- caller: %s\n%s", callerFrom(ctx), effective)

	start := time.Now()
	rows, err := e.db.QueryContext(qctx, submitted)
	if err != nil {
		return nil, e.classify(err, sqlText, effective, qctx)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, e.classify(err, sqlText, effective, qctx)
	}

	result := &domain.QueryResult{
		Columns:      cols,
		Rows:         make([][]interface{}, 0, 64),
		OriginalSQL:  sqlText,
		EffectiveSQL: effective,
	}

	scan := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range scan {
		ptrs[i] = &scan[i]
	}

	for rows.Next() {
		if len(result.Rows) >= e.rowCap {
			result.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, e.classify(err, sqlText, effective, qctx)
		}
		row := make([]interface{}, len(cols))
		for i, v := range scan {
			row[i] = coerceValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil && !result.Truncated {
		return nil, e.classify(err, sqlText, effective, qctx)
	}

	result.RowCount = len(result.Rows)
	result.ElapsedMS = time.Since(start).Milliseconds()

	logger.Debug("warehouse query complete",
		"rows", result.RowCount,
		"truncated", result.Truncated,
		"elapsed_ms", result.ElapsedMS)

	e.cachePut(ctx, effective, result)
	return result, nil
}

func (e *Executor) classify(err error, original, effective string, qctx context.Context) error {
	kind := domain.QueryErrBackend
	if errors.Is(err, context.DeadlineExceeded) || qctx.Err() == context.DeadlineExceeded {
		kind = domain.QueryErrTimeout
	}
	return &domain.QueryError{
		Kind:         kind,
		Detail:       err.Error(),
		OriginalSQL:  original,
		EffectiveSQL: effective,
	}
}

func cacheKey(effective string) string {
	sum := sha256.Sum256([]byte(effective))
	return "wh:result:" + hex.EncodeToString(sum[:])
}

func (e *Executor) cacheGet(ctx context.Context, effective string) (*domain.QueryResult, bool) {
	if e.cache == nil {
		return nil, false
	}
	raw, err := e.cache.Get(ctx, cacheKey(effective)).Bytes()
	if err != nil {
		return nil, false
	}
	var res domain.QueryResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false
	}
	return &res, true
}

func (e *Executor) cachePut(ctx context.Context, effective string, res *domain.QueryResult) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, cacheKey(effective), raw, e.cacheTTL).Err(); err != nil {
		logger.Debug("result cache write failed", "error", err.Error())
	}
}

// coerceValue normalizes driver values into JSON-friendly shapes: byte
// slices become strings, timestamps become RFC 3339 strings, and integral
// and decimal numerics become float64 so downstream consumers see one
// numeric type.
func coerceValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	case bool:
		return x
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}
