package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/viant/bigquery"

	"github.com/meridian/voter-gateway/internal/pkg/logger"
)

// ClientConfig holds warehouse connection settings.
type ClientConfig struct {
	ProjectID string
	Dataset   string
}

// Open connects a database/sql pool to BigQuery. Credentials come from the
// ambient application-default chain.
func Open(ctx context.Context, cfg ClientConfig) (*sql.DB, error) {
	if cfg.ProjectID == "" || cfg.Dataset == "" {
		return nil, fmt.Errorf("warehouse: project id and dataset are required")
	}

	dsn := fmt.Sprintf("bigquery://%s/%s", cfg.ProjectID, cfg.Dataset)
	db, err := sql.Open("bigquery", dsn)
	if err != nil {
		return nil, fmt.Errorf("warehouse: open: %w", err)
	}

	// BigQuery jobs are HTTP calls; a small pool is plenty.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("warehouse: ping: %w", err)
	}

	logger.Info("warehouse connected", "project", cfg.ProjectID, "dataset", cfg.Dataset)
	return db, nil
}
