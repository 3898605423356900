package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

warehouse:
  project_id: "garden-analytics"
  dataset: "njvoters"
  allowed_tables:
    - "garden-analytics.njvoters.voters"
    - "garden-analytics.njvoters.geocoded"
  row_cap: 500000
  timeout_seconds: 120

sessions:
  backend: "postgres"
  postgres_url: "postgres://localhost/gateway"
  name_width: 40

enrichment:
  price_per_record: 0.30
  daily_budget: 50
  session_confirmation_threshold: 5
  staleness_days: 90

email:
  provider: "sparkpost"
  from_email: "outreach@example.org"
  batch_size: 500
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "garden-analytics", cfg.Warehouse.ProjectID)
	assert.Equal(t, "njvoters", cfg.Warehouse.Dataset)
	assert.Len(t, cfg.Warehouse.AllowedTables, 2)
	assert.Equal(t, 500000, cfg.Warehouse.RowCap)
	assert.Equal(t, 120*time.Second, cfg.Warehouse.Timeout())

	assert.Equal(t, "postgres", cfg.Sessions.Backend)
	assert.Equal(t, 40, cfg.Sessions.NameWidth)

	assert.Equal(t, 0.30, cfg.Enrichment.PricePerRecord)
	assert.Equal(t, 50.0, cfg.Enrichment.DailyBudget)
	assert.Equal(t, 5.0, cfg.Enrichment.ConfirmationThreshold)
	assert.Equal(t, 90*24*time.Hour, cfg.Enrichment.StalenessWindow())

	assert.Equal(t, "sparkpost", cfg.Email.Provider)
	assert.Equal(t, 500, cfg.Email.BatchSize)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
warehouse:
  project_id: "garden-analytics"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 1_000_000, cfg.Warehouse.RowCap)
	assert.Equal(t, 600*time.Second, cfg.Warehouse.Timeout())
	assert.Equal(t, "dynamo", cfg.Sessions.Backend)
	assert.Equal(t, 60, cfg.Sessions.NameWidth)
	assert.Equal(t, 300, cfg.Sessions.RetentionSecs)
	assert.Equal(t, 180*24*time.Hour, cfg.Enrichment.StalenessWindow())
	assert.Equal(t, 1000, cfg.Email.BatchSize)
	assert.Equal(t, 1000, cfg.Email.RecipientCap)
	assert.Equal(t, 20*time.Second, cfg.Transport.PingInterval())
	assert.Equal(t, 40*time.Second, cfg.Transport.PongTimeout())
	assert.Equal(t, "nj", cfg.Warehouse.Dataset)
	assert.Len(t, cfg.Warehouse.AllowedTables, 3)
	assert.Equal(t, "voter-gateway-sessions", cfg.Sessions.DynamoDBTable)
	assert.Equal(t, "voter-gateway-campaigns", cfg.Campaign.DynamoDBTable)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
warehouse:
  project_id: "file-project"
  row_cap: 100
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("WAREHOUSE_PROJECT_ID", "env-project")
	t.Setenv("WAREHOUSE_ROW_CAP", "250")
	t.Setenv("SESSION_BACKEND", "postgres")
	t.Setenv("DAILY_ENRICHMENT_BUDGET", "12.5")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "env-project", cfg.Warehouse.ProjectID)
	assert.Equal(t, 250, cfg.Warehouse.RowCap)
	assert.Equal(t, "postgres", cfg.Sessions.Backend)
	assert.Equal(t, 12.5, cfg.Enrichment.DailyBudget)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
