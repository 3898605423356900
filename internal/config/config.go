package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gateway.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Warehouse  WarehouseConfig  `yaml:"warehouse"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Lists      ListsConfig      `yaml:"lists"`
	Redis      RedisConfig      `yaml:"redis"`
	Agent      AgentConfig      `yaml:"agent"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Email      EmailConfig      `yaml:"email"`
	Geocode    GeocodeConfig    `yaml:"geocode"`
	Search     SearchConfig     `yaml:"search"`
	Docs       DocsConfig       `yaml:"docs"`
	Transport  TransportConfig  `yaml:"transport"`
	Campaign   CampaignConfig   `yaml:"campaign"`
	Auth       AuthConfig       `yaml:"auth"`
	AWS        AWSConfig        `yaml:"aws"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Host    string `yaml:"host"`
	BaseURL string `yaml:"base_url"` // public origin, used for OAuth redirects
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// WarehouseConfig holds the read-only analytics warehouse settings.
type WarehouseConfig struct {
	ProjectID      string   `yaml:"project_id"`
	Region         string   `yaml:"region"`
	Dataset        string   `yaml:"dataset"`
	AllowedTables  []string `yaml:"allowed_tables"`
	RowCap         int      `yaml:"row_cap"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	CacheTTLSecs   int      `yaml:"cache_ttl_seconds"`
}

// Timeout returns the hard per-query deadline.
func (c WarehouseConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns the Redis result-cache TTL.
func (c WarehouseConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// SessionsConfig holds conversation persistence settings.
type SessionsConfig struct {
	Backend         string `yaml:"backend"` // "dynamo" or "postgres"
	DynamoDBTable   string `yaml:"dynamodb_table"`
	PostgresURL     string `yaml:"postgres_url"`
	NameWidth       int    `yaml:"name_width"`
	RetentionSecs   int    `yaml:"message_retention_seconds"`
	CleanupInterval int    `yaml:"cleanup_interval_seconds"`
}

// ListsConfig holds saved-list persistence settings.
type ListsConfig struct {
	DynamoDBTable string `yaml:"dynamodb_table"`
}

// RedisConfig holds cache/counter store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AgentConfig holds LLM runtime settings.
type AgentConfig struct {
	DefaultModelID  string `yaml:"default_model_id"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	MaxCachedAgents int    `yaml:"max_cached_agents"`
}

// EnrichmentConfig holds third-party person enrichment settings.
type EnrichmentConfig struct {
	BaseURL               string  `yaml:"base_url"`
	PricePerRecord        float64 `yaml:"price_per_record"`
	DailyBudget           float64 `yaml:"daily_budget"`
	ConfirmationThreshold float64 `yaml:"session_confirmation_threshold"`
	StalenessDays         int     `yaml:"staleness_days"`
	DynamoDBTable         string  `yaml:"dynamodb_table"`
	TimeoutSeconds        int     `yaml:"timeout_seconds"`
}

// StalenessWindow returns the freshness cutoff for enrichment records.
func (c EnrichmentConfig) StalenessWindow() time.Duration {
	return time.Duration(c.StalenessDays) * 24 * time.Hour
}

// Timeout returns the provider call timeout.
func (c EnrichmentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmailConfig holds email provider settings.
type EmailConfig struct {
	Provider       string `yaml:"provider"` // "sparkpost" or "ses"
	BaseURL        string `yaml:"base_url"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	BatchSize      int    `yaml:"batch_size"`
	RecipientCap   int    `yaml:"recipient_cap"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ArchiveBucket  string `yaml:"archive_bucket"`
}

// Timeout returns the provider call timeout.
func (c EmailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GeocodeConfig holds geocoding provider settings.
type GeocodeConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SearchConfig holds web search provider settings.
type SearchConfig struct {
	BaseURL        string   `yaml:"base_url"`
	BiasDomains    []string `yaml:"bias_domains"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// DocsConfig holds document service settings.
type DocsConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// TransportConfig holds websocket transport settings.
type TransportConfig struct {
	PingIntervalSecs int `yaml:"ping_interval_seconds"`
	PongTimeoutSecs  int `yaml:"pong_timeout_seconds"`
	WriteTimeoutSecs int `yaml:"write_timeout_seconds"`
}

// PingInterval returns the heartbeat interval.
func (c TransportConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSecs) * time.Second
}

// PongTimeout returns how long to wait for a pong before closing.
func (c TransportConfig) PongTimeout() time.Duration {
	return time.Duration(c.PongTimeoutSecs) * time.Second
}

// WriteTimeout returns the per-message write deadline.
func (c TransportConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSecs) * time.Second
}

// CampaignConfig holds campaign persistence settings.
type CampaignConfig struct {
	DynamoDBTable string `yaml:"dynamodb_table"`
}

// AuthConfig holds Google OAuth and token settings.
type AuthConfig struct {
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	AllowedDomain      string `yaml:"allowed_domain"` // workspace domain gate; empty admits any verified account
	DevToken           string `yaml:"dev_token"`      // static bearer for local development; never set in production
}

// AWSConfig holds shared AWS SDK settings.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"` // empty uses the default credential chain
}

// GetProfile returns the AWS profile, with environment override.
func (c AWSConfig) GetProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.Profile
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Warehouse.ProjectID == "" {
		cfg.Warehouse.ProjectID = "proj-voter"
	}
	if cfg.Warehouse.Dataset == "" {
		cfg.Warehouse.Dataset = "nj"
	}
	if cfg.Warehouse.RowCap == 0 {
		cfg.Warehouse.RowCap = 1_000_000
	}
	if cfg.Warehouse.TimeoutSeconds == 0 {
		cfg.Warehouse.TimeoutSeconds = 600
	}
	if cfg.Warehouse.CacheTTLSecs == 0 {
		cfg.Warehouse.CacheTTLSecs = 300
	}
	if cfg.Warehouse.Region == "" {
		cfg.Warehouse.Region = "us-east1"
	}
	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "dynamo"
	}
	if cfg.Sessions.NameWidth == 0 {
		cfg.Sessions.NameWidth = 60
	}
	if cfg.Sessions.RetentionSecs == 0 {
		cfg.Sessions.RetentionSecs = 300
	}
	if cfg.Sessions.CleanupInterval == 0 {
		cfg.Sessions.CleanupInterval = 60
	}
	if cfg.Sessions.DynamoDBTable == "" {
		cfg.Sessions.DynamoDBTable = "voter-gateway-sessions"
	}
	if cfg.Lists.DynamoDBTable == "" {
		cfg.Lists.DynamoDBTable = "voter-gateway-lists"
	}
	if cfg.Enrichment.DynamoDBTable == "" {
		cfg.Enrichment.DynamoDBTable = "voter-gateway-enrichment"
	}
	if cfg.Campaign.DynamoDBTable == "" {
		cfg.Campaign.DynamoDBTable = "voter-gateway-campaigns"
	}
	if len(cfg.Warehouse.AllowedTables) == 0 {
		cfg.Warehouse.AllowedTables = []string{
			"proj-voter.nj.voters",
			"proj-voter.nj.geocodes",
			"proj-voter.nj.donations",
		}
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Agent.DefaultModelID == "" {
		cfg.Agent.DefaultModelID = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	}
	if cfg.Agent.MaxOutputTokens == 0 {
		cfg.Agent.MaxOutputTokens = 4000
	}
	if cfg.Agent.MaxCachedAgents == 0 {
		cfg.Agent.MaxCachedAgents = 256
	}
	if cfg.Enrichment.PricePerRecord == 0 {
		cfg.Enrichment.PricePerRecord = 0.25
	}
	if cfg.Enrichment.DailyBudget == 0 {
		cfg.Enrichment.DailyBudget = 100
	}
	if cfg.Enrichment.ConfirmationThreshold == 0 {
		cfg.Enrichment.ConfirmationThreshold = 10
	}
	if cfg.Enrichment.StalenessDays == 0 {
		cfg.Enrichment.StalenessDays = 180
	}
	if cfg.Enrichment.TimeoutSeconds == 0 {
		cfg.Enrichment.TimeoutSeconds = 60
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "sparkpost"
	}
	if cfg.Email.BaseURL == "" {
		cfg.Email.BaseURL = "https://api.sparkpost.com/api/v1"
	}
	if cfg.Email.BatchSize == 0 {
		cfg.Email.BatchSize = 1000
	}
	if cfg.Email.RecipientCap == 0 {
		cfg.Email.RecipientCap = 1000
	}
	if cfg.Email.TimeoutSeconds == 0 {
		cfg.Email.TimeoutSeconds = 30
	}
	if cfg.Geocode.TimeoutSeconds == 0 {
		cfg.Geocode.TimeoutSeconds = 10
	}
	if cfg.Search.TimeoutSeconds == 0 {
		cfg.Search.TimeoutSeconds = 15
	}
	if cfg.Docs.TimeoutSeconds == 0 {
		cfg.Docs.TimeoutSeconds = 30
	}
	if cfg.Transport.PingIntervalSecs == 0 {
		cfg.Transport.PingIntervalSecs = 20
	}
	if cfg.Transport.PongTimeoutSecs == 0 {
		cfg.Transport.PongTimeoutSecs = 40
	}
	if cfg.Transport.WriteTimeoutSecs == 0 {
		cfg.Transport.WriteTimeoutSecs = 10
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("WAREHOUSE_PROJECT_ID"); v != "" {
		cfg.Warehouse.ProjectID = v
	}
	if v := os.Getenv("WAREHOUSE_REGION"); v != "" {
		cfg.Warehouse.Region = v
	}
	if v := os.Getenv("WAREHOUSE_DATASET"); v != "" {
		cfg.Warehouse.Dataset = v
	}
	if v := os.Getenv("WAREHOUSE_ROW_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Warehouse.RowCap = n
		}
	}
	if v := os.Getenv("WAREHOUSE_QUERY_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Warehouse.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("SESSION_BACKEND"); v != "" {
		cfg.Sessions.Backend = v
	}
	if v := os.Getenv("SESSIONS_POSTGRES_URL"); v != "" {
		cfg.Sessions.PostgresURL = v
	}
	if v := os.Getenv("MESSAGE_RETENTION_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sessions.RetentionSecs = n
		}
	}
	if v := os.Getenv("CLEANUP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sessions.CleanupInterval = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DEFAULT_MODEL_ID"); v != "" {
		cfg.Agent.DefaultModelID = v
	}
	if v := os.Getenv("MAX_OUTPUT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxOutputTokens = n
		}
	}
	if v := os.Getenv("DAILY_ENRICHMENT_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Enrichment.DailyBudget = f
		}
	}
	if v := os.Getenv("SESSION_CONFIRMATION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Enrichment.ConfirmationThreshold = f
		}
	}
	if v := os.Getenv("ENRICHMENT_BASE_URL"); v != "" {
		cfg.Enrichment.BaseURL = v
	}
	if v := os.Getenv("EMAIL_PROVIDER"); v != "" {
		cfg.Email.Provider = v
	}
	if v := os.Getenv("EMAIL_BASE_URL"); v != "" {
		cfg.Email.BaseURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.GoogleClientSecret = v
	}
	if v := os.Getenv("AUTH_DEV_TOKEN"); v != "" {
		cfg.Auth.DevToken = v
	}
	if v := os.Getenv("SERVER_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}

	return cfg, nil
}
