package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the text2sql engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (API keys, passwords) must only come from environment variables.
type Config struct {
	// Server configuration for the optional HTTP/CLI front door.
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// LLM configuration for the Selector/Decomposer/Refiner agents.
	LLM LLMConfig `yaml:"llm"`

	// Embedding configuration for the retrieval store's vectorizer.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Database configuration (PostgreSQL) for conversation history and
	// training-record persistence.
	Database DatabaseConfig `yaml:"database"`

	// Datasource connection management configuration for the query-executor
	// adapters the Refiner and Selector run queries/introspection against.
	Datasource DatasourceConfig `yaml:"datasource"`

	// Store configuration for the retrieval & training store.
	Store StoreConfig `yaml:"store"`

	// Orchestrator configuration for the workflow state machine.
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Decomposer configuration for sub-question planning.
	Decomposer DecomposerConfig `yaml:"decomposer"`

	// Selector configuration for schema introspection and pruning.
	Selector SelectorConfig `yaml:"selector"`

	// Databases maps a database_id (as passed to process_query) to the
	// target datasource's connection settings.
	Databases map[string]DatabaseEntry `yaml:"databases"`
}

// DatabaseEntry is one entry of the database_id -> datasource mapping.
type DatabaseEntry struct {
	// Type selects the registered adapter: "postgres" or "mssql".
	Type string `yaml:"type"`
	// Config is passed verbatim to the adapter's FromMap.
	Config map[string]any `yaml:"config"`
}

// LLMConfig selects and configures the completion provider shared by all
// three pipeline agents.
type LLMConfig struct {
	// Provider selects the backing client: "openai" or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	// APIKey is a secret; only ever read from the environment.
	APIKey         string `yaml:"-" env:"LLM_API_KEY"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"30"`
}

// EmbeddingConfig configures the vectorizer the retrieval store uses for
// QA-pair and DDL-fragment similarity search.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" env:"EMBEDDING_PROVIDER" env-default:"openai"`
	Model     string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	Dimension int    `yaml:"dimension" env:"EMBEDDING_DIMENSION" env-default:"1536"`
	// APIKey is a secret; only ever read from the environment. Falls back to
	// LLM.APIKey at wiring time when the same provider is used for both.
	APIKey string `yaml:"-" env:"EMBEDDING_API_KEY"`
}

// StoreConfig configures the retrieval & training store.
type StoreConfig struct {
	// Backend selects the vector index: "memory" or "postgres".
	Backend string `yaml:"backend" env:"STORE_BACKEND" env-default:"memory"`
	// PostgresDSN is a secret; only ever read from the environment, and only
	// consulted when Backend is "postgres".
	PostgresDSN         string  `yaml:"-" env:"STORE_POSTGRES_DSN"`
	SimilarityThreshold float32 `yaml:"similarity_threshold" env:"STORE_SIMILARITY_THRESHOLD" env-default:"0.7"`
	MaxContextLength    int     `yaml:"max_context_length" env:"STORE_MAX_CONTEXT_LENGTH" env-default:"8000"`
	MaxExamplesPerType  int     `yaml:"max_examples_per_type" env:"STORE_MAX_EXAMPLES_PER_TYPE" env-default:"3"`
	NoveltyThreshold    float32 `yaml:"novelty_threshold" env:"STORE_NOVELTY_THRESHOLD" env-default:"0.15"`
}

// OrchestratorConfig bounds the workflow state machine's retry behaviour and
// per-stage timeouts.
type OrchestratorConfig struct {
	MaxRetries              int `yaml:"max_retries" env:"ORCHESTRATOR_MAX_RETRIES" env-default:"3"`
	LLMTimeoutSeconds       int `yaml:"llm_timeout_seconds" env:"ORCHESTRATOR_LLM_TIMEOUT_SECONDS" env-default:"30"`
	ExecutionTimeoutSeconds int `yaml:"execution_timeout_seconds" env:"ORCHESTRATOR_EXECUTION_TIMEOUT_SECONDS" env-default:"120"`
}

// DecomposerConfig biases sub-question planning.
type DecomposerConfig struct {
	MaxSubQuestions int `yaml:"max_sub_questions" env:"DECOMPOSER_MAX_SUB_QUESTIONS" env-default:"5"`
	// DatasetProfile is one of "generic", "bird", "spider".
	DatasetProfile string `yaml:"dataset_profile" env:"DECOMPOSER_DATASET_PROFILE" env-default:"generic"`
}

// SelectorConfig biases schema introspection and pruning.
type SelectorConfig struct {
	// FallbackSchemaDir, if non-empty, holds pre-exported
	// "<database_id>.json" schema descriptions consulted when live
	// introspection fails. Empty disables the fallback.
	FallbackSchemaDir string `yaml:"fallback_schema_dir" env:"SELECTOR_FALLBACK_SCHEMA_DIR" env-default:""`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"text2sql"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"text2sql_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	Type           string `yaml:"type" env:"PGTYPE" env-default:"postgres"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// DatasourceConfig holds datasource connection management settings for the
// query-executor/schema-discoverer adapters.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle datasource connections are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// MaxConnectionsPerUser limits concurrent datasource connections per user.
	MaxConnectionsPerUser int `yaml:"max_connections_per_user" env:"DATASOURCE_MAX_CONNECTIONS_PER_USER" env-default:"10"`
	// PoolMaxConns is the maximum number of connections per datasource pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per datasource pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD, LLM_API_KEY,
// EMBEDDING_API_KEY, STORE_POSTGRES_DSN) must come from environment variables
// (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == cfg.LLM.Provider {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set.
	// Use HTTPS scheme if TLS is configured.
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
