package config

import "time"

// ServerConfig holds HTTP server and global query scheduling settings.
type ServerConfig struct {
	// ListenAddr is the HTTP bind address, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// AuthTokenEnv names the env var carrying the static bearer token that
	// guards the API. Empty value in the env disables auth (dev only).
	AuthTokenEnv string `yaml:"auth_token_env"`

	// MaxConcurrentQueries bounds queries executing at once in this replica.
	MaxConcurrentQueries int `yaml:"max_concurrent_queries"`

	// QueryTimeout is the end-to-end deadline for one query pipeline run.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// ShutdownTimeout is the max time to drain in-flight HTTP requests.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PostgresConfig holds the relational/vector store connection settings.
type PostgresConfig struct {
	// DSNEnv names the env var with the connection string. The loader reads
	// it at Initialize time so the DSN never appears in YAML.
	DSNEnv string `yaml:"dsn_env"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// EmbeddingDimensions is the pgvector column dimension; must match the
	// embedding model output size.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// RedisConfig holds the k/v store connection settings.
type RedisConfig struct {
	// AddrEnv names the env var with host:port. Defaults to SAGE_REDIS_ADDR.
	AddrEnv  string `yaml:"addr_env"`
	Addr     string `yaml:"addr"` // fallback when AddrEnv is unset in the environment
	DB       int    `yaml:"db"`
	Password string `yaml:"password,omitempty"`

	// KeyPrefix namespaces every key written by this deployment.
	KeyPrefix string `yaml:"key_prefix"`
}
