package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sysmonfleet service
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Events      EventsConfig      `mapstructure:"events"`
	Deploy      DeployConfig      `mapstructure:"deploy"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Auth        AuthConfig        `mapstructure:"auth"`
	BinaryCache BinaryCacheConfig `mapstructure:"binary_cache"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString builds a pgx-compatible connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// NATSConfig holds the realtime progress bus configuration
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
	Name    string `mapstructure:"name"`
}

// RedisConfig holds the aggregation cache configuration
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// EventsConfig holds the Sysmon event store (OpenSearch) configuration
type EventsConfig struct {
	URL         string        `mapstructure:"url"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Insecure    bool          `mapstructure:"insecure"`
	IndexPrefix string        `mapstructure:"index_prefix"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// DeployConfig holds deployment worker tuning
type DeployConfig struct {
	Parallelism       int           `mapstructure:"parallelism"`
	ExecTimeout       time.Duration `mapstructure:"exec_timeout"`
	PurgeAfterDays    int           `mapstructure:"purge_after_days"`
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`
}

// AgentConfig holds the agent reconciliation protocol settings
type AgentConfig struct {
	// RegistrationSecretHash is the bcrypt hash of the shared registration
	// secret agents present on first contact.
	RegistrationSecretHash string `mapstructure:"registration_secret_hash"`
	PollIntervalSeconds    int    `mapstructure:"poll_interval_seconds"`
	CommandBatchSize       int    `mapstructure:"command_batch_size"`
}

// AuthConfig holds operator API authentication settings
type AuthConfig struct {
	// URL of the external auth service; when empty, JWTSecret is used for
	// local HS256 validation instead.
	URL       string `mapstructure:"url"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Enabled   bool   `mapstructure:"enabled"`
}

// BinaryCacheConfig holds the Sysmon binary cache settings
type BinaryCacheConfig struct {
	Dir         string        `mapstructure:"dir"`
	DownloadURL string        `mapstructure:"download_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "sysmonfleet")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "sysmonfleet")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.name", "sysmonfleet")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)

	v.SetDefault("events.url", "https://localhost:9200")
	v.SetDefault("events.username", "admin")
	v.SetDefault("events.password", "")
	v.SetDefault("events.insecure", true)
	v.SetDefault("events.index_prefix", "sysmonfleet-events")
	v.SetDefault("events.cache_ttl", "5m")

	v.SetDefault("deploy.parallelism", 50)
	v.SetDefault("deploy.exec_timeout", "60s")
	v.SetDefault("deploy.purge_after_days", 30)
	v.SetDefault("deploy.scheduler_interval", "30s")

	v.SetDefault("agent.poll_interval_seconds", 60)
	v.SetDefault("agent.command_batch_size", 10)

	v.SetDefault("auth.enabled", false)

	v.SetDefault("binary_cache.dir", "/var/lib/sysmonfleet/cache")
	v.SetDefault("binary_cache.download_url", "https://download.sysinternals.com/files/Sysmon.zip")
	v.SetDefault("binary_cache.timeout", "120s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("SYSMONFLEET")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Deploy.Parallelism < 1 {
		return nil, fmt.Errorf("deploy.parallelism must be at least 1")
	}

	return &cfg, nil
}
