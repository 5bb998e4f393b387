package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the scoperesolve process configuration: the HTTP
// surface, the Postgres-backed role/client tables, the resolver rebuild
// parameters, and the ambient observability stack.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Security SecurityConfig `mapstructure:"security"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Scaling  ScalingConfig  `mapstructure:"scaling"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Debug    bool           `mapstructure:"debug"`
}

// ServerConfig contains the thin HTTP surface's listen settings.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

// DatabaseConfig contains the Postgres connection settings for the role
// table and client table (spec §6's role table / client loader external
// interfaces).
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheck     time.Duration `mapstructure:"health_check_period"`
}

// ConnectionString returns the PostgreSQL connection string for this
// database configuration.
func (dc *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dc.User, dc.Password, dc.Host, dc.Port, dc.Database, dc.SSLMode)
}

// ResolverConfig covers the tunables spec §5's hot-reload and §4.4's
// certificate validation need: how often the resolver is allowed to
// rebuild, the ceiling on certificate lifetime, and the MAC algorithm name,
// which Validate accepts only as "sha256", the one algorithm
// internal/signature implements.
type ResolverConfig struct {
	RebuildDebounce        time.Duration `mapstructure:"rebuild_debounce"`
	CertificateMaxLifetime time.Duration `mapstructure:"certificate_max_lifetime"`
	HMACAlgorithm          string        `mapstructure:"hmac_algorithm"`
}

// ScalingConfig selects the distributed-coordination backend used by
// internal/ratelimit (the per-remote-address rate limit at the HTTP
// surface) and internal/resolvercache (cross-instance rebuild
// notification) when running more than one instance.
type ScalingConfig struct {
	Backend  string `mapstructure:"backend"` // "local", "postgres", or "redis"
	RedisURL string `mapstructure:"redis_url"`
}

// TracingConfig contains OpenTelemetry tracing settings for the HTTP
// surface (one span per validated request).
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// SecurityConfig contains the global rate limit guarding the HTTP surface
// from abusive certificate validation traffic.
type SecurityConfig struct {
	EnableGlobalRateLimit bool          `mapstructure:"enable_global_rate_limit"`
	GlobalRateLimit       int           `mapstructure:"global_rate_limit"`
	GlobalRateWindow      time.Duration `mapstructure:"global_rate_window"`
}

// LoggingConfig contains console logging settings.
type LoggingConfig struct {
	ConsoleLevel  string `mapstructure:"console_level"`
	ConsoleFormat string `mapstructure:"console_format"`
}

// Load loads configuration from file and environment variables, mirroring
// the teacher's viper + godotenv layering.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		log.Debug().Msg("No .env file found - using environment variables and defaults")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SCOPERESOLVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configPaths := []string{
		"./scoperesolve.yaml",
		"./scoperesolve.yml",
		"./config/scoperesolve.yaml",
		"/etc/scoperesolve/scoperesolve.yaml",
	}

	var configLoaded bool
	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err == nil {
			viper.SetConfigFile(configPath)
			if err := viper.ReadInConfig(); err != nil {
				log.Warn().Err(err).Str("file", configPath).Msg("Config file found but could not be parsed, using environment variables and defaults")
			} else {
				log.Info().Str("file", configPath).Msg("Config file loaded")
				configLoaded = true
			}
			break
		}
	}

	if !configLoaded {
		log.Info().Msg("No config file found, using environment variables and defaults")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() error {
	locations := []string{".env", ".env.local", "../.env"}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}

func setDefaults() {
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.body_limit", 1<<20) // 1 MiB

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "scoperesolve")
	viper.SetDefault("database.database", "scoperesolve")
	viper.SetDefault("database.ssl_mode", "prefer")
	viper.SetDefault("database.max_connections", int32(10))
	viper.SetDefault("database.min_connections", int32(1))
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.health_check_period", "1m")

	viper.SetDefault("security.enable_global_rate_limit", true)
	viper.SetDefault("security.global_rate_limit", 600)
	viper.SetDefault("security.global_rate_window", "1m")

	viper.SetDefault("resolver.rebuild_debounce", "500ms")
	viper.SetDefault("resolver.certificate_max_lifetime", "744h") // 31 days
	viper.SetDefault("resolver.hmac_algorithm", "sha256")

	viper.SetDefault("scaling.backend", "local")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4317")
	viper.SetDefault("tracing.service_name", "scoperesolve")
	viper.SetDefault("tracing.environment", "development")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("logging.console_level", "info")
	viper.SetDefault("logging.console_format", "console")
}

// Validate validates the configuration, failing fast on values that would
// otherwise surface as confusing errors deep in startup.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration error: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database configuration error: %w", err)
	}
	if err := c.Scaling.Validate(); err != nil {
		return fmt.Errorf("scaling configuration error: %w", err)
	}
	if err := c.Resolver.Validate(); err != nil {
		return fmt.Errorf("resolver configuration error: %w", err)
	}
	if c.Tracing.Enabled {
		if err := c.Tracing.Validate(); err != nil {
			return fmt.Errorf("tracing configuration error: %w", err)
		}
	}
	if c.Metrics.Enabled {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics configuration error: %w", err)
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration error: %w", err)
	}
	return nil
}

// Validate validates server configuration.
func (sc *ServerConfig) Validate() error {
	if sc.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if sc.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got: %v", sc.ReadTimeout)
	}
	if sc.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got: %v", sc.WriteTimeout)
	}
	if sc.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got: %v", sc.IdleTimeout)
	}
	if sc.BodyLimit <= 0 {
		return fmt.Errorf("body_limit must be positive, got: %d", sc.BodyLimit)
	}
	return nil
}

// Validate validates database configuration.
func (dc *DatabaseConfig) Validate() error {
	if dc.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if dc.Port < 1 || dc.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got: %d", dc.Port)
	}
	if dc.User == "" {
		return fmt.Errorf("database user is required")
	}
	if dc.Database == "" {
		return fmt.Errorf("database name is required")
	}
	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	sslModeValid := false
	for _, mode := range validSSLModes {
		if dc.SSLMode == mode {
			sslModeValid = true
			break
		}
	}
	if !sslModeValid {
		return fmt.Errorf("invalid ssl_mode: %s (must be one of: %v)", dc.SSLMode, validSSLModes)
	}
	if dc.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got: %d", dc.MaxConnections)
	}
	if dc.MinConnections < 0 {
		return fmt.Errorf("min_connections cannot be negative, got: %d", dc.MinConnections)
	}
	if dc.MaxConnections < dc.MinConnections {
		return fmt.Errorf("max_connections (%d) must be greater than or equal to min_connections (%d)",
			dc.MaxConnections, dc.MinConnections)
	}
	return nil
}

// Validate validates scaling configuration.
func (sc *ScalingConfig) Validate() error {
	validBackends := []string{"local", "postgres", "redis"}
	backendValid := false
	for _, b := range validBackends {
		if sc.Backend == b {
			backendValid = true
			break
		}
	}
	if !backendValid {
		return fmt.Errorf("invalid scaling backend: %s (must be one of: %v)", sc.Backend, validBackends)
	}
	if sc.Backend == "redis" && sc.RedisURL == "" {
		return fmt.Errorf("redis_url is required when scaling backend is 'redis'")
	}
	return nil
}

// Validate validates resolver configuration.
func (rc *ResolverConfig) Validate() error {
	if rc.RebuildDebounce < 0 {
		return fmt.Errorf("rebuild_debounce cannot be negative, got: %v", rc.RebuildDebounce)
	}
	if rc.CertificateMaxLifetime <= 0 {
		return fmt.Errorf("certificate_max_lifetime must be positive, got: %v", rc.CertificateMaxLifetime)
	}
	if rc.HMACAlgorithm != "sha256" {
		return fmt.Errorf("unsupported hmac_algorithm: %s (only sha256 is implemented)", rc.HMACAlgorithm)
	}
	return nil
}

// Validate validates tracing configuration.
func (tc *TracingConfig) Validate() error {
	if tc.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0, got: %f", tc.SampleRate)
	}
	return nil
}

// Validate validates metrics configuration.
func (mc *MetricsConfig) Validate() error {
	if mc.Port < 1 || mc.Port > 65535 {
		return fmt.Errorf("metrics port must be between 1 and 65535, got: %d", mc.Port)
	}
	if mc.Path == "" {
		return fmt.Errorf("metrics path cannot be empty")
	}
	return nil
}

// Validate validates logging configuration.
func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if lc.ConsoleLevel == level {
			levelValid = true
			break
		}
	}
	if !levelValid && lc.ConsoleLevel != "" {
		return fmt.Errorf("invalid console_level: %s (must be one of: %v)", lc.ConsoleLevel, validLevels)
	}
	if lc.ConsoleFormat != "" && lc.ConsoleFormat != "json" && lc.ConsoleFormat != "console" {
		return fmt.Errorf("invalid console_format: %s (must be 'json' or 'console')", lc.ConsoleFormat)
	}
	return nil
}
