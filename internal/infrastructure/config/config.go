package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Gateways      GatewaysConfig      `mapstructure:"gateways"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// GatewayConfig is one gateway's credentials and routing preferences.
type GatewayConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Priority         int           `mapstructure:"priority"`
	BaseURL          string        `mapstructure:"base_url"`
	SecretKey        string        `mapstructure:"secret_key"`
	PublicKey        string        `mapstructure:"public_key"`
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	MerchantID       string        `mapstructure:"merchant_id"`
	SupportedMethods []string      `mapstructure:"supported_methods"`
	Regions          []string      `mapstructure:"regions"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type GatewaysConfig struct {
	Paystack    GatewayConfig `mapstructure:"paystack"`
	Flutterwave GatewayConfig `mapstructure:"flutterwave"`
	OPay        GatewayConfig `mapstructure:"opay"`
	// Mock registers simulated gateways instead of the real ones, for local runs.
	Mock bool `mapstructure:"mock"`
}

type BreakerConfig struct {
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	Interval     time.Duration `mapstructure:"interval"`
	OpenTimeout  time.Duration `mapstructure:"open_timeout"`
	HalfOpenMax  uint32        `mapstructure:"half_open_max"`
}

type OrchestratorConfig struct {
	EnableFallback bool          `mapstructure:"enable_fallback"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	MaxRetries     uint          `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

type WebhookConfig struct {
	DedupeTTL              time.Duration `mapstructure:"dedupe_ttl"`
	DedupeBackend          string        `mapstructure:"dedupe_backend"`
	ToleranceMinor         int64         `mapstructure:"tolerance_minor"`
	AutoCorrectMultipliers []int64       `mapstructure:"auto_correct_multipliers"`
	AutoCorrectDirection   string        `mapstructure:"auto_correct_direction"`
	MaxBodyBytes           int64         `mapstructure:"max_body_bytes"`
	RateLimit              int           `mapstructure:"rate_limit"` // requests per minute per IP and endpoint
}

// Dedupe backends.
const (
	DedupeRedis    = "redis"
	DedupePostgres = "postgres"
	DedupeMemory   = "memory"
)

type WorkerConfig struct {
	BatchSize             int           `mapstructure:"batch_size"`
	OutboxPollInterval    time.Duration `mapstructure:"outbox_poll_interval"`
	DedupeCleanupInterval time.Duration `mapstructure:"dedupe_cleanup_interval"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"` // json or console
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

// Load reads configuration from defaults, an optional config.yaml, an
// optional .env file and PAYGATE_* environment variables, in increasing
// order of precedence.
func Load() (*Config, error) {
	// .env is a local convenience; real deployments set the environment.
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paygate")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields have valid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}

	errs = append(errs, c.Gateways.validate()...)

	if c.Orchestrator.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.attempt_timeout must be positive"))
	}
	if c.Orchestrator.HealthInterval <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.health_interval must be positive"))
	}
	if r := c.Orchestrator.Breaker.FailureRatio; r <= 0 || r > 1 {
		errs = append(errs, fmt.Errorf("orchestrator.breaker.failure_ratio must be in (0, 1], got %v", r))
	}

	switch c.Webhook.DedupeBackend {
	case DedupeRedis, DedupePostgres, DedupeMemory:
	default:
		errs = append(errs, fmt.Errorf("webhook.dedupe_backend must be redis, postgres or memory, got %q", c.Webhook.DedupeBackend))
	}
	if c.Webhook.DedupeTTL <= 0 {
		errs = append(errs, fmt.Errorf("webhook.dedupe_ttl must be positive"))
	}

	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Gateways.Mock {
			errs = append(errs, fmt.Errorf("gateways.mock not allowed in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func (g GatewaysConfig) validate() []error {
	if g.Mock {
		return nil
	}
	var errs []error
	enabled := 0
	for name, gw := range map[string]GatewayConfig{"paystack": g.Paystack, "flutterwave": g.Flutterwave, "opay": g.OPay} {
		if !gw.Enabled {
			continue
		}
		enabled++
		if gw.BaseURL == "" {
			errs = append(errs, fmt.Errorf("gateways.%s.base_url is required", name))
		}
		if gw.SecretKey == "" {
			errs = append(errs, fmt.Errorf("gateways.%s.secret_key is required", name))
		}
	}
	if enabled == 0 {
		errs = append(errs, fmt.Errorf("at least one gateway must be enabled"))
	}
	if g.Flutterwave.Enabled && g.Flutterwave.WebhookSecret == "" {
		errs = append(errs, fmt.Errorf("gateways.flutterwave.webhook_secret is required"))
	}
	if g.OPay.Enabled && (g.OPay.MerchantID == "" || g.OPay.PublicKey == "") {
		errs = append(errs, fmt.Errorf("gateways.opay.merchant_id and public_key are required"))
	}
	return errs
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "45s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "paygate")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "paygate")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Gateway defaults. Keys are registered even when empty so env overrides bind.
	gatewayDefaults(v, "paystack", 1, "https://api.paystack.co", []string{"card", "bank_transfer", "ussd", "bank"})
	gatewayDefaults(v, "flutterwave", 2, "https://api.flutterwave.com", []string{"card", "bank_transfer", "ussd", "mobile_money"})
	gatewayDefaults(v, "opay", 3, "https://liveapi.opaycheckout.com", []string{"card", "bank_transfer", "ussd"})
	v.SetDefault("gateways.mock", false)

	// Orchestrator defaults
	v.SetDefault("orchestrator.enable_fallback", true)
	v.SetDefault("orchestrator.attempt_timeout", "30s")
	v.SetDefault("orchestrator.max_retries", 2)
	v.SetDefault("orchestrator.retry_delay", "200ms")
	v.SetDefault("orchestrator.health_interval", "30s")
	v.SetDefault("orchestrator.health_timeout", "5s")
	v.SetDefault("orchestrator.breaker.min_requests", 10)
	v.SetDefault("orchestrator.breaker.failure_ratio", 0.6)
	v.SetDefault("orchestrator.breaker.interval", "60s")
	v.SetDefault("orchestrator.breaker.open_timeout", "30s")
	v.SetDefault("orchestrator.breaker.half_open_max", 10)

	// Webhook defaults
	v.SetDefault("webhook.dedupe_ttl", "72h")
	v.SetDefault("webhook.dedupe_backend", DedupeRedis)
	v.SetDefault("webhook.tolerance_minor", 1)
	v.SetDefault("webhook.auto_correct_multipliers", []int64{100})
	v.SetDefault("webhook.auto_correct_direction", "reported_smaller")
	v.SetDefault("webhook.max_body_bytes", 1<<20)
	v.SetDefault("webhook.rate_limit", 600)

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.dedupe_cleanup_interval", "1h")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry", "24h")

	v.SetDefault("instance_id", "paygate-1")
}

func gatewayDefaults(v *viper.Viper, name string, priority int, baseURL string, methods []string) {
	prefix := "gateways." + name + "."
	v.SetDefault(prefix+"enabled", false)
	v.SetDefault(prefix+"priority", priority)
	v.SetDefault(prefix+"base_url", baseURL)
	v.SetDefault(prefix+"secret_key", "")
	v.SetDefault(prefix+"public_key", "")
	v.SetDefault(prefix+"webhook_secret", "")
	v.SetDefault(prefix+"merchant_id", "")
	v.SetDefault(prefix+"supported_methods", methods)
	v.SetDefault(prefix+"regions", []string{"NG"})
	v.SetDefault(prefix+"timeout", "30s")
}

// DatabaseURL returns the connection URL used by pgx and golang-migrate.
func (c *DatabaseConfig) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
