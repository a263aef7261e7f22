// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the public and internal HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health server listens on (e.g. :9090). Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory repositories (not allowed in production).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// PublicBaseURL is the externally reachable base URL used in signing links sent by email.
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim for internal access tokens and viewer sessions.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim for internal access tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// ViewerSessionTTLRaw is the viewing-session token lifetime (e.g. "30m").
	ViewerSessionTTLRaw string `mapstructure:"VIEWER_SESSION_TTL"`
	// RequestDefaultTTLRaw is how long a newly created request stays signable when no expiresAt is given.
	RequestDefaultTTLRaw string `mapstructure:"REQUEST_DEFAULT_TTL"`

	// OTPMaxAttempts is the verification attempt cap per challenge.
	OTPMaxAttempts int `mapstructure:"OTP_MAX_ATTEMPTS"`
	// OTPTTLRaw is the challenge lifetime (e.g. "10m").
	OTPTTLRaw string `mapstructure:"OTP_TTL"`
	// OTPCooldownRaw is the minimum gap between two issuances for the same request (e.g. "60s").
	OTPCooldownRaw string `mapstructure:"OTP_COOLDOWN"`
	// OTPMaxIssues caps how many codes a single request can ever be sent.
	OTPMaxIssues int `mapstructure:"OTP_MAX_ISSUES"`
	// OTPBcryptCost is the bcrypt cost factor (4–31) used to hash codes.
	OTPBcryptCost int `mapstructure:"OTP_BCRYPT_COST"`
	// OTPPolicyFile optionally points to a Rego module replacing the default issuance policy.
	OTPPolicyFile string `mapstructure:"OTP_POLICY_FILE"`
	// DevOTPEnabled exposes GET /dev/sign/{token}/otp. Must not be true when Env is production.
	DevOTPEnabled bool `mapstructure:"DEV_OTP_ENABLED"`

	// MailAPIURL is the HTTP mail relay endpoint. When empty, SMTP is used if SMTPHost is set.
	MailAPIURL string `mapstructure:"MAIL_API_URL"`
	// MailAPIKey is sent as a bearer token to the mail relay.
	MailAPIKey string `mapstructure:"MAIL_API_KEY"`
	// MailFrom is the sender address.
	MailFrom string `mapstructure:"MAIL_FROM"`
	SMTPHost string `mapstructure:"SMTP_HOST"`
	SMTPPort int    `mapstructure:"SMTP_PORT"`
	SMTPUser string `mapstructure:"SMTP_USERNAME"`
	SMTPPass string `mapstructure:"SMTP_PASSWORD"`
	// MailSendTimeoutRaw bounds a single OTP email delivery.
	MailSendTimeoutRaw string `mapstructure:"MAIL_SEND_TIMEOUT"`
	// DocumentFetchTimeoutRaw bounds fetching document content for the integrity hash.
	DocumentFetchTimeoutRaw string `mapstructure:"DOCUMENT_FETCH_TIMEOUT"`

	// RedisURL backs the public route rate limiter. Empty uses an in-process limiter.
	RedisURL string `mapstructure:"REDIS_URL"`
	// PublicRatePerMinute is the per-IP request budget on /sign routes.
	PublicRatePerMinute int `mapstructure:"PUBLIC_RATE_PER_MINUTE"`

	// SweepIntervalRaw is the in-process expiry sweeper period; "0" disables it.
	SweepIntervalRaw string `mapstructure:"SWEEP_INTERVAL"`
	// SweepBatchSize is the number of overdue requests handled per sweep pass.
	SweepBatchSize int `mapstructure:"SWEEP_BATCH_SIZE"`

	// OTLPEndpoint enables OpenTelemetry export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext gRPC connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables lifecycle publishing.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// LifecycleKafkaTopic is the topic lifecycle events are written to and consumed from.
	LifecycleKafkaTopic string `mapstructure:"LIFECYCLE_KAFKA_TOPIC"`
	// Worker-only: KafkaGroupID is the consumer group ID for the lifecycle worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// Worker-only: LokiURL is where the worker pushes lifecycle events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "sign-engine")
	v.SetDefault("JWT_AUDIENCE", "sign-internal")
	v.SetDefault("VIEWER_SESSION_TTL", "30m")
	v.SetDefault("REQUEST_DEFAULT_TTL", "336h") // 14d
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_COOLDOWN", "60s")
	v.SetDefault("OTP_MAX_ISSUES", 10)
	v.SetDefault("OTP_BCRYPT_COST", 10)
	v.SetDefault("OTP_POLICY_FILE", "")
	v.SetDefault("DEV_OTP_ENABLED", false)
	v.SetDefault("MAIL_API_URL", "")
	v.SetDefault("MAIL_API_KEY", "")
	v.SetDefault("MAIL_FROM", "no-reply@localhost")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_SEND_TIMEOUT", "10s")
	v.SetDefault("DOCUMENT_FETCH_TIMEOUT", "15s")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("PUBLIC_RATE_PER_MINUTE", 60)
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("SWEEP_BATCH_SIZE", 100)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "signature-engine")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LIFECYCLE_KAFKA_TOPIC", "signature-lifecycle")
	v.SetDefault("KAFKA_GROUP_ID", "signature-lifecycle-worker")
	v.SetDefault("LOKI_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.DevOTPEnabled && cfg.IsProduction() {
		return nil, errors.New("config: DEV_OTP_ENABLED must not be true when APP_ENV=production")
	}
	if cfg.IsProduction() && cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL is required when APP_ENV=production")
	}
	if cfg.IsProduction() && (cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "") {
		return nil, errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when APP_ENV=production")
	}

	if cfg.OTPMaxAttempts <= 0 {
		return nil, errors.New("config: OTP_MAX_ATTEMPTS must be positive")
	}
	if cfg.OTPMaxIssues <= 0 {
		return nil, errors.New("config: OTP_MAX_ISSUES must be positive")
	}
	if cfg.OTPBcryptCost == 0 {
		cfg.OTPBcryptCost = 10
	}
	if cfg.OTPBcryptCost < 4 || cfg.OTPBcryptCost > 31 {
		return nil, errors.New("config: OTP_BCRYPT_COST must be between 4 and 31")
	}
	if cfg.PublicRatePerMinute < 0 {
		return nil, errors.New("config: PUBLIC_RATE_PER_MINUTE must not be negative")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c != nil && strings.EqualFold(c.Env, "production")
}

// OTPTTL parses OTPTTLRaw. Returns 10m if unset or invalid.
func (c *Config) OTPTTL() time.Duration {
	return parseDuration(c.OTPTTLRaw, 10*time.Minute)
}

// OTPCooldown parses OTPCooldownRaw. Returns 60s if unset or invalid.
func (c *Config) OTPCooldown() time.Duration {
	return parseDuration(c.OTPCooldownRaw, 60*time.Second)
}

// ViewerSessionTTL parses ViewerSessionTTLRaw. Returns 30m if unset or invalid.
func (c *Config) ViewerSessionTTL() time.Duration {
	return parseDuration(c.ViewerSessionTTLRaw, 30*time.Minute)
}

// RequestDefaultTTL parses RequestDefaultTTLRaw. Returns 14 days if unset or invalid.
func (c *Config) RequestDefaultTTL() time.Duration {
	return parseDuration(c.RequestDefaultTTLRaw, 14*24*time.Hour)
}

// MailSendTimeout parses MailSendTimeoutRaw. Returns 10s if unset or invalid.
func (c *Config) MailSendTimeout() time.Duration {
	return parseDuration(c.MailSendTimeoutRaw, 10*time.Second)
}

// DocumentFetchTimeout parses DocumentFetchTimeoutRaw. Returns 15s if unset or invalid.
func (c *Config) DocumentFetchTimeout() time.Duration {
	return parseDuration(c.DocumentFetchTimeoutRaw, 15*time.Second)
}

// SweepInterval parses SweepIntervalRaw. "0" (or any non-positive value) returns 0, meaning disabled.
// Returns 5m if unset or unparsable.
func (c *Config) SweepInterval() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.SweepIntervalRaw))
	if err != nil {
		if strings.TrimSpace(c.SweepIntervalRaw) == "0" {
			return 0
		}
		return 5 * time.Minute
	}
	if d <= 0 {
		return 0
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if lifecycle publishing is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
