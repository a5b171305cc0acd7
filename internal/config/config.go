package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Server     ServerConfig
	Auth       AuthConfig
	Gateway    GatewayConfig
	Encryption EncryptionConfig
	Slack      SlackConfig
	Production bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings for event fan-out.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// AuthConfig holds service-token verification settings. Token issuance
// is handled by the surrounding platform; this service only validates.
type AuthConfig struct {
	JWTSecret string //nolint:gosec // G117: JWT verification secret config
}

// GatewayConfig holds approval lifecycle and sweeper settings.
type GatewayConfig struct {
	ApprovalTTL      time.Duration // default expiry for new approvals
	StaleClaimAfter  time.Duration // claimed approvals older than this revert to pending
	StuckExecAfter   time.Duration // claimed/running executions older than this are failed
	SweepInterval    time.Duration
	AuditRetention   time.Duration // audit rows older than this are archivable
	ActionRatePerSec float64       // per-actor rate limit on approval actions
	ActionRateBurst  int
	PendingListLimit int
}

// EncryptionConfig holds the checkpoint encryption master key.
type EncryptionConfig struct {
	MasterKey string //nolint:gosec // G117: base64 master key config
}

// SlackConfig holds optional approver notification settings.
type SlackConfig struct {
	BotToken string
	Channel  string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, encryption key) must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("TOOLGATE_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("TOOLGATE_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("TOOLGATE_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("TOOLGATE_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("TOOLGATE_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	approvalTTL, err := getEnvDuration("TOOLGATE_APPROVAL_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	staleClaimAfter, err := getEnvDuration("TOOLGATE_STALE_CLAIM_AFTER", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	stuckExecAfter, err := getEnvDuration("TOOLGATE_STUCK_EXECUTION_AFTER", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sweepInterval, err := getEnvDuration("TOOLGATE_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	auditRetention, err := getEnvDuration("TOOLGATE_AUDIT_RETENTION", 90*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	production, err := getEnvBool("TOOLGATE_PRODUCTION", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("TOOLGATE_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("TOOLGATE_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("TOOLGATE_DB_USER", "toolgate"),
			Password: getEnv("TOOLGATE_DB_PASSWORD", ""),
			DBName:   getEnv("TOOLGATE_DB_NAME", "toolgate_dev"),
			SSLMode:  getEnv("TOOLGATE_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("TOOLGATE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("TOOLGATE_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Server: ServerConfig{
			Addr:         getEnv("TOOLGATE_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("TOOLGATE_JWT_SECRET", ""),
		},
		Gateway: GatewayConfig{
			ApprovalTTL:      approvalTTL,
			StaleClaimAfter:  staleClaimAfter,
			StuckExecAfter:   stuckExecAfter,
			SweepInterval:    sweepInterval,
			AuditRetention:   auditRetention,
			ActionRatePerSec: 0.5,
			ActionRateBurst:  30,
			PendingListLimit: 500,
		},
		Encryption: EncryptionConfig{
			MasterKey: getEnv("TOOLGATE_ENCRYPTION_KEY", ""),
		},
		Slack: SlackConfig{
			BotToken: getEnv("TOOLGATE_SLACK_BOT_TOKEN", ""),
			Channel:  getEnv("TOOLGATE_SLACK_CHANNEL", ""),
		},
		Production: production,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.Auth.JWTSecret == "" {
		return errors.New("TOOLGATE_JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("TOOLGATE_JWT_SECRET must be at least 32 characters")
	}

	// Fail closed: production never degrades to plaintext checkpoints.
	if c.Production && c.Encryption.MasterKey == "" {
		return errors.New("TOOLGATE_ENCRYPTION_KEY is required when TOOLGATE_PRODUCTION=true")
	}
	if !c.Production && c.Encryption.MasterKey == "" {
		log.Warn().Msg("checkpoint encryption disabled; set TOOLGATE_ENCRYPTION_KEY before production exposure")
	}

	if c.Database.SSLMode == "disable" && c.Production {
		log.Warn().Msg("TOOLGATE_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("TOOLGATE_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("TOOLGATE_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("TOOLGATE_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("TOOLGATE_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Gateway.ApprovalTTL <= 0 {
		return fmt.Errorf("TOOLGATE_APPROVAL_TTL must be positive, got %s", c.Gateway.ApprovalTTL)
	}
	if c.Gateway.StaleClaimAfter <= 0 {
		return fmt.Errorf("TOOLGATE_STALE_CLAIM_AFTER must be positive, got %s", c.Gateway.StaleClaimAfter)
	}
	if c.Gateway.StuckExecAfter <= 0 {
		return fmt.Errorf("TOOLGATE_STUCK_EXECUTION_AFTER must be positive, got %s", c.Gateway.StuckExecAfter)
	}
	if c.Gateway.SweepInterval <= 0 {
		return fmt.Errorf("TOOLGATE_SWEEP_INTERVAL must be positive, got %s", c.Gateway.SweepInterval)
	}
	if c.Gateway.AuditRetention <= 0 {
		return fmt.Errorf("TOOLGATE_AUDIT_RETENTION must be positive, got %s", c.Gateway.AuditRetention)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the postgres:// form used by the migration tool.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
