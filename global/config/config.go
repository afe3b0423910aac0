// Package config loads gateway node configuration from the environment and an optional .env file.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	BackplaneNATS  = "nats"
	BackplaneRedis = "redis"
	BackplaneLocal = "local"
)

type AppConfig struct {
	NodeId   string `mapstructure:"NODE_ID"`   // 节点ID, empty => random per process
	HTTPAddr string `mapstructure:"HTTP_ADDR"` // ws + admin http
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// AllowedOrigins is a comma list checked on the /ws handshake; empty allows all.
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	MigrateOnStart bool   `mapstructure:"MIGRATE_ON_START"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPoolSize int    `mapstructure:"REDIS_POOL_SIZE"`

	// Backplane selects the cross-process relay: nats, redis or local (single node).
	Backplane       string `mapstructure:"BACKPLANE"`
	BackplanePrefix string `mapstructure:"BACKPLANE_PREFIX"`
	NatsURL         string `mapstructure:"NATS_URL"`
	NatsUser        string `mapstructure:"NATS_USER"`
	NatsPass        string `mapstructure:"NATS_PASS"`
	// RevocationRelay publishes admin revocations so every node applies them to its own sockets.
	RevocationRelay bool `mapstructure:"REVOCATION_RELAY"`

	JWTSecret     string `mapstructure:"JWT_SECRET"`
	JWTAlg        string `mapstructure:"JWT_ALG"`
	AuthCookie    string `mapstructure:"AUTH_COOKIE"`
	SuperuserRole string `mapstructure:"SUPERUSER_ROLE"`
	AdminAPIKey   string `mapstructure:"ADMIN_API_KEY"`

	SendQueueSize int           `mapstructure:"SEND_QUEUE_SIZE"`
	WriteTimeout  time.Duration `mapstructure:"WRITE_TIMEOUT"`
	PingInterval  time.Duration `mapstructure:"PING_INTERVAL"`

	ExpirySweepEvery    time.Duration `mapstructure:"EXPIRY_SWEEP_EVERY"`
	ExpiryCloseAfter    bool          `mapstructure:"EXPIRY_CLOSE_AFTER_NOTIFY"`
	RetentionEvery      time.Duration `mapstructure:"RETENTION_EVERY"`
	RetentionMaxAgeDays int           `mapstructure:"RETENTION_MAX_AGE_DAYS"`
}

// Load reads .env (if present), then builds and validates AppConfig from the environment.
// Env vars override .env.
func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()
	setDefaults(v)

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("NODE_ID", "")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 20)
	v.SetDefault("BACKPLANE", BackplaneNATS)
	v.SetDefault("BACKPLANE_PREFIX", "presence")
	v.SetDefault("NATS_URL", "nats://127.0.0.1:4222")
	v.SetDefault("NATS_USER", "")
	v.SetDefault("NATS_PASS", "")
	v.SetDefault("REVOCATION_RELAY", false)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ALG", "HS256")
	v.SetDefault("AUTH_COOKIE", "access_token")
	v.SetDefault("SUPERUSER_ROLE", "superadmin")
	v.SetDefault("ADMIN_API_KEY", "")
	v.SetDefault("SEND_QUEUE_SIZE", 256)
	v.SetDefault("WRITE_TIMEOUT", "5s")
	v.SetDefault("PING_INTERVAL", "25s")
	v.SetDefault("EXPIRY_SWEEP_EVERY", "1m")
	v.SetDefault("EXPIRY_CLOSE_AFTER_NOTIFY", true)
	v.SetDefault("RETENTION_EVERY", "24h")
	v.SetDefault("RETENTION_MAX_AGE_DAYS", 90)
}

func (c *AppConfig) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be set")
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must be set")
	}
	switch strings.ToLower(c.Backplane) {
	case BackplaneNATS, BackplaneRedis, BackplaneLocal:
		c.Backplane = strings.ToLower(c.Backplane)
	default:
		return errors.Errorf("config: unsupported BACKPLANE %q (nats, redis, local)", c.Backplane)
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.RetentionMaxAgeDays < 0 {
		return errors.New("config: RETENTION_MAX_AGE_DAYS must not be negative")
	}
	return nil
}

// NatsServers splits NATS_URL on commas.
func (c *AppConfig) NatsServers() []string {
	if c == nil {
		return nil
	}
	return splitList(c.NatsURL)
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c *AppConfig) Origins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.AllowedOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
