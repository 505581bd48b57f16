// Package config loads idgate settings from an optional YAML file and
// IDGATE_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete process configuration.
type Config struct {
	Auth      Auth
	Postgres  Postgres
	Redis     Redis
	Log       Log
	Bootstrap Bootstrap
}

type Auth struct {
	Secret           string
	Issuer           string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Hasher           string
	Pepper           string
	LockoutThreshold int
	LockoutDuration  time.Duration
	LoginRate        float64
	LoginBurst       int
}

type Postgres struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Redis is optional; an empty Addr keeps the token index in process memory.
type Redis struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

type Log struct {
	Level  string
	Format string
}

// Bootstrap describes the administrator created by the seed command.
type Bootstrap struct {
	AdminUsername string
	AdminPassword string
}

// ErrMissingSecret is returned when no token signing secret is configured.
var ErrMissingSecret = errors.New("config: auth.secret is required")

// Load reads configuration. An empty path uses environment variables and defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("IDGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Auth: Auth{
			Secret:           v.GetString("auth.secret"),
			Issuer:           v.GetString("auth.issuer"),
			AccessTTL:        v.GetDuration("auth.access_ttl"),
			RefreshTTL:       v.GetDuration("auth.refresh_ttl"),
			Hasher:           strings.ToLower(v.GetString("auth.hasher")),
			Pepper:           v.GetString("auth.pepper"),
			LockoutThreshold: v.GetInt("auth.lockout_threshold"),
			LockoutDuration:  v.GetDuration("auth.lockout_duration"),
			LoginRate:        v.GetFloat64("auth.login_rate"),
			LoginBurst:       v.GetInt("auth.login_burst"),
		},
		Postgres: Postgres{
			DSN:             v.GetString("postgres.dsn"),
			MaxOpenConns:    v.GetInt("postgres.max_open_conns"),
			MaxIdleConns:    v.GetInt("postgres.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("postgres.conn_max_lifetime"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Username: v.GetString("redis.username"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Bootstrap: Bootstrap{
			AdminUsername: v.GetString("bootstrap.admin_username"),
			AdminPassword: v.GetString("bootstrap.admin_password"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "idgate")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 4*time.Hour)
	v.SetDefault("auth.hasher", "sensitive")
	v.SetDefault("auth.pepper", "")
	v.SetDefault("auth.lockout_threshold", 3)
	v.SetDefault("auth.lockout_duration", 10*time.Minute)
	v.SetDefault("auth.login_rate", 0)
	v.SetDefault("auth.login_burst", 5)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 50)
	v.SetDefault("postgres.max_idle_conns", 25)
	v.SetDefault("postgres.conn_max_lifetime", 15*time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "idgate:rt:")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("bootstrap.admin_username", "")
	v.SetDefault("bootstrap.admin_password", "")
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return ErrMissingSecret
	}
	switch c.Auth.Hasher {
	case "sensitive", "moderate":
	default:
		return fmt.Errorf("config: unknown auth.hasher %q", c.Auth.Hasher)
	}
	if c.Auth.LockoutThreshold <= 0 || c.Auth.LockoutDuration <= 0 {
		return errors.New("config: lockout threshold and duration must be positive")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	return nil
}
