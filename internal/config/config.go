package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CAMPUSCHAT"

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type Config struct {
	ServerAddr     string
	DatabaseDriver string
	DatabaseDSN    string
	Migrate        bool
	SigningKey     []byte
	TokenTTL       time.Duration
	AllowedOrigins []string
	Cache          CacheConfig
	Redis          RedisConfig
	Log            LogConfig
	Notifications  NotificationsConfig
}

type CacheConfig struct {
	Driver string
	TTL    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

type NotificationsConfig struct {
	QueueSize     int
	Retention     time.Duration
	PruneSchedule string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "localhost:8000")
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.migrate", true)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cache.driver", CacheNone)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("notifications.queue_size", 256)
	v.SetDefault("notifications.retention", 30*24*time.Hour)
	v.SetDefault("notifications.prune_schedule", "@daily")
}

// Load reads configuration from an optional config file, a .env file and the
// environment, in increasing order of precedence. Environment variables use
// the CAMPUSCHAT_ prefix, e.g. CAMPUSCHAT_DATABASE_DSN.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ServerAddr:     v.GetString("server.addr"),
		DatabaseDriver: strings.ToLower(v.GetString("database.driver")),
		DatabaseDSN:    v.GetString("database.dsn"),
		Migrate:        v.GetBool("database.migrate"),
		TokenTTL:       v.GetDuration("auth.token_ttl"),
		AllowedOrigins: v.GetStringSlice("cors.allowed_origins"),
		Cache: CacheConfig{
			Driver: strings.ToLower(v.GetString("cache.driver")),
			TTL:    v.GetDuration("cache.ttl"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Notifications: NotificationsConfig{
			QueueSize:     v.GetInt("notifications.queue_size"),
			Retention:     v.GetDuration("notifications.retention"),
			PruneSchedule: v.GetString("notifications.prune_schedule"),
		},
	}

	secret := v.GetString("auth.signing_key")
	if secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}
	cfg.SigningKey = signingKey

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	switch c.DatabaseDriver {
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database DSN cannot be empty")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.DatabaseDriver)
	}

	if !slices.Contains([]string{CacheNone, CacheMemory, CacheRedis}, c.Cache.Driver) {
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}
	if c.Cache.Driver == CacheRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis address cannot be empty")
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}

	if c.Notifications.QueueSize <= 0 {
		return fmt.Errorf("notification queue size must be positive")
	}

	return nil
}
