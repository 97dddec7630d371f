package config

import (
	"fmt"
	"time"

	"notification-service/pkg/config"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	FanoutLocal = "local"
	FanoutRedis = "redis"
)

type StoreConfig struct {
	Driver string `yaml:"driver"`
}

type RealtimeConfig struct {
	Shards        int           `yaml:"shards"`
	QueueSize     int           `yaml:"queue_size"`
	SessionBuffer int           `yaml:"session_buffer"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	RedisChannel  string        `yaml:"redis_channel"`
	Fanout        string        `yaml:"fanout"`
}

type NotificationConfig struct {
	CleanupInterval       time.Duration `yaml:"cleanup_interval"`
	Retention             time.Duration `yaml:"retention"`
	ArchiveDismissedAfter time.Duration `yaml:"archive_dismissed_after"`
	RecentWindow          time.Duration `yaml:"recent_window"`
	DefaultPageSize       int           `yaml:"default_page_size"`
	MaxPageSize           int           `yaml:"max_page_size"`
	DedupTTL              time.Duration `yaml:"dedup_ttl"`
}

type Config struct {
	Server       config.ServerConfig  `yaml:"server"`
	DB           config.DBConfig      `yaml:"db"`
	Redis        config.RedisConfig   `yaml:"redis"`
	MQ           config.MQConfig      `yaml:"mq"`
	JWT          config.JWTConfig     `yaml:"jwt"`
	Tracing      config.TracingConfig `yaml:"tracing"`
	Store        StoreConfig          `yaml:"store"`
	Realtime     RealtimeConfig       `yaml:"realtime"`
	Notification NotificationConfig   `yaml:"notification"`
}

// Load reads CONFIG_DIR (default "config") for CONFIG_ENV, applies
// environment overrides and fills defaults.
func Load() (*Config, error) {
	return LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
}

func LoadFrom(env, dir string) (*Config, error) {
	var cfg Config
	if err := config.Decode(env, dir, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideTracingFromEnv(&cfg.Tracing)

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverPostgres
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "notification-service"
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	if c.MQ.Queue == "" {
		c.MQ.Queue = "notification.domain-events.q"
	}
	if c.MQ.RoutingKey == "" {
		c.MQ.RoutingKey = "domain.#"
	}
	if c.MQ.MaxRetries <= 0 {
		c.MQ.MaxRetries = 5
	}

	r := &c.Realtime
	if r.Shards <= 0 {
		r.Shards = 16
	}
	if r.QueueSize <= 0 {
		r.QueueSize = 1024
	}
	if r.SessionBuffer <= 0 {
		r.SessionBuffer = 64
	}
	if r.PingInterval <= 0 {
		r.PingInterval = 30 * time.Second
	}
	if r.WriteTimeout <= 0 {
		r.WriteTimeout = 10 * time.Second
	}
	if r.RedisChannel == "" {
		r.RedisChannel = "notifications:realtime"
	}
	if r.Fanout == "" {
		r.Fanout = FanoutLocal
	}

	n := &c.Notification
	if n.CleanupInterval <= 0 {
		n.CleanupInterval = time.Hour
	}
	if n.Retention <= 0 {
		n.Retention = 30 * 24 * time.Hour
	}
	if n.ArchiveDismissedAfter <= 0 {
		n.ArchiveDismissedAfter = 7 * 24 * time.Hour
	}
	if n.RecentWindow <= 0 {
		n.RecentWindow = 24 * time.Hour
	}
	if n.DefaultPageSize <= 0 {
		n.DefaultPageSize = 20
	}
	if n.MaxPageSize <= 0 {
		n.MaxPageSize = 100
	}
	if n.DedupTTL <= 0 {
		n.DedupTTL = 24 * time.Hour
	}
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Realtime.Fanout {
	case FanoutLocal:
	case FanoutRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("realtime fanout %q requires redis.enabled", FanoutRedis)
		}
	default:
		return fmt.Errorf("unknown realtime fanout %q", c.Realtime.Fanout)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret must be set")
	}
	if c.Notification.DefaultPageSize > c.Notification.MaxPageSize {
		return fmt.Errorf("notification.default_page_size exceeds max_page_size")
	}
	return nil
}
