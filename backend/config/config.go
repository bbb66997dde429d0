package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type DB struct {
	Driver string
	Host   string
	Port   int
	User   string
	Pass   string
	Name   string
	Path   string
}

type Redis struct {
	Enabled bool
	Addr    string
	Pass    string
	DB      int
	Channel string
}

type TCP struct {
	Host string
	Port int
}

type HTTP struct {
	Host string
	Port int
}

type Commands struct {
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	MaxInflight      int
	EventBuffer      int
	Retention        time.Duration
}

type Config struct {
	TCP      TCP
	HTTP     HTTP
	DB       DB
	Redis    Redis
	Commands Commands
	JWT      struct {
		Secret string
		Issuer string
		ExpMin int
	}
}

// Load reads the yaml config at path. Every key has a default so an empty
// file yields a runnable dev setup (sqlite, no redis).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.host", "127.0.0.1")
	v.SetDefault("backend.port", 9200)
	v.SetDefault("backend.http.host", "127.0.0.1")
	v.SetDefault("backend.http.port", 9400)

	v.SetDefault("backend.db.driver", "sqlite")
	v.SetDefault("backend.db.host", "127.0.0.1")
	v.SetDefault("backend.db.port", 3306)
	v.SetDefault("backend.db.user", "root")
	v.SetDefault("backend.db.pass", "")
	v.SetDefault("backend.db.name", "autonova_rmm")
	v.SetDefault("backend.db.path", "autonova.db")

	v.SetDefault("backend.redis.enabled", false)
	v.SetDefault("backend.redis.addr", "127.0.0.1:6379")
	v.SetDefault("backend.redis.pass", "")
	v.SetDefault("backend.redis.db", 0)
	v.SetDefault("backend.redis.channel", "autonova:events")

	v.SetDefault("backend.commands.heartbeat_timeout", "90s")
	v.SetDefault("backend.commands.sweep_interval", "15s")
	v.SetDefault("backend.commands.max_inflight", 1)
	v.SetDefault("backend.commands.event_buffer", 128)
	v.SetDefault("backend.commands.retention", "1h")

	v.SetDefault("backend.jwt.secret", "dev-secret")
	v.SetDefault("backend.jwt.issuer", "autonova-rmm")
	v.SetDefault("backend.jwt.exp_min", 60)
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		TCP:  TCP{Host: v.GetString("backend.host"), Port: v.GetInt("backend.port")},
		HTTP: HTTP{Host: v.GetString("backend.http.host"), Port: v.GetInt("backend.http.port")},
		DB: DB{
			Driver: v.GetString("backend.db.driver"),
			Host:   v.GetString("backend.db.host"),
			Port:   v.GetInt("backend.db.port"),
			User:   v.GetString("backend.db.user"),
			Pass:   v.GetString("backend.db.pass"),
			Name:   v.GetString("backend.db.name"),
			Path:   v.GetString("backend.db.path"),
		},
		Redis: Redis{
			Enabled: v.GetBool("backend.redis.enabled"),
			Addr:    v.GetString("backend.redis.addr"),
			Pass:    v.GetString("backend.redis.pass"),
			DB:      v.GetInt("backend.redis.db"),
			Channel: v.GetString("backend.redis.channel"),
		},
		Commands: Commands{
			HeartbeatTimeout: v.GetDuration("backend.commands.heartbeat_timeout"),
			SweepInterval:    v.GetDuration("backend.commands.sweep_interval"),
			MaxInflight:      v.GetInt("backend.commands.max_inflight"),
			EventBuffer:      v.GetInt("backend.commands.event_buffer"),
			Retention:        v.GetDuration("backend.commands.retention"),
		},
	}
	cfg.JWT.Secret = v.GetString("backend.jwt.secret")
	cfg.JWT.Issuer = v.GetString("backend.jwt.issuer")
	cfg.JWT.ExpMin = v.GetInt("backend.jwt.exp_min")

	if cfg.Commands.HeartbeatTimeout <= 0 {
		cfg.Commands.HeartbeatTimeout = 90 * time.Second
	}
	if cfg.Commands.SweepInterval <= 0 {
		cfg.Commands.SweepInterval = 15 * time.Second
	}
	if cfg.Commands.MaxInflight <= 0 {
		cfg.Commands.MaxInflight = 1
	}
	if cfg.Commands.EventBuffer <= 0 {
		cfg.Commands.EventBuffer = 128
	}
	if cfg.Commands.Retention <= 0 {
		cfg.Commands.Retention = time.Hour
	}
	if cfg.JWT.ExpMin <= 0 {
		cfg.JWT.ExpMin = 60
	}
	return cfg
}
