package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	BackendHost    string
	BackendTCP     int
	DeviceID       string
	Token          string
	LogPath        string
	HeartbeatEvery time.Duration
}

var cfg AppConfig

func Init(path string) AppConfig {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// defaults
	v.SetDefault("agent.backend.host", "127.0.0.1")
	v.SetDefault("agent.backend.tcp", 9200)
	v.SetDefault("agent.heartbeat_every", "30s")
	v.SetDefault("agent.log_path", filepath.Join(os.TempDir(), "autonova-agent.log"))
	_ = v.ReadInConfig()

	cfg = AppConfig{
		BackendHost:    v.GetString("agent.backend.host"),
		BackendTCP:     v.GetInt("agent.backend.tcp"),
		DeviceID:       v.GetString("agent.device_id"),
		Token:          v.GetString("agent.token"),
		LogPath:        v.GetString("agent.log_path"),
		HeartbeatEvery: v.GetDuration("agent.heartbeat_every"),
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 30 * time.Second
	}
	return cfg
}

func Get() AppConfig { return cfg }

func BackendAddr() string { return fmt.Sprintf("%s:%d", cfg.BackendHost, cfg.BackendTCP) }
