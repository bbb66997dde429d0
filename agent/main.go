package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autonova-rmm/agent/internal/config"
	"autonova-rmm/agent/internal/connection"
	"autonova-rmm/agent/internal/logger"
)

func main() {
	var (
		cfgPath    = flag.String("config", "config/config.yaml", "Path to configuration file")
		deviceID   = flag.String("device-id", "", "Device id (overrides config)")
		token      = flag.String("token", "", "Device token (overrides config)")
		maxRetries = flag.Int("max-retries", 10, "Maximum retry attempts for backend connection")
		retryDelay = flag.Duration("retry-delay", 1*time.Second, "Base delay between retry attempts")
	)
	flag.Parse()

	cfg := config.Init(*cfgPath)
	if err := logger.Init(cfg.LogPath); err != nil {
		_ = logger.Init("")
	}

	if *deviceID != "" {
		cfg.DeviceID = *deviceID
	}
	if *token != "" {
		cfg.Token = *token
	}
	if cfg.DeviceID == "" || cfg.Token == "" {
		logger.Error("Missing device id or token; set agent.device_id and agent.token or pass flags")
		os.Exit(1)
	}

	logger.Infof("Agent will retry up to %d times with a base delay of %v...", *maxRetries, *retryDelay)

	connMgr := connection.New(cfg.BackendHost, cfg.BackendTCP, cfg.DeviceID, cfg.Token, cfg.HeartbeatEvery)
	if err := connMgr.Connect(*maxRetries, *retryDelay); err != nil {
		logger.Error("Failed to establish connection:", err)
		os.Exit(1)
	}
	defer connMgr.Close()

	go connMgr.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, exiting...")
	case <-connMgr.Done():
		logger.Info("Connection manager stopped, exiting...")
	}
}
