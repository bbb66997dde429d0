package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"autonova-rmm/backend/config"
	"autonova-rmm/backend/global"
	"autonova-rmm/backend/initialize"
	"autonova-rmm/backend/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to yaml config file")
	flag.Parse()

	app, err := initialize.Build(*configPath)
	if err != nil {
		global.Logger.Fatal().Err(err).Msg("backend init failed")
	}
	defer app.Close()

	if err := server.StartHTTPServer(app.Cfg.HTTP.Host, app.Cfg.HTTP.Port, app.Router); err != nil {
		global.Logger.Fatal().Err(err).Msg("http server failed")
	}

	proto, err := server.StartProtocolServer(app.Cfg.TCP.Host, app.Cfg.TCP.Port, app.Protocol)
	if err != nil {
		global.Logger.Fatal().Err(err).Msg("protocol server failed")
	}
	defer proto.Close()

	// Heartbeat timeout and the inflight bound can be tuned without a
	// restart; everything else needs one.
	stopWatch, err := config.Watch(*configPath, func(cfg *config.Config) {
		app.ApplyRuntime(cfg)
	})
	if err != nil {
		global.Logger.Warn().Err(err).Msg("config watch unavailable")
	} else {
		defer stopWatch()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	global.Logger.Info().Str("signal", s.String()).Msg("shutting down")
}
