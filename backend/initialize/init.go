package initialize

import (
	"fmt"
	"net/http"

	"autonova-rmm/backend/app/controllers"
	"autonova-rmm/backend/app/db"
	"autonova-rmm/backend/app/dispatch"
	jwtutil "autonova-rmm/backend/app/jwt"
	"autonova-rmm/backend/app/ledger"
	"autonova-rmm/backend/app/middleware"
	"autonova-rmm/backend/app/models"
	"autonova-rmm/backend/app/relay"
	"autonova-rmm/backend/app/repo"
	"autonova-rmm/backend/app/services"
	"autonova-rmm/backend/app/session"
	"autonova-rmm/backend/config"
	"autonova-rmm/backend/global"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"autonova-rmm/backend/router"
)

// App bundles everything a running backend needs. Build wires it; main
// starts the listeners and calls Close on shutdown.
type App struct {
	Cfg    *config.Config
	DB     *gorm.DB
	Router http.Handler

	Registry   *session.Registry
	Ledger     *ledger.Ledger
	Relay      *relay.Relay
	Dispatcher *dispatch.Dispatcher

	Protocol *controllers.ProtocolController
	CmdLog   *services.CommandLogService
}

func Build(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	global.Config = cfg

	gdb, err := db.Connect(db.Config{
		Driver:   cfg.DB.Driver,
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Pass,
		DBName:   cfg.DB.Name,
		Path:     cfg.DB.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	global.Mdb = gdb

	if err := gdb.AutoMigrate(
		&models.User{},
		&models.Device{},
		&models.CommandRecord{},
		&models.CommandEventRecord{},
		&models.AgentLog{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Repos and services
	userRepo := repo.NewUserRepository(gdb)
	deviceRepo := repo.NewDeviceRepository(gdb)
	cmdRepo := repo.NewCommandRepository(gdb)
	logRepo := repo.NewAgentLogRepository(gdb)

	userSvc := services.NewUserService(userRepo)
	deviceSvc := services.NewDeviceService(deviceRepo)
	agentLogSvc := services.NewAgentLogService(logRepo)
	cmdLogSvc := services.NewCommandLogService(cmdRepo)
	if err := userSvc.EnsureAdmin("admin", "admin123"); err != nil {
		global.Logger.Warn().Err(err).Msg("ensure admin failed")
	}

	// Core: registry, ledger, relay, dispatcher
	reg := session.NewRegistry(cfg.Commands.HeartbeatTimeout, cfg.Commands.SweepInterval)
	led := ledger.New(cfg.Commands.Retention)
	rel := relay.New(led, reg, cmdLogSvc, cfg.Commands.EventBuffer)
	disp := dispatch.New(reg, led, rel, cmdLogSvc, cfg.Commands.MaxInflight)
	reg.SetOnInvalidate(disp.OnInvalidate)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Pass, DB: cfg.Redis.DB})
		global.Rdb = rdb
		rel.EnableRedisMirror(rdb, cfg.Redis.Channel)
	}

	// Controllers
	signer := &jwtutil.Signer{Secret: []byte(cfg.JWT.Secret), Issuer: cfg.JWT.Issuer, ExpMin: cfg.JWT.ExpMin}
	mw := &middleware.Auth{Signer: signer}
	httpCtrl := controllers.NewHTTPController()
	authCtrl := controllers.NewAuthController(userSvc, signer)
	adminCtrl := controllers.NewAdminController(userSvc)
	deviceCtrl := controllers.NewDeviceController(reg, deviceSvc)
	cmdCtrl := controllers.NewCommandController(disp, rel, cmdLogSvc)
	protoCtrl := controllers.NewProtocolController(reg, rel, led, deviceSvc, agentLogSvc, signer)

	h := router.NewRouter(httpCtrl, authCtrl, adminCtrl, deviceCtrl, cmdCtrl, mw)
	h = middleware.Logging(h)

	return &App{
		Cfg:        cfg,
		DB:         gdb,
		Router:     h,
		Registry:   reg,
		Ledger:     led,
		Relay:      rel,
		Dispatcher: disp,
		Protocol:   protoCtrl,
		CmdLog:     cmdLogSvc,
	}, nil
}

// ApplyRuntime pushes the hot-reloadable tunables from a fresh config.
func (a *App) ApplyRuntime(cfg *config.Config) {
	a.Registry.SetHeartbeatTimeout(cfg.Commands.HeartbeatTimeout)
	a.Dispatcher.SetMaxInflight(cfg.Commands.MaxInflight)
	global.Logger.Info().
		Dur("heartbeat_timeout", cfg.Commands.HeartbeatTimeout).
		Int("max_inflight", cfg.Commands.MaxInflight).
		Msg("runtime config applied")
}

// Close stops the background workers in dependency order.
func (a *App) Close() {
	a.Registry.Stop()
	a.Ledger.Stop()
	a.Relay.Stop()
	a.CmdLog.Stop()
}
