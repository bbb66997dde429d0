package router

import (
	"net/http"

	"autonova-rmm/backend/app/controllers"
	"autonova-rmm/backend/app/middleware"
)

func NewRouter(httpCtrl *controllers.HTTPController, authCtrl *controllers.AuthController, adminCtrl *controllers.AdminController, deviceCtrl *controllers.DeviceController, cmdCtrl *controllers.CommandController, mw *middleware.Auth) http.Handler {
	mux := http.NewServeMux()

	// public
	mux.HandleFunc("/ping", httpCtrl.Ping)
	mux.HandleFunc("/login", authCtrl.Login)

	// any authenticated user
	mux.Handle("/devices", mw.RequireAuth(http.HandlerFunc(deviceCtrl.List)))
	mux.Handle("/devices/detail", mw.RequireAuth(http.HandlerFunc(deviceCtrl.Detail)))

	// admin only
	mux.Handle("/admin/users", mw.RequireAdmin(http.HandlerFunc(adminCtrl.CreateUser)))
	mux.Handle("/admin/device-token", mw.RequireAdmin(http.HandlerFunc(authCtrl.DeviceToken)))
	mux.Handle("/admin/command", mw.RequireAdmin(http.HandlerFunc(cmdCtrl.Submit)))
	mux.Handle("/admin/command/log", mw.RequireAdmin(http.HandlerFunc(cmdCtrl.Log)))
	mux.Handle("/admin/command/replay", mw.RequireAdmin(http.HandlerFunc(cmdCtrl.Replay)))

	return mux
}
