package server

import (
	"autonova-rmm/backend/app/controllers"
	"autonova-rmm/backend/global"
	"autonova-rmm/network"
)

// StartProtocolServer starts the device/observer TCP listener and routes
// every frame through the protocol controller.
func StartProtocolServer(host string, port int, ctrl *controllers.ProtocolController) (*network.Server, error) {
	handler := func(c *network.Conn, f *network.Frame) {
		global.Logger.Debug().
			Str("type", string(f.Type)).
			Str("device", f.DeviceID).
			Str("remote", c.RemoteAddr()).
			Msg("protocol frame received")
		ctrl.HandleMessage(c, f)
	}
	srv, err := network.ListenProtocol(host, port, handler, ctrl.HandleDisconnect)
	if err != nil {
		return nil, err
	}
	global.Logger.Info().Msgf("Protocol server is listening on %s:%d...", host, port)
	return srv, nil
}
