package server

import (
	"fmt"
	"net"
	"net/http"

	"autonova-rmm/backend/global"
)

// StartHTTPServer serves the admin HTTP API in a background goroutine.
func StartHTTPServer(host string, port int, handler http.Handler) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	go func() {
		if err := http.Serve(ln, handler); err != nil {
			global.Logger.Error().Err(err).Msg("http server stopped")
		}
	}()
	global.Logger.Info().Msgf("HTTP server is listening on %s...", addr)
	return nil
}
