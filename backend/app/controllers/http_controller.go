package controllers

import (
	"encoding/json"
	"net/http"
	"time"
)

type HTTPController struct{ started time.Time }

func NewHTTPController() *HTTPController { return &HTTPController{started: time.Now()} }

func (c *HTTPController) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"uptime": time.Since(c.started).Round(time.Second).String(),
	})
}
