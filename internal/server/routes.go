// Package server wires HTTP handlers into a ServeMux for the chat relay via
// routing helpers.
package server

import (
	"net/http"

	"github.com/Tyrowin/cipherchat/internal/metrics"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up handlers for health check, the WebSocket endpoint, and metrics.
func SetupRoutes(reg *Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler(reg))
	mux.Handle(reg.cfg.MetricsPath, metrics.Handler())
	return mux
}
