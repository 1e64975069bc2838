package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/timetrial/go/internal/config"
	"github.com/mcdev12/timetrial/go/internal/gateway"
)

func setupServer(cfg config.Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// WebSocket, state snapshots and clock sync
	services.Gateway.RegisterRoutes(mux)

	// CSV download
	mux.Handle("/api/sessions.csv", services.Exports)

	setupHealthCheck(mux)
	setupInfo(mux, services)

	// Wrap with CORS
	handler := gateway.CORSMiddleware(mux)

	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

func setupInfo(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		info := map[string]any{
			"service":     "timetrial",
			"version":     "1.0.0",
			"connections": services.Gateway.GetStats()["total_connections"],
			"sessions":    len(services.Authority.Leaderboard().Entries()),
			"serial":      services.Bridge != nil,
			"relay":       services.Relay != nil,
		}
		if services.Bridge != nil {
			info["ports"] = services.Bridge.Watched()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.Error().Err(err).Msg("failed to write info response")
		}
	})
}
