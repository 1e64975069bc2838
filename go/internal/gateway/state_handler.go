package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timetrial/go/internal/clocksync"
	"github.com/mcdev12/timetrial/go/internal/document"
	"github.com/mcdev12/timetrial/go/internal/models"
)

// StateProvider exposes the current documents for HTTP reads
type StateProvider interface {
	State() document.Map
	Leaderboard() []models.Entry
}

// StateHandler handles HTTP requests for the shared state
type StateHandler struct {
	stateProvider StateProvider
	clock         *clocksync.Server
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider, clock *clocksync.Server) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
		clock:         clock,
	}
}

// HandleGetState handles GET /api/state
func (h *StateHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.stateProvider.State())
}

// HandleGetLeaderboard handles GET /api/leaderboard with the ranked entries
func (h *StateHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.stateProvider.Leaderboard())
}

// HandleGetTime handles GET /api/time?clientTime=<unix ms>
func (h *StateHandler) HandleGetTime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var clientTime int64
	if v := r.URL.Query().Get("clientTime"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid clientTime", http.StatusBadRequest)
			return
		}
		clientTime = parsed
	}
	writeJSON(w, h.clock.Reply(clientTime))
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", h.HandleGetState)
	mux.HandleFunc("/api/leaderboard", h.HandleGetLeaderboard)
	mux.HandleFunc("/api/time", h.HandleGetTime)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
