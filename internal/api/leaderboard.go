package api

import (
	"net/http"

	"github.com/dennisdiepolder/echo/backend/internal/aggregator"
	"github.com/dennisdiepolder/echo/backend/internal/types"
	"github.com/rs/zerolog"
)

// MaxLeaderboardLimit bounds the limit query parameter
const MaxLeaderboardLimit = 100

// LeaderboardHandler serves the ranked service-level leaderboard
type LeaderboardHandler struct {
	aggregator *aggregator.Aggregator
	logger     zerolog.Logger
}

// NewLeaderboardHandler creates a new LeaderboardHandler
func NewLeaderboardHandler(agg *aggregator.Aggregator, logger zerolog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		aggregator: agg,
		logger:     logger.With().Str("component", "leaderboard_handler").Logger(),
	}
}

// GetLeaderboard returns the top users by service level
// GET /api/leaderboard?limit=5
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", MaxLeaderboardLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	entries, err := h.aggregator.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []types.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
