package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/ledger"
	"github.com/dennisdiepolder/echo/backend/internal/trend"
	"github.com/dennisdiepolder/echo/backend/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// MaxTrendDays bounds the days query parameter
const MaxTrendDays = 366

// UserHandler provides per-user history, totals and trend endpoints
type UserHandler struct {
	ledger *ledger.Ledger
	trend  *trend.Builder
	clock  ledger.Clock
	logger zerolog.Logger
}

// NewUserHandler creates a new UserHandler; clock defaults to time.Now
func NewUserHandler(l *ledger.Ledger, b *trend.Builder, clock ledger.Clock, logger zerolog.Logger) *UserHandler {
	if clock == nil {
		clock = time.Now
	}
	return &UserHandler{
		ledger: l,
		trend:  b,
		clock:  clock,
		logger: logger.With().Str("component", "user_handler").Logger(),
	}
}

// GetHistory returns the user's answered calls, newest first
// GET /api/users/{userId}/history
func (h *UserHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	calls, err := h.ledger.GetHistory(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if calls == nil {
		calls = []types.AnsweredCall{}
	}
	writeJSON(w, http.StatusOK, calls)
}

// GetAbandonedHistory returns the user's abandoned calls, newest first
// GET /api/users/{userId}/abandoned-history
func (h *UserHandler) GetAbandonedHistory(w http.ResponseWriter, r *http.Request) {
	calls, err := h.ledger.GetAbandonedHistory(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if calls == nil {
		calls = []types.AbandonedCall{}
	}
	writeJSON(w, http.StatusOK, calls)
}

// GetStats returns answered and abandoned totals
// GET /api/users/{userId}/stats
func (h *UserHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.GetStats(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetTrend returns one bucket per calendar day, oldest first
// GET /api/users/{userId}/trend?days=7
func (h *UserHandler) GetTrend(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", MaxTrendDays)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	buckets, err := h.trend.Trend(r.Context(), chi.URLParam(r, "userId"), days, h.clock())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

// GetSentimentMix returns the positive/negative/neutral split over all calls
// GET /api/users/{userId}/sentiment-mix
func (h *UserHandler) GetSentimentMix(w http.ResponseWriter, r *http.Request) {
	mix, err := h.trend.SentimentMix(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mix)
}

// queryInt parses an optional integer parameter; absent means 0 so the
// service default applies
func queryInt(r *http.Request, name string, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ledger.ValidationError{Field: name, Reason: "must be an integer"}
	}
	if n > max {
		return 0, &ledger.ValidationError{Field: name, Reason: "must be at most " + strconv.Itoa(max)}
	}
	return n, nil
}
