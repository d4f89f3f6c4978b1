package api

import (
	"net/http"

	"github.com/dennisdiepolder/echo/backend/internal/ledger"
	"github.com/rs/zerolog"
)

// CallsHandler accepts answered and abandoned call outcomes
type CallsHandler struct {
	ledger *ledger.Ledger
	logger zerolog.Logger
}

// NewCallsHandler creates a new CallsHandler
func NewCallsHandler(l *ledger.Ledger, logger zerolog.Logger) *CallsHandler {
	return &CallsHandler{
		ledger: l,
		logger: logger.With().Str("component", "calls_handler").Logger(),
	}
}

// RecordAnswered stores one scored, answered call
// POST /api/calls/answered
func (h *CallsHandler) RecordAnswered(w http.ResponseWriter, r *http.Request) {
	var in ledger.AnsweredCallInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	call, err := h.ledger.RecordAnsweredCall(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, call)
}

// RecordAbandoned logs one abandonment for the user
// POST /api/calls/abandoned
func (h *CallsHandler) RecordAbandoned(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.ledger.RecordAbandonedCall(r.Context(), req.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
