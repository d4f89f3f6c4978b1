package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dennisdiepolder/echo/backend/internal/ledger"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the ledger error taxonomy onto HTTP status codes
func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	var validation *ledger.ValidationError
	var notFound *ledger.NotFoundError

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		logger.Error().Err(err).
			Str("path", r.URL.Path).
			Str("requestId", chimw.GetReqID(r.Context())).
			Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return &ledger.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()}
	}
	return nil
}
