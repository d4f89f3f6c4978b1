package api

import (
	"net/http"

	"github.com/dennisdiepolder/echo/backend/internal/auth"
	"github.com/dennisdiepolder/echo/backend/internal/ledger"
	"github.com/rs/zerolog"
)

// AdminHandler exposes operator actions on the ledger
type AdminHandler struct {
	ledger *ledger.Ledger
	logger zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(l *ledger.Ledger, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		ledger: l,
		logger: logger.With().Str("component", "admin_handler").Logger(),
	}
}

// RequireAdmin middleware, only admin role allowed
func RequireAdmin(next http.Handler) http.Handler {
	return auth.RequireRole(auth.RoleAdmin)(next)
}

// Reconcile backfills abandoned-call rows for users whose legacy counter is
// ahead of the log. Per-user failures are reported in the body with 200.
// POST /api/admin/reconcile
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())
	actor := ""
	if claims != nil {
		actor = claims.Email
	}

	result, err := h.ledger.Reconcile(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info().
		Str("actor", actor).
		Int("usersScanned", result.UsersScanned).
		Int("recordsCreated", result.RecordsCreated).
		Int("failures", len(result.Failures)).
		Msg("reconciliation triggered via admin")

	writeJSON(w, http.StatusOK, result)
}
