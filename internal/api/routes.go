package api

import (
	"github.com/go-chi/chi/v5"
)

// Server groups the handlers mounted under /api
type Server struct {
	Calls       *CallsHandler
	Users       *UserHandler
	Leaderboard *LeaderboardHandler
	Admin       *AdminHandler
}

// Routes registers every /api endpoint on r
func (s *Server) Routes(r chi.Router) {
	r.Post("/calls/answered", s.Calls.RecordAnswered)
	r.Post("/calls/abandoned", s.Calls.RecordAbandoned)

	r.Route("/users/{userId}", func(r chi.Router) {
		r.Get("/history", s.Users.GetHistory)
		r.Get("/abandoned-history", s.Users.GetAbandonedHistory)
		r.Get("/stats", s.Users.GetStats)
		r.Get("/trend", s.Users.GetTrend)
		r.Get("/sentiment-mix", s.Users.GetSentimentMix)
	})

	r.Get("/leaderboard", s.Leaderboard.GetLeaderboard)

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireAdmin)
		r.Post("/reconcile", s.Admin.Reconcile)
	})
}
