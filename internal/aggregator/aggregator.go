package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/ledger"
	"github.com/dennisdiepolder/echo/backend/internal/metrics"
	"github.com/dennisdiepolder/echo/backend/internal/storage"
	"github.com/dennisdiepolder/echo/backend/internal/types"
	"github.com/rs/zerolog"
)

// DefaultLimit is the leaderboard size used when the caller passes limit <= 0
const DefaultLimit = 5

// unknownName is shown when a ranked user's profile cannot be resolved
const unknownName = "Unknown"

// CallReader lists the answered and abandoned logs
type CallReader interface {
	ListAnsweredCalls(ctx context.Context, filter storage.CallFilter) ([]types.AnsweredCall, error)
	ListAbandonedCalls(ctx context.Context, filter storage.CallFilter) ([]types.AbandonedCall, error)
}

// ProfileLookup resolves a user's display profile
type ProfileLookup interface {
	GetUser(ctx context.Context, userID string) (types.User, error)
}

// Aggregator ranks users by service level. Every call recomputes from the
// full logs; nothing is cached.
type Aggregator struct {
	calls        CallReader
	profiles     ProfileLookup
	defaultLimit int
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(calls CallReader, profiles ProfileLookup, defaultLimit int, m *metrics.Metrics, logger zerolog.Logger) *Aggregator {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if m == nil {
		m = metrics.Get()
	}
	return &Aggregator{
		calls:        calls,
		profiles:     profiles,
		defaultLimit: defaultLimit,
		metrics:      m,
		logger:       logger.With().Str("component", "aggregator").Logger(),
	}
}

// Leaderboard returns the top limit users ordered by service level, highest
// first. Users with equal service level keep the order in which they first
// appear in the answered log, followed by abandoned-only users in the order
// they first appear in the abandoned log.
func (a *Aggregator) Leaderboard(ctx context.Context, limit int) ([]types.LeaderboardEntry, error) {
	start := time.Now()
	defer func() { a.metrics.ObserveQuery("leaderboard", time.Since(start)) }()

	if limit <= 0 {
		limit = a.defaultLimit
	}

	answered, err := a.calls.ListAnsweredCalls(ctx, storage.CallFilter{})
	if err != nil {
		return nil, &ledger.StorageError{Op: "leaderboard", Err: fmt.Errorf("failed to list answered calls: %w", err)}
	}
	abandoned, err := a.calls.ListAbandonedCalls(ctx, storage.CallFilter{})
	if err != nil {
		return nil, &ledger.StorageError{Op: "leaderboard", Err: fmt.Errorf("failed to list abandoned calls: %w", err)}
	}

	tallies := groupByUser(answered, abandoned)

	sort.SliceStable(tallies, func(i, j int) bool {
		return tallies[i].ServiceLevel() > tallies[j].ServiceLevel()
	})
	if len(tallies) > limit {
		tallies = tallies[:limit]
	}

	entries := make([]types.LeaderboardEntry, 0, len(tallies))
	for i, t := range tallies {
		entries = append(entries, a.buildEntry(ctx, i+1, t))
	}

	a.logger.Debug().
		Int("answered", len(answered)).
		Int("abandoned", len(abandoned)).
		Int("entries", len(entries)).
		Msg("leaderboard computed")

	return entries, nil
}

// groupByUser tallies both logs, preserving first-appearance order
func groupByUser(answered []types.AnsweredCall, abandoned []types.AbandonedCall) []*userTally {
	index := make(map[string]*userTally)
	order := make([]*userTally, 0)

	get := func(userID string) *userTally {
		t, ok := index[userID]
		if !ok {
			t = &userTally{UserID: userID}
			index[userID] = t
			order = append(order, t)
		}
		return t
	}

	for _, call := range answered {
		get(call.UserID).RecordAnswered(call.SentimentScore)
	}
	for _, call := range abandoned {
		get(call.UserID).RecordAbandoned()
	}
	return order
}

func (a *Aggregator) buildEntry(ctx context.Context, rank int, t *userTally) types.LeaderboardEntry {
	name, picture := unknownName, ""
	if user, err := a.profiles.GetUser(ctx, t.UserID); err != nil {
		a.logger.Warn().Err(err).Str("userId", t.UserID).Msg("profile lookup failed, using placeholder")
	} else {
		name, picture = user.Name, user.ProfilePicture
	}

	avg := t.AverageSentiment()
	sl := t.ServiceLevel()
	return types.LeaderboardEntry{
		Rank:                rank,
		UserID:              t.UserID,
		Name:                name,
		ProfilePicture:      picture,
		Calls:               t.Answered,
		AnsweredCount:       t.Answered,
		AbandonedCount:      t.Abandoned,
		AverageSentiment:    avg,
		TotalCalls:          t.Total(),
		ServiceLevelPercent: sl,
		ServiceLevel:        FormatServiceLevel(sl),
		Satisfaction:        OneDecimal(Satisfaction(avg, t.Answered)),
	}
}
