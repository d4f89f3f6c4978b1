// Package trend buckets a user's call history into daily series.
package trend

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/aggregator"
	"github.com/dennisdiepolder/echo/backend/internal/ledger"
	"github.com/dennisdiepolder/echo/backend/internal/metrics"
	"github.com/dennisdiepolder/echo/backend/internal/sentiment"
	"github.com/dennisdiepolder/echo/backend/internal/storage"
	"github.com/dennisdiepolder/echo/backend/internal/types"
	"github.com/rs/zerolog"
)

// DefaultWindowDays is used when the caller passes windowDays <= 0
const DefaultWindowDays = 7

const dateKeyLayout = "2006-01-02"

// Builder computes trend buckets and the sentiment mix for one user
type Builder struct {
	calls         aggregator.CallReader
	profiles      aggregator.ProfileLookup
	location      *time.Location
	defaultWindow int
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// NewBuilder creates a Builder; calendar days are taken in loc (UTC when nil)
func NewBuilder(calls aggregator.CallReader, profiles aggregator.ProfileLookup, loc *time.Location, defaultWindow int, m *metrics.Metrics, logger zerolog.Logger) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	if defaultWindow <= 0 {
		defaultWindow = DefaultWindowDays
	}
	if m == nil {
		m = metrics.Get()
	}
	return &Builder{
		calls:         calls,
		profiles:      profiles,
		location:      loc,
		defaultWindow: defaultWindow,
		metrics:       m,
		logger:        logger.With().Str("component", "trend").Logger(),
	}
}

// Location returns the time zone used for calendar days
func (b *Builder) Location() *time.Location {
	return b.location
}

type accumulator struct {
	bucket       types.TrendBucket
	sentimentSum float64
	sentimentN   int
	positiveN    int
}

// Trend returns exactly windowDays buckets, oldest first, ending on the
// calendar day containing now. Days without events are zero-filled and
// events outside the window are ignored.
func (b *Builder) Trend(ctx context.Context, userID string, windowDays int, now time.Time) ([]types.TrendBucket, error) {
	start := time.Now()
	defer func() { b.metrics.ObserveQuery("trend", time.Since(start)) }()

	if err := b.requireUser(ctx, "get trend", userID); err != nil {
		return nil, err
	}
	if windowDays <= 0 {
		windowDays = b.defaultWindow
	}

	local := now.In(b.location)
	y, m, d := local.Date()
	from := time.Date(y, m, d-(windowDays-1), 0, 0, 0, 0, b.location)
	to := time.Date(y, m, d+1, 0, 0, 0, 0, b.location)

	accs := make([]*accumulator, windowDays)
	index := make(map[string]*accumulator, windowDays)
	for i := 0; i < windowDays; i++ {
		key := time.Date(y, m, d-(windowDays-1)+i, 0, 0, 0, 0, b.location).Format(dateKeyLayout)
		accs[i] = &accumulator{bucket: types.TrendBucket{DateKey: key}}
		index[key] = accs[i]
	}

	filter := storage.CallFilter{UserID: userID, From: from, To: to}

	answered, err := b.calls.ListAnsweredCalls(ctx, filter)
	if err != nil {
		return nil, &ledger.StorageError{Op: "get trend", Err: err}
	}
	for _, call := range answered {
		acc, ok := index[call.OccurredAt.In(b.location).Format(dateKeyLayout)]
		if !ok {
			continue
		}
		acc.bucket.Answered++
		acc.bucket.Incoming++
		acc.sentimentSum += call.SentimentScore
		acc.sentimentN++
		if call.SentimentScore > 0 {
			acc.positiveN++
		}
	}

	abandoned, err := b.calls.ListAbandonedCalls(ctx, filter)
	if err != nil {
		return nil, &ledger.StorageError{Op: "get trend", Err: err}
	}
	for _, call := range abandoned {
		acc, ok := index[call.OccurredAt.In(b.location).Format(dateKeyLayout)]
		if !ok {
			continue
		}
		acc.bucket.Abandoned++
		acc.bucket.Incoming++
	}

	buckets := make([]types.TrendBucket, 0, windowDays)
	for _, acc := range accs {
		if acc.sentimentN > 0 {
			acc.bucket.AverageSentiment = math.Round(acc.sentimentSum/float64(acc.sentimentN)*10) / 10
			acc.bucket.PositivePercent = int(math.Round(float64(acc.positiveN) / float64(acc.sentimentN) * 100))
		}
		buckets = append(buckets, acc.bucket)
	}

	b.logger.Debug().
		Str("userId", userID).
		Int("windowDays", windowDays).
		Int("answered", len(answered)).
		Int("abandoned", len(abandoned)).
		Msg("trend computed")

	return buckets, nil
}

// SentimentMix sums the sentiment breakdown over a user's full answered history
func (b *Builder) SentimentMix(ctx context.Context, userID string) (types.SentimentMix, error) {
	start := time.Now()
	defer func() { b.metrics.ObserveQuery("sentiment_mix", time.Since(start)) }()

	if err := b.requireUser(ctx, "get sentiment mix", userID); err != nil {
		return types.SentimentMix{}, err
	}

	calls, err := b.calls.ListAnsweredCalls(ctx, storage.CallFilter{UserID: userID})
	if err != nil {
		return types.SentimentMix{}, &ledger.StorageError{Op: "get sentiment mix", Err: err}
	}
	return sentiment.Mix(calls), nil
}

func (b *Builder) requireUser(ctx context.Context, op, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &ledger.ValidationError{Field: "userId", Reason: "is required"}
	}
	if _, err := b.profiles.GetUser(ctx, userID); err != nil {
		return ledger.TranslateStoreError(op, userID, err)
	}
	return nil
}
