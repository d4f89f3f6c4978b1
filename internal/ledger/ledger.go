// Package ledger records answered and abandoned calls and serves the
// per-user reads built on them.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/events"
	"github.com/dennisdiepolder/echo/backend/internal/metrics"
	"github.com/dennisdiepolder/echo/backend/internal/sentiment"
	"github.com/dennisdiepolder/echo/backend/internal/storage"
	"github.com/dennisdiepolder/echo/backend/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Clock returns the current time
type Clock func() time.Time

// EventPublisher receives ledger change events after a successful write
type EventPublisher interface {
	Publish(ctx context.Context, eventType, key string, event any) error
}

// AnsweredCallInput is what the upload pipeline hands over per call.
// Transcript is a pointer so an absent transcript can be told apart from
// an empty one.
type AnsweredCallInput struct {
	UserID           string   `json:"userId"`
	CallerName       string   `json:"callerName"`
	Transcript       *string  `json:"transcript"`
	SentimentScore   float64  `json:"sentimentScore"`
	PositiveKeywords []string `json:"positiveKeywords"`
	NegativeKeywords []string `json:"negativeKeywords"`
}

// AbandonedResult is returned from RecordAbandonedCall
type AbandonedResult struct {
	AbandonedCallsTotal int `json:"abandonedCallsTotal"`
}

// Ledger is the write path and per-user read path over a Store
type Ledger struct {
	store     storage.Store
	clock     Clock
	newID     func() string
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	userLocks *keyedMutex
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides time.Now
func WithClock(clock Clock) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithIDGenerator overrides UUID generation
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// WithPublisher attaches an event feed
func WithPublisher(p EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithMetrics overrides the process-wide metrics instance
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New creates a Ledger over store
func New(store storage.Store, logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		clock:     time.Now,
		newID:     uuid.NewString,
		logger:    logger.With().Str("component", "ledger").Logger(),
		userLocks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = metrics.Get()
	}
	return l
}

// RecordAnsweredCall appends one answered call for a known user
func (l *Ledger) RecordAnsweredCall(ctx context.Context, in AnsweredCallInput) (*types.AnsweredCall, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, l.reject("answered", &ValidationError{Field: "userId", Reason: "is required"})
	}
	if in.Transcript == nil {
		return nil, l.reject("answered", &ValidationError{Field: "transcript", Reason: "is required"})
	}
	if _, err := l.store.GetUser(ctx, in.UserID); err != nil {
		return nil, l.reject("answered", TranslateStoreError("record answered call", in.UserID, err))
	}

	callerName := strings.TrimSpace(in.CallerName)
	if callerName == "" {
		callerName = types.DefaultCallerName
	}

	call := types.AnsweredCall{
		ID:               l.newID(),
		UserID:           in.UserID,
		CallerName:       callerName,
		Transcript:       *in.Transcript,
		SentimentScore:   in.SentimentScore,
		PositiveKeywords: sentiment.TruncateKeywords(in.PositiveKeywords),
		NegativeKeywords: sentiment.TruncateKeywords(in.NegativeKeywords),
		OccurredAt:       l.clock().UTC(),
	}

	if err := l.store.InsertAnsweredCall(ctx, call); err != nil {
		return nil, l.reject("answered", &StorageError{Op: "record answered call", Err: err})
	}

	l.metrics.RecordCall("answered")
	l.logger.Debug().
		Str("userId", call.UserID).
		Str("callId", call.ID).
		Float64("sentimentScore", call.SentimentScore).
		Msg("answered call recorded")
	l.publish(ctx, events.AnsweredCallRecorded, call.UserID, call)

	return &call, nil
}

// RecordAbandonedCall appends an abandonment to the log and then, as a
// separate write, bumps the legacy counter. Only a double failure is an error.
func (l *Ledger) RecordAbandonedCall(ctx context.Context, userID string) (AbandonedResult, error) {
	if strings.TrimSpace(userID) == "" {
		return AbandonedResult{}, l.reject("abandoned", &ValidationError{Field: "userId", Reason: "is required"})
	}
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return AbandonedResult{}, l.reject("abandoned", TranslateStoreError("record abandoned call", userID, err))
	}

	call := types.AbandonedCall{
		ID:         l.newID(),
		UserID:     userID,
		OccurredAt: l.clock().UTC(),
	}

	logErr := l.store.InsertAbandonedCalls(ctx, call)
	total, counterErr := l.store.IncrementAbandonedCounter(ctx, userID)

	switch {
	case logErr != nil && counterErr != nil:
		return AbandonedResult{}, l.reject("abandoned", &StorageError{
			Op:  "record abandoned call",
			Err: errors.Join(logErr, counterErr),
		})
	case logErr != nil:
		l.metrics.RecordPartialWrite("log")
		l.logger.Warn().Err(logErr).Str("userId", userID).
			Msg("abandoned call log write failed; counter ahead of log until reconcile")
	case counterErr != nil:
		l.metrics.RecordPartialWrite("counter")
		l.logger.Warn().Err(counterErr).Str("userId", userID).
			Msg("legacy abandoned counter increment failed")

		count, err := l.store.CountAbandonedCalls(ctx, userID)
		if err != nil {
			l.logger.Warn().Err(err).Str("userId", userID).Msg("failed to count abandoned calls")
			count = user.AbandonedCalls + 1
		}
		total = count
	}

	l.metrics.RecordCall("abandoned")
	if logErr == nil {
		l.publish(ctx, events.AbandonedCallRecorded, userID, call)
	}

	return AbandonedResult{AbandonedCallsTotal: total}, nil
}

// GetHistory returns a user's answered calls, newest first
func (l *Ledger) GetHistory(ctx context.Context, userID string) ([]types.AnsweredCall, error) {
	if err := l.requireUser(ctx, "get history", userID); err != nil {
		return nil, err
	}

	calls, err := l.store.ListAnsweredCalls(ctx, storage.CallFilter{UserID: userID})
	if err != nil {
		return nil, &StorageError{Op: "get history", Err: err}
	}
	for i, j := 0, len(calls)-1; i < j; i, j = i+1, j-1 {
		calls[i], calls[j] = calls[j], calls[i]
	}
	return calls, nil
}

// GetAbandonedHistory returns a user's abandoned calls, newest first
func (l *Ledger) GetAbandonedHistory(ctx context.Context, userID string) ([]types.AbandonedCall, error) {
	if err := l.requireUser(ctx, "get abandoned history", userID); err != nil {
		return nil, err
	}

	calls, err := l.store.ListAbandonedCalls(ctx, storage.CallFilter{UserID: userID})
	if err != nil {
		return nil, &StorageError{Op: "get abandoned history", Err: err}
	}
	for i, j := 0, len(calls)-1; i < j; i, j = i+1, j-1 {
		calls[i], calls[j] = calls[j], calls[i]
	}
	return calls, nil
}

// GetStats returns answered and abandoned totals; abandoned comes from the log
func (l *Ledger) GetStats(ctx context.Context, userID string) (types.Stats, error) {
	if err := l.requireUser(ctx, "get stats", userID); err != nil {
		return types.Stats{}, err
	}

	answered, err := l.store.CountAnsweredCalls(ctx, userID)
	if err != nil {
		return types.Stats{}, &StorageError{Op: "get stats", Err: err}
	}
	abandoned, err := l.store.CountAbandonedCalls(ctx, userID)
	if err != nil {
		return types.Stats{}, &StorageError{Op: "get stats", Err: err}
	}

	return types.Stats{AnsweredCalls: answered, AbandonedCalls: abandoned}, nil
}

func (l *Ledger) requireUser(ctx context.Context, op, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &ValidationError{Field: "userId", Reason: "is required"}
	}
	if _, err := l.store.GetUser(ctx, userID); err != nil {
		return TranslateStoreError(op, userID, err)
	}
	return nil
}

func (l *Ledger) reject(outcome string, err error) error {
	l.metrics.RecordError(outcome, ErrorKind(err))
	return err
}

// publish is best effort; the ledger write has already succeeded
func (l *Ledger) publish(ctx context.Context, eventType, key string, event any) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, eventType, key, event); err != nil {
		l.logger.Warn().Err(err).Str("eventType", eventType).Str("userId", key).Msg("failed to publish ledger event")
	}
}
