package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/types"
)

// ErrNotFound is returned when a user does not exist in the store
var ErrNotFound = errors.New("not found")

// CallFilter narrows a ledger listing. Zero values mean unbounded.
type CallFilter struct {
	UserID string    // empty = every user
	From   time.Time // inclusive
	To     time.Time // exclusive
}

// Match reports whether an event for userID at t passes the filter
func (f CallFilter) Match(userID string, t time.Time) bool {
	if f.UserID != "" && f.UserID != userID {
		return false
	}
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.Before(f.To) {
		return false
	}
	return true
}

// CallStore is the append-only call ledger. Listings are ordered oldest
// first (OccurredAt, then ID).
type CallStore interface {
	InsertAnsweredCall(ctx context.Context, call types.AnsweredCall) error
	InsertAbandonedCalls(ctx context.Context, calls ...types.AbandonedCall) error
	ListAnsweredCalls(ctx context.Context, filter CallFilter) ([]types.AnsweredCall, error)
	ListAbandonedCalls(ctx context.Context, filter CallFilter) ([]types.AbandonedCall, error)
	CountAnsweredCalls(ctx context.Context, userID string) (int, error)
	CountAbandonedCalls(ctx context.Context, userID string) (int, error)
}

// UserStore holds user profiles and the legacy abandoned-call counter
type UserStore interface {
	UpsertUser(ctx context.Context, user types.User) error
	GetUser(ctx context.Context, userID string) (types.User, error)
	ListUsers(ctx context.Context) ([]types.User, error)
	// IncrementAbandonedCounter adds one to the legacy counter and returns the new value
	IncrementAbandonedCounter(ctx context.Context, userID string) (int, error)
}

// Backfiller tops up a user's abandoned-call log to the legacy counter
type Backfiller interface {
	// BackfillAbandonedCalls reads the legacy counter and the log count and
	// inserts the difference as one atomic step, so runs in separate
	// processes cannot both insert. Rows are stamped at and named by newID.
	// Returns how many rows this call created.
	BackfillAbandonedCalls(ctx context.Context, userID string, at time.Time, newID func() string) (int, error)
}

// Store defines the storage interface
type Store interface {
	CallStore
	UserStore
	Backfiller
	TruncateAll(ctx context.Context) error
	Close() error
}

// backfillRows builds n log rows for userID, all stamped at
func backfillRows(userID string, n int, at time.Time, newID func() string) []types.AbandonedCall {
	rows := make([]types.AbandonedCall, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, types.AbandonedCall{
			ID:         newID(),
			UserID:     userID,
			OccurredAt: at,
			Backfilled: true,
		})
	}
	return rows
}

func sortAnswered(calls []types.AnsweredCall) {
	sort.SliceStable(calls, func(i, j int) bool {
		if !calls[i].OccurredAt.Equal(calls[j].OccurredAt) {
			return calls[i].OccurredAt.Before(calls[j].OccurredAt)
		}
		return calls[i].ID < calls[j].ID
	})
}

func sortAbandoned(calls []types.AbandonedCall) {
	sort.SliceStable(calls, func(i, j int) bool {
		if !calls[i].OccurredAt.Equal(calls[j].OccurredAt) {
			return calls[i].OccurredAt.Before(calls[j].OccurredAt)
		}
		return calls[i].ID < calls[j].ID
	})
}
