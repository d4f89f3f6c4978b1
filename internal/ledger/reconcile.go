package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/events"
	"github.com/dennisdiepolder/echo/backend/internal/types"
)

// BackfillEvent is published once per user that reconciliation backfilled
type BackfillEvent struct {
	UserID         string    `json:"userId"`
	RecordsCreated int       `json:"recordsCreated"`
	RunAt          time.Time `json:"runAt"`
}

// Reconcile backfills the abandoned-call log up to each user's legacy
// counter. Backfilled rows share the run timestamp. The counter is never
// decremented, and a second run over unchanged data creates nothing. When
// ctx is cancelled mid-run the partial result is returned with ctx's error.
func (l *Ledger) Reconcile(ctx context.Context) (types.ReconcileResult, error) {
	start := time.Now()
	runAt := l.clock().UTC()

	users, err := l.store.ListUsers(ctx)
	if err != nil {
		return types.ReconcileResult{}, &StorageError{Op: "reconcile", Err: fmt.Errorf("failed to list users: %w", err)}
	}

	result := types.ReconcileResult{Failures: make([]types.ReconcileFailure, 0)}
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			l.finishReconcile(result, start, err)
			return result, err
		}
		result.UsersScanned++

		created, err := l.reconcileUser(ctx, user.ID, runAt)
		if err != nil {
			// a batched backend may have committed some rows before failing
			result.RecordsCreated += created
			l.logger.Error().Err(err).Str("userId", user.ID).Msg("reconcile failed for user")
			result.Failures = append(result.Failures, types.ReconcileFailure{UserID: user.ID, Error: err.Error()})
			continue
		}
		if created == 0 {
			continue
		}

		result.UsersBackfilled++
		result.RecordsCreated += created
		l.logger.Info().
			Str("userId", user.ID).
			Int("recordsCreated", created).
			Msg("backfilled abandoned calls")
		l.publish(ctx, events.AbandonedCallBackfilled, user.ID, BackfillEvent{
			UserID:         user.ID,
			RecordsCreated: created,
			RunAt:          runAt,
		})
	}

	l.finishReconcile(result, start, nil)
	return result, nil
}

func (l *Ledger) finishReconcile(result types.ReconcileResult, start time.Time, err error) {
	l.metrics.RecordReconcile(result.RecordsCreated, len(result.Failures))

	event := l.logger.Info()
	msg := "reconcile complete"
	if err != nil {
		event = l.logger.Warn().Err(err)
		msg = "reconcile interrupted"
	}
	event.
		Int("usersScanned", result.UsersScanned).
		Int("usersBackfilled", result.UsersBackfilled).
		Int("recordsCreated", result.RecordsCreated).
		Int("failures", len(result.Failures)).
		Dur("duration", time.Since(start)).
		Msg(msg)
}

// reconcileUser serializes runs for one user inside this process; the store
// makes the compare and insert atomic against other processes
func (l *Ledger) reconcileUser(ctx context.Context, userID string, runAt time.Time) (int, error) {
	unlock := l.userLocks.Lock(userID)
	defer unlock()

	created, err := l.store.BackfillAbandonedCalls(ctx, userID, runAt, l.newID)
	if err != nil {
		return created, fmt.Errorf("failed to backfill abandoned calls: %w", err)
	}
	return created, nil
}

// keyedMutex hands out one mutex per key and drops it once unused
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock func
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
