package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/events"
	"github.com/dennisdiepolder/echo/backend/internal/metrics"
	"github.com/dennisdiepolder/echo/backend/internal/storage"
	"github.com/dennisdiepolder/echo/backend/internal/types"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

func TestReconcileBackfillsMissingRows(t *testing.T) {
	l, store, pub := newTestLedger(t, types.User{ID: "u1", AbandonedCalls: 5})
	ctx := context.Background()

	early := testNow.Add(-48 * time.Hour)
	_ = store.InsertAbandonedCalls(ctx,
		types.AbandonedCall{ID: "a1", UserID: "u1", OccurredAt: early},
		types.AbandonedCall{ID: "a2", UserID: "u1", OccurredAt: early},
	)

	result, err := l.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.UsersScanned != 1 || result.UsersBackfilled != 1 || result.RecordsCreated != 3 {
		t.Errorf("unexpected result %+v", result)
	}

	calls, _ := store.ListAbandonedCalls(ctx, storage.CallFilter{UserID: "u1"})
	if len(calls) != 5 {
		t.Fatalf("expected 5 log rows, got %d", len(calls))
	}
	backfilled := 0
	for _, c := range calls {
		if c.Backfilled {
			backfilled++
			if !c.OccurredAt.Equal(testNow) {
				t.Errorf("expected backfill at run time %v, got %v", testNow, c.OccurredAt)
			}
		}
	}
	if backfilled != 3 {
		t.Errorf("expected 3 backfilled rows, got %d", backfilled)
	}

	if len(pub.events) != 1 || pub.events[0].eventType != events.AbandonedCallBackfilled {
		t.Errorf("expected one backfill event, got %+v", pub.events)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	l, store, _ := newTestLedger(t,
		types.User{ID: "u1", AbandonedCalls: 4},
		types.User{ID: "u2", AbandonedCalls: 1},
	)
	ctx := context.Background()

	if _, err := l.Reconcile(ctx); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	second, err := l.Reconcile(ctx)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.RecordsCreated != 0 || second.UsersBackfilled != 0 {
		t.Errorf("expected no-op second run, got %+v", second)
	}

	// convergence: counter equals log count for every user
	for _, id := range []string{"u1", "u2"} {
		user, _ := store.GetUser(ctx, id)
		count, _ := store.CountAbandonedCalls(ctx, id)
		if user.AbandonedCalls != count {
			t.Errorf("%s: counter %d != log %d", id, user.AbandonedCalls, count)
		}
	}
}

func TestReconcileNeverDecrements(t *testing.T) {
	l, store, _ := newTestLedger(t, types.User{ID: "u1", AbandonedCalls: 1})
	ctx := context.Background()

	_ = store.InsertAbandonedCalls(ctx,
		types.AbandonedCall{ID: "a1", UserID: "u1", OccurredAt: testNow},
		types.AbandonedCall{ID: "a2", UserID: "u1", OccurredAt: testNow},
		types.AbandonedCall{ID: "a3", UserID: "u1", OccurredAt: testNow},
	)

	result, err := l.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.RecordsCreated != 0 {
		t.Errorf("expected no backfill, got %d", result.RecordsCreated)
	}

	user, _ := store.GetUser(ctx, "u1")
	if user.AbandonedCalls != 1 {
		t.Errorf("counter must not change, got %d", user.AbandonedCalls)
	}
	count, _ := store.CountAbandonedCalls(ctx, "u1")
	if count != 3 {
		t.Errorf("log must not change, got %d", count)
	}
}

func TestReconcileContinuesPastUserFailure(t *testing.T) {
	l, store, _ := newTestLedger(t,
		types.User{ID: "bad", AbandonedCalls: 2},
		types.User{ID: "good", AbandonedCalls: 2},
	)
	store.failBackfill["bad"] = true

	result, err := l.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.UsersScanned != 2 {
		t.Errorf("expected 2 users scanned, got %d", result.UsersScanned)
	}
	if len(result.Failures) != 1 || result.Failures[0].UserID != "bad" {
		t.Errorf("expected failure for bad, got %+v", result.Failures)
	}
	if result.RecordsCreated != 2 {
		t.Errorf("expected good user backfilled with 2 rows, got %d", result.RecordsCreated)
	}
}

func TestReconcileListUsersFailure(t *testing.T) {
	l, store, _ := newTestLedger(t)
	store.failListUsers = true

	_, err := l.Reconcile(context.Background())
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestConcurrentReconcileDoesNotDoubleInsert(t *testing.T) {
	l, store, _ := newTestLedger(t,
		types.User{ID: "u1", AbandonedCalls: 10},
		types.User{ID: "u2", AbandonedCalls: 3},
	)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reconcile(ctx); err != nil {
				t.Errorf("reconcile: %v", err)
			}
		}()
	}
	wg.Wait()

	for id, want := range map[string]int{"u1": 10, "u2": 3} {
		count, _ := store.CountAbandonedCalls(ctx, id)
		if count != want {
			t.Errorf("%s: expected %d rows, got %d", id, want, count)
		}
	}
}

// Separate Ledger values have separate lock tables, like two processes
func TestReconcileAcrossLedgersDoesNotDoubleInsert(t *testing.T) {
	ctx := context.Background()

	memory := storage.NewMemoryStore()
	sqlitePath := filepath.Join(t.TempDir(), "ledger.db")
	openSQLite := func(t *testing.T) storage.Store {
		store, err := storage.NewSQLiteStore(ctx, sqlitePath, zerolog.Nop())
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	}

	backends := map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store { return memory },
		// a fresh handle per ledger shares only the database file
		"sqlite": openSQLite,
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			seedStore := open(t)
			if err := seedStore.UpsertUser(ctx, types.User{ID: "u1", AbandonedCalls: 5}); err != nil {
				t.Fatalf("seed user: %v", err)
			}
			if err := seedStore.UpsertUser(ctx, types.User{ID: "u2", AbandonedCalls: 40}); err != nil {
				t.Fatalf("seed user: %v", err)
			}

			var wg sync.WaitGroup
			var mu sync.Mutex
			created := 0
			for i := 0; i < 6; i++ {
				l := New(open(t), zerolog.Nop(),
					WithClock(func() time.Time { return testNow }),
					WithMetrics(metrics.NewWithRegistry()),
				)
				wg.Add(1)
				go func() {
					defer wg.Done()
					result, err := l.Reconcile(ctx)
					if err != nil {
						t.Errorf("reconcile: %v", err)
						return
					}
					if len(result.Failures) > 0 {
						t.Errorf("unexpected failures: %+v", result.Failures)
					}
					mu.Lock()
					created += result.RecordsCreated
					mu.Unlock()
				}()
			}
			wg.Wait()

			for id, want := range map[string]int{"u1": 5, "u2": 40} {
				count, err := seedStore.CountAbandonedCalls(ctx, id)
				if err != nil {
					t.Fatalf("count: %v", err)
				}
				if count != want {
					t.Errorf("%s: expected %d rows, got %d", id, want, count)
				}
			}
			if created != 45 {
				t.Errorf("expected runs to report 45 created rows in total, got %d", created)
			}
		})
	}
}

func TestReconcileCancelledReturnsPartialResult(t *testing.T) {
	l, store, _ := newTestLedger(t,
		types.User{ID: "u1", AbandonedCalls: 2},
		types.User{ID: "u2", AbandonedCalls: 3},
	)
	m := metrics.NewWithRegistry()
	l.metrics = m

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.afterBackfill = func(userID string) {
		if userID == "u1" {
			cancel()
		}
	}

	result, err := l.Reconcile(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.UsersScanned != 1 || result.RecordsCreated != 2 {
		t.Errorf("expected partial result for u1 only, got %+v", result)
	}

	var runs dto.Metric
	if err := m.ReconcileRuns.Write(&runs); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if runs.GetCounter().GetValue() != 1 {
		t.Errorf("expected the interrupted run to be recorded, got %v", runs.GetCounter().GetValue())
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()

	unlock := k.Lock("u1")
	unlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Errorf("expected lock table to be empty, got %d entries", len(k.locks))
	}
}
