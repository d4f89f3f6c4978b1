package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/aggregator"
	"github.com/dennisdiepolder/echo/backend/internal/auth"
	"github.com/dennisdiepolder/echo/backend/internal/ledger"
	"github.com/dennisdiepolder/echo/backend/internal/metrics"
	"github.com/dennisdiepolder/echo/backend/internal/storage"
	"github.com/dennisdiepolder/echo/backend/internal/trend"
	"github.com/dennisdiepolder/echo/backend/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

var testNow = time.Date(2024, 6, 7, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *storage.MemoryStore
	router http.Handler
	role   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	for _, u := range []types.User{
		{ID: "u1", Name: "Ada", ProfilePicture: "ada.png"},
		{ID: "u2", Name: "Grace"},
	} {
		if err := store.UpsertUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	m := metrics.NewWithRegistry()
	logger := zerolog.Nop()
	clock := func() time.Time { return testNow }

	l := ledger.New(store, logger, ledger.WithClock(clock), ledger.WithMetrics(m))
	agg := aggregator.NewAggregator(store, store, 0, m, logger)
	builder := trend.NewBuilder(store, store, time.UTC, 0, m, logger)

	env := &testEnv{store: store, role: auth.RoleAdmin}
	srv := &Server{
		Calls:       NewCallsHandler(l, logger),
		Users:       NewUserHandler(l, builder, clock, logger),
		Leaderboard: NewLeaderboardHandler(agg, logger),
		Admin:       NewAdminHandler(l, logger),
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			claims := &auth.Claims{Email: "ops@example.com", Role: env.role}
			next.ServeHTTP(w, req.WithContext(auth.WithClaims(req.Context(), claims)))
		})
	})
	r.Use(Instrument(m))
	r.Route("/api", srv.Routes)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
}

func TestRecordAnswered(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"valid", `{"userId":"u1","transcript":"great call","sentimentScore":4,"positiveKeywords":["a","b","c","d","e","f"]}`, http.StatusCreated},
		{"empty transcript is valid", `{"userId":"u1","transcript":""}`, http.StatusCreated},
		{"missing transcript", `{"userId":"u1"}`, http.StatusBadRequest},
		{"missing user", `{"transcript":"hi"}`, http.StatusBadRequest},
		{"unknown user", `{"userId":"ghost","transcript":"hi"}`, http.StatusNotFound},
		{"malformed body", `{"userId":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/calls/answered", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d (%s)", tt.wantCode, rec.Code, rec.Body.String())
			}
			if rec.Code != http.StatusCreated {
				var body errorResponse
				decode(t, rec, &body)
				if body.Error == "" {
					t.Error("expected error message")
				}
				return
			}
			var call types.AnsweredCall
			decode(t, rec, &call)
			if call.ID == "" || call.CallerName != types.DefaultCallerName {
				t.Errorf("unexpected call %+v", call)
			}
			if len(call.PositiveKeywords) > types.MaxKeywords {
				t.Errorf("expected keywords truncated, got %v", call.PositiveKeywords)
			}
			if !call.OccurredAt.Equal(testNow) {
				t.Errorf("expected occurredAt %v, got %v", testNow, call.OccurredAt)
			}
		})
	}
}

func TestRecordAbandoned(t *testing.T) {
	env := newTestEnv(t)

	for want := 1; want <= 2; want++ {
		rec := env.do(t, http.MethodPost, "/api/calls/abandoned", `{"userId":"u2"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}
		var result ledger.AbandonedResult
		decode(t, rec, &result)
		if result.AbandonedCallsTotal != want {
			t.Errorf("expected total %d, got %d", want, result.AbandonedCallsTotal)
		}
	}

	if rec := env.do(t, http.MethodPost, "/api/calls/abandoned", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty userId, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/calls/abandoned", `{"userId":"ghost"}`); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", rec.Code)
	}
}

func TestUserReads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_ = env.store.InsertAnsweredCall(ctx, types.AnsweredCall{ID: "c1", UserID: "u1", OccurredAt: testNow.Add(-2 * time.Hour), SentimentScore: 2, Transcript: "good"})
	_ = env.store.InsertAnsweredCall(ctx, types.AnsweredCall{ID: "c2", UserID: "u1", OccurredAt: testNow.Add(-time.Hour), SentimentScore: -1, Transcript: "bad"})
	_ = env.store.InsertAbandonedCalls(ctx, types.AbandonedCall{ID: "a1", UserID: "u1", OccurredAt: testNow.Add(-30 * time.Minute)})

	rec := env.do(t, http.MethodGet, "/api/users/u1/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rec.Code)
	}
	var history []types.AnsweredCall
	decode(t, rec, &history)
	if len(history) != 2 || history[0].ID != "c2" {
		t.Errorf("expected newest first, got %+v", history)
	}

	rec = env.do(t, http.MethodGet, "/api/users/u2/abandoned-history", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty JSON array, got %d %q", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/users/u1/stats", "")
	var stats types.Stats
	decode(t, rec, &stats)
	if stats.AnsweredCalls != 2 || stats.AbandonedCalls != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	rec = env.do(t, http.MethodGet, "/api/users/u1/trend?days=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("trend: expected 200, got %d", rec.Code)
	}
	var buckets []types.TrendBucket
	decode(t, rec, &buckets)
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}
	if today := buckets[2]; today.DateKey != "2024-06-07" || today.Incoming != 3 || today.PositivePercent != 50 {
		t.Errorf("unexpected today bucket %+v", today)
	}

	rec = env.do(t, http.MethodGet, "/api/users/u1/trend", "")
	decode(t, rec, &buckets)
	if len(buckets) != trend.DefaultWindowDays {
		t.Errorf("expected default window, got %d buckets", len(buckets))
	}

	rec = env.do(t, http.MethodGet, "/api/users/u1/sentiment-mix", "")
	if rec.Code != http.StatusOK {
		t.Errorf("sentiment mix: expected 200, got %d", rec.Code)
	}
	var mix types.SentimentMix
	decode(t, rec, &mix)
	if mix.Calls != 2 {
		t.Errorf("expected 2 calls in mix, got %+v", mix)
	}
}

func TestUserReadErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		target   string
		wantCode int
	}{
		{"/api/users/ghost/history", http.StatusNotFound},
		{"/api/users/ghost/abandoned-history", http.StatusNotFound},
		{"/api/users/ghost/stats", http.StatusNotFound},
		{"/api/users/ghost/trend", http.StatusNotFound},
		{"/api/users/ghost/sentiment-mix", http.StatusNotFound},
		{"/api/users/u1/trend?days=abc", http.StatusBadRequest},
		{"/api/users/u1/trend?days=1000", http.StatusBadRequest},
		{"/api/leaderboard?limit=x", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.target, "")
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d (%s)", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/leaderboard", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty leaderboard, got %d %q", rec.Code, rec.Body.String())
	}

	ctx := context.Background()
	_ = env.store.InsertAnsweredCall(ctx, types.AnsweredCall{ID: "c1", UserID: "u1", OccurredAt: testNow, SentimentScore: 10})
	_ = env.store.InsertAnsweredCall(ctx, types.AnsweredCall{ID: "c2", UserID: "u2", OccurredAt: testNow, SentimentScore: 1})
	_ = env.store.InsertAbandonedCalls(ctx, types.AbandonedCall{ID: "a1", UserID: "u2", OccurredAt: testNow})

	rec = env.do(t, http.MethodGet, "/api/leaderboard?limit=1", "")
	var entries []types.LeaderboardEntry
	decode(t, rec, &entries)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].UserID != "u1" || entries[0].ServiceLevel != "100.0%" || entries[0].Name != "Ada" {
		t.Errorf("unexpected top entry %+v", entries[0])
	}
}

type failingReader struct{}

func (failingReader) ListAnsweredCalls(context.Context, storage.CallFilter) ([]types.AnsweredCall, error) {
	return nil, errors.New("table unavailable")
}

func (failingReader) ListAbandonedCalls(context.Context, storage.CallFilter) ([]types.AbandonedCall, error) {
	return nil, errors.New("table unavailable")
}

func TestLeaderboardStorageFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	agg := aggregator.NewAggregator(failingReader{}, store, 0, metrics.NewWithRegistry(), zerolog.Nop())
	h := NewLeaderboardHandler(agg, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.GetLeaderboard(rec, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body errorResponse
	decode(t, rec, &body)
	if body.Error != "internal error" {
		t.Errorf("expected opaque error message, got %q", body.Error)
	}
}

func TestReconcileEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.store.UpsertUser(ctx, types.User{ID: "legacy", Name: "Legacy", AbandonedCalls: 3}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	env.role = auth.RoleViewer
	if rec := env.do(t, http.MethodPost, "/api/admin/reconcile", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", rec.Code)
	}

	env.role = auth.RoleAdmin
	rec := env.do(t, http.MethodPost, "/api/admin/reconcile", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var result types.ReconcileResult
	decode(t, rec, &result)
	if result.UsersScanned != 3 || result.UsersBackfilled != 1 || result.RecordsCreated != 3 {
		t.Errorf("unexpected result %+v", result)
	}

	count, _ := env.store.CountAbandonedCalls(ctx, "legacy")
	if count != 3 {
		t.Errorf("expected 3 backfilled rows, got %d", count)
	}
}
