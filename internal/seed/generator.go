// Package seed generates a synthetic call history for demos and load checks.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/ledger"
	"github.com/dennisdiepolder/echo/backend/internal/metrics"
	"github.com/dennisdiepolder/echo/backend/internal/storage"
	"github.com/dennisdiepolder/echo/backend/internal/types"
	"github.com/rs/zerolog"
)

// Config controls the shape of the generated history
type Config struct {
	Users       int
	Days        int
	CallsPerDay int
	AbandonRate float64 // 0..1
	LegacyDrift int     // users whose legacy counter is bumped without a log row
	Seed        int64
}

// DefaultConfig returns a small, dashboard-friendly workload
func DefaultConfig() Config {
	return Config{
		Users:       8,
		Days:        7,
		CallsPerDay: 40,
		AbandonRate: 0.2,
		Seed:        time.Now().UnixNano(),
	}
}

// Summary counts what a run wrote
type Summary struct {
	Users      int `json:"users"`
	Answered   int `json:"answered"`
	Abandoned  int `json:"abandoned"`
	LegacyOnly int `json:"legacyOnly"`
}

var (
	firstNames = []string{"Ada", "Grace", "Linus", "Margaret", "Ken", "Barbara", "Dennis", "Frances", "Alan", "Radia"}
	lastNames  = []string{"Lovelace", "Hopper", "Torvalds", "Hamilton", "Thompson", "Liskov", "Ritchie", "Allen", "Turing", "Perlman"}
	callers    = []string{"Jordan Pike", "Sam Reyes", "Alex Moreau", "Taylor Brandt", "Casey Lund", ""}

	positiveWords = []string{"thanks", "great", "helpful", "quick", "resolved", "friendly", "perfect"}
	negativeWords = []string{"slow", "refund", "broken", "waiting", "cancel", "angry", "confusing"}
	neutralWords  = []string{"account", "order", "number", "address", "invoice", "delivery", "plan", "today"}
)

// Generator writes users and calls through the ledger so counters and logs
// stay consistent, except for the configured legacy drift
type Generator struct {
	store  storage.Store
	cfg    Config
	rng    *rand.Rand
	cursor time.Time
	ledger *ledger.Ledger
	logger zerolog.Logger
}

// NewGenerator creates a Generator; m may be nil to use the process metrics
func NewGenerator(store storage.Store, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Generator {
	g := &Generator{
		store:  store,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger.With().Str("component", "seed").Logger(),
	}
	opts := []ledger.Option{ledger.WithClock(func() time.Time { return g.cursor })}
	if m != nil {
		opts = append(opts, ledger.WithMetrics(m))
	}
	g.ledger = ledger.New(store, logger, opts...)
	return g
}

// GenerateUsers creates count users with stable IDs
func (g *Generator) GenerateUsers(count int) []types.User {
	users := make([]types.User, count)
	for i := 0; i < count; i++ {
		first := firstNames[g.rng.Intn(len(firstNames))]
		last := lastNames[g.rng.Intn(len(lastNames))]
		users[i] = types.User{
			ID:             fmt.Sprintf("USR-%05d", i+1),
			Name:           first + " " + last,
			Email:          strings.ToLower(fmt.Sprintf("%s.%s%d@echo.local", first, last, i+1)),
			ProfilePicture: fmt.Sprintf("https://avatars.echo.local/%d.png", i+1),
		}
	}
	return users
}

// Run writes cfg.Days days of history ending at now
func (g *Generator) Run(ctx context.Context, now time.Time) (Summary, error) {
	if g.cfg.Users <= 0 || g.cfg.Days <= 0 || g.cfg.CallsPerDay < 0 {
		return Summary{}, fmt.Errorf("invalid seed config %+v", g.cfg)
	}
	if g.cfg.AbandonRate < 0 || g.cfg.AbandonRate > 1 {
		return Summary{}, fmt.Errorf("abandon rate %v out of range [0,1]", g.cfg.AbandonRate)
	}

	now = now.UTC()
	users := g.GenerateUsers(g.cfg.Users)
	for _, u := range users {
		if err := g.store.UpsertUser(ctx, u); err != nil {
			return Summary{}, fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
		}
	}

	summary := Summary{Users: len(users)}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for d := g.cfg.Days - 1; d >= 0; d-- {
		dayStart := today.AddDate(0, 0, -d)
		span := 24 * time.Hour
		if d == 0 {
			span = now.Sub(dayStart) + time.Nanosecond
		}

		for i := 0; i < g.cfg.CallsPerDay; i++ {
			if err := ctx.Err(); err != nil {
				return summary, err
			}

			user := users[g.rng.Intn(len(users))]
			g.cursor = dayStart.Add(time.Duration(g.rng.Int63n(int64(span))))

			if g.rng.Float64() < g.cfg.AbandonRate {
				if _, err := g.ledger.RecordAbandonedCall(ctx, user.ID); err != nil {
					return summary, fmt.Errorf("failed to record abandoned call: %w", err)
				}
				summary.Abandoned++
				continue
			}

			if _, err := g.ledger.RecordAnsweredCall(ctx, g.answeredCall(user.ID)); err != nil {
				return summary, fmt.Errorf("failed to record answered call: %w", err)
			}
			summary.Answered++
		}
	}

	drift := g.cfg.LegacyDrift
	if drift > len(users) {
		drift = len(users)
	}
	for _, u := range users[:drift] {
		if _, err := g.store.IncrementAbandonedCounter(ctx, u.ID); err != nil {
			return summary, fmt.Errorf("failed to bump legacy counter for %s: %w", u.ID, err)
		}
		summary.LegacyOnly++
	}

	g.logger.Info().
		Int("users", summary.Users).
		Int("answered", summary.Answered).
		Int("abandoned", summary.Abandoned).
		Int("legacyOnly", summary.LegacyOnly).
		Msg("seed complete")

	return summary, nil
}

func (g *Generator) answeredCall(userID string) ledger.AnsweredCallInput {
	positive := g.pick(positiveWords, g.rng.Intn(4))
	negative := g.pick(negativeWords, g.rng.Intn(3))
	neutral := g.pick(neutralWords, 2+g.rng.Intn(5))

	words := append(append(append([]string{}, neutral...), positive...), negative...)
	g.rng.Shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
	transcript := strings.Join(words, " ")

	// Skewed positive, -5..10
	score := float64(g.rng.Intn(16) - 5)

	return ledger.AnsweredCallInput{
		UserID:           userID,
		CallerName:       callers[g.rng.Intn(len(callers))],
		Transcript:       &transcript,
		SentimentScore:   score,
		PositiveKeywords: positive,
		NegativeKeywords: negative,
	}
}

// pick draws n words from pool with replacement
func (g *Generator) pick(pool []string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = pool[g.rng.Intn(len(pool))]
	}
	return out
}
