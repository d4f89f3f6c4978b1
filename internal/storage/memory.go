package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/types"
)

// MemoryStore keeps the ledger in process memory. Used for development
// and tests; contents are lost on restart.
type MemoryStore struct {
	answered  []types.AnsweredCall
	abandoned []types.AbandonedCall
	users     map[string]types.User
	mu        sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		answered:  make([]types.AnsweredCall, 0, 256),
		abandoned: make([]types.AbandonedCall, 0, 256),
		users:     make(map[string]types.User),
	}
}

func (s *MemoryStore) InsertAnsweredCall(_ context.Context, call types.AnsweredCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call.PositiveKeywords = append([]string(nil), call.PositiveKeywords...)
	call.NegativeKeywords = append([]string(nil), call.NegativeKeywords...)
	s.answered = append(s.answered, call)
	return nil
}

func (s *MemoryStore) InsertAbandonedCalls(_ context.Context, calls ...types.AbandonedCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = append(s.abandoned, calls...)
	return nil
}

func (s *MemoryStore) ListAnsweredCalls(_ context.Context, filter CallFilter) ([]types.AnsweredCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.AnsweredCall, 0)
	for _, call := range s.answered {
		if filter.Match(call.UserID, call.OccurredAt) {
			result = append(result, call)
		}
	}
	sortAnswered(result)
	return result, nil
}

func (s *MemoryStore) ListAbandonedCalls(_ context.Context, filter CallFilter) ([]types.AbandonedCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.AbandonedCall, 0)
	for _, call := range s.abandoned {
		if filter.Match(call.UserID, call.OccurredAt) {
			result = append(result, call)
		}
	}
	sortAbandoned(result)
	return result, nil
}

func (s *MemoryStore) CountAnsweredCalls(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, call := range s.answered {
		if call.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountAbandonedCalls(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, call := range s.abandoned {
		if call.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, user types.User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return types.User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return user, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]types.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *MemoryStore) IncrementAbandonedCounter(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	user.AbandonedCalls++
	s.users[userID] = user
	return user.AbandonedCalls, nil
}

// BackfillAbandonedCalls holds the write lock across the compare and the insert
func (s *MemoryStore) BackfillAbandonedCalls(_ context.Context, userID string, at time.Time, newID func() string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	actual := 0
	for _, call := range s.abandoned {
		if call.UserID == userID {
			actual++
		}
	}

	missing := user.AbandonedCalls - actual
	if missing <= 0 {
		return 0, nil
	}
	s.abandoned = append(s.abandoned, backfillRows(userID, missing, at, newID)...)
	return missing, nil
}

// TruncateAll removes every call and user
func (s *MemoryStore) TruncateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answered = make([]types.AnsweredCall, 0, 256)
	s.abandoned = make([]types.AbandonedCall, 0, 256)
	s.users = make(map[string]types.User)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
