package storage

import (
	"context"
	"maps"
	"sync"
	"time"

	"efpwatch/internal/snapshot"
)

// Memory is an in-process Store. It backs tests and dry runs.
type Memory struct {
	mu           sync.Mutex
	closed       bool
	state        map[string]*snapshot.Snapshot
	budget       *Budget
	publications []PublicationEntry
	dedup        map[string]time.Time
	leaderboard  map[string]int
	tokens       map[string]Token
}

func NewMemory() *Memory {
	return &Memory{
		state:  map[string]*snapshot.Snapshot{},
		dedup:  map[string]time.Time{},
		tokens: map[string]Token{},
	}
}

// Seed pre-populates the state, e.g. from a read-only copy of another store.
func (m *Memory) Seed(state map[string]*snapshot.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range state {
		m.state[k] = v
	}
}

func (m *Memory) LoadState(ctx context.Context) (map[string]*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return maps.Clone(m.state), nil
}

func (m *Memory) PutSnapshot(ctx context.Context, s *snapshot.Snapshot) error {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.state[s.Address] = s
	return nil
}

func (m *Memory) LoadBudget(ctx context.Context) (Budget, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Budget{}, false, ErrClosed
	}
	if m.budget == nil {
		return Budget{}, false, nil
	}
	return *m.budget, true, nil
}

func (m *Memory) SaveBudget(ctx context.Context, b Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.budget = &b
	return nil
}

func (m *Memory) AppendPublication(ctx context.Context, e PublicationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.publications = append(m.publications, e)
	return nil
}

// Publications returns a copy of the audit trail.
func (m *Memory) Publications() []PublicationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublicationEntry(nil), m.publications...)
}

func (m *Memory) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.dedup[key] = until
	return nil
}

func (m *Memory) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return time.Time{}, false, ErrClosed
	}
	until, ok := m.dedup[key]
	return until, ok, nil
}

func (m *Memory) LoadLeaderboard(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return maps.Clone(m.leaderboard), nil
}

func (m *Memory) SaveLeaderboard(ctx context.Context, followers map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.leaderboard = maps.Clone(followers)
	return nil
}

func (m *Memory) LoadToken(ctx context.Context, name string) (Token, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Token{}, false, ErrClosed
	}
	t, ok := m.tokens[name]
	return t, ok, nil
}

func (m *Memory) SaveToken(ctx context.Context, name string, t Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.tokens[name] = t
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
