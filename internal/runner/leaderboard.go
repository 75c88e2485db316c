package runner

import (
	"context"
	"fmt"
	"sync"

	"efpwatch/internal/compose"
	"efpwatch/internal/efp"
	"efpwatch/internal/throttle"
	logx "efpwatch/pkg/logx"
)

type LeaderboardSource interface {
	Leaderboard(ctx context.Context, limit int) ([]efp.LeaderboardRow, error)
	ENSName(ctx context.Context, address string) string
}

type LeaderboardStore interface {
	LoadLeaderboard(ctx context.Context) (map[string]int, error)
	SaveLeaderboard(ctx context.Context, followers map[string]int) error
}

// Leaderboard posts the follower leaderboard with deltas against the last
// published one.
type Leaderboard struct {
	mu       sync.Mutex
	src      LeaderboardSource
	store    LeaderboardStore
	composer *compose.Composer
	poster   Poster
	clock    throttle.Clock
	log      logx.Logger
}

func NewLeaderboard(src LeaderboardSource, store LeaderboardStore, composer *compose.Composer, poster Poster, clock throttle.Clock, log logx.Logger) *Leaderboard {
	if clock == nil {
		clock = throttle.SystemClock{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if composer == nil {
		composer = compose.New(compose.Options{}, nil)
	}
	return &Leaderboard{src: src, store: store, composer: composer, poster: poster, clock: clock, log: log.With(logx.String("comp", "leaderboard"))}
}

// Apply swaps the composer used from the next Run on.
func (l *Leaderboard) Apply(composer *compose.Composer) {
	if composer == nil {
		return
	}
	l.mu.Lock()
	l.composer = composer
	l.mu.Unlock()
}

// Run fetches the top limit accounts and publishes the board. The stored
// board only advances when the post was published, so skipped posts do not
// swallow deltas.
func (l *Leaderboard) Run(ctx context.Context, limit int) (throttle.Result, error) {
	rows, err := l.src.Leaderboard(ctx, limit)
	if err != nil {
		return throttle.Result{}, fmt.Errorf("fetch leaderboard: %w", err)
	}
	prev, err := l.store.LoadLeaderboard(ctx)
	if err != nil {
		return throttle.Result{}, fmt.Errorf("load leaderboard: %w", err)
	}

	entries := make([]compose.LeaderboardEntry, 0, len(rows))
	current := make(map[string]int, len(rows))
	for _, row := range rows {
		name := row.Name
		if name == "" {
			name = l.src.ENSName(ctx, row.Address)
		}
		p, had := prev[row.Address]
		entries = append(entries, compose.LeaderboardEntry{
			Address:     row.Address,
			Name:        name,
			Followers:   row.Followers,
			Previous:    p,
			HasPrevious: had,
		})
		current[row.Address] = row.Followers
	}

	l.mu.Lock()
	composer := l.composer
	l.mu.Unlock()
	text, ok := composer.ComposeLeaderboard(entries, l.clock.Now())
	if !ok {
		l.log.Info("leaderboard empty, nothing to publish")
		return throttle.Result{}, nil
	}
	l.poster.BeginRun()
	res, err := l.poster.Publish(ctx, throttle.Post{Account: "leaderboard", Text: text})
	if err != nil {
		return res, err
	}
	if res.Status == throttle.Published {
		if err := l.store.SaveLeaderboard(ctx, current); err != nil {
			l.log.Error("save leaderboard failed", logx.Err(err))
		}
	}
	l.log.Info("leaderboard job finished", logx.Int("entries", len(entries)), logx.String("status", string(res.Status)))
	return res, nil
}
