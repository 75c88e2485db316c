package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"efpwatch/internal/snapshot"
	logx "efpwatch/pkg/logx"
)

// Store is the persistence API used by the runner and the publication
// scheduler. Implementations are safe for concurrent use.
type Store interface {
	// LoadState returns every persisted snapshot keyed by address. A missing
	// or empty state yields an empty map.
	LoadState(ctx context.Context) (map[string]*snapshot.Snapshot, error)
	// PutSnapshot replaces the persisted snapshot of s.Address.
	PutSnapshot(ctx context.Context, s *snapshot.Snapshot) error

	LoadBudget(ctx context.Context) (b Budget, ok bool, err error)
	SaveBudget(ctx context.Context, b Budget) error

	AppendPublication(ctx context.Context, e PublicationEntry) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	// LoadLeaderboard returns follower counts by address from the last
	// published leaderboard.
	LoadLeaderboard(ctx context.Context) (map[string]int, error)
	SaveLeaderboard(ctx context.Context, followers map[string]int) error

	// LoadToken returns the credential saved under name, if any.
	LoadToken(ctx context.Context, name string) (t Token, ok bool, err error)
	SaveToken(ctx context.Context, name string, t Token) error

	Close() error
}

// Open initializes the configured store. An empty driver selects "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "file"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
