package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"efpwatch/internal/snapshot"
	logx "efpwatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadState(ctx context.Context) (map[string]*snapshot.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address, data FROM snapshots`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]*snapshot.Snapshot{}
	for rows.Next() {
		var addr, data string
		if err := rows.Scan(&addr, &data); err != nil {
			return nil, err
		}
		var snap snapshot.Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", addr, err)
		}
		out[addr] = &snap
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutSnapshot(ctx context.Context, snap *snapshot.Snapshot) error {
	if snap == nil {
		return nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	var fetched any
	if !snap.FetchedAt.IsZero() {
		fetched = snap.FetchedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots(address, data, fetched_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(address) DO UPDATE SET data=excluded.data, fetched_at=excluded.fetched_at, updated_at=excluded.updated_at`,
		snap.Address, string(b), fetched, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) LoadBudget(ctx context.Context) (Budget, bool, error) {
	var start string
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT period_start, count FROM budget WHERE id = 1`).Scan(&start, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return Budget{}, false, nil
	}
	if err != nil {
		return Budget{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return Budget{}, false, fmt.Errorf("decode budget period_start: %w", err)
	}
	return Budget{PeriodStart: t, Count: count}, true, nil
}

func (s *sqliteStore) SaveBudget(ctx context.Context, b Budget) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget(id, period_start, count) VALUES(1,?,?)
		 ON CONFLICT(id) DO UPDATE SET period_start=excluded.period_start, count=excluded.count`,
		b.PeriodStart.UTC().Format(time.RFC3339Nano), b.Count,
	)
	return err
}

func (s *sqliteStore) AppendPublication(ctx context.Context, e PublicationEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publications(at, account, text, post_id, status, reason, err) VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), nullStr(e.Account), e.Text, nullStr(e.PostID),
		e.Status, nullStr(e.Reason), nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) LoadLeaderboard(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address, followers FROM leaderboard`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var addr string
		var n int
		if err := rows.Scan(&addr, &n); err != nil {
			return nil, err
		}
		out[addr] = n
	}
	return out, rows.Err()
}

// SaveLeaderboard replaces the stored leaderboard in one transaction.
func (s *sqliteStore) SaveLeaderboard(ctx context.Context, followers map[string]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM leaderboard`); err != nil {
		return err
	}
	for addr, n := range followers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO leaderboard(address, followers) VALUES(?,?)`, addr, n); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadToken(ctx context.Context, name string) (Token, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM tokens WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	var t Token
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return Token{}, false, fmt.Errorf("decode token %s: %w", name, err)
	}
	return t, true, nil
}

func (s *sqliteStore) SaveToken(ctx context.Context, name string, t Token) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tokens(name, data, updated_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		name, string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
