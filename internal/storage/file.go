package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"efpwatch/internal/snapshot"
	logx "efpwatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.json          (address -> snapshot, rewritten atomically)
//   - <prefix>.budget.json         (current publication budget)
//   - <prefix>.leaderboard.json    (last published follower counts)
//   - <prefix>.tokens.json         (OAuth2 credentials by name)
//   - <prefix>.publications.jsonl  (append-only JSON Lines)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal)
//
// The dedup journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath       string
	budgetPath      string
	leaderboardPath string
	tokensPath      string
	state           map[string]*snapshot.Snapshot

	pubFile *os.File

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli

	dedupWrites int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:               log,
		statePath:         prefix + ".state.json",
		budgetPath:        prefix + ".budget.json",
		leaderboardPath:   prefix + ".leaderboard.json",
		tokensPath:        prefix + ".tokens.json",
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
	}

	state := map[string]*snapshot.Snapshot{}
	if err := readJSONFile(s.statePath, &state); err != nil {
		return nil, fmt.Errorf("load state %s: %w", s.statePath, err)
	}
	if state == nil {
		state = map[string]*snapshot.Snapshot{}
	}
	s.state = state

	pf, err := os.OpenFile(prefix+".publications.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load dedup from snapshot + journal.
	journalPath := prefix + ".dedup.journal.jsonl"
	dedup := map[string]int64{}
	_ = loadDedupSnapshot(s.dedupSnapshotPath, dedup)
	_ = replayDedupJournal(journalPath, dedup)
	pruneExpiredDedup(dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = pf.Close()
		return nil, err
	}
	s.pubFile = pf
	s.dedupJournalFile = jf
	s.dedup = dedup

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("accounts", len(state)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.pubFile != nil {
		err1 = s.pubFile.Close()
		s.pubFile = nil
	}
	if s.dedupJournalFile != nil {
		err2 = s.dedupJournalFile.Close()
		s.dedupJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) LoadState(ctx context.Context) (map[string]*snapshot.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubFile == nil {
		return nil, ErrClosed
	}
	return maps.Clone(s.state), nil
}

// PutSnapshot rewrites the whole state file so a crash mid-run keeps every
// account persisted so far.
func (s *fileStore) PutSnapshot(ctx context.Context, snap *snapshot.Snapshot) error {
	_ = ctx
	if snap == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubFile == nil {
		return ErrClosed
	}
	prev, had := s.state[snap.Address]
	s.state[snap.Address] = snap
	if err := writeJSONAtomic(s.statePath, s.state); err != nil {
		if had {
			s.state[snap.Address] = prev
		} else {
			delete(s.state, snap.Address)
		}
		return err
	}
	return nil
}

func (s *fileStore) LoadBudget(ctx context.Context) (Budget, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var b *Budget
	if err := readJSONFile(s.budgetPath, &b); err != nil {
		return Budget{}, false, err
	}
	if b == nil {
		return Budget{}, false, nil
	}
	return *b, true, nil
}

func (s *fileStore) SaveBudget(ctx context.Context, b Budget) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.budgetPath, b)
}

func (s *fileStore) AppendPublication(ctx context.Context, e PublicationEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubFile == nil {
		return errors.New("publication log closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.pubFile).Encode(e)
}

func (s *fileStore) LoadLeaderboard(ctx context.Context) (map[string]int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	m := map[string]int{}
	if err := readJSONFile(s.leaderboardPath, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *fileStore) SaveLeaderboard(ctx context.Context, followers map[string]int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.leaderboardPath, followers)
}

func (s *fileStore) LoadToken(ctx context.Context, name string) (Token, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	m := map[string]Token{}
	if err := readJSONFile(s.tokensPath, &m); err != nil {
		return Token{}, false, err
	}
	t, ok := m[name]
	return t, ok, nil
}

func (s *fileStore) SaveToken(ctx context.Context, name string, t Token) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	m := map[string]Token{}
	if err := readJSONFile(s.tokensPath, &m); err != nil {
		return err
	}
	if m == nil {
		m = map[string]Token{}
	}
	m[name] = t
	return writeJSONAtomic(s.tokensPath, m)
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return errors.New("dedup journal closed")
	}
	if s.dedup == nil {
		s.dedup = map[string]int64{}
	}
	s.dedup[key] = ms

	enc := json.NewEncoder(s.dedupJournalFile)
	if err := enc.Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%200 == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	if s.dedup == nil {
		return nil
	}
	pruneExpiredDedup(s.dedup)
	if err := writeJSONAtomic(s.dedupSnapshotPath, s.dedup); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.dedupJournalFile.Seek(0, 2)
	return err
}

// readJSONFile decodes path into out. A missing or blank file leaves out
// untouched and is not an error.
func readJSONFile(path string, out any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	return json.Unmarshal(b, out)
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	var m map[string]int64
	if err := readJSONFile(path, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return s.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
