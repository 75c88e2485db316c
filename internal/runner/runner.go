// Package runner drives one pass over the watchlist: fetch every account,
// detect changes against the stored snapshot, persist the new snapshot and
// publish the most newsworthy changes through the throttle scheduler.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"efpwatch/internal/change"
	"efpwatch/internal/compose"
	"efpwatch/internal/snapshot"
	"efpwatch/internal/throttle"
	logx "efpwatch/pkg/logx"
)

// ErrNoAccountsProcessed is returned when every attempted account failed.
var ErrNoAccountsProcessed = errors.New("no accounts could be processed")

type Provider interface {
	Fetch(ctx context.Context, address string) (*snapshot.Snapshot, error)
}

// Resolver maps ENS names in the watchlist to addresses. Without it, names
// are fetched as given.
type Resolver interface {
	ResolveAddress(ctx context.Context, account string) (string, error)
}

type Store interface {
	LoadState(ctx context.Context) (map[string]*snapshot.Snapshot, error)
	PutSnapshot(ctx context.Context, s *snapshot.Snapshot) error
}

// Poster is implemented by *throttle.Scheduler.
type Poster interface {
	BeginRun()
	Publish(ctx context.Context, p throttle.Post) (throttle.Result, error)
}

type Mode string

const (
	PerAccount Mode = "per_account"
	Summary    Mode = "summary"
)

type Config struct {
	Watchlist []string
	Detect    change.Config
	Mode      Mode

	// Workers bounds concurrent account fetches.
	Workers int
	// RunTimeout is the wall-clock budget for fetching; accounts not started
	// before it elapses roll over to the next run. 0 disables it.
	RunTimeout time.Duration

	// CircuitTrip consecutive fetch failures make an address sit out runs
	// for a growing cooldown. 0 uses the default, < 0 disables it.
	CircuitTrip       int
	CircuitBaseDelay  time.Duration
	CircuitMaxDelay   time.Duration
	CircuitResetAfter time.Duration
}

type Runner struct {
	mu       sync.Mutex
	cfg      Config
	composer *compose.Composer

	provider Provider
	store    Store
	poster   Poster
	clock    throttle.Clock
	log      logx.Logger

	circuits circuitStore
}

func New(cfg Config, provider Provider, store Store, composer *compose.Composer, poster Poster, clock throttle.Clock, log logx.Logger) *Runner {
	if clock == nil {
		clock = throttle.SystemClock{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if composer == nil {
		composer = compose.New(compose.Options{}, nil)
	}
	return &Runner{
		cfg:      cfg,
		composer: composer,
		provider: provider,
		store:    store,
		poster:   poster,
		clock:    clock,
		log:      log.With(logx.String("comp", "runner")),
	}
}

// Apply replaces the configuration used from the next run on.
func (r *Runner) Apply(cfg Config, composer *compose.Composer) {
	r.mu.Lock()
	r.cfg = cfg
	if composer != nil {
		r.composer = composer
	}
	r.mu.Unlock()
}

func (r *Runner) current() (Config, *compose.Composer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg, r.composer
}

type accountResult struct {
	acct change.AccountChanges
	snap *snapshot.Snapshot
	done bool
}

// Run processes the watchlist once. Per-account failures are isolated and
// reported; the error is non-nil only when the state cannot be loaded, ctx
// is canceled, or no attempted account could be processed.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	cfg, composer := r.current()
	start := r.clock.Now()
	rep := Report{Accounts: len(cfg.Watchlist)}
	cfg, unresolved := r.resolveWatchlist(ctx, cfg)
	rep.Failed += len(unresolved)
	rep.FailedAccounts = append(rep.FailedAccounts, unresolved...)

	state, err := r.store.LoadState(ctx)
	if err != nil {
		return rep, fmt.Errorf("load state: %w", err)
	}

	var deadline time.Time
	if cfg.RunTimeout > 0 {
		deadline = start.Add(cfg.RunTimeout)
	}
	cc := effectiveCircuitCfg(cfg)
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	results := make([]accountResult, len(cfg.Watchlist))
	var repMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, addr := range cfg.Watchlist {
		addr = snapshot.NormalizeAddress(addr)
		if gctx.Err() != nil || (!deadline.IsZero() && !r.clock.Now().Before(deadline)) {
			rep.Deferred = len(cfg.Watchlist) - i
			r.log.Warn("run budget exhausted, deferring remaining accounts",
				logx.Int("deferred", rep.Deferred), logx.Duration("budget", cfg.RunTimeout))
			break
		}
		if open, until := r.circuits.isOpen(r.clock.Now(), addr, cc); open {
			rep.CircuitOpen++
			r.log.Debug("account circuit open, skipping", logx.Address(addr), logx.Time("until", until))
			continue
		}

		g.Go(func() error {
			res, err := r.processAccount(gctx, addr, state[addr], cfg)
			r.circuits.record(r.clock.Now(), addr, cc, err)

			repMu.Lock()
			defer repMu.Unlock()
			if err != nil {
				rep.Failed++
				rep.FailedAccounts = append(rep.FailedAccounts, addr)
				return nil
			}
			results[i] = res
			rep.Processed++
			if !res.snap.HasProfile {
				rep.NoProfile++
			}
			if len(res.acct.Changes) > 0 {
				rep.Changed++
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(rep.FailedAccounts)
	rep.Failing = r.circuits.failing(cc)
	sort.Strings(rep.Failing)

	if err := ctx.Err(); err != nil {
		rep.Duration = r.clock.Now().Sub(start)
		return rep, err
	}

	accts := make([]change.AccountChanges, 0, len(results))
	for _, res := range results {
		if res.done {
			accts = append(accts, res.acct)
		}
	}
	if err := r.publish(ctx, cfg.Mode, composer, change.RankAccounts(accts), &rep); err != nil {
		rep.Duration = r.clock.Now().Sub(start)
		return rep, err
	}

	rep.Duration = r.clock.Now().Sub(start)
	r.log.Info("run finished", rep.Fields()...)

	if rep.Processed == 0 && rep.Failed > 0 {
		return rep, ErrNoAccountsProcessed
	}
	return rep, nil
}

// resolveWatchlist replaces ENS names with the addresses they point to and
// drops entries that resolve to an address already listed. Names that do not
// resolve are returned separately.
func (r *Runner) resolveWatchlist(ctx context.Context, cfg Config) (Config, []string) {
	res, ok := r.provider.(Resolver)
	if !ok {
		return cfg, nil
	}
	out := make([]string, 0, len(cfg.Watchlist))
	seen := make(map[string]struct{}, len(cfg.Watchlist))
	var unresolved []string
	renamed := false
	for _, a := range cfg.Watchlist {
		a = snapshot.NormalizeAddress(a)
		if snapshot.IsENSName(a) {
			addr, err := res.ResolveAddress(ctx, a)
			if err != nil {
				r.log.Warn("ens name not resolved", logx.String("name", a), logx.Err(err))
				unresolved = append(unresolved, a)
				continue
			}
			a, renamed = addr, true
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	cfg.Watchlist = out
	if renamed {
		cfg.Detect.Watchlist = change.WatchlistSet(out)
	}
	return cfg, unresolved
}

func (r *Runner) processAccount(ctx context.Context, addr string, old *snapshot.Snapshot, cfg Config) (accountResult, error) {
	cur, err := r.provider.Fetch(ctx, addr)
	if err != nil {
		r.log.Warn("fetch failed, keeping previous snapshot", logx.Address(addr), logx.Err(err))
		return accountResult{}, err
	}
	if cur == nil {
		return accountResult{}, fmt.Errorf("fetch %s: empty snapshot", addr)
	}

	changes := change.Detect(old, cur, cfg.Detect)
	if err := r.store.PutSnapshot(ctx, cur); err != nil {
		// The changes are still reported; the next run detects them again.
		r.log.Error("persist snapshot failed", logx.Address(addr), logx.Err(err))
	}
	if len(changes) > 0 {
		r.log.Debug("changes detected", logx.Address(addr), logx.Int("count", len(changes)))
	}
	return accountResult{
		acct: change.AccountChanges{Address: addr, Name: cur.DisplayName(), Changes: changes},
		snap: cur,
		done: true,
	}, nil
}
