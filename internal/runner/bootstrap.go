package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"efpwatch/internal/snapshot"
	logx "efpwatch/pkg/logx"
)

type BootstrapReport struct {
	Accounts int
	// Active accounts have a profile and a primary list.
	Active    int
	NoProfile int
	NoList    int
	Failed    int

	FailedAccounts []string
}

// Bootstrap fetches every watchlist account and stores the snapshots without
// detecting or publishing anything, so the next Run starts from a baseline
// instead of reporting every account as new.
func (r *Runner) Bootstrap(ctx context.Context) (BootstrapReport, error) {
	cfg, _ := r.current()
	rep := BootstrapReport{Accounts: len(cfg.Watchlist)}
	cfg, unresolved := r.resolveWatchlist(ctx, cfg)
	rep.Failed += len(unresolved)
	rep.FailedAccounts = append(rep.FailedAccounts, unresolved...)
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, addr := range cfg.Watchlist {
		addr = snapshot.NormalizeAddress(addr)
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s, err := r.provider.Fetch(gctx, addr)
			if err == nil && s == nil {
				err = fmt.Errorf("fetch %s: empty snapshot", addr)
			}
			if err == nil {
				err = r.store.PutSnapshot(gctx, s)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				rep.Failed++
				rep.FailedAccounts = append(rep.FailedAccounts, addr)
				r.log.Warn("bootstrap fetch failed", logx.Address(addr), logx.Err(err))
			case !s.HasProfile:
				rep.NoProfile++
			case !s.HasActiveList():
				rep.NoList++
			default:
				rep.Active++
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(rep.FailedAccounts)

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	r.log.Info("bootstrap finished",
		logx.Int("accounts", rep.Accounts),
		logx.Int("active", rep.Active),
		logx.Int("no_profile", rep.NoProfile),
		logx.Int("no_list", rep.NoList),
		logx.Int("failed", rep.Failed))
	if rep.Failed > 0 && rep.Failed == rep.Accounts {
		return rep, ErrNoAccountsProcessed
	}
	return rep, nil
}
