package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"efpwatch/internal/config"
	"efpwatch/internal/efp"
	"efpwatch/internal/publisher"
	"efpwatch/internal/runner"
	"efpwatch/internal/storage"
	"efpwatch/internal/throttle"
	"efpwatch/internal/transport"
	"efpwatch/internal/transport/telegram"
	logx "efpwatch/pkg/logx"
)

// ErrBusy is returned when a run or leaderboard job is already in progress.
var ErrBusy = errors.New("another job is still running")

type Options struct {
	// DryRun replaces the configured publisher with the log publisher.
	DryRun bool
	// RunOnStart triggers one run as soon as watch mode starts.
	RunOnStart bool
}

// App wires configuration, storage, the EFP client, the publication
// scheduler and the runner together.
type App struct {
	opts Options

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	tg     *telegram.Client
	store  storage.Store
	efp    *efp.Client
	pub    publisher.Publisher
	sched  *throttle.Scheduler
	runner *runner.Runner
	board  *runner.Leaderboard

	// busy serializes runs and leaderboard jobs; both share the budget.
	busy sync.Mutex
}

func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	if err := cfgm.LoadEnv(); err != nil {
		return nil, err
	}
	cfgm.SetValidator(validateRuntime)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The Telegram client is needed by the log service, so it logs to the
	// console until the service exists.
	var tg *telegram.Client
	if telegramNeeded(cfg, opts.DryRun) {
		bootLog := logx.NewConsole(cfg.Logging.Level)
		tg, err = telegram.New(mapTelegramConfig(cfg), bootLog)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
	}
	var logSender logx.Sender
	var msgSender transport.Sender
	if tg != nil {
		logSender, msgSender = tg, tg
	}

	logSvc, log := logx.New(mapLogConfig(cfg), logSender)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{opts: opts, cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logSvc, tg: tg}

	store, err := storage.Open(mapStorageConfig(cfg), log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	pcfg := mapPublisherConfig(cfg, opts.DryRun)
	pcfg.Tokens = store
	pub, err := publisher.Open(pcfg, msgSender, log)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open publisher: %w", err)
	}
	a.pub = pub

	tcfg, err := mapThrottleConfig(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.efp = efp.New(mapEFPConfig(cfg), log)
	a.sched = throttle.New(tcfg, pub, store, throttle.SystemClock{}, log)

	composer := mapComposer(cfg)
	a.runner = runner.New(mapRunnerConfig(cfg), a.efp, store, composer, a.sched, nil, log)
	a.board = runner.NewLeaderboard(a.efp, store, composer, a.sched, nil, log)

	a.log.Info("app ready",
		logx.Int("watchlist", len(cfg.Watchlist)),
		logx.String("publisher", publisherName(cfg, opts.DryRun)),
		logx.String("storage", storageName(cfg)),
		logx.String("mode", string(mapRunnerConfig(cfg).Mode)),
	)
	return a, nil
}

// validateRuntime rejects values that only the app can interpret. It runs on
// the initial load and on every reload.
func validateRuntime(_ context.Context, cfg *config.Config) error {
	if s := strings.TrimSpace(cfg.Run.Schedule); s != "" {
		if _, err := ParseSchedule(s); err != nil {
			return fmt.Errorf("run.schedule: %w", err)
		}
	}
	if s := strings.TrimSpace(cfg.Run.LeaderboardSchedule); s != "" {
		if _, err := ParseSchedule(s); err != nil {
			return fmt.Errorf("run.leaderboard_schedule: %w", err)
		}
	}
	if _, err := throttle.ParsePeriod(cfg.Publication.Period); err != nil {
		return fmt.Errorf("publication.period: %w", err)
	}
	return nil
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

// RunOnce processes the watchlist once and publishes what changed.
func (a *App) RunOnce(ctx context.Context) (runner.Report, error) {
	a.busy.Lock()
	defer a.busy.Unlock()
	return a.runLocked(ctx)
}

func (a *App) runLocked(ctx context.Context) (runner.Report, error) {
	rep, err := a.runner.Run(ctx)
	if err != nil {
		a.log.Error("run failed", append(rep.Fields(), logx.Err(err))...)
		return rep, err
	}
	if state, b := a.sched.State(ctx); state == throttle.Exhausted {
		a.log.Warn("publication budget exhausted", logx.Int("published_in_period", b.Count), logx.Time("period_start", b.PeriodStart))
	}
	return rep, nil
}

// Bootstrap stores a baseline snapshot of every watchlist account.
func (a *App) Bootstrap(ctx context.Context) (runner.BootstrapReport, error) {
	a.busy.Lock()
	defer a.busy.Unlock()
	return a.runner.Bootstrap(ctx)
}

// Leaderboard publishes the followers leaderboard. limit <= 0 uses the
// configured size.
func (a *App) Leaderboard(ctx context.Context, limit int) (throttle.Result, error) {
	a.busy.Lock()
	defer a.busy.Unlock()
	return a.leaderboardLocked(ctx, limit)
}

func (a *App) leaderboardLocked(ctx context.Context, limit int) (throttle.Result, error) {
	if limit <= 0 {
		limit = leaderboardSize(a.cfgm.Get())
	}
	res, err := a.board.Run(ctx, limit)
	if err != nil {
		a.log.Error("leaderboard failed", logx.Err(err))
	}
	return res, err
}

// Close releases storage and flushes the log sinks.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if a.logs != nil {
		if err := a.logs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func publisherName(cfg *config.Config, dryRun bool) string {
	if dryRun {
		return "log (dry run)"
	}
	if p := strings.TrimSpace(cfg.Publication.Publisher); p != "" {
		return p
	}
	return "log"
}

func storageName(cfg *config.Config) string {
	if d := strings.TrimSpace(cfg.Storage.Driver); d != "" {
		return d
	}
	return "file"
}
