package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"efpwatch/internal/config"
	"efpwatch/internal/runtime/supervisor"
	logx "efpwatch/pkg/logx"
)

const (
	defaultSchedule = "1h"
	cronStopTimeout = 30 * time.Second
)

// Watch runs on the configured schedule until ctx ends, applying config
// reloads from the next run on.
func (a *App) Watch(ctx context.Context) error {
	cfg := a.cfgm.Get()
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	c := cron.New(
		cron.WithLocation(loadLocation(cfg.Run.Timezone)),
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(cronLogger{a.log})),
	)
	jobs := &watchJobs{app: a, cron: c, ctx: sup.Context()}
	if err := jobs.schedule(cfg); err != nil {
		_ = sup.Stop(context.Background())
		return err
	}

	sup.Go("cron", func(ctx context.Context) error {
		c.Start()
		<-ctx.Done()
		select {
		case <-c.Stop().Done():
		case <-time.After(cronStopTimeout):
			a.log.Warn("scheduled job did not finish before shutdown")
		}
		return nil
	})

	sub := a.cfgm.Subscribe(4)
	sup.Go("config.apply", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(last, next, jobs)
				last = next
			}
		}
	})
	sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, time.Minute))

	if a.opts.RunOnStart {
		sup.Go("run.initial", func(ctx context.Context) error {
			jobs.run(ctx)
			return nil
		})
	}

	a.log.Info("watching", jobs.fields()...)
	<-sup.Context().Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), cronStopTimeout+5*time.Second)
	defer cancel()
	err := sup.Stop(stopCtx)
	a.log.Info("watch stopped")
	return err
}

// applyConfig makes a reloaded config effective. Storage, publisher and EFP
// settings are only logged; they need a restart.
func (a *App) applyConfig(old, cfg *config.Config, jobs *watchJobs) {
	sections, attrs := config.SummarizeChange(old, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(mapLogConfig(cfg))
	if tc, err := mapThrottleConfig(cfg); err != nil {
		a.log.Warn("invalid publication config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(tc)
	}
	composer := mapComposer(cfg)
	a.runner.Apply(mapRunnerConfig(cfg), composer)
	a.board.Apply(composer)
	if err := jobs.schedule(cfg); err != nil {
		a.log.Warn("invalid schedule; keeping previous", logx.Err(err))
	}

	restart := config.RestartRequired(old, cfg)
	if old.Run.Timezone != cfg.Run.Timezone {
		restart = append(restart, "run.timezone")
	}
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// watchJobs owns the cron entries of the run and leaderboard jobs.
type watchJobs struct {
	app  *App
	cron *cron.Cron
	ctx  context.Context

	mu         sync.Mutex
	runSpec    string
	runID      cron.EntryID
	boardSpec  string
	boardID    cron.EntryID
	boardLimit int
}

// schedule (re)registers the jobs whose schedule changed.
func (j *watchJobs) schedule(cfg *config.Config) error {
	runSpec := strings.TrimSpace(cfg.Run.Schedule)
	if runSpec == "" {
		runSpec = defaultSchedule
	}
	boardSpec := strings.TrimSpace(cfg.Run.LeaderboardSchedule)

	runSched, err := ParseSchedule(runSpec)
	if err != nil {
		return fmt.Errorf("run.schedule: %w", err)
	}
	var boardSched Schedule
	if boardSpec != "" {
		if boardSched, err = ParseSchedule(boardSpec); err != nil {
			return fmt.Errorf("run.leaderboard_schedule: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.boardLimit = leaderboardSize(cfg)

	if runSpec != j.runSpec || j.runID == 0 {
		if j.runID != 0 {
			j.cron.Remove(j.runID)
		}
		j.runID = j.cron.Schedule(runSched.Cron(), cron.FuncJob(func() { j.run(j.ctx) }))
		j.runSpec = runSpec
	}
	if boardSpec != j.boardSpec {
		if j.boardID != 0 {
			j.cron.Remove(j.boardID)
			j.boardID = 0
		}
		if boardSpec != "" {
			j.boardID = j.cron.Schedule(boardSched.Cron(), cron.FuncJob(func() { j.leaderboard(j.ctx) }))
		}
		j.boardSpec = boardSpec
	}
	return nil
}

func (j *watchJobs) fields() []logx.Field {
	j.mu.Lock()
	defer j.mu.Unlock()
	fs := []logx.Field{logx.String("schedule", j.runSpec)}
	if j.boardSpec != "" {
		fs = append(fs, logx.String("leaderboard_schedule", j.boardSpec))
	}
	return fs
}

// run skips the tick when the previous job is still running.
func (j *watchJobs) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !j.app.busy.TryLock() {
		j.app.log.Warn("skipping scheduled run", logx.Err(ErrBusy))
		return
	}
	defer j.app.busy.Unlock()
	_, _ = j.app.runLocked(ctx)
}

func (j *watchJobs) leaderboard(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !j.app.busy.TryLock() {
		j.app.log.Warn("skipping scheduled leaderboard", logx.Err(ErrBusy))
		return
	}
	defer j.app.busy.Unlock()
	j.mu.Lock()
	limit := j.boardLimit
	j.mu.Unlock()
	_, _ = j.app.leaderboardLocked(ctx, limit)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
