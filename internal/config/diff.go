package config

import (
	"reflect"
	"slices"
	"sort"

	logx "efpwatch/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe structured
// attrs for logging. Secrets (tokens, client secrets) are never included;
// only whether they are set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !slices.Equal(oldCfg.Watchlist, newCfg.Watchlist) {
		added, removed := diffStrings(oldCfg.Watchlist, newCfg.Watchlist)
		changed = append(changed, "watchlist")
		attrs = append(attrs,
			logx.Int("watchlist.size", len(newCfg.Watchlist)),
			logx.Int("watchlist.added", len(added)),
			logx.Int("watchlist.removed", len(removed)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Thresholds, newCfg.Thresholds) {
		t := newCfg.Thresholds
		changed = append(changed, "thresholds")
		attrs = append(attrs,
			logx.Int("thresholds.follower", t.SignificantFollowerChange),
			logx.Int("thresholds.following", t.SignificantFollowingChange),
			logx.Int("thresholds.list", t.SignificantListChange),
			logx.Int("thresholds.top_rank", t.TopRankThreshold),
			logx.Bool("thresholds.track_unblock", t.TrackUnblock),
		)
	}

	if oldCfg.Publication != newCfg.Publication {
		p := newCfg.Publication
		changed = append(changed, "publication")
		attrs = append(attrs,
			logx.String("publication.mode", p.Mode),
			logx.String("publication.publisher", p.Publisher),
			logx.Int("publication.max_per_run", p.MaxPerRun),
			logx.Int("publication.max_per_period", p.MaxPerPeriod),
			logx.String("publication.period", p.Period),
			logx.Duration("publication.min_delay", p.MinDelay.D()),
		)
	}

	if oldCfg.Run != newCfg.Run {
		changed = append(changed, "run")
		attrs = append(attrs,
			logx.String("run.schedule", newCfg.Run.Schedule),
			logx.String("run.leaderboard_schedule", newCfg.Run.LeaderboardSchedule),
			logx.Int("run.workers", newCfg.Run.Workers),
			logx.Duration("run.timeout", newCfg.Run.Timeout.D()),
		)
	}

	if oldCfg.EFP != newCfg.EFP {
		changed = append(changed, "efp")
		attrs = append(attrs,
			logx.String("efp.base_url", newCfg.EFP.BaseURL),
			logx.Int("efp.retry_max", newCfg.EFP.RetryMax),
		)
	}

	// Telegram and X: never log tokens.
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
			logx.Bool("telegram.chat_set", newCfg.Telegram.ChatID != 0),
			logx.Bool("telegram.log_chat_set", newCfg.Telegram.LogChatID != 0),
		)
	}
	if oldCfg.X != newCfg.X {
		changed = append(changed, "x")
		attrs = append(attrs,
			logx.Bool("x.access_token_set", newCfg.X.AccessToken != ""),
			logx.Bool("x.refresh_token_set", newCfg.X.RefreshToken != ""),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", newCfg.Storage.Path != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	var out []string
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Telegram != newCfg.Telegram || oldCfg.X != newCfg.X ||
		oldCfg.Publication.Publisher != newCfg.Publication.Publisher {
		out = append(out, "publisher")
	}
	if oldCfg.EFP != newCfg.EFP {
		out = append(out, "efp")
	}
	return out
}

func diffStrings(oldS, newS []string) (added, removed []string) {
	oldSet := make(map[string]struct{}, len(oldS))
	for _, s := range oldS {
		oldSet[s] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newS))
	for _, s := range newS {
		newSet[s] = struct{}{}
		if _, ok := oldSet[s]; !ok {
			added = append(added, s)
		}
	}
	for _, s := range oldS {
		if _, ok := newSet[s]; !ok {
			removed = append(removed, s)
		}
	}
	return added, removed
}
