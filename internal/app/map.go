package app

import (
	"strings"
	"time"

	"efpwatch/internal/change"
	"efpwatch/internal/compose"
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

const defaultLeaderboardSize = 10

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Operator: logx.OperatorConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// telegramNeeded reports whether any component sends through the Bot API.
func telegramNeeded(cfg *config.Config, dryRun bool) bool {
	if cfg.Logging.Telegram.Enabled {
		return true
	}
	return !dryRun && strings.EqualFold(cfg.Publication.Publisher, "telegram")
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:     cfg.Telegram.Token,
		APIURL:    cfg.Telegram.APIURL,
		Timeout:   cfg.Telegram.Timeout.D(),
		LogTarget: transport.ChatTarget{ChatID: cfg.Telegram.LogChatID, ThreadID: cfg.Telegram.LogThreadID},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeout.D(),
	}
}

func mapEFPConfig(cfg *config.Config) efp.Config {
	e := cfg.EFP
	return efp.Config{
		BaseURL:      e.BaseURL,
		Timeout:      e.Timeout.D(),
		RetryMax:     e.RetryMax,
		RetryWaitMin: e.RetryWaitMin.D(),
		RetryWaitMax: e.RetryWaitMax.D(),
		PageSize:     e.PageSize,
		Workers:      e.Workers,
		CacheSize:    e.CacheSize,
		CacheTTL:     e.CacheTTL.D(),
		UserAgent:    e.UserAgent,
	}
}

func mapPublisherConfig(cfg *config.Config, dryRun bool) publisher.Config {
	driver := cfg.Publication.Publisher
	if dryRun {
		driver = "log"
	}
	return publisher.Config{
		Driver: driver,
		Telegram: publisher.TelegramConfig{
			Target:         transport.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
			DisablePreview: true,
		},
		X: publisher.XConfig{
			APIURL:       cfg.X.APIURL,
			TokenURL:     cfg.X.TokenURL,
			ClientID:     cfg.X.ClientID,
			ClientSecret: cfg.X.ClientSecret,
			AccessToken:  cfg.X.AccessToken,
			RefreshToken: cfg.X.RefreshToken,
		},
	}
}

func mapThrottleConfig(cfg *config.Config) (throttle.Config, error) {
	p := cfg.Publication
	period, err := throttle.ParsePeriod(p.Period)
	if err != nil {
		return throttle.Config{}, err
	}
	return throttle.Config{
		MaxPerRun:       p.MaxPerRun,
		MaxPerPeriod:    p.MaxPerPeriod,
		Period:          period,
		MinDelay:        p.MinDelay.D(),
		DedupWindow:     p.DedupWindow.D(),
		BreakerTrip:     p.BreakerTrip,
		BreakerCooldown: p.BreakerCooldown.D(),
	}, nil
}

// mapDetectConfig fills zero thresholds with the detector defaults.
func mapDetectConfig(cfg *config.Config) change.Config {
	d := change.DefaultConfig()
	t := cfg.Thresholds
	if t.SignificantFollowerChange > 0 {
		d.FollowerThreshold = t.SignificantFollowerChange
	}
	if t.SignificantFollowingChange > 0 {
		d.FollowingThreshold = t.SignificantFollowingChange
	}
	if t.SignificantListChange > 0 {
		d.ListThreshold = t.SignificantListChange
	}
	if t.TopRankThreshold > 0 {
		d.TopRankThreshold = t.TopRankThreshold
	}
	if len(t.RankKinds) > 0 {
		d.RankKinds = append([]string(nil), t.RankKinds...)
	}
	d.TrackUnblock = t.TrackUnblock
	d.Watchlist = change.WatchlistSet(cfg.Watchlist)
	return d
}

func mapRunnerConfig(cfg *config.Config) runner.Config {
	mode := runner.PerAccount
	if strings.EqualFold(cfg.Publication.Mode, string(runner.Summary)) {
		mode = runner.Summary
	}
	return runner.Config{
		Watchlist:         append([]string(nil), cfg.Watchlist...),
		Detect:            mapDetectConfig(cfg),
		Mode:              mode,
		Workers:           cfg.Run.Workers,
		RunTimeout:        cfg.Run.Timeout.D(),
		CircuitTrip:       cfg.Run.CircuitTrip,
		CircuitBaseDelay:  cfg.Run.CircuitBaseDelay.D(),
		CircuitMaxDelay:   cfg.Run.CircuitMaxDelay.D(),
		CircuitResetAfter: cfg.Run.CircuitResetAfter.D(),
	}
}

func mapComposer(cfg *config.Config) *compose.Composer {
	p := cfg.Publication
	var phrases compose.PhraseStrategy = compose.PlainPhrases{}
	if strings.EqualFold(p.Phrases, "random") {
		seed := p.PhraseSeed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		phrases = compose.NewRandomPhrases(seed, nil)
	}
	return compose.New(compose.Options{
		MaxItems:   p.MaxItems,
		ProfileURL: p.ProfileURL,
		Budget:     publisher.MaxTextLength,
	}, phrases)
}

func leaderboardSize(cfg *config.Config) int {
	if cfg.Run.LeaderboardSize > 0 {
		return cfg.Run.LeaderboardSize
	}
	return defaultLeaderboardSize
}

func loadLocation(name string) *time.Location {
	if strings.TrimSpace(name) == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}
