package config

// Config is the on-disk configuration. JSON and YAML are accepted; durations
// are Go duration strings (e.g. "30s", "1h").
//
// Secret fields (tokens, client secrets) may reference environment variables
// as ${NAME}; a .env file next to the config is loaded first.
type Config struct {
	Watchlist   []string          `json:"watchlist" validate:"required,min=1,dive,required,account"`
	Thresholds  ThresholdsConfig  `json:"thresholds"`
	Publication PublicationConfig `json:"publication"`
	Run         RunConfig         `json:"run"`
	EFP         EFPConfig         `json:"efp"`
	Telegram    TelegramConfig    `json:"telegram"`
	X           XConfig           `json:"x"`
	Storage     StorageConfig     `json:"storage"`
	Logging     LoggingConfig     `json:"logging"`
}

// ThresholdsConfig controls change detection. Zero values fall back to the
// defaults (10 / 5 / 2 / 20).
type ThresholdsConfig struct {
	SignificantFollowerChange  int      `json:"significant_follower_change" validate:"gte=0"`
	SignificantFollowingChange int      `json:"significant_following_change" validate:"gte=0"`
	SignificantListChange      int      `json:"significant_list_change" validate:"gte=0"`
	TopRankThreshold           int      `json:"top_rank_threshold" validate:"gte=0"`
	RankKinds                  []string `json:"rank_kinds,omitempty" validate:"dive,required"`
	// TrackUnblock also reports unblock/unmute for targets present in both
	// snapshots.
	TrackUnblock bool `json:"track_unblock,omitempty"`
}

// PublicationConfig controls composing and throttling.
//
// Defaults (when fields are omitted/zero):
//   - mode: per_account
//   - publisher: log
//   - period: day
//   - max_per_run / max_per_period: 0 (unlimited)
//   - max_items: 3
//   - phrases: plain
type PublicationConfig struct {
	Mode         string `json:"mode,omitempty" validate:"omitempty,oneof=per_account summary"`
	Publisher    string `json:"publisher,omitempty" validate:"omitempty,oneof=log telegram x"`
	MaxPerRun    int    `json:"max_per_run" validate:"gte=0"`
	MaxPerPeriod int    `json:"max_per_period" validate:"gte=0"`
	Period       string `json:"period,omitempty" validate:"omitempty,oneof=hour day month"`
	// MinDelay also accepts integer seconds.
	MinDelay    Duration `json:"min_delay,omitempty"`
	DedupWindow Duration `json:"dedup_window,omitempty"`
	MaxItems    int      `json:"max_items,omitempty" validate:"gte=0"`
	ProfileURL  string   `json:"profile_url,omitempty" validate:"omitempty,url"`
	Phrases     string   `json:"phrases,omitempty" validate:"omitempty,oneof=plain random"`
	// PhraseSeed makes random phrasing reproducible; 0 seeds from the clock.
	PhraseSeed uint64 `json:"phrase_seed,omitempty"`

	BreakerTrip     int      `json:"breaker_trip,omitempty" validate:"gte=0"`
	BreakerCooldown Duration `json:"breaker_cooldown,omitempty"`
}

// RunConfig controls the orchestrator and the watch-mode schedule.
type RunConfig struct {
	Workers int      `json:"workers,omitempty" validate:"gte=0"`
	Timeout Duration `json:"timeout,omitempty"`

	// Schedule is a cron expression, "@every 1h", a Go duration or "HH:MM".
	Schedule string `json:"schedule,omitempty"`
	// LeaderboardSchedule enables the leaderboard job in watch mode.
	LeaderboardSchedule string `json:"leaderboard_schedule,omitempty"`
	LeaderboardSize     int    `json:"leaderboard_size,omitempty" validate:"gte=0,lte=100"`
	Timezone            string `json:"timezone,omitempty" validate:"omitempty,timezone"`

	CircuitTrip      int      `json:"circuit_trip,omitempty"`
	CircuitBaseDelay Duration `json:"circuit_base_delay,omitempty"`
	CircuitMaxDelay  Duration `json:"circuit_max_delay,omitempty"`
	// CircuitResetAfter forgets failure streaks older than this (default 24h).
	CircuitResetAfter Duration `json:"circuit_reset_after,omitempty"`
}

type EFPConfig struct {
	BaseURL      string   `json:"base_url,omitempty" validate:"omitempty,url"`
	Timeout      Duration `json:"timeout,omitempty"`
	RetryMax     int      `json:"retry_max,omitempty" validate:"gte=0,lte=10"`
	RetryWaitMin Duration `json:"retry_wait_min,omitempty"`
	RetryWaitMax Duration `json:"retry_wait_max,omitempty"`
	PageSize     int      `json:"page_size,omitempty" validate:"gte=0,lte=1000"`
	Workers      int      `json:"workers,omitempty" validate:"gte=0"`
	CacheSize    int      `json:"cache_size,omitempty" validate:"gte=0"`
	CacheTTL     Duration `json:"cache_ttl,omitempty"`
	UserAgent    string   `json:"user_agent,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	APIURL string `json:"api_url,omitempty" validate:"omitempty,url"`
	// ChatID receives posts when publication.publisher is "telegram".
	ChatID   int64    `json:"chat_id,omitempty"`
	ThreadID int      `json:"thread_id,omitempty"`
	Timeout  Duration `json:"timeout,omitempty"`
	// LogChatID receives operator logs (logging.telegram).
	LogChatID   int64 `json:"log_chat_id,omitempty"`
	LogThreadID int   `json:"log_thread_id,omitempty"`
}

type XConfig struct {
	APIURL       string `json:"api_url,omitempty" validate:"omitempty,url"`
	TokenURL     string `json:"token_url,omitempty" validate:"omitempty,url"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./efpwatch_state" }
type StorageConfig struct {
	Driver      string   `json:"driver,omitempty" validate:"omitempty,oneof=file sqlite sqlite3 memory"`
	Path        string   `json:"path,omitempty"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level,omitempty"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}
