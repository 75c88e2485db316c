package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"efpwatch/internal/snapshot"
	logx "efpwatch/pkg/logx"
)

// ConfigError reports a configuration that cannot be used. It is fatal: no
// account is processed with it.
type ConfigError struct {
	Path     string
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("invalid config")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Problems) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Problems, "; "))
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// Report problems with the config key names.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		// Watchlist entries are hex addresses or ENS names.
		_ = validate.RegisterValidation("account", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			return snapshot.IsAddress(v) || snapshot.IsENSName(v)
		})
	})
	return validate
}

// Normalize lower-cases and deduplicates the watchlist, keeping first-seen
// order, and expands ${ENV} references in secret fields.
func Normalize(cfg *Config) {
	seen := make(map[string]struct{}, len(cfg.Watchlist))
	out := make([]string, 0, len(cfg.Watchlist))
	for _, a := range cfg.Watchlist {
		a = strings.ToLower(strings.TrimSpace(a))
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	cfg.Watchlist = out

	cfg.Telegram.Token = expandEnv(cfg.Telegram.Token)
	cfg.X.ClientID = expandEnv(cfg.X.ClientID)
	cfg.X.ClientSecret = expandEnv(cfg.X.ClientSecret)
	cfg.X.AccessToken = expandEnv(cfg.X.AccessToken)
	cfg.X.RefreshToken = expandEnv(cfg.X.RefreshToken)
	cfg.Storage.Path = expandEnv(cfg.Storage.Path)
}

func expandEnv(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "$") {
		return s
	}
	return strings.TrimSpace(os.ExpandEnv(s))
}

// Validate checks struct tags and the cross-field rules. The returned error
// is a *ConfigError listing every problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Err: errors.New("config is nil")}
	}
	var problems []string
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &ConfigError{Err: err}
		}
		for _, fe := range verrs {
			problems = append(problems, formatFieldError(fe))
		}
	}

	if lvl := cfg.Logging.Level; lvl != "" && !logx.ValidLevel(lvl) {
		problems = append(problems, fmt.Sprintf("logging.level: unknown level %q", lvl))
	}
	if lvl := cfg.Logging.Telegram.MinLevel; lvl != "" && !logx.ValidLevel(lvl) {
		problems = append(problems, fmt.Sprintf("logging.telegram.min_level: unknown level %q", lvl))
	}

	switch cfg.Publication.Publisher {
	case "telegram":
		if cfg.Telegram.Token == "" {
			problems = append(problems, "telegram.token is required by the telegram publisher")
		}
		if cfg.Telegram.ChatID == 0 {
			problems = append(problems, "telegram.chat_id is required by the telegram publisher")
		}
	case "x":
		if cfg.X.AccessToken == "" && cfg.X.RefreshToken == "" {
			problems = append(problems, "x.access_token or x.refresh_token is required by the x publisher")
		}
		if cfg.X.AccessToken == "" && cfg.X.ClientID == "" {
			problems = append(problems, "x.client_id is required to refresh the x token")
		}
	}
	if cfg.Logging.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			problems = append(problems, "telegram.token is required by logging.telegram")
		}
		if cfg.Telegram.LogChatID == 0 {
			problems = append(problems, "telegram.log_chat_id is required by logging.telegram")
		}
	}
	if lo, hi := cfg.EFP.RetryWaitMin, cfg.EFP.RetryWaitMax; lo > 0 && hi > 0 && lo > hi {
		problems = append(problems, "efp.retry_wait_min must be <= efp.retry_wait_max")
	}
	if lo, hi := cfg.Run.CircuitBaseDelay, cfg.Run.CircuitMaxDelay; lo > 0 && hi > 0 && lo > hi {
		problems = append(problems, "run.circuit_base_delay must be <= run.circuit_max_delay")
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	// Namespace is "Config.publication.period"; drop the root type name.
	field := e.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "account":
		return fmt.Sprintf("%s: %q is neither an address nor an ENS name", field, e.Value())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "timezone":
		return fmt.Sprintf("%s: unknown timezone %q", field, e.Value())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, e.Tag())
	}
}
