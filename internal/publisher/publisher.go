// Package publisher posts composed notifications to an outbound channel.
//
// Drivers:
//   - log: dry run, writes the post to the log and returns a synthetic id
//   - telegram: sends to a chat through the Telegram transport
//   - x: creates a post through the X API v2 with an OAuth2 user token
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"efpwatch/internal/transport"
	logx "efpwatch/pkg/logx"
)

// MaxTextLength is the post size accepted by every driver, in characters.
const MaxTextLength = 280

var (
	// ErrPublish wraps every downstream failure.
	ErrPublish = errors.New("publish failed")
	ErrTooLong = errors.New("post exceeds length limit")
	ErrEmpty   = errors.New("post is empty")
)

type Publisher interface {
	Publish(ctx context.Context, text string) (string, error)
}

type Config struct {
	Driver   string // log | telegram | x
	Telegram TelegramConfig
	X        XConfig
	// Tokens persists rotated X credentials. Optional.
	Tokens TokenStore
}

type TelegramConfig struct {
	Target         transport.ChatTarget
	DisablePreview bool
}

// Open builds the configured driver. sender is required by the telegram
// driver only.
func Open(cfg Config, sender transport.Sender, log logx.Logger) (Publisher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "publisher"))

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "log":
		return NewLog(log), nil
	case "telegram":
		if sender == nil {
			return nil, errors.New("publisher: telegram driver needs a telegram client")
		}
		if cfg.Telegram.Target.IsZero() {
			return nil, errors.New("publisher: telegram chat_id is empty")
		}
		return NewTelegram(sender, cfg.Telegram), nil
	case "x", "twitter":
		return NewX(cfg.X, cfg.Tokens, log)
	default:
		return nil, fmt.Errorf("publisher: unknown driver %q", cfg.Driver)
	}
}

func checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmpty
	}
	if n := utf8.RuneCountInString(text); n > MaxTextLength {
		return fmt.Errorf("%w: %d > %d", ErrTooLong, n, MaxTextLength)
	}
	return nil
}
