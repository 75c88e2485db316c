package publisher

import (
	"context"
	"fmt"

	"efpwatch/internal/transport"
)

type TelegramPublisher struct {
	sender transport.Sender
	cfg    TelegramConfig
}

func NewTelegram(sender transport.Sender, cfg TelegramConfig) *TelegramPublisher {
	return &TelegramPublisher{sender: sender, cfg: cfg}
}

// Publish returns "<chat_id>:<message_id>".
func (p *TelegramPublisher) Publish(ctx context.Context, text string) (string, error) {
	if err := checkText(text); err != nil {
		return "", err
	}
	ref, err := p.sender.SendText(ctx, p.cfg.Target, text, &transport.SendOptions{DisablePreview: p.cfg.DisablePreview})
	if err != nil {
		return "", fmt.Errorf("%w: telegram: %v", ErrPublish, err)
	}
	return fmt.Sprintf("%d:%d", ref.ChatID, ref.MessageID), nil
}
