package publisher

import (
	"context"
	"fmt"
	"sync/atomic"

	logx "efpwatch/pkg/logx"
)

// LogPublisher is the dry-run driver.
type LogPublisher struct {
	log logx.Logger
	seq atomic.Int64
}

func NewLog(log logx.Logger) *LogPublisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, text string) (string, error) {
	if err := checkText(text); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("dry-run-%d", p.seq.Add(1))
	p.log.Info("dry-run publish", logx.String("id", id), logx.String("text", text))
	return id, nil
}
