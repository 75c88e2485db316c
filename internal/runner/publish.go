package runner

import (
	"context"

	"efpwatch/internal/change"
	"efpwatch/internal/compose"
	"efpwatch/internal/throttle"
	logx "efpwatch/pkg/logx"
)

// publish composes the ranked accounts and hands the posts to the poster in
// rank order. Once the run cap or the period budget is hit the remaining
// posts are counted as skipped without asking the poster again.
func (r *Runner) publish(ctx context.Context, mode Mode, composer *compose.Composer, ranked []change.AccountChanges, rep *Report) error {
	if r.poster == nil {
		return nil
	}
	r.poster.BeginRun()

	posts := composePosts(mode, composer, ranked)
	for i, p := range posts {
		res, err := r.poster.Publish(ctx, p)
		if err != nil {
			rep.PublishSkipped += len(posts) - i
			return err
		}
		switch res.Status {
		case throttle.Published:
			rep.Published++
		case throttle.Failed, throttle.BreakerOpen:
			rep.PublishFailed++
		case throttle.RunCapReached, throttle.BudgetExhausted:
			rep.PublishSkipped += len(posts) - i
			r.log.Info("publishing stopped", logx.String("reason", string(res.Status)), logx.Int("skipped", len(posts)-i))
			return nil
		default:
			rep.PublishSkipped++
		}
	}
	return nil
}

func composePosts(mode Mode, composer *compose.Composer, ranked []change.AccountChanges) []throttle.Post {
	if len(ranked) == 0 {
		return nil
	}
	if mode == Summary {
		text, ok := composer.ComposeSummary(ranked)
		if !ok {
			return nil
		}
		return []throttle.Post{{Account: ranked[0].Address, Text: text}}
	}
	posts := make([]throttle.Post, 0, len(ranked))
	for _, a := range ranked {
		if text, ok := composer.Compose(a); ok {
			posts = append(posts, throttle.Post{Account: a.Address, Text: text})
		}
	}
	return posts
}
