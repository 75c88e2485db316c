package runner

import (
	"time"

	logx "efpwatch/pkg/logx"
)

// Report summarizes one run.
type Report struct {
	Accounts  int
	Processed int
	Failed    int
	Changed   int
	NoProfile int
	// Deferred accounts were not started before the run budget elapsed.
	Deferred    int
	CircuitOpen int

	Published      int
	PublishSkipped int
	PublishFailed  int

	FailedAccounts []string
	// Failing lists addresses whose consecutive failures tripped the
	// account circuit.
	Failing []string

	Duration time.Duration
}

func (r Report) Fields() []logx.Field {
	fs := []logx.Field{
		logx.Int("accounts", r.Accounts),
		logx.Int("processed", r.Processed),
		logx.Int("failed", r.Failed),
		logx.Int("changed", r.Changed),
		logx.Int("no_profile", r.NoProfile),
		logx.Int("published", r.Published),
		logx.Int("publish_skipped", r.PublishSkipped),
		logx.Int("publish_failed", r.PublishFailed),
		logx.Duration("took", r.Duration),
	}
	if r.Deferred > 0 {
		fs = append(fs, logx.Int("deferred", r.Deferred))
	}
	if r.CircuitOpen > 0 {
		fs = append(fs, logx.Int("circuit_open", r.CircuitOpen))
	}
	if len(r.FailedAccounts) > 0 {
		fs = append(fs, logx.Strings("failed_accounts", r.FailedAccounts))
	}
	if len(r.Failing) > 0 {
		fs = append(fs, logx.Strings("consistently_failing", r.Failing))
	}
	return fs
}
