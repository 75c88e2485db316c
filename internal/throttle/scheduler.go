// Package throttle decides whether a post may be published right now.
//
// The Scheduler keeps a persisted per-period budget, a per-run cap, a
// minimum spacing between consecutive publishes and an optional dedup window,
// and calls the Publisher behind a circuit breaker. Publisher failures are
// never fatal: they are logged, audited and reported in the Result.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"efpwatch/internal/storage"
	logx "efpwatch/pkg/logx"
)

// Publisher sends one post and returns its id.
type Publisher interface {
	Publish(ctx context.Context, text string) (string, error)
}

// Store is the subset of storage.Store the scheduler needs. It may be nil, in
// which case the budget only lives in memory.
type Store interface {
	LoadBudget(ctx context.Context) (storage.Budget, bool, error)
	SaveBudget(ctx context.Context, b storage.Budget) error
	AppendPublication(ctx context.Context, e storage.PublicationEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
}

type Config struct {
	// MaxPerRun bounds publish attempts between two BeginRun calls; <= 0 means
	// unlimited.
	MaxPerRun int
	// MaxPerPeriod bounds successful publishes per Period; <= 0 means unlimited.
	MaxPerPeriod int
	Period       Period
	MinDelay     time.Duration
	// DedupWindow suppresses republishing identical text; 0 disables it.
	DedupWindow time.Duration

	// BreakerTrip is the number of consecutive publisher failures that open
	// the breaker; 0 disables it.
	BreakerTrip     int
	BreakerCooldown time.Duration
}

type Status string

const (
	Published       Status = "published"
	RunCapReached   Status = "run_cap_reached"
	BudgetExhausted Status = "budget_exhausted"
	Deduped         Status = "deduped"
	Failed          Status = "failed"
	BreakerOpen     Status = "breaker_open"
)

type Result struct {
	Status Status
	ID     string
	Err    error
}

// Post is one composed notification.
type Post struct {
	Account string
	Text    string
}

// State of the period budget.
type State string

const (
	WithinBudget State = "within-budget"
	Exhausted    State = "exhausted"
)

type Scheduler struct {
	mu sync.Mutex

	cfg   Config
	pub   Publisher
	store Store
	clock Clock
	log   logx.Logger

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	loaded      bool
	budget      storage.Budget
	runAttempts int
}

func New(cfg Config, pub Publisher, store Store, clock Clock, log logx.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		pub:   pub,
		store: store,
		clock: clock,
		log:   log.With(logx.String("comp", "throttle")),
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the limits; the persisted budget and run count are kept.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Scheduler) applyLocked(cfg Config) {
	if cfg.Period == "" {
		cfg.Period = Day
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 5 * time.Minute
	}
	prev := s.cfg
	s.cfg = cfg

	if s.limiter == nil || prev.MinDelay != cfg.MinDelay {
		if cfg.MinDelay > 0 {
			s.limiter = rate.NewLimiter(rate.Every(cfg.MinDelay), 1)
		} else {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
		}
	}
	if s.breaker == nil || prev.BreakerTrip != cfg.BreakerTrip || prev.BreakerCooldown != cfg.BreakerCooldown {
		s.breaker = nil
		if cfg.BreakerTrip > 0 {
			s.breaker = s.newBreaker(cfg)
		}
	}
}

func (s *Scheduler) newBreaker(cfg Config) *gobreaker.CircuitBreaker {
	trip := uint32(cfg.BreakerTrip)
	log := s.log
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "publisher",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("publisher breaker state changed",
				logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
}

// BeginRun resets the per-run cap.
func (s *Scheduler) BeginRun() {
	s.mu.Lock()
	s.runAttempts = 0
	s.mu.Unlock()
}

// State reports the budget state at the current time, applying a pending
// period rollover.
func (s *Scheduler) State(ctx context.Context) (State, storage.Budget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)
	s.rollLocked(ctx, s.clock.Now())
	if s.cfg.MaxPerPeriod > 0 && s.budget.Count >= s.cfg.MaxPerPeriod {
		return Exhausted, s.budget
	}
	return WithinBudget, s.budget
}

// Publish runs p through the caps and, when allowed, the publisher. The
// returned error is non-nil only when ctx ends; every other outcome is
// described by Result.
func (s *Scheduler) Publish(ctx context.Context, p Post) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked(ctx)
	now := s.clock.Now()
	s.rollLocked(ctx, now)
	log := s.log.With(logx.String("account", p.Account))

	if s.cfg.MaxPerRun > 0 && s.runAttempts >= s.cfg.MaxPerRun {
		log.Info("run publication cap reached; skipping", logx.Int("max_per_run", s.cfg.MaxPerRun))
		s.audit(ctx, p, now, storage.StatusSkipped, string(RunCapReached), "", nil)
		return Result{Status: RunCapReached}, nil
	}
	if s.cfg.MaxPerPeriod > 0 && s.budget.Count >= s.cfg.MaxPerPeriod {
		log.Warn("publication budget exhausted; skipping",
			logx.Int("count", s.budget.Count),
			logx.Int("max_per_period", s.cfg.MaxPerPeriod),
			logx.String("period", string(s.cfg.Period)),
			logx.Time("resets_at", s.cfg.Period.Next(now)))
		s.audit(ctx, p, now, storage.StatusSkipped, string(BudgetExhausted), "", nil)
		return Result{Status: BudgetExhausted}, nil
	}

	key := dedupKey(p.Text)
	if s.cfg.DedupWindow > 0 && s.store != nil {
		until, ok, err := s.store.GetDedup(ctx, key)
		if err != nil {
			log.Debug("dedup lookup failed", logx.Err(err))
		} else if ok && now.Before(until) {
			log.Info("identical post published recently; skipping", logx.Time("until", until))
			s.audit(ctx, p, now, storage.StatusSkipped, string(Deduped), "", nil)
			return Result{Status: Deduped}, nil
		}
	}

	r := s.limiter.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		log.Debug("spacing publications", logx.Duration("delay", d))
		if err := s.clock.Sleep(ctx, d); err != nil {
			r.CancelAt(now)
			return Result{}, err
		}
	}

	s.runAttempts++
	id, err := s.call(ctx, p.Text)
	now = s.clock.Now()
	if err != nil {
		status := Failed
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = BreakerOpen
		}
		log.Warn("publish failed", logx.String("status", string(status)), logx.Err(err))
		s.audit(ctx, p, now, storage.StatusFailed, string(status), "", err)
		return Result{Status: status, Err: err}, nil
	}

	s.budget.Count++
	s.saveLocked(ctx)
	if s.cfg.DedupWindow > 0 && s.store != nil {
		if err := s.store.PutDedup(ctx, key, now.Add(s.cfg.DedupWindow)); err != nil {
			log.Debug("dedup persist failed", logx.Err(err))
		}
	}
	s.audit(ctx, p, now, storage.StatusPublished, "", id, nil)
	log.Info("published",
		logx.String("id", id),
		logx.Int("count", s.budget.Count),
		logx.Int("run_attempts", s.runAttempts))
	return Result{Status: Published, ID: id}, nil
}

func (s *Scheduler) call(ctx context.Context, text string) (string, error) {
	if s.pub == nil {
		return "", errors.New("throttle: no publisher configured")
	}
	if s.breaker == nil {
		return s.pub.Publish(ctx, text)
	}
	v, err := s.breaker.Execute(func() (interface{}, error) {
		return s.pub.Publish(ctx, text)
	})
	if err != nil {
		return "", err
	}
	id, _ := v.(string)
	return id, nil
}

func (s *Scheduler) loadLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true
	if s.store == nil {
		return
	}
	b, ok, err := s.store.LoadBudget(ctx)
	if err != nil {
		s.log.Warn("load publication budget failed; starting from zero", logx.Err(err))
		return
	}
	if ok {
		s.budget = b
	}
}

// rollLocked resets the budget once now has crossed into a new period.
func (s *Scheduler) rollLocked(ctx context.Context, now time.Time) {
	start := s.cfg.Period.Start(now)
	if !start.After(s.budget.PeriodStart) {
		return
	}
	if !s.budget.PeriodStart.IsZero() {
		s.log.Info("publication period rolled over",
			logx.Time("previous_start", s.budget.PeriodStart),
			logx.Int("previous_count", s.budget.Count))
	}
	s.budget = storage.Budget{PeriodStart: start, Count: 0}
	s.saveLocked(ctx)
}

func (s *Scheduler) saveLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveBudget(ctx, s.budget); err != nil {
		s.log.Warn("persist publication budget failed", logx.Err(err))
	}
}

func (s *Scheduler) audit(ctx context.Context, p Post, at time.Time, status, reason, id string, err error) {
	if s.store == nil {
		return
	}
	e := storage.PublicationEntry{
		At:      at,
		Account: p.Account,
		Text:    p.Text,
		PostID:  id,
		Status:  status,
		Reason:  reason,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.store.AppendPublication(ctx, e); aerr != nil {
		s.log.Debug("append publication failed", logx.Err(aerr))
	}
}

func dedupKey(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(text)))
	return fmt.Sprintf("pub:%016x", h.Sum64())
}
