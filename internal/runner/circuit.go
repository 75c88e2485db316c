package runner

import (
	"strings"
	"sync"
	"time"
)

// circuitState tracks consecutive fetch failures for one address.
//
// On success the failures reset. Once failures >= trip the address is
// skipped for a cooldown that doubles with every further failure, up to
// maxDelay.
type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type circuitCfg struct {
	trip       int
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration
	enabled    bool
}

func effectiveCircuitCfg(cfg Config) circuitCfg {
	trip := cfg.CircuitTrip
	if trip == 0 {
		trip = 3
	}
	if trip < 0 {
		return circuitCfg{}
	}
	base := cfg.CircuitBaseDelay
	if base <= 0 {
		base = 15 * time.Minute
	}
	maxD := cfg.CircuitMaxDelay
	if maxD <= 0 {
		maxD = 6 * time.Hour
	}
	if maxD < base {
		maxD = base
	}
	reset := cfg.CircuitResetAfter
	if reset <= 0 {
		reset = 24 * time.Hour
	}
	return circuitCfg{trip: trip, baseDelay: base, maxDelay: maxD, resetAfter: reset, enabled: true}
}

type circuitStore struct {
	mu sync.Mutex
	m  map[string]*circuitState
}

// getLocked returns the state for key, creating it. s.mu must be held.
func (s *circuitStore) getLocked(key string) *circuitState {
	if s.m == nil {
		s.m = make(map[string]*circuitState)
	}
	st := s.m[key]
	if st == nil {
		st = &circuitState{}
		s.m[key] = st
	}
	return st
}

func (s *circuitStore) isOpen(now time.Time, key string, cc circuitCfg) (bool, time.Time) {
	key = strings.TrimSpace(key)
	if !cc.enabled || key == "" {
		return false, time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getLocked(key)
	st.expire(now, cc)
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (s *circuitStore) record(now time.Time, key string, cc circuitCfg, err error) {
	key = strings.TrimSpace(key)
	if !cc.enabled || key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getLocked(key)
	st.expire(now, cc)

	if err == nil {
		*st = circuitState{}
		return
	}
	st.fails++
	st.lastFailure = now
	if st.fails < cc.trip {
		return
	}
	d := cc.baseDelay
	for i := 0; i < st.fails-cc.trip && d < cc.maxDelay; i++ {
		d *= 2
	}
	st.openUntil = now.Add(min(d, cc.maxDelay))
}

// expire forgets failures older than resetAfter.
func (st *circuitState) expire(now time.Time, cc circuitCfg) {
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > cc.resetAfter {
		*st = circuitState{}
	}
}

// failing lists addresses with at least trip consecutive failures.
func (s *circuitStore) failing(cc circuitCfg) []string {
	if !cc.enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k, st := range s.m {
		if st.fails >= cc.trip {
			out = append(out, k)
		}
	}
	return out
}
