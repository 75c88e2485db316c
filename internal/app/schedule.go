package app

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type ScheduleKind int

const (
	ScheduleCron ScheduleKind = iota
	ScheduleInterval
)

// Schedule is a parsed run schedule.
//
// Accepted forms:
//   - cron: "*/30 * * * *", "0 0 9 * * *" (optional seconds), "@hourly", "@every 2h"
//   - Go duration: "55m", "2h30m"
//   - HH:MM interval: "02:30" is every 2h30m
//
// The "cron:" prefix forces cron parsing; "interval:" or "every:" force an
// interval.
type Schedule struct {
	Kind   ScheduleKind
	Expr   string
	Every  time.Duration
	Source string // cron | duration | hhmm

	sched cron.Schedule
}

// Cron returns the schedule in robfig/cron form.
func (s Schedule) Cron() cron.Schedule { return s.sched }

func (s Schedule) String() string {
	if s.Kind == ScheduleInterval {
		return "every " + s.Every.String()
	}
	return s.Expr
}

var (
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
)

func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if sc, err := parseInterval(s); err == nil {
		return sc, nil
	}
	return Schedule{}, fmt.Errorf("invalid schedule %q (use cron like '*/30 * * * *', HH:MM like '02:30', or a duration like '1h')", raw)
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron expression required")
	}
	sc, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Schedule{Kind: ScheduleCron, Expr: expr, Source: "cron", sched: sc}, nil
}

func parseInterval(v string) (Schedule, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Schedule{}, fmt.Errorf("interval required")
	}
	var (
		d   time.Duration
		src string
		err error
	)
	if reHHMM.MatchString(v) {
		d, err = parseHHMM(v)
		src = "hhmm"
	} else {
		d, err = time.ParseDuration(v)
		src = "duration"
	}
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	// cron.Every rounds down to whole seconds.
	if d < time.Second {
		return Schedule{}, fmt.Errorf("interval must be at least 1s, got %s", d)
	}
	return Schedule{Kind: ScheduleInterval, Expr: v, Every: d, Source: src, sched: cron.Every(d)}, nil
}

func parseHHMM(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}
