package app

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   ScheduleKind
		source string
		every  time.Duration
	}{
		{name: "cron", raw: "*/30 * * * *", kind: ScheduleCron, source: "cron"},
		{name: "cron with seconds", raw: "0 0 9 * * *", kind: ScheduleCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: ScheduleCron, source: "cron"},
		{name: "every descriptor", raw: "@every 2h", kind: ScheduleCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: ScheduleCron, source: "cron"},
		{name: "duration", raw: "90m", kind: ScheduleInterval, source: "duration", every: 90 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: ScheduleInterval, source: "duration", every: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every:00:20", kind: ScheduleInterval, source: "hhmm", every: 20 * time.Minute},
		{name: "hhmm", raw: "02:30", kind: ScheduleInterval, source: "hhmm", every: 150 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind || got.Source != tt.source {
				t.Fatalf("got kind=%v source=%s, want %v/%s", got.Kind, got.Source, tt.kind, tt.source)
			}
			if tt.kind == ScheduleInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
			if got.Cron() == nil {
				t.Fatal("cron schedule not built")
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:75", "0s", "500ms", "cron:", "61 * * * *"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Errorf("ParseSchedule(%q) accepted", raw)
		}
	}
}

func TestScheduleNextInterval(t *testing.T) {
	t.Parallel()
	sc, err := ParseSchedule("1h")
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	if got := sc.Cron().Next(from); !got.Equal(from.Add(time.Hour)) {
		t.Fatalf("Next = %v", got)
	}
}
