package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "efpwatch/pkg/logx"
)

var (
	addrA = "0x" + strings.Repeat("a", 40)
	addrB = "0x" + strings.Repeat("b", 40)
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", `
watchlist:
  - "0x`+strings.ToUpper(addrA[2:])+`"
  - "`+addrB+`"
  - "`+addrB+`"
thresholds:
  significant_follower_change: 15
  top_rank_threshold: 50
publication:
  mode: summary
  period: hour
  max_per_period: 10
  min_delay: 30
  dedup_window: 24h
run:
  schedule: "@every 1h"
`)

	cfg, err := NewManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Watchlist) != 2 || cfg.Watchlist[0] != addrA || cfg.Watchlist[1] != addrB {
		t.Fatalf("watchlist = %v", cfg.Watchlist)
	}
	if cfg.Publication.MinDelay.D() != 30*time.Second || cfg.Publication.DedupWindow.D() != 24*time.Hour {
		t.Fatalf("durations = %v %v", cfg.Publication.MinDelay.D(), cfg.Publication.DedupWindow.D())
	}
	if cfg.Thresholds.SignificantFollowerChange != 15 || cfg.Publication.Mode != "summary" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseYAMLKeepsUnquotedHexAddress(t *testing.T) {
	t.Parallel()
	// Leading zeros make this fit in an int64.
	addr := "0x" + strings.Repeat("0", 38) + "aa"
	p := writeFile(t, t.TempDir(), "config.yml", "watchlist:\n  - "+addr+"\n")
	cfg, err := NewManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Watchlist) != 1 || cfg.Watchlist[0] != addr {
		t.Fatalf("watchlist = %v", cfg.Watchlist)
	}
}

func TestParseYAMLRejectsDuplicateKeys(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", "watchlist:\n  - \""+addrA+"\"\nrun:\n  workers: 2\nrun:\n  workers: 3\n")
	if _, err := NewManager(p).Parse(); !IsConfigError(err) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{"watchlist":["`+addrA+`"],"tresholds":{}}`)
	_, err := NewManager(p).Parse()
	if !IsConfigError(err) || !strings.Contains(err.Error(), "tresholds") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{"watchlist":["`+addrA+`"]}{}`)
	if _, err := NewManager(p).Parse(); !IsConfigError(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseMissingFile(t *testing.T) {
	t.Parallel()
	_, err := NewManager(filepath.Join(t.TempDir(), "nope.json")).Parse()
	if !IsConfigError(err) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Watchlist:   []string{"0x123"},
		Thresholds:  ThresholdsConfig{SignificantFollowerChange: -1},
		Publication: PublicationConfig{Period: "week", Publisher: "telegram"},
		Logging:     LoggingConfig{Level: "loud"},
	}
	err := Validate(cfg)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v", err)
	}
	msg := err.Error()
	for _, want := range []string{
		"watchlist[0]",
		"thresholds.significant_follower_change must be >= 0",
		"publication.period must be one of",
		"logging.level",
		"telegram.token is required",
		"telegram.chat_id is required",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in %q", want, msg)
		}
	}
}

func TestValidateEmptyWatchlist(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	Normalize(cfg)
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "watchlist") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateAcceptsENSNames(t *testing.T) {
	t.Parallel()
	cfg := &Config{Watchlist: []string{"Vitalik.ETH", addrA, "bob", "pay.brantly.eth"}}
	Normalize(cfg)
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected error for %q", "bob")
	}
	msg := err.Error()
	if !strings.Contains(msg, `watchlist[2]: "bob" is neither an address nor an ENS name`) {
		t.Fatalf("err = %v", err)
	}
	for _, idx := range []string{"watchlist[0]", "watchlist[1]", "watchlist[3]"} {
		if strings.Contains(msg, idx) {
			t.Errorf("%s rejected: %v", idx, err)
		}
	}
}

func TestSecretsExpandFromEnv(t *testing.T) {
	t.Setenv("EFPWATCH_TEST_TG_TOKEN", "123:abc")
	p := writeFile(t, t.TempDir(), "config.json", `{
		"watchlist": ["`+addrA+`"],
		"publication": {"publisher": "telegram"},
		"telegram": {"token": "${EFPWATCH_TEST_TG_TOKEN}", "chat_id": -100}
	}`)
	cfg, err := NewManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestLoadEnvFromConfigDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "EFPWATCH_TEST_FROM_DOTENV=yes\n")
	t.Cleanup(func() { os.Unsetenv("EFPWATCH_TEST_FROM_DOTENV") })
	m := NewManager(filepath.Join(dir, "config.json"))
	if err := m.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("EFPWATCH_TEST_FROM_DOTENV"); got != "yes" {
		t.Fatalf("env = %q", got)
	}
}

func TestDurationAcceptsSecondsAndStrings(t *testing.T) {
	t.Parallel()
	var d Duration
	if err := d.UnmarshalJSON([]byte(`1.5`)); err != nil || d.D() != 1500*time.Millisecond {
		t.Fatalf("seconds: %v %v", d.D(), err)
	}
	if err := d.UnmarshalJSON([]byte(`"2m"`)); err != nil || d.D() != 2*time.Minute {
		t.Fatalf("string: %v %v", d.D(), err)
	}
	if err := d.UnmarshalJSON([]byte(`"-1s"`)); err == nil {
		t.Fatal("negative duration accepted")
	}
	if Duration(0).Or(time.Second) != time.Second {
		t.Fatal("Or default")
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Watchlist: []string{addrA}}
	newCfg := &Config{
		Watchlist:  []string{addrA, addrB},
		Thresholds: ThresholdsConfig{SignificantFollowerChange: 3},
		Telegram:   TelegramConfig{Token: "super-secret"},
	}
	changed, attrs := SummarizeChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "telegram,thresholds,watchlist" {
		t.Fatalf("changed = %v", changed)
	}
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	if strings.Contains(buf.String(), "super-secret") {
		t.Fatalf("secret leaked: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"watchlist.added":1`) {
		t.Fatalf("attrs = %s", buf.String())
	}
	if got := RestartRequired(oldCfg, newCfg); len(got) != 1 || got[0] != "publisher" {
		t.Fatalf("restart = %v", got)
	}
}

func TestWatchPublishesValidReloads(t *testing.T) {
	dir := t.TempDir()
	body := func(maxPerRun string) string {
		return `{"watchlist":["` + addrA + `"],"publication":{"max_per_run":` + maxPerRun + `}}`
	}
	p := writeFile(t, dir, "config.json", body("1"))
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, dir, "config.json", body("-5"))
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Publication)
	case <-time.After(800 * time.Millisecond):
	}
	if m.Get().Publication.MaxPerRun != 1 {
		t.Fatalf("committed = %d", m.Get().Publication.MaxPerRun)
	}

	writeFile(t, dir, "config.json", body("7"))
	select {
	case cfg := <-ch:
		if cfg.Publication.MaxPerRun != 7 {
			t.Fatalf("published max_per_run = %d", cfg.Publication.MaxPerRun)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload not published")
	}
}
