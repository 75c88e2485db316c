package compose

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"efpwatch/internal/change"
)

func ch(cat change.Category, detail string) change.Change {
	return change.Change{Category: cat, Detail: detail}
}

func TestComposeEmpty(t *testing.T) {
	t.Parallel()
	c := New(Options{}, nil)
	if s, ok := c.Compose(change.AccountChanges{Address: "0xa"}); ok || s != "" {
		t.Fatalf("Compose(empty) = %q, %v", s, ok)
	}
}

func TestComposeHeadlineAndLink(t *testing.T) {
	t.Parallel()
	c := New(Options{}, nil)
	got, ok := c.Compose(change.AccountChanges{
		Address: "0xabc",
		Name:    "abc.eth",
		Changes: []change.Change{
			ch(change.ENSChange, "updated ENS avatar"),
			ch(change.FollowerChange, "gained 12 followers"),
		},
	})
	if !ok {
		t.Fatalf("Compose returned no message")
	}
	want := "🚀 abc.eth gained 12 followers\n• updated ENS avatar\n\nhttps://efp.app/0xabc"
	if got != want {
		t.Fatalf("Compose =\n%q\nwant\n%q", got, want)
	}
}

func TestComposeOverflowCount(t *testing.T) {
	t.Parallel()
	c := New(Options{MaxItems: 2}, nil)
	acct := change.AccountChanges{Address: "0xa"}
	for i := 0; i < 6; i++ {
		acct.Changes = append(acct.Changes, ch(change.Block, fmt.Sprintf("blocked %d accounts", i+2)))
	}
	got, _ := c.Compose(acct)
	if strings.Count(got, "• ") != 2 {
		t.Fatalf("bullets in %q", got)
	}
	if !strings.Contains(got, "and 3 more changes") {
		t.Fatalf("missing overflow count in %q", got)
	}

	acct.Changes = acct.Changes[:4]
	got, _ = c.Compose(acct)
	if !strings.Contains(got, "and 1 more change") || strings.Contains(got, "more changes") {
		t.Fatalf("singular overflow wrong in %q", got)
	}
}

func TestComposeNeverExceedsBudget(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("verylongword ", 40)
	acct := change.AccountChanges{Address: "0x" + strings.Repeat("f", 40), Name: strings.Repeat("名", 100)}
	for i := 0; i < 50; i++ {
		acct.Changes = append(acct.Changes, ch(change.Category("account_change"), fmt.Sprintf("%d %s", i, long)))
	}
	for _, phrases := range []PhraseStrategy{PlainPhrases{}, NewRandomPhrases(1, nil)} {
		for _, items := range []int{0, 1, 3, 10, 50} {
			c := New(Options{MaxItems: items}, phrases)
			got, ok := c.Compose(acct)
			if !ok {
				t.Fatalf("no message")
			}
			if n := Len(got); n > DefaultBudget {
				t.Fatalf("MaxItems=%d: %d runes > %d", items, n, DefaultBudget)
			}
		}
	}
}

func TestComposeDropsLinkRatherThanCutting(t *testing.T) {
	t.Parallel()
	c := New(Options{Budget: 60}, nil)
	got, _ := c.Compose(change.AccountChanges{
		Address: "0x" + strings.Repeat("a", 40),
		Changes: []change.Change{ch(change.NewUser, "joined EFP")},
	})
	if strings.Contains(got, "https://") {
		t.Fatalf("link should be omitted: %q", got)
	}
	if strings.HasSuffix(got, "…") {
		t.Fatalf("should not need truncation: %q", got)
	}
}

func TestTruncateKeepsGraphemes(t *testing.T) {
	t.Parallel()
	accented := "e\u0301"
	s := strings.Repeat(accented, 10)
	got := Truncate(s, 8)
	if Len(got) > 8 {
		t.Fatalf("Truncate len = %d", Len(got))
	}
	body := strings.TrimSuffix(got, "…")
	if body != strings.Repeat(accented, 3) {
		t.Fatalf("split a grapheme cluster: %q", got)
	}
	if Truncate("short", 10) != "short" {
		t.Fatalf("short string changed")
	}
	if Truncate("abc", 0) != "" {
		t.Fatalf("zero budget")
	}
}

func TestRandomPhrasesDeterministic(t *testing.T) {
	t.Parallel()
	a := NewRandomPhrases(99, nil)
	b := NewRandomPhrases(99, nil)
	for i := 0; i < 20; i++ {
		x := a.Headline(change.NewUser, "0xa", "joined EFP")
		y := b.Headline(change.NewUser, "0xa", "joined EFP")
		if x != y {
			t.Fatalf("seeded strategies diverged: %q vs %q", x, y)
		}
		if !strings.Contains(x, "0xa") || !strings.Contains(x, "joined EFP") {
			t.Fatalf("headline lost account or detail: %q", x)
		}
	}
	if got := a.Headline(change.Mute, "0xa", "muted 2 accounts"); got != "0xa muted 2 accounts" {
		t.Fatalf("fallback = %q", got)
	}
}

func TestComposeSummary(t *testing.T) {
	t.Parallel()
	c := New(Options{}, nil)
	ranked := change.RankAccounts([]change.AccountChanges{
		{Address: "0xb", Changes: []change.Change{ch(change.ENSChange, "updated ENS name")}},
		{Address: "0xa", Name: "a.eth", Changes: []change.Change{
			ch(change.FollowerChange, "gained 40 followers"),
			ch(change.NewUser, "joined EFP"),
		}},
	})
	got, ok := c.ComposeSummary(ranked)
	if !ok {
		t.Fatalf("no summary")
	}
	want := "🚀 EFP Update Alert! 🚀\n\na.eth has been busy: joined EFP, gained 40 followers\n\nAlso watch: 0xb\n\nMore at https://efp.app/0xa"
	if got != want {
		t.Fatalf("summary =\n%q\nwant\n%q", got, want)
	}

	solo, _ := c.ComposeSummary(ranked[:1])
	if !strings.Contains(solo, "Stay tuned for more EFP action! 👀") {
		t.Fatalf("solo summary = %q", solo)
	}
	if _, ok := c.ComposeSummary(nil); ok {
		t.Fatalf("empty summary should be absent")
	}
}

func TestComposeSummaryBudget(t *testing.T) {
	t.Parallel()
	c := New(Options{MaxItems: 50}, nil)
	var accts []change.AccountChanges
	for i := 0; i < 20; i++ {
		a := change.AccountChanges{Address: fmt.Sprintf("0x%040d", i), Name: strings.Repeat("n", 60)}
		for j := 0; j < 50; j++ {
			a.Changes = append(a.Changes, ch(change.Block, strings.Repeat("x", 70)))
		}
		accts = append(accts, a)
	}
	got, _ := c.ComposeSummary(change.RankAccounts(accts))
	if Len(got) > DefaultBudget {
		t.Fatalf("summary is %d runes", Len(got))
	}
}

func TestComposeLeaderboard(t *testing.T) {
	t.Parallel()
	c := New(Options{}, nil)
	at := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	got, ok := c.ComposeLeaderboard([]LeaderboardEntry{
		{Address: "0x1", Name: "one.eth", Followers: 120, Previous: 100, HasPrevious: true},
		{Address: "0x2", Followers: 90, Previous: 95, HasPrevious: true},
		{Address: "0x3", Name: "three.eth", Followers: 80},
	}, at)
	if !ok {
		t.Fatalf("no leaderboard")
	}
	for _, want := range []string{
		"📊 EFP Follower Leaderboard Update",
		"1. 🚀 one.eth: 120 followers (+20)",
		"2. 📉 0x2: 90 followers (-5)",
		"3. ➖ three.eth: 80 followers",
		"Updated at 2024-06-01 09:30:00 UTC",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("leaderboard missing %q:\n%s", want, got)
		}
	}
}
