package runner

import (
	"context"
	"strings"
	"testing"

	"efpwatch/internal/compose"
	"efpwatch/internal/efp"
	"efpwatch/internal/storage"
	"efpwatch/internal/throttle"
	logx "efpwatch/pkg/logx"
)

type fakeBoard struct {
	rows  []efp.LeaderboardRow
	names map[string]string
}

func (b *fakeBoard) Leaderboard(ctx context.Context, limit int) ([]efp.LeaderboardRow, error) {
	if limit < len(b.rows) {
		return b.rows[:limit], nil
	}
	return b.rows, nil
}

func (b *fakeBoard) ENSName(ctx context.Context, address string) string {
	if n, ok := b.names[address]; ok {
		return n
	}
	return address
}

type stubPoster struct {
	status throttle.Status
	texts  []string
}

func (p *stubPoster) BeginRun() {}

func (p *stubPoster) Publish(ctx context.Context, post throttle.Post) (throttle.Result, error) {
	p.texts = append(p.texts, post.Text)
	return throttle.Result{Status: p.status}, nil
}

func TestLeaderboardDeltas(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	board := &fakeBoard{
		rows: []efp.LeaderboardRow{
			{Address: "0xa", Followers: 500},
			{Address: "0xb", Name: "bee.eth", Followers: 300},
			{Address: "0xc", Followers: 100},
		},
		names: map[string]string{"0xa": "ay.eth"},
	}
	store := storage.NewMemory()
	if err := store.SaveLeaderboard(ctx, map[string]int{"0xa": 495, "0xb": 310}); err != nil {
		t.Fatalf("SaveLeaderboard: %v", err)
	}
	poster := &stubPoster{status: throttle.Published}
	lb := NewLeaderboard(board, store, compose.New(compose.Options{}, nil), poster, &fakeClock{now: t0}, logx.Nop())

	res, err := lb.Run(ctx, 3)
	if err != nil || res.Status != throttle.Published {
		t.Fatalf("Run = %+v, %v", res, err)
	}
	text := poster.texts[0]
	for _, want := range []string{"1. 🚀 ay.eth: 500 followers (+5)", "2. 📉 bee.eth: 300 followers (-10)", "3. ➖ 0xc: 100 followers"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in %q", want, text)
		}
	}
	saved, _ := store.LoadLeaderboard(ctx)
	if saved["0xa"] != 500 || saved["0xc"] != 100 {
		t.Fatalf("saved = %v", saved)
	}
}

func TestLeaderboardKeepsPreviousWhenSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	board := &fakeBoard{rows: []efp.LeaderboardRow{{Address: "0xa", Followers: 500}}}
	store := storage.NewMemory()
	_ = store.SaveLeaderboard(ctx, map[string]int{"0xa": 400})
	poster := &stubPoster{status: throttle.BudgetExhausted}
	lb := NewLeaderboard(board, store, nil, poster, &fakeClock{now: t0}, logx.Nop())

	if _, err := lb.Run(ctx, 10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	saved, _ := store.LoadLeaderboard(ctx)
	if saved["0xa"] != 400 {
		t.Fatalf("saved = %v", saved)
	}
}
