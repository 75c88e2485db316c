package change

import (
	"fmt"
	"math/rand"
	"testing"

	"efpwatch/internal/snapshot"
)

func active(addr string) *snapshot.Snapshot {
	return &snapshot.Snapshot{Address: addr, HasProfile: true}
}

func follows(addrs ...string) []snapshot.FollowEntry {
	out := make([]snapshot.FollowEntry, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, snapshot.FollowEntry{Address: a})
	}
	return out
}

func TestDetectIdenticalSnapshotsYieldNothing(t *testing.T) {
	t.Parallel()
	s := &snapshot.Snapshot{
		Address:       "0xabc",
		HasProfile:    true,
		PrimaryListID: "7",
		Stats:         snapshot.Stats{FollowersCount: 120, FollowingCount: 40},
		Lists:         []snapshot.List{{ID: "7", Name: "main"}},
		Following:     []snapshot.FollowEntry{{Address: "0x1", Blocked: true}, {Address: "0x2", Muted: true}},
		ENS:           map[string]string{"name": "abc.eth", "avatar": "https://a"},
		Account:       map[string]any{"primary_list": "7"},
		Ranks:         map[string]int{"mutuals_rank": 3},
	}
	cp := *s
	cfg := DefaultConfig()
	cfg.Watchlist = WatchlistSet([]string{"0x1", "0x2"})
	cfg.TrackUnblock = true

	if got := Detect(s, &cp, cfg); len(got) != 0 {
		t.Fatalf("Detect(s, s) = %v, want none", got)
	}
}

func TestDetectIdenticalRandomSnapshots(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	cfg := DefaultConfig()
	cfg.TrackUnblock = true
	for i := 0; i < 200; i++ {
		s := active(fmt.Sprintf("0x%x", i))
		s.Stats.FollowersCount = rng.Intn(1000)
		for j := 0; j < rng.Intn(20); j++ {
			s.Following = append(s.Following, snapshot.FollowEntry{
				Address: fmt.Sprintf("0xt%d", j),
				Blocked: rng.Intn(2) == 0,
				Muted:   rng.Intn(3) == 0,
			})
			cfg.Watchlist = WatchlistSet([]string{fmt.Sprintf("0xt%d", j)})
		}
		if rng.Intn(2) == 0 {
			s.Lists = []snapshot.List{{ID: "1"}}
		}
		s.Ranks = map[string]int{"followers_rank": rng.Intn(50)}
		cp := *s
		if !snapshot.Equal(s, &cp) {
			t.Fatalf("copy not equal")
		}
		if got := Detect(s, &cp, cfg); len(got) != 0 {
			t.Fatalf("iteration %d: Detect(s, s) = %v", i, got)
		}
	}
}

func TestDetectNewUser(t *testing.T) {
	t.Parallel()
	cases := []*snapshot.Snapshot{
		active("0xa"),
		snapshot.Inactive("0xb", nowForTest),
		{Address: "0xc", HasProfile: true, Stats: snapshot.Stats{FollowersCount: 5000}, Lists: []snapshot.List{{ID: "1"}}},
	}
	for _, s := range cases {
		got := Detect(nil, s, DefaultConfig())
		if len(got) != 1 || got[0].Category != NewUser {
			t.Fatalf("Detect(nil, %s) = %v, want exactly one new_user", s.Address, got)
		}
	}
}

func TestDetectFetchFailureYieldsNothing(t *testing.T) {
	t.Parallel()
	if got := Detect(active("0xa"), nil, DefaultConfig()); got != nil {
		t.Fatalf("Detect(old, nil) = %v, want nil", got)
	}
	if got := Detect(nil, nil, DefaultConfig()); got != nil {
		t.Fatalf("Detect(nil, nil) = %v, want nil", got)
	}
}

func TestDetectInactiveShortCircuits(t *testing.T) {
	t.Parallel()
	old := active("0xa")
	old.Stats.FollowersCount = 500
	if got := Detect(old, snapshot.Inactive("0xa", nowForTest), DefaultConfig()); len(got) != 0 {
		t.Fatalf("Detect(active, inactive) = %v, want none", got)
	}

	cur := active("0xa")
	cur.Stats.FollowersCount = 500
	got := Detect(snapshot.Inactive("0xa", nowForTest), cur, DefaultConfig())
	if len(got) != 1 || got[0].Category != NewUser {
		t.Fatalf("Detect(inactive, active) = %v, want one new_user", got)
	}
}

func TestDetectFollowerThresholdBoundary(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.FollowerThreshold = 10

	tests := []struct {
		name  string
		delta int
		want  int
	}{
		{name: "below", delta: 9, want: 0},
		{name: "exact", delta: 10, want: 1},
		{name: "loss below", delta: -9, want: 0},
		{name: "loss exact", delta: -10, want: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			old := active("0xa")
			old.Stats.FollowersCount = 100
			cur := active("0xa")
			cur.Stats.FollowersCount = 100 + tt.delta
			got := Detect(old, cur, cfg)
			if len(got) != tt.want {
				t.Fatalf("delta %d: got %v, want %d changes", tt.delta, got, tt.want)
			}
		})
	}
}

func TestDetectFollowerGainScenario(t *testing.T) {
	t.Parallel()
	old := active("0xa")
	old.Stats.FollowersCount = 100
	cur := active("0xa")
	cur.Stats.FollowersCount = 112

	cfg := DefaultConfig()
	cfg.FollowerThreshold = 10
	got := Detect(old, cur, cfg)
	if len(got) != 1 {
		t.Fatalf("got %v, want one change", got)
	}
	c := got[0]
	if c.Category != FollowerChange {
		t.Fatalf("category = %s", c.Category)
	}
	if v, ok := c.Value(); !ok || v != 12 {
		t.Fatalf("magnitude = %v,%v want 12", v, ok)
	}
	if c.Detail != "gained 12 followers" {
		t.Fatalf("detail = %q", c.Detail)
	}
}

func TestDetectFollowerLossWording(t *testing.T) {
	t.Parallel()
	old := active("0xa")
	old.Stats.FollowersCount = 100
	cur := active("0xa")
	cur.Stats.FollowersCount = 85
	got := Detect(old, cur, DefaultConfig())
	if len(got) != 1 || got[0].Detail != "lost 15 followers" {
		t.Fatalf("got %v", got)
	}
	if got[0].Glyph() != "📉" {
		t.Fatalf("glyph = %s", got[0].Glyph())
	}
}

func TestDetectCreatedList(t *testing.T) {
	t.Parallel()
	old := active("0xa")
	cur := active("0xa")
	cur.Lists = []snapshot.List{{ID: "12", Name: "Degens"}}

	got := Detect(old, cur, DefaultConfig())
	if len(got) != 1 {
		t.Fatalf("got %v, want one change", got)
	}
	if got[0].Category != CreatedList {
		t.Fatalf("category = %s", got[0].Category)
	}
	if want := "created an EFP list: Degens"; got[0].Detail != want {
		t.Fatalf("detail = %q, want %q", got[0].Detail, want)
	}
}

func TestDetectListChangeThreshold(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.ListThreshold = 2
	old := active("0xa")
	old.Lists = []snapshot.List{{ID: "1"}}
	cur := active("0xa")
	cur.Lists = []snapshot.List{{ID: "1"}, {ID: "2"}}
	if got := Detect(old, cur, cfg); len(got) != 0 {
		t.Fatalf("one new list: got %v", got)
	}
	cur.Lists = append(cur.Lists, snapshot.List{ID: "3"})
	got := Detect(old, cur, cfg)
	if len(got) != 1 || got[0].Category != ListChange {
		t.Fatalf("two new lists: got %v", got)
	}
	if v, _ := got[0].Value(); v != 2 {
		t.Fatalf("magnitude = %d", v)
	}
}

func TestDetectSignificantFollow(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Watchlist = WatchlistSet([]string{"0xA", "0xB"})

	old := active("0xowner")
	old.Following = follows("0xc")
	cur := active("0xowner")
	cur.Following = follows("0xc", "0xa")

	got := Detect(old, cur, cfg)
	if len(got) != 1 {
		t.Fatalf("got %v, want one change", got)
	}
	if got[0].Category != SignificantFollow || got[0].Detail != "followed 0xa" {
		t.Fatalf("got %v", got[0])
	}
}

func TestDetectSignificantFollowNamesEveryHit(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.FollowingThreshold = 100
	cfg.Watchlist = WatchlistSet([]string{"0xa", "0xb", "0xz"})

	old := active("0xowner")
	cur := active("0xowner")
	cur.Following = follows("0xb", "0xq", "0xa")

	got := Detect(old, cur, cfg)
	if len(got) != 1 || got[0].Detail != "followed 0xb, 0xa" {
		t.Fatalf("got %v", got)
	}
}

func TestDetectUnfollowAndFollowingVolume(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.FollowingThreshold = 3

	old := active("0xa")
	old.Following = follows("0x1", "0x2", "0x3", "0x4")
	cur := active("0xa")
	cur.Following = follows("0x4", "0x5", "0x6", "0x7")

	got := Detect(old, cur, cfg)
	if len(got) != 2 {
		t.Fatalf("got %v, want following_change + unfollow", got)
	}
	if got[0].Category != FollowingChange || got[0].Detail != "followed 3 new accounts" {
		t.Fatalf("first = %v", got[0])
	}
	if got[1].Category != Unfollow || got[1].Detail != "unfollowed 3 accounts" {
		t.Fatalf("second = %v", got[1])
	}
}

func TestFollowDiffPartitionsSymmetricDifference(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 300; i++ {
		old := active("0xa")
		cur := active("0xa")
		for j := 0; j < 30; j++ {
			addr := fmt.Sprintf("0x%d", j)
			if rng.Intn(2) == 0 {
				old.Following = append(old.Following, snapshot.FollowEntry{Address: addr})
			}
			if rng.Intn(2) == 0 {
				cur.Following = append(cur.Following, snapshot.FollowEntry{Address: addr, Blocked: rng.Intn(2) == 0})
			}
		}
		followed, unfollowed := FollowDiff(old, cur)

		union := map[string]struct{}{}
		for _, a := range followed {
			union[a] = struct{}{}
		}
		for _, a := range unfollowed {
			if _, dup := union[a]; dup {
				t.Fatalf("followed and unfollowed overlap on %s", a)
			}
			union[a] = struct{}{}
		}

		oldT, curT := old.Targets(), cur.Targets()
		symDiff := map[string]struct{}{}
		for a := range oldT {
			if _, ok := curT[a]; !ok {
				symDiff[a] = struct{}{}
			}
		}
		for a := range curT {
			if _, ok := oldT[a]; !ok {
				symDiff[a] = struct{}{}
			}
		}
		if len(union) != len(symDiff) {
			t.Fatalf("union size %d != symmetric difference size %d", len(union), len(symDiff))
		}
		for a := range symDiff {
			if _, ok := union[a]; !ok {
				t.Fatalf("%s missing from union", a)
			}
		}
	}
}

func TestDetectBlockAndMute(t *testing.T) {
	t.Parallel()
	old := active("0xa")
	old.Following = []snapshot.FollowEntry{{Address: "0x1"}, {Address: "0x2", Blocked: true}, {Address: "0x3", Muted: true}}
	cur := active("0xa")
	cur.Following = []snapshot.FollowEntry{
		{Address: "0x1", Blocked: true, Muted: true},
		{Address: "0x2"},
		{Address: "0x3"},
	}

	got := Detect(old, cur, DefaultConfig())
	cats := categoriesOf(got)
	if fmt.Sprint(cats) != "[block mute]" {
		t.Fatalf("without unblock tracking got %v", cats)
	}

	cfg := DefaultConfig()
	cfg.TrackUnblock = true
	got = Detect(old, cur, cfg)
	cats = categoriesOf(got)
	if fmt.Sprint(cats) != "[block unblock mute unmute]" {
		t.Fatalf("with unblock tracking got %v", cats)
	}
}

func TestDetectBlockOfNewTarget(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.FollowingThreshold = 10
	old := active("0xa")
	cur := active("0xa")
	cur.Following = []snapshot.FollowEntry{{Address: "0x9", Blocked: true}}
	got := Detect(old, cur, cfg)
	if len(got) != 1 || got[0].Category != Block || got[0].Detail != "blocked 1 account" {
		t.Fatalf("got %v", got)
	}
}

func TestDetectRankEntry(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.TopRankThreshold = 20
	cfg.RankKinds = []string{"mutuals_rank", "followers_rank"}

	tests := []struct {
		name string
		old  map[string]int
		cur  map[string]int
		want int
	}{
		{name: "enters", old: map[string]int{"mutuals_rank": 25}, cur: map[string]int{"mutuals_rank": 20}, want: 1},
		{name: "already in", old: map[string]int{"mutuals_rank": 5}, cur: map[string]int{"mutuals_rank": 3}, want: 0},
		{name: "unranked before", old: nil, cur: map[string]int{"followers_rank": 1}, want: 1},
		{name: "zero is unranked", old: map[string]int{"mutuals_rank": 30}, cur: map[string]int{"mutuals_rank": 0}, want: 0},
		{name: "stays out", old: map[string]int{"mutuals_rank": 40}, cur: map[string]int{"mutuals_rank": 21}, want: 0},
		{name: "untracked kind", old: nil, cur: map[string]int{"blocks_rank": 1}, want: 0},
		{name: "both enter", old: nil, cur: map[string]int{"mutuals_rank": 2, "followers_rank": 9}, want: 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			old := active("0xa")
			old.Ranks = tt.old
			cur := active("0xa")
			cur.Ranks = tt.cur
			got := Detect(old, cur, cfg)
			if len(got) != tt.want {
				t.Fatalf("got %v, want %d", got, tt.want)
			}
			for _, c := range got {
				if c.Category != RankChange {
					t.Fatalf("unexpected category %s", c.Category)
				}
			}
		})
	}
}

func TestDetectRankDetail(t *testing.T) {
	t.Parallel()
	old := active("0xa")
	cur := active("0xa")
	cur.Ranks = map[string]int{"mutuals_rank": 7}
	got := Detect(old, cur, DefaultConfig())
	if len(got) != 1 || got[0].Detail != "entered the top 20 by mutuals (#7)" {
		t.Fatalf("got %v", got)
	}
}

func TestDetectENSAndAccount(t *testing.T) {
	t.Parallel()
	old := active("0xa")
	old.ENS = map[string]string{"name": "a.eth", "avatar": "x"}
	old.Account = map[string]any{"primary_list": "1"}
	cur := active("0xa")
	cur.ENS = map[string]string{"name": "a.eth", "avatar": "y", "description": "gm"}
	cur.Account = map[string]any{"primary_list": "2"}

	got := Detect(old, cur, DefaultConfig())
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	if got[0].Category != ENSChange || got[0].Detail != "updated ENS avatar, description" {
		t.Fatalf("ens change = %v", got[0])
	}
	if got[1].Category != AccountChange {
		t.Fatalf("account change = %v", got[1])
	}
}

func TestDetectEmptyAndNilCollectionsEqual(t *testing.T) {
	t.Parallel()
	old := active("0xa")
	old.ENS = map[string]string{}
	old.Account = map[string]any{}
	cur := active("0xa")
	if got := Detect(old, cur, DefaultConfig()); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}

func categoriesOf(cs []Change) []Category {
	out := make([]Category, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Category)
	}
	return out
}
