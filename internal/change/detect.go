package change

import (
	"fmt"
	"sort"
	"strings"

	"efpwatch/internal/snapshot"
)

// Config holds the detection thresholds. All counts are absolute values.
type Config struct {
	FollowerThreshold  int
	FollowingThreshold int
	ListThreshold      int
	TopRankThreshold   int

	// RankKinds lists the rank keys (e.g. "mutuals_rank") checked for
	// top-rank entry, in reporting order.
	RankKinds []string

	// Watchlist drives significant_follow; keys are normalized addresses.
	Watchlist map[string]struct{}

	// TrackUnblock enables unblock/unmute detection for targets present in
	// both snapshots.
	TrackUnblock bool
}

// DefaultRankKinds are the rank keys tracked when none are configured.
var DefaultRankKinds = []string{"mutuals_rank", "followers_rank", "following_rank", "top8_rank"}

func DefaultConfig() Config {
	return Config{
		FollowerThreshold:  10,
		FollowingThreshold: 5,
		ListThreshold:      2,
		TopRankThreshold:   20,
		RankKinds:          append([]string(nil), DefaultRankKinds...),
		Watchlist:          map[string]struct{}{},
	}
}

// WatchlistSet builds a normalized address set.
func WatchlistSet(addrs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if a = snapshot.NormalizeAddress(a); a != "" {
			m[a] = struct{}{}
		}
	}
	return m
}

// Detect compares the previous snapshot of an account with the current one
// and returns the detected changes in rule order.
//
// A nil old snapshot means the account has no history: exactly one new_user
// change is returned. A nil current snapshot means the fetch failed and
// nothing is returned; the caller keeps old as the persisted state.
func Detect(old, cur *snapshot.Snapshot, cfg Config) []Change {
	if cur == nil {
		return nil
	}
	if old == nil {
		return []Change{newChange(NewUser, "joined the EFP watchlist")}
	}
	if !cur.HasProfile {
		return nil
	}
	if !old.HasProfile {
		return []Change{newChange(NewUser, "joined EFP")}
	}

	var out []Change
	out = append(out, detectLists(old, cur, cfg)...)
	out = append(out, detectFollowers(old, cur, cfg)...)

	followed, unfollowed := FollowDiff(old, cur)
	if n := len(followed); cfg.FollowingThreshold > 0 && n >= cfg.FollowingThreshold {
		out = append(out, withMagnitude(FollowingChange, "followed "+plural(n, "new account"), n))
	}
	if n := len(unfollowed); cfg.FollowingThreshold > 0 && n >= cfg.FollowingThreshold {
		out = append(out, withMagnitude(Unfollow, "unfollowed "+plural(n, "account"), n))
	}
	if c, ok := detectSignificantFollow(followed, cfg); ok {
		out = append(out, c)
	}

	out = append(out, detectFlags(old, cur, cfg)...)
	out = append(out, detectRanks(old, cur, cfg)...)

	if c, ok := detectENS(old, cur); ok {
		out = append(out, c)
	}
	if !snapshot.AttrsEqual(old.Account, cur.Account) {
		out = append(out, newChange(AccountChange, "updated account details"))
	}
	return out
}

func detectLists(old, cur *snapshot.Snapshot, cfg Config) []Change {
	if len(old.Lists) == 0 && len(cur.Lists) > 0 {
		return []Change{newChange(CreatedList, "created an EFP list: "+cur.Lists[0].Label())}
	}
	delta := len(cur.Lists) - len(old.Lists)
	if cfg.ListThreshold > 0 && delta >= cfg.ListThreshold {
		return []Change{withMagnitude(ListChange, "created "+plural(delta, "new list"), delta)}
	}
	return nil
}

func detectFollowers(old, cur *snapshot.Snapshot, cfg Config) []Change {
	delta := cur.Stats.FollowersCount - old.Stats.FollowersCount
	if cfg.FollowerThreshold <= 0 || abs(delta) < cfg.FollowerThreshold {
		return nil
	}
	verb := "gained"
	if delta < 0 {
		verb = "lost"
	}
	return []Change{withMagnitude(FollowerChange, verb+" "+plural(abs(delta), "follower"), delta)}
}

// FollowDiff returns the targets present only in cur (followed) and only in
// old (unfollowed), in snapshot order. Flags are ignored.
func FollowDiff(old, cur *snapshot.Snapshot) (followed, unfollowed []string) {
	oldT := old.Targets()
	curT := cur.Targets()
	for _, e := range cur.Following {
		if _, ok := oldT[e.Address]; !ok {
			followed = append(followed, e.Address)
		}
	}
	for _, e := range old.Following {
		if _, ok := curT[e.Address]; !ok {
			unfollowed = append(unfollowed, e.Address)
		}
	}
	return followed, unfollowed
}

func detectSignificantFollow(followed []string, cfg Config) (Change, bool) {
	if len(cfg.Watchlist) == 0 {
		return Change{}, false
	}
	var hits []string
	for _, a := range followed {
		if _, ok := cfg.Watchlist[a]; ok {
			hits = append(hits, a)
		}
	}
	if len(hits) == 0 {
		return Change{}, false
	}
	return withMagnitude(SignificantFollow, "followed "+strings.Join(hits, ", "), len(hits)), true
}

func detectFlags(old, cur *snapshot.Snapshot, cfg Config) []Change {
	oldT := old.Targets()
	var blocked, muted, unblocked, unmuted int
	for _, e := range cur.Following {
		prev, existed := oldT[e.Address]
		if e.Blocked && !prev.Blocked {
			blocked++
		}
		if e.Muted && !prev.Muted {
			muted++
		}
		if existed && cfg.TrackUnblock {
			if prev.Blocked && !e.Blocked {
				unblocked++
			}
			if prev.Muted && !e.Muted {
				unmuted++
			}
		}
	}

	var out []Change
	if blocked > 0 {
		out = append(out, withMagnitude(Block, "blocked "+plural(blocked, "account"), blocked))
	}
	if unblocked > 0 {
		out = append(out, withMagnitude(Unblock, "unblocked "+plural(unblocked, "account"), unblocked))
	}
	if muted > 0 {
		out = append(out, withMagnitude(Mute, "muted "+plural(muted, "account"), muted))
	}
	if unmuted > 0 {
		out = append(out, withMagnitude(Unmute, "unmuted "+plural(unmuted, "account"), unmuted))
	}
	return out
}

func detectRanks(old, cur *snapshot.Snapshot, cfg Config) []Change {
	top := cfg.TopRankThreshold
	if top <= 0 {
		return nil
	}
	kinds := cfg.RankKinds
	if len(kinds) == 0 {
		kinds = DefaultRankKinds
	}
	var out []Change
	for _, kind := range kinds {
		// Missing or non-positive ranks mean "unranked".
		prev, hadPrev := old.Ranks[kind]
		next, hasNext := cur.Ranks[kind]
		if !hasNext || next <= 0 || next > top {
			continue
		}
		if hadPrev && prev > 0 && prev <= top {
			continue
		}
		detail := fmt.Sprintf("entered the top %d by %s (#%d)", top, rankLabel(kind), next)
		out = append(out, withMagnitude(RankChange, detail, next))
	}
	return out
}

func rankLabel(kind string) string {
	return strings.ReplaceAll(strings.TrimSuffix(kind, "_rank"), "_", " ")
}

// detectENS reports the changed ENS fields by name, sorted.
func detectENS(old, cur *snapshot.Snapshot) (Change, bool) {
	var fields []string
	for k, v := range cur.ENS {
		if old.ENS[k] != v {
			fields = append(fields, k)
		}
	}
	for k := range old.ENS {
		if _, ok := cur.ENS[k]; !ok {
			fields = append(fields, k)
		}
	}
	if len(fields) == 0 {
		return Change{}, false
	}
	sort.Strings(fields)
	return newChange(ENSChange, "updated ENS "+strings.Join(fields, ", ")), true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
