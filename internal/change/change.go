// Package change detects and ranks the interesting differences between two
// snapshots of the same account.
//
// The set of categories is closed: the detector only recognizes the events
// listed below, and every category carries a fixed glyph, priority and weight.
package change

import (
	"fmt"
	"strings"
)

type Category string

const (
	NewUser           Category = "new_user"
	CreatedList       Category = "created_list"
	SignificantFollow Category = "significant_follow"
	FollowerChange    Category = "follower_change"
	RankChange        Category = "rank_change"
	ListChange        Category = "list_change"
	FollowingChange   Category = "following_change"
	Unfollow          Category = "unfollow"
	Block             Category = "block"
	Unblock           Category = "unblock"
	Mute              Category = "mute"
	Unmute            Category = "unmute"
	ENSChange         Category = "ens_change"
	AccountChange     Category = "account_change"
)

type categoryInfo struct {
	glyph    string
	label    string
	priority int
	weight   int
}

// Priority decides the order inside one account; weight is summed across an
// account's changes to order accounts against each other.
var categories = map[Category]categoryInfo{
	NewUser:           {glyph: "🆕", label: "New on EFP", priority: 100, weight: 10},
	CreatedList:       {glyph: "📋", label: "List created", priority: 90, weight: 8},
	SignificantFollow: {glyph: "👀", label: "Notable follow", priority: 80, weight: 7},
	FollowerChange:    {glyph: "🚀", label: "Follower swing", priority: 70, weight: 6},
	RankChange:        {glyph: "🏆", label: "Top rank", priority: 60, weight: 5},
	ListChange:        {glyph: "🗂", label: "New lists", priority: 50, weight: 4},
	FollowingChange:   {glyph: "➕", label: "Following spree", priority: 45, weight: 3},
	Unfollow:          {glyph: "👋", label: "Unfollow wave", priority: 40, weight: 3},
	Block:             {glyph: "🚫", label: "Blocks", priority: 30, weight: 2},
	Unblock:           {glyph: "🕊", label: "Unblocks", priority: 25, weight: 1},
	Mute:              {glyph: "🔇", label: "Mutes", priority: 20, weight: 1},
	Unmute:            {glyph: "🔊", label: "Unmutes", priority: 15, weight: 1},
	ENSChange:         {glyph: "🪪", label: "ENS update", priority: 10, weight: 1},
	AccountChange:     {glyph: "✏️", label: "Account update", priority: 10, weight: 1},
}

// Known reports whether c is one of the recognized categories.
func (c Category) Known() bool {
	_, ok := categories[c]
	return ok
}

func (c Category) Glyph() string {
	if info, ok := categories[c]; ok {
		return info.glyph
	}
	return "🔔"
}

func (c Category) Label() string {
	if info, ok := categories[c]; ok {
		return info.label
	}
	return string(c)
}

func (c Category) Priority() int { return categories[c].priority }

func (c Category) Weight() int { return categories[c].weight }

// Change is one detected difference. Detail is display-ready text written in
// the third person without the subject ("gained 12 followers").
type Change struct {
	Category  Category `json:"category"`
	Detail    string   `json:"detail"`
	Magnitude *int     `json:"magnitude,omitempty"`
}

// Value returns the magnitude when one was recorded.
func (c Change) Value() (int, bool) {
	if c.Magnitude == nil {
		return 0, false
	}
	return *c.Magnitude, true
}

// Glyph refines the category glyph with the direction of the change.
func (c Change) Glyph() string {
	if c.Category == FollowerChange {
		if v, ok := c.Value(); ok && v < 0 {
			return "📉"
		}
	}
	return c.Category.Glyph()
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %s", c.Category, c.Detail)
}

func newChange(cat Category, detail string) Change {
	return Change{Category: cat, Detail: detail}
}

func withMagnitude(cat Category, detail string, n int) Change {
	return Change{Category: cat, Detail: detail, Magnitude: &n}
}

// plural renders "1 follower" / "12 followers".
func plural(n int, singular string) string {
	if n == 1 || n == -1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %ss", n, singular)
}

// Details joins the detail text of changes with sep.
func Details(cs []Change, sep string) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.Detail)
	}
	return strings.Join(parts, sep)
}
