package compose

import (
	"fmt"
	"strings"
	"time"

	"efpwatch/internal/change"
)

const (
	summaryIntro   = "🚀 EFP Update Alert! 🚀"
	summaryTeaser  = "Stay tuned for more EFP action! 👀"
	alsoWatchLimit = 3

	leaderboardHeader = "📊 EFP Follower Leaderboard Update"
)

// ComposeSummary renders one post for a whole run. ranked must already be
// ordered by change.RankAccounts; the first account is featured and the next
// few are teased.
func (c *Composer) ComposeSummary(ranked []change.AccountChanges) (string, bool) {
	if len(ranked) == 0 || len(ranked[0].Changes) == 0 {
		return "", false
	}
	budget := c.opts.Budget
	top := ranked[0]

	var outro string
	if len(ranked) > 1 {
		end := min(len(ranked), 1+alsoWatchLimit)
		names := make([]string, 0, end-1)
		for _, a := range ranked[1:end] {
			names = append(names, a.DisplayName())
		}
		outro = "Also watch: " + strings.Join(names, ", ")
	} else {
		outro = summaryTeaser
	}

	// The body lists as many top details as fit next to intro and outro.
	frame := summaryIntro + "\n\n" + "\n\n" + outro
	sorted := change.SortByPriority(top.Changes)
	body := top.DisplayName() + " has been busy: " + sorted[0].Detail
	for i, ch := range sorted[1:] {
		if i+1 >= max(c.opts.MaxItems, 1) {
			break
		}
		if !fits(frame+body, ", "+ch.Detail, budget) {
			break
		}
		body += ", " + ch.Detail
	}

	text := summaryIntro + "\n\n" + body + "\n\n" + outro
	if link := c.ProfileLink(top.Address); link != "" && fits(text, "\n\nMore at "+link, budget) {
		text += "\n\nMore at " + link
	}
	return Truncate(text, budget), true
}

// LeaderboardEntry is one row of the follower leaderboard. Previous is the
// follower count from the last published leaderboard, if any.
type LeaderboardEntry struct {
	Address     string `json:"address"`
	Name        string `json:"name,omitempty"`
	Followers   int    `json:"followers"`
	Previous    int    `json:"previous,omitempty"`
	HasPrevious bool   `json:"has_previous,omitempty"`
}

// Delta is the follower change since the previous leaderboard.
func (e LeaderboardEntry) Delta() int {
	if !e.HasPrevious {
		return 0
	}
	return e.Followers - e.Previous
}

func (e LeaderboardEntry) glyph() string {
	switch d := e.Delta(); {
	case d > 0:
		return "🚀"
	case d < 0:
		return "📉"
	default:
		return "➖"
	}
}

func (e LeaderboardEntry) line(pos int) string {
	name := e.Name
	if name == "" {
		name = e.Address
	}
	s := fmt.Sprintf("%d. %s %s: %d followers", pos, e.glyph(), name, e.Followers)
	if d := e.Delta(); d > 0 {
		s += fmt.Sprintf(" (+%d)", d)
	} else if d < 0 {
		s += fmt.Sprintf(" (%d)", d)
	}
	return s
}

// ComposeLeaderboard renders the follower leaderboard. Rows that do not fit
// are dropped from the bottom.
func (c *Composer) ComposeLeaderboard(entries []LeaderboardEntry, at time.Time) (string, bool) {
	if len(entries) == 0 {
		return "", false
	}
	budget := c.opts.Budget
	text := leaderboardHeader + "\n"
	for i, e := range entries {
		l := "\n" + e.line(i+1)
		if !fits(text, l, budget) {
			break
		}
		text += l
	}
	if !at.IsZero() {
		footer := "\n\nUpdated at " + at.UTC().Format("2006-01-02 15:04:05") + " UTC"
		if fits(text, footer, budget) {
			text += footer
		}
	}
	return Truncate(text, budget), true
}
