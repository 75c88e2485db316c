// Package compose renders detected changes into bounded-length posts.
//
// Every function here returns text of at most Options.Budget runes. Optional
// parts (extra bullets, the overflow count, the profile link) are dropped
// whole when they do not fit; hard truncation is only a last resort.
package compose

import (
	"fmt"
	"strings"

	"efpwatch/internal/change"
)

const (
	DefaultBudget     = 280
	DefaultMaxItems   = 3
	DefaultProfileURL = "https://efp.app/"
)

type Options struct {
	// MaxItems bounds the bullet lines listed under the headline.
	MaxItems int
	// ProfileURL is the prefix of the trailing profile link; the account
	// address is appended to it.
	ProfileURL string
	Budget     int
}

func (o Options) withDefaults() Options {
	if o.MaxItems == 0 {
		o.MaxItems = DefaultMaxItems
	}
	if o.MaxItems < 0 {
		o.MaxItems = 0
	}
	if strings.TrimSpace(o.ProfileURL) == "" {
		o.ProfileURL = DefaultProfileURL
	}
	if o.Budget <= 0 {
		o.Budget = DefaultBudget
	}
	return o
}

type Composer struct {
	opts    Options
	phrases PhraseStrategy
}

// New returns a Composer. A nil strategy renders plain headlines.
func New(opts Options, phrases PhraseStrategy) *Composer {
	if phrases == nil {
		phrases = PlainPhrases{}
	}
	return &Composer{opts: opts.withDefaults(), phrases: phrases}
}

func (c *Composer) Options() Options { return c.opts }

// Compose renders one account's changes. It returns false when there is
// nothing to say.
func (c *Composer) Compose(acct change.AccountChanges) (string, bool) {
	if len(acct.Changes) == 0 {
		return "", false
	}
	changes := change.SortByPriority(acct.Changes)
	top := changes[0]
	budget := c.opts.Budget

	var b strings.Builder
	b.WriteString(top.Glyph())
	b.WriteString(" ")
	b.WriteString(c.phrases.Headline(top.Category, acct.DisplayName(), top.Detail))

	rest := changes[1:]
	shown := 0
	for _, ch := range rest {
		if shown >= c.opts.MaxItems {
			break
		}
		line := "\n• " + ch.Detail
		more := moreLine(len(rest) - shown - 1)
		if more != "" {
			more = "\n" + more
		}
		if !fits(b.String(), line+more, budget) {
			break
		}
		b.WriteString(line)
		shown++
	}
	if more := moreLine(len(rest) - shown); more != "" && fits(b.String(), "\n"+more, budget) {
		b.WriteString("\n")
		b.WriteString(more)
	}

	if link := c.ProfileLink(acct.Address); link != "" && fits(b.String(), "\n\n"+link, budget) {
		b.WriteString("\n\n")
		b.WriteString(link)
	}
	return Truncate(b.String(), budget), true
}

// ProfileLink returns the profile page of address.
func (c *Composer) ProfileLink(address string) string {
	if address == "" {
		return ""
	}
	return c.opts.ProfileURL + address
}

func moreLine(k int) string {
	switch {
	case k <= 0:
		return ""
	case k == 1:
		return "and 1 more change"
	default:
		return fmt.Sprintf("and %d more changes", k)
	}
}
