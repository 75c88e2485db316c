package compose

import (
	"math/rand/v2"
	"strings"
	"sync"

	"efpwatch/internal/change"
)

// PhraseStrategy renders the headline sentence of a post. Implementations must
// keep both the account and the detail text in the result.
type PhraseStrategy interface {
	Headline(cat change.Category, account, detail string) string
}

// PlainPhrases renders "<account> <detail>".
type PlainPhrases struct{}

func (PlainPhrases) Headline(_ change.Category, account, detail string) string {
	return account + " " + detail
}

// Templates use {account} and {detail} placeholders.
var defaultTemplates = map[change.Category][]string{
	change.NewUser: {
		"{account} {detail}",
		"Say hi to {account}, who {detail}",
		"Fresh face: {account} {detail}",
	},
	change.CreatedList: {
		"{account} {detail}",
		"List season: {account} {detail}",
	},
	change.SignificantFollow: {
		"{account} {detail}",
		"Heads up, {account} {detail}",
		"Notable: {account} {detail}",
	},
	change.FollowerChange: {
		"{account} {detail}",
		"Big moves: {account} {detail}",
	},
	change.RankChange: {
		"{account} {detail}",
		"Climbing: {account} {detail}",
	},
}

// RandomPhrases picks a template per category from a seedable source.
// Categories without templates fall back to the plain form.
type RandomPhrases struct {
	mu        sync.Mutex
	rng       *rand.Rand
	templates map[change.Category][]string
}

// NewRandomPhrases returns a strategy seeded with seed; equal seeds yield
// equal template sequences.
func NewRandomPhrases(seed uint64, templates map[change.Category][]string) *RandomPhrases {
	if templates == nil {
		templates = defaultTemplates
	}
	return &RandomPhrases{
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		templates: templates,
	}
}

func (p *RandomPhrases) Headline(cat change.Category, account, detail string) string {
	list := p.templates[cat]
	if len(list) == 0 {
		return PlainPhrases{}.Headline(cat, account, detail)
	}
	p.mu.Lock()
	tpl := list[p.rng.IntN(len(list))]
	p.mu.Unlock()
	if !strings.Contains(tpl, "{account}") || !strings.Contains(tpl, "{detail}") {
		return PlainPhrases{}.Headline(cat, account, detail)
	}
	return strings.NewReplacer("{account}", account, "{detail}", detail).Replace(tpl)
}
