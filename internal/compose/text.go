package compose

import (
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

const ellipsis = "…"

// Len counts characters the way the publication budget does (runes).
func Len(s string) int { return utf8.RuneCountInString(s) }

// Truncate returns s cut to at most n runes. When it has to cut, it stops at
// a grapheme cluster boundary and appends "…" inside the budget, so an emoji
// with modifiers is never split.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if Len(s) <= n {
		return s
	}
	limit := n - Len(ellipsis)
	if limit <= 0 {
		return ellipsis
	}
	used := 0
	cut := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		cluster := gr.Str()
		rc := len(gr.Runes())
		if used+rc > limit {
			break
		}
		used += rc
		cut += len(cluster)
	}
	return s[:cut] + ellipsis
}

// fits reports whether appending add to s stays within budget.
func fits(s, add string, budget int) bool {
	return Len(s)+Len(add) <= budget
}
