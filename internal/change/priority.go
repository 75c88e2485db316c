package change

import "sort"

// SortByPriority returns a copy of cs ordered by category priority, highest
// first. Equal priorities keep detection order.
func SortByPriority(cs []Change) []Change {
	out := append([]Change(nil), cs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Category.Priority() > out[j].Category.Priority()
	})
	return out
}

// AccountChanges groups the changes detected for one account in one run.
type AccountChanges struct {
	Address string
	// Name is the display name (ENS name or address).
	Name    string
	Changes []Change
}

// DisplayName falls back to the address when no name is known.
func (a AccountChanges) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Address
}

// Score is the sum of the category weights of the account's changes.
func (a AccountChanges) Score() int {
	total := 0
	for _, c := range a.Changes {
		total += c.Category.Weight()
	}
	return total
}

// Top returns the highest-priority change.
func (a AccountChanges) Top() (Change, bool) {
	if len(a.Changes) == 0 {
		return Change{}, false
	}
	return SortByPriority(a.Changes)[0], true
}

// RankAccounts orders accounts by descending Score; ties keep input order.
// Accounts without changes are dropped and each account's changes are
// sorted by priority.
func RankAccounts(accts []AccountChanges) []AccountChanges {
	out := make([]AccountChanges, 0, len(accts))
	for _, a := range accts {
		if len(a.Changes) == 0 {
			continue
		}
		a.Changes = SortByPriority(a.Changes)
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score() > out[j].Score()
	})
	return out
}
