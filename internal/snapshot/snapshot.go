// Package snapshot defines the point-in-time view of one account on the
// Ethereum Follow Protocol (EFP) social graph.
//
// Snapshots are produced by the EFP client, compared by the change detector,
// and persisted by storage as the "last known good" state per address.
package snapshot

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"strings"
	"time"
)

var (
	ErrNoAddress       = errors.New("snapshot: address is required")
	ErrNegativeCount   = errors.New("snapshot: stats counts must be >= 0")
	ErrDuplicateTarget = errors.New("snapshot: duplicate following target")
	ErrInactiveFields  = errors.New("snapshot: inactive snapshot has populated fields")
)

// Stats holds the social counters of an account.
type Stats struct {
	FollowersCount int `json:"followers_count"`
	FollowingCount int `json:"following_count"`
}

// List is one named follow-list owned by an account.
type List struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Label returns the list name, falling back to "#<id>".
func (l List) Label() string {
	if n := strings.TrimSpace(l.Name); n != "" {
		return n
	}
	return "#" + l.ID
}

// FollowEntry is one target of the account's following list, with the
// relationship flags attached to it.
type FollowEntry struct {
	Address string `json:"address"`
	Blocked bool   `json:"blocked,omitempty"`
	Muted   bool   `json:"muted,omitempty"`
}

// Snapshot is immutable once produced; callers must not mutate slices or maps
// of a snapshot they did not create.
type Snapshot struct {
	Address       string            `json:"address"`
	HasProfile    bool              `json:"has_profile"`
	PrimaryListID string            `json:"primary_list_id,omitempty"`
	Stats         Stats             `json:"stats"`
	Lists         []List            `json:"lists,omitempty"`
	Following     []FollowEntry     `json:"following,omitempty"`
	ENS           map[string]string `json:"ens,omitempty"`
	Account       map[string]any    `json:"account,omitempty"`
	Ranks         map[string]int    `json:"ranks,omitempty"`

	// FetchedAt is informational and ignored by Equal.
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// Inactive returns the snapshot of an address the API does not know about.
func Inactive(address string, at time.Time) *Snapshot {
	return &Snapshot{Address: NormalizeAddress(address), FetchedAt: at}
}

// NormalizeAddress lower-cases and trims an address so it can be used as a key.
func NormalizeAddress(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

var (
	addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	ensNameRe = regexp.MustCompile(`^[^\s./]+(\.[^\s./]+)*\.eth$`)
)

// IsAddress reports whether a is a hex Ethereum address.
func IsAddress(a string) bool {
	return addressRe.MatchString(strings.TrimSpace(a))
}

// IsENSName reports whether a is an ENS name such as "vitalik.eth".
func IsENSName(a string) bool {
	return ensNameRe.MatchString(NormalizeAddress(a))
}

// HasActiveList reports whether the account has a primary list.
func (s *Snapshot) HasActiveList() bool {
	return s != nil && strings.TrimSpace(s.PrimaryListID) != ""
}

// DisplayName returns the ENS name when known, else the address.
func (s *Snapshot) DisplayName() string {
	if s == nil {
		return ""
	}
	if n := strings.TrimSpace(s.ENS["name"]); n != "" {
		return n
	}
	return s.Address
}

// Targets indexes the following entries by target address.
func (s *Snapshot) Targets() map[string]FollowEntry {
	if s == nil {
		return map[string]FollowEntry{}
	}
	m := make(map[string]FollowEntry, len(s.Following))
	for _, e := range s.Following {
		m[e.Address] = e
	}
	return m
}

// Normalize canonicalizes addresses and merges duplicate following entries
// (flags are OR-ed, first-seen order is kept). An inactive snapshot is
// stripped down to its address.
func (s *Snapshot) Normalize() {
	if s == nil {
		return
	}
	s.Address = NormalizeAddress(s.Address)
	if !s.HasProfile {
		*s = Snapshot{Address: s.Address, FetchedAt: s.FetchedAt}
		return
	}

	idx := make(map[string]int, len(s.Following))
	out := make([]FollowEntry, 0, len(s.Following))
	for _, e := range s.Following {
		e.Address = NormalizeAddress(e.Address)
		if e.Address == "" {
			continue
		}
		if i, ok := idx[e.Address]; ok {
			out[i].Blocked = out[i].Blocked || e.Blocked
			out[i].Muted = out[i].Muted || e.Muted
			continue
		}
		idx[e.Address] = len(out)
		out = append(out, e)
	}
	s.Following = out
}

// Validate checks the invariants the change detector relies on.
func (s *Snapshot) Validate() error {
	if s == nil {
		return nil
	}
	if strings.TrimSpace(s.Address) == "" {
		return ErrNoAddress
	}
	if !s.HasProfile {
		if s.PrimaryListID != "" || s.Stats != (Stats{}) || len(s.Lists) > 0 || len(s.Following) > 0 ||
			len(s.ENS) > 0 || len(s.Account) > 0 || len(s.Ranks) > 0 {
			return ErrInactiveFields
		}
		return nil
	}
	if s.Stats.FollowersCount < 0 || s.Stats.FollowingCount < 0 {
		return ErrNegativeCount
	}
	seen := make(map[string]struct{}, len(s.Following))
	for _, e := range s.Following {
		if _, dup := seen[e.Address]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTarget, e.Address)
		}
		seen[e.Address] = struct{}{}
	}
	return nil
}

// Equal reports deep equality of two snapshots, ignoring FetchedAt and the
// order of following entries. Empty and nil collections compare equal.
func Equal(a, b *Snapshot) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Address != b.Address || a.HasProfile != b.HasProfile ||
		a.PrimaryListID != b.PrimaryListID || a.Stats != b.Stats {
		return false
	}
	if len(a.Lists) != len(b.Lists) {
		return false
	}
	for i := range a.Lists {
		if a.Lists[i] != b.Lists[i] {
			return false
		}
	}
	if !maps.Equal(a.Targets(), b.Targets()) {
		return false
	}
	if !maps.Equal(a.ENS, b.ENS) || !maps.Equal(a.Ranks, b.Ranks) {
		return false
	}
	return AttrsEqual(a.Account, b.Account)
}

// AttrsEqual compares opaque attribute maps structurally.
func AttrsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
