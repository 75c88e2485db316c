package snapshot

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeMergesDuplicates(t *testing.T) {
	t.Parallel()
	s := &Snapshot{
		Address:    " 0xABC ",
		HasProfile: true,
		Following: []FollowEntry{
			{Address: "0xAA"},
			{Address: "0xbb", Muted: true},
			{Address: "0xaa", Blocked: true},
			{Address: "  "},
		},
	}
	s.Normalize()
	if s.Address != "0xabc" {
		t.Fatalf("address = %q", s.Address)
	}
	if len(s.Following) != 2 {
		t.Fatalf("following = %v", s.Following)
	}
	if s.Following[0] != (FollowEntry{Address: "0xaa", Blocked: true}) {
		t.Fatalf("merged entry = %+v", s.Following[0])
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestNormalizeStripsInactive(t *testing.T) {
	t.Parallel()
	at := time.Unix(1700000000, 0).UTC()
	s := &Snapshot{Address: "0xA", Stats: Stats{FollowersCount: 3}, FetchedAt: at}
	s.Normalize()
	if !Equal(s, Inactive("0xa", at)) {
		t.Fatalf("normalized inactive = %+v", s)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		s    *Snapshot
		want error
	}{
		{name: "no address", s: &Snapshot{HasProfile: true}, want: ErrNoAddress},
		{name: "negative", s: &Snapshot{Address: "0x1", HasProfile: true, Stats: Stats{FollowersCount: -1}}, want: ErrNegativeCount},
		{name: "duplicate", s: &Snapshot{Address: "0x1", HasProfile: true, Following: []FollowEntry{{Address: "0x2"}, {Address: "0x2"}}}, want: ErrDuplicateTarget},
		{name: "inactive populated", s: &Snapshot{Address: "0x1", Lists: []List{{ID: "1"}}}, want: ErrInactiveFields},
		{name: "ok", s: &Snapshot{Address: "0x1", HasProfile: true}, want: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEqualIgnoresOrderAndFetchTime(t *testing.T) {
	t.Parallel()
	a := &Snapshot{
		Address:    "0x1",
		HasProfile: true,
		Following:  []FollowEntry{{Address: "0x2"}, {Address: "0x3", Muted: true}},
		ENS:        map[string]string{},
		FetchedAt:  time.Unix(1, 0),
	}
	b := &Snapshot{
		Address:    "0x1",
		HasProfile: true,
		Following:  []FollowEntry{{Address: "0x3", Muted: true}, {Address: "0x2"}},
		FetchedAt:  time.Unix(2, 0),
	}
	if !Equal(a, b) {
		t.Fatalf("expected equal snapshots")
	}
	b.Following[0].Muted = false
	if Equal(a, b) {
		t.Fatalf("flag difference not detected")
	}
	if Equal(a, nil) || !Equal(nil, nil) {
		t.Fatalf("nil handling")
	}
}

func TestDisplayNameAndListLabel(t *testing.T) {
	t.Parallel()
	s := &Snapshot{Address: "0x1", ENS: map[string]string{"name": "vitalik.eth"}}
	if s.DisplayName() != "vitalik.eth" {
		t.Fatalf("DisplayName = %q", s.DisplayName())
	}
	s.ENS = nil
	if s.DisplayName() != "0x1" {
		t.Fatalf("DisplayName fallback = %q", s.DisplayName())
	}
	if got := (List{ID: "42"}).Label(); got != "#42" {
		t.Fatalf("Label = %q", got)
	}
	if (&Snapshot{PrimaryListID: " "}).HasActiveList() {
		t.Fatalf("blank primary list reported active")
	}
}

func TestAccountKinds(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in       string
		addr, ns bool
	}{
		{"0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045", true, false},
		{"0xd8da", false, false},
		{"vitalik.eth", false, true},
		{" Vitalik.ETH ", false, true},
		{"pay.brantly.eth", false, true},
		{"bob", false, false},
		{".eth", false, false},
		{"foo..eth", false, false},
		{"foo.xyz", false, false},
		{"a b.eth", false, false},
	}
	for _, c := range cases {
		if got := IsAddress(c.in); got != c.addr {
			t.Errorf("IsAddress(%q) = %v", c.in, got)
		}
		if got := IsENSName(c.in); got != c.ns {
			t.Errorf("IsENSName(%q) = %v", c.in, got)
		}
	}
}
