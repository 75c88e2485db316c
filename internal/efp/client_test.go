package efp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "efpwatch/pkg/logx"
)

type fakeAPI struct {
	following   int
	detailsCode int
	statsCalls  atomic.Int32
	statsFails  int32
	pages       atomic.Int32
	// ens maps names to the address the account endpoint reports.
	ens          map[string]string
	accountCalls atomic.Int32
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/users/"), "/")
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		addr, endpoint := parts[0], parts[1]
		if addr == "0xghost" {
			http.NotFound(w, r)
			return
		}
		switch endpoint {
		case "details":
			if f.detailsCode != 0 {
				w.WriteHeader(f.detailsCode)
				return
			}
			fmt.Fprintf(w, `{"address":%q,"primary_list":"7","ens":{"name":"abc.eth"},"ranks":{"mutuals_rank":"12","followers_rank":40}}`, addr)
		case "stats":
			if f.statsCalls.Add(1) <= f.statsFails {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, `{"followers_count":"112","following_count":3}`)
		case "lists":
			fmt.Fprint(w, `{"primary_list":"7","lists":["7",{"id":"9","name":"Degens"}]}`)
		case "ens":
			fmt.Fprint(w, `{"ens":{"name":"abc.eth","avatar":"https://img","records":{"description":"gm","url":"x"}}}`)
		case "account":
			f.accountCalls.Add(1)
			if a, ok := f.ens[addr]; ok {
				addr = a
			}
			fmt.Fprintf(w, `{"address":%q,"primary_list":"7","ens":{"name":"abc.eth"},"ranks":{"mutuals_rank":1}}`, addr)
		case "following":
			f.pages.Add(1)
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			var recs []string
			for i := offset; i < f.following && i < offset+limit; i++ {
				tags := `[]`
				switch i {
				case 0:
					tags = `["block"]`
				case 1:
					tags = `["mute","top8"]`
				}
				recs = append(recs, fmt.Sprintf(`{"version":1,"record_type":"address","data":"0x%04X","tags":%s}`, i, tags))
			}
			fmt.Fprintf(w, `{"following":[%s]}`, strings.Join(recs, ","))
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/leaderboard/followers", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"address":"0xAA","followers_count":"500"},{"address":"0xbb","followers_count":300}]`)
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:      srv.URL,
		PageSize:     10,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
		Timeout:      5 * time.Second,
	}, logx.Nop())
}

func TestFetchBuildsSnapshot(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{following: 25}
	c := newTestClient(t, api)

	s, err := c.Fetch(context.Background(), "0xABC")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if s.Address != "0xabc" || !s.HasProfile || s.PrimaryListID != "7" {
		t.Fatalf("header = %+v", s)
	}
	if s.Stats.FollowersCount != 112 || s.Stats.FollowingCount != 3 {
		t.Fatalf("stats = %+v", s.Stats)
	}
	if len(s.Lists) != 2 || s.Lists[1].Label() != "Degens" || s.Lists[0].Label() != "#7" {
		t.Fatalf("lists = %+v", s.Lists)
	}
	if len(s.Following) != 25 {
		t.Fatalf("following = %d entries", len(s.Following))
	}
	if got := api.pages.Load(); got != 3 {
		t.Fatalf("pages fetched = %d, want 3", got)
	}
	if s.Following[0].Address != "0x0000" || !s.Following[0].Blocked || !s.Following[1].Muted || s.Following[2].Blocked {
		t.Fatalf("flags = %+v", s.Following[:3])
	}
	if s.ENS["name"] != "abc.eth" || s.ENS["description"] != "gm" || len(s.ENS) != 3 {
		t.Fatalf("ens = %v", s.ENS)
	}
	if s.Ranks["mutuals_rank"] != 12 || s.Ranks["followers_rank"] != 40 {
		t.Fatalf("ranks = %v", s.Ranks)
	}
	if _, ok := s.Account["ranks"]; ok {
		t.Fatalf("account should not carry ranks: %v", s.Account)
	}
	if s.Account["primary_list"] != "7" {
		t.Fatalf("account = %v", s.Account)
	}
	if c.ENSName(context.Background(), "0xabc") != "abc.eth" {
		t.Fatalf("name not cached")
	}
}

func TestFetchExactPageBoundary(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{following: 20}
	c := newTestClient(t, api)
	s, err := c.Fetch(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(s.Following) != 20 || api.pages.Load() != 3 {
		t.Fatalf("following=%d pages=%d", len(s.Following), api.pages.Load())
	}
}

func TestFetchNotFoundIsInactive(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, &fakeAPI{})
	s, err := c.Fetch(context.Background(), "0xghost")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if s.HasProfile || s.Address != "0xghost" {
		t.Fatalf("snapshot = %+v", s)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("inactive snapshot invalid: %v", err)
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{statsFails: 2}
	c := newTestClient(t, api)
	if _, err := c.Fetch(context.Background(), "0xabc"); err != nil {
		t.Fatalf("Fetch after retries: %v", err)
	}
	if got := api.statsCalls.Load(); got != 3 {
		t.Fatalf("stats calls = %d, want 3", got)
	}
}

func TestFetchSurfacesTransientError(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{detailsCode: http.StatusServiceUnavailable}
	c := newTestClient(t, api)
	_, err := c.Fetch(context.Background(), "0xabc")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FetchError", err)
	}
	if !fe.Transient || fe.Status != http.StatusServiceUnavailable || fe.Endpoint != "details" {
		t.Fatalf("FetchError = %+v", fe)
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient = false")
	}
}

func TestFetchPermanentError(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{detailsCode: http.StatusBadRequest}
	c := newTestClient(t, api)
	_, err := c.Fetch(context.Background(), "0xabc")
	if err == nil || IsTransient(err) {
		t.Fatalf("err = %v, want permanent FetchError", err)
	}
}

func TestLeaderboard(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, &fakeAPI{})
	rows, err := c.Leaderboard(context.Background(), 2)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(rows) != 2 || rows[0].Address != "0xaa" || rows[0].Followers != 500 || rows[1].Followers != 300 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestENSNameFallsBackToAddress(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, &fakeAPI{})
	if got := c.ENSName(context.Background(), "0xghost"); got != "0xghost" {
		t.Fatalf("ENSName = %q", got)
	}
}

func TestResolveAddress(t *testing.T) {
	t.Parallel()
	vitalik := "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045"
	api := &fakeAPI{ens: map[string]string{"vitalik.eth": vitalik}}
	c := newTestClient(t, api)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := c.ResolveAddress(ctx, " Vitalik.ETH ")
		if err != nil {
			t.Fatalf("ResolveAddress: %v", err)
		}
		if got != strings.ToLower(vitalik) {
			t.Fatalf("ResolveAddress = %q", got)
		}
	}
	if n := api.accountCalls.Load(); n != 1 {
		t.Fatalf("account calls = %d, want 1 (cached)", n)
	}
	if name := c.ENSName(ctx, vitalik); name != "vitalik.eth" {
		t.Fatalf("ENSName = %q", name)
	}

	addr := "0x" + strings.Repeat("A", 40)
	if got, err := c.ResolveAddress(ctx, addr); err != nil || got != strings.ToLower(addr) {
		t.Fatalf("address passthrough = %q %v", got, err)
	}
	if n := api.accountCalls.Load(); n != 1 {
		t.Fatalf("address triggered a lookup")
	}

	_, err := c.ResolveAddress(ctx, "nobody.eth")
	var fe *FetchError
	if !errors.As(err, &fe) || !errors.Is(err, ErrUnresolvedName) || fe.Address != "nobody.eth" {
		t.Fatalf("err = %v", err)
	}
}
