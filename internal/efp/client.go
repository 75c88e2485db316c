// Package efp is the client of the Ethereum Follow Protocol HTTP API. It turns
// the per-field endpoints of one account into a validated snapshot.
package efp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"efpwatch/internal/snapshot"
	logx "efpwatch/pkg/logx"
)

const (
	DefaultBaseURL  = "https://api.ethfollow.xyz/api/v1"
	DefaultPageSize = 100
	maxPages        = 500
	maxBodyBytes    = 8 << 20
)

type Config struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	PageSize     int
	// Workers bounds concurrent sub-requests of one Fetch.
	Workers   int
	CacheSize int
	CacheTTL  time.Duration
	UserAgent string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = 500 * time.Millisecond
	}
	if c.RetryWaitMax <= 0 {
		c.RetryWaitMax = 10 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1024
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 6 * time.Hour
	}
	if c.UserAgent == "" {
		c.UserAgent = "efpwatch"
	}
	return c
}

type Client struct {
	cfg   Config
	http  *retryablehttp.Client
	log   logx.Logger
	names *expirable.LRU[string, string]
	// addrs caches ENS name -> address.
	addrs *expirable.LRU[string, string]
	now   func() time.Time
}

// New builds a client. Retries use exponential backoff with jitter for
// connection errors, 429 and 5xx responses.
func New(cfg Config, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "efp"))

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = retryablehttp.LeveledLogger(leveledLogx{inner: log})
	rc.CheckRetry = retryablehttp.DefaultRetryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		cfg:   cfg,
		http:  rc,
		log:   log,
		names: expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL),
		addrs: expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL),
		now:   time.Now,
	}
}

// Fetch returns the current snapshot of address. A 404 on the account's
// details yields an inactive snapshot, not an error.
func (c *Client) Fetch(ctx context.Context, address string) (*snapshot.Snapshot, error) {
	addr := snapshot.NormalizeAddress(address)
	if addr == "" {
		return nil, &FetchError{Address: address, Endpoint: "details", Err: snapshot.ErrNoAddress}
	}
	start := c.now()

	var details detailsResponse
	err := c.getJSON(ctx, c.userPath(addr, "details"), nil, &details)
	if errors.Is(err, ErrNotFound) {
		c.log.Debug("account has no EFP profile", logx.Address(addr))
		return snapshot.Inactive(addr, start), nil
	}
	if err != nil {
		return nil, c.wrap(addr, "details", err)
	}

	var (
		stats     statsResponse
		lists     listsResponse
		following []followRecord
		ens       ensResponse
		account   map[string]any
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	g.Go(func() error { return c.getOptional(gctx, addr, "stats", &stats) })
	g.Go(func() error { return c.getOptional(gctx, addr, "lists", &lists) })
	g.Go(func() error { return c.getOptional(gctx, addr, "ens", &ens) })
	g.Go(func() error { return c.getOptional(gctx, addr, "account", &account) })
	g.Go(func() error {
		recs, err := c.following(gctx, addr)
		if err != nil {
			return c.wrap(addr, "following", err)
		}
		following = recs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := build(addr, details, stats, lists, following, ens, account)
	snap.FetchedAt = start
	snap.Normalize()
	if err := snap.Validate(); err != nil {
		return nil, &FetchError{Address: addr, Endpoint: "snapshot", Err: err}
	}
	if name := snap.ENS["name"]; name != "" {
		c.names.Add(addr, name)
	}
	c.log.Debug("snapshot fetched",
		logx.Address(addr),
		logx.Int("following", len(snap.Following)),
		logx.Duration("took", c.now().Sub(start)))
	return snap, nil
}

func build(addr string, d detailsResponse, st statsResponse, l listsResponse, fol []followRecord, e ensResponse, acct map[string]any) *snapshot.Snapshot {
	followers, followingCount := st.counts()
	s := &snapshot.Snapshot{
		Address:       addr,
		HasProfile:    true,
		PrimaryListID: string(d.PrimaryList),
		Stats:         snapshot.Stats{FollowersCount: followers, FollowingCount: followingCount},
	}
	if s.PrimaryListID == "" {
		s.PrimaryListID = string(l.PrimaryList)
	}
	for _, it := range l.Lists {
		if it.ID == "" {
			continue
		}
		s.Lists = append(s.Lists, snapshot.List{ID: it.ID, Name: it.Name})
	}
	for _, r := range fol {
		t := r.target()
		if t == "" {
			continue
		}
		s.Following = append(s.Following, snapshot.FollowEntry{
			Address: t,
			Blocked: r.hasTag("block"),
			Muted:   r.hasTag("mute"),
		})
	}

	s.ENS = e.ENS.fields()
	if s.ENS == nil {
		s.ENS = d.ENS.fields()
	}
	if len(d.Ranks) > 0 {
		s.Ranks = make(map[string]int, len(d.Ranks))
		for k, v := range d.Ranks {
			s.Ranks[k] = int(v)
		}
	}
	// ENS and ranks are tracked separately; keeping them in the account map
	// would report every rank move as an account change.
	if len(acct) > 0 {
		s.Account = make(map[string]any, len(acct))
		for k, v := range acct {
			switch k {
			case "ens", "ranks", "address":
				continue
			}
			s.Account[k] = v
		}
		if len(s.Account) == 0 {
			s.Account = nil
		}
	}
	return s
}

// following walks the paginated following endpoint until a short page.
func (c *Client) following(ctx context.Context, addr string) ([]followRecord, error) {
	var all []followRecord
	limit := c.cfg.PageSize
	for page, offset := 0, 0; page < maxPages; page, offset = page+1, offset+limit {
		q := url.Values{}
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(limit))
		var p followingPage
		err := c.getJSON(ctx, c.userPath(addr, "following"), q, &p)
		if errors.Is(err, ErrNotFound) {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all = append(all, p.Following...)
		if len(p.Following) < limit {
			return all, nil
		}
	}
	c.log.Warn("following pagination stopped at page cap", logx.Address(addr), logx.Int("pages", maxPages))
	return all, nil
}

// getOptional treats a 404 as "no data" for a sub-resource.
func (c *Client) getOptional(ctx context.Context, addr, endpoint string, out any) error {
	err := c.getJSON(ctx, c.userPath(addr, endpoint), nil, out)
	if err == nil || errors.Is(err, ErrNotFound) {
		return nil
	}
	return c.wrap(addr, endpoint, err)
}

// LeaderboardRow is one entry of the follower leaderboard.
type LeaderboardRow struct {
	Address   string
	Name      string
	Followers int
}

// Leaderboard returns the top accounts by followers.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	body, err := c.get(ctx, "/leaderboard/followers", q)
	if err != nil {
		return nil, c.wrap("", "leaderboard/followers", err)
	}
	rows, err := decodeLeaderboard(body)
	if err != nil {
		return nil, &FetchError{Endpoint: "leaderboard/followers", Err: err}
	}
	out := make([]LeaderboardRow, 0, len(rows))
	for _, r := range rows {
		addr := snapshot.NormalizeAddress(r.Address)
		if addr == "" {
			continue
		}
		n := int(r.FollowersCount)
		if n == 0 {
			n = int(r.Followers)
		}
		out = append(out, LeaderboardRow{Address: addr, Name: r.Name, Followers: n})
	}
	return out, nil
}

// ENSName resolves the display name of address through a TTL cache. It falls
// back to the address when the account has no ENS name or the lookup fails.
func (c *Client) ENSName(ctx context.Context, address string) string {
	addr := snapshot.NormalizeAddress(address)
	if name, ok := c.names.Get(addr); ok {
		return name
	}
	var resp struct {
		ENS ensRecord `json:"ens"`
	}
	err := c.getJSON(ctx, c.userPath(addr, "account"), nil, &resp)
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.log.Debug("ens lookup failed", logx.Address(addr), logx.Err(err))
		return addr
	}
	name := strings.TrimSpace(resp.ENS.Name)
	if name == "" {
		name = addr
	}
	c.names.Add(addr, name)
	return name
}

// ResolveAddress returns the address an ENS name points to. Addresses are
// returned normalized without a request.
func (c *Client) ResolveAddress(ctx context.Context, account string) (string, error) {
	acct := snapshot.NormalizeAddress(account)
	if !snapshot.IsENSName(acct) {
		return acct, nil
	}
	if addr, ok := c.addrs.Get(acct); ok {
		return addr, nil
	}
	var resp struct {
		Address string `json:"address"`
	}
	if err := c.getJSON(ctx, c.userPath(acct, "account"), nil, &resp); err != nil {
		return "", c.wrap(acct, "account", err)
	}
	addr := snapshot.NormalizeAddress(resp.Address)
	if !snapshot.IsAddress(addr) {
		return "", &FetchError{Address: acct, Endpoint: "account", Err: ErrUnresolvedName}
	}
	c.addrs.Add(acct, addr)
	c.names.Add(addr, acct)
	c.log.Debug("ens name resolved", logx.String("name", acct), logx.Address(addr))
	return addr, nil
}

func (c *Client) userPath(addr, endpoint string) string {
	return "/users/" + url.PathEscape(addr) + "/" + endpoint
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	body, err := c.get(ctx, path, q)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &statusError{err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return nil
}

// statusError carries the HTTP status of a failed request.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &statusError{status: resp.StatusCode, err: fmt.Errorf("GET %s: %s", path, resp.Status)}
	}
	return body, nil
}

// wrap classifies err into a FetchError.
func (c *Client) wrap(addr, endpoint string, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	out := &FetchError{Address: addr, Endpoint: endpoint, Err: err}
	var se *statusError
	switch {
	case errors.Is(err, ErrNotFound):
		out.Status = http.StatusNotFound
	case errors.As(err, &se) && se.status != 0:
		out.Status = se.status
		out.Transient = se.status == http.StatusTooManyRequests || se.status >= 500
	case errors.As(err, &se):
		// Malformed body: retrying the same payload will not help.
		out.Transient = false
	default:
		// Network errors, timeouts and context expiry.
		out.Transient = true
	}
	return out
}
