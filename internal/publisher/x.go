package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"efpwatch/internal/storage"
	logx "efpwatch/pkg/logx"
)

const (
	DefaultXAPIURL   = "https://api.twitter.com/2"
	DefaultXTokenURL = "https://api.twitter.com/2/oauth2/token"

	// xTokenName keys the X credential in the token store.
	xTokenName       = "x"
	tokenSaveTimeout = 5 * time.Second
)

// TokenStore keeps OAuth2 credentials across restarts. storage.Store
// satisfies it.
type TokenStore interface {
	LoadToken(ctx context.Context, name string) (storage.Token, bool, error)
	SaveToken(ctx context.Context, name string, t storage.Token) error
}

// XConfig holds an OAuth2 user-context token. The refresh token is used by
// the token source once the access token expires. X rotates refresh tokens,
// so a token saved in the TokenStore takes precedence over these values.
type XConfig struct {
	APIURL       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	Timeout      time.Duration
}

type XPublisher struct {
	api  string
	http *http.Client
	log  logx.Logger
}

// NewX builds the X driver. tokens may be nil, in which case a rotated
// refresh token only lives as long as the process.
func NewX(cfg XConfig, tokens TokenStore, log logx.Logger) (*XPublisher, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultXAPIURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultXTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	tok := &oauth2.Token{AccessToken: cfg.AccessToken, RefreshToken: cfg.RefreshToken, TokenType: "Bearer"}
	if tokens != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tokenSaveTimeout)
		saved, ok, err := tokens.LoadToken(ctx, xTokenName)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("publisher: load x token: %w", err)
		}
		if ok && (saved.AccessToken != "" || saved.RefreshToken != "") {
			tok = fromStoredToken(saved)
			log.Debug("using saved x token", logx.Time("expiry", saved.Expiry))
		}
	}
	if strings.TrimSpace(tok.AccessToken) == "" && strings.TrimSpace(tok.RefreshToken) == "" {
		return nil, errors.New("publisher: x driver needs an access or refresh token")
	}
	if tok.AccessToken == "" {
		// Forces a refresh on first use.
		tok.Expiry = time.Unix(1, 0)
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}
	base := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})
	var src oauth2.TokenSource = oc.TokenSource(base, tok)
	if tokens != nil {
		src = &savingTokenSource{src: src, store: tokens, name: xTokenName, last: tok, log: log}
	}
	client := oauth2.NewClient(base, src)
	client.Timeout = cfg.Timeout

	return &XPublisher{api: strings.TrimRight(cfg.APIURL, "/"), http: client, log: log}, nil
}

// savingTokenSource writes every new token to the store. A failed write is
// retried on the next call.
type savingTokenSource struct {
	src   oauth2.TokenSource
	store TokenStore
	name  string
	log   logx.Logger

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil && s.last.AccessToken == tok.AccessToken && s.last.RefreshToken == tok.RefreshToken {
		return tok, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), tokenSaveTimeout)
	defer cancel()
	if err := s.store.SaveToken(ctx, s.name, toStoredToken(tok)); err != nil {
		s.log.Warn("save rotated token failed", logx.String("name", s.name), logx.Err(err))
		return tok, nil
	}
	s.last = tok
	s.log.Debug("rotated token saved", logx.String("name", s.name), logx.Time("expiry", tok.Expiry))
	return tok, nil
}

func toStoredToken(t *oauth2.Token) storage.Token {
	return storage.Token{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, TokenType: t.TokenType, Expiry: t.Expiry}
}

func fromStoredToken(t storage.Token) *oauth2.Token {
	typ := t.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return &oauth2.Token{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, TokenType: typ, Expiry: t.Expiry}
}

type xCreateResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (p *XPublisher) Publish(ctx context.Context, text string) (string, error) {
	if err := checkText(text); err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.api+"/tweets", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: x: %v", ErrPublish, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var out xCreateResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(out.Detail)
		if msg == "" {
			msg = strings.TrimSpace(out.Title)
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("%w: x: status %d: %s", ErrPublish, resp.StatusCode, msg)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("%w: x: response without post id", ErrPublish)
	}
	p.log.Debug("x post created", logx.String("id", out.Data.ID))
	return out.Data.ID, nil
}
