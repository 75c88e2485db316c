package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON state file plus append-only journals (default)
//   - "sqlite": SQLite database file
//   - "memory": process-local, nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Budget is the persisted publication counter for the current period.
type Budget struct {
	PeriodStart time.Time `json:"period_start"`
	Count       int       `json:"count"`
}

// Publication statuses recorded in the audit trail.
const (
	StatusPublished = "published"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// PublicationEntry records one publish attempt.
// Keep it compact and schema-stable.
type PublicationEntry struct {
	At      time.Time `json:"at"`
	Account string    `json:"account,omitempty"`
	Text    string    `json:"text"`
	PostID  string    `json:"post_id,omitempty"`
	Status  string    `json:"status"`
	Reason  string    `json:"reason,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Token is a persisted OAuth2 credential. Providers that rotate refresh
// tokens need the latest one to survive a restart.
type Token struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}
