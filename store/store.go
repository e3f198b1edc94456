// Package store is the contract over the external account persistence
// collaborator plus an in-memory implementation of it.
//
// Adapters only validate input. Every call is either an idempotent read or a
// last-write-wins update; nothing here offers multi-row atomicity, so callers
// re-validate before acting on what they read.
package store

import (
	"context"
	"strings"
)

// Store is the credential store port.
type Store interface {
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByToken(ctx context.Context, token string) (*Account, error)
	FindBySession(ctx context.Context, sessionID string) (*Account, error)

	// Create inserts the account together with its stats and client config.
	Create(ctx context.Context, acc *Account, stats Stats, cfg ClientConfig) error

	SetToken(ctx context.Context, username, token string) error
	TouchLogin(ctx context.Context, username string) error

	// BindSession sets session_id and online=1 on the account holding token.
	BindSession(ctx context.Context, token, sessionID string) error
	// Logout clears token, session, online and pending verification.
	Logout(ctx context.Context, sessionID string) error
	// ClearSession clears session and online, keeping the token.
	ClearSession(ctx context.Context, sessionID string) error
	// ResetSessions clears every session binding. Run once at startup.
	ResetSessions(ctx context.Context) error

	SetBanned(ctx context.Context, username string, banned bool) error
	ToggleStealth(ctx context.Context, username string) (bool, error)

	// GetLocation resolves identity as a username or a session id.
	GetLocation(ctx context.Context, identity string) (*Location, error)
	SetLocation(ctx context.Context, sessionID string, loc Location) error

	GetStats(ctx context.Context, username string) (*Stats, error)
	SetStats(ctx context.Context, username string, stats Stats) error

	GetClientConfig(ctx context.Context, username string) (*ClientConfig, error)
	SetClientConfig(ctx context.Context, username string, cfg ClientConfig) error

	Close() error
}

// NormalizeKey lower-cases usernames and emails, which are case-insensitive keys.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Require returns ErrInvalid naming the first empty value.
// Arguments alternate field name, value.
func Require(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return invalid(pairs[i])
		}
	}
	return nil
}

// ValidateLocation rejects locations without a map.
func ValidateLocation(loc Location) error {
	if loc.Map == "" {
		return invalid("map")
	}
	return nil
}
