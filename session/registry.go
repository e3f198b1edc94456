// Package session owns the account credential lifecycle: registration,
// login, token issue, binding a token to one live connection, and the
// kick/ban/stealth administrative transitions.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"realmsync/store"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	emailPattern    = regexp.MustCompile(`^[A-Za-z0-9@.]+$`)
	passwordPattern = regexp.MustCompile(`^[A-Za-z0-9!@#$%^&*()_+]+$`)
)

// Kicker closes the live connection bound to a session id.
type Kicker interface {
	Kick(sessionID string)
}

// Meta is informational request metadata stored with a new account.
type Meta struct {
	IPAddress   string
	GeoLocation string
}

// Registry owns the account and session lifecycle: registration, login,
// token binding, logout, kick and ban. Writes on one token or session id
// are serialized.
type Registry struct {
	store      store.Store
	hasher     PasswordHasher
	log        *zap.Logger
	tokenBytes int

	accounts *keyedMutex // username, guards token issue
	tokens   *keyedMutex
	sessions *keyedMutex

	kickMu sync.RWMutex
	kicker Kicker
}

// Option configures a Registry.
type Option func(*Registry)

// WithTokenBytes sets the random length of minted tokens.
func WithTokenBytes(n int) Option {
	return func(r *Registry) { r.tokenBytes = n }
}

// WithKicker sets the collaborator that closes kicked connections.
func WithKicker(k Kicker) Option {
	return func(r *Registry) { r.kicker = k }
}

// NewRegistry builds a registry over st. A nil hasher means bcrypt at the
// default cost.
func NewRegistry(st store.Store, hasher PasswordHasher, log *zap.Logger, opts ...Option) *Registry {
	if hasher == nil {
		hasher = NewBcrypt(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		store:      st,
		hasher:     hasher,
		log:        log.Named("session"),
		tokenBytes: DefaultTokenBytes,
		accounts:   newKeyedMutex(),
		tokens:     newKeyedMutex(),
		sessions:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetKicker wires the connection owner after construction.
func (r *Registry) SetKicker(k Kicker) {
	r.kickMu.Lock()
	r.kicker = k
	r.kickMu.Unlock()
}

func (r *Registry) kick(sessionID string) {
	r.kickMu.RLock()
	k := r.kicker
	r.kickMu.RUnlock()
	if k != nil && sessionID != "" {
		k.Kick(sessionID)
	}
}

// Register creates an account with default stats and client config.
func (r *Registry) Register(ctx context.Context, username, password, email string, meta Meta) (*store.Account, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || password == "" || email == "" {
		return nil, fmt.Errorf("%w: missing field", ErrValidation)
	}
	if !usernamePattern.MatchString(username) {
		return nil, fmt.Errorf("%w: username", ErrValidation)
	}
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: email", ErrValidation)
	}
	if !passwordPattern.MatchString(password) {
		return nil, fmt.Errorf("%w: password", ErrValidation)
	}
	username = store.NormalizeKey(username)
	email = store.NormalizeKey(email)

	unlock := r.accounts.Lock(username)
	defer unlock()

	if err := r.ensureAbsent(r.store.FindByUsername(ctx, username)); err != nil {
		return nil, err
	}
	if err := r.ensureAbsent(r.store.FindByEmail(ctx, email)); err != nil {
		return nil, err
	}

	hash, err := r.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("register: %w: %w", store.ErrStore, err)
	}
	acc := &store.Account{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         store.RoleNormal,
		IPAddress:    meta.IPAddress,
		GeoLocation:  meta.GeoLocation,
	}
	if err := r.store.Create(ctx, acc, store.DefaultStats(), store.DefaultClientConfig()); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	r.log.Info("account registered", zap.String("username", username))
	return acc, nil
}

func (r *Registry) ensureAbsent(_ *store.Account, err error) error {
	switch {
	case err == nil:
		return ErrConflict
	case errors.Is(err, store.ErrNotFound):
		return nil
	}
	return fmt.Errorf("register: %w", err)
}

// Login verifies the password and returns the account's bearer token,
// reusing the current one when present.
func (r *Registry) Login(ctx context.Context, username, password string) (string, error) {
	username = store.NormalizeKey(username)
	if username == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	acc, err := r.store.FindByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Debug("login failed", zap.String("username", username))
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	ok, err := r.hasher.Verify(password, acc.PasswordHash)
	if err != nil || !ok {
		r.log.Debug("login failed", zap.String("username", username), zap.Error(err))
		return "", ErrInvalidCredentials
	}

	unlock := r.accounts.Lock(username)
	defer unlock()

	// Re-read under the lock so two logins agree on one token.
	acc, err = r.store.FindByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	token := acc.Token
	if token == "" {
		token, err = NewToken(r.tokenBytes)
		if err != nil {
			return "", fmt.Errorf("login: mint token: %w", err)
		}
		if err := r.store.SetToken(ctx, username, token); err != nil {
			return "", fmt.Errorf("login: %w", err)
		}
	}
	if err := r.store.TouchLogin(ctx, username); err != nil {
		r.log.Warn("update last login", zap.String("username", username), zap.Error(err))
	}
	r.log.Debug("logged in", zap.String("username", username))
	return token, nil
}

// ResolveToken returns the account holding token.
func (r *Registry) ResolveToken(ctx context.Context, token string) (*store.Account, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	acc, err := r.store.FindByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalid) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	return acc, nil
}

// BindSession binds token to sessionID. It returns false, without writing,
// when the token is already bound to a different session. ctx is the
// connection's lifetime: once it is done the bind is refused, and a bind
// that completes after it is undone.
func (r *Registry) BindSession(ctx context.Context, token, sessionID string) (bool, error) {
	if token == "" {
		return false, ErrInvalidToken
	}
	if sessionID == "" {
		return false, ErrSessionClosed
	}
	unlockSession := r.sessions.Lock(sessionID)
	defer unlockSession()
	unlockToken := r.tokens.Lock(token)
	defer unlockToken()

	if ctx.Err() != nil {
		return false, ErrSessionClosed
	}

	acc, err := r.ResolveToken(ctx, token)
	if err != nil {
		return false, err
	}
	if acc.Banned {
		return false, ErrBanned
	}
	if acc.SessionID != "" && acc.SessionID != sessionID {
		r.log.Debug("bind rejected, token already bound",
			zap.String("username", acc.Username), zap.String("session", sessionID))
		return false, nil
	}
	if acc.SessionID == sessionID && acc.Online {
		return true, nil
	}

	// Detach from the caller's cancellation so the write and any undo
	// always run to completion.
	wctx := context.WithoutCancel(ctx)
	if err := r.store.BindSession(wctx, token, sessionID); err != nil {
		return false, fmt.Errorf("bind session: %w", err)
	}
	if ctx.Err() != nil {
		if err := r.store.ClearSession(wctx, sessionID); err != nil {
			r.log.Error("undo bind after close", zap.String("session", sessionID), zap.Error(err))
		}
		return false, ErrSessionClosed
	}

	// A ban may have landed between the read and the bind.
	acc, err = r.store.FindByToken(wctx, token)
	if err == nil && acc.Banned {
		if err := r.store.Logout(wctx, sessionID); err != nil {
			r.log.Error("reverse banned bind", zap.String("session", sessionID), zap.Error(err))
		}
		return false, ErrBanned
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("bind session: %w", err)
	}
	if errors.Is(err, store.ErrNotFound) {
		// Token was cleared concurrently.
		_ = r.store.ClearSession(wctx, sessionID)
		return false, ErrInvalidToken
	}
	return true, nil
}

// Logout ends the session and clears the token and pending verification.
func (r *Registry) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	unlock := r.sessions.Lock(sessionID)
	defer unlock()
	if err := r.store.Logout(ctx, sessionID); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// ClearSessionID drops the binding and marks the account offline. The
// token stays valid.
func (r *Registry) ClearSessionID(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	unlock := r.sessions.Lock(sessionID)
	defer unlock()
	if err := r.store.ClearSession(ctx, sessionID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Kick clears the account's session binding and closes its connection.
func (r *Registry) Kick(ctx context.Context, username string) error {
	acc, err := r.store.FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("kick: %w", err)
	}
	if acc.SessionID == "" {
		return nil
	}
	if err := r.ClearSessionID(ctx, acc.SessionID); err != nil {
		return err
	}
	r.kick(acc.SessionID)
	r.log.Info("kicked", zap.String("username", acc.Username))
	return nil
}

// Ban flags the account banned permanently and kicks it.
func (r *Registry) Ban(ctx context.Context, username string) error {
	acc, err := r.store.FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("ban: %w", err)
	}

	// Serialize with binds on the same token; the lock is released before
	// kicking so the session lock is never taken after the token lock.
	if acc.Token != "" {
		unlock := r.tokens.Lock(acc.Token)
		err = r.store.SetBanned(ctx, acc.Username, true)
		unlock()
	} else {
		err = r.store.SetBanned(ctx, acc.Username, true)
	}
	if err != nil {
		return fmt.Errorf("ban: %w", err)
	}
	r.log.Info("banned", zap.String("username", acc.Username))

	acc, err = r.store.FindByUsername(ctx, acc.Username)
	if err != nil {
		return fmt.Errorf("ban: %w", err)
	}
	if acc.SessionID == "" {
		return nil
	}
	return r.Kick(ctx, acc.Username)
}

// ToggleStealth flips the account's stealth flag and returns the new value.
func (r *Registry) ToggleStealth(ctx context.Context, username string) (bool, error) {
	unlock := r.accounts.Lock(store.NormalizeKey(username))
	defer unlock()
	v, err := r.store.ToggleStealth(ctx, username)
	if err != nil {
		return false, fmt.Errorf("toggle stealth: %w", err)
	}
	return v, nil
}
