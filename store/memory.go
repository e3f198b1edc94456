package store

import (
	"context"
	"sync"
	"time"
)

// Ensure Memory implements Store
var _ Store = (*Memory)(nil)

type memoryRecord struct {
	account  Account
	location *Location
	stats    Stats
	config   ClientConfig
}

// Memory keeps accounts in process. Reads return copies.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord // key: username
	now     func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*memoryRecord),
		now:     time.Now,
	}
}

func (m *Memory) FindByUsername(ctx context.Context, username string) (*Account, error) {
	username = NormalizeKey(username)
	if err := Require("username", username); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[username]
	if !ok {
		return nil, ErrNotFound
	}
	acc := rec.account
	return &acc, nil
}

func (m *Memory) FindByEmail(ctx context.Context, email string) (*Account, error) {
	email = NormalizeKey(email)
	if err := Require("email", email); err != nil {
		return nil, err
	}
	return m.findFirst(func(r *memoryRecord) bool { return r.account.Email == email })
}

func (m *Memory) FindByToken(ctx context.Context, token string) (*Account, error) {
	if err := Require("token", token); err != nil {
		return nil, err
	}
	return m.findFirst(func(r *memoryRecord) bool { return r.account.Token == token })
}

func (m *Memory) FindBySession(ctx context.Context, sessionID string) (*Account, error) {
	if err := Require("session id", sessionID); err != nil {
		return nil, err
	}
	return m.findFirst(func(r *memoryRecord) bool { return r.account.SessionID == sessionID })
}

func (m *Memory) findFirst(match func(*memoryRecord) bool) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if match(rec) {
			acc := rec.account
			return &acc, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Create(ctx context.Context, acc *Account, stats Stats, cfg ClientConfig) error {
	if acc == nil {
		return invalid("account")
	}
	username := NormalizeKey(acc.Username)
	email := NormalizeKey(acc.Email)
	if err := Require("username", username, "email", email, "password hash", acc.PasswordHash); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[username]; exists {
		return ErrConflict
	}
	for _, rec := range m.records {
		if rec.account.Email == email {
			return ErrConflict
		}
	}

	stored := *acc
	stored.Username = username
	stored.Email = email
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	m.records[username] = &memoryRecord{account: stored, stats: stats, config: cfg}
	acc.Username, acc.Email, acc.CreatedAt = stored.Username, stored.Email, stored.CreatedAt
	return nil
}

func (m *Memory) SetToken(ctx context.Context, username, token string) error {
	username = NormalizeKey(username)
	if err := Require("username", username, "token", token); err != nil {
		return err
	}
	return m.update(username, func(r *memoryRecord) { r.account.Token = token })
}

func (m *Memory) TouchLogin(ctx context.Context, username string) error {
	username = NormalizeKey(username)
	if err := Require("username", username); err != nil {
		return err
	}
	now := m.now()
	return m.update(username, func(r *memoryRecord) { r.account.LastLogin = now })
}

func (m *Memory) BindSession(ctx context.Context, token, sessionID string) error {
	if err := Require("token", token, "session id", sessionID); err != nil {
		return err
	}
	return m.updateWhere(func(r *memoryRecord) bool { return r.account.Token == token }, func(r *memoryRecord) {
		r.account.SessionID = sessionID
		r.account.Online = true
	})
}

func (m *Memory) Logout(ctx context.Context, sessionID string) error {
	if err := Require("session id", sessionID); err != nil {
		return err
	}
	return m.updateWhere(func(r *memoryRecord) bool { return r.account.SessionID == sessionID }, func(r *memoryRecord) {
		r.account.Token = ""
		r.account.SessionID = ""
		r.account.Online = false
		r.account.VerificationCode = ""
		r.account.Verified = false
	})
}

func (m *Memory) ClearSession(ctx context.Context, sessionID string) error {
	if err := Require("session id", sessionID); err != nil {
		return err
	}
	return m.updateWhere(func(r *memoryRecord) bool { return r.account.SessionID == sessionID }, func(r *memoryRecord) {
		r.account.SessionID = ""
		r.account.Online = false
	})
}

func (m *Memory) ResetSessions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		rec.account.SessionID = ""
		rec.account.Online = false
		rec.account.Token = ""
		rec.account.Verified = false
		rec.account.VerificationCode = ""
	}
	return nil
}

func (m *Memory) SetBanned(ctx context.Context, username string, banned bool) error {
	username = NormalizeKey(username)
	if err := Require("username", username); err != nil {
		return err
	}
	return m.update(username, func(r *memoryRecord) { r.account.Banned = banned })
}

func (m *Memory) ToggleStealth(ctx context.Context, username string) (bool, error) {
	username = NormalizeKey(username)
	if err := Require("username", username); err != nil {
		return false, err
	}
	var stealth bool
	err := m.update(username, func(r *memoryRecord) {
		r.account.Stealth = !r.account.Stealth
		stealth = r.account.Stealth
	})
	return stealth, err
}

func (m *Memory) GetLocation(ctx context.Context, identity string) (*Location, error) {
	if err := Require("identity", identity); err != nil {
		return nil, err
	}
	key := NormalizeKey(identity)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for username, rec := range m.records {
		if username != key && rec.account.SessionID != identity {
			continue
		}
		if !rec.location.Valid() {
			return nil, ErrNotFound
		}
		loc := *rec.location
		return &loc, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) SetLocation(ctx context.Context, sessionID string, loc Location) error {
	if err := Require("session id", sessionID); err != nil {
		return err
	}
	if err := ValidateLocation(loc); err != nil {
		return err
	}
	return m.updateWhere(func(r *memoryRecord) bool { return r.account.SessionID == sessionID }, func(r *memoryRecord) {
		stored := loc
		r.location = &stored
	})
}

// PutLocation seeds a location by username, bypassing session binding.
func (m *Memory) PutLocation(username string, loc Location) error {
	username = NormalizeKey(username)
	if err := ValidateLocation(loc); err != nil {
		return err
	}
	return m.update(username, func(r *memoryRecord) {
		stored := loc
		r.location = &stored
	})
}

// SetRole changes an account's role. Role management is not part of the
// Store port; operators grant admin directly in the backing database.
func (m *Memory) SetRole(username string, role Role) error {
	return m.update(NormalizeKey(username), func(r *memoryRecord) { r.account.Role = role })
}

func (m *Memory) GetStats(ctx context.Context, username string) (*Stats, error) {
	username = NormalizeKey(username)
	if err := Require("username", username); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[username]
	if !ok {
		return nil, ErrNotFound
	}
	stats := rec.stats
	return &stats, nil
}

func (m *Memory) SetStats(ctx context.Context, username string, stats Stats) error {
	username = NormalizeKey(username)
	if err := Require("username", username); err != nil {
		return err
	}
	return m.update(username, func(r *memoryRecord) { r.stats = stats })
}

func (m *Memory) GetClientConfig(ctx context.Context, username string) (*ClientConfig, error) {
	username = NormalizeKey(username)
	if err := Require("username", username); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[username]
	if !ok {
		return nil, ErrNotFound
	}
	cfg := rec.config
	return &cfg, nil
}

func (m *Memory) SetClientConfig(ctx context.Context, username string, cfg ClientConfig) error {
	username = NormalizeKey(username)
	if err := Require("username", username); err != nil {
		return err
	}
	return m.update(username, func(r *memoryRecord) { r.config = cfg })
}

func (m *Memory) Close() error { return nil }

func (m *Memory) update(username string, fn func(*memoryRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[username]
	if !ok {
		return ErrNotFound
	}
	fn(rec)
	return nil
}

// updateWhere applies fn to every matching record. Matching nothing is not
// an error: SQL adapters report zero affected rows the same way.
func (m *Memory) updateWhere(match func(*memoryRecord) bool, fn func(*memoryRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if match(rec) {
			fn(rec)
		}
	}
	return nil
}
