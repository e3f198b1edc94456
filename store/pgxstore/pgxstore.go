// Package pgxstore is the PostgreSQL credential store on a pgx pool.
package pgxstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"realmsync/store"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	username          TEXT PRIMARY KEY,
	email             TEXT NOT NULL UNIQUE,
	password_hash     TEXT NOT NULL,
	token             TEXT,
	session_id        TEXT,
	role              INTEGER NOT NULL DEFAULT 0,
	banned            BOOLEAN NOT NULL DEFAULT FALSE,
	stealth           BOOLEAN NOT NULL DEFAULT FALSE,
	online            BOOLEAN NOT NULL DEFAULT FALSE,
	verified          BOOLEAN NOT NULL DEFAULT FALSE,
	verification_code TEXT,
	ip_address        TEXT NOT NULL DEFAULT '',
	geo_location      TEXT NOT NULL DEFAULT '',
	map               TEXT,
	pos_x             DOUBLE PRECISION,
	pos_y             DOUBLE PRECISION,
	direction         TEXT NOT NULL DEFAULT '',
	last_login        TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS accounts_token_idx ON accounts (token);
CREATE INDEX IF NOT EXISTS accounts_session_idx ON accounts (session_id);
CREATE TABLE IF NOT EXISTS stats (
	username    TEXT PRIMARY KEY REFERENCES accounts (username),
	health      INTEGER NOT NULL,
	max_health  INTEGER NOT NULL,
	stamina     INTEGER NOT NULL,
	max_stamina INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS client_config (
	username       TEXT PRIMARY KEY REFERENCES accounts (username),
	fps            INTEGER NOT NULL,
	music_volume   INTEGER NOT NULL,
	effects_volume INTEGER NOT NULL,
	muted          BOOLEAN NOT NULL,
	language       TEXT NOT NULL DEFAULT ''
);`

const accountColumns = `username, email, password_hash, coalesce(token, ''), coalesce(session_id, ''),
	role, banned, stealth, online, verified, coalesce(verification_code, ''), ip_address, geo_location,
	last_login, created_at`

var _ store.Store = (*Adapter)(nil)

// Adapter implements store.Store on PostgreSQL.
type Adapter struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{pool: pool, log: log.Named("pgxstore")}
}

// Open creates a pool for dsn and applies the schema.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Adapter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, store.Wrap("pgxstore open", err)
	}
	a := New(pool, log)
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, store.Wrap("pgxstore migrate", err)
	}
	a.log.Info("postgres store ready")
	return a, nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrConflict
	}
	return store.Wrap(op, err)
}

func scanAccount(row pgx.Row) (*store.Account, error) {
	var (
		acc       store.Account
		role      int
		lastLogin *time.Time
	)
	err := row.Scan(&acc.Username, &acc.Email, &acc.PasswordHash, &acc.Token, &acc.SessionID,
		&role, &acc.Banned, &acc.Stealth, &acc.Online, &acc.Verified, &acc.VerificationCode,
		&acc.IPAddress, &acc.GeoLocation, &lastLogin, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	acc.Role = store.Role(role)
	if lastLogin != nil {
		acc.LastLogin = *lastLogin
	}
	return &acc, nil
}

func (a *Adapter) findBy(ctx context.Context, op, column, value string) (*store.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + column + ` = $1 LIMIT 1`
	acc, err := scanAccount(a.pool.QueryRow(ctx, q, value))
	if err != nil {
		return nil, classify(op, err)
	}
	return acc, nil
}

func (a *Adapter) FindByUsername(ctx context.Context, username string) (*store.Account, error) {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return nil, err
	}
	return a.findBy(ctx, "find by username", "username", username)
}

func (a *Adapter) FindByEmail(ctx context.Context, email string) (*store.Account, error) {
	email = store.NormalizeKey(email)
	if err := store.Require("email", email); err != nil {
		return nil, err
	}
	return a.findBy(ctx, "find by email", "email", email)
}

func (a *Adapter) FindByToken(ctx context.Context, token string) (*store.Account, error) {
	if err := store.Require("token", token); err != nil {
		return nil, err
	}
	return a.findBy(ctx, "find by token", "token", token)
}

func (a *Adapter) FindBySession(ctx context.Context, sessionID string) (*store.Account, error) {
	if err := store.Require("session id", sessionID); err != nil {
		return nil, err
	}
	return a.findBy(ctx, "find by session", "session_id", sessionID)
}

func (a *Adapter) Create(ctx context.Context, acc *store.Account, stats store.Stats, cfg store.ClientConfig) error {
	if acc == nil {
		return store.Require("account", "")
	}
	username := store.NormalizeKey(acc.Username)
	email := store.NormalizeKey(acc.Email)
	if err := store.Require("username", username, "email", email, "password hash", acc.PasswordHash); err != nil {
		return err
	}

	var createdAt time.Time
	err := pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO accounts (username, email, password_hash, role, ip_address, geo_location)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
			username, email, acc.PasswordHash, int(acc.Role), acc.IPAddress, acc.GeoLocation,
		).Scan(&createdAt)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO stats (username, health, max_health, stamina, max_stamina) VALUES ($1, $2, $3, $4, $5)`,
			username, stats.Health, stats.MaxHealth, stats.Stamina, stats.MaxStamina,
		); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO client_config (username, fps, music_volume, effects_volume, muted, language)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			username, cfg.FPS, cfg.MusicVolume, cfg.EffectsVolume, cfg.Muted, cfg.Language,
		)
		return err
	})
	if err != nil {
		return classify("create account", err)
	}
	acc.Username, acc.Email, acc.CreatedAt = username, email, createdAt
	return nil
}

// exec runs an update. With mustMatch, zero affected rows is ErrNotFound.
func (a *Adapter) exec(ctx context.Context, op string, mustMatch bool, q string, args ...any) error {
	tag, err := a.pool.Exec(ctx, q, args...)
	if err != nil {
		return classify(op, err)
	}
	if mustMatch && tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (a *Adapter) SetToken(ctx context.Context, username, token string) error {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username, "token", token); err != nil {
		return err
	}
	return a.exec(ctx, "set token", true, `UPDATE accounts SET token = $1 WHERE username = $2`, token, username)
}

func (a *Adapter) TouchLogin(ctx context.Context, username string) error {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return err
	}
	return a.exec(ctx, "touch login", true, `UPDATE accounts SET last_login = now() WHERE username = $1`, username)
}

func (a *Adapter) BindSession(ctx context.Context, token, sessionID string) error {
	if err := store.Require("token", token, "session id", sessionID); err != nil {
		return err
	}
	return a.exec(ctx, "bind session", false,
		`UPDATE accounts SET session_id = $1, online = TRUE WHERE token = $2`, sessionID, token)
}

func (a *Adapter) Logout(ctx context.Context, sessionID string) error {
	if err := store.Require("session id", sessionID); err != nil {
		return err
	}
	return a.exec(ctx, "logout", false,
		`UPDATE accounts SET token = NULL, session_id = NULL, online = FALSE, verified = FALSE,
		 verification_code = NULL WHERE session_id = $1`, sessionID)
}

func (a *Adapter) ClearSession(ctx context.Context, sessionID string) error {
	if err := store.Require("session id", sessionID); err != nil {
		return err
	}
	return a.exec(ctx, "clear session", false,
		`UPDATE accounts SET session_id = NULL, online = FALSE WHERE session_id = $1`, sessionID)
}

func (a *Adapter) ResetSessions(ctx context.Context) error {
	return a.exec(ctx, "reset sessions", false,
		`UPDATE accounts SET token = NULL, session_id = NULL, online = FALSE, verified = FALSE,
		 verification_code = NULL`)
}

func (a *Adapter) SetBanned(ctx context.Context, username string, banned bool) error {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return err
	}
	return a.exec(ctx, "set banned", true, `UPDATE accounts SET banned = $1 WHERE username = $2`, banned, username)
}

func (a *Adapter) ToggleStealth(ctx context.Context, username string) (bool, error) {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return false, err
	}
	var stealth bool
	err := a.pool.QueryRow(ctx,
		`UPDATE accounts SET stealth = NOT stealth WHERE username = $1 RETURNING stealth`, username,
	).Scan(&stealth)
	if err != nil {
		return false, classify("toggle stealth", err)
	}
	return stealth, nil
}

func (a *Adapter) GetLocation(ctx context.Context, identity string) (*store.Location, error) {
	if err := store.Require("identity", identity); err != nil {
		return nil, err
	}
	var (
		mapName   *string
		x, y      *float64
		direction string
	)
	err := a.pool.QueryRow(ctx,
		`SELECT map, pos_x, pos_y, direction FROM accounts WHERE username = $1 OR session_id = $2 LIMIT 1`,
		store.NormalizeKey(identity), identity,
	).Scan(&mapName, &x, &y, &direction)
	if err != nil {
		return nil, classify("get location", err)
	}
	return locationFromColumns(mapName, x, y, direction)
}

// locationFromColumns treats NULL as absent. A stored 0 is a coordinate.
func locationFromColumns(mapName *string, x, y *float64, direction string) (*store.Location, error) {
	if mapName == nil || *mapName == "" || x == nil || y == nil {
		return nil, store.ErrNotFound
	}
	return &store.Location{
		Map:      *mapName,
		Position: store.Position{X: *x, Y: *y, Direction: store.Direction(direction)},
	}, nil
}

func (a *Adapter) SetLocation(ctx context.Context, sessionID string, loc store.Location) error {
	if err := store.Require("session id", sessionID); err != nil {
		return err
	}
	if err := store.ValidateLocation(loc); err != nil {
		return err
	}
	return a.exec(ctx, "set location", false,
		`UPDATE accounts SET map = $1, pos_x = $2, pos_y = $3, direction = $4 WHERE session_id = $5`,
		loc.Map, loc.Position.X, loc.Position.Y, string(loc.Position.Direction), sessionID)
}

func (a *Adapter) GetStats(ctx context.Context, username string) (*store.Stats, error) {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return nil, err
	}
	var s store.Stats
	err := a.pool.QueryRow(ctx,
		`SELECT health, max_health, stamina, max_stamina FROM stats WHERE username = $1`, username,
	).Scan(&s.Health, &s.MaxHealth, &s.Stamina, &s.MaxStamina)
	if err != nil {
		return nil, classify("get stats", err)
	}
	return &s, nil
}

func (a *Adapter) SetStats(ctx context.Context, username string, stats store.Stats) error {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return err
	}
	return a.exec(ctx, "set stats", true,
		`UPDATE stats SET health = $1, max_health = $2, stamina = $3, max_stamina = $4 WHERE username = $5`,
		stats.Health, stats.MaxHealth, stats.Stamina, stats.MaxStamina, username)
}

func (a *Adapter) GetClientConfig(ctx context.Context, username string) (*store.ClientConfig, error) {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return nil, err
	}
	var c store.ClientConfig
	err := a.pool.QueryRow(ctx,
		`SELECT fps, music_volume, effects_volume, muted, language FROM client_config WHERE username = $1`, username,
	).Scan(&c.FPS, &c.MusicVolume, &c.EffectsVolume, &c.Muted, &c.Language)
	if err != nil {
		return nil, classify("get client config", err)
	}
	return &c, nil
}

func (a *Adapter) SetClientConfig(ctx context.Context, username string, cfg store.ClientConfig) error {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return err
	}
	return a.exec(ctx, "set client config", true,
		`UPDATE client_config SET fps = $1, music_volume = $2, effects_volume = $3, muted = $4, language = $5
		 WHERE username = $6`,
		cfg.FPS, cfg.MusicVolume, cfg.EffectsVolume, cfg.Muted, cfg.Language, username)
}

func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}
