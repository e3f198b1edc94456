// Package gormstore is the MySQL credential store, built on gorm.
package gormstore

import (
	"context"
	"errors"
	"time"

	mysqlerr "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"realmsync/store"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store on MySQL.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to MySQL and migrates the account tables.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, store.Wrap("gormstore open", err)
	}
	s := New(db, log)
	if err := db.AutoMigrate(&accountRow{}, &statsRow{}, &clientConfigRow{}); err != nil {
		return nil, store.Wrap("gormstore migrate", err)
	}
	s.log.Info("mysql store ready")
	return s, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log.Named("gormstore")}
}

// isDup reports a MySQL unique key violation (1062).
func isDup(err error) bool {
	var me *mysqlerr.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case isDup(err):
		return store.ErrConflict
	}
	return store.Wrap(op, err)
}

func (s *Store) find(ctx context.Context, op, column, value string) (*accountRow, error) {
	var row accountRow
	err := s.db.WithContext(ctx).Model(&accountRow{}).Where(column+" = ?", value).First(&row).Error
	if err != nil {
		return nil, classify(op, err)
	}
	return &row, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*store.Account, error) {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return nil, err
	}
	row, err := s.find(ctx, "find by username", "username", username)
	if err != nil {
		return nil, err
	}
	return row.toAccount(), nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*store.Account, error) {
	email = store.NormalizeKey(email)
	if err := store.Require("email", email); err != nil {
		return nil, err
	}
	row, err := s.find(ctx, "find by email", "email", email)
	if err != nil {
		return nil, err
	}
	return row.toAccount(), nil
}

func (s *Store) FindByToken(ctx context.Context, token string) (*store.Account, error) {
	if err := store.Require("token", token); err != nil {
		return nil, err
	}
	row, err := s.find(ctx, "find by token", "token", token)
	if err != nil {
		return nil, err
	}
	return row.toAccount(), nil
}

func (s *Store) FindBySession(ctx context.Context, sessionID string) (*store.Account, error) {
	if err := store.Require("session id", sessionID); err != nil {
		return nil, err
	}
	row, err := s.find(ctx, "find by session", "session_id", sessionID)
	if err != nil {
		return nil, err
	}
	return row.toAccount(), nil
}

func (s *Store) Create(ctx context.Context, acc *store.Account, stats store.Stats, cfg store.ClientConfig) error {
	if acc == nil {
		return store.Require("account", "")
	}
	row := fromAccount(acc)
	if err := store.Require("username", row.Username, "email", row.Email, "password hash", row.PasswordHash); err != nil {
		return err
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	tx := s.db.WithContext(ctx).Begin()
	if err := tx.Create(row).Error; err != nil {
		tx.Rollback()
		return classify("create account", err)
	}
	if err := tx.Create(&statsRow{
		Username: row.Username, Health: stats.Health, MaxHealth: stats.MaxHealth,
		Stamina: stats.Stamina, MaxStamina: stats.MaxStamina,
	}).Error; err != nil {
		tx.Rollback()
		return classify("create stats", err)
	}
	if err := tx.Create(&clientConfigRow{
		Username: row.Username, FPS: cfg.FPS, MusicVolume: cfg.MusicVolume,
		EffectsVolume: cfg.EffectsVolume, Muted: cfg.Muted, Language: cfg.Language,
	}).Error; err != nil {
		tx.Rollback()
		return classify("create client config", err)
	}
	if err := tx.Commit().Error; err != nil {
		return classify("create commit", err)
	}
	acc.Username, acc.Email, acc.CreatedAt = row.Username, row.Email, row.CreatedAt
	return nil
}

// updateBy writes columns on every row matching column = value. found
// controls whether zero affected rows is ErrNotFound.
func (s *Store) updateBy(ctx context.Context, op, column, value string, found bool, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&accountRow{}).Where(column+" = ?", value).Updates(fields)
	if res.Error != nil {
		return classify(op, res.Error)
	}
	if found && res.RowsAffected == 0 {
		// MySQL counts changed rows only, so confirm the row exists.
		var n int64
		if err := s.db.WithContext(ctx).Model(&accountRow{}).Where(column+" = ?", value).Count(&n).Error; err != nil {
			return classify(op, err)
		}
		if n == 0 {
			return store.ErrNotFound
		}
	}
	return nil
}

func (s *Store) SetToken(ctx context.Context, username, token string) error {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username, "token", token); err != nil {
		return err
	}
	return s.updateBy(ctx, "set token", "username", username, true, map[string]interface{}{"token": token})
}

func (s *Store) TouchLogin(ctx context.Context, username string) error {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return err
	}
	return s.updateBy(ctx, "touch login", "username", username, true, map[string]interface{}{"last_login": time.Now()})
}

func (s *Store) BindSession(ctx context.Context, token, sessionID string) error {
	if err := store.Require("token", token, "session id", sessionID); err != nil {
		return err
	}
	return s.updateBy(ctx, "bind session", "token", token, false, map[string]interface{}{
		"session_id": sessionID,
		"online":     true,
	})
}

func (s *Store) Logout(ctx context.Context, sessionID string) error {
	if err := store.Require("session id", sessionID); err != nil {
		return err
	}
	return s.updateBy(ctx, "logout", "session_id", sessionID, false, map[string]interface{}{
		"token":             nil,
		"session_id":        nil,
		"online":            false,
		"verified":          false,
		"verification_code": nil,
	})
}

func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	if err := store.Require("session id", sessionID); err != nil {
		return err
	}
	return s.updateBy(ctx, "clear session", "session_id", sessionID, false, map[string]interface{}{
		"session_id": nil,
		"online":     false,
	})
}

func (s *Store) ResetSessions(ctx context.Context) error {
	err := s.db.WithContext(ctx).Model(&accountRow{}).Where("1 = 1").Updates(map[string]interface{}{
		"token":             nil,
		"session_id":        nil,
		"online":            false,
		"verified":          false,
		"verification_code": nil,
	}).Error
	return classify("reset sessions", err)
}

func (s *Store) SetBanned(ctx context.Context, username string, banned bool) error {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return err
	}
	return s.updateBy(ctx, "set banned", "username", username, true, map[string]interface{}{"banned": banned})
}

func (s *Store) ToggleStealth(ctx context.Context, username string) (bool, error) {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Model(&accountRow{}).Where("username = ?", username).
		Update("stealth", gorm.Expr("NOT stealth"))
	if res.Error != nil {
		return false, classify("toggle stealth", res.Error)
	}
	row, err := s.find(ctx, "toggle stealth", "username", username)
	if err != nil {
		return false, err
	}
	return row.Stealth, nil
}

func (s *Store) GetLocation(ctx context.Context, identity string) (*store.Location, error) {
	if err := store.Require("identity", identity); err != nil {
		return nil, err
	}
	var row accountRow
	err := s.db.WithContext(ctx).Model(&accountRow{}).
		Where("username = ? OR session_id = ?", store.NormalizeKey(identity), identity).
		First(&row).Error
	if err != nil {
		return nil, classify("get location", err)
	}
	loc := row.location()
	if loc == nil {
		return nil, store.ErrNotFound
	}
	return loc, nil
}

func (s *Store) SetLocation(ctx context.Context, sessionID string, loc store.Location) error {
	if err := store.Require("session id", sessionID); err != nil {
		return err
	}
	if err := store.ValidateLocation(loc); err != nil {
		return err
	}
	return s.updateBy(ctx, "set location", "session_id", sessionID, false, map[string]interface{}{
		"map":       loc.Map,
		"pos_x":     loc.Position.X,
		"pos_y":     loc.Position.Y,
		"direction": string(loc.Position.Direction),
	})
}

func (s *Store) GetStats(ctx context.Context, username string) (*store.Stats, error) {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return nil, err
	}
	var row statsRow
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error; err != nil {
		return nil, classify("get stats", err)
	}
	return &store.Stats{Health: row.Health, MaxHealth: row.MaxHealth, Stamina: row.Stamina, MaxStamina: row.MaxStamina}, nil
}

func (s *Store) SetStats(ctx context.Context, username string, stats store.Stats) error {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Save(&statsRow{
		Username: username, Health: stats.Health, MaxHealth: stats.MaxHealth,
		Stamina: stats.Stamina, MaxStamina: stats.MaxStamina,
	}).Error
	return classify("set stats", err)
}

func (s *Store) GetClientConfig(ctx context.Context, username string) (*store.ClientConfig, error) {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return nil, err
	}
	var row clientConfigRow
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error; err != nil {
		return nil, classify("get client config", err)
	}
	return &store.ClientConfig{
		FPS: row.FPS, MusicVolume: row.MusicVolume, EffectsVolume: row.EffectsVolume,
		Muted: row.Muted, Language: row.Language,
	}, nil
}

func (s *Store) SetClientConfig(ctx context.Context, username string, cfg store.ClientConfig) error {
	username = store.NormalizeKey(username)
	if err := store.Require("username", username); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Save(&clientConfigRow{
		Username: username, FPS: cfg.FPS, MusicVolume: cfg.MusicVolume,
		EffectsVolume: cfg.EffectsVolume, Muted: cfg.Muted, Language: cfg.Language,
	}).Error
	return classify("set client config", err)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return store.Wrap("gormstore close", err)
	}
	return sqlDB.Close()
}
