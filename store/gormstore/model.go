package gormstore

import (
	"database/sql"
	"time"

	"realmsync/store"
)

type accountRow struct {
	ID               uint64          `gorm:"primaryKey;autoIncrement"`
	Username         string          `gorm:"column:username;type:varchar(64);uniqueIndex;not null"`
	Email            string          `gorm:"column:email;type:varchar(255);uniqueIndex;not null"`
	PasswordHash     string          `gorm:"column:password_hash;type:varchar(255);not null"`
	Token            sql.NullString  `gorm:"column:token;type:varchar(128);index"`
	SessionID        sql.NullString  `gorm:"column:session_id;type:varchar(64);index"`
	Role             int             `gorm:"column:role;not null;default:0"`
	Banned           bool            `gorm:"column:banned;not null;default:false"`
	Stealth          bool            `gorm:"column:stealth;not null;default:false"`
	Online           bool            `gorm:"column:online;not null;default:false"`
	Verified         bool            `gorm:"column:verified;not null;default:false"`
	VerificationCode sql.NullString  `gorm:"column:verification_code;type:varchar(64)"`
	IPAddress        string          `gorm:"column:ip_address;type:varchar(64)"`
	GeoLocation      string          `gorm:"column:geo_location;type:varchar(255)"`
	Map              sql.NullString  `gorm:"column:map;type:varchar(64)"`
	PosX             sql.NullFloat64 `gorm:"column:pos_x"`
	PosY             sql.NullFloat64 `gorm:"column:pos_y"`
	Direction        string          `gorm:"column:direction;type:varchar(16)"`
	LastLogin        sql.NullTime    `gorm:"column:last_login"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
}

func (accountRow) TableName() string { return "accounts" }

type statsRow struct {
	Username   string `gorm:"column:username;type:varchar(64);primaryKey"`
	Health     int    `gorm:"column:health"`
	MaxHealth  int    `gorm:"column:max_health"`
	Stamina    int    `gorm:"column:stamina"`
	MaxStamina int    `gorm:"column:max_stamina"`
}

func (statsRow) TableName() string { return "stats" }

type clientConfigRow struct {
	Username      string `gorm:"column:username;type:varchar(64);primaryKey"`
	FPS           int    `gorm:"column:fps"`
	MusicVolume   int    `gorm:"column:music_volume"`
	EffectsVolume int    `gorm:"column:effects_volume"`
	Muted         bool   `gorm:"column:muted"`
	Language      string `gorm:"column:language;type:varchar(16)"`
}

func (clientConfigRow) TableName() string { return "client_config" }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *accountRow) toAccount() *store.Account {
	acc := &store.Account{
		Username:         r.Username,
		Email:            r.Email,
		PasswordHash:     r.PasswordHash,
		Token:            r.Token.String,
		SessionID:        r.SessionID.String,
		Role:             store.Role(r.Role),
		Banned:           r.Banned,
		Stealth:          r.Stealth,
		Online:           r.Online,
		Verified:         r.Verified,
		VerificationCode: r.VerificationCode.String,
		IPAddress:        r.IPAddress,
		GeoLocation:      r.GeoLocation,
		CreatedAt:        r.CreatedAt,
	}
	if r.LastLogin.Valid {
		acc.LastLogin = r.LastLogin.Time
	}
	return acc
}

// location maps the nullable columns. NULL coordinates mean no location;
// a stored 0 is a real coordinate.
func (r *accountRow) location() *store.Location {
	if !r.Map.Valid || r.Map.String == "" || !r.PosX.Valid || !r.PosY.Valid {
		return nil
	}
	return &store.Location{
		Map: r.Map.String,
		Position: store.Position{
			X:         r.PosX.Float64,
			Y:         r.PosY.Float64,
			Direction: store.Direction(r.Direction),
		},
	}
}

func fromAccount(acc *store.Account) *accountRow {
	return &accountRow{
		Username:         store.NormalizeKey(acc.Username),
		Email:            store.NormalizeKey(acc.Email),
		PasswordHash:     acc.PasswordHash,
		Token:            nullString(acc.Token),
		SessionID:        nullString(acc.SessionID),
		Role:             int(acc.Role),
		Banned:           acc.Banned,
		Stealth:          acc.Stealth,
		Online:           acc.Online,
		Verified:         acc.Verified,
		VerificationCode: nullString(acc.VerificationCode),
		IPAddress:        acc.IPAddress,
		GeoLocation:      acc.GeoLocation,
		CreatedAt:        acc.CreatedAt,
	}
}
