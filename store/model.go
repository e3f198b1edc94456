package store

import (
	"strings"
	"time"
)

// Role is the account privilege level. Values match the `role` column.
type Role int

const (
	RoleNormal Role = 0
	RoleAdmin  Role = 1
)

// Direction is an 8-way facing.
type Direction string

const (
	DirUp        Direction = "up"
	DirDown      Direction = "down"
	DirLeft      Direction = "left"
	DirRight     Direction = "right"
	DirUpLeft    Direction = "upleft"
	DirUpRight   Direction = "upright"
	DirDownLeft  Direction = "downleft"
	DirDownRight Direction = "downright"
)

// Directions lists every valid facing.
var Directions = []Direction{
	DirUp, DirDown, DirLeft, DirRight,
	DirUpLeft, DirUpRight, DirDownLeft, DirDownRight,
}

// ParseDirection accepts any casing ("UPLEFT", "upleft").
func ParseDirection(s string) (Direction, bool) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Directions {
		if d == known {
			return d, true
		}
	}
	return "", false
}

// Account is the persisted identity row.
type Account struct {
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	Token            string    `json:"-"`
	SessionID        string    `json:"-"`
	Role             Role      `json:"role"`
	Banned           bool      `json:"banned"`
	Stealth          bool      `json:"stealth"`
	Online           bool      `json:"online"`
	Verified         bool      `json:"verified"`
	VerificationCode string    `json:"-"`
	IPAddress        string    `json:"-"`
	GeoLocation      string    `json:"-"`
	LastLogin        time.Time `json:"lastLogin"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (a *Account) IsAdmin() bool { return a != nil && a.Role == RoleAdmin }

// Position is a point in world pixels plus the facing at that point.
// Zero is a valid coordinate.
type Position struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Direction Direction `json:"direction"`
}

// Location is present-or-absent: callers hold a *Location and nil means
// the account has no stored location.
type Location struct {
	Map      string   `json:"map"`
	Position Position `json:"position"`
}

// Valid reports whether the location names a map. Coordinates are always
// defined once a Location exists.
func (l *Location) Valid() bool {
	return l != nil && l.Map != ""
}

// Stats holds the combat pool of an account.
type Stats struct {
	Health     int `json:"health"`
	MaxHealth  int `json:"max_health"`
	Stamina    int `json:"stamina"`
	MaxStamina int `json:"max_stamina"`
}

// DefaultStats are written for every new account.
func DefaultStats() Stats {
	return Stats{Health: 100, MaxHealth: 100, Stamina: 100, MaxStamina: 100}
}

// Clamp keeps health and stamina within [0, max].
func (s Stats) Clamp() Stats {
	if s.MaxHealth < 0 {
		s.MaxHealth = 0
	}
	if s.MaxStamina < 0 {
		s.MaxStamina = 0
	}
	s.Health = clampInt(s.Health, 0, s.MaxHealth)
	s.Stamina = clampInt(s.Stamina, 0, s.MaxStamina)
	return s
}

func (s Stats) Defeated() bool { return s.Health <= 0 }

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClientConfig is the per-account client preference row.
type ClientConfig struct {
	FPS           int    `json:"fps"`
	MusicVolume   int    `json:"music_volume"`
	EffectsVolume int    `json:"effects_volume"`
	Muted         bool   `json:"muted"`
	Language      string `json:"language"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{FPS: 60, MusicVolume: 50, EffectsVolume: 50, Muted: false, Language: "en"}
}
