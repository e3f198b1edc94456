// Package rules validates and applies movement and combat.
package rules

import (
	"context"
	"math"

	"go.uber.org/zap"

	"realmsync/store"
)

// Collider answers walkability queries.
type Collider interface {
	IsBlocked(mapName string, x, y float64) bool
}

// LocationWriter persists a session's location.
type LocationWriter interface {
	SetLocation(ctx context.Context, sessionID string, loc store.Location) error
}

// Engine applies movement and combat rules. It holds no per-player state.
type Engine struct {
	locations LocationWriter
	collider  Collider
	facing    Facing
	damage    DamageFunc
	log       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithFacing selects the facing windows used by CanAttack.
func WithFacing(f Facing) Option {
	return func(e *Engine) {
		if f != nil {
			e.facing = f
		}
	}
}

// WithDamage sets the combat formula.
func WithDamage(d DamageFunc) Option {
	return func(e *Engine) {
		if d != nil {
			e.damage = d
		}
	}
}

// NewEngine builds an engine with symmetric facing and 10 damage per hit
// unless opts say otherwise. A nil collider treats every tile as open.
func NewEngine(locations LocationWriter, collider Collider, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		locations: locations,
		collider:  collider,
		facing:    SymmetricFacing,
		damage:    FixedDamage(10),
		log:       log.Named("rules"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetLocation persists loc for the session without any collision check.
// Missing arguments make it a no-op.
func (e *Engine) SetLocation(ctx context.Context, sessionID string, loc *store.Location) error {
	if sessionID == "" || !loc.Valid() || loc.Position.Direction == "" {
		return nil
	}
	return e.locations.SetLocation(ctx, sessionID, *loc)
}

// IsBlocked reports whether the point is solid on mapName.
func (e *Engine) IsBlocked(mapName string, x, y float64) bool {
	if e.collider == nil {
		return false
	}
	return e.collider.IsBlocked(mapName, x, y)
}

var diagonal = 1 / math.Sqrt2

// unit vectors in screen space, y down
var steps = map[store.Direction][2]float64{
	store.DirUp:        {0, -1},
	store.DirDown:      {0, 1},
	store.DirLeft:      {-1, 0},
	store.DirRight:     {1, 0},
	store.DirUpLeft:    {-diagonal, -diagonal},
	store.DirUpRight:   {diagonal, -diagonal},
	store.DirDownLeft:  {-diagonal, diagonal},
	store.DirDownRight: {diagonal, diagonal},
}

// Step moves loc one step of distance along dir. The facing always turns to
// dir; the position only changes when the target point is open or noclip
// is set. ok reports whether the position moved.
func (e *Engine) Step(loc store.Location, dir store.Direction, distance float64, noclip bool) (next store.Location, ok bool) {
	v, known := steps[dir]
	if !known || !loc.Valid() {
		return loc, false
	}
	next = loc
	next.Position.Direction = dir
	x := loc.Position.X + v[0]*distance
	y := loc.Position.Y + v[1]*distance
	if !noclip && e.IsBlocked(loc.Map, x, y) {
		return next, false
	}
	next.Position.X, next.Position.Y = x, y
	return next, true
}
