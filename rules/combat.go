package rules

import (
	"math"

	"realmsync/store"
)

// Combatant is the transient view of one player used for a single check.
type Combatant struct {
	ID       string
	Username string
	Location *store.Location
	Stats    *store.Stats
	Stealth  bool
}

// DamageFunc computes the damage an attack deals.
type DamageFunc func(attacker, target *Combatant) int

// FixedDamage always deals n.
func FixedDamage(n int) DamageFunc {
	return func(_, _ *Combatant) int { return n }
}

// CanAttack reports whether attacker may hit target right now.
func (e *Engine) CanAttack(attacker, target *Combatant) bool {
	if attacker == nil || target == nil {
		return false
	}
	if attacker.ID == target.ID {
		return false
	}
	if attacker.Stats == nil || attacker.Stats.Health <= 0 {
		return false
	}
	if !attacker.Location.Valid() || !target.Location.Valid() || attacker.Location.Map != target.Location.Map {
		return false
	}
	if attacker.Stealth || target.Stealth {
		return false
	}
	from, to := attacker.Location.Position, target.Location.Position
	return e.facing(from.Direction, Bearing(from.X, from.Y, to.X, to.Y))
}

// Damage returns the damage attacker deals to target.
func (e *Engine) Damage(attacker, target *Combatant) int {
	return e.damage(attacker, target)
}

// ApplyDamage subtracts amount and clamps. defeated is true when health
// reaches zero.
func ApplyDamage(stats store.Stats, amount int) (next store.Stats, defeated bool) {
	if amount < 0 {
		amount = 0
	}
	stats.Health -= amount
	next = stats.Clamp()
	return next, next.Defeated()
}

// Revive restores health and stamina to their maxima.
func Revive(stats store.Stats) store.Stats {
	stats.Health = stats.MaxHealth
	stats.Stamina = stats.MaxStamina
	return stats.Clamp()
}

// FindClosestPlayer returns the nearest visible candidate on self's map
// strictly within maxRange. Ties keep the earliest candidate.
func FindClosestPlayer(self *Combatant, candidates []*Combatant, maxRange float64) *Combatant {
	if self == nil || !self.Location.Valid() {
		return nil
	}
	p := self.Location.Position
	return ClosestTo(self.Location.Map, p.X, p.Y, self.ID, candidates, maxRange)
}

// ClosestTo finds the nearest visible candidate to a point, skipping the
// candidate whose ID is exclude.
func ClosestTo(mapName string, x, y float64, exclude string, candidates []*Combatant, maxRange float64) *Combatant {
	var closest *Combatant
	best := maxRange
	for _, c := range candidates {
		if c == nil || c.Stealth || (exclude != "" && c.ID == exclude) {
			continue
		}
		if !c.Location.Valid() || c.Location.Map != mapName {
			continue
		}
		d := math.Hypot(c.Location.Position.X-x, c.Location.Position.Y-y)
		if d < best {
			best = d
			closest = c
		}
	}
	return closest
}
