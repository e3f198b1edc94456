package rules

import (
	"math"
	"strings"

	"realmsync/store"
)

// Facing reports whether a bearing in degrees (atan2 of dy, dx with y
// growing downward) lies inside the window of dir.
type Facing func(dir store.Direction, bearing float64) bool

const facingHalfWidth = 22.5

var directionCentres = map[store.Direction]float64{
	store.DirRight:     0,
	store.DirDownRight: 45,
	store.DirDown:      90,
	store.DirDownLeft:  135,
	store.DirLeft:      180,
	store.DirUpLeft:    -135,
	store.DirUp:        -90,
	store.DirUpRight:   -45,
}

// SymmetricFacing gives every direction a 45 degree window centred on it,
// open at both ends. The eight windows partition the circle.
func SymmetricFacing(dir store.Direction, bearing float64) bool {
	centre, ok := directionCentres[dir]
	if !ok {
		return false
	}
	return math.Abs(math.Remainder(bearing-centre, 360)) < facingHalfWidth
}

// LegacyFacing keeps the historical windows. upright repeats up, downright
// repeats down, upleft and downleft only cover the left half of left.
func LegacyFacing(dir store.Direction, a float64) bool {
	switch dir {
	case store.DirUp, store.DirUpRight:
		return a > -135 && a < -45
	case store.DirDown, store.DirDownRight:
		return a > 45 && a < 135
	case store.DirLeft:
		return a > 135 || a < -135
	case store.DirRight:
		return a > -45 && a < 45
	case store.DirUpLeft:
		return a > 135 || (a > -180 && a < -135)
	case store.DirDownLeft:
		return a > 135 && a < 180
	}
	return false
}

// ParseFacing maps a config name to a policy. Unknown names are symmetric.
func ParseFacing(name string) Facing {
	if strings.EqualFold(strings.TrimSpace(name), "legacy") {
		return LegacyFacing
	}
	return SymmetricFacing
}

// Bearing is the angle in degrees from (x0, y0) toward (x1, y1).
func Bearing(x0, y0, x1, y1 float64) float64 {
	return math.Atan2(y1-y0, x1-x0) * 180 / math.Pi
}
