package server

import (
	"realmsync/protocol"
	"realmsync/store"
)

// Input is a movement intent. The room applies it on its next tick so
// only the tick goroutine ever moves a player.
type Input struct {
	PlayerID  string
	Direction store.Direction
	Abort     bool
	// Teleport, when set, places the player without a collision check.
	Teleport *protocol.Point
}
