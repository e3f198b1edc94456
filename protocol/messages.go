// Package protocol defines the JSON envelope exchanged over the realm
// websocket and the payload of every message type.
package protocol

import "realmsync/store"

// Type names a message. Values are the wire strings.
type Type string

// Handshake and session
const (
	TypePing         Type = "PING"
	TypePong         Type = "PONG"
	TypeLogin        Type = "LOGIN"
	TypeLoginSuccess Type = "LOGIN_SUCCESS"
	TypeLoginFailed  Type = "LOGIN_FAILED"
	TypeAuth         Type = "AUTH"
	TypeLogout       Type = "LOGOUT"
	TypeTimeSync     Type = "TIME_SYNC"
)

// World presence
const (
	TypeSpawnPlayer      Type = "SPAWN_PLAYER"
	TypeLoadPlayers      Type = "LOAD_PLAYERS"
	TypeDisconnectPlayer Type = "DISCONNECT_PLAYER"
	TypeConnectionCount  Type = "CONNECTION_COUNT"
	TypeMoveXY           Type = "MOVEXY"
	TypeTeleportXY       Type = "TELEPORTXY"
)

// Combat and targeting
const (
	TypeAttack        Type = "ATTACK"
	TypeTargetClosest Type = "TARGETCLOSEST"
	TypeSelectPlayer  Type = "SELECTPLAYER"
	TypeUpdateStats   Type = "UPDATESTATS"
	TypeRevive        Type = "REVIVE"
	TypeStats         Type = "STATS"
	TypeInspectPlayer Type = "INSPECTPLAYER"
)

// Admin, chat and settings
const (
	TypeStealth      Type = "STEALTH"
	TypeNoclip       Type = "NOCLIP"
	TypeChat         Type = "CHAT"
	TypeClientConfig Type = "CLIENTCONFIG"
	TypeCommand      Type = "COMMAND"
	TypeNotify       Type = "NOTIFY"
)

// MoveAbort is the MOVEXY data that stops continuous movement.
const MoveAbort = "ABORT"

// PlayerLocation is the flat location shape clients render from.
type PlayerLocation struct {
	Map       string          `json:"map"`
	X         float64         `json:"x"`
	Y         float64         `json:"y"`
	Direction store.Direction `json:"direction"`
}

func FromLocation(loc store.Location) PlayerLocation {
	return PlayerLocation{
		Map:       loc.Map,
		X:         loc.Position.X,
		Y:         loc.Position.Y,
		Direction: loc.Position.Direction,
	}
}

// PlayerState is one player as seen by others (SPAWN_PLAYER, LOAD_PLAYERS).
type PlayerState struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	Location  PlayerLocation `json:"location"`
	Stats     store.Stats    `json:"stats"`
	IsAdmin   bool           `json:"isAdmin"`
	IsStealth bool           `json:"isStealth"`
	Chat      string         `json:"chat,omitempty"`
}

// MoveUpdate is the outbound MOVEXY payload. Data is a Point or "abort".
type MoveUpdate struct {
	ID   string `json:"id"`
	Data any    `json:"_data"`
}

const moveAborted = "abort"

func MoveTo(id string, loc store.Location) MoveUpdate {
	return MoveUpdate{ID: id, Data: Point{X: loc.Position.X, Y: loc.Position.Y, Direction: loc.Position.Direction}}
}

func MoveStopped(id string) MoveUpdate {
	return MoveUpdate{ID: id, Data: moveAborted}
}

// Point is a position, optionally with facing.
type Point struct {
	X         float64         `json:"x"`
	Y         float64         `json:"y"`
	Direction store.Direction `json:"direction,omitempty"`
}

// TargetRef identifies a player in ATTACK requests.
type TargetRef struct {
	ID string `json:"id"`
}

// SelectedPlayer is the SELECTPLAYER reply. A nil *SelectedPlayer deselects.
type SelectedPlayer struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Stats    store.Stats `json:"stats"`
}

// StatsUpdate carries UPDATESTATS and REVIVE.
type StatsUpdate struct {
	Target string      `json:"target"`
	Stats  store.Stats `json:"stats"`
}

// OwnStats is the STATS payload sent to the owning client.
type OwnStats struct {
	ID string `json:"id"`
	store.Stats
}

// Inspect is the INSPECTPLAYER reply.
type Inspect struct {
	ID    string      `json:"id"`
	Stats store.Stats `json:"stats"`
}

type StealthUpdate struct {
	ID        string `json:"id"`
	IsStealth bool   `json:"isStealth"`
}

type NoclipUpdate struct {
	ID     string `json:"id"`
	Noclip bool   `json:"noclip"`
}

// ChatRequest is inbound CHAT. Mode "decrypt" marks an encrypted message.
type ChatRequest struct {
	Message string `json:"message"`
	Mode    string `json:"mode"`
}

const ChatModeDecrypt = "decrypt"

type ChatMessage struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// ClientConfigUpdate is inbound CLIENTCONFIG; absent fields keep their value.
type ClientConfigUpdate struct {
	FPS           *int    `json:"fps"`
	MusicVolume   *int    `json:"music_volume"`
	EffectsVolume *int    `json:"effects_volume"`
	Muted         *bool   `json:"muted"`
	Language      *string `json:"language"`
}

type CommandRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type Notify struct {
	Message string `json:"message"`
}
