package server

import (
	"sync"
	"time"

	"realmsync/protocol"
	"realmsync/rules"
	"realmsync/store"
)

// Conn is the send side of one client connection.
type Conn interface {
	ID() string
	// Send queues a frame without blocking. false means it was dropped.
	Send(frame []byte) bool
	Close()
}

// Player is the authoritative in-memory state of one active session.
// ID is the connection id, which is also the bound session id.
type Player struct {
	ID       string
	Username string
	Admin    bool

	conn Conn

	mu        sync.Mutex
	location  store.Location
	stats     store.Stats
	config    store.ClientConfig
	stealth   bool
	noclip    bool
	moving    store.Direction
	lastInput time.Time
	target    string
	chat      string
	chatSeq   uint64
}

func newPlayer(conn Conn, acc *store.Account, loc store.Location, stats store.Stats, cfg store.ClientConfig) *Player {
	return &Player{
		ID:       conn.ID(),
		Username: acc.Username,
		Admin:    acc.IsAdmin(),
		conn:     conn,
		location: loc,
		stats:    stats,
		config:   cfg,
		stealth:  acc.Stealth,
	}
}

func (p *Player) Location() store.Location {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location
}

func (p *Player) setLocation(loc store.Location) {
	p.mu.Lock()
	p.location = loc
	p.mu.Unlock()
}

func (p *Player) Stats() store.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// applyDamage subtracts amount as one step. wasAlive is false when p was
// already defeated; nothing changes then.
func (p *Player) applyDamage(amount int) (stats store.Stats, defeated, wasAlive bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stats.Defeated() {
		return p.stats, true, false
	}
	p.stats, defeated = rules.ApplyDamage(p.stats, amount)
	return p.stats, defeated, true
}

// revive restores a defeated player. ok is false when p was alive.
func (p *Player) revive() (stats store.Stats, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stats.Defeated() {
		return p.stats, false
	}
	p.stats = rules.Revive(p.stats)
	return p.stats, true
}

func (p *Player) ClientConfig() store.ClientConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

func (p *Player) setClientConfig(cfg store.ClientConfig) {
	p.mu.Lock()
	p.config = cfg
	p.mu.Unlock()
}

func (p *Player) Stealth() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stealth
}

func (p *Player) setStealth(v bool) {
	p.mu.Lock()
	p.stealth = v
	p.mu.Unlock()
}

func (p *Player) Noclip() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.noclip
}

func (p *Player) toggleNoclip() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noclip = !p.noclip
	return p.noclip
}

// Moving returns the current continuous movement direction, empty when idle.
func (p *Player) Moving() store.Direction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moving
}

func (p *Player) startMoving(dir store.Direction, now time.Time) {
	p.mu.Lock()
	p.moving = dir
	p.lastInput = now
	p.mu.Unlock()
}

// stopMoving reports whether the player was moving.
func (p *Player) stopMoving() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	was := p.moving != ""
	p.moving = ""
	return was
}

func (p *Player) idleSince(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.lastInput)
}

func (p *Player) Target() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

func (p *Player) setTarget(id string) {
	p.mu.Lock()
	p.target = id
	p.mu.Unlock()
}

// clearTargetIf drops the selection when it points at id.
func (p *Player) clearTargetIf(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.target != id {
		return false
	}
	p.target = ""
	return true
}

func (p *Player) Chat() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chat
}

// setChat stores the line and returns its sequence number for expiry.
func (p *Player) setChat(msg string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chatSeq++
	p.chat = msg
	return p.chatSeq
}

// expireChat clears the line unless a newer one replaced it.
func (p *Player) expireChat(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chatSeq != seq {
		return false
	}
	p.chat = ""
	return true
}

// CanSee reports whether p is shown other.
func (p *Player) CanSee(other *Player) bool {
	return p == other || p.Admin || !other.Stealth()
}

// State is the snapshot other clients render.
func (p *Player) State() protocol.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return protocol.PlayerState{
		ID:        p.ID,
		Username:  p.Username,
		Location:  protocol.FromLocation(p.location),
		Stats:     p.stats,
		IsAdmin:   p.Admin,
		IsStealth: p.stealth,
		Chat:      p.chat,
	}
}

// Combatant is the rules view of p.
func (p *Player) Combatant() *rules.Combatant {
	p.mu.Lock()
	defer p.mu.Unlock()
	loc := p.location
	stats := p.stats
	return &rules.Combatant{
		ID:       p.ID,
		Username: p.Username,
		Location: &loc,
		Stats:    &stats,
		Stealth:  p.stealth,
	}
}

func (p *Player) send(frame []byte) bool {
	if p.conn == nil {
		return false
	}
	return p.conn.Send(frame)
}
