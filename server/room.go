package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"realmsync/protocol"
	"realmsync/rules"
	"realmsync/store"
)

// Room is the world of one map. Occupants may be read from any goroutine;
// movement only advances on the tick.
type Room struct {
	Map string

	mu      sync.RWMutex
	players map[string]*Player
	step    float64

	inputs    chan Input
	idleAbort time.Duration
	interval  time.Duration

	engine  *rules.Engine
	metrics *Metrics
	log     *zap.Logger

	tickSeq  uint64
	started  bool
	stop     chan struct{}
	stopOnce sync.Once
}

// RoomConfig holds the movement settings shared by every room.
type RoomConfig struct {
	Step      float64
	Interval  time.Duration
	IdleAbort time.Duration
}

// NewRoom builds an idle room; StartTicker begins the tick loop. Nil
// metrics and log get private defaults.
func NewRoom(mapName string, cfg RoomConfig, engine *rules.Engine, metrics *Metrics, log *zap.Logger) *Room {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Room{
		Map:       mapName,
		players:   make(map[string]*Player),
		step:      cfg.Step,
		inputs:    make(chan Input, 256),
		idleAbort: cfg.IdleAbort,
		interval:  cfg.Interval,
		engine:    engine,
		metrics:   metrics,
		log:       log.With(zap.String("map", mapName)),
		stop:      make(chan struct{}),
	}
}

func (r *Room) Join(p *Player) {
	r.mu.Lock()
	r.players[p.ID] = p
	r.mu.Unlock()
}

// Leave removes the player and returns it, or nil when absent.
func (r *Room) Leave(id string) *Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return nil
	}
	delete(r.players, id)
	return p
}

func (r *Room) Get(id string) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	return p, ok
}

// Players returns a snapshot of the occupants.
func (r *Room) Players() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	return out
}

func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func (r *Room) Step() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.step
}

func (r *Room) SetStep(v float64) {
	r.mu.Lock()
	r.step = v
	r.mu.Unlock()
}

// VisibleTo lists the other occupants viewer may see.
func (r *Room) VisibleTo(viewer *Player) []*Player {
	var out []*Player
	for _, p := range r.Players() {
		if p != viewer && viewer.CanSee(p) {
			out = append(out, p)
		}
	}
	return out
}

// Broadcast sends frame to every occupant accepted by filter (nil = all).
func (r *Room) Broadcast(frame []byte, filter func(*Player) bool) {
	for _, p := range r.Players() {
		if filter != nil && !filter(p) {
			continue
		}
		if !p.send(frame) {
			r.metrics.SendDropped.Add(1)
		}
	}
}

// BroadcastAbout sends frame to the occupants allowed to see subject.
func (r *Room) BroadcastAbout(subject *Player, frame []byte, includeSelf bool) {
	r.Broadcast(frame, func(p *Player) bool {
		if p == subject {
			return includeSelf
		}
		return p.CanSee(subject)
	})
}

// OnInput queues an intent for the next tick. A full queue drops it.
func (r *Room) OnInput(in Input) {
	select {
	case r.inputs <- in:
	default:
		r.metrics.InputsDropped.Add(1)
	}
}

// ProcessInputs drains queued intents.
func (r *Room) ProcessInputs(now time.Time) {
	for {
		select {
		case in := <-r.inputs:
			r.applyInput(in, now)
		default:
			return
		}
	}
}

func (r *Room) applyInput(in Input, now time.Time) {
	p, ok := r.Get(in.PlayerID)
	if !ok {
		return
	}
	switch {
	case in.Teleport != nil:
		loc := p.Location()
		loc.Position.X, loc.Position.Y = in.Teleport.X, in.Teleport.Y
		r.moved(p, loc)
	case in.Abort:
		if p.stopMoving() {
			r.BroadcastAbout(p, protocol.MustEncode(protocol.TypeMoveXY, protocol.MoveStopped(p.ID)), true)
		}
	case in.Direction != "":
		p.startMoving(in.Direction, now)
	}
}

// UpdateWorld steps every moving player once.
func (r *Room) UpdateWorld(now time.Time) {
	step := r.Step()
	for _, p := range r.Players() {
		dir := p.Moving()
		if dir == "" {
			continue
		}
		if r.idleAbort > 0 && p.idleSince(now) >= r.idleAbort {
			p.stopMoving()
			r.BroadcastAbout(p, protocol.MustEncode(protocol.TypeMoveXY, protocol.MoveStopped(p.ID)), true)
			continue
		}
		loc := p.Location()
		next, ok := r.engine.Step(loc, dir, step, p.Noclip())
		if ok {
			r.metrics.MovesApplied.Add(1)
		} else {
			r.metrics.MovesBlocked.Add(1)
		}
		if next != loc {
			r.moved(p, next)
		}
	}
}

// moved commits a new location, tells the room and persists it. A player
// that left since the tick snapshot is skipped, so no MOVEXY can follow its
// DISCONNECT_PLAYER.
func (r *Room) moved(p *Player, loc store.Location) {
	frame := protocol.MustEncode(protocol.TypeMoveXY, protocol.MoveTo(p.ID, loc))
	r.mu.RLock()
	present := r.players[p.ID] == p
	if present {
		p.setLocation(loc)
		for _, other := range r.players {
			if other != p && !other.CanSee(p) {
				continue
			}
			if !other.send(frame) {
				r.metrics.SendDropped.Add(1)
			}
		}
	}
	r.mu.RUnlock()
	if !present {
		return
	}
	if err := r.engine.SetLocation(context.Background(), p.ID, &loc); err != nil {
		r.log.Warn("persist location", zap.String("player", p.Username), zap.Error(err))
	}
}
