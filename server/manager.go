package server

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"realmsync/rules"
)

// RoomManager owns one Room per map, created on first entry.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	cfg     RoomConfig
	engine  *rules.Engine
	metrics *Metrics
	log     *zap.Logger
	tick    bool
}

// NewRoomManager builds rooms with cfg. With autoTick false rooms are only
// advanced by explicit Tick calls.
func NewRoomManager(cfg RoomConfig, engine *rules.Engine, metrics *Metrics, log *zap.Logger, autoTick bool) *RoomManager {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &RoomManager{
		rooms:   make(map[string]*Room),
		cfg:     cfg,
		engine:  engine,
		metrics: metrics,
		log:     log.Named("rooms"),
		tick:    autoTick,
	}
}

// GetOrCreateRoom returns the room for mapName, starting its ticker.
func (m *RoomManager) GetOrCreateRoom(mapName string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[mapName]
	if !ok {
		r = NewRoom(mapName, m.cfg, m.engine, m.metrics, m.log)
		m.rooms[mapName] = r
		if m.tick {
			r.StartTicker()
		}
		m.log.Debug("room created", zap.String("map", mapName))
	}
	return r
}

func (m *RoomManager) Room(mapName string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[mapName]
	return r, ok
}

// Rooms returns every room sorted by map name.
func (m *RoomManager) Rooms() []*Room {
	m.mu.RLock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Map < out[j].Map })
	return out
}

// FindByUsername returns the active player for username and its room.
func (m *RoomManager) FindByUsername(username string) (*Player, *Room) {
	for _, r := range m.Rooms() {
		for _, p := range r.Players() {
			if p.Username == username {
				return p, r
			}
		}
	}
	return nil, nil
}

// Count is the number of active players across all rooms.
func (m *RoomManager) Count() int {
	n := 0
	for _, r := range m.Rooms() {
		n += r.Count()
	}
	return n
}

// BroadcastAll sends frame to every active player.
func (m *RoomManager) BroadcastAll(frame []byte) {
	for _, r := range m.Rooms() {
		r.Broadcast(frame, nil)
	}
}

func (m *RoomManager) Stop() {
	for _, r := range m.Rooms() {
		r.Stop()
	}
}
