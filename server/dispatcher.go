package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"realmsync/config"
	"realmsync/protocol"
	"realmsync/rules"
	"realmsync/session"
	"realmsync/store"
)

// State is the lifecycle of one connection.
type State int32

const (
	StateConnected State = iota
	StateAuthenticating
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// ChatDecoder turns an encrypted chat line back into text.
type ChatDecoder interface {
	Decode(sessionID, message string) (string, error)
}

// Options are the gameplay settings the dispatcher needs.
type Options struct {
	Spawn         store.Location
	TargetRange   float64
	SelectRadius  float64
	ChatBaseTTL   time.Duration
	ChatPerChar   time.Duration
	ChatMaxLength int
	ReviveDelay   time.Duration
}

// OptionsFromConfig maps the loaded config onto dispatcher options. An
// unknown spawn direction falls back to down.
func OptionsFromConfig(cfg *config.Config) Options {
	dir, ok := store.ParseDirection(cfg.Spawn.Direction)
	if !ok {
		dir = store.DirDown
	}
	return Options{
		Spawn: store.Location{
			Map:      cfg.Spawn.Map,
			Position: store.Position{X: cfg.Spawn.X, Y: cfg.Spawn.Y, Direction: dir},
		},
		TargetRange:   cfg.Targeting.Range,
		SelectRadius:  cfg.Targeting.SelectRadius,
		ChatBaseTTL:   cfg.Chat.BaseTTL,
		ChatPerChar:   cfg.Chat.PerChar,
		ChatMaxLength: cfg.Chat.MaxLength,
		ReviveDelay:   cfg.Combat.ReviveDelay,
	}
}

// Client is one connection and the player it authenticated as.
type Client struct {
	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
	once   sync.Once

	mu     sync.Mutex
	bound  bool
	player *Player
	room   *Room
}

func (c *Client) ID() string { return c.conn.ID() }

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// Player returns the active player, nil before AUTH succeeds.
func (c *Client) Player() (*Player, *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player, c.room
}

// Dispatcher routes inbound frames to the session, rules and room layers.
type Dispatcher struct {
	registry *session.Registry
	store    store.Store
	engine   *rules.Engine
	rooms    *RoomManager
	keys     KeyIssuer
	chat     ChatDecoder
	metrics  *Metrics
	opts     Options
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithChatDecoder enables CHAT messages sent with mode "decrypt".
func WithChatDecoder(dec ChatDecoder) DispatcherOption {
	return func(d *Dispatcher) { d.chat = dec }
}

// WithKeyIssuer sets where LOGIN_SUCCESS public keys come from.
func WithKeyIssuer(k KeyIssuer) DispatcherOption {
	return func(d *Dispatcher) { d.keys = k }
}

// WithMetrics shares counters with the rooms and HTTP routes.
func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// NewDispatcher wires the protocol state machine to its collaborators.
func NewDispatcher(reg *session.Registry, st store.Store, engine *rules.Engine, rooms *RoomManager, opts Options, log *zap.Logger, options ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		registry: reg,
		store:    st,
		engine:   engine,
		rooms:    rooms,
		metrics:  NewMetrics(),
		opts:     opts,
		log:      log.Named("dispatcher"),
		clients:  make(map[string]*Client),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// Connect registers a new connection.
func (d *Dispatcher) Connect(conn Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{conn: conn, ctx: ctx, cancel: cancel}
	c.setState(StateConnected)
	d.mu.Lock()
	d.clients[conn.ID()] = c
	d.mu.Unlock()
	d.log.Debug("connected", zap.String("conn", conn.ID()))
	return c
}

// Kick closes the connection bound to sessionID. Its read loop then runs
// Disconnect.
func (d *Dispatcher) Kick(sessionID string) {
	d.mu.RLock()
	c, ok := d.clients[sessionID]
	d.mu.RUnlock()
	if !ok {
		return
	}
	c.cancel()
	c.conn.Close()
}

// Clients is the number of open connections, authenticated or not.
func (d *Dispatcher) Clients() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.clients)
}

func (d *Dispatcher) send(c *Client, t protocol.Type, data any) {
	frame, err := protocol.Encode(t, data)
	if err != nil {
		d.log.Error("encode", zap.String("type", string(t)), zap.Error(err))
		return
	}
	if !c.conn.Send(frame) {
		d.metrics.SendDropped.Add(1)
	}
}

// Handle processes one inbound frame. Calls for a client must come from a
// single goroutine, in arrival order.
func (d *Dispatcher) Handle(c *Client, raw []byte) {
	if c.State() == StateDisconnected {
		return
	}
	env, err := protocol.Decode(raw)
	if err != nil {
		d.metrics.Malformed.Add(1)
		d.log.Debug("malformed frame", zap.String("conn", c.ID()), zap.Error(err))
		return
	}

	switch env.Type {
	case protocol.TypePing:
		d.send(c, protocol.TypePong, nil)
		return
	case protocol.TypeLogin:
		d.handleLogin(c)
		return
	case protocol.TypeAuth:
		d.handleAuth(c, env)
		return
	}

	p, room := c.Player()
	if c.State() != StateActive || p == nil {
		d.log.Debug("ignored before auth", zap.String("conn", c.ID()), zap.String("type", string(env.Type)))
		return
	}
	d.route(c, p, room, env)
}

func (d *Dispatcher) handleLogin(c *Client) {
	if c.State() == StateActive {
		return
	}
	c.setState(StateAuthenticating)
	var key string
	if d.keys != nil {
		k, err := d.keys.PublicKey(c.ID())
		if err != nil {
			d.log.Error("issue public key", zap.Error(err))
		}
		key = k
	}
	frame, err := protocol.EncodeEnvelope(protocol.TypeLoginSuccess, c.ID(), key)
	if err != nil {
		d.log.Error("encode login success", zap.Error(err))
		return
	}
	c.conn.Send(frame)
}

func (d *Dispatcher) rejectAuth(c *Client, closeConn bool) {
	d.metrics.AuthRejected.Add(1)
	d.send(c, protocol.TypeLoginFailed, nil)
	if closeConn {
		c.cancel()
		c.conn.Close()
	}
}

func (d *Dispatcher) handleAuth(c *Client, env *protocol.Envelope) {
	if c.State() == StateActive {
		return
	}
	c.setState(StateAuthenticating)

	token, err := env.Text()
	if err != nil {
		d.rejectAuth(c, true)
		return
	}
	acc, err := d.registry.ResolveToken(c.ctx, token)
	if err != nil || acc.Banned {
		if err != nil && !session.IsAuthFailure(err) {
			d.log.Error("resolve token", zap.Error(err))
		}
		d.rejectAuth(c, true)
		return
	}

	ok, err := d.registry.BindSession(c.ctx, token, c.ID())
	switch {
	case errors.Is(err, session.ErrSessionClosed):
		return
	case err != nil:
		if !session.IsAuthFailure(err) {
			d.log.Error("bind session", zap.String("username", acc.Username), zap.Error(err))
		}
		d.rejectAuth(c, true)
		return
	case !ok:
		d.metrics.BindRejected.Add(1)
		d.rejectAuth(c, false)
		return
	}
	c.mu.Lock()
	c.bound = true
	c.mu.Unlock()

	p, err := d.loadPlayer(c, acc, env.Language)
	if err != nil {
		d.log.Error("load player", zap.String("username", acc.Username), zap.Error(err))
		d.rejectAuth(c, true)
		return
	}
	room := d.rooms.GetOrCreateRoom(p.Location().Map)
	room.Join(p)

	c.mu.Lock()
	c.player, c.room = p, room
	c.mu.Unlock()
	c.setState(StateActive)
	d.metrics.AuthAccepted.Add(1)

	d.send(c, protocol.TypeClientConfig, []store.ClientConfig{p.ClientConfig()})
	d.send(c, protocol.TypeStats, protocol.OwnStats{ID: p.ID, Stats: p.Stats()})
	visible := room.VisibleTo(p)
	states := make([]protocol.PlayerState, 0, len(visible))
	for _, other := range visible {
		states = append(states, other.State())
	}
	d.send(c, protocol.TypeLoadPlayers, states)
	room.BroadcastAbout(p, protocol.MustEncode(protocol.TypeSpawnPlayer, p.State()), false)
	d.broadcastCount()
	d.send(c, protocol.TypeTimeSync, time.Now().UnixMilli())

	d.log.Info("player active",
		zap.String("username", p.Username), zap.String("session", p.ID), zap.String("map", room.Map))
}

// loadPlayer reads the account's persisted state, writing defaults for
// anything missing.
func (d *Dispatcher) loadPlayer(c *Client, acc *store.Account, language string) (*Player, error) {
	ctx := c.ctx

	var loc store.Location
	stored, err := d.store.GetLocation(ctx, acc.Username)
	switch {
	case err == nil && stored.Valid():
		loc = *stored
		if loc.Position.Direction == "" {
			loc.Position.Direction = d.opts.Spawn.Position.Direction
		}
	case err == nil || errors.Is(err, store.ErrNotFound):
		loc = d.opts.Spawn
		if err := d.store.SetLocation(ctx, c.ID(), loc); err != nil {
			d.log.Warn("persist spawn location", zap.String("username", acc.Username), zap.Error(err))
		}
	default:
		return nil, err
	}

	stats := store.DefaultStats()
	if s, err := d.store.GetStats(ctx, acc.Username); err == nil {
		stats = s.Clamp()
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	switch {
	case !stats.Defeated():
	case d.opts.ReviveDelay <= 0:
		stats = rules.Revive(stats)
		if err := d.store.SetStats(ctx, acc.Username, stats); err != nil {
			d.log.Warn("persist revive", zap.String("username", acc.Username), zap.Error(err))
		}
	default:
		// defeated before a disconnect or restart; the revive applies to
		// this connection once the player has joined
		d.scheduleRevive(acc.Username)
	}

	cfg := store.DefaultClientConfig()
	if stored, err := d.store.GetClientConfig(ctx, acc.Username); err == nil {
		cfg = *stored
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if language != "" && language != cfg.Language {
		cfg.Language = language
		if err := d.store.SetClientConfig(ctx, acc.Username, cfg); err != nil {
			d.log.Warn("persist language", zap.String("username", acc.Username), zap.Error(err))
		}
	}

	return newPlayer(c.conn, acc, loc, stats, cfg), nil
}

func (d *Dispatcher) broadcastCount() {
	d.rooms.BroadcastAll(protocol.MustEncode(protocol.TypeConnectionCount, d.rooms.Count()))
}

// Disconnect tears the connection down. It runs at most once per client.
func (d *Dispatcher) Disconnect(c *Client) {
	c.once.Do(func() {
		c.cancel()
		c.setState(StateDisconnected)

		d.mu.Lock()
		if d.clients[c.ID()] == c {
			delete(d.clients, c.ID())
		}
		d.mu.Unlock()

		c.mu.Lock()
		p, room, bound := c.player, c.room, c.bound
		c.mu.Unlock()
		if d.keys != nil {
			d.keys.Release(c.ID())
		}

		ctx := context.Background()
		if p != nil {
			room.Leave(p.ID)
			p.stopMoving()
			loc := p.Location()
			if err := d.engine.SetLocation(ctx, p.ID, &loc); err != nil {
				d.log.Warn("persist location on disconnect", zap.String("username", p.Username), zap.Error(err))
			}
		}
		if bound {
			if err := d.registry.ClearSessionID(ctx, c.ID()); err != nil {
				d.log.Warn("clear session", zap.String("session", c.ID()), zap.Error(err))
			}
		}
		if p != nil {
			room.BroadcastAbout(p, protocol.MustEncode(protocol.TypeDisconnectPlayer, p.ID), false)
			for _, other := range room.Players() {
				if other.clearTargetIf(p.ID) {
					d.sendPlayer(other, protocol.TypeSelectPlayer, nil)
				}
			}
			d.broadcastCount()
			d.log.Info("player left", zap.String("username", p.Username), zap.String("session", p.ID))
		}
		c.conn.Close()
	})
}

func (d *Dispatcher) sendPlayer(p *Player, t protocol.Type, data any) {
	frame, err := protocol.Encode(t, data)
	if err != nil {
		d.log.Error("encode", zap.String("type", string(t)), zap.Error(err))
		return
	}
	if !p.send(frame) {
		d.metrics.SendDropped.Add(1)
	}
}
