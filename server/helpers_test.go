package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"realmsync/collision"
	"realmsync/protocol"
	"realmsync/rules"
	"realmsync/session"
	"realmsync/store"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(b []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.frames = append(f.frames, b)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// received decodes every frame of type t, oldest first.
func (f *fakeConn) received(t *testing.T, typ protocol.Type) []*protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	frames := append([][]byte(nil), f.frames...)
	f.mu.Unlock()
	var out []*protocol.Envelope
	for _, raw := range frames {
		env, err := protocol.Decode(raw)
		if err != nil {
			t.Fatalf("server sent undecodable frame %s: %v", raw, err)
		}
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeConn) types(t *testing.T) []protocol.Type {
	t.Helper()
	f.mu.Lock()
	frames := append([][]byte(nil), f.frames...)
	f.mu.Unlock()
	out := make([]protocol.Type, 0, len(frames))
	for _, raw := range frames {
		env, err := protocol.Decode(raw)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, env.Type)
	}
	return out
}

// last binds the data of the newest frame of type typ into v.
func (f *fakeConn) last(t *testing.T, typ protocol.Type, v any) bool {
	t.Helper()
	envs := f.received(t, typ)
	if len(envs) == 0 {
		return false
	}
	env := envs[len(envs)-1]
	if v != nil {
		if err := json.Unmarshal(env.Data, v); err != nil {
			t.Fatalf("%s data %s: %v", typ, env.Data, err)
		}
	}
	return true
}

type harness struct {
	t        *testing.T
	store    *store.Memory
	registry *session.Registry
	engine   *rules.Engine
	maps     *collision.Index
	keys     *X25519Keys
	rooms    *RoomManager
	metrics  *Metrics
	d        *Dispatcher
}

func testOptions() Options {
	return Options{
		Spawn:         store.Location{Map: "main", Position: store.Position{X: 0, Y: 0, Direction: store.DirDown}},
		TargetRange:   100,
		SelectRadius:  32,
		ChatBaseTTL:   time.Hour,
		ChatMaxLength: 16,
	}
}

func newHarness(t *testing.T, mutate func(*Options), engineOpts ...rules.Option) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	mem := store.NewMemory()
	reg := session.NewRegistry(mem, session.NewBcrypt(4), log)
	maps := collision.NewIndex(zap.NewNop())
	engine := rules.NewEngine(mem, maps, log, engineOpts...)
	metrics := NewMetrics()
	rooms := NewRoomManager(RoomConfig{Step: 8}, engine, metrics, log, false)

	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	keys := NewX25519Keys()
	d := NewDispatcher(reg, mem, engine, rooms, opts, log, WithMetrics(metrics), WithKeyIssuer(keys))
	reg.SetKicker(d)
	return &harness{t: t, store: mem, registry: reg, engine: engine, maps: maps, keys: keys, rooms: rooms, metrics: metrics, d: d}
}

// account registers and logs in name, returning its token.
func (h *harness) account(name string, admin bool, loc *store.Location) string {
	h.t.Helper()
	ctx := context.Background()
	if _, err := h.registry.Register(ctx, name, "Secret123", name+"@realm.test", session.Meta{}); err != nil {
		h.t.Fatalf("Register(%s): %v", name, err)
	}
	if admin {
		if err := h.store.SetRole(name, store.RoleAdmin); err != nil {
			h.t.Fatal(err)
		}
	}
	if loc != nil {
		if err := h.store.PutLocation(name, *loc); err != nil {
			h.t.Fatal(err)
		}
	}
	token, err := h.registry.Login(ctx, name, "Secret123")
	if err != nil {
		h.t.Fatalf("Login(%s): %v", name, err)
	}
	return token
}

func (h *harness) connect(id string) (*Client, *fakeConn) {
	conn := &fakeConn{id: id}
	return h.d.Connect(conn), conn
}

func (h *harness) send(c *Client, typ protocol.Type, data any) {
	h.t.Helper()
	h.d.Handle(c, protocol.MustEncode(typ, data))
}

func (h *harness) auth(c *Client, token string) {
	h.t.Helper()
	h.send(c, protocol.TypePing, nil)
	h.send(c, protocol.TypeLogin, nil)
	h.send(c, protocol.TypeAuth, token)
}

// join creates an account and brings it to the active state on
// connection "sid-<name>".
func (h *harness) join(name string, admin bool, loc *store.Location) (*Client, *fakeConn) {
	h.t.Helper()
	token := h.account(name, admin, loc)
	c, conn := h.connect("sid-" + name)
	h.auth(c, token)
	if c.State() != StateActive {
		h.t.Fatalf("%s state = %s after AUTH, frames %v", name, c.State(), conn.types(h.t))
	}
	return c, conn
}

func at(x, y float64, dir store.Direction) *store.Location {
	return &store.Location{Map: "main", Position: store.Position{X: x, Y: y, Direction: dir}}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
