package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"realmsync/protocol"
	"realmsync/rules"
	"realmsync/session"
	"realmsync/store"
)

func TestDispatcher_PingBeforeAuth(t *testing.T) {
	h := newHarness(t, nil)
	c, conn := h.connect("sid-1")

	h.send(c, protocol.TypePing, nil)

	if got := conn.types(t); len(got) != 1 || got[0] != protocol.TypePong {
		t.Fatalf("frames = %v, want [PONG]", got)
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %s", c.State())
	}
}

func TestDispatcher_LoginSuccessCarriesConnectionID(t *testing.T) {
	h := newHarness(t, nil)
	c, conn := h.connect("sid-1")

	h.send(c, protocol.TypeLogin, nil)

	envs := conn.received(t, protocol.TypeLoginSuccess)
	if len(envs) != 1 {
		t.Fatalf("LOGIN_SUCCESS frames = %d", len(envs))
	}
	id, err := envs[0].Text()
	if err != nil || id != "sid-1" {
		t.Fatalf("LOGIN_SUCCESS data = %q, %v", id, err)
	}
	if envs[0].PublicKey == "" {
		t.Fatal("LOGIN_SUCCESS without publicKey")
	}
	if c.State() != StateAuthenticating {
		t.Fatalf("state = %s", c.State())
	}
}

func TestDispatcher_AuthActivates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	alice, aliceConn := h.join("alice", false, nil)

	want := []protocol.Type{
		protocol.TypePong, protocol.TypeLoginSuccess,
		protocol.TypeClientConfig, protocol.TypeStats, protocol.TypeLoadPlayers,
		protocol.TypeConnectionCount, protocol.TypeTimeSync,
	}
	got := aliceConn.types(t)
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %s, want %s (all %v)", i, got[i], want[i], got)
		}
	}

	var cfgs []store.ClientConfig
	aliceConn.last(t, protocol.TypeClientConfig, &cfgs)
	if len(cfgs) != 1 || cfgs[0] != store.DefaultClientConfig() {
		t.Fatalf("CLIENTCONFIG = %+v", cfgs)
	}
	var own struct {
		ID     string `json:"id"`
		Health int    `json:"health"`
	}
	aliceConn.last(t, protocol.TypeStats, &own)
	if own.ID != "sid-alice" || own.Health != 100 {
		t.Fatalf("STATS = %+v", own)
	}
	var others []protocol.PlayerState
	aliceConn.last(t, protocol.TypeLoadPlayers, &others)
	if len(others) != 0 {
		t.Fatalf("LOAD_PLAYERS = %+v, want empty", others)
	}

	acc, err := h.store.FindBySession(ctx, "sid-alice")
	if err != nil || !acc.Online {
		t.Fatalf("bound account = %+v, %v", acc, err)
	}
	loc, err := h.store.GetLocation(ctx, "alice")
	if err != nil || *loc != testOptions().Spawn {
		t.Fatalf("spawn location = %+v, %v", loc, err)
	}
	if p, _ := alice.Player(); p == nil || p.Username != "alice" {
		t.Fatalf("player = %+v", p)
	}

	// A second player sees alice and alice sees them spawn.
	_, bobConn := h.join("bob", false, nil)
	bobConn.last(t, protocol.TypeLoadPlayers, &others)
	if len(others) != 1 || others[0].ID != "sid-alice" || others[0].Location.Map != "main" {
		t.Fatalf("bob LOAD_PLAYERS = %+v", others)
	}
	var spawned protocol.PlayerState
	if !aliceConn.last(t, protocol.TypeSpawnPlayer, &spawned) || spawned.Username != "bob" {
		t.Fatalf("alice SPAWN_PLAYER = %+v", spawned)
	}
	var count int
	aliceConn.last(t, protocol.TypeConnectionCount, &count)
	if count != 2 {
		t.Fatalf("CONNECTION_COUNT = %d, want 2", count)
	}
}

func TestDispatcher_AuthLanguage(t *testing.T) {
	h := newHarness(t, nil)
	token := h.account("alice", false, nil)
	c, conn := h.connect("sid-alice")

	h.d.Handle(c, []byte(`{"type":"AUTH","data":"`+token+`","language":"fr"}`))

	var cfgs []store.ClientConfig
	conn.last(t, protocol.TypeClientConfig, &cfgs)
	if len(cfgs) != 1 || cfgs[0].Language != "fr" {
		t.Fatalf("CLIENTCONFIG = %+v", cfgs)
	}
	stored, err := h.store.GetClientConfig(context.Background(), "alice")
	if err != nil || stored.Language != "fr" {
		t.Fatalf("stored config = %+v, %v", stored, err)
	}
}

func TestDispatcher_InvalidTokenClosesConnection(t *testing.T) {
	h := newHarness(t, nil)
	c, conn := h.connect("sid-1")

	h.auth(c, "not-a-token")

	if len(conn.received(t, protocol.TypeLoginFailed)) != 1 {
		t.Fatalf("frames = %v, want LOGIN_FAILED", conn.types(t))
	}
	if !conn.isClosed() || c.State() == StateActive {
		t.Fatalf("closed = %v, state = %s", conn.isClosed(), c.State())
	}
}

func TestDispatcher_SecondBindRejectedConnectionStaysOpen(t *testing.T) {
	h := newHarness(t, nil)
	token := h.account("alice", false, nil)
	first, _ := h.connect("sid-1")
	h.auth(first, token)

	second, conn := h.connect("sid-2")
	h.auth(second, token)

	if len(conn.received(t, protocol.TypeLoginFailed)) != 1 {
		t.Fatalf("frames = %v, want LOGIN_FAILED", conn.types(t))
	}
	if conn.isClosed() {
		t.Fatal("rejected bind closed the connection")
	}
	if second.State() != StateAuthenticating {
		t.Fatalf("state = %s, want authenticating", second.State())
	}
	if h.metrics.BindRejected.Load() != 1 {
		t.Fatalf("bind_rejected = %d", h.metrics.BindRejected.Load())
	}
	acc, _ := h.store.FindByUsername(context.Background(), "alice")
	if acc.SessionID != "sid-1" {
		t.Fatalf("session = %q, want sid-1", acc.SessionID)
	}
}

func TestDispatcher_ConcurrentAuthOneWinner(t *testing.T) {
	h := newHarness(t, nil)
	token := h.account("alice", false, nil)

	const n = 8
	clients := make([]*Client, n)
	for i := range clients {
		clients[i], _ = h.connect("sid-" + string(rune('a'+i)))
	}
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			h.auth(c, token)
		}(c)
	}
	wg.Wait()

	active := 0
	for _, c := range clients {
		if c.State() == StateActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active connections = %d, want 1", active)
	}
	if h.rooms.Count() != 1 {
		t.Fatalf("players = %d, want 1", h.rooms.Count())
	}
}

func TestDispatcher_DisconnectKeepsTokenForReauth(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	token := h.account("alice", false, nil)
	first, firstConn := h.connect("sid-1")
	h.auth(first, token)
	_, bobConn := h.join("bob", false, nil)

	h.d.Disconnect(first)
	h.d.Disconnect(first)

	gone := bobConn.received(t, protocol.TypeDisconnectPlayer)
	if len(gone) != 1 {
		t.Fatalf("DISCONNECT_PLAYER frames = %d, want 1", len(gone))
	}
	if id, _ := gone[0].Text(); id != "sid-1" {
		t.Fatalf("DISCONNECT_PLAYER data = %q", id)
	}
	var count int
	bobConn.last(t, protocol.TypeConnectionCount, &count)
	if count != 1 {
		t.Fatalf("CONNECTION_COUNT = %d, want 1", count)
	}
	if !firstConn.isClosed() || first.State() != StateDisconnected {
		t.Fatal("disconnect did not close the connection")
	}

	acc, _ := h.store.FindByUsername(ctx, "alice")
	if acc.SessionID != "" || acc.Online || acc.Token != token {
		t.Fatalf("account after disconnect = %+v", acc)
	}

	again, _ := h.connect("sid-2")
	h.auth(again, token)
	if again.State() != StateActive {
		t.Fatalf("reauth state = %s", again.State())
	}
}

func TestDispatcher_IgnoresGameplayBeforeAuth(t *testing.T) {
	h := newHarness(t, nil)
	c, conn := h.connect("sid-1")

	h.send(c, protocol.TypeMoveXY, "up")
	h.send(c, protocol.TypeAttack, protocol.TargetRef{ID: "x"})
	h.d.Handle(c, []byte("not json"))

	if got := conn.types(t); len(got) != 0 {
		t.Fatalf("frames = %v, want none", got)
	}
	if h.metrics.Malformed.Load() != 1 {
		t.Fatalf("malformed = %d", h.metrics.Malformed.Load())
	}
}

func TestDispatcher_BanCommand(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	admin, adminConn := h.join("root", true, nil)
	bobToken := h.account("bob", false, nil)
	bob, bobConn := h.connect("sid-bob")
	h.auth(bob, bobToken)

	h.send(admin, protocol.TypeCommand, protocol.CommandRequest{Command: "ban", Args: []string{"BOB"}})

	if !bobConn.isClosed() {
		t.Fatal("banned connection still open")
	}
	h.d.Disconnect(bob)

	var note protocol.Notify
	adminConn.last(t, protocol.TypeNotify, &note)
	if note.Message != "banned bob" {
		t.Fatalf("NOTIFY = %q", note.Message)
	}
	acc, _ := h.store.FindByUsername(ctx, "bob")
	if !acc.Banned || acc.SessionID != "" {
		t.Fatalf("account = %+v", acc)
	}

	retry, retryConn := h.connect("sid-bob-2")
	h.auth(retry, bobToken)
	if len(retryConn.received(t, protocol.TypeLoginFailed)) != 1 || !retryConn.isClosed() {
		t.Fatalf("banned reauth frames = %v closed = %v", retryConn.types(t), retryConn.isClosed())
	}
}

func TestDispatcher_KickCommandKeepsToken(t *testing.T) {
	h := newHarness(t, nil)
	admin, adminConn := h.join("root", true, nil)
	bobToken := h.account("bob", false, nil)
	bob, bobConn := h.connect("sid-bob")
	h.auth(bob, bobToken)

	h.send(admin, protocol.TypeCommand, protocol.CommandRequest{Command: "/kick", Args: []string{"bob"}})
	if !bobConn.isClosed() {
		t.Fatal("kicked connection still open")
	}
	h.d.Disconnect(bob)

	var note protocol.Notify
	adminConn.last(t, protocol.TypeNotify, &note)
	if note.Message != "kicked bob" {
		t.Fatalf("NOTIFY = %q", note.Message)
	}

	again, _ := h.connect("sid-bob-2")
	h.auth(again, bobToken)
	if again.State() != StateActive {
		t.Fatalf("state after kick = %s", again.State())
	}
}

func TestDispatcher_CommandsRequireAdmin(t *testing.T) {
	h := newHarness(t, nil)
	_, rootConn := h.join("root", true, nil)
	bob, bobConn := h.join("bob", false, nil)
	bobConn.reset()

	h.send(bob, protocol.TypeCommand, protocol.CommandRequest{Command: "kick", Args: []string{"root"}})
	h.send(bob, protocol.TypeStealth, nil)
	h.send(bob, protocol.TypeNoclip, nil)

	if rootConn.isClosed() {
		t.Fatal("non-admin kick closed a connection")
	}
	if got := bobConn.types(t); len(got) != 0 {
		t.Fatalf("non-admin got replies %v", got)
	}
	acc, _ := h.store.FindByUsername(context.Background(), "bob")
	if acc.Stealth {
		t.Fatal("non-admin toggled stealth")
	}
}

func TestDispatcher_NotifyAndUnknownCommand(t *testing.T) {
	h := newHarness(t, nil)
	admin, adminConn := h.join("root", true, nil)
	_, bobConn := h.join("bob", false, nil)

	h.send(admin, protocol.TypeCommand, protocol.CommandRequest{Command: "notify", Args: []string{"server", "restart"}})
	var note protocol.Notify
	bobConn.last(t, protocol.TypeNotify, &note)
	if note.Message != "server restart" {
		t.Fatalf("bob NOTIFY = %q", note.Message)
	}

	h.send(admin, protocol.TypeCommand, protocol.CommandRequest{Command: "dance"})
	adminConn.last(t, protocol.TypeNotify, &note)
	if !strings.HasPrefix(note.Message, "unknown command") {
		t.Fatalf("admin NOTIFY = %q", note.Message)
	}
}

func TestDispatcher_StealthVisibility(t *testing.T) {
	h := newHarness(t, nil)
	admin, adminConn := h.join("root", true, at(10, 0, store.DirDown))
	bob, bobConn := h.join("bob", false, at(0, 0, store.DirDown))
	_, modConn := h.join("mod", true, at(500, 0, store.DirDown))

	h.send(bob, protocol.TypeTargetClosest, nil)
	var sel *protocol.SelectedPlayer
	bobConn.last(t, protocol.TypeSelectPlayer, &sel)
	if sel == nil || sel.ID != "sid-root" {
		t.Fatalf("bob target = %+v", sel)
	}
	bobConn.reset()
	modConn.reset()
	adminConn.reset()

	h.send(admin, protocol.TypeStealth, nil)

	var upd protocol.StealthUpdate
	if !modConn.last(t, protocol.TypeStealth, &upd) || !upd.IsStealth || upd.ID != "sid-root" {
		t.Fatalf("admin observer STEALTH = %+v", upd)
	}
	if !adminConn.last(t, protocol.TypeStealth, &upd) || !upd.IsStealth {
		t.Fatalf("self STEALTH = %+v", upd)
	}
	gone := bobConn.received(t, protocol.TypeDisconnectPlayer)
	if len(gone) != 1 {
		t.Fatalf("bob frames = %v, want DISCONNECT_PLAYER", bobConn.types(t))
	}
	if id, _ := gone[0].Text(); id != "sid-root" {
		t.Fatalf("DISCONNECT_PLAYER data = %q", id)
	}
	sel = &protocol.SelectedPlayer{}
	bobConn.last(t, protocol.TypeSelectPlayer, &sel)
	if sel != nil {
		t.Fatalf("bob target after stealth = %+v, want deselect", sel)
	}
	if len(bobConn.received(t, protocol.TypeStealth)) != 0 {
		t.Fatal("non-admin received STEALTH")
	}

	_, carolConn := h.join("carol", false, nil)
	var others []protocol.PlayerState
	carolConn.last(t, protocol.TypeLoadPlayers, &others)
	for _, o := range others {
		if o.ID == "sid-root" {
			t.Fatal("LOAD_PLAYERS exposed a stealthed admin")
		}
	}
	if len(others) != 2 {
		t.Fatalf("LOAD_PLAYERS = %d players, want 2", len(others))
	}

	bobConn.reset()
	h.send(admin, protocol.TypeStealth, nil)
	var back protocol.PlayerState
	if !bobConn.last(t, protocol.TypeSpawnPlayer, &back) || back.ID != "sid-root" || back.IsStealth {
		t.Fatalf("bob SPAWN_PLAYER after unstealth = %+v", back)
	}
	acc, _ := h.store.FindByUsername(context.Background(), "root")
	if acc.Stealth {
		t.Fatal("stealth not persisted as off")
	}
}

func TestDispatcher_AttackAndRevive(t *testing.T) {
	h := newHarness(t, nil, rules.WithDamage(rules.FixedDamage(60)))
	ctx := context.Background()
	alice, aliceConn := h.join("alice", false, at(0, 0, store.DirRight))
	_, bobConn := h.join("bob", false, at(32, 0, store.DirLeft))

	h.send(alice, protocol.TypeAttack, protocol.TargetRef{ID: "sid-bob"})

	var upd protocol.StatsUpdate
	if !bobConn.last(t, protocol.TypeUpdateStats, &upd) || upd.Target != "sid-bob" || upd.Stats.Health != 40 {
		t.Fatalf("bob UPDATESTATS = %+v", upd)
	}
	if !aliceConn.last(t, protocol.TypeUpdateStats, &upd) || upd.Stats.Health != 40 {
		t.Fatalf("alice UPDATESTATS = %+v", upd)
	}
	stats, _ := h.store.GetStats(ctx, "bob")
	if stats.Health != 40 {
		t.Fatalf("stored health = %d", stats.Health)
	}

	h.send(alice, protocol.TypeAttack, protocol.TargetRef{ID: "sid-bob"})

	updates := bobConn.received(t, protocol.TypeUpdateStats)
	if len(updates) != 2 {
		t.Fatalf("UPDATESTATS frames = %d", len(updates))
	}
	if err := json.Unmarshal(updates[1].Data, &upd); err != nil || upd.Stats.Health != 0 {
		t.Fatalf("defeat UPDATESTATS = %+v, %v", upd, err)
	}
	var revived protocol.StatsUpdate
	if !bobConn.last(t, protocol.TypeRevive, &revived) || revived.Stats.Health != 100 {
		t.Fatalf("REVIVE = %+v", revived)
	}
	stats, _ = h.store.GetStats(ctx, "bob")
	if stats.Health != 100 {
		t.Fatalf("stored health after revive = %d", stats.Health)
	}
	if h.metrics.AttacksApplied.Load() != 2 {
		t.Fatalf("attacks_applied = %d", h.metrics.AttacksApplied.Load())
	}
}

func TestDispatcher_DelayedRevive(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ReviveDelay = 20 * time.Millisecond }, rules.WithDamage(rules.FixedDamage(100)))
	alice, _ := h.join("alice", false, at(0, 0, store.DirRight))
	bob, bobConn := h.join("bob", false, at(32, 0, store.DirLeft))

	h.send(alice, protocol.TypeAttack, protocol.TargetRef{ID: "sid-bob"})
	// A defeated target cannot be hit again while it waits to revive.
	h.send(alice, protocol.TypeAttack, protocol.TargetRef{ID: "sid-bob"})
	if n := len(bobConn.received(t, protocol.TypeUpdateStats)); n != 1 {
		t.Fatalf("UPDATESTATS frames = %d, want 1", n)
	}

	eventually(t, func() bool { return len(bobConn.received(t, protocol.TypeRevive)) == 1 })
	p, _ := bob.Player()
	if p.Stats().Health != 100 {
		t.Fatalf("health after revive = %d", p.Stats().Health)
	}
}

func TestDispatcher_AttackRuleViolationsAreSilent(t *testing.T) {
	h := newHarness(t, nil)
	alice, aliceConn := h.join("alice", false, at(0, 0, store.DirRight))
	_, bobConn := h.join("bob", false, at(-32, 0, store.DirRight))
	aliceConn.reset()
	bobConn.reset()

	h.send(alice, protocol.TypeAttack, protocol.TargetRef{ID: "sid-bob"})
	h.send(alice, protocol.TypeAttack, protocol.TargetRef{ID: "sid-alice"})
	h.send(alice, protocol.TypeAttack, protocol.TargetRef{ID: "sid-nobody"})

	if got := append(aliceConn.types(t), bobConn.types(t)...); len(got) != 0 {
		t.Fatalf("frames = %v, want none", got)
	}
	if h.metrics.AttacksIgnored.Load() != 3 {
		t.Fatalf("attacks_ignored = %d", h.metrics.AttacksIgnored.Load())
	}
}

func TestDispatcher_TargetAndSelect(t *testing.T) {
	h := newHarness(t, nil)
	alice, aliceConn := h.join("alice", false, at(0, 0, store.DirDown))
	_, bobConn := h.join("bob", false, at(50, 0, store.DirDown))
	h.join("carol", false, at(200, 0, store.DirDown))

	var sel *protocol.SelectedPlayer
	h.send(alice, protocol.TypeTargetClosest, nil)
	aliceConn.last(t, protocol.TypeSelectPlayer, &sel)
	if sel == nil || sel.ID != "sid-bob" || sel.Username != "bob" || sel.Stats.Health != 100 {
		t.Fatalf("TARGETCLOSEST = %+v", sel)
	}
	if len(bobConn.received(t, protocol.TypeSelectPlayer)) != 0 {
		t.Fatal("selection leaked to another client")
	}

	h.send(alice, protocol.TypeSelectPlayer, protocol.Point{X: 205, Y: 4})
	aliceConn.last(t, protocol.TypeSelectPlayer, &sel)
	if sel == nil || sel.ID != "sid-carol" {
		t.Fatalf("SELECTPLAYER near carol = %+v", sel)
	}

	h.send(alice, protocol.TypeSelectPlayer, protocol.Point{X: 1000, Y: 0})
	aliceConn.last(t, protocol.TypeSelectPlayer, &sel)
	if sel != nil {
		t.Fatalf("SELECTPLAYER on empty ground = %+v, want null", sel)
	}

	h.send(alice, protocol.TypeSelectPlayer, nil)
	sel = &protocol.SelectedPlayer{}
	aliceConn.last(t, protocol.TypeSelectPlayer, &sel)
	if sel != nil {
		t.Fatal("null SELECTPLAYER should deselect")
	}
	if p, _ := alice.Player(); p.Target() != "" {
		t.Fatalf("target = %q after deselect", p.Target())
	}
}

func TestDispatcher_TargetClosestOutOfRange(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.TargetRange = 40 })
	alice, aliceConn := h.join("alice", false, at(0, 0, store.DirDown))
	h.join("bob", false, at(40, 0, store.DirDown))

	h.send(alice, protocol.TypeTargetClosest, nil)
	sel := &protocol.SelectedPlayer{}
	if !aliceConn.last(t, protocol.TypeSelectPlayer, &sel) || sel != nil {
		t.Fatalf("TARGETCLOSEST at exactly range = %+v, want null", sel)
	}
}

type upperDecoder struct{}

func (upperDecoder) Decode(_, message string) (string, error) {
	if message == "" {
		return "", errors.New("empty")
	}
	return strings.ToUpper(message), nil
}

func TestDispatcher_Chat(t *testing.T) {
	h := newHarness(t, nil)
	alice, _ := h.join("alice", false, nil)
	_, bobConn := h.join("bob", false, nil)

	h.send(alice, protocol.TypeChat, protocol.ChatRequest{Message: "  hello there  "})

	var msg protocol.ChatMessage
	if !bobConn.last(t, protocol.TypeChat, &msg) || msg.ID != "sid-alice" || msg.Message != "hello there" {
		t.Fatalf("bob CHAT = %+v", msg)
	}
	_, carolConn := h.join("carol", false, nil)
	var others []protocol.PlayerState
	carolConn.last(t, protocol.TypeLoadPlayers, &others)
	found := false
	for _, o := range others {
		if o.ID == "sid-alice" {
			found = o.Chat == "hello there"
		}
	}
	if !found {
		t.Fatalf("LOAD_PLAYERS did not carry the live chat line: %+v", others)
	}

	h.send(alice, protocol.TypeChat, protocol.ChatRequest{Message: "abcdefghijklmnopqrstuvwxyz"})
	bobConn.last(t, protocol.TypeChat, &msg)
	if msg.Message != "abcdefghijklmnop" {
		t.Fatalf("long chat = %q, want truncated to 16", msg.Message)
	}

	h.send(alice, protocol.TypeChat, protocol.ChatRequest{Message: "secret", Mode: protocol.ChatModeDecrypt})
	bobConn.last(t, protocol.TypeChat, &msg)
	if msg.Message != "abcdefghijklmnop" {
		t.Fatal("encrypted chat relayed without a decoder")
	}
	h.d.chat = upperDecoder{}
	h.send(alice, protocol.TypeChat, protocol.ChatRequest{Message: "secret", Mode: protocol.ChatModeDecrypt})
	bobConn.last(t, protocol.TypeChat, &msg)
	if msg.Message != "SECRET" {
		t.Fatalf("decoded chat = %q", msg.Message)
	}

	h.send(alice, protocol.TypeChat, nil)
	bobConn.last(t, protocol.TypeChat, &msg)
	if msg.Message != "" {
		t.Fatalf("chat clear = %q", msg.Message)
	}
	if p, _ := alice.Player(); p.Chat() != "" {
		t.Fatal("chat line not cleared")
	}
}

func TestDispatcher_ChatExpires(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.ChatBaseTTL = 10 * time.Millisecond
		o.ChatPerChar = 0
	})
	alice, _ := h.join("alice", false, nil)

	h.send(alice, protocol.TypeChat, protocol.ChatRequest{Message: "hi"})
	p, _ := alice.Player()
	eventually(t, func() bool { return p.Chat() == "" })
}

func TestDispatcher_ClientConfig(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice, _ := h.join("alice", false, nil)

	h.send(alice, protocol.TypeClientConfig, map[string]any{"fps": 30, "muted": true})
	cfg, err := h.store.GetClientConfig(ctx, "alice")
	if err != nil || cfg.FPS != 30 || !cfg.Muted || cfg.MusicVolume != 50 {
		t.Fatalf("stored config = %+v, %v", cfg, err)
	}

	h.send(alice, protocol.TypeClientConfig, map[string]any{"fps": 0})
	h.send(alice, protocol.TypeClientConfig, map[string]any{"music_volume": 101})
	cfg, _ = h.store.GetClientConfig(ctx, "alice")
	if cfg.FPS != 30 || cfg.MusicVolume != 50 {
		t.Fatalf("invalid config was stored: %+v", cfg)
	}
}

func TestDispatcher_InspectAndTimeSync(t *testing.T) {
	h := newHarness(t, nil)
	alice, conn := h.join("alice", false, nil)
	conn.reset()

	h.send(alice, protocol.TypeInspectPlayer, nil)
	h.send(alice, protocol.TypeTimeSync, 12345)

	var insp protocol.Inspect
	if !conn.last(t, protocol.TypeInspectPlayer, &insp) || insp.ID != "sid-alice" || insp.Stats.MaxHealth != 100 {
		t.Fatalf("INSPECTPLAYER = %+v", insp)
	}
	var ts int64
	if !conn.last(t, protocol.TypeTimeSync, &ts) || ts <= 12345 {
		t.Fatalf("TIME_SYNC = %d", ts)
	}
}

func TestDispatcher_LogoutClearsToken(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	token := h.account("alice", false, nil)
	c, conn := h.connect("sid-alice")
	h.auth(c, token)

	h.send(c, protocol.TypeLogout, nil)
	if !conn.isClosed() {
		t.Fatal("logout left the connection open")
	}
	h.d.Disconnect(c)

	if _, err := h.registry.ResolveToken(ctx, token); !errors.Is(err, session.ErrInvalidToken) {
		t.Fatalf("ResolveToken after logout = %v", err)
	}
	if h.rooms.Count() != 0 {
		t.Fatalf("players after logout = %d", h.rooms.Count())
	}
}
