package server

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"realmsync/protocol"
	"realmsync/rules"
	"realmsync/store"
)

func (d *Dispatcher) route(c *Client, p *Player, room *Room, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeLogout:
		d.handleLogout(c, p)
	case protocol.TypeTimeSync:
		d.send(c, protocol.TypeTimeSync, time.Now().UnixMilli())
	case protocol.TypeMoveXY:
		d.handleMove(p, room, env)
	case protocol.TypeTeleportXY:
		d.handleTeleport(p, room, env)
	case protocol.TypeAttack:
		d.handleAttack(p, room, env)
	case protocol.TypeTargetClosest:
		d.handleTargetClosest(p, room)
	case protocol.TypeSelectPlayer:
		d.handleSelect(p, room, env)
	case protocol.TypeInspectPlayer:
		d.sendPlayer(p, protocol.TypeInspectPlayer, protocol.Inspect{ID: p.ID, Stats: p.Stats()})
	case protocol.TypeStealth:
		d.handleStealth(c, p, room)
	case protocol.TypeNoclip:
		if p.Admin {
			d.sendPlayer(p, protocol.TypeNoclip, protocol.NoclipUpdate{ID: p.ID, Noclip: p.toggleNoclip()})
		}
	case protocol.TypeChat:
		d.handleChat(p, room, env)
	case protocol.TypeClientConfig:
		d.handleClientConfig(c, p, env)
	case protocol.TypeCommand:
		d.handleCommand(c, p, env)
	default:
		d.log.Debug("unhandled message", zap.String("type", string(env.Type)), zap.String("session", p.ID))
	}
}

func (d *Dispatcher) handleLogout(c *Client, p *Player) {
	if err := d.registry.Logout(context.WithoutCancel(c.ctx), p.ID); err != nil {
		d.log.Warn("logout", zap.String("username", p.Username), zap.Error(err))
	}
	c.cancel()
	c.conn.Close()
}

func (d *Dispatcher) handleMove(p *Player, room *Room, env *protocol.Envelope) {
	raw, err := env.Text()
	if err != nil {
		d.metrics.Malformed.Add(1)
		return
	}
	if strings.EqualFold(raw, protocol.MoveAbort) {
		room.OnInput(Input{PlayerID: p.ID, Abort: true})
		return
	}
	dir, ok := store.ParseDirection(raw)
	if !ok {
		d.metrics.Malformed.Add(1)
		return
	}
	room.OnInput(Input{PlayerID: p.ID, Direction: dir})
}

func (d *Dispatcher) handleTeleport(p *Player, room *Room, env *protocol.Envelope) {
	if !p.Admin {
		return
	}
	var pt protocol.Point
	if err := env.Bind(&pt); err != nil {
		d.metrics.Malformed.Add(1)
		return
	}
	room.OnInput(Input{PlayerID: p.ID, Teleport: &pt})
}

func (d *Dispatcher) handleAttack(p *Player, room *Room, env *protocol.Envelope) {
	var ref protocol.TargetRef
	if err := env.Bind(&ref); err != nil || ref.ID == "" {
		d.metrics.Malformed.Add(1)
		return
	}
	target, ok := room.Get(ref.ID)
	if !ok {
		d.metrics.AttacksIgnored.Add(1)
		return
	}
	attacker, victim := p.Combatant(), target.Combatant()
	if !d.engine.CanAttack(attacker, victim) {
		d.metrics.AttacksIgnored.Add(1)
		return
	}

	stats, defeated, wasAlive := target.applyDamage(d.engine.Damage(attacker, victim))
	if !wasAlive {
		// revive pending
		d.metrics.AttacksIgnored.Add(1)
		return
	}
	d.metrics.AttacksApplied.Add(1)
	if err := d.store.SetStats(context.Background(), target.Username, stats); err != nil {
		d.log.Warn("persist stats", zap.String("username", target.Username), zap.Error(err))
	}
	room.BroadcastAbout(target, protocol.MustEncode(protocol.TypeUpdateStats,
		protocol.StatsUpdate{Target: target.ID, Stats: stats}), true)

	if defeated {
		d.log.Info("player defeated", zap.String("username", target.Username), zap.String("by", p.Username))
		d.scheduleRevive(target.Username)
	}
}

func (d *Dispatcher) scheduleRevive(username string) {
	if d.opts.ReviveDelay <= 0 {
		d.revive(username)
		return
	}
	time.AfterFunc(d.opts.ReviveDelay, func() { d.revive(username) })
}

// revive restores username on whichever connection is active now. An
// offline account is revived in the store only.
func (d *Dispatcher) revive(username string) {
	ctx := context.Background()
	p, room := d.rooms.FindByUsername(username)
	if p == nil {
		stored, err := d.store.GetStats(ctx, username)
		if err != nil || !stored.Defeated() {
			return
		}
		if err := d.store.SetStats(ctx, username, rules.Revive(*stored)); err != nil {
			d.log.Warn("persist revive", zap.String("username", username), zap.Error(err))
		}
		return
	}
	stats, ok := p.revive()
	if !ok {
		return
	}
	if err := d.store.SetStats(ctx, username, stats); err != nil {
		d.log.Warn("persist revive", zap.String("username", username), zap.Error(err))
	}
	room.BroadcastAbout(p, protocol.MustEncode(protocol.TypeRevive,
		protocol.StatsUpdate{Target: p.ID, Stats: stats}), true)
}

func combatants(players []*Player) []*rules.Combatant {
	out := make([]*rules.Combatant, 0, len(players))
	for _, p := range players {
		out = append(out, p.Combatant())
	}
	return out
}

// selectResult replies with the chosen player, or a deselect when nil.
func (d *Dispatcher) selectResult(p *Player, room *Room, found *rules.Combatant) {
	if found == nil {
		p.setTarget("")
		d.sendPlayer(p, protocol.TypeSelectPlayer, nil)
		return
	}
	target, ok := room.Get(found.ID)
	if !ok {
		p.setTarget("")
		d.sendPlayer(p, protocol.TypeSelectPlayer, nil)
		return
	}
	p.setTarget(target.ID)
	d.sendPlayer(p, protocol.TypeSelectPlayer, &protocol.SelectedPlayer{
		ID:       target.ID,
		Username: target.Username,
		Stats:    target.Stats(),
	})
}

func (d *Dispatcher) handleTargetClosest(p *Player, room *Room) {
	found := rules.FindClosestPlayer(p.Combatant(), combatants(room.Players()), d.opts.TargetRange)
	d.selectResult(p, room, found)
}

func (d *Dispatcher) handleSelect(p *Player, room *Room, env *protocol.Envelope) {
	if !env.HasData() {
		d.selectResult(p, room, nil)
		return
	}
	var pt protocol.Point
	if err := env.Bind(&pt); err != nil {
		d.metrics.Malformed.Add(1)
		return
	}
	found := rules.ClosestTo(p.Location().Map, pt.X, pt.Y, "", combatants(room.Players()), d.opts.SelectRadius)
	d.selectResult(p, room, found)
}

func (d *Dispatcher) handleStealth(c *Client, p *Player, room *Room) {
	if !p.Admin {
		return
	}
	hidden, err := d.registry.ToggleStealth(c.ctx, p.Username)
	if err != nil {
		d.log.Warn("toggle stealth", zap.String("username", p.Username), zap.Error(err))
		return
	}
	p.setStealth(hidden)

	update := protocol.MustEncode(protocol.TypeStealth, protocol.StealthUpdate{ID: p.ID, IsStealth: hidden})
	var presence []byte
	if hidden {
		presence = protocol.MustEncode(protocol.TypeDisconnectPlayer, p.ID)
	} else {
		presence = protocol.MustEncode(protocol.TypeSpawnPlayer, p.State())
	}
	for _, other := range room.Players() {
		switch {
		case other == p || other.Admin:
			other.send(update)
		default:
			other.send(presence)
			if hidden && other.clearTargetIf(p.ID) {
				d.sendPlayer(other, protocol.TypeSelectPlayer, nil)
			}
		}
	}
}

func (d *Dispatcher) handleChat(p *Player, room *Room, env *protocol.Envelope) {
	if !env.HasData() {
		p.setChat("")
		room.BroadcastAbout(p, protocol.MustEncode(protocol.TypeChat, protocol.ChatMessage{ID: p.ID}), true)
		return
	}
	var req protocol.ChatRequest
	if err := env.Bind(&req); err != nil {
		d.metrics.Malformed.Add(1)
		return
	}
	msg := req.Message
	if req.Mode == protocol.ChatModeDecrypt {
		if d.chat == nil {
			d.log.Debug("encrypted chat without decoder", zap.String("session", p.ID))
			return
		}
		plain, err := d.chat.Decode(p.ID, msg)
		if err != nil {
			d.log.Debug("decode chat", zap.String("session", p.ID), zap.Error(err))
			return
		}
		msg = plain
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	if limit := d.opts.ChatMaxLength; limit > 0 && utf8.RuneCountInString(msg) > limit {
		msg = string([]rune(msg)[:limit])
	}

	seq := p.setChat(msg)
	d.metrics.ChatRelayed.Add(1)
	room.BroadcastAbout(p, protocol.MustEncode(protocol.TypeChat, protocol.ChatMessage{ID: p.ID, Message: msg}), true)

	ttl := d.opts.ChatBaseTTL + time.Duration(utf8.RuneCountInString(msg))*d.opts.ChatPerChar
	time.AfterFunc(ttl, func() { p.expireChat(seq) })
}

func validClientConfig(cfg store.ClientConfig) bool {
	return cfg.FPS > 0 && cfg.FPS <= 240 &&
		cfg.MusicVolume >= 0 && cfg.MusicVolume <= 100 &&
		cfg.EffectsVolume >= 0 && cfg.EffectsVolume <= 100 &&
		cfg.Language != "" && len(cfg.Language) <= 16
}

func (d *Dispatcher) handleClientConfig(c *Client, p *Player, env *protocol.Envelope) {
	var upd protocol.ClientConfigUpdate
	if err := env.Bind(&upd); err != nil {
		d.metrics.Malformed.Add(1)
		return
	}
	cfg := p.ClientConfig()
	if upd.FPS != nil {
		cfg.FPS = *upd.FPS
	}
	if upd.MusicVolume != nil {
		cfg.MusicVolume = *upd.MusicVolume
	}
	if upd.EffectsVolume != nil {
		cfg.EffectsVolume = *upd.EffectsVolume
	}
	if upd.Muted != nil {
		cfg.Muted = *upd.Muted
	}
	if upd.Language != nil {
		cfg.Language = strings.TrimSpace(*upd.Language)
	}
	if !validClientConfig(cfg) {
		d.log.Debug("rejected client config", zap.String("session", p.ID), zap.Any("config", cfg))
		return
	}
	p.setClientConfig(cfg)
	if err := d.store.SetClientConfig(c.ctx, p.Username, cfg); err != nil {
		d.log.Warn("persist client config", zap.String("username", p.Username), zap.Error(err))
	}
}

func (d *Dispatcher) handleCommand(c *Client, p *Player, env *protocol.Envelope) {
	if !p.Admin {
		return
	}
	var cmd protocol.CommandRequest
	if err := env.Bind(&cmd); err != nil {
		d.metrics.Malformed.Add(1)
		return
	}
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cmd.Command), "/"))
	reply := func(msg string) {
		d.sendPlayer(p, protocol.TypeNotify, protocol.Notify{Message: msg})
	}

	switch name {
	case "kick", "ban":
		if len(cmd.Args) == 0 {
			reply("usage: " + name + " <username>")
			return
		}
		user := store.NormalizeKey(cmd.Args[0])
		var err error
		done := "kicked "
		if name == "kick" {
			err = d.registry.Kick(c.ctx, user)
		} else {
			err = d.registry.Ban(c.ctx, user)
			done = "banned "
		}
		if err != nil {
			d.log.Info("admin command failed", zap.String("command", name), zap.String("target", user), zap.Error(err))
			reply(name + " failed: " + user)
			return
		}
		d.log.Info("admin command", zap.String("admin", p.Username), zap.String("command", name), zap.String("target", user))
		reply(done + user)
	case "notify":
		msg := strings.TrimSpace(strings.Join(cmd.Args, " "))
		if msg == "" {
			reply("usage: notify <message>")
			return
		}
		d.rooms.BroadcastAll(protocol.MustEncode(protocol.TypeNotify, protocol.Notify{Message: msg}))
	default:
		reply("unknown command: " + name)
	}
}
