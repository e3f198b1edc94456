package server

import (
	"sync/atomic"
)

// Metrics counts server activity for /metrics.
type Metrics struct {
	Ticks          atomic.Int64
	TotalTickNs    atomic.Int64
	MovesApplied   atomic.Int64
	MovesBlocked   atomic.Int64
	InputsDropped  atomic.Int64
	AuthAccepted   atomic.Int64
	AuthRejected   atomic.Int64
	BindRejected   atomic.Int64
	AttacksApplied atomic.Int64
	AttacksIgnored atomic.Int64
	ChatRelayed    atomic.Int64
	SendDropped    atomic.Int64
	Malformed      atomic.Int64
}

// NewMetrics returns zeroed counters.
func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) AddTick(ns int64) {
	m.Ticks.Add(1)
	m.TotalTickNs.Add(ns)
}

// Snapshot returns a copy suitable for JSON output.
func (m *Metrics) Snapshot() map[string]any {
	ticks := m.Ticks.Load()
	var avgMs float64
	if ticks > 0 {
		avgMs = float64(m.TotalTickNs.Load()) / float64(ticks) / 1e6
	}
	return map[string]any{
		"tick_count":      ticks,
		"avg_tick_ms":     avgMs,
		"moves_applied":   m.MovesApplied.Load(),
		"moves_blocked":   m.MovesBlocked.Load(),
		"inputs_dropped":  m.InputsDropped.Load(),
		"auth_accepted":   m.AuthAccepted.Load(),
		"auth_rejected":   m.AuthRejected.Load(),
		"bind_rejected":   m.BindRejected.Load(),
		"attacks_applied": m.AttacksApplied.Load(),
		"attacks_ignored": m.AttacksIgnored.Load(),
		"chat_relayed":    m.ChatRelayed.Load(),
		"send_dropped":    m.SendDropped.Load(),
		"malformed":       m.Malformed.Load(),
	}
}
