package server

import "time"

// DefaultTickInterval is 20 ticks per second.
const DefaultTickInterval = 50 * time.Millisecond

// StartTicker runs the room loop: inputs, then world, until Stop.
func (r *Room) StartTicker() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	interval := r.interval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case now := <-ticker.C:
				r.Tick(now)
			}
		}
	}()
}

// Tick advances the room once.
func (r *Room) Tick(now time.Time) {
	start := time.Now()
	r.mu.Lock()
	r.tickSeq++
	r.mu.Unlock()
	r.ProcessInputs(now)
	r.UpdateWorld(now)
	r.metrics.AddTick(time.Since(start).Nanoseconds())
}

func (r *Room) TickSeq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tickSeq
}

func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}
