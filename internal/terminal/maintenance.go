package terminal

import (
	"context"
	"time"
)

func (r *Registry) ensureMaintenance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maintStarted || r.closed {
		return
	}
	r.maintStarted = true
	go r.maintain(r.ctx)
}

// maintain reaps detached children every ReapInterval and sweeps idle
// services every SweepInterval until ctx is cancelled.
func (r *Registry) maintain(ctx context.Context) {
	defer close(r.done)
	r.logger.Info("terminal maintenance started",
		"reap_interval", r.opts.Limits.ReapInterval,
		"sweep_interval", r.opts.Limits.SweepInterval)

	ticker := time.NewTicker(r.opts.Limits.ReapInterval)
	defer ticker.Stop()
	lastSweep := r.opts.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		r.opts.Metrics.setZombies(r.reaper.Reap())

		now := r.opts.Now()
		if now.Sub(lastSweep) >= r.opts.Limits.SweepInterval {
			if evicted := r.Sweep(now); len(evicted) > 0 {
				r.logger.Info("evicted idle terminal services", "count", len(evicted))
			}
			lastSweep = now
		}
	}
}
