package terminal

import (
	"log/slog"
	"sync"
)

// Reaper collects children that were killed or detached without being waited
// on and polls them until their exit status is available.
type Reaper struct {
	mu       sync.Mutex
	children []Child
	logger   *slog.Logger
}

func newReaper(logger *slog.Logger) *Reaper {
	return &Reaper{logger: logger}
}

// Add queues a child for reaping.
func (r *Reaper) Add(c Child) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.children = append(r.children, c)
	r.mu.Unlock()
}

// Reap drops every queued child whose status is available. A status query
// error counts as exited. It never blocks on a running child.
func (r *Reaper) Reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.children[:0]
	for _, c := range r.children {
		code, exited, err := c.TryWait()
		switch {
		case err != nil:
			r.logger.Debug("reap child", "pid", c.Pid(), "err", err)
		case exited:
			r.logger.Debug("reaped child", "pid", c.Pid(), "exit_code", code)
		default:
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(r.children); i++ {
		r.children[i] = nil
	}
	r.children = kept
	return len(kept)
}

// Len returns the number of children still waiting to be reaped.
func (r *Reaper) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.children)
}

func (r *Reaper) killAll() {
	r.mu.Lock()
	children := append([]Child(nil), r.children...)
	r.mu.Unlock()
	for _, c := range children {
		_ = c.Kill()
	}
}
