package terminal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antonkrylov/termhost/internal/events"
)

// Options configure a Registry.
type Options struct {
	Limits Limits
	// Spawner starts shells for services without a specified user.
	Spawner Spawner
	// UserSpawner starts shells for services that asked for an explicit user
	// identity. It defaults to Spawner.
	UserSpawner Spawner
	Logger      *slog.Logger
	Metrics     *Metrics
	Events      events.Sink
	Now         func() time.Time
}

func (o *Options) setDefaults() {
	o.Limits = o.Limits.withDefaults()
	if o.UserSpawner == nil {
		o.UserSpawner = o.Spawner
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.Events == nil {
		o.Events = events.Nop{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Registry owns every terminal service of the host and the background
// maintenance that reaps detached children and evicts idle services.
type Registry struct {
	opts   Options
	logger *slog.Logger
	reaper *Reaper

	mu           sync.Mutex
	services     map[string]*Service
	closed       bool
	maintStarted bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry returns an empty registry. The maintenance loop starts with
// the first service.
func NewRegistry(opts Options) *Registry {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		opts:     opts,
		logger:   opts.Logger,
		reaper:   newReaper(opts.Logger),
		services: make(map[string]*Service),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	return r
}

// NewServiceID generates a fresh service id.
func NewServiceID() string {
	return "ts_" + uuid.NewString()
}

// Limits returns the effective limits.
func (r *Registry) Limits() Limits { return r.opts.Limits }

// Reaper returns the registry's zombie reaper.
func (r *Registry) Reaper() *Reaper { return r.reaper }

// GetOrCreate returns the service with the given id, creating it when it does
// not exist yet. An existing service takes the caller's persistence and user
// flags and all of its terminals are detached until reopened.
func (r *Registry) GetOrCreate(id string, persistent, specifiedUser bool) (*Service, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry closed")
	}
	svc, ok := r.services[id]
	if !ok {
		if len(r.services) >= r.opts.Limits.MaxServices {
			r.mu.Unlock()
			return nil, fmt.Errorf("maximum number of terminal services (%d) reached: %w", r.opts.Limits.MaxServices, ErrCapacity)
		}
		svc = newService(id, persistent, specifiedUser, r.opts.Now)
		r.services[id] = svc
		r.opts.Metrics.setServices(len(r.services))
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Info("terminal service created", "service", id, "persistent", persistent)
		r.publish(events.Event{Kind: events.ServiceCreated, ServiceID: id, Persistent: persistent})
	}
	r.ensureMaintenance()
	svc.resetStatus(persistent, specifiedUser)
	return svc, nil
}

// Get returns the service with the given id, or nil.
func (r *Registry) Get(id string) *Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.services[id]
}

// Remove unregisters a service and stops all of its terminals.
func (r *Registry) Remove(id string) bool {
	return r.remove(id, "removed")
}

func (r *Registry) remove(id, reason string) bool {
	r.mu.Lock()
	svc, ok := r.services[id]
	if ok {
		delete(r.services, id)
		r.opts.Metrics.setServices(len(r.services))
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	for _, sess := range svc.takeAll() {
		sess.Stop()
	}
	r.opts.Metrics.setZombies(r.reaper.Len())
	r.logger.Info("terminal service removed", "service", id, "reason", reason)
	r.publish(events.Event{Kind: events.ServiceRemoved, ServiceID: id, Reason: reason})
	return true
}

// List returns metadata for every registered service, ordered by id.
func (r *Registry) List() []ServiceMetadata {
	services := r.all()
	out := make([]ServiceMetadata, 0, len(services))
	for _, svc := range services {
		out = append(out, svc.metadata())
	}
	slices.SortFunc(out, func(a, b ServiceMetadata) int {
		return strings.Compare(a.ServiceID, b.ServiceID)
	})
	return out
}

// SessionCount returns the number of terminals across all services, plus the
// children still waiting to be reaped when includeZombies is set.
func (r *Registry) SessionCount(includeZombies bool) int {
	n := 0
	for _, svc := range r.all() {
		svc.mu.Lock()
		n += len(svc.sessions)
		svc.mu.Unlock()
	}
	if includeZombies {
		n += r.reaper.Len()
	}
	return n
}

// SetPersistent changes the persistence mode of a live service.
func (r *Registry) SetPersistent(id string, persistent bool) error {
	svc := r.Get(id)
	if svc == nil {
		return fmt.Errorf("service %s: %w", id, ErrServiceNotFound)
	}
	svc.setPersistent(persistent)
	return nil
}

// Sweep evicts idle services as of now: non-persistent services idle past
// IdleTimeout and empty persistent services idle past PersistentIdleTimeout.
// It returns the evicted ids.
func (r *Registry) Sweep(now time.Time) []string {
	var evict []string
	var kinds []string
	for _, svc := range r.all() {
		idle, persistent, empty := svc.idleFor(now)
		switch {
		case !persistent && idle > r.opts.Limits.IdleTimeout:
			evict = append(evict, svc.id)
			kinds = append(kinds, "idle")
		case persistent && empty && idle > r.opts.Limits.PersistentIdleTimeout:
			evict = append(evict, svc.id)
			kinds = append(kinds, "empty_persistent")
		}
	}
	for i, id := range evict {
		if r.remove(id, "idle") {
			r.opts.Metrics.evicted(kinds[i])
		}
	}
	return evict
}

// Close stops maintenance and removes every service. Children still running
// are killed and reaped. When ctx is done first, Close returns ctx.Err() and
// leaves the remaining teardown running in the background.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.maintStarted
	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	r.cancel()
	if started {
		select {
		case <-r.done:
		case <-ctx.Done():
			r.reaper.killAll()
			return ctx.Err()
		}
	}

	removed := make(chan struct{})
	go func() {
		defer close(removed)
		for _, id := range ids {
			r.remove(id, "shutdown")
		}
	}()
	select {
	case <-removed:
	case <-ctx.Done():
		r.logger.Warn("gave up waiting for terminals to stop", "services", len(ids), "err", ctx.Err())
		r.reaper.killAll()
		return ctx.Err()
	}
	r.reaper.killAll()
	ticker := time.NewTicker(r.opts.Limits.ReapInterval)
	defer ticker.Stop()
	for r.reaper.Reap() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	r.opts.Metrics.setZombies(0)
	return nil
}

func (r *Registry) all() []*Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	return out
}

func (r *Registry) spawnerFor(specifiedUser bool) Spawner {
	if specifiedUser {
		return r.opts.UserSpawner
	}
	return r.opts.Spawner
}

func (r *Registry) sessionDeps() sessionDeps {
	return sessionDeps{
		limits:  r.opts.Limits,
		reaper:  r.reaper,
		logger:  r.logger,
		metrics: r.opts.Metrics,
		now:     r.opts.Now,
	}
}

func (r *Registry) publish(ev events.Event) {
	if ev.Time.IsZero() {
		ev.Time = r.opts.Now()
	}
	r.opts.Events.Publish(ev)
}
