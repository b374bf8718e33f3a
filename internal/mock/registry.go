package mock

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gps-relay/internal/location"
	"gps-relay/internal/models"
)

// Position is the latest state of a registered provider.
type Position struct {
	Provider     string             `json:"provider"`
	Fix          models.LocationFix `json:"fix"`
	HasFix       bool               `json:"has_fix"`
	Wall         time.Time          `json:"wall_time"`
	Elapsed      time.Duration      `json:"elapsed_ns"`
	Updates      uint64             `json:"updates"`
	RegisteredAt time.Time          `json:"registered_at"`
}

// Registry keeps registered providers in memory and serves them as a
// location.Source. Only the most recent fix of each provider is retained.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Position
	feed      *location.Feed
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*Position),
		feed:      location.NewFeed(),
	}
}

func (r *Registry) RegisterProvider(name string) error {
	if name == "" {
		return sinkErr(OpRegister, name, fmt.Errorf("empty provider name"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		return sinkErr(OpRegister, name, ErrAlreadyRegistered)
	}
	r.providers[name] = &Position{Provider: name, RegisteredAt: time.Now()}
	return nil
}

func (r *Registry) UnregisterProvider(name string) error {
	r.mu.Lock()
	_, ok := r.providers[name]
	delete(r.providers, name)
	r.mu.Unlock()

	if !ok {
		return sinkErr(OpUnregister, name, ErrNotRegistered)
	}
	r.feed.Forget(name)
	return nil
}

func (r *Registry) Push(name string, fix models.LocationFix, wall time.Time, elapsed time.Duration) error {
	fix = fix.WithTimestamp(wall)

	r.mu.Lock()
	p, ok := r.providers[name]
	if ok {
		p.Fix = fix
		p.HasFix = true
		p.Wall = wall
		p.Elapsed = elapsed
		p.Updates = p.Updates + 1
	}
	r.mu.Unlock()

	if !ok {
		return sinkErr(OpPush, name, ErrNotRegistered)
	}
	r.feed.Publish(name, fix)
	return nil
}

func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

func (r *Registry) Position(name string) (Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

func (r *Registry) Positions() []Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Position, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (r *Registry) CheckPermission(provider string) error {
	if !r.Registered(provider) {
		return fmt.Errorf("%w: mock provider %s is not registered", location.ErrPermissionDenied, provider)
	}
	return nil
}

func (r *Registry) LastKnown(provider string) (models.LocationFix, bool) {
	return r.feed.LastKnown(provider)
}

func (r *Registry) Subscribe(provider string, interval time.Duration, minDistance float32, onFix location.FixFunc) (func(), error) {
	return r.feed.Subscribe(provider, interval, minDistance, onFix)
}

var (
	_ Sink            = (*Registry)(nil)
	_ location.Source = (*Registry)(nil)
)
