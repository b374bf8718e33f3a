package location

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gps-relay/internal/models"
)

type subscriber struct {
	mu          sync.Mutex
	provider    string
	interval    time.Duration
	minDistance float64
	onFix       FixFunc
	last        models.LocationFix
	lastAt      time.Time
	delivered   bool
	cancelled   bool
}

func (s *subscriber) deliver(fix models.LocationFix, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return
	}
	if s.delivered {
		if now.Sub(s.lastAt) < s.interval {
			return
		}
		if s.minDistance > 0 && s.last.DistanceTo(fix) < s.minDistance {
			return
		}
	}
	s.last = fix
	s.lastAt = now
	s.delivered = true
	s.onFix(fix)
}

func (s *subscriber) cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// Feed is an in-process Source. Producers call Publish; subscribers get the
// fix on the publishing goroutine when their cadence is due.
type Feed struct {
	mu     sync.RWMutex
	last   map[string]models.LocationFix
	denied map[string]bool
	subs   map[uint64]*subscriber
	nextID uint64
	now    func() time.Time
}

func NewFeed() *Feed {
	return &Feed{
		last:   make(map[string]models.LocationFix),
		denied: make(map[string]bool),
		subs:   make(map[uint64]*subscriber),
		now:    time.Now,
	}
}

func (f *Feed) SetPermission(provider string, granted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if granted {
		delete(f.denied, provider)
	} else {
		f.denied[provider] = true
	}
}

func (f *Feed) CheckPermission(provider string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.denied[provider] {
		return fmt.Errorf("%w: provider %s", ErrPermissionDenied, provider)
	}
	return nil
}

func (f *Feed) LastKnown(provider string) (models.LocationFix, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fix, ok := f.last[provider]
	return fix, ok
}

// Providers returns the names that have published at least one fix.
func (f *Feed) Providers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.last))
	for name := range f.last {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Feed) Subscribe(provider string, interval time.Duration, minDistance float32, onFix FixFunc) (func(), error) {
	if onFix == nil {
		return nil, fmt.Errorf("nil fix callback")
	}
	if interval < 0 || minDistance < 0 {
		return nil, fmt.Errorf("negative interval or distance")
	}

	sub := &subscriber{
		provider:    provider,
		interval:    interval,
		minDistance: float64(minDistance),
		onFix:       onFix,
	}

	f.mu.Lock()
	f.nextID = f.nextID + 1
	id := f.nextID
	f.subs[id] = sub
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			sub.cancel()
		})
	}
	return cancel, nil
}

// Publish records fix as the last known position of provider and delivers
// it to due subscribers.
func (f *Feed) Publish(provider string, fix models.LocationFix) {
	f.mu.Lock()
	f.last[provider] = fix
	targets := make([]*subscriber, 0, len(f.subs))
	for _, sub := range f.subs {
		if sub.provider == provider {
			targets = append(targets, sub)
		}
	}
	f.mu.Unlock()

	now := f.now()
	for _, sub := range targets {
		sub.deliver(fix, now)
	}
}

// Forget drops the last known fix of provider.
func (f *Feed) Forget(provider string) {
	f.mu.Lock()
	delete(f.last, provider)
	f.mu.Unlock()
}

func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

var _ Source = (*Feed)(nil)
