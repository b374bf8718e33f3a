package location

import (
	"errors"
	"sync"
	"testing"
	"time"

	"gps-relay/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestFeed() (*Feed, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f := NewFeed()
	f.now = clock.Now
	return f, clock
}

func TestFeedLastKnown(t *testing.T) {
	f, _ := newTestFeed()
	if _, ok := f.LastKnown("gps"); ok {
		t.Fatal("expected no last known fix")
	}

	f.Publish("gps", models.NewLocationFix(1, 2))
	fix, ok := f.LastKnown("gps")
	if !ok || fix.Latitude != 1 || fix.Longitude != 2 {
		t.Errorf("LastKnown() = %v, %v", fix, ok)
	}
	if _, ok := f.LastKnown("network"); ok {
		t.Error("other provider should have no fix")
	}
}

func TestFeedInterval(t *testing.T) {
	f, clock := newTestFeed()

	var got []models.LocationFix
	cancel, err := f.Subscribe("gps", time.Second, 0, func(fix models.LocationFix) {
		got = append(got, fix)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	f.Publish("gps", models.NewLocationFix(1, 1))
	f.Publish("gps", models.NewLocationFix(2, 2))
	clock.Advance(time.Second)
	f.Publish("gps", models.NewLocationFix(3, 3))
	f.Publish("network", models.NewLocationFix(4, 4))

	if len(got) != 2 || got[0].Latitude != 1 || got[1].Latitude != 3 {
		t.Errorf("unexpected deliveries %v", got)
	}
}

func TestFeedMinDistance(t *testing.T) {
	f, clock := newTestFeed()

	count := 0
	cancel, _ := f.Subscribe("gps", 0, 1000, func(models.LocationFix) { count++ })
	defer cancel()

	f.Publish("gps", models.NewLocationFix(0, 0))
	clock.Advance(time.Second)
	f.Publish("gps", models.NewLocationFix(0.0001, 0))
	clock.Advance(time.Second)
	f.Publish("gps", models.NewLocationFix(1, 0))

	if count != 2 {
		t.Errorf("delivered %d fixes, want 2", count)
	}
}

func TestFeedCancel(t *testing.T) {
	f, _ := newTestFeed()

	count := 0
	cancel, _ := f.Subscribe("gps", 0, 0, func(models.LocationFix) { count++ })
	f.Publish("gps", models.NewLocationFix(0, 0))
	cancel()
	cancel()
	f.Publish("gps", models.NewLocationFix(1, 1))

	if count != 1 {
		t.Errorf("delivered %d fixes after cancel, want 1", count)
	}
	if f.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d", f.Subscribers())
	}
}

func TestFeedPermission(t *testing.T) {
	f, _ := newTestFeed()
	if err := f.CheckPermission("gps"); err != nil {
		t.Fatal(err)
	}
	f.SetPermission("gps", false)
	if err := f.CheckPermission("gps"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("CheckPermission() = %v", err)
	}
	f.SetPermission("gps", true)
	if err := f.CheckPermission("gps"); err != nil {
		t.Error(err)
	}
}

func TestFeedSubscribeValidation(t *testing.T) {
	f, _ := newTestFeed()
	if _, err := f.Subscribe("gps", 0, 0, nil); err == nil {
		t.Error("expected error for nil callback")
	}
	if _, err := f.Subscribe("gps", -time.Second, 0, func(models.LocationFix) {}); err == nil {
		t.Error("expected error for negative interval")
	}
}
