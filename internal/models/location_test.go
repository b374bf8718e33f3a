package models

import (
	"errors"
	"math"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		fix  LocationFix
		ok   bool
	}{
		{"origin", NewLocationFix(0, 0), true},
		{"corners", NewLocationFix(-90, 180), true},
		{"other corners", NewLocationFix(90, -180), true},
		{"lat too high", NewLocationFix(91, 0), false},
		{"lat too low", NewLocationFix(-90.0001, 0), false},
		{"lon too high", NewLocationFix(0, 180.5), false},
		{"nan", NewLocationFix(math.NaN(), 0), false},
	}

	for _, c := range cases {
		err := c.fix.Validate()
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("%s: expected ValidationError, got %v", c.name, err)
			}
		}
	}
}

func TestDistanceTo(t *testing.T) {
	a := NewLocationFix(0, 0)
	if d := a.DistanceTo(a); d != 0 {
		t.Errorf("distance to self = %v", d)
	}

	// one degree of latitude is roughly 111.2 km
	d := a.DistanceTo(NewLocationFix(1, 0))
	if d < 111000 || d > 111400 {
		t.Errorf("one degree distance = %v", d)
	}
}

func TestRelayConfigValidate(t *testing.T) {
	cfg := DefaultRelayConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.DestinationHost = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty host")
	}

	cfg = DefaultRelayConfig()
	cfg.PollIntervalMillis = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero poll interval")
	}

	cfg = DefaultRelayConfig()
	cfg.MinDistanceMeters = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative distance")
	}

	cfg = DefaultRelayConfig()
	if got := cfg.DestinationAddr(); got != "127.0.0.1:12345" {
		t.Errorf("DestinationAddr() = %s", got)
	}
}
