package mock

import (
	"errors"
	"time"

	"gps-relay/internal/models"
)

// Fanout applies every operation to all sinks in order. A failing sink does
// not prevent the others from receiving the call; errors are joined. A
// registration sentinel is only reported when no sink failed for real.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	list := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			list = append(list, s)
		}
	}
	return &Fanout{sinks: list}
}

func (f *Fanout) RegisterProvider(name string) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.RegisterProvider(name); err != nil {
			errs = append(errs, err)
		}
	}
	return joinExcept(errs, ErrAlreadyRegistered)
}

func (f *Fanout) UnregisterProvider(name string) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.UnregisterProvider(name); err != nil {
			errs = append(errs, err)
		}
	}
	return joinExcept(errs, ErrNotRegistered)
}

func (f *Fanout) Push(name string, fix models.LocationFix, wall time.Time, elapsed time.Duration) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Push(name, fix, wall, elapsed); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func joinExcept(errs []error, benign error) error {
	var failed []error
	for _, err := range errs {
		if !errors.Is(err, benign) {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	return errors.Join(errs...)
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

var _ Sink = (*Fanout)(nil)
