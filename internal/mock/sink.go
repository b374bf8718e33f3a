// Package mock publishes relayed fixes into synthetic location providers
// that downstream consumers read as if they were real positioning hardware.
package mock

import (
	"errors"
	"fmt"
	"time"

	"gps-relay/internal/models"
)

var (
	ErrAlreadyRegistered = errors.New("provider already registered")
	ErrNotRegistered     = errors.New("provider not registered")
)

type Op string

const (
	OpRegister   Op = "register"
	OpUnregister Op = "unregister"
	OpPush       Op = "push"
)

type SinkError struct {
	Op       Op
	Provider string
	Err      error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("mock provider %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Sink is a synthetic location provider backend. Push carries the wall
// clock time of arrival and the monotonic time elapsed since process start.
type Sink interface {
	RegisterProvider(name string) error
	UnregisterProvider(name string) error
	Push(name string, fix models.LocationFix, wall time.Time, elapsed time.Duration) error
}

func sinkErr(op Op, provider string, err error) error {
	if err == nil {
		return nil
	}
	var serr *SinkError
	if errors.As(err, &serr) {
		return err
	}
	return &SinkError{Op: op, Provider: provider, Err: err}
}

var bootTime = time.Now()

// Elapsed returns the monotonic duration since process start.
func Elapsed() time.Duration {
	return time.Since(bootTime)
}
