// Package location provides position fix sources. A Source hands out the
// last known fix of a named provider and pushes live fixes to plain
// callbacks at a requested interval and distance cadence.
package location

import (
	"errors"
	"time"

	"gps-relay/internal/models"
)

var ErrPermissionDenied = errors.New("location permission denied")

// FixFunc receives fixes from a subscription. It may be called from any
// goroutine and must not call the cancel func of its own subscription.
type FixFunc func(fix models.LocationFix)

type Source interface {
	CheckPermission(provider string) error
	LastKnown(provider string) (models.LocationFix, bool)
	// Subscribe registers onFix for provider. Once the returned cancel func
	// returns, onFix is not invoked again.
	Subscribe(provider string, interval time.Duration, minDistance float32, onFix FixFunc) (cancel func(), err error)
}
