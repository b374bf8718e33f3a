package relay

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle state of a Sender or Receiver. Both components
// only move between Idle and their single active state.
type State int32

const (
	Idle State = iota
	Relaying
	Listening
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Relaying:
		return "relaying"
	case Listening:
		return "listening"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats is a point in time copy of component counters.
type Stats struct {
	Sessions    uint64 `json:"sessions"`
	Fixes       uint64 `json:"fixes"`
	Sent        uint64 `json:"sent"`
	SendErrors  uint64 `json:"send_errors"`
	Received    uint64 `json:"received"`
	ParseErrors uint64 `json:"parse_errors"`
	Rejected    uint64 `json:"rejected"`
	Pushed      uint64 `json:"pushed"`
	SinkErrors  uint64 `json:"sink_errors"`
	BytesIn     uint64 `json:"bytes_in"`
	BytesOut    uint64 `json:"bytes_out"`
}

type counters struct {
	sessions    atomic.Uint64
	fixes       atomic.Uint64
	sent        atomic.Uint64
	sendErrors  atomic.Uint64
	received    atomic.Uint64
	parseErrors atomic.Uint64
	rejected    atomic.Uint64
	pushed      atomic.Uint64
	sinkErrors  atomic.Uint64
	bytesIn     atomic.Uint64
	bytesOut    atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Sessions:    c.sessions.Load(),
		Fixes:       c.fixes.Load(),
		Sent:        c.sent.Load(),
		SendErrors:  c.sendErrors.Load(),
		Received:    c.received.Load(),
		ParseErrors: c.parseErrors.Load(),
		Rejected:    c.rejected.Load(),
		Pushed:      c.pushed.Load(),
		SinkErrors:  c.sinkErrors.Load(),
		BytesIn:     c.bytesIn.Load(),
		BytesOut:    c.bytesOut.Load(),
	}
}
