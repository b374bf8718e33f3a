package relay

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gps-relay/internal/codec"
	"gps-relay/internal/logsink"
	"gps-relay/internal/mock"
	"gps-relay/internal/models"
)

const DefaultBufferSize = 1024

// Receiver listens for fix datagrams and pushes every valid fix into a
// mock provider. It moves Idle -> Listening on Start and back to Idle on
// Stop or on a socket failure.
type Receiver struct {
	sink       mock.Sink
	logs       logsink.Appender
	logger     zerolog.Logger
	bufferSize int
	now        func() time.Time
	elapsed    func() time.Duration

	mu       sync.Mutex
	state    State
	provider string
	sess     *session

	stats counters
}

// session is one Listening period. pushMu serializes a push with the end of
// the session so no fix reaches the sink after the provider is released.
type session struct {
	conn     *net.UDPConn
	provider string
	active   atomic.Bool
	pushMu   sync.Mutex
	done     chan struct{}
}

func NewReceiver(sink mock.Sink, providerName string, logs logsink.Appender, logger zerolog.Logger) *Receiver {
	if logs == nil {
		logs = logsink.Discard
	}
	if providerName == "" {
		providerName = models.DefaultMockProviderName
	}
	return &Receiver{
		sink:       sink,
		logs:       logs,
		logger:     logger,
		bufferSize: DefaultBufferSize,
		now:        time.Now,
		elapsed:    mock.Elapsed,
		provider:   providerName,
	}
}

// SetProviderName changes the mock provider used by the next Start.
func (r *Receiver) SetProviderName(name string) error {
	if name == "" {
		return fmt.Errorf("empty provider name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Listening {
		return fmt.Errorf("cannot change provider while listening")
	}
	r.provider = name
	return nil
}

func (r *Receiver) ProviderName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.provider
}

// Start registers the mock provider, binds the UDP port and spawns the
// receive loop. Calling Start while Listening is a no-op. Port 0 binds an
// ephemeral port, see Addr.
func (r *Receiver) Start(port uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Listening {
		r.logger.Debug().Msg("receiver already listening")
		return nil
	}

	provider := r.provider
	if err := r.sink.RegisterProvider(provider); err != nil {
		if errors.Is(err, mock.ErrAlreadyRegistered) {
			r.logger.Debug().Str("provider", provider).Msg("mock provider already registered")
		} else {
			r.stats.sinkErrors.Add(1)
			r.logger.Error().Err(err).Str("provider", provider).Msg("error setting up mock location provider")
			r.logs.Append(fmt.Sprintf("Error setting up mock location provider: %v", err))
		}
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		terr := &TransportError{Op: "listen", Addr: fmt.Sprintf(":%d", port), Err: err}
		r.unregisterLocked(provider)
		r.logger.Error().Err(terr).Msg("receiver failed to start")
		r.logs.Append(fmt.Sprintf("Error starting UDP receiver: %v", terr))
		return terr
	}

	sess := &session{conn: conn, provider: provider, done: make(chan struct{})}
	sess.active.Store(true)
	r.sess = sess
	r.state = Listening
	go r.loop(sess)

	local := conn.LocalAddr().(*net.UDPAddr)
	r.logger.Info().
		Int("port", local.Port).
		Str("provider", provider).
		Msg("receiver started")
	r.logs.Append(fmt.Sprintf("UDP Receiver started on port: %d", local.Port))

	return nil
}

// Stop closes the socket, which interrupts the blocked read, releases the
// mock provider and waits for the receive loop to exit. A fix being pushed
// when Stop is called is delivered before the provider is released; later
// ones are dropped. Stop may be called any number of times but not from a
// Sink method.
func (r *Receiver) Stop() {
	r.mu.Lock()
	if r.state != Listening {
		r.mu.Unlock()
		return
	}
	sess := r.sess
	r.state = Idle
	r.sess = nil
	sess.active.Store(false)
	if err := sess.conn.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("error closing socket")
	}
	sess.pushMu.Lock()
	sess.pushMu.Unlock()
	r.unregisterLocked(sess.provider)
	r.mu.Unlock()

	<-sess.done

	r.logger.Info().Msg("receiver stopped")
	r.logs.Append("UDP Receiver stopped")
}

func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Addr returns the bound address while Listening, nil otherwise.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	return r.sess.conn.LocalAddr()
}

func (r *Receiver) Stats() Stats {
	return r.stats.snapshot()
}

func (r *Receiver) loop(sess *session) {
	defer close(sess.done)
	r.stats.sessions.Add(1)

	buf := make([]byte, r.bufferSize)
	for {
		n, addr, err := sess.conn.ReadFromUDP(buf)
		if err != nil {
			r.endSession(sess, err)
			return
		}
		r.handleDatagram(buf[:n], addr, sess)
	}
}

func (r *Receiver) handleDatagram(data []byte, addr *net.UDPAddr, sess *session) {
	r.stats.received.Add(1)
	r.stats.bytesIn.Add(uint64(len(data)))

	logger := r.logger.With().Str("remote_addr", addr.String()).Logger()
	logger.Debug().Str("payload", string(data)).Msg("datagram received")

	fix, err := codec.Decode(data)
	if err != nil {
		r.stats.parseErrors.Add(1)
		logger.Warn().Err(err).Msg("error parsing location message")
		r.logs.Append(fmt.Sprintf("Error parsing location message: %v", err))
		return
	}

	if err := fix.Validate(); err != nil {
		r.stats.rejected.Add(1)
		logger.Warn().Err(err).Msg("discarding out of range fix")
		r.logs.Append(fmt.Sprintf("Discarded location: %v", err))
		return
	}

	wall := r.now()
	fix = fix.WithTimestamp(wall)

	sess.pushMu.Lock()
	if !sess.active.Load() {
		sess.pushMu.Unlock()
		logger.Debug().Msg("dropping fix received before stop")
		return
	}
	err = r.sink.Push(sess.provider, fix, wall, r.elapsed())
	sess.pushMu.Unlock()
	if err != nil {
		r.stats.sinkErrors.Add(1)
		logger.Error().Err(err).Msg("error updating mock location")
		r.logs.Append(fmt.Sprintf("Error updating mock location: %v", err))
		return
	}

	r.stats.pushed.Add(1)
	r.logs.Append(fmt.Sprintf("Received Location: Lat=%v, Lon=%v", fix.Latitude, fix.Longitude))
}

// endSession runs when the read fails. If Stop closed the socket the
// session is already over; otherwise the failure is fatal to the session.
func (r *Receiver) endSession(sess *session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sess != sess {
		r.logger.Debug().Msg("receive loop exited after stop")
		return
	}

	r.state = Idle
	r.sess = nil
	sess.active.Store(false)
	_ = sess.conn.Close()

	terr := &TransportError{Op: "receive", Addr: sess.conn.LocalAddr().String(), Err: err}
	r.logger.Error().Err(terr).Msg("receive loop terminated")
	r.logs.Append(fmt.Sprintf("Error receiving UDP packet: %v", terr))
	r.unregisterLocked(sess.provider)
}

func (r *Receiver) unregisterLocked(provider string) {
	if err := r.sink.UnregisterProvider(provider); err != nil && !errors.Is(err, mock.ErrNotRegistered) {
		r.stats.sinkErrors.Add(1)
		r.logger.Error().Err(err).Str("provider", provider).Msg("error removing mock location provider")
		r.logs.Append(fmt.Sprintf("Error removing mock location provider: %v", err))
	}
}
