package relay

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gps-relay/internal/codec"
	"gps-relay/internal/location"
	"gps-relay/internal/logsink"
	"gps-relay/internal/models"
)

var errSenderStopped = errors.New("sender stopped")

// Sender forwards fixes of a location provider to a remote UDP endpoint.
// Each fix is encoded on the callback goroutine and written from its own
// goroutine, so a slow socket never stalls fix delivery. Wire order is
// therefore not guaranteed to match callback order.
type Sender struct {
	source location.Source
	logs   logsink.Appender
	logger zerolog.Logger
	id     string

	mu       sync.Mutex
	state    State
	cfg      models.RelayConfig
	conn     net.PacketConn
	cancel   func()
	inflight sync.WaitGroup

	stats counters
}

func NewSender(source location.Source, logs logsink.Appender, logger zerolog.Logger) *Sender {
	if logs == nil {
		logs = logsink.Discard
	}
	id := uuid.New().String()
	return &Sender{
		source: source,
		logs:   logs,
		logger: logger.With().Str("sender_id", id).Logger(),
		id:     id,
	}
}

func (s *Sender) ID() string {
	return s.id
}

// Start subscribes to cfg.ProviderName and relays its fixes to the
// configured destination. The last known fix, if any, is relayed right
// away. Start on a running Sender is a no-op; changing cfg requires Stop.
func (s *Sender) Start(cfg models.RelayConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Relaying {
		s.logger.Debug().Msg("sender already running")
		return nil
	}

	if err := s.source.CheckPermission(cfg.ProviderName); err != nil {
		if !errors.Is(err, location.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", location.ErrPermissionDenied, err)
		}
		s.logger.Warn().Err(err).Str("provider", cfg.ProviderName).Msg("cannot start sender")
		s.logs.Append(fmt.Sprintf("Location permission not available for %s", cfg.ProviderName))
		return err
	}

	s.cfg = cfg
	s.state = Relaying
	s.stats.sessions.Add(1)

	if fix, ok := s.source.LastKnown(cfg.ProviderName); ok {
		s.dispatchLocked(fix)
	}

	cancel, err := s.source.Subscribe(cfg.ProviderName, cfg.PollInterval(), cfg.MinDistanceMeters, s.onFix)
	if err != nil {
		s.state = Idle
		s.closeLocked()
		return fmt.Errorf("failed to subscribe to provider %s: %w", cfg.ProviderName, err)
	}
	s.cancel = cancel

	s.logger.Info().
		Str("provider", cfg.ProviderName).
		Str("destination", cfg.DestinationAddr()).
		Uint64("poll_interval_ms", cfg.PollIntervalMillis).
		Float32("min_distance_m", cfg.MinDistanceMeters).
		Msg("sender started")
	s.logs.Append(fmt.Sprintf("Sender started: %s -> %s", cfg.ProviderName, cfg.DestinationAddr()))

	return nil
}

// Stop cancels the subscription and closes the socket. Relays already
// dispatched may still finish. Safe to call from any goroutine, any number
// of times.
func (s *Sender) Stop() {
	s.mu.Lock()
	if s.state != Relaying {
		s.mu.Unlock()
		return
	}
	s.state = Idle
	cancel := s.cancel
	s.cancel = nil
	s.closeLocked()
	s.mu.Unlock()

	// cancel outside the lock: it waits for an in-progress onFix, which
	// takes the lock itself
	if cancel != nil {
		cancel()
	}

	s.logger.Info().Msg("sender stopped")
	s.logs.Append("Sender stopped")
}

func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sender) Config() models.RelayConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Sender) Stats() Stats {
	return s.stats.snapshot()
}

// Wait blocks until every dispatched relay has returned.
func (s *Sender) Wait() {
	s.inflight.Wait()
}

// RelayFix encodes fix and writes it to the destination synchronously.
// A socket error is returned and logged, and the socket is kept for the
// next fix.
func (s *Sender) RelayFix(fix models.LocationFix) error {
	if err := fix.Validate(); err != nil {
		s.stats.rejected.Add(1)
		return err
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	return s.send(cfg, codec.Encode(fix))
}

func (s *Sender) onFix(fix models.LocationFix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Relaying {
		return
	}
	s.dispatchLocked(fix)
}

func (s *Sender) dispatchLocked(fix models.LocationFix) {
	s.stats.fixes.Add(1)
	if err := fix.Validate(); err != nil {
		s.stats.rejected.Add(1)
		s.logger.Warn().Err(err).Msg("discarding out of range fix")
		s.logs.Append(fmt.Sprintf("Discarded invalid fix: %v", err))
		return
	}

	payload := codec.Encode(fix)
	cfg := s.cfg

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		_ = s.send(cfg, payload)
	}()
}

func (s *Sender) send(cfg models.RelayConfig, payload []byte) error {
	conn, err := s.socket()
	if err != nil {
		if errors.Is(err, errSenderStopped) {
			s.logger.Debug().Msg("dropping fix relayed after stop")
			return err
		}
		return s.sendFailed(&TransportError{Op: "open socket", Err: err})
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.DestinationAddr())
	if err != nil {
		return s.sendFailed(&TransportError{Op: "resolve", Addr: cfg.DestinationAddr(), Err: err})
	}

	n, err := conn.WriteTo(payload, addr)
	if err != nil {
		return s.sendFailed(&TransportError{Op: "send", Addr: addr.String(), Err: err})
	}

	s.stats.sent.Add(1)
	s.stats.bytesOut.Add(uint64(n))
	s.logger.Debug().
		Str("destination", addr.String()).
		Str("payload", string(payload)).
		Msg("fix relayed")
	s.logs.Append(fmt.Sprintf("Sent: %s", payload))
	return nil
}

func (s *Sender) sendFailed(err *TransportError) error {
	s.stats.sendErrors.Add(1)
	s.logger.Error().Err(err).Msg("error sending UDP packet")
	s.logs.Append(fmt.Sprintf("Error sending UDP packet: %v", err))
	return err
}

// socket returns the shared socket, opening it on first use.
func (s *Sender) socket() (net.PacketConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Relaying {
		return nil, errSenderStopped
	}
	if s.conn == nil {
		conn, err := net.ListenPacket("udp", ":0")
		if err != nil {
			return nil, err
		}
		s.conn = conn
		s.logger.Debug().Str("local_addr", conn.LocalAddr().String()).Msg("socket opened")
	}
	return s.conn, nil
}

func (s *Sender) closeLocked() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("error closing socket")
		}
		s.conn = nil
	}
}
