package services

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gps-relay/internal/models"
	"gps-relay/internal/relay"
)

const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)

type SettingsProvider interface {
	RelayConfig() (models.RelayConfig, error)
	ListenPort() (uint16, error)
	MockProviderName() string
	Watch(fn func())
}

type StatsRecorder interface {
	WriteStats(role string, state relay.State, stats relay.Stats, at time.Time)
}

type ComponentStatus struct {
	State  relay.State         `json:"state"`
	Stats  relay.Stats         `json:"stats"`
	Config *models.RelayConfig `json:"config,omitempty"`
	Addr   string              `json:"addr,omitempty"`
}

type Status struct {
	Sender   ComponentStatus `json:"sender"`
	Receiver ComponentStatus `json:"receiver"`
}

// RelayService is the host of one Sender and one Receiver. It reads their
// configuration from the settings provider and restarts running components
// when the settings change.
type RelayService struct {
	sender   *relay.Sender
	receiver *relay.Receiver
	settings SettingsProvider
	stats    StatsRecorder
	logger   zerolog.Logger

	mu        sync.Mutex
	watchOnce sync.Once
}

func NewRelayService(sender *relay.Sender, receiver *relay.Receiver, settings SettingsProvider, stats StatsRecorder, logger zerolog.Logger) *RelayService {
	return &RelayService{
		sender:   sender,
		receiver: receiver,
		settings: settings,
		stats:    stats,
		logger:   logger,
	}
}

func (s *RelayService) StartSender() error {
	cfg, err := s.settings.RelayConfig()
	if err != nil {
		return fmt.Errorf("cannot start sender: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender.Start(cfg)
}

func (s *RelayService) StopSender() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender.Stop()
}

func (s *RelayService) StartReceiver() error {
	port, err := s.settings.ListenPort()
	if err != nil {
		return fmt.Errorf("cannot start receiver: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startReceiverLocked(s.settings.MockProviderName(), port)
}

func (s *RelayService) startReceiverLocked(provider string, port uint16) error {
	if s.receiver.State() != relay.Listening && provider != "" {
		if err := s.receiver.SetProviderName(provider); err != nil {
			return err
		}
	}
	return s.receiver.Start(port)
}

func (s *RelayService) StopReceiver() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiver.Stop()
}

// ApplySettings re-reads the settings and restarts every running component
// whose configuration changed. Idle components stay idle and pick the new
// values up on their next start. The Receiver only depends on the listen
// port and mock provider name, so it is restarted even when the Sender
// configuration does not validate.
func (s *RelayService) ApplySettings() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sender.State() == relay.Relaying {
		s.applySenderLocked()
	}
	if s.receiver.State() == relay.Listening {
		s.applyReceiverLocked()
	}
}

func (s *RelayService) applySenderLocked() {
	cfg, err := s.settings.RelayConfig()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Keeping sender on previous settings")
		return
	}
	if cfg == s.sender.Config() {
		return
	}

	s.sender.Stop()
	if err := s.sender.Start(cfg); err != nil {
		s.logger.Error().Err(err).Msg("Failed to restart sender with new settings")
		return
	}
	s.logger.Info().Str("destination", cfg.DestinationAddr()).Msg("Sender restarted with new settings")
}

func (s *RelayService) applyReceiverLocked() {
	port, err := s.settings.ListenPort()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Keeping receiver on previous settings")
		return
	}
	provider := s.settings.MockProviderName()
	if provider == "" {
		provider = s.receiver.ProviderName()
	}

	// port 0 accepts whatever port is bound
	bound, _ := s.receiver.Addr().(*net.UDPAddr)
	samePort := port == 0 || (bound != nil && bound.Port == int(port))
	if samePort && provider == s.receiver.ProviderName() {
		return
	}

	s.receiver.Stop()
	if err := s.startReceiverLocked(provider, port); err != nil {
		s.logger.Error().Err(err).Msg("Failed to restart receiver with new settings")
		return
	}
	s.logger.Info().Uint16("port", port).Str("provider", provider).Msg("Receiver restarted with new settings")
}

func (s *RelayService) Status() Status {
	senderCfg := s.sender.Config()
	status := Status{
		Sender: ComponentStatus{
			State: s.sender.State(),
			Stats: s.sender.Stats(),
		},
		Receiver: ComponentStatus{
			State: s.receiver.State(),
			Stats: s.receiver.Stats(),
		},
	}
	if status.Sender.State == relay.Relaying {
		status.Sender.Config = &senderCfg
	}
	if addr := s.receiver.Addr(); addr != nil {
		status.Receiver.Addr = addr.String()
	}
	return status
}

// Run subscribes to settings changes and, when a stats recorder is set,
// records component counters every interval until ctx is cancelled.
func (s *RelayService) Run(ctx context.Context, interval time.Duration) {
	s.watchOnce.Do(func() {
		s.settings.Watch(s.ApplySettings)
	})

	if s.stats == nil || interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.recordStats()
			return
		case <-ticker.C:
			s.recordStats()
		}
	}
}

func (s *RelayService) recordStats() {
	now := time.Now()
	s.stats.WriteStats(RoleSender, s.sender.State(), s.sender.Stats(), now)
	s.stats.WriteStats(RoleReceiver, s.receiver.State(), s.receiver.Stats(), now)
}

// Shutdown stops both components.
func (s *RelayService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sender.Stop()
	s.receiver.Stop()
	s.sender.Wait()

	s.logger.Info().Msg("Relay service stopped")
}
