package mock

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gps-relay/internal/models"
	"gps-relay/internal/mqtt"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type locationMessage struct {
	Provider  string    `json:"provider"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Time      time.Time `json:"time"`
	ElapsedNs int64     `json:"elapsed_ns"`
}

// MQTTSink mirrors mock providers on the broker as retained status and
// location topics.
type MQTTSink struct {
	publisher    mqtt.Publisher
	topicManager *mqtt.TopicManager
	qos          byte
	logger       zerolog.Logger
}

func NewMQTTSink(publisher mqtt.Publisher, topicManager *mqtt.TopicManager, qos byte, logger zerolog.Logger) *MQTTSink {
	return &MQTTSink{
		publisher:    publisher,
		topicManager: topicManager,
		qos:          qos,
		logger:       logger,
	}
}

func (s *MQTTSink) RegisterProvider(name string) error {
	topic := s.topicManager.GetProviderStatusTopic(name)
	if err := s.publisher.Publish(topic, s.qos, true, []byte(StatusOnline)); err != nil {
		return sinkErr(OpRegister, name, err)
	}
	s.logger.Info().Str("provider", name).Msg("mock provider online")
	return nil
}

func (s *MQTTSink) UnregisterProvider(name string) error {
	// an empty retained payload clears the last location on the broker
	locTopic := s.topicManager.GetProviderLocationTopic(name)
	if err := s.publisher.Publish(locTopic, s.qos, true, nil); err != nil {
		return sinkErr(OpUnregister, name, err)
	}
	statusTopic := s.topicManager.GetProviderStatusTopic(name)
	if err := s.publisher.Publish(statusTopic, s.qos, true, []byte(StatusOffline)); err != nil {
		return sinkErr(OpUnregister, name, err)
	}
	s.logger.Info().Str("provider", name).Msg("mock provider offline")
	return nil
}

func (s *MQTTSink) Push(name string, fix models.LocationFix, wall time.Time, elapsed time.Duration) error {
	payload, err := json.Marshal(locationMessage{
		Provider:  name,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Time:      wall.UTC(),
		ElapsedNs: elapsed.Nanoseconds(),
	})
	if err != nil {
		return sinkErr(OpPush, name, fmt.Errorf("failed to marshal location: %w", err))
	}

	topic := s.topicManager.GetProviderLocationTopic(name)
	if err := s.publisher.Publish(topic, s.qos, true, payload); err != nil {
		return sinkErr(OpPush, name, err)
	}
	return nil
}

var _ Sink = (*MQTTSink)(nil)
