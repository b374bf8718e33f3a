package location

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"gps-relay/internal/codec"
	"gps-relay/internal/models"
	"gps-relay/internal/mqtt"
)

// MQTTSource publishes fixes received on <base>/fixes/<provider>. Payloads
// are either JSON objects {"lat":..,"lon":..,"time":..} or the relay wire
// text format.
type MQTTSource struct {
	*Feed
	subscriber   mqtt.Subscriber
	topicManager *mqtt.TopicManager
	qos          byte
	logger       zerolog.Logger
}

func NewMQTTSource(subscriber mqtt.Subscriber, topicManager *mqtt.TopicManager, qos byte, logger zerolog.Logger) *MQTTSource {
	return &MQTTSource{
		Feed:         NewFeed(),
		subscriber:   subscriber,
		topicManager: topicManager,
		qos:          qos,
		logger:       logger,
	}
}

func (s *MQTTSource) Start() error {
	topic := s.topicManager.GetFixSubTopic()
	if err := s.subscriber.Subscribe(topic, s.qos, s.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to fix topic: %w", err)
	}
	return nil
}

func (s *MQTTSource) Stop() error {
	return s.subscriber.Unsubscribe(s.topicManager.GetFixSubTopic())
}

func (s *MQTTSource) HandleMessage(topic string, payload []byte) {
	provider, err := s.topicManager.ExtractProvider(topic)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring message on unexpected topic")
		return
	}

	fix, err := decodeFixPayload(payload)
	if err != nil {
		s.logger.Error().Err(err).
			Str("topic", topic).
			Msg("Failed to parse fix message")
		return
	}
	if err := fix.Validate(); err != nil {
		s.logger.Warn().Err(err).
			Str("provider", provider).
			Msg("discarding out of range fix")
		return
	}

	s.logger.Debug().
		Str("provider", provider).
		Float64("lat", fix.Latitude).
		Float64("lon", fix.Longitude).
		Msg("fix received")

	s.Publish(provider, fix)
}

func decodeFixPayload(payload []byte) (models.LocationFix, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var fix models.LocationFix
		if err := json.Unmarshal(trimmed, &fix); err != nil {
			return models.LocationFix{}, fmt.Errorf("invalid JSON: %w", err)
		}
		return fix, nil
	}
	return codec.Decode(trimmed)
}

var _ Source = (*MQTTSource)(nil)
