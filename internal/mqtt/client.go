package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gps-relay/internal/config"
)

// MessageHandler receives the topic and payload of an inbound message.
type MessageHandler func(topic string, payload []byte)

type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topics ...string) error
}

type Client struct {
	client    mqtt.Client
	config    *config.MQTTConfig
	logger    zerolog.Logger
	connected atomic.Bool
	timeout   time.Duration
}

func NewClient(cfg *config.MQTTConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("MQTT host is required")
	}

	opts := mqtt.NewClientOptions()

	brokerURL := cfg.GetUrl()
	opts.AddBroker(brokerURL)

	clientID := fmt.Sprintf("%s-%s", cfg.ClientID, uuid.New().String()[:8])
	opts.SetClientID(clientID)

	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetAutoReconnect(cfg.AutoReconnect)
	opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval)
	opts.SetCleanSession(cfg.CleanSession)

	mqttClient := &Client{
		config:  cfg,
		logger:  logger.With().Str("client_id", clientID).Logger(),
		timeout: 5 * time.Second,
	}

	opts.SetOnConnectHandler(mqttClient.onConnect)
	opts.SetConnectionLostHandler(mqttClient.onConnectionLost)

	mqttClient.client = mqtt.NewClient(opts)

	return mqttClient, nil
}

func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()

	select {
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("error connecting to MQTT broker: %w", token.Error())
		}
		c.connected.Store(true)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connection to MQTT broker timed out: %w", ctx.Err())
	}
}

func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		c.logger.Info().Msg("disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.connected.Store(false)
	}
}

func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if !c.client.IsConnected() {
		return fmt.Errorf("MQTT client is not connected, cannot subscribe to topic %s", topic)
	}

	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("subscribe to topic %s timed out", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("error subscribing to topic %s: %w", topic, token.Error())
	}

	c.logger.Info().Str("topic", topic).Msg("Added topic subscription")

	return nil
}

func (c *Client) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("unsubscribe timed out")
	}
	if token.Error() != nil {
		return fmt.Errorf("error unsubscribing from %v: %w", topics, token.Error())
	}
	return nil
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("publish to topic %s timed out", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.Debug().
		Str("topic", topic).
		Int("payload_size", len(payload)).
		Bool("retained", retained).
		Msg("successfully published message")

	return nil
}

func (c *Client) PublishJSON(topic string, qos byte, retained bool, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Publish(topic, qos, retained, payload)
}

func (c *Client) QoS() byte {
	return c.config.QoS
}

func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.logger.Info().
		Str("broker", c.config.Host).
		Msg("Successfully connected to broker")
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	c.connected.Store(false)
	c.logger.Warn().Err(err).Msg("lost connection to broker")
}

var (
	_ Publisher  = (*Client)(nil)
	_ Subscriber = (*Client)(nil)
)
