package models

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPollIntervalMillis = 5
	DefaultDestinationPort    = 12345
	DefaultProviderName       = "gps"
	DefaultMockProviderName   = "UDP_MOCK_PROVIDER"
)

// RelayConfig is fixed for the lifetime of a started Sender or Receiver.
// Changing it requires stop and start.
type RelayConfig struct {
	DestinationHost    string  `json:"destination_host" validate:"required"`
	DestinationPort    uint16  `json:"destination_port" validate:"required"`
	PollIntervalMillis uint64  `json:"poll_interval_millis" validate:"gte=1"`
	ProviderName       string  `json:"provider_name" validate:"required"`
	MinDistanceMeters  float32 `json:"min_distance_meters" validate:"gte=0"`
	MockProviderName   string  `json:"mock_provider_name"`
}

var validate = validator.New()

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		DestinationHost:    "127.0.0.1",
		DestinationPort:    DefaultDestinationPort,
		PollIntervalMillis: DefaultPollIntervalMillis,
		ProviderName:       DefaultProviderName,
		MockProviderName:   DefaultMockProviderName,
	}
}

func (c RelayConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid relay config: %w", err)
	}
	return nil
}

// ValidateExcept validates every field but the named ones.
func (c RelayConfig) ValidateExcept(fields ...string) error {
	if err := validate.StructExcept(c, fields...); err != nil {
		return fmt.Errorf("invalid relay config: %w", err)
	}
	return nil
}

func (c RelayConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func (c RelayConfig) DestinationAddr() string {
	return net.JoinHostPort(c.DestinationHost, strconv.Itoa(int(c.DestinationPort)))
}
