package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gps-relay/internal/config/shared"
)

const (
	ModeSender   = "sender"
	ModeReceiver = "receiver"
	ModeBoth     = "both"

	SourceSerial = "serial"
	SourceMQTT   = "mqtt"
)

type Config struct {
	Relay    RelayConfig    `json:"relay"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Postgres PostgresConfig `json:"postgres"`
	InfluxDB InfluxConfig   `json:"influxdb"`
	Logger   LoggerConfig   `json:"logger"`
	Service  ServiceConfig  `json:"service"`
}

type RelayConfig struct {
	Mode           string        `json:"mode"`
	SettingsFile   string        `json:"settings_file"`
	LocationSource string        `json:"location_source"`
	SerialPort     string        `json:"serial_port"`
	BaudRate       int           `json:"baud_rate"`
	StatsInterval  time.Duration `json:"stats_interval"`
}

func (r RelayConfig) SenderEnabled() bool {
	return r.Mode == ModeSender || r.Mode == ModeBoth
}

func (r RelayConfig) ReceiverEnabled() bool {
	return r.Mode == ModeReceiver || r.Mode == ModeBoth
}

type MQTTConfig struct {
	Enabled              bool          `json:"enabled"`
	Host                 string        `json:"host"`
	Port                 int           `json:"port"`
	Username             string        `json:"username"`
	Password             string        `json:"password"`
	ClientID             string        `json:"client_id"`
	BaseTopic            string        `json:"base_topic"`
	QoS                  byte          `json:"qos"`
	KeepAlive            time.Duration `json:"keep_alive"`
	AutoReconnect        bool          `json:"auto_reconnect"`
	MaxReconnectInterval time.Duration `json:"max_reconnect_interval"`
	CleanSession         bool          `json:"clean_session"`
}

func (m MQTTConfig) GetUrl() string {
	return fmt.Sprintf("tcp://%s:%d", m.Host, m.Port)
}

type PostgresConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Dsn      string `json:"dsn"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	TimeZone string `json:"timezone"`
}

type InfluxConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"`
	Token         string `json:"token"`
	Organization  string `json:"organization"`
	Bucket        string `json:"bucket"`
	BatchSize     int    `json:"batch_size"`
	FlushInterval int    `json:"flush_interval_seconds"`
}

type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type ServiceConfig struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	HTTPAddr string `json:"http_addr"`
}

// Load reads the process configuration from the environment. A .env file
// in the working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Relay: RelayConfig{
			Mode:           strings.ToLower(shared.GetEnv("RELAY_MODE", ModeReceiver)),
			SettingsFile:   shared.GetEnv("RELAY_SETTINGS_FILE", "relay.yaml"),
			LocationSource: strings.ToLower(shared.GetEnv("RELAY_LOCATION_SOURCE", SourceSerial)),
			SerialPort:     shared.GetEnv("GPS_SERIAL_PORT", "/dev/ttyUSB0"),
			BaudRate:       shared.GetEnvAsInt("GPS_BAUD_RATE", 9600),
			StatsInterval:  shared.GetEnvAsDuration("RELAY_STATS_INTERVAL", 30*time.Second),
		},
		MQTT: MQTTConfig{
			Enabled:              shared.GetEnvAsBool("MQTT_ENABLED", false),
			Host:                 shared.GetEnv("MQTT_HOST", "localhost"),
			Port:                 shared.GetEnvAsInt("MQTT_PORT", 1883),
			Username:             shared.GetEnv("MQTT_USERNAME", ""),
			Password:             shared.GetEnv("MQTT_PASSWORD", ""),
			ClientID:             shared.GetEnv("MQTT_CLIENT_ID", "gps-relay"),
			BaseTopic:            shared.GetEnv("MQTT_BASE_TOPIC", "gps-relay"),
			QoS:                  byte(shared.GetEnvAsInt("MQTT_QOS", 1)),
			KeepAlive:            shared.GetEnvAsDuration("MQTT_KEEP_ALIVE", 60*time.Second),
			AutoReconnect:        shared.GetEnvAsBool("MQTT_AUTO_RECONNECT", true),
			MaxReconnectInterval: shared.GetEnvAsDuration("MQTT_MAX_RECONNECT_INTERVAL", 10*time.Second),
			CleanSession:         shared.GetEnvAsBool("MQTT_CLEAN_SESSION", true),
		},
		Postgres: PostgresConfig{
			Enabled:  shared.GetEnvAsBool("POSTGRES_ENABLED", false),
			Host:     shared.GetEnv("POSTGRES_HOST", "localhost"),
			Port:     shared.GetEnvAsInt("POSTGRES_PORT", 5432),
			User:     shared.GetEnv("POSTGRES_USER", "postgres"),
			Password: shared.GetEnv("POSTGRES_PASSWORD", ""),
			Database: shared.GetEnv("POSTGRES_DATABASE", "gps_relay"),
			SSLMode:  shared.GetEnv("POSTGRES_SSL_MODE", "disable"),
			TimeZone: shared.GetEnv("POSTGRES_TIMEZONE", "UTC"),
		},
		InfluxDB: InfluxConfig{
			Enabled:       shared.GetEnvAsBool("INFLUXDB_ENABLED", false),
			URL:           shared.GetEnv("INFLUXDB_URL", "http://localhost:8086"),
			Token:         shared.GetEnv("INFLUXDB_TOKEN", ""),
			Organization:  shared.GetEnv("INFLUXDB_ORG", "gps_relay"),
			Bucket:        shared.GetEnv("INFLUXDB_BUCKET", "relay"),
			BatchSize:     shared.GetEnvAsInt("INFLUXDB_BATCH_SIZE", 100),
			FlushInterval: shared.GetEnvAsInt("INFLUXDB_FLUSH_INTERVAL", 10),
		},
		Logger: LoggerConfig{
			Level:  shared.GetEnv("LOG_LEVEL", "info"),
			Format: shared.GetEnv("LOG_FORMAT", "console"),
		},
		Service: ServiceConfig{
			Name:     shared.GetEnv("SERVICE_NAME", "gps-relay"),
			Version:  shared.GetEnv("SERVICE_VERSION", "1.0.0"),
			HTTPAddr: shared.GetEnv("HTTP_ADDR", ":8080"),
		},
	}

	config.MQTT.BaseTopic = strings.TrimSuffix(config.MQTT.BaseTopic, "/")

	sslMode := config.Postgres.SSLMode
	if sslMode == "false" || sslMode == "" {
		sslMode = "disable"
	}
	config.Postgres.Dsn = fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		config.Postgres.Host, config.Postgres.Port, config.Postgres.User, config.Postgres.Password,
		config.Postgres.Database, sslMode, config.Postgres.TimeZone,
	)

	return config, config.validate()
}

func (c *Config) validate() error {
	switch c.Relay.Mode {
	case ModeSender, ModeReceiver, ModeBoth:
	default:
		return &shared.ConfigError{Component: "relay", Field: "RELAY_MODE", Value: c.Relay.Mode,
			Message: "must be one of sender, receiver, both"}
	}

	if c.Relay.SenderEnabled() {
		switch c.Relay.LocationSource {
		case SourceSerial:
			if c.Relay.SerialPort == "" {
				return &shared.ConfigError{Component: "relay", Field: "GPS_SERIAL_PORT", Message: "is required for the serial source"}
			}
			if c.Relay.BaudRate <= 0 {
				return &shared.ConfigError{Component: "relay", Field: "GPS_BAUD_RATE", Value: c.Relay.BaudRate,
					Message: "must be greater than 0"}
			}
		case SourceMQTT:
			if !c.MQTT.Enabled {
				return &shared.ConfigError{Component: "relay", Field: "RELAY_LOCATION_SOURCE", Value: c.Relay.LocationSource,
					Message: "requires MQTT_ENABLED"}
			}
		default:
			return &shared.ConfigError{Component: "relay", Field: "RELAY_LOCATION_SOURCE", Value: c.Relay.LocationSource,
				Message: "must be serial or mqtt"}
		}
	}

	if c.Relay.StatsInterval <= 0 {
		return &shared.ConfigError{Component: "relay", Field: "RELAY_STATS_INTERVAL", Value: c.Relay.StatsInterval,
			Message: "must be greater than 0"}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			return &shared.ConfigError{Component: "mqtt", Field: "MQTT_HOST", Message: "is required"}
		}
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			return &shared.ConfigError{Component: "mqtt", Field: "MQTT_PORT", Value: c.MQTT.Port,
				Message: "must be between 1 and 65535"}
		}
		if c.MQTT.QoS > 2 {
			return &shared.ConfigError{Component: "mqtt", Field: "MQTT_QOS", Value: c.MQTT.QoS,
				Message: "must be 0, 1, or 2"}
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.Token == "" {
			return &shared.ConfigError{Component: "influxdb", Field: "INFLUXDB_TOKEN", Message: "is required"}
		}
		if !strings.HasPrefix(c.InfluxDB.URL, "http://") && !strings.HasPrefix(c.InfluxDB.URL, "https://") {
			return &shared.ConfigError{Component: "influxdb", Field: "INFLUXDB_URL", Value: c.InfluxDB.URL,
				Message: "must start with http:// or https://"}
		}
	}

	if c.Postgres.Enabled && c.Postgres.Host == "" {
		return &shared.ConfigError{Component: "postgres", Field: "POSTGRES_HOST", Message: "is required"}
	}

	return nil
}
