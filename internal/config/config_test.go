package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"gps-relay/internal/config/shared"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Relay.Mode != ModeReceiver || !cfg.Relay.ReceiverEnabled() || cfg.Relay.SenderEnabled() {
		t.Errorf("relay mode = %q", cfg.Relay.Mode)
	}
	if cfg.Relay.SettingsFile != "relay.yaml" || cfg.Service.HTTPAddr != ":8080" {
		t.Errorf("relay = %+v, service = %+v", cfg.Relay, cfg.Service)
	}
	if cfg.MQTT.Enabled || cfg.Postgres.Enabled || cfg.InfluxDB.Enabled {
		t.Error("backends must be disabled by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RELAY_MODE", "BOTH")
	t.Setenv("RELAY_STATS_INTERVAL", "5")
	t.Setenv("MQTT_BASE_TOPIC", "fleet/")
	t.Setenv("MQTT_KEEP_ALIVE", "15s")
	t.Setenv("POSTGRES_SSL_MODE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Relay.SenderEnabled() || !cfg.Relay.ReceiverEnabled() {
		t.Errorf("mode = %q", cfg.Relay.Mode)
	}
	if cfg.Relay.StatsInterval != 5*time.Second {
		t.Errorf("stats interval = %v", cfg.Relay.StatsInterval)
	}
	if cfg.MQTT.BaseTopic != "fleet" || cfg.MQTT.KeepAlive != 15*time.Second {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if want := "sslmode=disable"; !strings.Contains(cfg.Postgres.Dsn, want) {
		t.Errorf("dsn %q missing %q", cfg.Postgres.Dsn, want)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"bad mode", map[string]string{"RELAY_MODE": "relay"}, "RELAY_MODE"},
		{"bad source", map[string]string{"RELAY_MODE": "sender", "RELAY_LOCATION_SOURCE": "wifi"}, "RELAY_LOCATION_SOURCE"},
		{"mqtt source without broker", map[string]string{"RELAY_MODE": "sender", "RELAY_LOCATION_SOURCE": "mqtt"}, "RELAY_LOCATION_SOURCE"},
		{"bad qos", map[string]string{"MQTT_ENABLED": "true", "MQTT_QOS": "3"}, "MQTT_QOS"},
		{"influx without token", map[string]string{"INFLUXDB_ENABLED": "true"}, "INFLUXDB_TOKEN"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			var cerr *shared.ConfigError
			if !errors.As(err, &cerr) || cerr.Field != tc.field {
				t.Errorf("Load() = %v, want error on %s", err, tc.field)
			}
		})
	}
}
