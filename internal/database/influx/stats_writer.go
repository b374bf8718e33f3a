package influx

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"gps-relay/internal/relay"
)

const StatsMeasurement = "relay_stats"

type PointWriter interface {
	WritePoint(point *write.Point)
}

// StatsWriter records relay counters. Coordinates are never written.
type StatsWriter struct {
	writer  PointWriter
	service string
	logger  zerolog.Logger
}

func NewStatsWriter(writer PointWriter, service string, logger zerolog.Logger) *StatsWriter {
	return &StatsWriter{
		writer:  writer,
		service: service,
		logger:  logger,
	}
}

// WriteStats queues one point for the given role ("sender" or "receiver").
func (w *StatsWriter) WriteStats(role string, state relay.State, stats relay.Stats, at time.Time) {
	tags := map[string]string{
		"service": w.service,
		"role":    role,
	}

	fields := map[string]interface{}{
		"state":        state.String(),
		"sessions":     int64(stats.Sessions),
		"fixes":        int64(stats.Fixes),
		"sent":         int64(stats.Sent),
		"send_errors":  int64(stats.SendErrors),
		"received":     int64(stats.Received),
		"parse_errors": int64(stats.ParseErrors),
		"rejected":     int64(stats.Rejected),
		"pushed":       int64(stats.Pushed),
		"sink_errors":  int64(stats.SinkErrors),
		"bytes_in":     int64(stats.BytesIn),
		"bytes_out":    int64(stats.BytesOut),
	}

	w.writer.WritePoint(influxdb2.NewPoint(StatsMeasurement, tags, fields, at))

	w.logger.Debug().
		Str("role", role).
		Str("state", state.String()).
		Msg("Added relay stats to influxDB")
}
