package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"gps-relay/internal/config"
)

type InfluxDB struct {
	client     influxdb2.Client
	writeAPI   api.WriteAPI
	config     *config.InfluxConfig
	logger     zerolog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
}

func NewConnection(cfg *config.InfluxConfig, logger zerolog.Logger) (*InfluxDB, error) {
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval) * 1000)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	loopCtx, cancelFunc := context.WithCancel(context.Background())
	influxDB := &InfluxDB{
		client:     client,
		writeAPI:   client.WriteAPI(cfg.Organization, cfg.Bucket),
		config:     cfg,
		logger:     logger,
		ctx:        loopCtx,
		cancelFunc: cancelFunc,
	}

	go influxDB.handleWriteErrors()

	logger.Info().
		Str("url", cfg.URL).
		Str("organization", cfg.Organization).
		Str("bucket", cfg.Bucket).
		Msg("Successfully connected to InfluxDB")

	return influxDB, nil
}

func (i *InfluxDB) handleWriteErrors() {
	errorsCh := i.writeAPI.Errors()
	for {
		select {
		case err := <-errorsCh:
			i.logger.Error().Err(err).Msg("Write error occurred")
		case <-i.ctx.Done():
			return
		}
	}
}

func (i *InfluxDB) WritePoint(point *write.Point) {
	i.writeAPI.WritePoint(point)
}

func (i *InfluxDB) Close() {
	i.writeAPI.Flush()
	i.cancelFunc()
	i.client.Close()
}
