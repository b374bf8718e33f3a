package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"gps-relay/internal/api"
	"gps-relay/internal/config"
	"gps-relay/internal/database/influx"
	"gps-relay/internal/database/postgres"
	"gps-relay/internal/database/postgres/repositories"
	"gps-relay/internal/location"
	"gps-relay/internal/logger"
	"gps-relay/internal/logsink"
	"gps-relay/internal/mock"
	"gps-relay/internal/mqtt"
	"gps-relay/internal/relay"
	"gps-relay/internal/services"
	"gps-relay/internal/settings"
)

type Application struct {
	config *config.Config

	postgresDB *postgres.PostgresDB
	influxDB   *influx.InfluxDB

	mqttClient   *mqtt.Client
	topicManager *mqtt.TopicManager

	settings *settings.Store
	logs     *logsink.Buffer
	registry *mock.Registry

	serialSource *location.SerialSource
	mqttSource   *location.MQTTSource

	relayService *services.RelayService
	apiServer    *api.Server

	shutdownChan chan os.Signal
	ctx          context.Context
	cancelFunc   context.CancelFunc
}

func main() {
	app := &Application{}

	if err := app.initialize(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	if err := app.run(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run application")
	}
}

func (app *Application) initialize() error {
	var err error

	app.config, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.NewLogger(app.config.Logger)
	log.Info().
		Str("component", "main").
		Str("service", app.config.Service.Name).
		Str("version", app.config.Service.Version).
		Str("mode", app.config.Relay.Mode).
		Msg("Setting up service...")

	app.ctx, app.cancelFunc = context.WithCancel(context.Background())
	app.shutdownChan = make(chan os.Signal, 1)
	signal.Notify(app.shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	app.logs = logsink.NewBuffer(logsink.DefaultCapacity)

	app.settings, err = settings.Open(app.config.Relay.SettingsFile, logger.GetLogger("settings"))
	if err != nil {
		return fmt.Errorf("error while loading relay settings: %w", err)
	}

	if err := app.initializeDatabases(); err != nil {
		return fmt.Errorf("error while initialize databases: %w", err)
	}

	if err := app.initializeMQTT(); err != nil {
		return fmt.Errorf("error while initializing MQTT: %w", err)
	}

	source, err := app.initializeLocationSource()
	if err != nil {
		return fmt.Errorf("error while initializing location source: %w", err)
	}

	app.initializeRelay(source)
	app.initializeAPI()

	log.Info().Msg("Successfully initialized application")
	return nil
}

func (app *Application) initializeDatabases() error {
	var err error

	if app.config.Postgres.Enabled {
		app.postgresDB, err = postgres.NewConnection(app.config.Postgres)
		if err != nil {
			return fmt.Errorf("could not connect to PostgreSQL: %w", err)
		}
		log.Info().
			Str("component", "main").
			Str("host", app.config.Postgres.Host).
			Msg("Successfully initialized PostgreSQL")
	}

	if app.config.InfluxDB.Enabled {
		app.influxDB, err = influx.NewConnection(&app.config.InfluxDB, logger.GetLogger("influxdb"))
		if err != nil {
			return fmt.Errorf("could not connect to InfluxDB: %w", err)
		}
	}

	return nil
}

func (app *Application) initializeMQTT() error {
	if !app.config.MQTT.Enabled {
		return nil
	}

	var err error
	app.topicManager = mqtt.NewTopicManager(app.config.MQTT.BaseTopic)

	app.mqttClient, err = mqtt.NewClient(&app.config.MQTT, logger.GetLogger("mqtt-client"))
	if err != nil {
		return fmt.Errorf("could not create MQTT client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(app.ctx, 30*time.Second)
	defer cancel()

	if err := app.mqttClient.Connect(connectCtx); err != nil {
		return fmt.Errorf("could not connect to MQTT broker: %w", err)
	}

	log.Info().
		Str("component", "main").
		Msg("Successfully initialized MQTT client")
	return nil
}

// initializeLocationSource opens the source that feeds the Sender. A host
// running only the receiver gets none.
func (app *Application) initializeLocationSource() (location.Source, error) {
	if !app.config.Relay.SenderEnabled() {
		return location.NewFeed(), nil
	}

	switch app.config.Relay.LocationSource {
	case config.SourceMQTT:
		app.mqttSource = location.NewMQTTSource(app.mqttClient, app.topicManager, app.config.MQTT.QoS, logger.GetLogger("mqtt-source"))
		if err := app.mqttSource.Start(); err != nil {
			return nil, err
		}
		return app.mqttSource, nil
	default:
		src, err := location.OpenSerial(location.SerialOptions{
			PortName: app.config.Relay.SerialPort,
			BaudRate: uint(app.config.Relay.BaudRate),
		}, logger.GetLogger("serial-source"))
		if err != nil {
			return nil, err
		}
		app.serialSource = src
		go func() {
			if err := src.Run(app.ctx); err != nil {
				log.Error().Err(err).Msg("GPS serial source stopped")
			}
		}()
		return src, nil
	}
}

func (app *Application) initializeRelay(source location.Source) {
	app.registry = mock.NewRegistry()

	sinks := []mock.Sink{app.registry}
	if app.postgresDB != nil {
		repo := repositories.NewProviderRepository(app.postgresDB.GetDB())
		sinks = append(sinks, mock.NewStoreSink(repo, logger.GetLogger("store-sink")))
	}
	if app.mqttClient != nil {
		sinks = append(sinks, mock.NewMQTTSink(app.mqttClient, app.topicManager, app.mqttClient.QoS(), logger.GetLogger("mqtt-sink")))
	}

	sender := relay.NewSender(source, app.logs, logger.GetLogger("sender"))
	receiver := relay.NewReceiver(mock.NewFanout(sinks...), app.settings.MockProviderName(), app.logs, logger.GetLogger("receiver"))

	var stats services.StatsRecorder
	if app.influxDB != nil {
		stats = influx.NewStatsWriter(app.influxDB, app.config.Service.Name, logger.GetLogger("stats-writer"))
	}

	app.relayService = services.NewRelayService(sender, receiver, app.settings, stats, logger.GetLogger("relay-service"))

	log.Info().
		Str("component", "main").
		Int("mock_sinks", len(sinks)).
		Msg("Successfully initialized relay")
}

func (app *Application) initializeAPI() {
	app.apiServer = api.NewServer(
		api.Config{ListenAddr: app.config.Service.HTTPAddr},
		app.relayService,
		app.settings,
		app.logs,
		app.registry,
		logger.GetLogger("api"),
	)
}

func (app *Application) run() error {
	go app.relayService.Run(app.ctx, app.config.Relay.StatsInterval)

	if app.config.Relay.ReceiverEnabled() {
		if err := app.relayService.StartReceiver(); err != nil {
			log.Error().Err(err).Msg("Failed to start receiver")
		}
	}
	if app.config.Relay.SenderEnabled() {
		if err := app.relayService.StartSender(); err != nil {
			log.Error().Err(err).Msg("Failed to start sender")
		}
	}

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- app.apiServer.Run()
	}()

	select {
	case sig := <-app.shutdownChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-apiErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP API stopped")
		}
	case <-app.ctx.Done():
		log.Info().Msg("context cancelled, shutting down application")
	}

	return app.shutdown()
}

func (app *Application) shutdown() error {
	var errs []error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if app.relayService != nil {
		app.relayService.Shutdown()
	}

	if app.settings != nil {
		if err := app.settings.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing settings watcher")
		}
	}

	if app.mqttSource != nil {
		if err := app.mqttSource.Stop(); err != nil {
			log.Warn().Err(err).Msg("Error unsubscribing MQTT location source")
		}
	}

	// cancels the stats loop and the serial reader
	app.cancelFunc()
	if app.serialSource != nil {
		_ = app.serialSource.Close()
	}

	if app.mqttClient != nil {
		app.mqttClient.Disconnect()
	}

	if app.influxDB != nil {
		app.influxDB.Close()
	}

	if app.postgresDB != nil {
		if err := app.postgresDB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing PostgreSQL connection")
		}
	}

	log.Info().Msg("Shutdown complete")
	return errors.Join(errs...)
}
