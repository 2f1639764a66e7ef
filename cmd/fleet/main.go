package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/benmeehan/iot-fleet/internal/fanout"
	"github.com/benmeehan/iot-fleet/internal/handlers"
	"github.com/benmeehan/iot-fleet/internal/ingress"
	"github.com/benmeehan/iot-fleet/internal/metrics"
	"github.com/benmeehan/iot-fleet/internal/presence"
	"github.com/benmeehan/iot-fleet/internal/service_registry"
	"github.com/benmeehan/iot-fleet/internal/services"
	"github.com/benmeehan/iot-fleet/internal/subscribers"
	"github.com/benmeehan/iot-fleet/internal/utils"
	"github.com/benmeehan/iot-fleet/pkg/file"
	"github.com/benmeehan/iot-fleet/pkg/identity"
	"github.com/benmeehan/iot-fleet/pkg/mqtt"
	"github.com/benmeehan/iot-fleet/pkg/s3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	logLevel := pflag.String("log-level", "", "override the configured log level")
	pflag.Parse()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		bootstrap := utils.NewLogger("info", "json")
		bootstrap.Fatal().Err(err).Str("config", *configPath).Msg("Failed to load configuration")
	}
	if *logLevel != "" {
		config.Logging.Level = *logLevel
	}

	logger := utils.NewLogger(config.Logging.Level, config.Logging.Format)
	logger.Info().Str("fanout", config.Fanout.Backend).Str("address", config.Server.Address).Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the shared MQTT connection when a component needs the broker
	var mqttClient mqtt.MQTTClient
	if config.NeedsMQTT() {
		// Generate a unique MQTT Client ID by appending a UUID
		config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
		logger.Info().Str("client_id", config.MQTT.ClientID).Msg("Using MQTT Client ID")

		mqttService := mqtt.NewMqttService(fileClient, logger)
		err = mqttService.Initialize(mqtt.Options{
			Broker:         config.MQTT.Broker,
			ClientID:       config.MQTT.ClientID,
			CACertPath:     config.MQTT.CACertificate,
			Username:       config.MQTT.Username,
			Password:       config.MQTT.Password,
			ConnectTimeout: config.MQTT.ConnectTimeout,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		mqttClient = mqttService
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Presence core: store, direct-push registry, fanout and the orchestrator
	store := presence.NewStore()
	subscriberRegistry := subscribers.NewRegistry(store, m, logger.With().Str("component", "subscribers").Logger())

	publisher, err := fanout.New(ctx, config.Fanout, subscriberRegistry, mqttClient, logger.With().Str("component", "fanout").Logger())
	if err != nil {
		logger.Fatal().Err(err).Str("backend", config.Fanout.Backend).Msg("Failed to initialize fanout backend")
	}
	notifier := fanout.NewNotifier(publisher, config.Fanout.PublishTimeout, m, logger)
	presenceService := services.NewPresenceService(store, notifier, m, logger.With().Str("component", "presence").Logger())

	decoder := ingress.NewDecoder(
		identity.NewResolver(config.Ingress.DevicePrefix),
		ingress.Options{IgnoredReasons: config.Ingress.IgnoredReasons, StrictOTAStatus: config.Ingress.StrictOTAStatus},
		logger.With().Str("component", "ingress").Logger(),
	)

	// Firmware catalogue over the artifact store
	var firmwareService *services.FirmwareService
	var firmwareCatalog handlers.FirmwareCatalog
	if config.Firmware.Enabled {
		storage := s3.NewObjectStorage()
		err = storage.Connect(ctx, config.Firmware.Endpoint, config.Firmware.AccessKey, config.Firmware.SecretKey,
			config.Firmware.Region, config.Firmware.Bucket, config.Firmware.UseSSL)
		if err != nil {
			logger.Fatal().Err(err).Str("endpoint", config.Firmware.Endpoint).Msg("Failed to connect to firmware storage")
		}
		firmwareService = services.NewFirmwareService(config.Firmware, storage, mqttClient, logger)
		firmwareCatalog = firmwareService
	}

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, m, logger)

	middlewares, err := serviceRegistry.InitializeMiddlewares(config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize HTTP middlewares")
	}

	handler := handlers.NewHandler(handlers.Options{
		Decoder:      decoder,
		Presence:     presenceService,
		Subscribers:  subscriberRegistry,
		Firmware:     firmwareCatalog,
		Relay:        fanout.ClientRelayConfig(config.Fanout),
		Metrics:      m,
		Gatherer:     reg,
		WriteTimeout: config.Stream.WriteTimeout,
		SendBuffer:   config.Stream.SendBuffer,
	}, logger.With().Str("component", "handlers").Logger())

	// Register all services based on the configuration
	err = serviceRegistry.RegisterServices(config, service_registry.Dependencies{
		Handler:     handler.Router(middlewares.Global, middlewares.Webhook),
		Decoder:     decoder,
		Presence:    presenceService,
		Subscribers: subscriberRegistry,
		Firmware:    firmwareService,
		OnShutdown:  subscriberRegistry.CloseAll,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to register services")
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		logger.Error().Err(err).Msg("Some services failed to stop cleanly")
	}
	subscriberRegistry.CloseAll()
	if err := notifier.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close fanout backend")
	}
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
}
