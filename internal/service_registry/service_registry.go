package service_registry

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/metrics"
	"github.com/benmeehan/iot-fleet/internal/services"
	"github.com/benmeehan/iot-fleet/internal/utils"
	"github.com/benmeehan/iot-fleet/pkg/mqtt"
	"github.com/rs/zerolog"
)

// Service is the lifecycle contract of everything the registry runs.
type Service = services.Service

// Dependencies are the shared components the registered services are built
// from. Firmware is nil when firmware dispatch is disabled.
type Dependencies struct {
	Handler     http.Handler
	Decoder     services.OTADecoder
	Presence    services.OTAHandler
	Subscribers services.FrameBroadcaster
	Firmware    *services.FirmwareService
	// OnShutdown runs when the HTTP server begins shutting down so long-lived
	// stream handlers return instead of holding Shutdown open.
	OnShutdown func()
}

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]Service // Stores registered services
	serviceKeys []string           // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
// mqttClient may be nil when no configured component uses the broker.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, m *metrics.Metrics, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]Service),
		mqttClient: mqttClient,
		metrics:    m,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Service returns a registered service by name.
func (sr *ServiceRegistry) Service(name string) (Service, bool) {
	svc, ok := sr.services[name]
	return svc, ok
}

// Names returns the registered service names in start order.
func (sr *ServiceRegistry) Names() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		sr.Logger.Info().Msgf("Stopping service: %s", name)
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices initializes and registers enabled services based on configuration.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, deps Dependencies) error {
	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (Service, error)
	}{
		{
			name:    constants.ServiceMQTTIngest,
			enabled: config.Services.MQTTIngest.Enabled,
			constructor: func() (Service, error) {
				if sr.mqttClient == nil {
					return nil, errors.New("mqtt client is not configured")
				}
				return services.NewMQTTIngestService(
					config.Services.MQTTIngest.Topics,
					config.Services.MQTTIngest.QOS,
					sr.mqttClient,
					deps.Decoder,
					deps.Presence,
					sr.Logger.With().Str("service", constants.ServiceMQTTIngest).Logger(),
				), nil
			},
		},
		{
			name:    constants.ServiceFirmware,
			enabled: config.Firmware.Enabled,
			constructor: func() (Service, error) {
				if deps.Firmware == nil {
					return nil, errors.New("firmware service is not configured")
				}
				return deps.Firmware, nil
			},
		},
		{
			name:    constants.ServiceKeepalive,
			enabled: config.Services.Keepalive.Enabled,
			constructor: func() (Service, error) {
				return services.NewKeepaliveService(
					config.Services.Keepalive.Interval,
					deps.Subscribers,
					sr.Logger.With().Str("service", constants.ServiceKeepalive).Logger(),
				), nil
			},
		},
		{
			name:    constants.ServiceHTTP,
			enabled: true,
			constructor: func() (Service, error) {
				if deps.Handler == nil {
					return nil, errors.New("http handler is required")
				}
				svc := services.NewHTTPService(
					config.Server.Address,
					deps.Handler,
					config.Server.ReadHeaderTimeout,
					config.Server.IdleTimeout,
					config.Server.ShutdownTimeout,
					sr.Logger.With().Str("service", constants.ServiceHTTP).Logger(),
				)
				if deps.OnShutdown != nil {
					svc.Server.RegisterOnShutdown(deps.OnShutdown)
				}
				return svc, nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return fmt.Errorf("failed to create %s service: %w", svc.name, err)
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		} else {
			sr.Logger.Debug().Str("service", svc.name).Msg("Service is disabled, skipping")
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
