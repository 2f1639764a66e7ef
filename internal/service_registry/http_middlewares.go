package service_registry

import (
	"fmt"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/middlewares/httpmw"
	"github.com/benmeehan/iot-fleet/internal/utils"
)

// Middlewares are the HTTP middleware stacks handed to the router.
type Middlewares struct {
	Global  []httpmw.Middleware // every matched route
	Webhook []httpmw.Middleware // the broker callback subtree only
}

// InitializeMiddlewares sets up the middleware chains based on configuration.
func (sr *ServiceRegistry) InitializeMiddlewares(config *utils.Config) (Middlewares, error) {
	var mws Middlewares

	// Ordered middleware definitions, outermost first
	middlewaresInOrder := []struct {
		name        string
		enabled     bool
		webhookOnly bool
		constructor func() (httpmw.Middleware, error)
	}{
		{
			name:    constants.MiddlewareRecover,
			enabled: true,
			constructor: func() (httpmw.Middleware, error) {
				return httpmw.Recover(sr.Logger), nil
			},
		},
		{
			name:    constants.MiddlewareLogger,
			enabled: true,
			constructor: func() (httpmw.Middleware, error) {
				return httpmw.RequestLogger(sr.Logger.With().Str("component", "http").Logger()), nil
			},
		},
		{
			name:    constants.MiddlewareMetrics,
			enabled: sr.metrics != nil,
			constructor: func() (httpmw.Middleware, error) {
				return httpmw.Metrics(sr.metrics), nil
			},
		},
		{
			name:        constants.MiddlewareWebhookAuth,
			enabled:     config.Ingress.WebhookSecret != "",
			webhookOnly: true,
			constructor: func() (httpmw.Middleware, error) {
				return httpmw.WebhookAuth(config.Ingress.WebhookSecret, sr.Logger), nil
			},
		},
	}

	for _, mw := range middlewaresInOrder {
		if !mw.enabled {
			sr.Logger.Debug().Str("middleware", mw.name).Msg("Middleware is disabled, skipping")
			continue
		}
		instance, err := mw.constructor()
		if err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to initialize %s middleware", mw.name)
			return Middlewares{}, fmt.Errorf("failed to initialize %s middleware: %w", mw.name, err)
		}
		if mw.webhookOnly {
			mws.Webhook = append(mws.Webhook, instance)
		} else {
			mws.Global = append(mws.Global, instance)
		}
		sr.Logger.Info().Str("middleware", mw.name).Msg("Middleware initialized")
	}

	sr.Logger.Info().Int("global", len(mws.Global)).Int("webhook", len(mws.Webhook)).Msg("Middleware chain initialized")
	return mws, nil
}
