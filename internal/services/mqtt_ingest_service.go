package services

import (
	"context"
	"errors"
	"sync"

	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/benmeehan/iot-fleet/pkg/mqtt"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// OTADecoder turns a raw OTA report into an event.
type OTADecoder interface {
	DecodeOTAPayload(payload []byte) (models.OTAEvent, error)
}

// OTAHandler consumes decoded OTA reports.
type OTAHandler interface {
	HandleOTA(ctx context.Context, ev models.OTAEvent)
}

// MQTTIngestService consumes OTA reports straight from broker topics instead
// of the publish webhook. Invalid payloads are logged and dropped.
type MQTTIngestService struct {
	topics     []string
	qos        int
	mqttClient mqtt.MQTTClient
	decoder    OTADecoder
	handler    OTAHandler
	logger     zerolog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewMQTTIngestService initializes a new MQTTIngestService.
func NewMQTTIngestService(topics []string, qos int, mqttClient mqtt.MQTTClient, decoder OTADecoder, handler OTAHandler, logger zerolog.Logger) *MQTTIngestService {
	return &MQTTIngestService{
		topics:     topics,
		qos:        qos,
		mqttClient: mqttClient,
		decoder:    decoder,
		handler:    handler,
		logger:     logger,
	}
}

// Start subscribes to every configured topic. A failed subscription undoes
// the ones already made.
func (s *MQTTIngestService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("mqtt ingest service is already running")
	}
	if len(s.topics) == 0 {
		return errors.New("mqtt ingest service has no topics")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.stopChan = make(chan struct{})

	subscribed := make([]string, 0, len(s.topics))
	for _, topic := range s.topics {
		token := s.mqttClient.Subscribe(topic, byte(s.qos), s.HandleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
			if len(subscribed) > 0 {
				s.mqttClient.Unsubscribe(subscribed...).Wait()
			}
			s.cancel()
			return err
		}
		subscribed = append(subscribed, topic)
		s.logger.Info().Str("topic", topic).Msg("Successfully subscribed to MQTT topic")
	}

	s.running = true
	return nil
}

// Stop unsubscribes and waits for in-flight messages.
func (s *MQTTIngestService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.New("mqtt ingest service is not running")
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	token := s.mqttClient.Unsubscribe(s.topics...)
	token.Wait()
	unsubErr := token.Error()

	s.wg.Wait()
	s.cancel()

	if unsubErr != nil {
		s.logger.Error().Err(unsubErr).Strs("topics", s.topics).Msg("Failed to unsubscribe from MQTT topics")
		return unsubErr
	}
	s.logger.Info().Msg("MQTTIngestService stopped successfully")
	return nil
}

// HandleMessage decodes one OTA report and hands it to the presence service.
func (s *MQTTIngestService) HandleMessage(_ MQTT.Client, msg MQTT.Message) {
	s.mu.Lock()
	select {
	case <-s.stopChan:
		s.mu.Unlock()
		s.logger.Warn().Str("topic", msg.Topic()).Msg("Received OTA report but service is stopping, ignoring")
		return
	default:
		s.wg.Add(1)
		s.mu.Unlock()
	}
	defer s.wg.Done()

	ev, err := s.decoder.DecodeOTAPayload(msg.Payload())
	if err != nil {
		s.logger.Warn().Err(err).Str("topic", msg.Topic()).Bytes("payload", msg.Payload()).Msg("Invalid OTA report dropped")
		return
	}
	s.handler.HandleOTA(s.ctx, ev)
}
