package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/rs/zerolog"
)

// FrameBroadcaster is the direct-push subscriber registry.
type FrameBroadcaster interface {
	BroadcastJSON(v any) (int, error)
	Count() int
}

// KeepaliveService periodically writes a keepalive frame to every direct-push
// subscriber. Transports that died silently fail the write and are pruned by
// the registry.
type KeepaliveService struct {
	Interval    time.Duration
	Subscribers FrameBroadcaster
	Logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKeepaliveService initializes a new KeepaliveService.
func NewKeepaliveService(interval time.Duration, subscribers FrameBroadcaster, logger zerolog.Logger) *KeepaliveService {
	return &KeepaliveService{
		Interval:    interval,
		Subscribers: subscribers,
		Logger:      logger,
	}
}

// Start launches the keepalive loop in a separate goroutine.
func (k *KeepaliveService) Start() error {
	if k.ctx != nil {
		k.Logger.Warn().Msg("KeepaliveService is already running")
		return errors.New("keepalive service is already running")
	}
	if k.Interval <= 0 {
		return errors.New("keepalive interval must be positive")
	}

	k.ctx, k.cancel = context.WithCancel(context.Background())

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.runKeepaliveLoop()
	}()

	k.Logger.Info().Dur("interval", k.Interval).Msg("KeepaliveService started successfully")
	return nil
}

// Stop gracefully stops the keepalive service.
func (k *KeepaliveService) Stop() error {
	if k.ctx == nil {
		k.Logger.Warn().Msg("KeepaliveService is not running")
		return errors.New("keepalive service is not running")
	}

	k.cancel()
	k.wg.Wait()

	k.ctx = nil
	k.cancel = nil

	k.Logger.Info().Msg("KeepaliveService stopped successfully")
	return nil
}

func (k *KeepaliveService) runKeepaliveLoop() {
	ticker := time.NewTicker(k.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if k.Subscribers.Count() == 0 {
				continue
			}
			frame := models.KeepaliveFrame{Type: constants.FrameKeepalive, Timestamp: time.Now().UTC()}
			delivered, err := k.Subscribers.BroadcastJSON(frame)
			if err != nil {
				k.Logger.Error().Err(err).Msg("Failed to serialize keepalive frame")
				continue
			}
			k.Logger.Debug().Int("delivered", delivered).Msg("Keepalive broadcast")

		case <-k.ctx.Done():
			k.Logger.Info().Msg("KeepaliveService stopping gracefully")
			return
		}
	}
}
