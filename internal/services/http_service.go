package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HTTPService serves the API router.
type HTTPService struct {
	Server          *http.Server
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger

	listener net.Listener
	running  bool
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewHTTPService initializes a new HTTPService.
func NewHTTPService(addr string, handler http.Handler, readHeaderTimeout, idleTimeout, shutdownTimeout time.Duration, logger zerolog.Logger) *HTTPService {
	return &HTTPService{
		Server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
		},
		ShutdownTimeout: shutdownTimeout,
		Logger:          logger,
	}
}

// Start binds the listen address and serves in a separate goroutine. Bind
// errors are returned synchronously.
func (h *HTTPService) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		h.Logger.Warn().Msg("HTTPService is already running")
		return errors.New("http service is already running")
	}

	ln, err := net.Listen("tcp", h.Server.Addr)
	if err != nil {
		return err
	}
	h.listener = ln
	h.running = true

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.Logger.Error().Err(err).Msg("HTTP server stopped unexpectedly")
		}
	}()

	h.Logger.Info().Str("address", ln.Addr().String()).Msg("HTTPService started successfully")
	return nil
}

// Addr is the bound listen address, useful when started on port 0.
func (h *HTTPService) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Stop waits up to ShutdownTimeout for in-flight requests. Long-lived
// streams are expected to be closed by their owners first.
func (h *HTTPService) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		h.Logger.Warn().Msg("HTTPService is not running")
		return errors.New("http service is not running")
	}

	timeout := h.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := h.Server.Shutdown(ctx)
	if err != nil {
		_ = h.Server.Close()
	}
	h.wg.Wait()
	h.running = false

	h.Logger.Info().Msg("HTTPService stopped successfully")
	return err
}
