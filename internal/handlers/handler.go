package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/benmeehan/iot-fleet/internal/ingress"
	"github.com/benmeehan/iot-fleet/internal/metrics"
	"github.com/benmeehan/iot-fleet/internal/middlewares/httpmw"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/benmeehan/iot-fleet/internal/services"
	"github.com/benmeehan/iot-fleet/internal/subscribers"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// FirmwareCatalog lists firmware builds and dispatches OTA commands.
type FirmwareCatalog interface {
	Releases(ctx context.Context) ([]models.FirmwareRelease, error)
	Dispatch(ctx context.Context, commitSHA string, boards []string) ([]models.DispatchResult, error)
}

// Options carries the collaborators of the HTTP surface.
type Options struct {
	Decoder      *ingress.Decoder
	Presence     *services.PresenceService
	Subscribers  *subscribers.Registry
	Firmware     FirmwareCatalog // nil disables the firmware routes
	Relay        models.RelayConfig
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	WriteTimeout time.Duration
	SendBuffer   int
}

// Handler serves the fleet HTTP API.
type Handler struct {
	opts     Options
	validate *validator.Validate
	upgrader websocket.Upgrader
	Logger   zerolog.Logger
}

// NewHandler creates the API handler.
func NewHandler(opts Options, logger zerolog.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		opts:     opts,
		validate: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		Logger: logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the route table. global wraps every matched route, webhook
// additionally wraps the broker callback subtree.
func (h *Handler) Router(global, webhook []httpmw.Middleware) *mux.Router {
	r := mux.NewRouter()
	for _, mw := range global {
		r.Use(mux.MiddlewareFunc(mw))
	}

	api := r.PathPrefix("/api").Subrouter()

	emqx := api.PathPrefix("/emqx").Subrouter()

	// Subrouters report a method mismatch as not found unless each one has
	// its own handler.
	for _, sr := range []*mux.Router{r, api, emqx} {
		sr.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}
	for _, mw := range webhook {
		emqx.Use(mux.MiddlewareFunc(mw))
	}
	emqx.HandleFunc("/webhook", h.Webhook).Methods(http.MethodPost)
	emqx.HandleFunc("/webhook/events/ota", h.OTAWebhook).Methods(http.MethodPost)

	api.HandleFunc("/devices/status", h.DeviceStatus).Methods(http.MethodGet)
	api.HandleFunc("/devices/status", h.OverrideStatus).Methods(http.MethodPost)
	api.HandleFunc("/devices/status", h.ResetStatus).Methods(http.MethodDelete)
	api.HandleFunc("/devices/status/{deviceId}", h.Device).Methods(http.MethodGet)

	api.HandleFunc("/relay/config", h.RelayConfig).Methods(http.MethodGet)
	api.HandleFunc("/device-status-stream", h.SSEStream).Methods(http.MethodGet)
	api.HandleFunc("/device-status-ws", h.WebSocketStream).Methods(http.MethodGet)

	api.HandleFunc("/firmware", h.ListFirmware).Methods(http.MethodGet)
	api.HandleFunc("/firmware/update", h.UpdateFirmware).Methods(http.MethodPost)

	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	gatherer := h.opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return r
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method %s not allowed", r.Method))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
