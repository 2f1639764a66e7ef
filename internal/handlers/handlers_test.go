package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benmeehan/iot-fleet/internal/constants"
	"github.com/benmeehan/iot-fleet/internal/fanout"
	"github.com/benmeehan/iot-fleet/internal/ingress"
	"github.com/benmeehan/iot-fleet/internal/metrics"
	"github.com/benmeehan/iot-fleet/internal/middlewares/httpmw"
	"github.com/benmeehan/iot-fleet/internal/mocks"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/benmeehan/iot-fleet/internal/presence"
	"github.com/benmeehan/iot-fleet/internal/services"
	"github.com/benmeehan/iot-fleet/internal/subscribers"
	"github.com/benmeehan/iot-fleet/internal/utils"
	"github.com/benmeehan/iot-fleet/pkg/identity"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *presence.Store
	registry *subscribers.Registry
	metrics  *metrics.Metrics
	handler  *Handler
	router   *mux.Router
}

type fixtureOption func(*Options)

func withFirmware(c FirmwareCatalog) fixtureOption {
	return func(o *Options) { o.Firmware = c }
}

// newFixture wires the HTTP surface over real in-memory components. A nil
// publisher selects the direct-push backend.
func newFixture(t *testing.T, pub fanout.Publisher, webhook []httpmw.Middleware, opts ...fixtureOption) *fixture {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := presence.NewStore()
	registry := subscribers.NewRegistry(store, m, zerolog.Nop())
	if pub == nil {
		pub = fanout.NewDirectPublisher(registry, zerolog.Nop())
	}
	notifier := fanout.NewNotifier(pub, time.Second, m, zerolog.Nop())

	o := Options{
		Decoder:      ingress.NewDecoder(identity.NewResolver(constants.DefaultDevicePrefix), ingress.Options{}, zerolog.Nop()),
		Presence:     services.NewPresenceService(store, notifier, m, zerolog.Nop()),
		Subscribers:  registry,
		Relay:        fanout.ClientRelayConfig(fanoutConfigFor(pub.Backend())),
		Metrics:      m,
		Gatherer:     reg,
		WriteTimeout: time.Second,
		SendBuffer:   16,
	}
	for _, opt := range opts {
		opt(&o)
	}

	h := NewHandler(o, zerolog.Nop())
	return &fixture{
		store:    store,
		registry: registry,
		metrics:  m,
		handler:  h,
		router:   h.Router([]httpmw.Middleware{httpmw.Recover(zerolog.Nop()), httpmw.Metrics(m)}, webhook),
	}
}

func newMockPublisher() *mocks.MockPublisher {
	pub := new(mocks.MockPublisher)
	pub.On("Backend").Return(constants.BackendNATS)
	return pub
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func fanoutConfigFor(backend string) utils.FanoutConfig {
	return utils.FanoutConfig{Backend: backend}
}

// published returns the channel/event pairs sent to a mock publisher.
func published(pub *mocks.MockPublisher) []string {
	var out []string
	for _, call := range pub.Calls {
		if call.Method == "Publish" {
			out = append(out, call.Arguments.String(1)+"/"+call.Arguments.String(2))
		}
	}
	return out
}

func mustRecord(t *testing.T, f *fixture, rec models.PresenceRecord) {
	t.Helper()
	require.NoError(t, f.store.Upsert(rec))
}

func newJSONRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(f *fixture, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}
