package metrics

import (
	"strconv"
	"time"

	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "iot_fleet"

// Metrics holds the Prometheus collectors of the fleet service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	WebhookEvents     *prometheus.CounterVec
	OTAEvents         *prometheus.CounterVec
	FanoutPublishes   *prometheus.CounterVec
	SubscriberDrops   *prometheus.CounterVec
	ActiveSubscribers prometheus.Gauge
	Devices           *prometheus.GaugeVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Broker webhook callbacks by decoded kind and outcome.",
		}, []string{"kind", "outcome"}),
		OTAEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ota_events_total",
			Help:      "OTA reports accepted by kind.",
		}, []string{"kind"}),
		FanoutPublishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_publishes_total",
			Help:      "Fanout publish attempts by backend, channel, event and result.",
		}, []string{"backend", "channel", "event", "result"}),
		SubscriberDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Direct-push subscribers removed by reason.",
		}, []string{"reason"}),
		ActiveSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscribers",
			Help:      "Open direct-push subscribers.",
		}),
		Devices: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Devices in the presence store by status.",
		}, []string{"status"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) ObserveWebhook(kind, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveOTA(kind string) {
	if m == nil {
		return
	}
	m.OTAEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObservePublish(backend, channel, event string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FanoutPublishes.WithLabelValues(backend, channel, event, result).Inc()
}

func (m *Metrics) SubscriberDropped(reason string) {
	if m == nil {
		return
	}
	m.SubscriberDrops.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Set(float64(n))
}

// SetDevices mirrors a presence summary into the devices gauge.
func (m *Metrics) SetDevices(s models.Summary) {
	if m == nil {
		return
	}
	m.Devices.WithLabelValues("online").Set(float64(s.Online))
	m.Devices.WithLabelValues("offline").Set(float64(s.Offline))
}

func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
