package binding

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for template bindings. A nil *Metrics
// records nothing.
type Metrics struct {
	subscribes    *prometheus.CounterVec // by outcome: ok, error
	releases      *prometheus.CounterVec // by outcome: ok, benign, error, abandoned
	results       prometheus.Counter
	fallbacks     *prometheus.CounterVec // by reason: rejected, stream_error
	subscriptions prometheus.Gauge
}

// NewMetrics creates binding metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		subscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmplbind",
			Subsystem: "binding",
			Name:      "subscribes_total",
			Help:      "Template subscribe calls by outcome",
		}, []string{"outcome"}),

		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmplbind",
			Subsystem: "binding",
			Name:      "releases_total",
			Help:      "Subscription releases by outcome",
		}, []string{"outcome"}),

		results: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tmplbind",
			Subsystem: "binding",
			Name:      "results_total",
			Help:      "Evaluated results received",
		}),

		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmplbind",
			Subsystem: "binding",
			Name:      "fallbacks_total",
			Help:      "Raw values published because evaluation failed",
		}, []string{"reason"}),

		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tmplbind",
			Subsystem: "binding",
			Name:      "subscriptions",
			Help:      "Subscriptions currently registered across all owners",
		}),
	}

	for _, c := range []prometheus.Collector{m.subscribes, m.releases, m.results, m.fallbacks, m.subscriptions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) subscribed(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.subscribes.WithLabelValues("error").Inc()
		return
	}
	m.subscribes.WithLabelValues("ok").Inc()
}

func (m *Metrics) released(outcome string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(outcome).Inc()
}

func (m *Metrics) result() {
	if m == nil {
		return
	}
	m.results.Inc()
}

func (m *Metrics) fallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) registered(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.subscriptions.Add(float64(delta))
}
