package platform

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	TierHits     *prometheus.CounterVec
	CacheLookups *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	SanityCaps   prometheus.Counter
	Unpriced     prometheus.Counter
	Dropped      prometheus.Counter
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		TierHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roadcost",
			Name:      "price_tier_hits_total",
			Help:      "Materials priced, by resolver tier.",
		}, []string{"tier"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roadcost",
			Name:      "price_cache_lookups_total",
			Help:      "Price cache lookups, by result.",
		}, []string{"result"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roadcost",
			Name:      "source_retries_total",
			Help:      "Retries of external source calls.",
		}, []string{"op"}),
		SanityCaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roadcost",
			Name:      "price_sanity_caps_total",
			Help:      "Prices capped to the same-unit median.",
		}),
		Unpriced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roadcost",
			Name:      "materials_unpriced_total",
			Help:      "Materials left without a price.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roadcost",
			Name:      "materials_dropped_total",
			Help:      "Materials dropped before pricing.",
		}),
	}
	m.Registry.MustRegister(m.TierHits, m.CacheLookups, m.Retries, m.SanityCaps, m.Unpriced, m.Dropped)
	return m
}

func (m *Metrics) TierHit(tier string) {
	if m != nil {
		m.TierHits.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) Retry(op string) {
	if m != nil {
		m.Retries.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) SanityCap() {
	if m != nil {
		m.SanityCaps.Inc()
	}
}

func (m *Metrics) UnpricedMaterial() {
	if m != nil {
		m.Unpriced.Inc()
	}
}

func (m *Metrics) DroppedMaterial() {
	if m != nil {
		m.Dropped.Inc()
	}
}

// Instrument hooks the retry counter into a policy.
func (m *Metrics) Instrument(p RetryPolicy) RetryPolicy {
	if m == nil {
		return p
	}
	prev := p.OnRetry
	p.OnRetry = func(op string, attempt int, delay time.Duration) {
		m.Retry(op)
		if prev != nil {
			prev(op, attempt, delay)
		}
	}
	return p
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
