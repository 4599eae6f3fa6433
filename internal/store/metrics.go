package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared by the indexer, the horizon and the
// admission engine. A nil *Metrics records nothing.
type Metrics struct {
	// edgesTotal counts appended edges by kind
	edgesTotal *prometheus.CounterVec
	// skippedTotal counts references that produced no edge, by kind and reason
	skippedTotal *prometheus.CounterVec
	// horizonPending tracks unresolved references awaiting their target
	horizonPending prometheus.Gauge
	// horizonResumed counts deferred references resumed after their target arrived
	horizonResumed prometheus.Counter
	// admissions counts admission attempts by result
	admissions *prometheus.CounterVec
	// admissionDuration tracks admission latency including commit
	admissionDuration prometheus.Histogram
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		edgesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomdag_refs_edges_total",
			Help: "Reference edges appended, by kind",
		}, []string{"kind"}),
		skippedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomdag_refs_skipped_total",
			Help: "References that produced no edge, by kind and reason",
		}, []string{"kind", "reason"}),
		horizonPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "roomdag_horizon_pending",
			Help: "Deferred references waiting for their target event",
		}),
		horizonResumed: f.NewCounter(prometheus.CounterOpts{
			Name: "roomdag_horizon_resumed_total",
			Help: "Deferred references resumed after their target was admitted",
		}),
		admissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roomdag_admissions_total",
			Help: "Admission attempts by result",
		}, []string{"result"}),
		admissionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomdag_admission_duration_seconds",
			Help:    "Admission duration in seconds, including commit",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
		}),
	}
}

// RegisterStoreMetrics exposes the store's on-disk size on reg.
func RegisterStoreMetrics(reg prometheus.Registerer, s *Store) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "roomdag_store_disk_bytes",
		Help: "Bytes used on disk by the store",
	}, func() float64 {
		if s.db == nil {
			return 0
		}
		return float64(s.db.Metrics().DiskSpaceUsage())
	})
}

// EdgeAppended counts one edge written for kind. A nil Metrics is a no-op,
// as for every method below.
func (m *Metrics) EdgeAppended(kind string) {
	if m != nil {
		m.edgesTotal.WithLabelValues(kind).Inc()
	}
}

// EdgeSkipped counts a reference of kind that produced no edge.
func (m *Metrics) EdgeSkipped(kind, reason string) {
	if m != nil {
		m.skippedTotal.WithLabelValues(kind, reason).Inc()
	}
}

// HorizonPending sets the number of deferred references.
func (m *Metrics) HorizonPending(n int) {
	if m != nil {
		m.horizonPending.Set(float64(n))
	}
}

// HorizonResumed counts one deferred reference resumed.
func (m *Metrics) HorizonResumed() {
	if m != nil {
		m.horizonResumed.Inc()
	}
}

// Admission records one admission attempt by result and its duration.
func (m *Metrics) Admission(result string, seconds float64) {
	if m != nil {
		m.admissions.WithLabelValues(result).Inc()
		m.admissionDuration.Observe(seconds)
	}
}
