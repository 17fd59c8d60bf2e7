// Package metrics defines the Prometheus collectors for index distribution
// and exposes them together with the health routes over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dht"

// Metrics holds every collector the peer exports.
type Metrics struct {
	CyclesTotal         *prometheus.CounterVec
	SelectionDuration   *prometheus.HistogramVec
	PostingsSelected    prometheus.Counter
	PostingsPruned      prometheus.Counter
	GroupsDropped       prometheus.Counter
	PostingsDeleted     prometheus.Counter
	TransferFailures    prometheus.Counter
	EnvelopesSent       *prometheus.CounterVec
	QueueDepth          *prometheus.GaugeVec
	CircuitBreakerState *prometheus.GaugeVec
	PostingsReceived    prometheus.Counter
	StoreSegments       prometheus.Gauge
	StoreHotTerms       prometheus.Gauge
	ProcessMemoryBytes  prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Distribution cycles by final chunk status.",
			},
			[]string{"status"},
		),
		SelectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "selection_duration_seconds",
				Help:      "Chunk selection latency by the store view that produced it.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"phase"},
		),
		PostingsSelected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "postings_selected_total",
			Help:      "Resolved postings placed into chunks.",
		}),
		PostingsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "postings_pruned_total",
			Help:      "Unresolvable postings removed during selection.",
		}),
		GroupsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "term_groups_dropped_total",
			Help:      "Corrupted term groups removed during selection.",
		}),
		PostingsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "postings_deleted_total",
			Help:      "Postings deleted locally after a confirmed transfer.",
		}),
		TransferFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_failures_total",
			Help:      "Failed attempts to deliver a chunk.",
		}),
		EnvelopesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envelopes_sent_total",
				Help:      "Outbound envelopes by result (ok, error).",
			},
			[]string{"result"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "transfer_queue_depth",
				Help:      "Envelopes waiting in each outbound queue.",
			},
			[]string{"queue"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		PostingsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "postings_received_total",
			Help:      "Postings accepted from other peers.",
		}),
		StoreSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_segments",
			Help:      "On-disk segments in the posting store.",
		}),
		StoreHotTerms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_hot_terms",
			Help:      "Term groups held in memory.",
		}),
		ProcessMemoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_heap_bytes",
			Help:      "Heap in use as last sampled by the profiler.",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.SelectionDuration,
		m.PostingsSelected,
		m.PostingsPruned,
		m.GroupsDropped,
		m.PostingsDeleted,
		m.TransferFailures,
		m.EnvelopesSent,
		m.QueueDepth,
		m.CircuitBreakerState,
		m.PostingsReceived,
		m.StoreSegments,
		m.StoreHotTerms,
		m.ProcessMemoryBytes,
	)
	return m
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
