package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Candidate outcomes used as the "outcome" label of Metrics.Candidates.
const (
	OutcomePreamble      = "preamble"
	OutcomeAddressReject = "address_reject"
	OutcomeCRCFailure    = "crc_failure"
	OutcomeShortPDU      = "short_pdu"
	OutcomeAccepted      = "accepted"
)

// Metrics holds the receiver's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Samples         prometheus.Counter
	Scans           prometheus.Counter
	CooldownSkipped prometheus.Counter
	Candidates      *prometheus.CounterVec // by outcome
	Packets         *prometheus.CounterVec // accepted packets by pdu_type
	Dropped         *prometheus.CounterVec // records dropped by sink
	Subscribers     prometheus.Gauge
	AmplitudeMean   prometheus.Gauge
	AmplitudeStdDev prometheus.Gauge
	ReadErrors      prometheus.Counter
}

// NewMetrics registers the receiver collectors on a fresh registry, along with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Samples: f.NewCounter(prometheus.CounterOpts{
			Name: "blerx_samples_total",
			Help: "Demodulated samples ingested by the engine",
		}),
		Scans: f.NewCounter(prometheus.CounterOpts{
			Name: "blerx_scans_total",
			Help: "Detection windows evaluated",
		}),
		CooldownSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "blerx_cooldown_skipped_total",
			Help: "Samples ingested without a search because of the post-packet cooldown",
		}),
		Candidates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blerx_candidates_total",
			Help: "Candidate packets by outcome",
		}, []string{"outcome"}),
		Packets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blerx_packets_total",
			Help: "Accepted advertising packets by PDU type",
		}, []string{"pdu_type"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blerx_dropped_total",
			Help: "Records dropped because a consumer was not keeping up",
		}, []string{"sink"}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "blerx_subscribers",
			Help: "Active record subscribers",
		}),
		AmplitudeMean: f.NewGauge(prometheus.GaugeOpts{
			Name: "blerx_amplitude_mean",
			Help: "Mean sample amplitude over the last read buffer",
		}),
		AmplitudeStdDev: f.NewGauge(prometheus.GaugeOpts{
			Name: "blerx_amplitude_stddev",
			Help: "Sample amplitude standard deviation over the last read buffer",
		}),
		ReadErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "blerx_read_errors_total",
			Help: "Errors reading from the sample source",
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAmplitude records the summary of one sample buffer.
func (m *Metrics) ObserveAmplitude(s AmplitudeSummary) {
	if s.Count == 0 {
		return
	}
	m.AmplitudeMean.Set(s.Mean)
	m.AmplitudeStdDev.Set(s.StdDev)
}
