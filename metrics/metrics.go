// Package metrics records payment gate and facilitator activity. The default
// recorder is a no-op; services that expose Prometheus wire in the
// prometheus-backed recorder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives counters and timings from the gate and facilitator.
type Recorder interface {
	// PaymentRequired is incremented each time a 402 challenge is issued.
	PaymentRequired(network, scheme string)
	// PaymentRejected is incremented when a proof fails acceptance or
	// verification. The stage label is "accept", "verify" or "expired".
	PaymentRejected(network, scheme, stage string)
	// PaymentSettled is incremented on successful settlement and records
	// the end-to-end verification duration.
	PaymentSettled(network, scheme string, d time.Duration)
	// ProofReplayed is incremented when a consumed proof is presented again.
	ProofReplayed(network, scheme string)
}

type nopRecorder struct{}

// Nop returns a recorder that discards everything.
func Nop() Recorder { return nopRecorder{} }

func (nopRecorder) PaymentRequired(string, string)                {}
func (nopRecorder) PaymentRejected(string, string, string)        {}
func (nopRecorder) PaymentSettled(string, string, time.Duration)  {}
func (nopRecorder) ProofReplayed(string, string)                  {}

// Prometheus is a Recorder backed by prometheus collectors.
type Prometheus struct {
	required *prometheus.CounterVec
	rejected *prometheus.CounterVec
	settled  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	replayed *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer to use the default registry.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		required: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402",
			Name:      "payment_required_total",
			Help:      "Number of 402 challenges issued.",
		}, []string{"network", "scheme"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402",
			Name:      "payment_rejected_total",
			Help:      "Number of payment proofs rejected.",
		}, []string{"network", "scheme", "stage"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402",
			Name:      "payment_settled_total",
			Help:      "Number of payments settled.",
		}, []string{"network", "scheme"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "x402",
			Name:      "payment_verification_seconds",
			Help:      "End-to-end verification and settlement latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"network", "scheme"}),
		replayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402",
			Name:      "proof_replayed_total",
			Help:      "Number of times a consumed proof was presented again.",
		}, []string{"network", "scheme"}),
	}
	for _, c := range []prometheus.Collector{p.required, p.rejected, p.settled, p.duration, p.replayed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) PaymentRequired(network, scheme string) {
	p.required.WithLabelValues(network, scheme).Inc()
}

func (p *Prometheus) PaymentRejected(network, scheme, stage string) {
	p.rejected.WithLabelValues(network, scheme, stage).Inc()
}

func (p *Prometheus) PaymentSettled(network, scheme string, d time.Duration) {
	p.settled.WithLabelValues(network, scheme).Inc()
	p.duration.WithLabelValues(network, scheme).Observe(d.Seconds())
}

func (p *Prometheus) ProofReplayed(network, scheme string) {
	p.replayed.WithLabelValues(network, scheme).Inc()
}
