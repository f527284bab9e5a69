// Package metrics exposes transaction lifecycle counters for Prometheus. A
// nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chessctl"

type Recorder struct {
	submitted    *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	confirmed    *prometheus.CounterVec
	confirmDelay prometheus.Histogram
	estimateErrs *prometheus.CounterVec
	twoPhase     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_submitted_total",
			Help:      "Transactions accepted by the node.",
		}, []string{"method"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_rejected_total",
			Help:      "Transactions refused at broadcast.",
		}, []string{"reason"}),
		confirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_mined_total",
			Help:      "Transactions observed in a block.",
		}, []string{"method", "status"}),
		confirmDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_confirmation_seconds",
			Help:      "Time from broadcast to receipt.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		estimateErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_estimation_failures_total",
			Help:      "Calls the node could not price or simulate.",
		}, []string{"stage"}),
		twoPhase: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "twophase_outcomes_total",
			Help:      "Final states of approve-then-act operations.",
		}, []string{"operation", "state"}),
	}
	if reg != nil {
		reg.MustRegister(r.submitted, r.rejected, r.confirmed, r.confirmDelay, r.estimateErrs, r.twoPhase)
	}
	return r
}

func (r *Recorder) Submitted(method string) {
	if r == nil {
		return
	}
	r.submitted.WithLabelValues(method).Inc()
}

func (r *Recorder) Rejected(reason string) {
	if r == nil {
		return
	}
	r.rejected.WithLabelValues(reason).Inc()
}

func (r *Recorder) Mined(method string, success bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if !success {
		status = "reverted"
	}
	r.confirmed.WithLabelValues(method, status).Inc()
	r.confirmDelay.Observe(elapsed.Seconds())
}

func (r *Recorder) EstimationFailed(stage string) {
	if r == nil {
		return
	}
	r.estimateErrs.WithLabelValues(stage).Inc()
}

func (r *Recorder) TwoPhase(operation, state string) {
	if r == nil {
		return
	}
	r.twoPhase.WithLabelValues(operation, state).Inc()
}
