package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lazydev-zone/lazydev/internal/apperrors"
)

const namespace = "lazydev"

// Recorder holds the Prometheus collectors of the linking, reward and proof
// gateway components. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	flowTransitions *prometheus.CounterVec
	flowErrors      *prometheus.CounterVec
	transactions    *prometheus.CounterVec

	reconcileDuration prometheus.Histogram
	reconcilePRs      *prometheus.CounterVec

	proofRequests *prometheus.CounterVec
	proofDuration *prometheus.HistogramVec
	poolRotations *prometheus.CounterVec
	proofInFlight prometheus.Gauge
}

// New creates a Recorder with its own registry, so it never collides with
// the global default registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		flowTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_transitions_total",
			Help:      "Linking state machine transitions by flow and target state.",
		}, []string{"flow", "from", "to"}),
		flowErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_errors_total",
			Help:      "Failed linking steps by flow, step and error kind.",
		}, []string{"flow", "step", "kind"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Contract executions by message and result.",
		}, []string{"msg", "result"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Wall time of a full contribution reconciliation.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		reconcilePRs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_prs_total",
			Help:      "Pull requests resolved by reconciliation, by outcome.",
		}, []string{"outcome"}),
		proofRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proof_requests_total",
			Help:      "Proof gateway requests by endpoint and result code.",
		}, []string{"endpoint", "code"}),
		proofDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proof_request_duration_seconds",
			Help:      "Proof generation latency by endpoint.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		}, []string{"endpoint"}),
		poolRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proof_pool_selections_total",
			Help:      "Attestor application selections by the credential pool.",
		}, []string{"app"}),
		proofInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proof_requests_in_flight",
			Help:      "Proof requests currently being attested.",
		}),
	}

	reg.MustRegister(
		r.flowTransitions,
		r.flowErrors,
		r.transactions,
		r.reconcileDuration,
		r.reconcilePRs,
		r.proofRequests,
		r.proofDuration,
		r.poolRotations,
		r.proofInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// FlowTransition counts a state change of a linking flow.
func (r *Recorder) FlowTransition(flow, from, to string) {
	if r == nil {
		return
	}
	r.flowTransitions.WithLabelValues(flow, from, to).Inc()
}

// FlowError counts a failed step, labelled with the error's kind.
func (r *Recorder) FlowError(flow, step string, err error) {
	if r == nil || err == nil {
		return
	}
	r.flowErrors.WithLabelValues(flow, step, ErrorKind(err)).Inc()
}

// Transaction counts a contract execution.
func (r *Recorder) Transaction(msg string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = ErrorKind(err)
	}
	r.transactions.WithLabelValues(msg, result).Inc()
}

// ObserveReconcile records a finished reconciliation.
func (r *Recorder) ObserveReconcile(d time.Duration) {
	if r == nil {
		return
	}
	r.reconcileDuration.Observe(d.Seconds())
}

// ReconciledPR counts one resolved pull request; outcome is claimed, unclaimed or error.
func (r *Recorder) ReconciledPR(outcome string) {
	if r == nil {
		return
	}
	r.reconcilePRs.WithLabelValues(outcome).Inc()
}

// ProofRequest records a finished proof gateway request.
func (r *Recorder) ProofRequest(endpoint, code string, d time.Duration) {
	if r == nil {
		return
	}
	r.proofRequests.WithLabelValues(endpoint, code).Inc()
	r.proofDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// PoolSelection counts an attestor application picked by the pool.
func (r *Recorder) PoolSelection(app string) {
	if r == nil {
		return
	}
	r.poolRotations.WithLabelValues(app).Inc()
}

// ProofInFlight adjusts the in-flight proof gauge by delta.
func (r *Recorder) ProofInFlight(delta float64) {
	if r == nil {
		return
	}
	r.proofInFlight.Add(delta)
}

// ErrorKind maps an error onto a low-cardinality label value.
func ErrorKind(err error) string {
	var (
		rej *apperrors.ChainRejectionError
		up  *apperrors.UpstreamProofError
		div *apperrors.ConfigDivergenceError
	)
	switch {
	case err == nil:
		return ""
	case apperrors.IsValidation(err):
		return "validation"
	case apperrors.IsAuth(err):
		return "auth"
	case errors.As(err, &rej):
		return string(rej.Kind)
	case errors.As(err, &up):
		return "proof_" + string(up.Code)
	case errors.As(err, &div):
		return "config_divergence"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
