package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Endpoint labels for launches.
const (
	EndpointClass    = "class"
	EndpointActivity = "activity"
)

// Outcome labels for launches.
const (
	OutcomeRedirected = "redirected"
	OutcomeRejected   = "rejected"
	OutcomeFailed     = "failed"
)

// Metrics tracks launch traffic and WIMS upstream health. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Launches         *prometheus.CounterVec
	LaunchDuration   *prometheus.HistogramVec
	ClassesCreated   prometheus.Counter
	SheetsCreated    prometheus.Counter
	RaceRecoveries   prometheus.Counter
	OutcomeFailures  prometheus.Counter
	UpstreamCalls    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
}

// New registers every collector on reg, or on the default registry when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Launches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wimslti_launches_total",
			Help: "LTI launches by endpoint (class, activity) and outcome",
		}, []string{"endpoint", "outcome"}),
		LaunchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wimslti_launch_duration_seconds",
			Help:    "Wall time of a launch from request to redirect or error",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		ClassesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "wimslti_classes_created_total",
			Help: "Remote WIMS classes created on first launch of an LMS context",
		}),
		SheetsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "wimslti_sheets_created_total",
			Help: "Remote WIMS sheets created for an LMS resource link",
		}),
		RaceRecoveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "wimslti_binding_race_recoveries_total",
			Help: "Concurrent first launches that lost the binding insert and reused the winner",
		}),
		OutcomeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "wimslti_outcome_record_failures_total",
			Help: "Outcome bindings that could not be stored (launch still succeeded)",
		}),
		UpstreamCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wimslti_wims_calls_total",
			Help: "adm/raw calls to WIMS servers by job and result (ok, error, unreachable)",
		}, []string{"job", "result"}),
		UpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wimslti_wims_call_duration_seconds",
			Help:    "Duration of adm/raw calls to WIMS servers",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"job"}),
	}
}

// ObserveLaunch records one finished launch. Call with time.Now() taken when the request arrived.
func (m *Metrics) ObserveLaunch(endpoint, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Launches.WithLabelValues(endpoint, outcome).Inc()
	m.LaunchDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncClassCreated() {
	if m != nil {
		m.ClassesCreated.Inc()
	}
}

func (m *Metrics) IncSheetCreated() {
	if m != nil {
		m.SheetsCreated.Inc()
	}
}

func (m *Metrics) IncRaceRecovery() {
	if m != nil {
		m.RaceRecoveries.Inc()
	}
}

func (m *Metrics) IncOutcomeFailure() {
	if m != nil {
		m.OutcomeFailures.Inc()
	}
}

// ObserveUpstream records one adm/raw call.
func (m *Metrics) ObserveUpstream(job, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamCalls.WithLabelValues(job, result).Inc()
	m.UpstreamDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}
