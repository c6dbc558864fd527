package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/otcheredev/dicom-store/internal/jobs"
)

// Metrics bundles the prometheus collectors of the server.
type Metrics struct {
	JobsSubmitted prometheus.Counter
	JobsSucceeded prometheus.Counter
	JobsFailed    prometheus.Counter

	InstancesStored  prometheus.Counter
	SubOpsCompleted  prometheus.Counter
	SubOpsFailed     prometheus.Counter
	FindQueries      prometheus.Counter
	AssociationsOpen prometheus.Gauge
}

// New creates and registers the collectors, including gauge functions
// reading the job engine statistics.
func New(registry *prometheus.Registry, engine *jobs.Engine) *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_jobs_submitted_total",
			Help: "Jobs submitted to the engine.",
		}),
		JobsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_jobs_succeeded_total",
			Help: "Jobs that completed successfully.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_jobs_failed_total",
			Help: "Jobs that completed with a failure.",
		}),
		InstancesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_instances_stored_total",
			Help: "Instances accepted over C-STORE.",
		}),
		SubOpsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_retrieve_suboperations_completed_total",
			Help: "C-MOVE/C-GET sub-operations that completed.",
		}),
		SubOpsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_retrieve_suboperations_failed_total",
			Help: "C-MOVE/C-GET sub-operations that failed.",
		}),
		FindQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_find_queries_total",
			Help: "C-FIND queries answered.",
		}),
		AssociationsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dicom_associations_open",
			Help: "Currently open incoming associations.",
		}),
	}

	registry.MustRegister(
		m.JobsSubmitted, m.JobsSucceeded, m.JobsFailed,
		m.InstancesStored, m.SubOpsCompleted, m.SubOpsFailed,
		m.FindQueries, m.AssociationsOpen,
	)

	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dicom_jobs_pending",
		Help: "Jobs waiting to run, including retries and paused jobs.",
	}, func() float64 {
		return float64(engine.GetStatistics().Pending)
	}))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dicom_jobs_running",
		Help: "Jobs currently stepping.",
	}, func() float64 {
		return float64(engine.GetStatistics().Running)
	}))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dicom_jobs_success",
		Help: "Completed jobs retained with a success state.",
	}, func() float64 {
		return float64(engine.GetStatistics().Success)
	}))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dicom_jobs_errors",
		Help: "Completed jobs retained with a failure state.",
	}, func() float64 {
		return float64(engine.GetStatistics().Errors)
	}))

	return m
}

// Observer adapts the counters to the job engine observer interface.
func (m *Metrics) Observer() jobs.Observer {
	return &engineObserver{metrics: m}
}

type engineObserver struct {
	metrics *Metrics
}

func (o *engineObserver) JobSubmitted(string) { o.metrics.JobsSubmitted.Inc() }
func (o *engineObserver) JobSuccess(string)   { o.metrics.JobsSucceeded.Inc() }
func (o *engineObserver) JobFailure(string)   { o.metrics.JobsFailed.Inc() }
