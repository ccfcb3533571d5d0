package bqloader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "bqloader"

type loaderMetrics struct {
	partitionsTotal       *prometheus.CounterVec
	jobsSubmittedTotal    *prometheus.CounterVec
	jobsCompletedTotal    *prometheus.CounterVec
	partitionsSkipped     *prometheus.CounterVec
	failuresTotal         *prometheus.CounterVec
	submitDurationSeconds *prometheus.HistogramVec
	awaitDurationSeconds  *prometheus.HistogramVec
}

func newLoaderMetrics(reg prometheus.Registerer, scheme string) *loaderMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{"scheme": scheme}

	return &loaderMetrics{
		partitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "partitions_total",
			Help:        "Partitions started by the batch driver.",
			ConstLabels: constLabels,
		}, []string{}),
		jobsSubmittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "jobs_submitted_total",
			Help:        "Load jobs accepted by the warehouse.",
			ConstLabels: constLabels,
		}, []string{}),
		jobsCompletedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "jobs_completed_total",
			Help:        "Polled load jobs that reached DONE without error.",
			ConstLabels: constLabels,
		}, []string{}),
		partitionsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "partitions_skipped_total",
			Help:        "Partitions skipped because the ledger already holds a load for their destination.",
			ConstLabels: constLabels,
		}, []string{}),
		failuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "partition_failures_total",
			Help:        "Partitions that failed, by stage.",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		submitDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Name:        "submit_duration_seconds",
			Help:        "Time spent inserting a load job.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{}),
		awaitDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Name:        "await_duration_seconds",
			Help:        "Time spent polling a load job until it reached a terminal state.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{}),
	}
}

func (m *loaderMetrics) observe(o Outcome) {
	m.partitionsTotal.WithLabelValues().Inc()
	switch {
	case o.Skipped:
		m.partitionsSkipped.WithLabelValues().Inc()
	case o.Submitted():
		m.jobsSubmittedTotal.WithLabelValues().Inc()
	}
	if o.State == JobDone && !o.Skipped {
		m.jobsCompletedTotal.WithLabelValues().Inc()
	}
	if o.err != nil {
		m.failuresTotal.WithLabelValues(string(o.Stage)).Inc()
	}
}
