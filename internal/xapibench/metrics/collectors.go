package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	prefix = "xapibench_"

	backendLabel = "backend"
	queryLabel   = "query"
	phaseLabel   = "phase"
)

type collectors struct {
	batches            *prometheus.CounterVec
	statements         *prometheus.CounterVec
	batchDuration      *prometheus.HistogramVec
	queryDuration      *prometheus.HistogramVec
	distributionPasses *prometheus.CounterVec
	phaseDuration      *prometheus.GaugeVec
	backendRows        *prometheus.GaugeVec
	allMetrics         []prometheus.Collector
}

func newCollectors() *collectors {
	batches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "batches_inserted_total",
			Help: "Batches fully acknowledged by the backend",
		},
		[]string{backendLabel},
	)
	statements := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "statements_inserted_total",
			Help: "Statements fully acknowledged by the backend",
		},
		[]string{backendLabel},
	)
	batchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "batch_insert_duration_seconds",
			Help:    "Time to insert one batch",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 18),
		},
		[]string{backendLabel},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "query_duration_seconds",
			Help:    "Time to run one benchmark or distribution query",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 20),
		},
		[]string{backendLabel, queryLabel},
	)
	distributionPasses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "distribution_passes_total",
			Help: "Completed distribution query passes",
		},
		[]string{backendLabel},
	)
	phaseDuration := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: prefix + "phase_duration_seconds",
			Help: "Duration of the last completed run phase",
		},
		[]string{backendLabel, phaseLabel},
	)
	backendRows := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: prefix + "backend_rows",
			Help: "Statements the backend reported on the last row count",
		},
		[]string{backendLabel},
	)

	return &collectors{
		batches:            batches,
		statements:         statements,
		batchDuration:      batchDuration,
		queryDuration:      queryDuration,
		distributionPasses: distributionPasses,
		phaseDuration:      phaseDuration,
		backendRows:        backendRows,
		allMetrics: []prometheus.Collector{
			batches,
			statements,
			batchDuration,
			queryDuration,
			distributionPasses,
			phaseDuration,
			backendRows,
		},
	}
}

func (c *collectors) register(reg prometheus.Registerer) error {
	for _, m := range c.allMetrics {
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	return nil
}
