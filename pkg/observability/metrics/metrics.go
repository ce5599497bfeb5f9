package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lakehouse"

// Registry holds every pipeline collector. A private registry keeps tests
// free of the global default one.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	bronzeFiles = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bronze",
			Name:      "files_total",
			Help:      "Raw files processed by ingestion, by outcome.",
		},
		[]string{"outcome"},
	)

	bronzeEnvelopes = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bronze",
		Name:      "envelopes_total",
		Help:      "Raw envelopes appended to the bronze log.",
	})

	silverVersions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "silver",
			Name:      "versions_total",
			Help:      "Version rows opened or closed by the normalizer.",
		},
		[]string{"action"},
	)

	silverRejected = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "silver",
		Name:      "records_rejected_total",
		Help:      "Raw documents the normalizer could not parse.",
	})

	silverCurrent = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "silver",
		Name:      "current_rows",
		Help:      "Current versions after the latest normalizer run.",
	})

	goldRows = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gold",
		Name:      "serving_rows",
		Help:      "Rows in the serving table after the latest projection.",
	})

	syncBatches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "batches_total",
			Help:      "Upsert batches attempted against the application store, by outcome.",
		},
		[]string{"outcome"},
	)

	syncRows = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "rows_total",
			Help:      "Rows synced to or withheld from the application store.",
		},
		[]string{"outcome"},
	)

	stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"stage", "outcome"},
	)
)

func ObserveIngestion(filesIngested, filesFailed, envelopes int) {
	bronzeFiles.WithLabelValues("ingested").Add(float64(filesIngested))
	bronzeFiles.WithLabelValues("failed").Add(float64(filesFailed))
	bronzeEnvelopes.Add(float64(envelopes))
}

func ObserveNormalization(opened, closed, rejected, current int) {
	silverVersions.WithLabelValues("opened").Add(float64(opened))
	silverVersions.WithLabelValues("closed").Add(float64(closed))
	silverRejected.Add(float64(rejected))
	silverCurrent.Set(float64(current))
}

func ObserveRejected(rejected int) {
	silverRejected.Add(float64(rejected))
}

func ObserveProjection(rows int) {
	goldRows.Set(float64(rows))
}

func ObserveSyncBatch(rows int, failed bool) {
	if failed {
		syncBatches.WithLabelValues("failed").Inc()
		return
	}
	syncBatches.WithLabelValues("succeeded").Inc()
	syncRows.WithLabelValues("synced").Add(float64(rows))
}

func ObserveSyncSkipped(rows int) {
	syncRows.WithLabelValues("protected").Add(float64(rows))
}

func ObserveStage(stage string, seconds float64, err error) {
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	stageDuration.WithLabelValues(stage, outcome).Observe(seconds)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
