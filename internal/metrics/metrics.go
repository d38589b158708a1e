package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	observationsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_observations_accepted_total",
		Help: "Total ranking observations accepted into playlist records",
	})
	observationsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rankwatch_observations_rejected_total",
		Help: "Total ranking observations rejected during ingestion, by reason",
	}, []string{"reason"})
	observationsDeduped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_observations_deduplicated_total",
		Help: "Total ranking observations dropped as duplicates",
	})
	mergesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_merges_completed_total",
		Help: "Total playlist merge operations completed",
	})
	mergeConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_merge_conflicts_total",
		Help: "Total merges rejected because another merge held the playlist lock",
	})
	retentionTruncations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_retention_truncations_total",
		Help: "Total observations dropped by the per-playlist retention cap",
	})
	recoveriesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_recoveries_completed_total",
		Help: "Total playlist records reconstructed from history logs",
	})
)

var initOnce sync.Once

// Init registers the ingestion metrics with the default registry. Must be
// called once at startup before the metrics endpoint is served.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			observationsAccepted,
			observationsRejected,
			observationsDeduped,
			mergesCompleted,
			mergeConflicts,
			retentionTruncations,
			recoveriesCompleted,
		)
	})
}

func RecordAccepted(n int) {
	if n > 0 {
		observationsAccepted.Add(float64(n))
	}
}

func RecordRejected(reason string, n int) {
	if n > 0 {
		observationsRejected.WithLabelValues(reason).Add(float64(n))
	}
}

func RecordDeduplicated(n int) {
	if n > 0 {
		observationsDeduped.Add(float64(n))
	}
}

func RecordMergeCompleted() {
	mergesCompleted.Inc()
}

func RecordMergeConflict() {
	mergeConflicts.Inc()
}

func RecordTruncated(n int) {
	if n > 0 {
		retentionTruncations.Add(float64(n))
	}
}

func RecordRecoveryCompleted() {
	recoveriesCompleted.Inc()
}
