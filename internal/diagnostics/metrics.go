// Package diagnostics carries the database engine's observability surface:
// a prometheus.Registerer-backed metrics set and a pair of read-only
// integrity scanners callers can run against a closed or live database
// directory without going through Open.
//
// The metrics set is one struct of typed metric handles built with
// promauto.With(reg), field names naming exactly what they count.
package diagnostics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the engine's Prometheus metric handles.
type Registry struct {
	CheckpointDuration prometheus.Histogram
	CheckpointCount    prometheus.Counter
	WALFsyncCount      prometheus.Counter
	WALBytesAppended   prometheus.Counter
	SegmentCount       prometheus.Gauge
	UniqueReservations *prometheus.CounterVec
	CommitCount        *prometheus.CounterVec
}

// NewRegistry builds a Registry with all metrics registered against reg.
// Pass prometheus.NewRegistry() for an isolated test registry, or
// prometheus.DefaultRegisterer to expose metrics process-wide.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return &Registry{
		CheckpointDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "walnutdb_checkpoint_duration_seconds",
			Help: "walnutdb_checkpoint_duration_seconds tracks how long each checkpoint's freeze-swap-merge-replace-truncate cycle takes.",
		}),
		CheckpointCount: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "walnutdb_checkpoint_total",
			Help: "walnutdb_checkpoint_total counts completed checkpoints.",
		}),
		WALFsyncCount: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "walnutdb_wal_fsync_total",
			Help: "walnutdb_wal_fsync_total counts WAL fsync calls, one per group-commit batch.",
		}),
		WALBytesAppended: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "walnutdb_wal_bytes_appended_total",
			Help: "walnutdb_wal_bytes_appended_total counts framed bytes written to the WAL.",
		}),
		SegmentCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "walnutdb_segment_count",
			Help: "walnutdb_segment_count reports how many immutable segment files back all tables and index key-spaces as of the last checkpoint.",
		}),
		UniqueReservations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "walnutdb_unique_guard_reservations_total",
			Help: "walnutdb_unique_guard_reservations_total counts unique-guard reservation attempts by outcome.",
		}, []string{"outcome"}),
		CommitCount: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "walnutdb_commit_total",
			Help: "walnutdb_commit_total counts transaction commits by durability mode.",
		}, []string{"durability"}),
	}
}
