package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_import_events_total",
			Help: "Total number of pipeline events by stage and type",
		},
		[]string{"stage", "type"},
	)

	ItemDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archive_import_item_duration_seconds",
			Help:    "Time spent converting and submitting a single mail item, retries included",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_import_batch_flushes_total",
			Help: "Total number of executed import batches",
		},
		[]string{"account"},
	)

	LabelsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_import_labels_created_total",
			Help: "Total number of labels created at the destination",
		},
		[]string{"account"},
	)
)
