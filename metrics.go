package cfa

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/qri-io/cfa-go")

var (
	partitionReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cfa",
		Name:      "partition_reads_total",
		Help:      "Partition materializations by fragment format and outcome.",
	}, []string{"format", "outcome"})

	partitionReadSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cfa",
		Name:      "partition_read_seconds",
		Help:      "Time spent materializing a partition, lock wait included.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"format"})

	activeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cfa",
		Name:      "active_fallbacks_total",
		Help:      "Active reductions that fell back to reading the data locally.",
	})
)
