// Package metrics holds the Prometheus collectors shared by the capture, table and export paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	NAMESPACE = "deeptrace"
)

var (
	PacketsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:      "packets_ingested_total",
			Help:      "Packet events folded into the flow table.",
			Namespace: NAMESPACE,
		},
	)
	PacketsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "packets_skipped_total",
			Help:      "Captured packets that were not turned into flow events.",
			Namespace: NAMESPACE,
		},
		[]string{"reason"},
	)
	FlowsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:      "flows_created_total",
			Help:      "Flow records created.",
			Namespace: NAMESPACE,
		},
	)
	FlowsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:      "flows_rejected_total",
			Help:      "New flows dropped because the table was full.",
			Namespace: NAMESPACE,
		},
	)
	FlowsEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "flows_evicted_total",
			Help:      "Flow records removed from the table.",
			Namespace: NAMESPACE,
		},
		[]string{"reason"},
	)
	FlowsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:      "flows_active",
			Help:      "Flow records currently held in the table.",
			Namespace: NAMESPACE,
		},
	)
	EncodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:      "record_encode_errors_total",
			Help:      "Evicted flows whose record could not be encoded.",
			Namespace: NAMESPACE,
		},
	)
	SinkRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "sink_records_total",
			Help:      "Records handed to a sink.",
			Namespace: NAMESPACE,
		},
		[]string{"sink"},
	)
	SinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "sink_errors_total",
			Help:      "Failed sink writes.",
			Namespace: NAMESPACE,
		},
		[]string{"sink"},
	)
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:      "sweep_duration_seconds",
			Help:      "Time spent sweeping the flow table.",
			Namespace: NAMESPACE,
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(PacketsIngested)
	prometheus.MustRegister(PacketsSkipped)
	prometheus.MustRegister(FlowsCreated)
	prometheus.MustRegister(FlowsRejected)
	prometheus.MustRegister(FlowsEvicted)
	prometheus.MustRegister(FlowsActive)
	prometheus.MustRegister(EncodeErrors)
	prometheus.MustRegister(SinkRecords)
	prometheus.MustRegister(SinkErrors)
	prometheus.MustRegister(SweepDuration)
}
