package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the mutsynchub service
type Metrics struct {
	// Realtime gateway metrics
	Connections        *prometheus.GaugeVec
	Messages           *prometheus.CounterVec
	EventsPublished    *prometheus.CounterVec
	BroadcastsRejected *prometheus.CounterVec

	// Scheduler metrics
	ScheduleFirings *prometheus.CounterVec
	AnalysisRuns    *prometheus.CounterVec

	// Kafka metrics
	KafkaMessages *prometheus.CounterVec
	KafkaDuration *prometheus.HistogramVec
	KafkaLag      *prometheus.GaugeVec
}
