package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_http_requests_total",
			Help: "Total number of admin HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafkasink_http_request_duration_seconds",
			Help:    "Admin HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Consumer metrics
	RecordsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_records_consumed_total",
			Help: "Total number of records fetched from the broker",
		},
		[]string{"topic", "partition"},
	)

	ConsumerStallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_consumer_stalls_total",
			Help: "Times fetching waited on a full partition buffer",
		},
		[]string{"topic", "partition"},
	)

	ConsumerFetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kafkasink_consumer_fetch_errors_total",
			Help: "Total number of failed broker fetches",
		},
	)

	ActivePartitions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kafkasink_active_partitions",
			Help: "Number of partitions with a running worker",
		},
	)

	// Batch metrics
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kafkasink_batch_size",
			Help:    "Number of records per dispatched batch",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000},
		},
	)

	BatchProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kafkasink_batch_process_duration_seconds",
			Help:    "Time taken to convert and store one batch",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	BatchResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_batch_results_total",
			Help: "Total number of processed batches by result",
		},
		[]string{"result"}, // result: success, failed
	)

	InFlightBatches = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafkasink_in_flight_batches",
			Help: "Batches dispatched and not yet committed",
		},
		[]string{"topic", "partition"},
	)

	// Commit metrics
	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_commits_total",
			Help: "Total number of offset commits by status",
		},
		[]string{"status"}, // status: success, failed, withheld
	)

	CommittedOffset = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafkasink_committed_offset",
			Help: "Last offset acknowledged by the broker per partition",
		},
		[]string{"topic", "partition"},
	)

	// Conversion metrics
	EventsStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_events_stored_total",
			Help: "Total number of events handed to storage",
		},
		[]string{"stream"},
	)

	TombstonesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_tombstones_total",
			Help: "Total number of records skipped for having no payload",
		},
		[]string{"stream"},
	)

	RecordErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_record_errors_total",
			Help: "Total number of record failures by error kind",
		},
		[]string{"kind"},
	)

	// Stream catalog metrics
	StreamsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kafkasink_streams_created_total",
			Help: "Total number of streams created on first sight",
		},
	)

	SchemaCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_schema_commits_total",
			Help: "Total number of stream schema updates",
		},
		[]string{"stream"},
	)

	// Storage metrics
	StagedBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_staged_bytes_total",
			Help: "Total origin bytes of events written to staging segments",
		},
		[]string{"stream", "format"},
	)

	SegmentsFlushedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_segments_flushed_total",
			Help: "Total number of finalized staging segments",
		},
		[]string{"stream"},
	)

	SegmentUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_segment_uploads_total",
			Help: "Total number of segment uploads by status",
		},
		[]string{"status"}, // status: success, failed
	)

	// Producer metrics (loadgen)
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kafkasink_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kafkasink_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kafkasink_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafkasink_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
