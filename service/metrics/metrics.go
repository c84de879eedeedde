package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	solanaRPCBatchSize    *prometheus.HistogramVec

	// Transaction Processing Metrics
	transactionsFetchedTotal   *prometheus.CounterVec
	transactionsProcessedTotal *prometheus.CounterVec
	transfersMatchedTotal      *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCBatchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_batch_size",
				Help:    "Number of requests sent in one JSON-RPC batch",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"endpoint"},
		),

		// Transaction Processing Metrics
		transactionsFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_fetched_total",
				Help: "Total number of transactions requested from Solana by result",
			},
			[]string{"result"},
		),
		transactionsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_processed_total",
				Help: "Total number of transactions handled by the processor by version",
			},
			[]string{"version"},
		),
		transfersMatchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_matched_total",
				Help: "Total number of inner transfer instructions that matched the filter",
			},
			[]string{"mint"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCBatchSize records how many requests went out in one batch.
func (m *Metrics) RecordRPCBatchSize(endpoint string, size int) {
	m.solanaRPCBatchSize.WithLabelValues(endpoint).Observe(float64(size))
}

// Transaction processing metric helpers

// RecordTransactionsFetched records fetch outcomes ("found", "missing", "undecodable").
func (m *Metrics) RecordTransactionsFetched(result string, count int) {
	m.transactionsFetchedTotal.WithLabelValues(result).Add(float64(count))
}

// RecordTransactionProcessed records one transaction seen by the processor.
func (m *Metrics) RecordTransactionProcessed(version string) {
	m.transactionsProcessedTotal.WithLabelValues(version).Inc()
}

// RecordTransferMatched records a matched transfer instruction.
func (m *Metrics) RecordTransferMatched(mint string) {
	m.transfersMatchedTotal.WithLabelValues(mint).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Push sends everything gathered by g to a Prometheus Pushgateway under job.
// A single CLI run is over long before any scrape would happen, so the
// collected values are pushed once at the end instead.
func Push(ctx context.Context, gatewayURL, job string, g prometheus.Gatherer) error {
	if gatewayURL == "" {
		return fmt.Errorf("pushgateway URL is required")
	}
	if err := push.New(gatewayURL, job).Gatherer(g).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
