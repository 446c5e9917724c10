// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shardfs.
//
// go-shardfs is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for shardfs. It exposes
// filesystem operation counters and latencies, shard traffic, transport
// requests and resource gauges.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all shardfs metrics
	Namespace = "shardfs"

	// Label names
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelDirection = "direction"
	LabelProtocol  = "protocol"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpCreate   = "create"
	OpRead     = "read"
	OpWrite    = "write"
	OpTruncate = "truncate"
	OpUnlink   = "unlink"
	OpRename   = "rename"
	OpSize     = "size"

	// Transport operation names
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
	OpList   = "list"
	OpExists = "exists"

	// Directions for shard traffic
	DirectionIn  = "in"
	DirectionOut = "out"

	// ProtocolQUIC labels shard server connections
	ProtocolQUIC = "quic"
)

var (
	// OperationsTotal tracks filesystem operations by type and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of filesystem operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// OperationDuration tracks the duration of filesystem operations in seconds.
	// A write reads, re-splits and rewrites the whole file, so buckets reach further
	// than a plain disk write would need.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of filesystem operations in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelOperation},
	)

	// ErrorsTotal tracks errors by operation and error type
	// (e.g. "corrupt_shard", "corrupt_header", "io").
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation and error type",
		},
		[]string{LabelOperation, LabelErrorType},
	)

	// ShardBytesTotal tracks shard file bytes written (out) and read (in).
	ShardBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "shard_bytes_total",
			Help:      "Total shard file bytes read and written",
		},
		[]string{LabelDirection},
	)

	// ShardGroupsWritten counts shard groups produced by splits.
	ShardGroupsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "shard_groups_written_total",
			Help:      "Total number of shard groups written",
		},
	)

	// ShardsReconstructed counts data shards rebuilt from parity.
	ShardsReconstructed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "shards_reconstructed_total",
			Help:      "Total number of data shards rebuilt from parity",
		},
	)

	// TransportRequestsTotal tracks shard server requests by operation and status.
	TransportRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Total number of shard server requests by operation and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// TransportRequestDuration tracks shard server request latency in seconds.
	TransportRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Duration of shard server requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelOperation},
	)

	// ActiveConnections tracks open shard server connections.
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of active connections by protocol",
		},
		[]string{LabelProtocol},
	)

	// Goroutines tracks the current number of goroutines.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// MemorySysBytes tracks the total bytes of memory obtained from the OS.
	MemorySysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_sys_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	// Uptime tracks seconds since startup.
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordOperation records a filesystem operation with its duration in seconds.
//
// Example:
//
//	start := time.Now()
//	n, err := eng.Read(path, buf, off)
//	metrics.RecordOperation(metrics.OpRead, metrics.Status(err), time.Since(start).Seconds())
func RecordOperation(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordError records an error event for an operation.
func RecordError(operation, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordShardBytes adds n bytes of shard traffic in direction.
func RecordShardBytes(direction string, n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	ShardBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordGroupWritten counts one shard group write.
func RecordGroupWritten() {
	if !enabled.Load() {
		return
	}
	ShardGroupsWritten.Inc()
}

// RecordReconstructed counts n data shards rebuilt from parity.
func RecordReconstructed(n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	ShardsReconstructed.Add(float64(n))
}

// RecordTransportRequest records a shard server request.
func RecordTransportRequest(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	TransportRequestsTotal.WithLabelValues(operation, status).Inc()
	TransportRequestDuration.WithLabelValues(operation).Observe(duration)
}

// Status maps an error to StatusSuccess or StatusError.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
