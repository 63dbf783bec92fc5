package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/objstore/internal/config"
	"github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
)

// Collector records storage operation metrics into a Prometheus registry.
type Collector struct {
	mu       sync.RWMutex
	config   config.MetricsConfig
	registry *prometheus.Registry

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	cacheCounter      *prometheus.CounterVec
	cacheSizeGauge    prometheus.Gauge
	errorCounter      *prometheus.CounterVec
	multipartCounter  *prometheus.CounterVec
	multipartParts    *prometheus.HistogramVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time
}

var _ types.MetricsCollector = (*Collector)(nil)

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// NewCollector creates a collector. A disabled configuration yields a
// collector whose Record methods are no-ops.
func NewCollector(cfg config.MetricsConfig) (*Collector, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "objstore"
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}

	if !cfg.Enabled {
		return &Collector{config: cfg}, nil
	}

	collector := &Collector{
		config:     cfg,
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Path is the HTTP path the handler is meant to be mounted on.
func (c *Collector) Path() string {
	return c.config.Path
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordOperation records an operation with its metrics
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	m, exists := c.operations[operation]
	if !exists {
		m = &OperationMetrics{}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.TotalSize += size
	if !success {
		m.Errors++
	}
	m.LastOperation = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.AvgSize = float64(m.TotalSize) / float64(m.Count)
	c.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}

	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())

	if size > 0 {
		c.operationSize.With(prometheus.Labels{
			"operation": operation,
		}).Observe(float64(size))
	}
}

// RecordCacheHit records a cache hit
func (c *Collector) RecordCacheHit(key string, size int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheCounter.With(prometheus.Labels{"type": "hit"}).Inc()
}

// RecordCacheMiss records a cache miss
func (c *Collector) RecordCacheMiss(key string, size int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheCounter.With(prometheus.Labels{"type": "miss"}).Inc()
}

// UpdateCacheStats publishes the size of the local cache.
func (c *Collector) UpdateCacheStats(stats types.CacheStats) {
	if !c.config.Enabled {
		return
	}
	c.cacheSizeGauge.Set(float64(stats.Size))
}

// RecordError records an error by its storage error code.
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}

	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      classifyError(err),
	}).Inc()
}

// RecordMultipart counts multipart upload outcomes (started, completed,
// aborted, escalated) and the number of parts involved.
func (c *Collector) RecordMultipart(operation, outcome string, parts int) {
	if !c.config.Enabled {
		return
	}

	c.multipartCounter.With(prometheus.Labels{
		"operation": operation,
		"outcome":   outcome,
	}).Inc()
	if parts > 0 {
		c.multipartParts.With(prometheus.Labels{"operation": operation}).Observe(float64(parts))
	}
}

// GetMetrics returns a snapshot of per-operation totals.
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// ResetMetrics resets the per-operation totals. Prometheus counters are not reset.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// DebugHandler writes a plain text summary of per-operation totals.
func (c *Collector) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot := c.GetMetrics()

		c.mu.RLock()
		lastReset := c.lastReset
		c.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain")
		writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

		writef("Storage Operations Summary\n")
		writef("==========================\n\n")
		writef("Since: %v\n\n", lastReset.Format(time.RFC3339))

		if len(snapshot) == 0 {
			writef("No operations recorded.\n")
			return
		}

		names := make([]string, 0, len(snapshot))
		for name := range snapshot {
			names = append(names, name)
		}
		sort.Strings(names)

		writef("%-28s %10s %10s %12s %12s\n", "Operation", "Count", "Errors", "Avg Duration", "Avg Size")
		for _, name := range names {
			op := snapshot[name]
			writef("%-28s %10d %10d %12v %12.0f\n", name, op.Count, op.Errors, op.AvgDuration, op.AvgSize)
		}
	})
}

// Helper methods

func (c *Collector) initMetrics() {
	ns := c.config.Namespace
	labels := prometheus.Labels(c.config.CustomLabels)

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "operations_total",
			Help:        "Total number of storage operations",
			ConstLabels: labels,
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "operation_duration_seconds",
			Help:        "Duration of storage operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			ConstLabels: labels,
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "operation_size_bytes",
			Help:        "Bytes transferred by storage operations",
			Buckets:     prometheus.ExponentialBuckets(1024, 4, 12), // 1KB to ~4TB
			ConstLabels: labels,
		},
		[]string{"operation"},
	)

	c.cacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "cache_requests_total",
			Help:        "Total number of local cache lookups",
			ConstLabels: labels,
		},
		[]string{"type"},
	)

	c.cacheSizeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "cache_size_bytes",
			Help:        "Current local cache size in bytes",
			ConstLabels: labels,
		},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "errors_total",
			Help:        "Total number of storage errors by code",
			ConstLabels: labels,
		},
		[]string{"operation", "type"},
	)

	c.multipartCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "multipart_uploads_total",
			Help:        "Multipart upload outcomes",
			ConstLabels: labels,
		},
		[]string{"operation", "outcome"},
	)

	c.multipartParts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "multipart_parts",
			Help:        "Number of parts per multipart upload",
			Buckets:     prometheus.ExponentialBuckets(1, 2, 14), // 1 to 8192 parts
			ConstLabels: labels,
		},
		[]string{"operation"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.cacheCounter,
		c.cacheSizeGauge,
		c.errorCounter,
		c.multipartCounter,
		c.multipartParts,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// classifyError labels errors by their storage error code, falling back to
// "other" for foreign errors.
func classifyError(err error) string {
	if se, ok := errors.AsStorageError(err); ok {
		return string(se.Code)
	}
	return "other"
}
