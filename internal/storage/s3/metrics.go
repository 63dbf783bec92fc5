package s3

import (
	"sync"
	"time"

	"github.com/objectfs/objstore/pkg/types"
)

// BackendMetrics tracks the traffic of one storage instance
type BackendMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`

	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	// Multipart copy and upload metrics
	MultipartUploads          int64 `json:"multipart_uploads"`           // Total multipart uploads initiated
	MultipartUploadsParts     int64 `json:"multipart_uploads_parts"`     // Total parts transferred
	MultipartUploadsCompleted int64 `json:"multipart_uploads_completed"` // Completed multipart uploads
	MultipartUploadsAborted   int64 `json:"multipart_uploads_aborted"`   // Aborted multipart uploads
	MultipartEscalations      int64 `json:"multipart_escalations"`       // Single copies retried as multipart
}

// instanceMetrics aggregates BackendMetrics locally and forwards every event
// to the optional shared collector.
type instanceMetrics struct {
	mu      sync.RWMutex
	metrics BackendMetrics
	sink    types.MetricsCollector
}

func newInstanceMetrics(sink types.MetricsCollector) *instanceMetrics {
	return &instanceMetrics{sink: sink}
}

// operations whose size counts as uploaded or downloaded bytes
var (
	uploadOps   = map[string]bool{"write": true, "copy": true}
	downloadOps = map[string]bool{"read": true}
)

func (m *instanceMetrics) recordOperation(operation string, duration time.Duration, size int64, err error) {
	m.mu.Lock()
	m.metrics.Requests++
	if err != nil {
		m.metrics.Errors++
		m.metrics.LastError = err.Error()
		m.metrics.LastErrorTime = time.Now()
	} else {
		if uploadOps[operation] {
			m.metrics.BytesUploaded += size
		}
		if downloadOps[operation] {
			m.metrics.BytesDownloaded += size
		}
	}

	// Calculate rolling average latency
	if m.metrics.Requests == 1 {
		m.metrics.AverageLatency = duration
	} else {
		m.metrics.AverageLatency = time.Duration(
			(int64(m.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
	m.mu.Unlock()

	if m.sink == nil {
		return
	}
	m.sink.RecordOperation(operation, duration, size, err == nil)
	if err != nil {
		m.sink.RecordError(operation, err)
	}
}

func (m *instanceMetrics) recordCache(key string, hit bool, size int64) {
	m.mu.Lock()
	if hit {
		m.metrics.CacheHits++
	} else {
		m.metrics.CacheMisses++
	}
	m.mu.Unlock()

	if m.sink == nil {
		return
	}
	if hit {
		m.sink.RecordCacheHit(key, size)
	} else {
		m.sink.RecordCacheMiss(key, size)
	}
}

// recordMultipart counts an outcome: started, completed, aborted or escalated.
func (m *instanceMetrics) recordMultipart(operation, outcome string, parts int) {
	m.mu.Lock()
	switch outcome {
	case "started":
		m.metrics.MultipartUploads++
	case "completed":
		m.metrics.MultipartUploadsCompleted++
		m.metrics.MultipartUploadsParts += int64(parts)
	case "aborted":
		m.metrics.MultipartUploadsAborted++
		m.metrics.MultipartUploadsParts += int64(parts)
	case "escalated":
		m.metrics.MultipartEscalations++
	}
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.RecordMultipart(operation, outcome, parts)
	}
}

func (m *instanceMetrics) snapshot() BackendMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// ErrorRate returns the fraction of failed requests.
func (b BackendMetrics) ErrorRate() float64 {
	if b.Requests == 0 {
		return 0
	}
	return float64(b.Errors) / float64(b.Requests)
}

// MultipartSuccessRate returns the percentage of finished multipart uploads that completed.
func (b BackendMetrics) MultipartSuccessRate() float64 {
	total := b.MultipartUploadsCompleted + b.MultipartUploadsAborted
	if total == 0 {
		return 100.0
	}
	return float64(b.MultipartUploadsCompleted) / float64(total) * 100
}
