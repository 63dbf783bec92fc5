/*
Package metrics exports storage operation metrics through Prometheus.

A Collector owns its own prometheus.Registry, so several storage instances
in one process never collide on metric registration. It implements
types.MetricsCollector and records:

  - operations_total{operation,status} and operation_duration_seconds
  - operation_size_bytes for reads, writes and copies
  - cache_requests_total{type} and cache_size_bytes
  - errors_total{operation,type}, labelled with the storage error code
  - multipart_uploads_total{operation,outcome} and multipart_parts

Mount Handler on the configured path to expose the registry:

	collector, err := metrics.NewCollector(cfg.Monitoring.Metrics)
	if err != nil {
		return err
	}
	mux.Handle(collector.Path(), collector.Handler())

A collector built from a disabled configuration records nothing and its
handler answers 404.
*/
package metrics
