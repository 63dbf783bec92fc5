/*
Package config provides configuration management for objstore with multi-source support.

# Configuration Architecture

Multi-source configuration hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (OBJSTORE_*)                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)               │
	└─────────────────────────────────────────────┘

# Configuration Structure

Global: log level, format and file.

Storage: backend kind, bucket, S3 or minio endpoint and credentials, and the
request tunables (part sizes, listing page size, delete chunk size, seek
threshold, request rate limits, read method). The request tunables are the
values swapped atomically when a storage instance applies new settings.

Performance: reader and writer worker pool sizes.

Cache: local file cache location, capacity, read-only mode, cache-on-write
policy and entry compression.

Monitoring: Prometheus metrics and OpenTelemetry tracing switches.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/objstore/config.yaml"); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

Example file:

	storage:
	  kind: s3
	  bucket: warehouse-data
	  s3:
	    region: eu-west-1
	    storage_class: STANDARD_IA
	  request:
	    min_upload_part_size: 64MiB
	    objects_chunk_size_to_delete: 1000
	cache:
	  enabled: true
	  base_path: /var/cache/objstore
	  max_size: 20GiB
	  compression: lz4

Sizes accept human readable values ("16MiB", "2GB"). Validate rejects part sizes
below the 5 MiB provider minimum.
*/
package config
