/*
Package types provides the core interfaces and data structures shared by objstore components.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│          Storage engine (caller)            │
	└─────────────────────────────────────────────┘
	                      │  types.ObjectStorage
	┌─────────────────────────────────────────────┐
	│ internal/storage/s3  internal/storage/minio │
	└─────────────────────────────────────────────┘
	          │            │             │
	┌─────────┴───┐ ┌──────┴─────┐ ┌─────┴─────┐
	│ Thread pools│ │ File cache │ │  Metrics  │
	└─────────────┘ └────────────┘ └───────────┘

# Core Interfaces

ObjectStorage:
Uniform surface for reading, writing, listing, copying and deleting blobs. Callers
pick accelerated paths through Kind and Capabilities, never by inspecting the
concrete implementation.

MetricsCollector:
Operation and cache accounting implemented by internal/metrics.

# Data Structures

ObjectMetadata carries the size, last modification time (unix milliseconds) and
user attributes of a blob. ListEntry is one (key, size) pair of a prefix listing,
returned in provider order. BlobPathWithSize names one shard of a logical file
that ReadObjects stitches back together.

# Thread Safety

ObjectStorage implementations are safe for concurrent use. Streams returned by
ReadObject, ReadObjects and WriteObject belong to the caller and are not.
*/
package types
