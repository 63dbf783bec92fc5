package types

import (
	"context"
	"io"
	"time"

	"github.com/objectfs/objstore/internal/config"
)

// ObjectStorage is the uniform blob storage surface consumed by the storage engine.
type ObjectStorage interface {
	Kind() StorageKind
	Capabilities() Capabilities
	// Bucket returns the namespace objects are stored under.
	Bucket() string

	Exists(ctx context.Context, path string) (bool, error)
	GetObjectMetadata(ctx context.Context, path string) (*ObjectMetadata, error)

	ReadObject(ctx context.Context, path string, settings ReadSettings, rng *Range) (io.ReadSeekCloser, error)
	ReadObjects(ctx context.Context, commonPrefix string, blobs []BlobPathWithSize, settings ReadSettings) (io.ReadSeekCloser, error)
	WriteObject(ctx context.Context, path string, mode WriteMode, attrs ObjectAttributes,
		finalize FinalizeCallback, bufferSize int, settings WriteSettings) (io.WriteCloser, error)

	ListPrefix(ctx context.Context, prefix string) ([]ListEntry, error)

	RemoveObject(ctx context.Context, path string) error
	RemoveObjectIfExists(ctx context.Context, path string) error
	RemoveObjects(ctx context.Context, paths []string) error
	RemoveObjectsIfExist(ctx context.Context, paths []string) error

	CopyObject(ctx context.Context, from, to string, attrs ObjectAttributes) error
	CopyObjectToAnotherStorage(ctx context.Context, from, to string, dest ObjectStorage, attrs ObjectAttributes) error

	ApplyNewSettings(ctx context.Context, cfg *config.Configuration) error
	CloneObjectStorage(ctx context.Context, namespace string, cfg *config.Configuration) (ObjectStorage, error)

	Startup()
	Shutdown()
}

// MetricsCollector defines the metrics collection interface
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordCacheHit(key string, size int64)
	RecordCacheMiss(key string, size int64)
	RecordError(operation string, err error)
	RecordMultipart(operation, outcome string, parts int)
}
