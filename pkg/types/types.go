package types

import (
	"strings"
)

// StorageKind identifies the provider family behind an ObjectStorage.
type StorageKind string

const (
	KindS3    StorageKind = "s3"
	KindMinio StorageKind = "minio"
)

// Capabilities describes optional provider features a caller may query
// before choosing an accelerated code path.
type Capabilities struct {
	// FastCopy reports server-side copy between buckets reachable by the same client.
	FastCopy bool `json:"fast_copy"`
	// Versioning reports that reads honour a configured version id.
	Versioning bool `json:"versioning"`
}

// ObjectAttributes are user supplied key/value pairs stored with an object.
type ObjectAttributes map[string]string

// Clone returns an independent copy of the attributes.
func (a ObjectAttributes) Clone() ObjectAttributes {
	if a == nil {
		return nil
	}
	out := make(ObjectAttributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// ObjectMetadata represents metadata about a stored object
type ObjectMetadata struct {
	SizeBytes    uint64           `json:"size_bytes"`
	LastModified int64            `json:"last_modified"` // unix milliseconds
	Attributes   ObjectAttributes `json:"attributes,omitempty"`
}

// ListEntry is a single (key, size) pair produced by prefix listing.
type ListEntry struct {
	Key  string `json:"key"`
	Size uint64 `json:"size"`
}

// BlobPathWithSize names one physical shard of a logical file.
type BlobPathWithSize struct {
	RelativePath string `json:"relative_path"`
	BytesSize    uint64 `json:"bytes_size"`
}

// FullPath joins the shard path onto the common prefix.
func (b BlobPathWithSize) FullPath(commonPrefix string) string {
	if commonPrefix == "" {
		return b.RelativePath
	}
	if strings.HasSuffix(commonPrefix, "/") || strings.HasPrefix(b.RelativePath, "/") {
		return commonPrefix + b.RelativePath
	}
	return commonPrefix + "/" + b.RelativePath
}

// TotalSize sums the sizes of all blobs.
func TotalSize(blobs []BlobPathWithSize) uint64 {
	var total uint64
	for _, b := range blobs {
		total += b.BytesSize
	}
	return total
}

// Range represents a byte range. A non-positive Length reads to the end.
type Range struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// WriteMode selects how WriteObject treats an existing object.
type WriteMode int

const (
	WriteModeRewrite WriteMode = iota
	WriteModeAppend
)

func (m WriteMode) String() string {
	switch m {
	case WriteModeRewrite:
		return "rewrite"
	case WriteModeAppend:
		return "append"
	default:
		return "unknown"
	}
}

// ReadMethod selects the reader implementation used by ReadObject.
type ReadMethod string

const (
	ReadMethodRead       ReadMethod = "read"
	ReadMethodThreadpool ReadMethod = "threadpool"
)

// ReadSettings are per-call read options.
type ReadSettings struct {
	Method     ReadMethod `json:"method"`
	BufferSize int        `json:"buffer_size"`

	EnableFilesystemCache bool `json:"enable_filesystem_cache"`
	// ReadFromCacheIfExistsOtherwiseBypass consults the cache without populating it on a miss.
	ReadFromCacheIfExistsOtherwiseBypass bool `json:"read_from_cache_if_exists_otherwise_bypass"`
}

// WriteSettings are per-call write options.
type WriteSettings struct {
	EnableCacheOnWriteOperations bool `json:"enable_cache_on_write_operations"`
}

// FinalizeCallback is invoked once with the object path after a write commits.
type FinalizeCallback func(path string)

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Bypasses    uint64  `json:"bypasses"`
	Evictions   uint64  `json:"evictions"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	Entries     int     `json:"entries"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}
