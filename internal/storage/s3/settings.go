package s3

import (
	"fmt"

	"github.com/objectfs/objstore/internal/config"
	"github.com/objectfs/objstore/pkg/types"
)

// Settings are the request tunables of one storage instance. A Settings
// value is never modified once published.
type Settings struct {
	MaxSingleReadRetries     int
	MinUploadPartSize        int64
	MaxSinglePartUploadSize  int64
	ListObjectKeysSize       int32
	ObjectsChunkSizeToDelete int
	MinBytesForSeek          int64
	ReadMethod               types.ReadMethod
	StorageClass             string
}

// NewSettings derives Settings from cfg.
func NewSettings(cfg *config.Configuration) (*Settings, error) {
	req := cfg.Storage.Request

	partSize, err := config.ParseSize(req.MinUploadPartSize)
	if err != nil {
		return nil, fmt.Errorf("min_upload_part_size: %w", err)
	}
	singlePart, err := config.ParseSize(req.MaxSinglePartUploadSize)
	if err != nil {
		return nil, fmt.Errorf("max_single_part_upload_size: %w", err)
	}
	seek, err := config.ParseSize(req.MinBytesForSeek)
	if err != nil {
		return nil, fmt.Errorf("min_bytes_for_seek: %w", err)
	}
	if err := ValidateStorageClass(cfg.Storage.S3.StorageClass); err != nil {
		return nil, err
	}

	s := &Settings{
		MaxSingleReadRetries:     req.MaxSingleReadRetries,
		MinUploadPartSize:        int64(partSize),
		MaxSinglePartUploadSize:  int64(singlePart),
		ListObjectKeysSize:       int32(req.ListObjectKeysSize),
		ObjectsChunkSizeToDelete: req.ObjectsChunkSizeToDelete,
		MinBytesForSeek:          int64(seek),
		ReadMethod:               types.ReadMethod(req.ReadMethod),
		StorageClass:             cfg.Storage.S3.StorageClass,
	}
	if s.ListObjectKeysSize <= 0 {
		s.ListObjectKeysSize = 1000
	}
	if s.ObjectsChunkSizeToDelete <= 0 {
		s.ObjectsChunkSizeToDelete = 1000
	}
	if s.ReadMethod == "" {
		s.ReadMethod = types.ReadMethodRead
	}
	return s, nil
}

// snapshot pairs settings with the client they were built with. Operations
// load it once and use it until they return.
type snapshot struct {
	settings *Settings
	client   *Client
}
