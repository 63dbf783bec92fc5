package minio

import (
	"fmt"

	"github.com/objectfs/objstore/internal/config"
	"github.com/objectfs/objstore/pkg/types"
)

// minPartSize is the smallest part the multipart protocol accepts.
const minPartSize = 5 * 1024 * 1024

// Settings are the request tunables of one storage instance.
type Settings struct {
	MaxSingleReadRetries     int
	MinUploadPartSize        int64
	MaxSinglePartUploadSize  int64
	ListObjectKeysSize       int
	ObjectsChunkSizeToDelete int
	MinBytesForSeek          int64
	ReadMethod               types.ReadMethod
}

// NewSettings derives Settings from the request section of cfg.
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

	s := &Settings{
		MaxSingleReadRetries:     req.MaxSingleReadRetries,
		MinUploadPartSize:        max(int64(partSize), minPartSize),
		MaxSinglePartUploadSize:  int64(singlePart),
		ListObjectKeysSize:       req.ListObjectKeysSize,
		ObjectsChunkSizeToDelete: req.ObjectsChunkSizeToDelete,
		MinBytesForSeek:          int64(seek),
		ReadMethod:               types.ReadMethod(req.ReadMethod),
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

type snapshot struct {
	settings *Settings
	clients  *clients
}
