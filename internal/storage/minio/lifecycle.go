package minio

import (
	"context"

	"github.com/objectfs/objstore/internal/config"
	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
	"github.com/objectfs/objstore/pkg/utils"
)

// Startup routes requests to the retrying client again.
func (s *Storage) Startup() {
	s.retriesPaused.Store(false)
	s.logger.Info("MinIO request retries enabled")
}

// Shutdown routes requests to the client that makes a single attempt.
func (s *Storage) Shutdown() {
	s.retriesPaused.Store(true)
	s.logger.Info("MinIO request retries disabled")
}

// ApplyNewSettings builds settings and clients from cfg and publishes them
// together. Running operations keep the previous pair.
func (s *Storage) ApplyNewSettings(_ context.Context, cfg *config.Configuration) error {
	settings, err := NewSettings(cfg)
	if err != nil {
		return serrors.NewError(serrors.ErrCodeInvalidConfig, err.Error()).
			WithComponent(component).
			WithOperation("ApplyNewSettings").
			WithCause(err)
	}
	c, err := newClients(s.clientFactory, cfg)
	if err != nil {
		return err
	}
	s.state.Store(&snapshot{settings: settings, clients: c})

	s.logger.Info("MinIO settings applied",
		"list_object_keys_size", settings.ListObjectKeysSize,
		"objects_chunk_size_to_delete", settings.ObjectsChunkSizeToDelete,
		"read_method", settings.ReadMethod)
	return nil
}

// CloneObjectStorage returns an independent storage for the bucket namespace.
func (s *Storage) CloneObjectStorage(ctx context.Context, namespace string, cfg *config.Configuration) (types.ObjectStorage, error) {
	if err := utils.ValidateBucketName(namespace); err != nil {
		return nil, serrors.InvalidArgument("invalid namespace: %v", err).
			WithComponent(component).
			WithOperation("CloneObjectStorage")
	}
	cloned := cfg.Clone()
	cloned.Storage.Bucket = namespace
	return New(ctx, cloned, s.opts...)
}
