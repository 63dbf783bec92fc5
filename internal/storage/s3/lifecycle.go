package s3

import (
	"context"
	"fmt"

	"github.com/objectfs/objstore/internal/config"
	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
	"github.com/objectfs/objstore/pkg/utils"
)

// Startup lets the current client retry failed requests again.
func (s *ObjectStorage) Startup() {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	s.load().client.gate.Enable()
	s.logger.Info("S3 request retries enabled")
}

// Shutdown stops the current client from retrying, so failing requests
// return after one attempt. Requests that succeed are not interrupted.
func (s *ObjectStorage) Shutdown() {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	s.load().client.gate.Disable()
	s.logger.Info("S3 request retries disabled")
}

// ApplyNewSettings builds settings and a client from cfg and publishes both
// at once. Operations already running finish with the previous pair.
func (s *ObjectStorage) ApplyNewSettings(ctx context.Context, cfg *config.Configuration) error {
	settings, err := NewSettings(cfg)
	if err != nil {
		return serrors.NewError(serrors.ErrCodeInvalidConfig, err.Error()).
			WithComponent(component).
			WithOperation("ApplyNewSettings").
			WithCause(err)
	}

	client, err := s.clientFactory(ctx, cfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}

	s.ctlMu.Lock()
	if !s.load().client.gate.Enabled() {
		client.gate.Disable()
	}
	s.state.Store(&snapshot{settings: settings, client: client})
	s.ctlMu.Unlock()

	s.logger.Info("S3 settings applied",
		"min_upload_part_size", settings.MinUploadPartSize,
		"list_object_keys_size", settings.ListObjectKeysSize,
		"objects_chunk_size_to_delete", settings.ObjectsChunkSizeToDelete,
		"read_method", settings.ReadMethod)
	return nil
}

// CloneObjectStorage returns an independent storage for the bucket namespace
// configured by cfg. Options given to New are applied to the clone as well.
func (s *ObjectStorage) CloneObjectStorage(ctx context.Context, namespace string, cfg *config.Configuration) (types.ObjectStorage, error) {
	if err := utils.ValidateBucketName(namespace); err != nil {
		return nil, serrors.InvalidArgument("invalid namespace: %v", err).
			WithComponent(component).
			WithOperation("CloneObjectStorage")
	}

	cloned := cfg.Clone()
	cloned.Storage.Bucket = namespace
	return New(ctx, cloned, s.opts...)
}
