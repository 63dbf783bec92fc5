package minio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/objectfs/objstore/internal/config"
	"github.com/objectfs/objstore/internal/threadpool"
	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
	"github.com/objectfs/objstore/pkg/utils"
)

const component = "minio"

// MaxSingleCopySize is the largest source copied with one CopyObject request.
// Larger sources are copied part by part through ComposeObject.
const MaxSingleCopySize int64 = 5 * 1024 * 1024 * 1024

// Storage stores objects in one bucket of a MinIO server.
type Storage struct {
	bucket    string
	versionID string

	state         atomic.Pointer[snapshot]
	retriesPaused atomic.Bool

	readerPool *threadpool.Pool
	writerPool *threadpool.Pool

	logger        *slog.Logger
	sink          types.MetricsCollector
	clientFactory ClientFactory
	opts          []Option
}

var _ types.ObjectStorage = (*Storage)(nil)

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the parent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics forwards operation metrics to m.
func WithMetrics(m types.MetricsCollector) Option {
	return func(s *Storage) { s.sink = m }
}

// WithClientFactory replaces the function building minio clients.
func WithClientFactory(f ClientFactory) Option {
	return func(s *Storage) { s.clientFactory = f }
}

// New creates the storage for cfg.Storage.Bucket on cfg.Storage.Minio.Endpoint.
func New(ctx context.Context, cfg *config.Configuration, opts ...Option) (*Storage, error) {
	if err := utils.ValidateBucketName(cfg.Storage.Bucket); err != nil {
		return nil, serrors.InvalidArgument("invalid bucket: %v", err).WithComponent(component)
	}
	settings, err := NewSettings(cfg)
	if err != nil {
		return nil, serrors.NewError(serrors.ErrCodeInvalidConfig, err.Error()).
			WithComponent(component).WithCause(err)
	}

	s := &Storage{
		bucket:        cfg.Storage.Bucket,
		versionID:     cfg.Storage.S3.VersionID,
		readerPool:    threadpool.New("minio-reader", cfg.Performance.ReaderPoolSize),
		writerPool:    threadpool.New("minio-writer", cfg.Performance.WriterPoolSize),
		logger:        slog.Default(),
		clientFactory: NewClientFromConfig,
		opts:          opts,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", component, "bucket", s.bucket)

	c, err := newClients(s.clientFactory, cfg)
	if err != nil {
		return nil, err
	}
	s.state.Store(&snapshot{settings: settings, clients: c})

	s.logger.Info("MinIO object storage initialized",
		"endpoint", cfg.Storage.Minio.Endpoint,
		"read_method", settings.ReadMethod)
	return s, nil
}

// Kind reports KindMinio.
func (s *Storage) Kind() types.StorageKind {
	return types.KindMinio
}

// Capabilities reports server side copy within one MinIO deployment.
func (s *Storage) Capabilities() types.Capabilities {
	return types.Capabilities{FastCopy: true, Versioning: s.versionID != ""}
}

// Bucket returns the bucket objects are stored in.
func (s *Storage) Bucket() string {
	return s.bucket
}

func (s *Storage) load() *snapshot {
	return s.state.Load()
}

// api picks the client of snap matching the retry state.
func (s *Storage) api(snap *snapshot) API {
	if s.retriesPaused.Load() {
		return snap.clients.single
	}
	return snap.clients.retrying
}

// Exists reports whether path is present.
func (s *Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.GetObjectMetadata(ctx, path)
	if err == nil {
		return true, nil
	}
	if serrors.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// GetObjectMetadata returns size, modification time and user metadata of path.
func (s *Storage) GetObjectMetadata(ctx context.Context, path string) (*types.ObjectMetadata, error) {
	o := s.startOp("head", path)
	info, err := s.stat(ctx, s.load(), path)
	if err != nil {
		return nil, o.end(err, 0)
	}
	_ = o.end(nil, 0)
	return &types.ObjectMetadata{
		SizeBytes:    uint64(info.Size),
		LastModified: info.LastModified.UnixMilli(),
		Attributes:   types.ObjectAttributes(info.UserMetadata).Clone(),
	}, nil
}

func (s *Storage) stat(ctx context.Context, snap *snapshot, path string) (minio.ObjectInfo, error) {
	info, err := s.api(snap).StatObject(ctx, s.bucket, path, minio.StatObjectOptions{VersionID: s.versionID})
	if err != nil {
		return info, translateError(err, "StatObject", path)
	}
	return info, nil
}

type operation struct {
	s     *Storage
	name  string
	path  string
	start time.Time
}

func (s *Storage) startOp(name, path string) *operation {
	return &operation{s: s, name: name, path: path, start: time.Now()}
}

// end records the outcome and returns err unchanged.
func (o *operation) end(err error, size int64) error {
	duration := time.Since(o.start)
	if err != nil {
		if serrors.IsNotFound(err) {
			o.s.logger.Debug("object not found", "operation", o.name, "path", o.path)
		} else {
			o.s.logger.Warn("MinIO operation failed",
				"operation", o.name,
				"path", o.path,
				"duration", duration,
				"error", err)
		}
	}
	if o.s.sink != nil {
		o.s.sink.RecordOperation(o.name, duration, size, err == nil)
		if err != nil {
			o.s.sink.RecordError(o.name, err)
		}
	}
	return err
}

// translateError maps a minio client error onto the storage error taxonomy.
func translateError(err error, operation, path string) error {
	if err == nil {
		return nil
	}
	if _, ok := serrors.AsStorageError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return serrors.NewError(serrors.ErrCodeOperationCanceled, fmt.Sprintf("%s canceled", operation)).
			WithComponent(component).
			WithOperation(operation).
			WithContext("path", path).
			WithCause(err)
	}
	if ne := serrors.NewNetworkError(err); ne != nil {
		return ne.WithComponent(component).WithOperation(operation).WithContext("path", path)
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return serrors.NotFound(path).WithComponent(component).WithOperation(operation).WithCause(err)
	}
	return serrors.NewProviderError(resp.Code, resp.Message, err).
		WithComponent(component).
		WithOperation(operation).
		WithContext("path", path).
		WithRequestID(resp.RequestID)
}
