package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/objectfs/objstore/internal/cache"
	"github.com/objectfs/objstore/internal/config"
	"github.com/objectfs/objstore/internal/threadpool"
	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
	"github.com/objectfs/objstore/pkg/utils"
)

const component = "s3"

// MultipartCopyThreshold is the source size from which copies always use
// the multipart protocol. Single CopyObject requests are limited to 5 GiB.
const MultipartCopyThreshold int64 = 5 * 1024 * 1024 * 1024

// ObjectStorage stores objects in one bucket of an S3 compatible service.
type ObjectStorage struct {
	bucket    string
	versionID string

	// state is replaced wholesale by ApplyNewSettings.
	state atomic.Pointer[snapshot]
	// ctlMu orders Startup and Shutdown against publishing a new client.
	ctlMu sync.Mutex

	cache      cache.Cache
	readerPool *threadpool.Pool
	writerPool *threadpool.Pool

	logger  *slog.Logger
	metrics *instanceMetrics
	tracer  trace.Tracer

	clientFactory ClientFactory
	cacheRegistry *cache.Registry
	sink          types.MetricsCollector
	opts          []Option
}

var _ types.ObjectStorage = (*ObjectStorage)(nil)

// Option configures an ObjectStorage.
type Option func(*ObjectStorage)

// WithLogger sets the parent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ObjectStorage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics forwards operation metrics to m.
func WithMetrics(m types.MetricsCollector) Option {
	return func(s *ObjectStorage) { s.sink = m }
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *ObjectStorage) { s.tracer = t }
}

// WithClientFactory replaces the function building the backend client.
func WithClientFactory(f ClientFactory) Option {
	return func(s *ObjectStorage) { s.clientFactory = f }
}

// WithCacheRegistry selects the registry local caches are taken from.
func WithCacheRegistry(r *cache.Registry) Option {
	return func(s *ObjectStorage) { s.cacheRegistry = r }
}

// New creates the storage for cfg.Storage.Bucket.
func New(ctx context.Context, cfg *config.Configuration, opts ...Option) (*ObjectStorage, error) {
	if err := utils.ValidateBucketName(cfg.Storage.Bucket); err != nil {
		return nil, serrors.InvalidArgument("invalid bucket: %v", err).WithComponent(component)
	}

	settings, err := NewSettings(cfg)
	if err != nil {
		return nil, serrors.NewError(serrors.ErrCodeInvalidConfig, err.Error()).
			WithComponent(component).WithCause(err)
	}

	s := &ObjectStorage{
		bucket:        cfg.Storage.Bucket,
		versionID:     cfg.Storage.S3.VersionID,
		readerPool:    threadpool.New("s3-reader", cfg.Performance.ReaderPoolSize),
		writerPool:    threadpool.New("s3-writer", cfg.Performance.WriterPoolSize),
		logger:        slog.Default(),
		clientFactory: NewClientFromConfig,
		cacheRegistry: cache.Default(),
		opts:          opts,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", component, "bucket", s.bucket)
	s.metrics = newInstanceMetrics(s.sink)

	if s.tracer == nil {
		if cfg.Monitoring.Tracing.Enabled {
			s.tracer = otel.Tracer("github.com/objectfs/objstore/internal/storage/s3")
		} else {
			s.tracer = noop.NewTracerProvider().Tracer("")
		}
	}

	client, err := s.clientFactory(ctx, cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	s.state.Store(&snapshot{settings: settings, client: client})

	if cfg.Cache.Enabled {
		fc, err := s.cacheRegistry.Get(cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("failed to open local cache: %w", err)
		}
		if fc != nil {
			s.cache = fc
		}
	}

	warnOnArchiveTier(s.logger, settings.StorageClass)
	s.logger.Info("S3 object storage initialized",
		"storage_class", settings.StorageClass,
		"read_method", settings.ReadMethod,
		"cache", s.cache != nil,
		"version_id", s.versionID)

	return s, nil
}

// Kind reports KindS3.
func (s *ObjectStorage) Kind() types.StorageKind {
	return types.KindS3
}

// Capabilities reports server side copy support.
func (s *ObjectStorage) Capabilities() types.Capabilities {
	return types.Capabilities{FastCopy: true, Versioning: s.versionID != ""}
}

// Bucket returns the bucket objects are stored in.
func (s *ObjectStorage) Bucket() string {
	return s.bucket
}

// Metrics returns the traffic counters of this instance.
func (s *ObjectStorage) Metrics() BackendMetrics {
	return s.metrics.snapshot()
}

// load returns the current snapshot.
func (s *ObjectStorage) load() *snapshot {
	return s.state.Load()
}

func (s *ObjectStorage) cacheKey(path string) string {
	return s.bucket + "/" + path
}

// invalidate drops the cached copy of path after it was replaced or removed.
func (s *ObjectStorage) invalidate(path string) {
	if s.cache != nil {
		s.cache.Delete(s.cacheKey(path))
	}
}

// Exists reports whether path is present. An absent object is not an error.
func (s *ObjectStorage) Exists(ctx context.Context, path string) (bool, error) {
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
func (s *ObjectStorage) GetObjectMetadata(ctx context.Context, path string) (*types.ObjectMetadata, error) {
	ctx, o := s.startOp(ctx, "head", path)
	snap := s.load()

	out, err := snap.client.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:    aws.String(s.bucket),
		Key:       aws.String(path),
		VersionId: s.versionIDPtr(),
	})
	if err != nil {
		return nil, o.end(translateError(err, "HeadObject", path), 0)
	}

	meta := &types.ObjectMetadata{
		SizeBytes:  uint64(aws.ToInt64(out.ContentLength)),
		Attributes: types.ObjectAttributes(out.Metadata).Clone(),
	}
	if out.LastModified != nil {
		meta.LastModified = out.LastModified.UnixMilli()
	}
	_ = o.end(nil, 0)
	return meta, nil
}

func (s *ObjectStorage) versionIDPtr() *string {
	if s.versionID == "" {
		return nil
	}
	return aws.String(s.versionID)
}

// operation tracks one public call for logging, metrics and tracing.
type operation struct {
	s     *ObjectStorage
	name  string
	path  string
	start time.Time
	span  trace.Span
}

func (s *ObjectStorage) startOp(ctx context.Context, name, path string) (context.Context, *operation) {
	ctx, span := s.tracer.Start(ctx, "s3."+name, trace.WithAttributes(
		attribute.String("storage.bucket", s.bucket),
		attribute.String("storage.path", path),
	))
	return ctx, &operation{s: s, name: name, path: path, start: time.Now(), span: span}
}

// end closes the span and records the outcome. It returns err unchanged.
func (o *operation) end(err error, size int64) error {
	duration := time.Since(o.start)
	o.s.metrics.recordOperation(o.name, duration, size, err)

	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
		if serrors.IsNotFound(err) {
			o.s.logger.Debug("object not found", "operation", o.name, "path", o.path)
		} else {
			o.s.logger.Warn("S3 operation failed",
				"operation", o.name,
				"path", o.path,
				"duration", duration,
				"error", err)
		}
	} else if size > 0 {
		o.span.SetAttributes(attribute.Int64("storage.bytes", size))
	}
	o.span.End()
	return err
}

// translateError maps a backend error onto the storage error taxonomy.
// Errors that already are StorageErrors pass through unchanged.
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

	if isErrorType[*s3types.NoSuchKey](err) || isErrorType[*s3types.NotFound](err) {
		return serrors.NotFound(path).WithComponent(component).WithOperation(operation).WithCause(err)
	}

	code, msg := "", ""
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code, msg = apiErr.ErrorCode(), apiErr.ErrorMessage()
		if code == "NoSuchKey" || code == "NotFound" {
			return serrors.NotFound(path).WithComponent(component).WithOperation(operation).WithCause(err)
		}
	}

	pe := serrors.NewProviderError(code, msg, err).
		WithComponent(component).
		WithOperation(operation).
		WithContext("path", path)

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		pe = pe.WithRequestID(respErr.ServiceRequestID())
	}
	return pe
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
