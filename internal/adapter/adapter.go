package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/objstore/internal/cache"
	"github.com/objectfs/objstore/internal/config"
	"github.com/objectfs/objstore/internal/metrics"
	"github.com/objectfs/objstore/internal/storage/minio"
	"github.com/objectfs/objstore/internal/storage/s3"
	"github.com/objectfs/objstore/pkg/health"
	"github.com/objectfs/objstore/pkg/types"
	"github.com/objectfs/objstore/pkg/utils"
)

// healthProbeKey is looked up by periodic health checks. It does not need to exist.
const healthProbeKey = ".objstore-health"

// Adapter owns one object storage together with its metrics, health
// tracking and local cache registry.
type Adapter struct {
	storageURI string
	bucketName string
	prefix     string
	config     *config.Configuration

	logger    *slog.Logger
	collector *metrics.Collector
	tracker   *health.Tracker
	caches    *cache.Registry
	storage   types.ObjectStorage

	s3Opts    []s3.Option
	minioOpts []minio.Option

	mu         sync.Mutex
	started    bool
	server     *http.Server
	stopChecks context.CancelFunc
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger instead of building one from the global settings.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithS3Options passes extra options to the S3 storage.
func WithS3Options(opts ...s3.Option) Option {
	return func(a *Adapter) { a.s3Opts = append(a.s3Opts, opts...) }
}

// WithMinioOptions passes extra options to the MinIO storage.
func WithMinioOptions(opts ...minio.Option) Option {
	return func(a *Adapter) { a.minioOpts = append(a.minioOpts, opts...) }
}

// New opens the storage named by storageURI, s3://bucket[/prefix] or
// minio://bucket[/prefix]. The scheme and bucket override cfg.
func New(ctx context.Context, storageURI string, cfg *config.Configuration, opts ...Option) (*Adapter, error) {
	kind, bucket, prefix, err := parseStorageURI(storageURI)
	if err != nil {
		return nil, fmt.Errorf("invalid storage URI: %w", err)
	}

	cfg = cfg.Clone()
	cfg.Storage.Kind = kind
	cfg.Storage.Bucket = bucket
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Adapter{
		storageURI: storageURI,
		bucketName: bucket,
		prefix:     prefix,
		config:     cfg,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		if a.logger, err = utils.NewLogger(cfg.Global, os.Stderr); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	a.logger = a.logger.With("component", "adapter")

	if a.collector, err = metrics.NewCollector(cfg.Monitoring.Metrics); err != nil {
		return nil, err
	}
	a.tracker = health.NewTracker(health.DefaultConfig())
	a.tracker.RegisterComponent(kind)
	a.caches = cache.NewRegistry(a.logger)

	sink := teeCollector{a.collector, a.tracker.OperationSink(kind)}
	switch kind {
	case config.StorageKindS3:
		storageOpts := append([]s3.Option{
			s3.WithLogger(a.logger),
			s3.WithMetrics(sink),
			s3.WithCacheRegistry(a.caches),
		}, a.s3Opts...)
		a.storage, err = s3.New(ctx, cfg, storageOpts...)
	case config.StorageKindMinio:
		storageOpts := append([]minio.Option{
			minio.WithLogger(a.logger),
			minio.WithMetrics(sink),
		}, a.minioOpts...)
		a.storage, err = minio.New(ctx, cfg, storageOpts...)
	}
	if err != nil {
		_ = a.caches.Close()
		return nil, fmt.Errorf("failed to open %s storage: %w", kind, err)
	}

	return a, nil
}

// Storage returns the opened object storage.
func (a *Adapter) Storage() types.ObjectStorage {
	return a.storage
}

// Prefix returns the key prefix named by the storage URI, if any.
func (a *Adapter) Prefix() string {
	return a.prefix
}

// Health returns the health tracker fed by storage operations.
func (a *Adapter) Health() *health.Tracker {
	return a.tracker
}

// Handler serves metrics on the configured metrics path and health on /health.
func (a *Adapter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a.collector.Path(), a.collector.Handler())
	mux.Handle("/health", a.tracker.Handler())
	return mux
}

// Start enables request retries, starts health probes and, when a metrics
// port is configured, serves Handler on it.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("adapter already started")
	}

	if port := a.config.Global.MetricsPort; port > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("failed to listen on metrics port %d: %w", port, err)
		}
		a.server = &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	a.storage.Startup()

	checkCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopChecks = cancel
	go a.tracker.StartHealthChecks(checkCtx, a.probe)

	a.started = true
	a.logger.Info("adapter started",
		"storage", a.storageURI,
		"kind", a.storage.Kind(),
		"metrics_port", a.config.Global.MetricsPort)
	return nil
}

// probe checks that the backend answers a metadata request.
func (a *Adapter) probe(ctx context.Context, _ string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := a.storage.Exists(ctx, types.BlobPathWithSize{RelativePath: healthProbeKey}.FullPath(a.prefix))
	return err
}

// Stop disables retries so in-flight failures return quickly, then stops
// the metrics server and closes the local caches.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return fmt.Errorf("adapter not started")
	}
	a.started = false

	a.storage.Shutdown()
	if a.stopChecks != nil {
		a.stopChecks()
	}

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
		a.server = nil
	}
	if err := a.caches.Close(); err != nil {
		errs = append(errs, fmt.Errorf("caches: %w", err))
	}

	a.logger.Info("adapter stopped", "storage", a.storageURI)
	return errors.Join(errs...)
}

// parseStorageURI splits a storage URI into its kind, bucket and prefix.
func parseStorageURI(uri string) (kind, bucket, prefix string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to parse URI: %w", err)
	}

	switch parsed.Scheme {
	case config.StorageKindS3, config.StorageKindMinio:
	default:
		return "", "", "", fmt.Errorf("unsupported storage scheme: %s (only s3:// and minio:// supported)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", "", "", fmt.Errorf("%s URI must include bucket name", parsed.Scheme)
	}
	if err := utils.ValidateBucketName(parsed.Host); err != nil {
		return "", "", "", fmt.Errorf("invalid bucket name: %w", err)
	}

	return parsed.Scheme, parsed.Host, strings.TrimPrefix(parsed.Path, "/"), nil
}

// teeCollector forwards every event to each collector.
type teeCollector []types.MetricsCollector

func (t teeCollector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	for _, c := range t {
		c.RecordOperation(operation, duration, size, success)
	}
}

func (t teeCollector) RecordCacheHit(key string, size int64) {
	for _, c := range t {
		c.RecordCacheHit(key, size)
	}
}

func (t teeCollector) RecordCacheMiss(key string, size int64) {
	for _, c := range t {
		c.RecordCacheMiss(key, size)
	}
}

func (t teeCollector) RecordError(operation string, err error) {
	for _, c := range t {
		c.RecordError(operation, err)
	}
}

func (t teeCollector) RecordMultipart(operation, outcome string, parts int) {
	for _, c := range t {
		c.RecordMultipart(operation, outcome, parts)
	}
}
