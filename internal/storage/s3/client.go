package s3

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/ratelimit"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cargoconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
	"golang.org/x/time/rate"

	"github.com/objectfs/objstore/internal/config"
)

// API is the subset of the S3 client used by the storage. *s3.Client satisfies it.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ API = (*s3.Client)(nil)

// RequestGate decides whether failed requests may be retried. Shutdown closes
// the gate so failing requests return after their first attempt.
type RequestGate struct {
	disabled atomic.Bool
}

// NewRequestGate returns an open gate.
func NewRequestGate() *RequestGate {
	return &RequestGate{}
}

// Enable reopens the gate.
func (g *RequestGate) Enable() { g.disabled.Store(false) }

// Disable closes the gate.
func (g *RequestGate) Disable() { g.disabled.Store(true) }

// Enabled reports whether retries are allowed.
func (g *RequestGate) Enabled() bool { return !g.disabled.Load() }

// gatedRetryer consults the gate before every retry decision.
type gatedRetryer struct {
	aws.RetryerV2
	gate *RequestGate
}

// NewGatedRetryer wraps base so that nothing is retried while gate is closed.
func NewGatedRetryer(base aws.RetryerV2, gate *RequestGate) aws.RetryerV2 {
	return &gatedRetryer{RetryerV2: base, gate: gate}
}

func (r *gatedRetryer) IsErrorRetryable(err error) bool {
	if !r.gate.Enabled() {
		return false
	}
	return r.RetryerV2.IsErrorRetryable(err)
}

// NewStandardRetryer builds the SDK standard retryer used by every client.
func NewStandardRetryer(maxAttempts int, optFns ...func(*retry.StandardOptions)) aws.RetryerV2 {
	return retry.NewStandard(func(o *retry.StandardOptions) {
		if maxAttempts > 0 {
			o.MaxAttempts = maxAttempts
		}
		o.RateLimiter = ratelimit.None
		for _, fn := range optFns {
			fn(o)
		}
	})
}

// Client bundles a backend API handle with its request gate. A Client is
// part of the published snapshot and is never mutated after construction.
type Client struct {
	api         API
	gate        *RequestGate
	transporter *cargoships3.Transporter
}

// NewClient wraps api. A nil gate gets a fresh open one.
func NewClient(api API, gate *RequestGate) *Client {
	if gate == nil {
		gate = NewRequestGate()
	}
	return &Client{api: api, gate: gate}
}

// API returns the backend handle.
func (c *Client) API() API { return c.api }

// Gate returns the request gate shared with the client's retryer.
func (c *Client) Gate() *RequestGate { return c.gate }

// ClientFactory builds a Client from configuration.
type ClientFactory func(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (*Client, error)

// NewClientFromConfig loads AWS configuration and builds a gated, throttled S3 client.
func NewClientFromConfig(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (*Client, error) {
	s3cfg := cfg.Storage.S3

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s3cfg.Region),
	}
	if s3cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, s3cfg.SessionToken),
		))
	}
	if s3cfg.ConnectTimeout > 0 || s3cfg.RequestTimeout > 0 {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(newHTTPClient(s3cfg)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	gate := NewRequestGate()
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		if s3cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		o.Retryer = NewGatedRetryer(NewStandardRetryer(s3cfg.MaxRetries), gate)
	})

	c := &Client{
		api:  newThrottledAPI(client, cfg.Storage.Request.MaxGetRPS, cfg.Storage.Request.MaxPutRPS),
		gate: gate,
	}

	if s3cfg.UseCargoShip {
		concurrency := s3cfg.CargoShipConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Performance.WriterPoolSize
		}

		// Only objects up to max_single_part_upload_size are handed to the
		// transporter, so its own multipart split stays at the defaults.
		c.transporter = cargoships3.NewTransporter(client, cargoconfig.S3Config{
			Bucket:             cfg.Storage.Bucket,
			StorageClass:       ConvertTierToCargoShipStorageClass(s3cfg.StorageClass),
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        concurrency,
		})
		logger.Info("cargoship transporter enabled",
			"bucket", cfg.Storage.Bucket,
			"concurrency", concurrency)
	}

	return c, nil
}

func newHTTPClient(cfg config.S3Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ConnectTimeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	}
	return &http.Client{Transport: transport, Timeout: cfg.RequestTimeout}
}

// throttledAPI applies token bucket limits in front of the backend: one
// bucket for reads and listings, one for mutating requests.
type throttledAPI struct {
	API
	get *rate.Limiter
	put *rate.Limiter
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func newThrottledAPI(api API, getRPS, putRPS float64) API {
	if getRPS <= 0 && putRPS <= 0 {
		return api
	}
	return &throttledAPI{API: api, get: newLimiter(getRPS), put: newLimiter(putRPS)}
}

func (t *throttledAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := t.get.Wait(ctx); err != nil {
		return nil, err
	}
	return t.API.HeadObject(ctx, in, optFns...)
}

func (t *throttledAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := t.get.Wait(ctx); err != nil {
		return nil, err
	}
	return t.API.GetObject(ctx, in, optFns...)
}

func (t *throttledAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := t.get.Wait(ctx); err != nil {
		return nil, err
	}
	return t.API.ListObjectsV2(ctx, in, optFns...)
}

func (t *throttledAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := t.put.Wait(ctx); err != nil {
		return nil, err
	}
	return t.API.PutObject(ctx, in, optFns...)
}

func (t *throttledAPI) CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if err := t.put.Wait(ctx); err != nil {
		return nil, err
	}
	return t.API.CopyObject(ctx, in, optFns...)
}

func (t *throttledAPI) UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if err := t.put.Wait(ctx); err != nil {
		return nil, err
	}
	return t.API.UploadPart(ctx, in, optFns...)
}

func (t *throttledAPI) UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error) {
	if err := t.put.Wait(ctx); err != nil {
		return nil, err
	}
	return t.API.UploadPartCopy(ctx, in, optFns...)
}

func (t *throttledAPI) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if err := t.put.Wait(ctx); err != nil {
		return nil, err
	}
	return t.API.DeleteObjects(ctx, in, optFns...)
}
