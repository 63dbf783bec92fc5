package minio

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/objectfs/objstore/internal/config"
)

// API is the subset of the minio client used by Storage.
type API interface {
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	// GetObject returns the object body. Errors may surface on the first Read.
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObjects(ctx context.Context, bucket string, objects <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	ComposeObject(ctx context.Context, dst minio.CopyDestOptions, srcs ...minio.CopySrcOptions) (minio.UploadInfo, error)
}

// clientAPI adapts *minio.Client to API.
type clientAPI struct {
	*minio.Client
}

func (c clientAPI) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return c.Client.GetObject(ctx, bucket, key, opts)
}

// ClientFactory builds an API for cfg that gives up after maxRetries attempts.
type ClientFactory func(cfg *config.Configuration, maxRetries int) (API, error)

// NewClientFromConfig connects to cfg.Storage.Minio.Endpoint with static credentials.
func NewClientFromConfig(cfg *config.Configuration, maxRetries int) (API, error) {
	mc := cfg.Storage.Minio
	endpoint := strings.TrimPrefix(strings.TrimPrefix(mc.Endpoint, "https://"), "http://")
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is not configured")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:      credentials.NewStaticV4(mc.AccessKeyID, mc.SecretAccessKey, ""),
		Secure:     mc.UseSSL,
		Region:     mc.Region,
		MaxRetries: maxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return clientAPI{client}, nil
}

// clients holds the configured client and one that never retries. The
// second one serves requests while the storage is shut down.
type clients struct {
	retrying API
	single   API
}

func newClients(factory ClientFactory, cfg *config.Configuration) (*clients, error) {
	retries := cfg.Storage.Minio.MaxRetries
	if retries <= 0 {
		retries = 10
	}
	retrying, err := factory(cfg, retries)
	if err != nil {
		return nil, err
	}
	single, err := factory(cfg, 1)
	if err != nil {
		return nil, err
	}
	return &clients{retrying: retrying, single: single}, nil
}
