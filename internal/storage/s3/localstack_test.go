//go:build integration
// +build integration

package s3_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"

	"github.com/objectfs/objstore/internal/config"
	"github.com/objectfs/objstore/internal/storage/s3"
	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
	"github.com/objectfs/objstore/pkg/utils"
)

const (
	localstackBucket = "integration-bucket"
	localstackOther  = "integration-other"
)

// LocalStackSuite runs the S3 storage against a LocalStack container.
type LocalStackSuite struct {
	suite.Suite
	ctx       context.Context
	container *localstack.LocalStackContainer
	client    *awss3.Client
	cfg       *config.Configuration
	storage   *s3.ObjectStorage
}

func TestLocalStack(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping LocalStack integration tests in short mode")
	}
	suite.Run(t, new(LocalStackSuite))
}

func (s *LocalStackSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := localstack.Run(s.ctx,
		"localstack/localstack:latest",
		testcontainers.WithEnv(map[string]string{"SERVICES": "s3"}),
	)
	require.NoError(s.T(), err, "failed to start localstack container")
	s.container = container

	endpoint, err := container.PortEndpoint(s.ctx, "4566/tcp", "http")
	require.NoError(s.T(), err)

	awsCfg, err := awsconfig.LoadDefaultConfig(s.ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(s.T(), err)
	s.client = awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	for _, bucket := range []string{localstackBucket, localstackOther} {
		_, err := s.client.CreateBucket(s.ctx, &awss3.CreateBucketInput{Bucket: aws.String(bucket)})
		require.NoError(s.T(), err)
		err = awss3.NewBucketExistsWaiter(s.client).Wait(s.ctx,
			&awss3.HeadBucketInput{Bucket: aws.String(bucket)}, 30*time.Second)
		require.NoError(s.T(), err)
	}

	s.cfg = config.NewDefault()
	s.cfg.Storage.Bucket = localstackBucket
	s.cfg.Storage.S3.Endpoint = endpoint
	s.cfg.Storage.S3.ForcePathStyle = true
	s.cfg.Storage.S3.AccessKeyID = "test"
	s.cfg.Storage.S3.SecretAccessKey = "test"
	s.cfg.Storage.S3.MaxRetries = 3
	s.cfg.Storage.Request.MinUploadPartSize = "5MiB"
	s.cfg.Storage.Request.MaxSinglePartUploadSize = "1MiB"
	s.cfg.Storage.Request.ObjectsChunkSizeToDelete = 2
	s.cfg.Monitoring.Tracing.Enabled = false

	s.storage, err = s3.New(s.ctx, s.cfg, s3.WithLogger(utils.NopLogger()))
	require.NoError(s.T(), err)
}

func (s *LocalStackSuite) TearDownSuite() {
	if s.container != nil {
		_ = testcontainers.TerminateContainer(s.container)
	}
}

func (s *LocalStackSuite) SetupTest() {
	for _, bucket := range []string{localstackBucket, localstackOther} {
		out, err := s.client.ListObjectsV2(s.ctx, &awss3.ListObjectsV2Input{Bucket: aws.String(bucket)})
		require.NoError(s.T(), err)
		for _, obj := range out.Contents {
			_, err := s.client.DeleteObject(s.ctx, &awss3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
			require.NoError(s.T(), err)
		}
	}
}

func (s *LocalStackSuite) write(key string, data []byte, attrs types.ObjectAttributes) {
	w, err := s.storage.WriteObject(s.ctx, key, types.WriteModeRewrite, attrs, nil, 0, types.WriteSettings{})
	require.NoError(s.T(), err)
	_, err = w.Write(data)
	require.NoError(s.T(), err)
	require.NoError(s.T(), w.Close())
}

func (s *LocalStackSuite) read(key string, rng *types.Range) []byte {
	r, err := s.storage.ReadObject(s.ctx, key, types.ReadSettings{}, rng)
	require.NoError(s.T(), err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(s.T(), err)
	return data
}

func (s *LocalStackSuite) TestWriteAndRead() {
	t := s.T()
	data := []byte("Hello, object storage!")

	var finalized string
	w, err := s.storage.WriteObject(s.ctx, "greeting.txt", types.WriteModeRewrite,
		types.ObjectAttributes{"owner": "integration"},
		func(path string) { finalized = path }, 0, types.WriteSettings{})
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, "greeting.txt", finalized)

	assert.Equal(t, data, s.read("greeting.txt", nil))
	assert.Equal(t, data[7:13], s.read("greeting.txt", &types.Range{Offset: 7, Length: 6}))

	meta, err := s.storage.GetObjectMetadata(s.ctx, "greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), meta.SizeBytes)
	assert.Equal(t, "integration", meta.Attributes["owner"])
	assert.Positive(t, meta.LastModified)

	exists, err := s.storage.Exists(s.ctx, "greeting.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func (s *LocalStackSuite) TestMultipartWrite() {
	t := s.T()
	data := bytes.Repeat([]byte("0123456789abcdef"), 7*1024*1024/16)

	s.write("large.bin", data, nil)

	got := s.read("large.bin", nil)
	assert.Equal(t, len(data), len(got))
	assert.True(t, bytes.Equal(data, got))
}

func (s *LocalStackSuite) TestReadMissing() {
	_, err := s.storage.ReadObject(s.ctx, "missing.txt", types.ReadSettings{}, nil)
	assert.True(s.T(), serrors.IsNotFound(err), "expected not found, got %v", err)

	exists, err := s.storage.Exists(s.ctx, "missing.txt")
	require.NoError(s.T(), err)
	assert.False(s.T(), exists)
}

func (s *LocalStackSuite) TestReadObjects() {
	s.write("parts/0", []byte("abc"), nil)
	s.write("parts/1", []byte("defg"), nil)

	r, err := s.storage.ReadObjects(s.ctx, "parts", []types.BlobPathWithSize{
		{RelativePath: "0", BytesSize: 3},
		{RelativePath: "1", BytesSize: 4},
	}, types.ReadSettings{})
	require.NoError(s.T(), err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "abcdefg", string(data))
}

func (s *LocalStackSuite) TestListAndRemove() {
	t := s.T()
	for _, key := range []string{"dir/a", "dir/b", "dir/c", "other/d"} {
		s.write(key, []byte(key), nil)
	}

	entries, err := s.storage.ListPrefix(s.ctx, "dir/")
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	require.NoError(t, s.storage.RemoveObjects(s.ctx, []string{"dir/a", "dir/b", "dir/c"}))
	entries, err = s.storage.ListPrefix(s.ctx, "dir/")
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.storage.RemoveObjectIfExists(s.ctx, "dir/a"))
	require.NoError(t, s.storage.RemoveObjectsIfExist(s.ctx, []string{"other/d", "dir/b"}))

	exists, err := s.storage.Exists(s.ctx, "other/d")
	require.NoError(t, err)
	assert.False(t, exists)
}

func (s *LocalStackSuite) TestCopy() {
	t := s.T()
	s.write("src.txt", []byte("copy me"), types.ObjectAttributes{"origin": "src"})

	require.NoError(t, s.storage.CopyObject(s.ctx, "src.txt", "kept.txt", nil))
	meta, err := s.storage.GetObjectMetadata(s.ctx, "kept.txt")
	require.NoError(t, err)
	assert.Equal(t, "src", meta.Attributes["origin"])

	require.NoError(t, s.storage.CopyObject(s.ctx, "src.txt", "replaced.txt", types.ObjectAttributes{"origin": "copy"}))
	meta, err = s.storage.GetObjectMetadata(s.ctx, "replaced.txt")
	require.NoError(t, err)
	assert.Equal(t, "copy", meta.Attributes["origin"])

	other, err := s.storage.CloneObjectStorage(s.ctx, localstackOther, s.cfg)
	require.NoError(t, err)
	require.NoError(t, s.storage.CopyObjectToAnotherStorage(s.ctx, "src.txt", "dst.txt", other, nil))

	exists, err := other.Exists(s.ctx, "dst.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	err = s.storage.CopyObject(s.ctx, "missing.txt", "x.txt", nil)
	assert.True(t, serrors.IsNotFound(err), "expected not found, got %v", err)
}

func (s *LocalStackSuite) TestLifecycle() {
	t := s.T()
	s.storage.Shutdown()
	s.storage.Startup()

	updated := s.cfg.Clone()
	updated.Storage.Request.ListObjectKeysSize = 1
	require.NoError(t, s.storage.ApplyNewSettings(s.ctx, updated))

	for _, key := range []string{"paged/a", "paged/b"} {
		s.write(key, []byte(key), nil)
	}
	entries, err := s.storage.ListPrefix(s.ctx, "paged/")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, s.storage.ApplyNewSettings(s.ctx, s.cfg))
}
