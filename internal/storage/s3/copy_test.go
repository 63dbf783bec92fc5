package s3

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objstore/internal/config"
	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
)

const gib = int64(1) << 30

func largeCopyConfig(c *config.Configuration) {
	c.Storage.Request.MinUploadPartSize = "2GiB"
}

type partSpan struct {
	n    int32
	a, b int64
}

// parseRange reads "bytes=a-b".
func parseRange(t *testing.T, r string) (int64, int64) {
	t.Helper()
	var a, b int64
	_, err := fmt.Sscanf(r, "bytes=%d-%d", &a, &b)
	require.NoError(t, err)
	return a, b
}

func TestCopyObject_Single(t *testing.T) {
	api := newFakeAPI()
	api.put(testBucket, "src", []byte("payload"), map[string]string{"a": "1"})
	s := newTestStorage(t, api)
	ctx := context.Background()

	t.Run("keeps source metadata", func(t *testing.T) {
		require.NoError(t, s.CopyObject(ctx, "src", "dst", nil))

		in := api.copyInputs[len(api.copyInputs)-1]
		assert.Equal(t, testBucket+"/src", aws.ToString(in.CopySource))
		assert.Empty(t, in.MetadataDirective)

		obj, ok := api.object(testBucket, "dst")
		require.True(t, ok)
		assert.Equal(t, []byte("payload"), obj.data)
		assert.Equal(t, map[string]string{"a": "1"}, obj.meta)
	})

	t.Run("replaces metadata", func(t *testing.T) {
		require.NoError(t, s.CopyObject(ctx, "src", "dst2", types.ObjectAttributes{"b": "2"}))

		in := api.copyInputs[len(api.copyInputs)-1]
		assert.Equal(t, s3types.MetadataDirectiveReplace, in.MetadataDirective)
		obj, _ := api.object(testBucket, "dst2")
		assert.Equal(t, map[string]string{"b": "2"}, obj.meta)
	})

	t.Run("missing source", func(t *testing.T) {
		err := s.CopyObject(ctx, "absent", "x", nil)
		assert.True(t, serrors.IsNotFound(err))
	})

	assert.Zero(t, api.count("CreateMultipartUpload"))
}

func TestCopyObject_VersionedSource(t *testing.T) {
	api := newFakeAPI()
	api.headSizes[objectID(testBucket, "src")] = 10
	api.copyErr = apiError("AccessDenied")
	s := newTestStorage(t, api, func(c *config.Configuration) { c.Storage.S3.VersionID = "v 1" })

	_ = s.CopyObject(context.Background(), "src", "dst", nil)
	require.Len(t, api.copyInputs, 1)
	assert.Equal(t, testBucket+"/src?versionId=v+1", aws.ToString(api.copyInputs[0].CopySource))
}

func TestCopyObject_Multipart(t *testing.T) {
	size := 5*gib + 1
	api := newFakeAPI()
	api.headSizes[objectID(testBucket, "big")] = size
	s := newTestStorage(t, api, largeCopyConfig)

	require.NoError(t, s.CopyObject(context.Background(), "big", "copy", types.ObjectAttributes{"k": "v"}))

	assert.Zero(t, api.count("CopyObject"))
	assert.Equal(t, 1, api.count("CreateMultipartUpload"))
	assert.Equal(t, 1, api.count("CompleteMultipartUpload"))
	assert.Zero(t, api.count("AbortMultipartUpload"))
	require.Len(t, api.partCopies, 3)

	var parts []partSpan
	for _, in := range api.partCopies {
		a, b := parseRange(t, aws.ToString(in.CopySourceRange))
		parts = append(parts, partSpan{n: aws.ToInt32(in.PartNumber), a: a, b: b})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })

	next := int64(0)
	for i, p := range parts {
		assert.Equal(t, int32(i+1), p.n)
		assert.Equal(t, next, p.a, "ranges must be contiguous")
		next = p.b + 1
	}
	assert.Equal(t, size, next, "ranges must cover the object")

	complete := api.completeInputs[0]
	require.Len(t, complete.MultipartUpload.Parts, 3)
	for i, p := range complete.MultipartUpload.Parts {
		assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
		assert.Equal(t, fmt.Sprintf(`"copy-%d"`, i+1), aws.ToString(p.ETag))
	}

	m := s.Metrics()
	assert.Equal(t, int64(1), m.MultipartUploads)
	assert.Equal(t, int64(1), m.MultipartUploadsCompleted)
	assert.Equal(t, int64(3), m.MultipartUploadsParts)
}

func TestCopyObject_MultipartFailure(t *testing.T) {
	t.Run("part failure aborts once", func(t *testing.T) {
		api := newFakeAPI()
		api.headSizes[objectID(testBucket, "big")] = 6 * gib
		api.partCopyErr = func(n int32) error {
			if n == 2 {
				return apiError("SlowDown")
			}
			return nil
		}
		s := newTestStorage(t, api, largeCopyConfig)

		err := s.CopyObject(context.Background(), "big", "copy", nil)
		require.Error(t, err)
		assert.Equal(t, "SlowDown", serrors.ProviderCode(err))
		assert.Equal(t, 1, api.count("AbortMultipartUpload"))
		assert.Zero(t, api.count("CompleteMultipartUpload"))
		assert.Equal(t, "upload-1", aws.ToString(api.aborts[0].UploadId))
		assert.Equal(t, int64(1), s.Metrics().MultipartUploadsAborted)
	})

	t.Run("abort failure is not reported", func(t *testing.T) {
		api := newFakeAPI()
		api.headSizes[objectID(testBucket, "big")] = 6 * gib
		api.partCopyErr = func(int32) error { return apiError("InternalError") }
		api.abortErr = apiError("NoSuchUpload")
		s := newTestStorage(t, api, largeCopyConfig)

		err := s.CopyObject(context.Background(), "big", "copy", nil)
		require.Error(t, err)
		assert.Equal(t, "InternalError", serrors.ProviderCode(err))
		assert.Equal(t, 1, api.count("AbortMultipartUpload"))
	})

	t.Run("complete failure aborts", func(t *testing.T) {
		api := newFakeAPI()
		api.headSizes[objectID(testBucket, "big")] = 6 * gib
		api.completeErr = apiError("InvalidPart")
		s := newTestStorage(t, api, largeCopyConfig)

		err := s.CopyObject(context.Background(), "big", "copy", nil)
		assert.Equal(t, "InvalidPart", serrors.ProviderCode(err))
		assert.Equal(t, 1, api.count("AbortMultipartUpload"))
	})
}

func TestCopyObject_EntityTooLargeEscalates(t *testing.T) {
	api := newFakeAPI()
	api.put(testBucket, "src", []byte("0123456789"), nil)
	api.copyErr = apiError("EntityTooLarge")
	s := newTestStorage(t, api)

	require.NoError(t, s.CopyObject(context.Background(), "src", "dst", nil))
	assert.Equal(t, 1, api.count("CopyObject"))
	assert.Equal(t, 1, api.count("CreateMultipartUpload"))
	require.Len(t, api.partCopies, 1)
	assert.Equal(t, "bytes=0-9", aws.ToString(api.partCopies[0].CopySourceRange))
	assert.Equal(t, 1, api.count("CompleteMultipartUpload"))
	assert.Equal(t, int64(1), s.Metrics().MultipartEscalations)
}

func TestCopyObject_EmptySourceDoesNotEscalate(t *testing.T) {
	api := newFakeAPI()
	api.put(testBucket, "src", nil, nil)
	api.copyErr = apiError("EntityTooLarge")
	s := newTestStorage(t, api)

	err := s.CopyObject(context.Background(), "src", "dst", nil)
	assert.Equal(t, "EntityTooLarge", serrors.ProviderCode(err))
	assert.Zero(t, api.count("CreateMultipartUpload"))
	assert.Zero(t, s.Metrics().MultipartEscalations)
}

func TestCopyObject_OtherErrorsDoNotEscalate(t *testing.T) {
	api := newFakeAPI()
	api.put(testBucket, "src", []byte("x"), nil)
	api.copyErr = apiError("AccessDenied")
	s := newTestStorage(t, api)

	err := s.CopyObject(context.Background(), "src", "dst", nil)
	assert.Equal(t, "AccessDenied", serrors.ProviderCode(err))
	assert.Zero(t, api.count("CreateMultipartUpload"))
}

func TestCopyObjectToAnotherStorage_ServerSide(t *testing.T) {
	api := newFakeAPI()
	api.put(testBucket, "src", []byte("data"), nil)
	s := newTestStorage(t, api)
	dest := newTestStorage(t, newFakeAPI(), func(c *config.Configuration) { c.Storage.Bucket = "other-bucket" })

	require.NoError(t, s.CopyObjectToAnotherStorage(context.Background(), "src", "dst", dest, nil))

	require.Len(t, api.copyInputs, 1)
	assert.Equal(t, "other-bucket", aws.ToString(api.copyInputs[0].Bucket))
	assert.Equal(t, testBucket+"/src", aws.ToString(api.copyInputs[0].CopySource))
	obj, ok := api.object("other-bucket", "dst")
	require.True(t, ok)
	assert.Equal(t, []byte("data"), obj.data)
}

func TestCopyObjectToAnotherStorage_InvalidatesDestinationCache(t *testing.T) {
	api := newFakeAPI()
	api.put(testBucket, "src", []byte("data"), nil)
	api.put("other-bucket", "dst", []byte("old"), nil)
	s := newTestStorage(t, api)
	dest := newTestStorage(t, api, withCache(t, nil), func(c *config.Configuration) { c.Storage.Bucket = "other-bucket" })
	cached := types.ReadSettings{EnableFilesystemCache: true}

	rd, err := dest.ReadObject(context.Background(), "dst", cached, nil)
	require.NoError(t, err)
	assert.Equal(t, "old", readAll(t, rd))

	require.NoError(t, s.CopyObjectToAnotherStorage(context.Background(), "src", "dst", dest, nil))
	require.Equal(t, 1, api.count("CopyObject"))

	rd, err = dest.ReadObject(context.Background(), "dst", cached, nil)
	require.NoError(t, err)
	assert.Equal(t, "data", readAll(t, rd))
}

// streamOnly hides server side copy from the source storage.
type streamOnly struct {
	*ObjectStorage
}

func (streamOnly) Kind() types.StorageKind { return types.KindMinio }

func TestCopyObjectToAnotherStorage_Stream(t *testing.T) {
	srcAPI := newFakeAPI()
	srcAPI.put(testBucket, "src", []byte("streamed payload"), map[string]string{"m": "1"})
	s := newTestStorage(t, srcAPI)

	destAPI := newFakeAPI()
	dest := streamOnly{newTestStorage(t, destAPI)}

	require.NoError(t, s.CopyObjectToAnotherStorage(context.Background(), "src", "dst", dest, nil))

	assert.Zero(t, srcAPI.count("CopyObject"))
	assert.Equal(t, 1, destAPI.count("PutObject"))
	obj, ok := destAPI.object(testBucket, "dst")
	require.True(t, ok)
	assert.Equal(t, []byte("streamed payload"), obj.data)
	assert.Equal(t, map[string]string{"m": "1"}, obj.meta)
}

func TestCopyObjectToAnotherStorage_StreamReadFailure(t *testing.T) {
	s := newTestStorage(t, newFakeAPI())
	destAPI := newFakeAPI()
	dest := streamOnly{newTestStorage(t, destAPI)}

	err := s.CopyObjectToAnotherStorage(context.Background(), "absent", "dst", dest, types.ObjectAttributes{})
	assert.True(t, serrors.IsNotFound(err))
	assert.Zero(t, destAPI.count("PutObject"))
}
