package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objstore/internal/cache"
	"github.com/objectfs/objstore/internal/config"
	"github.com/objectfs/objstore/pkg/utils"
)

type fakeObject struct {
	data     []byte
	meta     map[string]string
	class    s3types.StorageClass
	modified time.Time
}

// fakeAPI is an in-memory S3 recording every call. Hooks override single
// operations.
type fakeAPI struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	calls   []string

	// sizes reported by HeadObject without storing data
	headSizes map[string]int64

	getInputs      []*s3.GetObjectInput
	listInputs     []*s3.ListObjectsV2Input
	deleteBatches  [][]string
	copyInputs     []*s3.CopyObjectInput
	putInputs      []*s3.PutObjectInput
	partCopies     []*s3.UploadPartCopyInput
	completeInputs []*s3.CompleteMultipartUploadInput
	aborts         []*s3.AbortMultipartUploadInput
	uploads        map[string]*fakeUpload
	nextUpload     int

	listPages   []*s3.ListObjectsV2Output
	headErr     error
	getBody     func(call int, body []byte) io.ReadCloser
	putErr      error
	copyErr     error
	partCopyErr func(partNumber int32) error
	completeErr error
	abortErr    error
	deleteHook  func(call int, keys []string) (*s3.DeleteObjectsOutput, error)
}

type fakeUpload struct {
	bucket string
	key    string
	meta   map[string]string
	parts  map[int32][]byte
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		objects:   make(map[string]*fakeObject),
		headSizes: make(map[string]int64),
		uploads:   make(map[string]*fakeUpload),
	}
}

var _ API = (*fakeAPI)(nil)

func objectID(bucket, key string) string { return bucket + "/" + key }

func (f *fakeAPI) record(name string) int {
	f.calls = append(f.calls, name)
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeAPI) put(bucket, key string, data []byte, meta map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectID(bucket, key)] = &fakeObject{data: data, meta: meta, modified: time.UnixMilli(1700000000123)}
}

func (f *fakeAPI) object(bucket, key string) (*fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[objectID(bucket, key)]
	return o, ok
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeAPI) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code + " from fake"}
}

func (f *fakeAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("HeadObject")
	if f.headErr != nil {
		return nil, f.headErr
	}
	id := objectID(aws.ToString(in.Bucket), aws.ToString(in.Key))
	if size, ok := f.headSizes[id]; ok {
		return &s3.HeadObjectOutput{ContentLength: aws.Int64(size)}, nil
	}
	o, ok := f.objects[id]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.data))),
		LastModified:  aws.Time(o.modified),
		Metadata:      o.meta,
	}, nil
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.record("GetObject")
	f.getInputs = append(f.getInputs, in)

	o, ok := f.objects[objectID(aws.ToString(in.Bucket), aws.ToString(in.Key))]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	total := int64(len(o.data))
	out := &s3.GetObjectOutput{Metadata: o.meta}

	start, end := int64(0), total-1
	if r := aws.ToString(in.Range); r != "" {
		spec := strings.TrimPrefix(r, "bytes=")
		from, to, _ := strings.Cut(spec, "-")
		start, _ = strconv.ParseInt(from, 10, 64)
		if to != "" {
			end, _ = strconv.ParseInt(to, 10, 64)
		}
		if start >= total {
			return nil, apiError("InvalidRange")
		}
		if end >= total {
			end = total - 1
		}
		out.ContentRange = aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	}
	body := o.data[start : end+1]
	out.ContentLength = aws.Int64(int64(len(body)))
	if f.getBody != nil {
		out.Body = f.getBody(call, body)
	} else {
		out.Body = io.NopCloser(bytes.NewReader(body))
	}
	return out, nil
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var data []byte
	if in.Body != nil {
		var err error
		if data, err = io.ReadAll(in.Body); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PutObject")
	f.putInputs = append(f.putInputs, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.objects[objectID(aws.ToString(in.Bucket), aws.ToString(in.Key))] = &fakeObject{
		data: data, meta: in.Metadata, class: in.StorageClass, modified: time.Now(),
	}
	return &s3.PutObjectOutput{ETag: aws.String(`"put"`)}, nil
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.record("ListObjectsV2")
	cp := *in
	f.listInputs = append(f.listInputs, &cp)

	if f.listPages != nil {
		if call > len(f.listPages) {
			return &s3.ListObjectsV2Output{}, nil
		}
		return f.listPages[call-1], nil
	}

	var keys []string
	for id := range f.objects {
		key := strings.TrimPrefix(id, aws.ToString(in.Bucket)+"/")
		if key != id && strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	startAfter := aws.ToString(in.ContinuationToken)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		if startAfter != "" && k <= startAfter {
			continue
		}
		if int32(len(out.Contents)) == aws.ToInt32(in.MaxKeys) {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = out.Contents[len(out.Contents)-1].Key
			break
		}
		o := f.objects[objectID(aws.ToString(in.Bucket), k)]
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(o.data)))})
	}
	return out, nil
}

func (f *fakeAPI) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.record("DeleteObjects")

	keys := make([]string, len(in.Delete.Objects))
	for i, o := range in.Delete.Objects {
		keys[i] = aws.ToString(o.Key)
	}
	f.deleteBatches = append(f.deleteBatches, keys)

	if f.deleteHook != nil {
		out, err := f.deleteHook(call, keys)
		if out != nil || err != nil {
			return out, err
		}
	}
	for _, k := range keys {
		delete(f.objects, objectID(aws.ToString(in.Bucket), k))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeAPI) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CopyObject")
	f.copyInputs = append(f.copyInputs, in)
	if f.copyErr != nil {
		return nil, f.copyErr
	}

	src, ok := f.objects[aws.ToString(in.CopySource)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	meta := src.meta
	if in.MetadataDirective == s3types.MetadataDirectiveReplace {
		meta = in.Metadata
	}
	f.objects[objectID(aws.ToString(in.Bucket), aws.ToString(in.Key))] = &fakeObject{
		data: append([]byte(nil), src.data...), meta: meta, class: in.StorageClass, modified: time.Now(),
	}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeAPI) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateMultipartUpload")
	f.nextUpload++
	id := fmt.Sprintf("upload-%d", f.nextUpload)
	f.uploads[id] = &fakeUpload{
		bucket: aws.ToString(in.Bucket),
		key:    aws.ToString(in.Key),
		meta:   in.Metadata,
		parts:  make(map[int32][]byte),
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id), Bucket: in.Bucket, Key: in.Key}, nil
}

func (f *fakeAPI) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UploadPart")
	f.uploads[aws.ToString(in.UploadId)].parts[aws.ToInt32(in.PartNumber)] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf(`"part-%d"`, aws.ToInt32(in.PartNumber)))}, nil
}

func (f *fakeAPI) UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, _ ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error) {
	f.mu.Lock()
	f.record("UploadPartCopy")
	f.partCopies = append(f.partCopies, in)
	hook := f.partCopyErr
	f.mu.Unlock()

	if hook != nil {
		if err := hook(aws.ToInt32(in.PartNumber)); err != nil {
			return nil, err
		}
	}
	return &s3.UploadPartCopyOutput{
		CopyPartResult: &s3types.CopyPartResult{ETag: aws.String(fmt.Sprintf(`"copy-%d"`, aws.ToInt32(in.PartNumber)))},
	}, nil
}

func (f *fakeAPI) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CompleteMultipartUpload")
	f.completeInputs = append(f.completeInputs, in)
	if f.completeErr != nil {
		return nil, f.completeErr
	}

	up := f.uploads[aws.ToString(in.UploadId)]
	var data []byte
	for _, p := range in.MultipartUpload.Parts {
		data = append(data, up.parts[aws.ToInt32(p.PartNumber)]...)
	}
	f.objects[objectID(up.bucket, up.key)] = &fakeObject{data: data, meta: up.meta, modified: time.Now()}
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.CompleteMultipartUploadOutput{Bucket: in.Bucket, Key: in.Key}, nil
}

func (f *fakeAPI) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AbortMultipartUpload")
	f.aborts = append(f.aborts, in)
	delete(f.uploads, aws.ToString(in.UploadId))
	if f.abortErr != nil {
		return nil, f.abortErr
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}

const testBucket = "test-bucket"

func testConfig() *config.Configuration {
	cfg := config.NewDefault()
	cfg.Storage.Bucket = testBucket
	cfg.Monitoring.Tracing.Enabled = false
	cfg.Storage.Request.MinUploadPartSize = "5MiB"
	cfg.Storage.Request.ListObjectKeysSize = 2
	cfg.Storage.Request.ObjectsChunkSizeToDelete = 3
	cfg.Performance.ReaderPoolSize = 4
	cfg.Performance.WriterPoolSize = 4
	return cfg
}

func fakeFactory(api API) ClientFactory {
	return func(ctx context.Context, cfg *config.Configuration, _ *slog.Logger) (*Client, error) {
		return NewClient(api, nil), nil
	}
}

func newTestStorage(t *testing.T, api *fakeAPI, mutate ...func(*config.Configuration)) *ObjectStorage {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	registry := cache.NewRegistry(nil)
	t.Cleanup(func() { _ = registry.Close() })

	s, err := New(context.Background(), cfg,
		WithLogger(utils.NopLogger()),
		WithClientFactory(fakeFactory(api)),
		WithCacheRegistry(registry))
	require.NoError(t, err)
	return s
}
