package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objstore/internal/config"
)

const testBucket = "test-bucket"

type fakeObject struct {
	data     []byte
	size     int64 // reported by StatObject when set
	meta     map[string]string
	modified time.Time
}

type objectStore struct {
	mu      sync.Mutex
	objects map[string]map[string]*fakeObject // bucket -> key -> object
}

// fakeAPI is an in-memory API. Twins share objects but count calls separately.
type fakeAPI struct {
	store *objectStore

	mu       sync.Mutex
	calls    map[string]int
	puts     []fakePut
	lists    []minio.ListObjectsOptions
	removes  [][]string
	copies   []minio.CopyDestOptions
	composes []minio.CopyDestOptions
	ranges   []string

	getBody   func(call int, body io.Reader) io.Reader
	removeErr map[string]error
	listErr   error
	copyErr   error
	putErr    error
}

type fakePut struct {
	key  string
	size int64
	opts minio.PutObjectOptions
}

func newFakeAPI() *fakeAPI {
	return (&fakeAPI{store: &objectStore{objects: map[string]map[string]*fakeObject{}}}).twin()
}

func (f *fakeAPI) twin() *fakeAPI {
	return &fakeAPI{store: f.store, calls: map[string]int{}, removeErr: map[string]error{}}
}

func (f *fakeAPI) record(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.calls[name]
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) put(bucket, key string, data []byte, meta map[string]string) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if f.store.objects[bucket] == nil {
		f.store.objects[bucket] = map[string]*fakeObject{}
	}
	f.store.objects[bucket][key] = &fakeObject{
		data:     data,
		meta:     meta,
		modified: time.UnixMilli(1700000000123),
	}
}

func (f *fakeAPI) object(bucket, key string) (*fakeObject, bool) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	o, ok := f.store.objects[bucket][key]
	return o, ok
}

func noSuchKey(key string) error {
	return minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist.", Key: key, StatusCode: 404}
}

func (f *fakeAPI) StatObject(_ context.Context, bucket, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.record("StatObject")
	o, ok := f.object(bucket, key)
	if !ok {
		return minio.ObjectInfo{}, noSuchKey(key)
	}
	size := int64(len(o.data))
	if o.size > 0 {
		size = o.size
	}
	return minio.ObjectInfo{Key: key, Size: size, LastModified: o.modified, UserMetadata: o.meta}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, bucket, key string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	call := f.record("GetObject")
	o, ok := f.object(bucket, key)
	if !ok {
		return nil, noSuchKey(key)
	}

	rng := opts.Header().Get("Range")
	f.mu.Lock()
	f.ranges = append(f.ranges, rng)
	f.mu.Unlock()

	data := o.data
	if rng != "" {
		var start, end int64
		if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		data = data[start:min(end+1, int64(len(data)))]
	}

	var body io.Reader = bytes.NewReader(data)
	if f.getBody != nil {
		body = f.getBody(call, body)
	}
	return io.NopCloser(body), nil
}

func (f *fakeAPI) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.record("PutObject")
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	f.puts = append(f.puts, fakePut{key: key, size: size, opts: opts})
	f.mu.Unlock()
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	f.put(bucket, key, data, opts.UserMetadata)
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (f *fakeAPI) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.record("ListObjects")
	f.mu.Lock()
	f.lists = append(f.lists, opts)
	f.mu.Unlock()

	f.store.mu.Lock()
	var keys []string
	for k := range f.store.objects[bucket] {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	infos := make([]minio.ObjectInfo, len(keys))
	for i, k := range keys {
		infos[i] = minio.ObjectInfo{Key: k, Size: int64(len(f.store.objects[bucket][k].data))}
	}
	f.store.mu.Unlock()

	out := make(chan minio.ObjectInfo)
	go func() {
		defer close(out)
		for _, info := range infos {
			select {
			case out <- info:
			case <-ctx.Done():
				return
			}
		}
		if f.listErr != nil {
			select {
			case out <- minio.ObjectInfo{Err: f.listErr}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

func (f *fakeAPI) RemoveObjects(_ context.Context, bucket string, objects <-chan minio.ObjectInfo, _ minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	f.record("RemoveObjects")
	var batch []string
	var errs []minio.RemoveObjectError
	for obj := range objects {
		batch = append(batch, obj.Key)
		if err, ok := f.removeErr[obj.Key]; ok {
			errs = append(errs, minio.RemoveObjectError{ObjectName: obj.Key, Err: err})
			continue
		}
		f.store.mu.Lock()
		delete(f.store.objects[bucket], obj.Key)
		f.store.mu.Unlock()
	}
	f.mu.Lock()
	f.removes = append(f.removes, batch)
	f.mu.Unlock()

	out := make(chan minio.RemoveObjectError, len(errs))
	for _, e := range errs {
		out <- e
	}
	close(out)
	return out
}

func (f *fakeAPI) copyObject(dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	o, ok := f.object(src.Bucket, src.Object)
	if !ok {
		return minio.UploadInfo{}, noSuchKey(src.Object)
	}
	meta := o.meta
	if dst.ReplaceMetadata {
		meta = dst.UserMetadata
	}
	f.put(dst.Bucket, dst.Object, o.data, meta)
	return minio.UploadInfo{Bucket: dst.Bucket, Key: dst.Object}, nil
}

func (f *fakeAPI) CopyObject(_ context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	f.record("CopyObject")
	f.mu.Lock()
	f.copies = append(f.copies, dst)
	f.mu.Unlock()
	if f.copyErr != nil {
		return minio.UploadInfo{}, f.copyErr
	}
	return f.copyObject(dst, src)
}

func (f *fakeAPI) ComposeObject(_ context.Context, dst minio.CopyDestOptions, srcs ...minio.CopySrcOptions) (minio.UploadInfo, error) {
	f.record("ComposeObject")
	f.mu.Lock()
	f.composes = append(f.composes, dst)
	f.mu.Unlock()
	return f.copyObject(dst, srcs[0])
}

// clientSet hands out one twin per retry budget so tests can tell which
// client served a request.
type clientSet struct {
	retrying *fakeAPI
	single   *fakeAPI
}

func newClientSet() *clientSet {
	base := newFakeAPI()
	return &clientSet{retrying: base, single: base.twin()}
}

func (c *clientSet) factory(_ *config.Configuration, maxRetries int) (API, error) {
	if maxRetries == 1 {
		return c.single, nil
	}
	return c.retrying, nil
}

func testConfig() *config.Configuration {
	cfg := config.NewDefault()
	cfg.Storage.Kind = config.StorageKindMinio
	cfg.Storage.Bucket = testBucket
	cfg.Storage.Minio.Endpoint = "localhost:9000"
	cfg.Storage.Request.MinUploadPartSize = "5MiB"
	cfg.Storage.Request.MaxSinglePartUploadSize = "64KiB"
	cfg.Storage.Request.ListObjectKeysSize = 2
	cfg.Storage.Request.ObjectsChunkSizeToDelete = 3
	cfg.Performance.ReaderPoolSize = 4
	cfg.Performance.WriterPoolSize = 4
	cfg.Monitoring.Tracing.Enabled = false
	return cfg
}

func newTestStorage(t *testing.T, clients *clientSet, mutate ...func(*config.Configuration)) *Storage {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	s, err := New(context.Background(), cfg, WithClientFactory(clients.factory))
	require.NoError(t, err)
	return s
}
