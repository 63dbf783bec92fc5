package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/objectfs/objstore/internal/cache"
	"github.com/objectfs/objstore/internal/storage"
	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/retry"
	"github.com/objectfs/objstore/pkg/types"
)

// ReadObject opens path for reading. A non-nil rng restricts the stream to
// that window; offsets of the returned stream are relative to it.
func (s *ObjectStorage) ReadObject(ctx context.Context, path string, rs types.ReadSettings, rng *types.Range) (io.ReadSeekCloser, error) {
	readCtx := ctx
	ctx, o := s.startOp(ctx, "read", path)
	snap := s.load()

	open := func() (io.ReadSeekCloser, error) {
		return s.openObject(readCtx, snap, path, rng)
	}

	var (
		rd  io.ReadSeekCloser
		err error
	)
	if s.cache != nil && rs.EnableFilesystemCache && rng == nil {
		bypass := rs.ReadFromCacheIfExistsOtherwiseBypass || s.cache.Settings().ReadOnly
		var hit bool
		rd, hit, err = cache.WrapReader(s.cache, s.cacheKey(path), bypass, open)
		if err != nil {
			return nil, o.end(err, 0)
		}
		s.metrics.recordCache(s.cacheKey(path), hit, 0)
		if hit {
			_ = o.end(nil, 0)
			return rd, nil
		}
	} else {
		rd, err = open()
		if err != nil {
			return nil, o.end(err, 0)
		}
	}

	_ = o.end(nil, 0)
	return s.wrapReader(readCtx, snap, rd, rs), nil
}

// ReadObjects returns one stream over blobs stored under commonPrefix, in
// the given order. Blobs are opened when the stream reaches them.
func (s *ObjectStorage) ReadObjects(ctx context.Context, commonPrefix string, blobs []types.BlobPathWithSize, rs types.ReadSettings) (io.ReadSeekCloser, error) {
	if len(blobs) == 0 {
		return nil, serrors.InvalidArgument("no blobs to read under %q", commonPrefix).WithComponent(component)
	}

	// Prefetching, if any, happens once over the gathered stream.
	partSettings := rs
	partSettings.Method = types.ReadMethodRead

	parts := make([]storage.Part, len(blobs))
	for i, b := range blobs {
		path := b.FullPath(commonPrefix)
		parts[i] = storage.Part{
			Size: int64(b.BytesSize),
			Open: func() (io.ReadSeekCloser, error) {
				return s.ReadObject(ctx, path, partSettings, nil)
			},
		}
	}

	g := storage.NewGatherReader(parts)
	if s.readMethod(s.load(), rs) == types.ReadMethodThreadpool {
		return storage.NewAsyncReader(ctx, g, s.readerPool, rs.BufferSize), nil
	}
	return g, nil
}

func (s *ObjectStorage) readMethod(snap *snapshot, rs types.ReadSettings) types.ReadMethod {
	if rs.Method != "" {
		return rs.Method
	}
	return snap.settings.ReadMethod
}

func (s *ObjectStorage) wrapReader(ctx context.Context, snap *snapshot, rd io.ReadSeekCloser, rs types.ReadSettings) io.ReadSeekCloser {
	if s.readMethod(snap, rs) == types.ReadMethodThreadpool {
		return storage.NewAsyncReader(ctx, rd, s.readerPool, rs.BufferSize)
	}
	return storage.NewSeekAvoidingReader(rd, snap.settings.MinBytesForSeek)
}

// openObject issues the first GetObject so that a missing key fails here
// rather than on the first Read.
func (s *ObjectStorage) openObject(ctx context.Context, snap *snapshot, path string, rng *types.Range) (*objectReader, error) {
	r := &objectReader{
		ctx:       ctx,
		api:       snap.client.api,
		bucket:    s.bucket,
		key:       path,
		versionID: s.versionIDPtr(),
		limit:     -1,
		size:      -1,
		logger:    s.logger,
	}
	if rng != nil {
		r.start = rng.Offset
		if rng.Length > 0 {
			r.limit = rng.Length
		}
	}
	cfg := retry.StreamReopen(snap.settings.MaxSingleReadRetries)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("reopening broken object stream",
			"path", path,
			"offset", r.start+r.pos,
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}
	r.retryer = retry.New(cfg)

	if err := r.open(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// objectReader streams one object, or a window of it, and reopens the
// body at the current offset when it breaks.
type objectReader struct {
	ctx       context.Context
	api       API
	bucket    string
	key       string
	versionID *string

	start int64 // window offset inside the object
	limit int64 // window length, -1 to the end
	size  int64 // readable bytes in the window, -1 until known

	pos  int64
	body io.ReadCloser
	eof  bool

	retryer *retry.Retryer
	logger  *slog.Logger
}

func (r *objectReader) open(ctx context.Context) error {
	if r.limit >= 0 && r.pos >= r.limit {
		r.body = io.NopCloser(strings.NewReader(""))
		return nil
	}

	input := &s3.GetObjectInput{
		Bucket:    aws.String(r.bucket),
		Key:       aws.String(r.key),
		VersionId: r.versionID,
	}
	offset := r.start + r.pos
	switch {
	case r.limit >= 0:
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, r.start+r.limit-1))
	case offset > 0:
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	out, err := r.api.GetObject(ctx, input)
	if err != nil {
		err = translateError(err, "GetObject", r.key)
		// Reading at or past the end of the object.
		if serrors.ProviderCode(err) == "InvalidRange" {
			r.body = io.NopCloser(strings.NewReader(""))
			return nil
		}
		return err
	}

	if r.size < 0 {
		total := objectSize(out, input.Range != nil)
		if total >= 0 {
			r.size = total - r.start
			if r.limit >= 0 && r.limit < r.size {
				r.size = r.limit
			}
			if r.size < 0 {
				r.size = 0
			}
		}
	}
	r.body = out.Body
	return nil
}

// objectSize returns the full object size from a GetObject response, or -1.
func objectSize(out *s3.GetObjectOutput, ranged bool) int64 {
	if cr := aws.ToString(out.ContentRange); cr != "" {
		if i := strings.LastIndexByte(cr, '/'); i >= 0 {
			if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
				return n
			}
		}
	}
	if !ranged && out.ContentLength != nil {
		return *out.ContentLength
	}
	return -1
}

func (r *objectReader) closeBody() {
	if r.body != nil {
		_ = r.body.Close()
		r.body = nil
	}
}

func (r *objectReader) Read(p []byte) (int, error) {
	if r.eof || (r.size >= 0 && r.pos >= r.size) {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	var n int
	err := r.retryer.DoWithContext(r.ctx, func(ctx context.Context) error {
		if r.body == nil {
			if err := r.open(ctx); err != nil {
				return err
			}
		}

		m, err := r.body.Read(p)
		r.pos += int64(m)
		n = m
		switch {
		case err == nil:
			return nil
		case errors.Is(err, io.EOF):
			r.eof = true
			r.closeBody()
			return nil
		}

		r.closeBody()
		if m > 0 {
			// Hand out what arrived; the next Read reopens at r.pos.
			return nil
		}
		return serrors.NewError(serrors.ErrCodeStorageRead,
			fmt.Sprintf("read of %s failed at offset %d", r.key, r.start+r.pos)).
			WithComponent(component).
			WithOperation("GetObject").
			WithCause(err)
	})
	if err != nil {
		return n, err
	}
	if r.eof && n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (r *objectReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		if r.size < 0 {
			return r.pos, fmt.Errorf("seek from end of %s: size unknown", r.key)
		}
		target = r.size + offset
	default:
		return r.pos, fmt.Errorf("invalid whence %d", whence)
	}
	if target < 0 {
		return r.pos, fmt.Errorf("seek of %s to negative position %d", r.key, target)
	}

	if target != r.pos {
		r.closeBody()
		r.pos = target
		r.eof = false
	}
	return target, nil
}

func (r *objectReader) Close() error {
	r.closeBody()
	return nil
}
