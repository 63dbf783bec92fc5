package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/objectfs/objstore/internal/storage"
	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/retry"
	"github.com/objectfs/objstore/pkg/types"
)

// ReadObject opens path for reading. A non-nil rng restricts the stream to
// that window; offsets of the returned stream are relative to it.
func (s *Storage) ReadObject(ctx context.Context, path string, rs types.ReadSettings, rng *types.Range) (io.ReadSeekCloser, error) {
	o := s.startOp("read", path)
	snap := s.load()

	info, err := s.stat(ctx, snap, path)
	if err != nil {
		return nil, o.end(err, 0)
	}

	start, size := int64(0), info.Size
	if rng != nil {
		start = min(rng.Offset, info.Size)
		size = info.Size - start
		if rng.Length > 0 && rng.Length < size {
			size = rng.Length
		}
	}

	rd := &objectReader{
		ctx:       ctx,
		api:       s.api(snap),
		bucket:    s.bucket,
		key:       path,
		versionID: s.versionID,
		start:     start,
		size:      size,
	}
	cfg := retry.StreamReopen(snap.settings.MaxSingleReadRetries)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("reopening broken object stream",
			"path", path,
			"offset", rd.start+rd.pos,
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}
	rd.retryer = retry.New(cfg)

	_ = o.end(nil, 0)
	if s.readMethod(snap, rs) == types.ReadMethodThreadpool {
		return storage.NewAsyncReader(ctx, rd, s.readerPool, rs.BufferSize), nil
	}
	return storage.NewSeekAvoidingReader(rd, snap.settings.MinBytesForSeek), nil
}

// ReadObjects returns one stream over blobs stored under commonPrefix, in
// the given order.
func (s *Storage) ReadObjects(ctx context.Context, commonPrefix string, blobs []types.BlobPathWithSize, rs types.ReadSettings) (io.ReadSeekCloser, error) {
	if len(blobs) == 0 {
		return nil, serrors.InvalidArgument("no blobs to read under %q", commonPrefix).WithComponent(component)
	}

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

func (s *Storage) readMethod(snap *snapshot, rs types.ReadSettings) types.ReadMethod {
	if rs.Method != "" {
		return rs.Method
	}
	return snap.settings.ReadMethod
}

// objectReader streams a window of one object whose size is known up
// front. The body is opened lazily at the current offset.
type objectReader struct {
	ctx       context.Context
	api       API
	bucket    string
	key       string
	versionID string

	start int64
	size  int64
	pos   int64
	body  io.ReadCloser

	retryer *retry.Retryer
}

func (r *objectReader) open(ctx context.Context) error {
	opts := minio.GetObjectOptions{VersionID: r.versionID}
	if err := opts.SetRange(r.start+r.pos, r.start+r.size-1); err != nil {
		return serrors.InvalidArgument("range of %s: %v", r.key, err).WithComponent(component)
	}
	body, err := r.api.GetObject(ctx, r.bucket, r.key, opts)
	if err != nil {
		return translateError(err, "GetObject", r.key)
	}
	r.body = body
	return nil
}

func (r *objectReader) closeBody() {
	if r.body != nil {
		_ = r.body.Close()
		r.body = nil
	}
}

func (r *objectReader) Read(p []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	if rest := r.size - r.pos; int64(len(p)) > rest {
		p = p[:rest]
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
		if err == nil || (errors.Is(err, io.EOF) && r.pos >= r.size) {
			return nil
		}

		r.closeBody()
		if m > 0 {
			return nil
		}
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		if serr := translateError(err, "GetObject", r.key); serrors.IsNotFound(serr) {
			return serr
		}
		return serrors.NewError(serrors.ErrCodeStorageRead,
			fmt.Sprintf("read of %s failed at offset %d", r.key, r.start+r.pos)).
			WithComponent(component).
			WithOperation("GetObject").
			WithCause(err)
	})
	return n, err
}

func (r *objectReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
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
	}
	return target, nil
}

func (r *objectReader) Close() error {
	r.closeBody()
	return nil
}
