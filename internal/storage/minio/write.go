package minio

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/objectfs/objstore/internal/threadpool"
	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
)

var errWriterClosed = errors.New("write to closed object writer")

// WriteObject returns a writer replacing path. The object becomes visible
// when Close returns nil; finalize is then called once with path.
func (s *Storage) WriteObject(ctx context.Context, path string, mode types.WriteMode, attrs types.ObjectAttributes,
	finalize types.FinalizeCallback, bufferSize int, _ types.WriteSettings) (io.WriteCloser, error) {
	o := s.startOp("write", path)
	if mode != types.WriteModeRewrite {
		return nil, o.end(serrors.InvalidArgument("MinIO does not support %s mode for object %q", mode, path).
			WithComponent(component).
			WithOperation("WriteObject"), 0)
	}

	snap := s.load()
	w := &objectWriter{
		s:        s,
		api:      s.api(snap),
		settings: snap.settings,
		ctx:      ctx,
		op:       o,
		path:     path,
		attrs:    attrs.Clone(),
		finalize: finalize,
	}
	if bufferSize > 0 {
		w.buf.Grow(int(min(int64(bufferSize), snap.settings.MaxSinglePartUploadSize)))
	}
	return w, nil
}

// objectWriter keeps small objects in memory and streams larger ones to a
// background PutObject of unknown size.
type objectWriter struct {
	s        *Storage
	api      API
	settings *Settings
	ctx      context.Context
	op       *operation
	path     string
	attrs    types.ObjectAttributes
	finalize types.FinalizeCallback

	buf     bytes.Buffer
	pipe    *io.PipeWriter
	upload  *threadpool.Task
	written int64
	err     error

	closed   bool
	closeErr error
}

func (w *objectWriter) putOptions() minio.PutObjectOptions {
	return minio.PutObjectOptions{
		UserMetadata: w.attrs,
		PartSize:     uint64(w.settings.MinUploadPartSize),
	}
}

func (w *objectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}

	if w.pipe == nil && int64(w.buf.Len()+len(p)) > w.settings.MaxSinglePartUploadSize {
		w.startStreaming()
	}
	if w.pipe == nil {
		n, _ := w.buf.Write(p)
		w.written += int64(n)
		return n, nil
	}

	n, err := w.pipe.Write(p)
	w.written += int64(n)
	if err != nil {
		w.err = translateError(err, "PutObject", w.path)
		return n, w.err
	}
	return n, nil
}

func (w *objectWriter) startStreaming() {
	pr, pw := io.Pipe()
	w.pipe = pw
	buffered := bytes.NewReader(w.buf.Bytes())
	w.upload = w.s.writerPool.Schedule(w.ctx, func(ctx context.Context) error {
		_, err := w.api.PutObject(ctx, w.s.bucket, w.path, io.MultiReader(buffered, pr), -1, w.putOptions())
		_ = pr.CloseWithError(err)
		return err
	})
}

// Close commits the object. It is safe to call more than once.
func (w *objectWriter) Close() error {
	if w.closed {
		return w.closeErr
	}
	w.closed = true

	w.closeErr = w.commit()
	if w.closeErr == nil && w.finalize != nil {
		w.finalize(w.path)
	}
	return w.op.end(w.closeErr, w.written)
}

// CloseWithError drops the upload. Nothing is committed and finalize is not called.
func (w *objectWriter) CloseWithError(cause error) error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.closeErr = cause
	if w.pipe != nil {
		_ = w.pipe.CloseWithError(cause)
		_ = w.upload.Wait()
	}
	w.buf = bytes.Buffer{}
	_ = w.op.end(cause, 0)
	return nil
}

func (w *objectWriter) commit() error {
	if w.pipe != nil {
		if w.err != nil {
			_ = w.pipe.CloseWithError(w.err)
			_ = w.upload.Wait()
			return w.err
		}
		_ = w.pipe.Close()
		return translateError(w.upload.Wait(), "PutObject", w.path)
	}
	if w.err != nil {
		return w.err
	}

	task := w.s.writerPool.Schedule(w.ctx, func(ctx context.Context) error {
		data := w.buf.Bytes()
		_, err := w.api.PutObject(ctx, w.s.bucket, w.path, bytes.NewReader(data), int64(len(data)), w.putOptions())
		return translateError(err, "PutObject", w.path)
	})
	return task.Wait()
}
