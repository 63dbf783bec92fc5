package s3

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/objectfs/objstore/internal/cache"
	"github.com/objectfs/objstore/internal/threadpool"
	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
	"github.com/objectfs/objstore/pkg/utils"
)

var errWriterClosed = errors.New("write to closed object writer")

// WriteObject returns a writer replacing path. The object becomes visible
// when Close returns nil; finalize is then called once with path.
func (s *ObjectStorage) WriteObject(ctx context.Context, path string, mode types.WriteMode, attrs types.ObjectAttributes,
	finalize types.FinalizeCallback, bufferSize int, ws types.WriteSettings) (io.WriteCloser, error) {
	writeCtx := ctx
	_, o := s.startOp(ctx, "write", path)

	if mode != types.WriteModeRewrite {
		return nil, o.end(serrors.InvalidArgument("S3 does not support %s mode for object %q", mode, path).
			WithComponent(component).
			WithOperation("WriteObject"), 0)
	}

	cacheOnWrite := s.cache != nil &&
		!utils.IsTemporaryPath(path) &&
		ws.EnableCacheOnWriteOperations &&
		s.cache.Settings().CacheOnWriteOperations

	snap := s.load()
	w := &objectWriter{
		s:        s,
		snap:     snap,
		ctx:      writeCtx,
		op:       o,
		path:     path,
		attrs:    attrs.Clone(),
		finalize: finalize,
	}
	if bufferSize > 0 {
		w.buf.Grow(int(min(int64(bufferSize), snap.settings.MaxSinglePartUploadSize)))
	}

	if cacheOnWrite {
		return cache.WrapWriter(s.cache, s.cacheKey(path), w), nil
	}
	return w, nil
}

// objectWriter buffers up to max_single_part_upload_size bytes in memory and
// uploads them with one request on Close. Larger objects are streamed to the
// multipart uploader through a pipe.
type objectWriter struct {
	s        *ObjectStorage
	snap     *snapshot
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

func (w *objectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}

	if w.pipe == nil {
		if int64(w.buf.Len()+len(p)) <= w.snap.settings.MaxSinglePartUploadSize {
			n, _ := w.buf.Write(p)
			w.written += int64(n)
			return n, nil
		}
		if err := w.startStreaming(); err != nil {
			w.err = err
			return 0, err
		}
	}

	n, err := w.pipe.Write(p)
	w.written += int64(n)
	if err != nil {
		w.err = translateError(err, "UploadPart", w.path)
		return n, w.err
	}
	return n, nil
}

// startStreaming hands the upload to the multipart uploader on the writer
// pool and replays the buffered prefix into it.
func (w *objectWriter) startStreaming() error {
	settings := w.snap.settings
	pr, pw := io.Pipe()
	w.pipe = pw

	uploader := manager.NewUploader(w.snap.client.api, func(u *manager.Uploader) {
		u.PartSize = settings.MinUploadPartSize
	})
	input := &s3.PutObjectInput{
		Bucket:       aws.String(w.s.bucket),
		Key:          aws.String(w.path),
		Body:         pr,
		Metadata:     w.attrs,
		StorageClass: ConvertTierToStorageClass(settings.StorageClass),
	}

	w.upload = w.s.writerPool.Schedule(w.ctx, func(ctx context.Context) error {
		_, err := uploader.Upload(ctx, input)
		return err
	})
	task := w.upload
	go func() {
		// Unblocks Write when the upload fails or never got a worker.
		if err := task.Wait(); err != nil {
			_ = pr.CloseWithError(err)
		}
	}()

	w.s.metrics.recordMultipart("write", "started", 0)
	w.s.logger.Debug("streaming large object through multipart upload",
		"path", w.path,
		"part_size", settings.MinUploadPartSize)

	if w.buf.Len() > 0 {
		if _, err := pw.Write(w.buf.Bytes()); err != nil {
			return translateError(err, "UploadPart", w.path)
		}
	}
	w.buf = bytes.Buffer{}
	return nil
}

// Close commits the object. It is safe to call more than once.
func (w *objectWriter) Close() error {
	if w.closed {
		return w.closeErr
	}
	w.closed = true

	w.closeErr = w.commit()
	if w.closeErr == nil {
		// Cache-on-write stores the new bytes after this returns.
		w.s.invalidate(w.path)
		warnOnTierOverhead(w.s.logger, w.snap.settings.StorageClass, w.path, w.written)
		if w.finalize != nil {
			w.finalize(w.path)
		}
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
		w.s.metrics.recordMultipart("write", "aborted", 0)
	}
	w.buf = bytes.Buffer{}
	_ = w.op.end(cause, 0)
	return nil
}

func (w *objectWriter) commit() error {
	if w.err != nil {
		if w.pipe != nil {
			_ = w.pipe.CloseWithError(w.err)
			_ = w.upload.Wait()
			w.s.metrics.recordMultipart("write", "aborted", 0)
		}
		return w.err
	}

	if w.pipe != nil {
		_ = w.pipe.Close()
		if err := w.upload.Wait(); err != nil {
			w.s.metrics.recordMultipart("write", "aborted", 0)
			return translateError(err, "Upload", w.path)
		}
		w.s.metrics.recordMultipart("write", "completed",
			CalculatePartCount(w.written, w.snap.settings.MinUploadPartSize))
		return nil
	}

	task := w.s.writerPool.Schedule(w.ctx, w.putObject)
	return task.Wait()
}

// putObject uploads the buffered object, through cargoship when enabled.
func (w *objectWriter) putObject(ctx context.Context) error {
	data := w.buf.Bytes()
	settings := w.snap.settings

	if t := w.snap.client.transporter; t != nil {
		result, err := t.Upload(ctx, cargoships3.Archive{
			Key:          w.path,
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: ConvertTierToCargoShipStorageClass(settings.StorageClass),
			Metadata:     w.attrs,
		})
		if err == nil {
			w.s.logger.Debug("CargoShip upload completed",
				"key", w.path,
				"size", len(data),
				"throughput", result.Throughput,
				"duration", result.Duration)
			return nil
		}
		w.s.logger.Warn("CargoShip upload failed, falling back to PutObject", "key", w.path, "error", err)
	}

	_, err := w.snap.client.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.s.bucket),
		Key:           aws.String(w.path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      w.attrs,
		StorageClass:  ConvertTierToStorageClass(settings.StorageClass),
	})
	return translateError(err, "PutObject", w.path)
}
