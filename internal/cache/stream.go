package cache

import (
	"bytes"
	"io"
)

// OpenFunc opens the remote object behind a cache key.
type OpenFunc func() (io.ReadSeekCloser, error)

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// WrapReader serves key from c when present. On a miss it opens the remote
// object and, unless bypass is set or the cache is read-only, stores the
// object once it has been read sequentially to the end. hit reports whether
// the object was served from the cache.
func WrapReader(c Cache, key string, bypass bool, open OpenFunc) (rd io.ReadSeekCloser, hit bool, err error) {
	if data, ok := c.Get(key); ok {
		return nopCloser{bytes.NewReader(data)}, true, nil
	}

	src, err := open()
	if err != nil {
		return nil, false, err
	}

	if bypass || c.Settings().ReadOnly {
		c.RecordBypass()
		return src, false, nil
	}

	return &populatingReader{src: src, cache: c, key: key, limit: c.Settings().MaxSize}, false, nil
}

// populatingReader copies what it reads into memory and commits it to the
// cache on EOF. Any seek away from the sequential position abandons caching.
type populatingReader struct {
	src   io.ReadSeekCloser
	cache Cache
	key   string
	limit int64

	buf       bytes.Buffer
	pos       int64
	abandoned bool
	committed bool
}

func (r *populatingReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.pos += int64(n)
		if !r.abandoned {
			if r.limit > 0 && int64(r.buf.Len()+n) > r.limit {
				r.abandon()
			} else {
				r.buf.Write(p[:n])
			}
		}
	}
	if err == io.EOF && !r.abandoned && !r.committed {
		r.committed = true
		_ = r.cache.Put(r.key, r.buf.Bytes())
		r.abandon()
	}
	return n, err
}

func (r *populatingReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.src.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	if pos != r.pos {
		r.abandon()
	}
	r.pos = pos
	return pos, nil
}

func (r *populatingReader) Close() error {
	r.abandon()
	return r.src.Close()
}

func (r *populatingReader) abandon() {
	r.abandoned = true
	r.buf = bytes.Buffer{}
}

// WrapWriter tees everything written to w and stores it under key once w
// closes successfully.
func WrapWriter(c Cache, key string, w io.WriteCloser) io.WriteCloser {
	return &populatingWriter{dst: w, cache: c, key: key, limit: c.Settings().MaxSize}
}

type populatingWriter struct {
	dst   io.WriteCloser
	cache Cache
	key   string
	limit int64

	buf       bytes.Buffer
	abandoned bool
}

func (w *populatingWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if n > 0 && !w.abandoned {
		if w.limit > 0 && int64(w.buf.Len()+n) > w.limit {
			w.abandoned = true
			w.buf = bytes.Buffer{}
		} else {
			w.buf.Write(p[:n])
		}
	}
	return n, err
}

// CloseWithError drops the cached copy and aborts the destination when it
// supports aborting, otherwise it closes it.
func (w *populatingWriter) CloseWithError(cause error) error {
	w.abandoned = true
	w.buf = bytes.Buffer{}
	if aw, ok := w.dst.(interface{ CloseWithError(error) error }); ok {
		return aw.CloseWithError(cause)
	}
	return w.dst.Close()
}

func (w *populatingWriter) Close() error {
	if err := w.dst.Close(); err != nil {
		return err
	}
	if !w.abandoned {
		_ = w.cache.Put(w.key, w.buf.Bytes())
		w.abandoned = true
		w.buf = bytes.Buffer{}
	}
	return nil
}
