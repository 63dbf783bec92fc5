// Package storage holds the backend independent stream helpers shared by the
// object storage implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/objectfs/objstore/internal/buffer"
	"github.com/objectfs/objstore/internal/threadpool"
)

var errNegativePosition = errors.New("negative position")

// SeekAvoidingReader turns short forward seeks into reads that are thrown
// away. Reopening a remote stream costs a round trip, so skipping fewer than
// minBytesForSeek bytes is cheaper done in place.
type SeekAvoidingReader struct {
	src             io.ReadSeekCloser
	minBytesForSeek int64
	pos             int64
	discarded       int64
}

// NewSeekAvoidingReader wraps src.
func NewSeekAvoidingReader(src io.ReadSeekCloser, minBytesForSeek int64) *SeekAvoidingReader {
	return &SeekAvoidingReader{src: src, minBytesForSeek: minBytesForSeek}
}

func (r *SeekAvoidingReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	r.pos += int64(n)
	return n, err
}

func (r *SeekAvoidingReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	default:
		pos, err := r.src.Seek(offset, whence)
		if err == nil {
			r.pos = pos
		}
		return pos, err
	}
	if target < 0 {
		return r.pos, errNegativePosition
	}

	if delta := target - r.pos; delta >= 0 && delta < r.minBytesForSeek {
		n, err := io.CopyN(io.Discard, r.src, delta)
		r.pos += n
		r.discarded += n
		switch {
		case err == nil:
			return r.pos, nil
		case !errors.Is(err, io.EOF):
			return r.pos, err
		}
		// Past the end: let the source record the position.
	}

	pos, err := r.src.Seek(target, io.SeekStart)
	if err != nil {
		return r.pos, err
	}
	r.pos = pos
	return pos, nil
}

// Discarded returns the number of bytes read and dropped instead of seeking.
func (r *SeekAvoidingReader) Discarded() int64 {
	return r.discarded
}

func (r *SeekAvoidingReader) Close() error {
	return r.src.Close()
}

// AsyncReader reads ahead one buffer on a worker pool while the caller
// consumes the previous one.
type AsyncReader struct {
	ctx     context.Context
	src     io.ReadSeekCloser
	pool    *threadpool.Pool
	bufSize int

	cur     []byte
	off     int
	pos     int64
	err     error
	pending *prefetch
}

type prefetch struct {
	buf  []byte
	n    int
	task *threadpool.Task
}

// DefaultAsyncBufferSize is used when NewAsyncReader gets a non-positive size.
const DefaultAsyncBufferSize = 1 << 20

// NewAsyncReader wraps src. Prefetches run on pool under ctx.
func NewAsyncReader(ctx context.Context, src io.ReadSeekCloser, pool *threadpool.Pool, bufSize int) *AsyncReader {
	if bufSize <= 0 {
		bufSize = DefaultAsyncBufferSize
	}
	return &AsyncReader{ctx: ctx, src: src, pool: pool, bufSize: bufSize}
}

func (r *AsyncReader) startPrefetch() {
	f := &prefetch{buf: buffer.Get(r.bufSize)}
	f.task = r.pool.Schedule(r.ctx, func(context.Context) error {
		n, err := io.ReadFull(r.src, f.buf)
		f.n = n
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return err
	})
	r.pending = f
}

// wait drains the outstanding prefetch so the source is idle.
func (r *AsyncReader) wait() *prefetch {
	f := r.pending
	if f == nil {
		return nil
	}
	r.pending = nil
	if err := f.task.Wait(); err != nil {
		r.err = err
	}
	return f
}

func (r *AsyncReader) releaseCurrent() {
	if r.cur != nil {
		buffer.Put(r.cur[:cap(r.cur)])
	}
	r.cur, r.off = nil, 0
}

func (r *AsyncReader) Read(p []byte) (int, error) {
	for r.off >= len(r.cur) {
		if r.err != nil {
			return 0, r.err
		}
		r.releaseCurrent()
		if r.pending == nil {
			r.startPrefetch()
		}
		f := r.wait()
		r.cur = f.buf[:f.n]
		if r.err == nil {
			r.startPrefetch()
		}
	}

	n := copy(p, r.cur[r.off:])
	r.off += n
	r.pos += int64(n)
	return n, nil
}

func (r *AsyncReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		f := r.wait()
		if f != nil {
			buffer.Put(f.buf)
		}
		r.releaseCurrent()
		pos, err := r.src.Seek(offset, io.SeekEnd)
		if err != nil {
			return r.pos, err
		}
		r.pos, r.err = pos, nil
		return pos, nil
	default:
		return r.pos, fmt.Errorf("invalid whence %d", whence)
	}
	if target < 0 {
		return r.pos, errNegativePosition
	}

	// Inside the buffer being served.
	if start := r.pos - int64(r.off); target >= start && target < start+int64(len(r.cur)) {
		r.off = int(target - start)
		r.pos = target
		return target, nil
	}

	f := r.wait()
	if f != nil {
		buffer.Put(f.buf)
	}
	r.releaseCurrent()
	pos, err := r.src.Seek(target, io.SeekStart)
	if err != nil {
		return r.pos, err
	}
	r.pos, r.err = pos, nil
	return pos, nil
}

func (r *AsyncReader) Close() error {
	if f := r.wait(); f != nil {
		buffer.Put(f.buf)
	}
	r.releaseCurrent()
	return r.src.Close()
}

// Part is one physical object of a logical file.
type Part struct {
	Size int64
	Open func() (io.ReadSeekCloser, error)
}

// GatherReader presents consecutive parts as one stream. Parts are opened
// when the read position enters them.
type GatherReader struct {
	parts   []Part
	offsets []int64
	total   int64

	idx int
	cur io.ReadSeekCloser
	pos int64
}

// NewGatherReader concatenates parts in order.
func NewGatherReader(parts []Part) *GatherReader {
	g := &GatherReader{parts: parts, offsets: make([]int64, len(parts))}
	for i, p := range parts {
		g.offsets[i] = g.total
		g.total += p.Size
	}
	return g
}

// Size is the total length of all parts.
func (g *GatherReader) Size() int64 {
	return g.total
}

func (g *GatherReader) locate() {
	g.idx = 0
	for g.idx < len(g.parts) && g.pos >= g.offsets[g.idx]+g.parts[g.idx].Size {
		g.idx++
	}
}

func (g *GatherReader) Read(p []byte) (int, error) {
	for {
		if g.pos >= g.total {
			return 0, io.EOF
		}
		if g.cur == nil {
			g.locate()
			rd, err := g.parts[g.idx].Open()
			if err != nil {
				return 0, err
			}
			if skip := g.pos - g.offsets[g.idx]; skip > 0 {
				if _, err := rd.Seek(skip, io.SeekStart); err != nil {
					_ = rd.Close()
					return 0, err
				}
			}
			g.cur = rd
		}

		n, err := g.cur.Read(p)
		g.pos += int64(n)
		if errors.Is(err, io.EOF) {
			_ = g.cur.Close()
			g.cur = nil
			if g.pos < g.offsets[g.idx]+g.parts[g.idx].Size {
				return n, io.ErrUnexpectedEOF
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (g *GatherReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = g.pos + offset
	case io.SeekEnd:
		target = g.total + offset
	default:
		return g.pos, fmt.Errorf("invalid whence %d", whence)
	}
	if target < 0 {
		return g.pos, errNegativePosition
	}
	if target == g.pos {
		return target, nil
	}

	if g.cur != nil {
		start, end := g.offsets[g.idx], g.offsets[g.idx]+g.parts[g.idx].Size
		if target >= start && target < end {
			if _, err := g.cur.Seek(target-start, io.SeekStart); err != nil {
				return g.pos, err
			}
			g.pos = target
			return target, nil
		}
		_ = g.cur.Close()
		g.cur = nil
	}
	g.pos = target
	return target, nil
}

func (g *GatherReader) Close() error {
	if g.cur == nil {
		return nil
	}
	err := g.cur.Close()
	g.cur = nil
	return err
}
