// Package buffer pools the byte slices used by object streams.
package buffer

import (
	"sync"
	"sync/atomic"
)

// BytePool hands out byte slices from fixed size buckets to reduce GC pressure
// on read, copy and upload paths.
type BytePool struct {
	pools map[int]*sync.Pool
	sizes []int

	gets   atomic.Uint64
	misses atomic.Uint64
}

// DefaultSizes are the bucket sizes used by NewBytePool.
var DefaultSizes = []int{
	4 << 10,  // 4KB
	64 << 10, // 64KB
	256 << 10,
	1 << 20, // 1MB, default read buffer
	5 << 20, // minimum multipart part
	8 << 20,
	16 << 20, // default upload part
}

// NewBytePool creates a pool with the given bucket sizes, which must be ascending.
// DefaultSizes is used when none are given.
func NewBytePool(sizes ...int) *BytePool {
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}

	pools := make(map[int]*sync.Pool, len(sizes))
	for _, size := range sizes {
		size := size
		pools[size] = &sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		}
	}

	return &BytePool{
		pools: pools,
		sizes: append([]int(nil), sizes...),
	}
}

// Get returns a slice of length size. Requests above the largest bucket are
// allocated directly.
func (p *BytePool) Get(size int) []byte {
	p.gets.Add(1)
	for _, bucket := range p.sizes {
		if bucket >= size {
			buf := p.pools[bucket].Get().(*[]byte)
			return (*buf)[:size]
		}
	}
	p.misses.Add(1)
	return make([]byte, size)
}

// Put returns a slice obtained from Get. Slices of foreign capacity are dropped.
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}
	pool, ok := p.pools[cap(buf)]
	if !ok {
		return
	}
	buf = buf[:cap(buf)]
	pool.Put(&buf)
}

// PoolStats describes pool usage.
type PoolStats struct {
	PoolSizes     []int  `json:"pool_sizes"`
	MaxBufferSize int    `json:"max_buffer_size"`
	Gets          uint64 `json:"gets"`
	Oversized     uint64 `json:"oversized"`
}

// Stats returns current pool statistics.
func (p *BytePool) Stats() PoolStats {
	stats := PoolStats{
		PoolSizes: append([]int(nil), p.sizes...),
		Gets:      p.gets.Load(),
		Oversized: p.misses.Load(),
	}
	if len(p.sizes) > 0 {
		stats.MaxBufferSize = p.sizes[len(p.sizes)-1]
	}
	return stats
}

var defaultBytePool = NewBytePool()

// Get takes a buffer from the process wide pool.
func Get(size int) []byte {
	return defaultBytePool.Get(size)
}

// Put returns a buffer to the process wide pool.
func Put(buf []byte) {
	defaultBytePool.Put(buf)
}
