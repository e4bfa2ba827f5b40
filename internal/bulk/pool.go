package bulk

import "sync"

// Scratch buffer size buckets for GetBuffer/PutBuffer. The worker does
// not use these pools: it writes each batch directly into the mapped
// bulk segment.
const (
	bucket128K = 128 * 1024
	bucket256K = 256 * 1024
	bucket512K = 512 * 1024
	bucket1M   = 1024 * 1024
)

var pools = []struct {
	size int
	pool *sync.Pool
}{
	{bucket128K, &sync.Pool{New: func() any { return make([]byte, bucket128K) }}},
	{bucket256K, &sync.Pool{New: func() any { return make([]byte, bucket256K) }}},
	{bucket512K, &sync.Pool{New: func() any { return make([]byte, bucket512K) }}},
	{bucket1M, &sync.Pool{New: func() any { return make([]byte, bucket1M) }}},
}

// GetBuffer returns a scratch buffer of at least size bytes, drawn from
// the smallest bucket that fits, or a freshly allocated one if size
// exceeds every bucket.
func GetBuffer(size int) []byte {
	for _, b := range pools {
		if size <= b.size {
			buf := b.pool.Get().([]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// PutBuffer returns a buffer obtained from GetBuffer to its bucket pool.
// Buffers not matching an exact bucket capacity are dropped rather than
// pooled.
func PutBuffer(buf []byte) {
	c := cap(buf)
	for _, b := range pools {
		if c == b.size {
			b.pool.Put(buf[:c])
			return
		}
	}
}
