package device

import "sync"

// BufferPool recycles host buffers across requests. Returned buffers are
// resliced and zeroed, so callers always see a clean allocation.
type BufferPool struct {
	pool sync.Pool
}

// Pool is the shared buffer pool used by the server and soak paths.
var Pool = &BufferPool{}

// Get returns a zeroed host buffer of n bytes, reusing a pooled allocation
// when one is large enough.
func (p *BufferPool) Get(n int) *HostBuffer {
	if v := p.pool.Get(); v != nil {
		b := v.(*HostBuffer)
		if cap(b.data) >= n {
			b.data = b.data[:n]
			for i := range b.data {
				b.data[i] = 0
			}
			poolHits.Inc()
			return b
		}
	}
	poolMisses.Inc()
	return NewHostBuffer(n)
}

// Put returns a buffer to the pool. The caller must not touch the buffer
// afterwards.
func (p *BufferPool) Put(b *HostBuffer) {
	if b == nil {
		return
	}
	p.pool.Put(b)
}
