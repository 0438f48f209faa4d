package proxy

import "sync"

const defaultCopyBufferSize = 32 << 10

// copyBufferPool recycles the buffers ReverseProxy copies response bodies
// through. Every instance gets its own pool sized by Config.CopyBufferSize.
type copyBufferPool struct {
	size int
	pool sync.Pool
}

func newCopyBufferPool(size int) *copyBufferPool {
	if size <= 0 {
		size = defaultCopyBufferSize
	}
	p := &copyBufferPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, p.size)
		return &b
	}
	return p
}

func (p *copyBufferPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns b to the pool. Buffers smaller than the pool size are dropped.
func (p *copyBufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
