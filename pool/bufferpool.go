// Package pool implements api.BufferPool over sync.Pool, staging the
// send pipeline's framed-message buffers. Carries a sync.Pool-backed
// design without NUMA-node segmentation: a Loop is already one thread
// per Group, so a single shared pool per process serves every
// connection without needing a per-node channel map.
package pool

import (
	"sync"

	"github.com/kestrelws/core/api"
)

// sizedBuffer implements api.Buffer, sized to exactly the request that
// produced it, backed by a capacity-matched slab recycled via the pool
// it was checked out from.
type sizedBuffer struct {
	data []byte
	pool *BufferPool
}

func (b *sizedBuffer) Bytes() []byte { return b.data }

func (b *sizedBuffer) Release() {
	if b.pool != nil {
		b.pool.put(b)
	}
}

// BufferPool is a sync.Pool-backed allocator for same-ish-sized, short
// lived staging buffers; the send path uses it to frame outbound
// messages. Compressed output and reassembled inbound payloads are not
// staged here.
type BufferPool struct {
	raw sync.Pool
}

// New constructs an empty BufferPool.
func New() *BufferPool {
	return &BufferPool{}
}

// Get returns a Buffer with at least n bytes of capacity, reused from
// the pool when one large enough is available.
func (p *BufferPool) Get(n int) api.Buffer {
	if v := p.raw.Get(); v != nil {
		b := v.(*sizedBuffer)
		if cap(b.data) >= n {
			b.data = b.data[:n]
			return b
		}
	}
	return &sizedBuffer{data: make([]byte, n), pool: p}
}

// Put returns b to the pool; it must not be used by the caller again.
func (p *BufferPool) Put(b api.Buffer) {
	if sb, ok := b.(*sizedBuffer); ok && sb.pool == p {
		p.raw.Put(sb)
	}
}

func (p *BufferPool) put(b *sizedBuffer) {
	p.raw.Put(b)
}

var _ api.BufferPool = (*BufferPool)(nil)
