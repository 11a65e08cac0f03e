package crypto

import (
	"sync"
)

// bufferClasses are the pooled capacities. Requests larger than the last
// class are allocated directly and never pooled.
var bufferClasses = []int{
	64 * 1024,
	1024 * 1024,
	4 * 1024 * 1024,
	32 * 1024 * 1024,
}

// BufferPool provides thread-safe pooling of chunk buffers to reduce
// allocations in the pump. Buffers are zeroized before returning to the pool
// so decrypted media never lingers in recycled memory.
type BufferPool struct {
	pools []*sync.Pool

	mu     sync.RWMutex // Protects metrics
	hits   int64
	misses int64
}

// NewBufferPool creates an empty pool.
func NewBufferPool() *BufferPool {
	p := &BufferPool{pools: make([]*sync.Pool, len(bufferClasses))}
	for i := range bufferClasses {
		p.pools[i] = &sync.Pool{}
	}
	return p
}

var globalBufferPool = NewBufferPool()

// GetGlobalBufferPool returns the process-wide pool.
func GetGlobalBufferPool() *BufferPool {
	return globalBufferPool
}

func classFor(n int) int {
	for i, size := range bufferClasses {
		if n <= size {
			return i
		}
	}
	return -1
}

// Get returns a buffer of length n.
func (p *BufferPool) Get(n int) []byte {
	idx := classFor(n)
	if idx < 0 {
		p.recordMiss()
		return make([]byte, n)
	}
	if buf, ok := p.pools[idx].Get().([]byte); ok {
		p.mu.Lock()
		p.hits++
		p.mu.Unlock()
		return buf[:n]
	}
	p.recordMiss()
	return make([]byte, n, bufferClasses[idx])
}

// Put zeroizes buf and returns it to the pool. Buffers whose capacity does not
// match a class are dropped.
func (p *BufferPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	idx := classFor(cap(buf))
	if idx < 0 || bufferClasses[idx] != cap(buf) {
		return
	}
	buf = buf[:cap(buf)]
	clear(buf)
	p.pools[idx].Put(buf)
}

func (p *BufferPool) recordMiss() {
	p.mu.Lock()
	p.misses++
	p.mu.Unlock()
}

// BufferPoolMetrics contains pool performance metrics.
type BufferPoolMetrics struct {
	Hits, Misses int64
}

// HitRate returns hits / (hits + misses).
func (m BufferPoolMetrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// GetMetrics returns current pool metrics.
func (p *BufferPool) GetMetrics() BufferPoolMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return BufferPoolMetrics{Hits: p.hits, Misses: p.misses}
}

// Reset resets all metrics counters to zero.
func (p *BufferPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hits = 0
	p.misses = 0
}
