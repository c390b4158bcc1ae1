package rxd

import (
	"sync"

	"github.com/rcrowley/go-metrics"
)

// packetPool hands out MTU sized buffers for outgoing packets and buffered arrivals
type packetPool struct {
	size     int
	pool     sync.Pool
	inFlight metrics.Counter
}

func newPacketPool(size int) *packetPool {
	p := &packetPool{
		size:     size,
		inFlight: metrics.GetOrRegisterCounter("packets.buffers_in_use", nil),
	}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

func (p *packetPool) Get() *[]byte {
	p.inFlight.Inc(1)
	return p.pool.Get().(*[]byte)
}

// Put returns b to the pool, buffers of a different size are left to the garbage collector
func (p *packetPool) Put(b *[]byte) {
	if b == nil {
		return
	}
	p.inFlight.Dec(1)
	if cap(*b) < p.size {
		return
	}
	*b = (*b)[:p.size]
	p.pool.Put(b)
}

// Copy returns a pooled buffer holding a copy of b, truncated to the pool size
func (p *packetPool) Copy(b []byte) *[]byte {
	nb := p.Get()
	*nb = (*nb)[:copy(*nb, b)]
	return nb
}
