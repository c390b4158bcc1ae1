package rxd

import (
	"github.com/iziemba/rxd/header"
	"github.com/rcrowley/go-metrics"
)

type rxPayload struct {
	buf *[]byte
	b   []byte
}

// unexpMsg is a message that arrived before a receive was posted for it.
// It owns the packet buffers it holds until it is consumed or discarded.
type unexpMsg struct {
	ref  int32
	peer Addr
	op   header.OpCode

	hasTag  bool
	tag     uint64
	hasData bool
	data    uint64

	// size is the declared total, numSegs the packets that carry it
	size     int
	numSegs  uint32
	segs     uint32
	firstSeq uint64

	first    rxPayload
	cont     []rxPayload
	buffered int

	// err is set when the sender's session ended before the message was complete
	err error
}

func (u *unexpMsg) complete() bool {
	return u.segs >= u.numSegs
}

// release hands every held packet buffer back to p
func (u *unexpMsg) release(p *packetPool) {
	p.Put(u.first.buf)
	u.first = rxPayload{}
	for i := range u.cont {
		p.Put(u.cont[i].buf)
		u.cont[i] = rxPayload{}
	}
	u.cont = nil
}

type unexpRegistry struct {
	untagged *arenaList[*unexpMsg]
	tagged   *arenaList[*unexpMsg]

	depth metrics.Gauge
}

func newUnexpRegistry(capHint int) *unexpRegistry {
	return &unexpRegistry{
		untagged: newArenaList[*unexpMsg](capHint),
		tagged:   newArenaList[*unexpMsg](capHint),
		depth:    metrics.GetOrRegisterGauge("unexpected.depth", nil),
	}
}

func (r *unexpRegistry) list(op header.OpCode) *arenaList[*unexpMsg] {
	if op == header.OpTagged {
		return r.tagged
	}
	return r.untagged
}

func (r *unexpRegistry) Len() int {
	return r.untagged.Len() + r.tagged.Len()
}

func (r *unexpRegistry) add(u *unexpMsg) {
	u.ref = r.list(u.op).PushBack(u)
	r.depth.Update(int64(r.Len()))
}

func (r *unexpRegistry) find(op header.OpCode, peer Addr, tag, ignore uint64) *unexpMsg {
	_, u := findMatch(r.list(op), peer, tag, ignore)
	return u
}

// remove hides u from the matcher, it must be done before u's data is handed out
func (r *unexpRegistry) remove(u *unexpMsg) {
	if u.ref == nilRef {
		return
	}
	r.list(u.op).Remove(u.ref)
	u.ref = nilRef
	r.depth.Update(int64(r.Len()))
}

// each visits every registered message, untagged first
func (r *unexpRegistry) each(f func(u *unexpMsg)) {
	for _, l := range []*arenaList[*unexpMsg]{r.untagged, r.tagged} {
		l.Each(func(_ int32, u *unexpMsg) bool {
			f(u)
			return true
		})
	}
}
