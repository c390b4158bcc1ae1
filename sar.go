package rxd

import (
	"encoding/binary"
	"time"

	"github.com/iziemba/rxd/header"
)

// segments returns how many packets a payload of total bytes needs. A payload that fits in one packet
// goes out without a sar descriptor.
func (ep *Endpoint) segments(op header.OpCode, total int, hasData bool) uint32 {
	var f header.Flags
	if op == header.OpTagged {
		f |= header.FlagTag
	}
	if hasData {
		f |= header.FlagData
	}

	if total <= ep.cfg.MTU-header.Len-header.OpLen(f) {
		return 1
	}

	first := ep.cfg.MTU - header.Len - header.OpLen(f|header.FlagSAR)
	rest := ep.cfg.MTU - header.Len - header.SegLen
	return 1 + uint32((total-first+rest-1)/rest)
}

// start prepares a receive for a message of size bytes spread over numSegs packets
func (ep *Endpoint) start(e *xEntry, size int, numSegs uint32) {
	e.state = stateProgressing
	e.total = min(e.capacity(), size)
	e.done = 0
	e.numSegs = numSegs
	e.segs = 0
}

// absorb stores the next bytes of the message, anything past the receive capacity is dropped
func (e *xEntry) absorb(b []byte) {
	n := min(len(b), e.total-e.done)
	if n <= 0 {
		return
	}
	e.done += copyToIOV(e.buffers(), e.done, b[:n])
}

// consumeUnexp moves a buffered message into e. If more segments are still on their way e becomes
// the reassembly target of the sending peer.
func (ep *Endpoint) consumeUnexp(e *xEntry, u *unexpMsg) {
	ep.unexp.remove(u)
	delete(ep.claimed, u)

	e.peer = u.peer
	e.tag = u.tag
	e.hasData = u.hasData
	e.data = u.data
	ep.start(e, u.size, u.numSegs)

	if u.err != nil {
		ep.failRx(e, u.err)
		return
	}

	e.absorb(u.first.b)
	for _, c := range u.cont {
		e.absorb(c.b)
	}
	e.segs = u.segs
	u.release(ep.bufs)

	p := ep.peers[u.peer]
	if !u.complete() {
		if p == nil || p.curUnexp != u {
			panic("partial unexpected message is not its peer's reassembly target")
		}
		p.curUnexp = nil
	}

	ep.l.WithField("entry", e).Debug("Matched to unexpected message")
	if p == nil {
		ep.completeRx(e)
		return
	}
	ep.advanceRx(p, e)
}

// pump turns queued sends into packets while the peer's window has room
func (ep *Endpoint) pump(p *peer) {
	for p.txReady && len(p.unacked) < ep.cfg.Window {
		r := p.queue.Front()
		if r == nilRef {
			return
		}

		e := p.queue.Get(r)
		ep.sendNext(p, e)
		if e.sent == e.numSegs {
			p.queue.Remove(r)
		}
	}
}

// sendNext writes the next packet of e. The first packet carries the op sub headers, the rest their segment index.
func (ep *Endpoint) sendNext(p *peer, e *xEntry) {
	nb := ep.bufs.Get()
	b := (*nb)[:0]
	seq := p.txSeq
	p.txSeq++

	t := header.Data
	if e.sent == 0 {
		t = header.Op
		e.state = stateProgressing
		oh := header.OpHeader{
			Tag:       e.tag,
			Size:      uint64(e.total),
			NumSegs:   e.numSegs,
			CQData:    e.data,
			HasTag:    e.op == header.OpTagged,
			HasSAR:    e.numSegs > 1,
			HasCQData: e.hasData,
		}
		b = header.Encode(b, header.Op, oh.Flags(), e.op, p.remoteIdx, seq)
		b = header.EncodeOp(b, &oh)
	} else {
		b = header.Encode(b, header.Data, 0, e.op, p.remoteIdx, seq)
		b = binary.BigEndian.AppendUint32(b, e.sent)
	}

	off := len(b)
	n := min(ep.cfg.MTU-off, e.total-e.done)
	b = b[:off+n]
	if e.inject != nil {
		copy(b[off:], e.inject[e.done:e.done+n])
	} else {
		copyFromIOV(b[off:], e.buffers(), e.done)
	}
	e.done += n
	e.sent++
	*nb = b

	if len(p.unacked) == 0 {
		p.retries = 0
	}
	p.unacked = append(p.unacked, txPacket{seq: seq, buf: nb, entry: e, sentAt: time.Now()})
	ep.write(p, t, b)
	ep.arm(p)
}
