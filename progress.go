package rxd

import (
	"encoding/binary"
	"net/netip"

	"github.com/iziemba/rxd/header"
	"github.com/sirupsen/logrus"
)

// handleSeq buffers a sequenced packet in the peer's window and processes everything now in order
func (ep *Endpoint) handleSeq(from netip.AddrPort, h *header.H, b []byte) {
	p := ep.peerFrom(from, h.Peer)
	if p == nil {
		return
	}

	if !p.rxKnown {
		ep.l.WithField("addr", p.addr).WithField("header", h).Debug("Dropping packet before handshake")
		return
	}

	if len(b) > ep.bufs.size {
		ep.l.WithField("addr", p.addr).WithField("length", len(b)).Warn("Dropping packet larger than endpoint.mtu")
		return
	}

	nb := ep.bufs.Copy(b)
	if !p.window.Insert(ep.l, h.Seq, nb) {
		ep.bufs.Put(nb)
		if h.Seq < p.window.Next() {
			// our ack was lost
			ep.sendAck(p)
		}
		return
	}

	if ep.drain(p) {
		ep.sendAck(p)
	}
}

// drain processes held packets in sequence order until a gap or a packet that can not be processed yet.
// It reports whether the window moved.
func (ep *Endpoint) drain(p *peer) bool {
	moved := false
	for {
		nb := p.window.Peek()
		if nb == nil {
			return moved
		}

		if !ep.process(p, nb) {
			return moved
		}
		p.window.Advance()
		moved = true
	}
}

// process consumes one in order packet, taking ownership of nb. It returns false, leaving nb in the
// window, when the packet has to wait for resources.
func (ep *Endpoint) process(p *peer, nb *[]byte) bool {
	b := *nb
	var h header.H
	if err := h.Parse(b); err != nil {
		ep.bufs.Put(nb)
		return true
	}

	switch h.Type {
	case header.Op:
		return ep.processOp(p, &h, b[header.Len:], nb)
	case header.Data:
		return ep.processData(p, &h, b[header.Len:], nb)
	}

	ep.bufs.Put(nb)
	return true
}

func (ep *Endpoint) processOp(p *peer, h *header.H, payload []byte, nb *[]byte) bool {
	var oh header.OpHeader
	rest, err := header.ParseOp(payload, h.Flags, &oh)
	if err == nil {
		err = ep.validOp(h, &oh, rest)
	}
	if err != nil {
		ep.l.WithError(err).WithField("addr", p.addr).WithField("header", h).Warn("Dropping invalid op packet")
		ep.bufs.Put(nb)
		return true
	}

	if p.curRx != nil || p.curUnexp != nil {
		ep.l.WithField("addr", p.addr).WithField("header", h).Warn("New message started before the previous one finished")
		ep.resetRx(p)
	}

	size := len(rest)
	numSegs := uint32(1)
	if oh.HasSAR {
		size = int(oh.Size)
		numSegs = oh.NumSegs
	}

	list := ep.posted
	if h.Op == header.OpTagged {
		list = ep.postedTagged
	}

	if r, e := findPosted(list, p.addr, oh.HasTag, oh.Tag); e != nil {
		if e.flags&FlagMultiRecv != 0 {
			e = ep.splitPosted(list, r, e, size)
		} else {
			list.Remove(r)
			e.ref = nilRef
		}

		e.peer = p.addr
		e.tag = oh.Tag
		e.hasData = oh.HasCQData
		e.data = oh.CQData
		ep.start(e, size, numSegs)
		e.absorb(rest)
		e.segs = 1
		ep.bufs.Put(nb)

		if ep.l.Level >= logrus.DebugLevel {
			ep.l.WithField("entry", e).Debug("Matched arrival to posted receive")
		}
		ep.advanceRx(p, e)
		return true
	}

	if ep.unexp.Len() >= ep.cfg.RxSize {
		return false
	}

	u := &unexpMsg{
		peer:     p.addr,
		op:       h.Op,
		hasTag:   oh.HasTag,
		tag:      oh.Tag,
		hasData:  oh.HasCQData,
		data:     oh.CQData,
		size:     size,
		numSegs:  numSegs,
		segs:     1,
		firstSeq: h.Seq,
		first:    rxPayload{buf: nb, b: rest},
		buffered: len(rest),
	}
	ep.unexp.add(u)
	if !u.complete() {
		p.curUnexp = u
	}

	ep.l.WithField("addr", p.addr).WithField("tag", oh.Tag).WithField("size", size).Debug("Message not matched, queued as unexpected")
	return true
}

func (ep *Endpoint) processData(p *peer, h *header.H, payload []byte, nb *[]byte) bool {
	segNo, rest, err := header.ParseSeg(payload)
	if err != nil {
		ep.l.WithError(err).WithField("addr", p.addr).WithField("header", h).Warn("Dropping invalid data packet")
		ep.bufs.Put(nb)
		return true
	}

	switch {
	case p.curRx != nil:
		e := p.curRx
		if segNo != e.segs {
			ep.l.WithField("addr", p.addr).WithField("segment", segNo).WithField("expected", e.segs).Warn("Out of order segment")
		}
		e.absorb(rest)
		e.segs++
		ep.bufs.Put(nb)
		ep.advanceRx(p, e)

	case p.curUnexp != nil:
		u := p.curUnexp
		u.cont = append(u.cont, rxPayload{buf: nb, b: rest})
		u.buffered += len(rest)
		u.segs++
		if u.complete() {
			p.curUnexp = nil
		}

	default:
		ep.l.WithField("addr", p.addr).WithField("header", h).Warn("Data packet without a message in progress")
		ep.bufs.Put(nb)
	}

	return true
}

// validOp checks an op packet before it is matched. A sar descriptor must describe the segments a
// sender of that size would have produced.
func (ep *Endpoint) validOp(h *header.H, oh *header.OpHeader, rest []byte) error {
	switch {
	case h.Op != header.OpMsg && h.Op != header.OpTagged:
		return errInvalidOp
	case (h.Op == header.OpTagged) != oh.HasTag:
		return errInvalidOp
	case !oh.HasSAR:
		return nil
	case oh.Size > uint64(ep.cfg.MaxMsgSize) || oh.Size < uint64(len(rest)):
		return errInvalidSAR
	}

	if n := ep.segments(h.Op, int(oh.Size), oh.HasCQData); n == 1 || n != oh.NumSegs {
		return errInvalidSAR
	}
	return nil
}

// advanceRx completes e when every segment has arrived, otherwise it becomes the peer's reassembly target
func (ep *Endpoint) advanceRx(p *peer, e *xEntry) {
	if e.segs >= e.numSegs {
		if p.curRx == e {
			p.curRx = nil
		}
		ep.completeRx(e)
		return
	}
	p.curRx = e
}

func (ep *Endpoint) sendAck(p *peer) {
	var out [header.Len + header.NonceLen]byte
	b := header.Encode(out[:], header.Ack, 0, 0, p.remoteIdx, p.window.Next())
	b = binary.BigEndian.AppendUint64(b, p.rxNonce)
	ep.write(p, header.Ack, b)
}

// handleAck retires every packet below the cumulative sequence number and completes fully acknowledged sends
func (ep *Endpoint) handleAck(from netip.AddrPort, h *header.H, payload []byte) {
	p := ep.peerFrom(from, h.Peer)
	if p == nil {
		return
	}

	if len(payload) < header.NonceLen || !p.txReady || binary.BigEndian.Uint64(payload) != p.txNonce {
		ep.l.WithField("addr", p.addr).WithField("header", h).Debug("Dropping stale ack")
		return
	}

	n := 0
	for n < len(p.unacked) && p.unacked[n].seq < h.Seq {
		pk := p.unacked[n]
		ep.bufs.Put(pk.buf)
		pk.entry.acked++
		if pk.entry.acked == pk.entry.numSegs {
			ep.completeTx(pk.entry)
		}
		n++
	}
	if n == 0 {
		return
	}

	rem := copy(p.unacked, p.unacked[n:])
	clear(p.unacked[rem:])
	p.unacked = p.unacked[:rem]
	p.retries = 0
	ep.pump(p)
}
