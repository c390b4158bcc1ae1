package rxd

import (
	"encoding/binary"
	"math/rand/v2"
	"net/netip"

	"github.com/iziemba/rxd/header"
)

// startHandshake opens the tx session to p with a fresh nonce. Sends queue on the peer until the CTS arrives.
func (ep *Endpoint) startHandshake(p *peer) {
	if p.rtsPending || p.txReady {
		return
	}

	p.txNonce = newNonce()
	p.rtsPending = true
	p.retries = 0
	ep.sendRTS(p)
	ep.arm(p)
}

func newNonce() uint64 {
	for {
		if n := rand.Uint64(); n != 0 {
			return n
		}
	}
}

func (ep *Endpoint) sendRTS(p *peer) {
	var out [header.Len + header.IndexLen]byte
	b := header.Encode(out[:], header.RTS, 0, 0, 0, p.txNonce)
	b = binary.BigEndian.AppendUint32(b, uint32(p.addr))
	ep.write(p, header.RTS, b)
}

func (ep *Endpoint) sendCTS(p *peer, nonce uint64) {
	var out [header.Len + header.IndexLen]byte
	b := header.Encode(out[:], header.CTS, 0, 0, p.remoteIdx, nonce)
	b = binary.BigEndian.AppendUint32(b, uint32(p.addr))
	ep.write(p, header.CTS, b)
}

// handleRTS accepts a peer opening its tx session to us. Unknown sources are added to the
// address vector when the allow list permits. A nonce we have not seen restarts our rx session.
func (ep *Endpoint) handleRTS(from netip.AddrPort, h *header.H, payload []byte) {
	if len(payload) < header.IndexLen {
		ep.l.WithField("udpAddr", from).Debug("Dropping short RTS")
		return
	}

	a, ok := ep.av.InsertIfAllowed(from)
	if !ok {
		ep.l.WithField("udpAddr", from).Info("Refusing handshake from address outside av.allow_list")
		return
	}

	p := ep.getPeer(a, from)
	p.remoteIdx = binary.BigEndian.Uint32(payload)

	if !p.rxKnown || p.rxNonce != h.Seq {
		if p.rxKnown {
			ep.l.WithField("addr", a).WithField("udpAddr", from).Info("Peer restarted its session")
			ep.resetRx(p)
		}
		p.rxKnown = true
		p.rxNonce = h.Seq
		p.window.Reset(0, ep.bufs.Put)

		ep.l.WithField("addr", a).WithField("udpAddr", from).WithField("remoteIndex", p.remoteIdx).
			Info("Handshake message received")
	}

	// a repeated RTS means our CTS was lost
	ep.sendCTS(p, h.Seq)
}

func (ep *Endpoint) handleCTS(from netip.AddrPort, h *header.H, payload []byte) {
	p := ep.peerFrom(from, h.Peer)
	if p == nil {
		return
	}

	if !p.rtsPending || h.Seq != p.txNonce || len(payload) < header.IndexLen {
		ep.l.WithField("addr", p.addr).WithField("udpAddr", from).Debug("Dropping stale CTS")
		return
	}

	p.remoteIdx = binary.BigEndian.Uint32(payload)
	p.rtsPending = false
	p.txReady = true
	p.txSeq = 0
	p.retries = 0

	ep.l.WithField("addr", p.addr).WithField("udpAddr", from).WithField("queued", p.queue.Len()).
		Info("Handshake completed")
	ep.pump(p)
}

// resetRx tears down partial receives from a session the peer abandoned
func (ep *Endpoint) resetRx(p *peer) {
	if p.curRx != nil {
		ep.failRx(p.curRx, ErrPeerReset)
		p.curRx = nil
	}

	if u := p.curUnexp; u != nil {
		p.curUnexp = nil
		ep.unexp.remove(u)
		u.release(ep.bufs)
		// a claim may still hold u
		u.err = ErrPeerReset
	}
}

// resetTx fails every queued and unacknowledged send with err and closes the tx session.
// A nil err releases the entries without completions.
func (ep *Endpoint) resetTx(p *peer, err error) {
	var last *xEntry
	fail := func(e *xEntry) {
		if e == last {
			return
		}
		last = e
		if err == nil {
			ep.txPool.Put(e)
		} else {
			ep.failTx(e, err)
		}
	}

	for i := range p.unacked {
		ep.bufs.Put(p.unacked[i].buf)
		fail(p.unacked[i].entry)
		p.unacked[i] = txPacket{}
	}
	p.unacked = p.unacked[:0]

	p.queue.Each(func(r int32, e *xEntry) bool {
		p.queue.Remove(r)
		fail(e)
		return true
	})

	p.txReady = false
	p.rtsPending = false
	p.txSeq = 0
	p.retries = 0
}
