package rxd

import (
	"time"

	"github.com/iziemba/rxd/header"
)

func headerType(b []byte) header.MessageType {
	return header.MessageType(b[0] & 0x0f)
}

// backoff is how long to wait for progress after the given number of retries
func (ep *Endpoint) backoff(retries int) time.Duration {
	return ep.cfg.RetryInterval * time.Duration(retries+1)
}

// arm schedules a retransmit check for p if one is not already pending
func (ep *Endpoint) arm(p *peer) {
	if p.timerArmed {
		return
	}
	ep.timers.Advance(time.Now())
	ep.timers.Add(p.addr, ep.backoff(p.retries))
	p.timerArmed = true
}

// retransmit resends the RTS or every unacknowledged packet of peers that made no progress within their backoff.
// A peer that exhausts endpoint.retries fails all of its sends with ErrPeerUnreachable.
func (ep *Endpoint) retransmit(now time.Time) {
	ep.timers.Advance(now)
	for {
		a, ok := ep.timers.Purge()
		if !ok {
			return
		}

		p := ep.peers[a]
		if p == nil {
			continue
		}
		p.timerArmed = false

		switch {
		case p.rtsPending:
			ep.retry(p, func() { ep.sendRTS(p) })

		case len(p.unacked) > 0:
			if wait := ep.backoff(p.retries) - now.Sub(p.oldestUnacked()); wait > 0 {
				// the oldest packet is younger than the timer
				ep.timers.Add(a, wait)
				p.timerArmed = true
				continue
			}

			ep.retry(p, func() {
				for i := range p.unacked {
					pk := &p.unacked[i]
					pk.sentAt = now
					ep.write(p, headerType(*pk.buf), *pk.buf)
				}
				ep.retransmits.Inc(int64(len(p.unacked)))
			})
		}
	}
}

func (ep *Endpoint) retry(p *peer, resend func()) {
	p.retries++
	if p.retries > ep.cfg.Retries {
		ep.unreachable.Inc(1)
		ep.l.WithField("addr", p.addr).WithField("udpAddr", p.ap).WithField("retries", ep.cfg.Retries).
			WithField("queued", p.queue.Len()).WithField("unacked", len(p.unacked)).
			Info("Peer did not respond, failing outstanding sends")
		ep.resetTx(p, ErrPeerUnreachable)
		return
	}

	ep.l.WithField("addr", p.addr).WithField("retry", p.retries).Debug("Retransmitting")
	resend()
	ep.arm(p)
}
