package rxd

import (
	"github.com/iziemba/rxd/cq"
	"github.com/iziemba/rxd/header"
)

// Claim is a tagged message taken out of the unexpected registry. It can be consumed once,
// by RecvClaimed or Discard.
type Claim struct {
	u    *unexpMsg
	used bool
}

func (c *Claim) Tag() uint64 {
	return c.u.tag
}

// Len is the declared size of the message
func (c *Claim) Len() int {
	return c.u.size
}

func (c *Claim) Data() (uint64, bool) {
	return c.u.data, c.u.hasData
}

func (c *Claim) Peer() Addr {
	return c.u.peer
}

// Peek reports whether a tagged message matching src, tag and ignore has arrived. A hit writes a completion
// carrying the declared size, tag and remote data and leaves the message in place, a miss writes an
// ErrNoMessage error completion. The endpoint lock is dropped for one Progress pass before searching.
func (ep *Endpoint) Peek(src Addr, tag, ignore uint64, ctx any) error {
	if err := ep.progressForPeek(); err != nil {
		return err
	}

	ep.lock.Lock()
	defer ep.lock.Unlock()
	if ep.closed {
		return ErrClosed
	}

	u := ep.findPeek(src, tag, ignore, ctx)
	if u == nil {
		return nil
	}

	ent := cq.Entry{
		Context: ctx,
		Flags:   cq.FlagRecv | cq.FlagTagged | cq.FlagPeek,
		Len:     u.size,
		Tag:     u.tag,
		Src:     uint64(u.peer),
	}
	if u.hasData {
		ent.Flags |= cq.FlagRemoteCQData
		ent.Data = u.data
	}
	ep.rxCQ.Write(ent)
	return nil
}

// Claim removes a matching tagged message from the registry and returns it without writing a completion.
// A miss behaves like Peek and returns a nil Claim.
func (ep *Endpoint) Claim(src Addr, tag, ignore uint64, ctx any) (*Claim, error) {
	if err := ep.progressForPeek(); err != nil {
		return nil, err
	}

	ep.lock.Lock()
	defer ep.lock.Unlock()
	if ep.closed {
		return nil, ErrClosed
	}

	u := ep.findPeek(src, tag, ignore, ctx)
	if u == nil {
		return nil, nil
	}

	ep.unexp.remove(u)
	ep.claimed[u] = struct{}{}
	ep.l.WithField("addr", u.peer).WithField("tag", u.tag).WithField("size", u.size).Debug("Claiming message")
	return &Claim{u: u}, nil
}

// RecvClaimed delivers a claimed message into iov
func (ep *Endpoint) RecvClaimed(c *Claim, iov [][]byte, ctx any) error {
	ep.lock.Lock()
	defer ep.lock.Unlock()

	if err := ep.checkClaim(c); err != nil {
		return err
	}
	if len(iov) > IOVLimit {
		return ErrIOVLimit
	}
	if ep.rxCQ.Full() {
		return ErrAgain
	}

	e := ep.rxPool.Get()
	if e == nil {
		return ErrAgain
	}
	c.used = true

	e.op = header.OpTagged
	e.context = ctx
	e.claimed = true
	e.setIOV(iov)
	ep.consumeUnexp(e, c.u)
	return nil
}

// Discard drops a claimed message. The peer's receive sequence moves past all of its segments and
// a zero length completion is written.
func (ep *Endpoint) Discard(c *Claim, ctx any) error {
	ep.lock.Lock()
	defer ep.lock.Unlock()

	if err := ep.checkClaim(c); err != nil {
		return err
	}
	if ep.rxCQ.Full() {
		return ErrAgain
	}

	c.used = true
	ep.discard(c.u, ctx, cq.FlagClaim)
	return nil
}

// PeekDiscard drops the first matching tagged message. A miss writes an ErrNoMessage error completion.
func (ep *Endpoint) PeekDiscard(src Addr, tag, ignore uint64, ctx any) error {
	if err := ep.progressForPeek(); err != nil {
		return err
	}

	ep.lock.Lock()
	defer ep.lock.Unlock()
	if ep.closed {
		return ErrClosed
	}

	if u := ep.findPeek(src, tag, ignore, ctx); u != nil {
		ep.discard(u, ctx, 0)
	}
	return nil
}

// progressForPeek admits a peek and runs one Progress pass without holding the lock
func (ep *Endpoint) progressForPeek() error {
	ep.lock.Lock()
	switch {
	case ep.closed:
		ep.lock.Unlock()
		return ErrClosed
	case ep.rxCQ.Full():
		ep.lock.Unlock()
		return ErrAgain
	}
	ep.lock.Unlock()

	ep.Progress()
	return nil
}

// findPeek searches the tagged registry, a miss is reported to the rx queue
func (ep *Endpoint) findPeek(src Addr, tag, ignore uint64, ctx any) *unexpMsg {
	u := ep.unexp.find(header.OpTagged, src, tag, ignore)
	if u == nil {
		ep.rxCQ.WriteErr(cq.ErrEntry{
			Entry: cq.Entry{Context: ctx, Flags: cq.FlagRecv | cq.FlagTagged | cq.FlagPeek, Tag: tag},
			Err:   ErrNoMessage,
		})
		ep.l.WithField("addr", src).WithField("tag", tag).WithField("ignore", ignore).Debug("Message not found")
		return nil
	}

	if !u.hasTag {
		panic("untagged message in the tagged registry")
	}
	return u
}

func (ep *Endpoint) checkClaim(c *Claim) error {
	switch {
	case ep.closed:
		return ErrClosed
	case c == nil:
		return ErrNoClaim
	case c.used:
		return ErrClaimUsed
	case !c.u.hasTag:
		panic("claimed message is untagged")
	}
	return nil
}

// discard drops u and moves the sender's receive sequence past every segment of it
func (ep *Endpoint) discard(u *unexpMsg, ctx any, flags cq.Flags) {
	ep.unexp.remove(u)
	delete(ep.claimed, u)

	if p := ep.peers[u.peer]; p != nil && p.rxKnown {
		if u.err == nil && !u.complete() {
			if p.curUnexp == u {
				p.curUnexp = nil
			}
			p.window.SkipTo(u.firstSeq+uint64(u.numSegs), ep.bufs.Put)
			ep.drain(p)
		}
		ep.sendAck(p)
	}
	u.release(ep.bufs)

	ent := cq.Entry{
		Context: ctx,
		Flags:   cq.FlagRecv | cq.FlagTagged | flags,
		Tag:     u.tag,
		Src:     uint64(u.peer),
	}
	if u.hasData {
		ent.Flags |= cq.FlagRemoteCQData
		ent.Data = u.data
	}
	ep.rxCQ.Write(ent)
	ep.l.WithField("addr", u.peer).WithField("tag", u.tag).WithField("size", u.size).Debug("Discarding message")
}
