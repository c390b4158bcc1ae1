package rxd

import (
	"github.com/iziemba/rxd/header"
)

// Recv posts buf for the next untagged message from src, AddrUnspec accepts any peer
func (ep *Endpoint) Recv(buf []byte, src Addr, ctx any) error {
	return ep.postRecv(header.OpMsg, [][]byte{buf}, src, 0, 0, ctx, 0)
}

func (ep *Endpoint) Recvv(iov [][]byte, src Addr, ctx any) error {
	return ep.postRecv(header.OpMsg, iov, src, 0, 0, ctx, 0)
}

// RecvMsg posts msg.IOV. FlagMultiRecv lets a single buffer absorb several messages.
func (ep *Endpoint) RecvMsg(msg *Msg, flags Flags) error {
	if flags&(FlagPeek|FlagClaim|FlagDiscard) != 0 {
		return ErrPeekUntagged
	}
	return ep.postRecv(header.OpMsg, msg.IOV, msg.Addr, 0, 0, msg.Context, flags)
}

func (ep *Endpoint) Send(buf []byte, dest Addr, ctx any) error {
	return ep.postSend(header.OpMsg, [][]byte{buf}, dest, 0, 0, ctx, 0)
}

func (ep *Endpoint) Sendv(iov [][]byte, dest Addr, ctx any) error {
	return ep.postSend(header.OpMsg, iov, dest, 0, 0, ctx, 0)
}

// SendMsg honors FlagInject, FlagRemoteCQData and FlagNoCompletion
func (ep *Endpoint) SendMsg(msg *Msg, flags Flags) error {
	return ep.postSend(header.OpMsg, msg.IOV, msg.Addr, 0, msg.Data, msg.Context, flags)
}

// SendData delivers data in the receiver's completion
func (ep *Endpoint) SendData(buf []byte, data uint64, dest Addr, ctx any) error {
	return ep.postSend(header.OpMsg, [][]byte{buf}, dest, 0, data, ctx, FlagRemoteCQData)
}

// Inject copies buf and sends it without ever writing a completion. buf may be reused as soon as Inject returns.
func (ep *Endpoint) Inject(buf []byte, dest Addr) error {
	return ep.postSend(header.OpMsg, [][]byte{buf}, dest, 0, 0, nil, FlagInject)
}

func (ep *Endpoint) InjectData(buf []byte, data uint64, dest Addr) error {
	return ep.postSend(header.OpMsg, [][]byte{buf}, dest, 0, data, nil, FlagInject|FlagRemoteCQData)
}

func (ep *Endpoint) postRecv(op header.OpCode, iov [][]byte, src Addr, tag, ignore uint64, ctx any, flags Flags) error {
	ep.lock.Lock()
	defer ep.lock.Unlock()

	if ep.closed {
		return ErrClosed
	}
	if len(iov) > IOVLimit {
		return ErrIOVLimit
	}
	if flags&FlagMultiRecv != 0 && len(iov) != 1 {
		return ErrMultiRecvIOV
	}
	if ep.rxCQ.Full() {
		return ErrAgain
	}

	e := ep.rxPool.Get()
	if e == nil {
		return ErrAgain
	}
	e.op = op
	e.flags = flags & FlagMultiRecv
	e.peer = src
	e.tag = tag
	e.ignore = ignore
	e.context = ctx
	e.setIOV(iov)

	list := ep.posted
	if op == header.OpTagged {
		list = ep.postedTagged
	}

	// a multi-recv buffer keeps absorbing buffered messages until it is retired or nothing matches
	for {
		u := ep.unexp.find(op, src, tag, ignore)
		if u == nil {
			e.ref = list.PushBack(e)
			return nil
		}

		if e.flags&FlagMultiRecv == 0 {
			ep.consumeUnexp(e, u)
			return nil
		}

		rest := ep.carve(e, u.size)
		ep.consumeUnexp(e, u)
		if rest == nil {
			return nil
		}
		e = rest
	}
}

func (ep *Endpoint) postSend(op header.OpCode, iov [][]byte, dest Addr, tag, data uint64, ctx any, flags Flags) error {
	ep.lock.Lock()
	defer ep.lock.Unlock()

	if ep.closed {
		return ErrClosed
	}
	if len(iov) > IOVLimit {
		return ErrIOVLimit
	}

	total := iovLen(iov)
	if total > ep.cfg.MaxMsgSize {
		return ErrMsgTooLarge
	}
	if flags&FlagInject != 0 && total > ep.cfg.InjectSize {
		return ErrInjectTooLarge
	}

	ap, ok := ep.av.Lookup(dest)
	if !ok {
		return ErrUnknownAddr
	}

	if ep.txCQ.Full() {
		return ErrAgain
	}

	e := ep.txPool.Get()
	if e == nil {
		return ErrAgain
	}
	e.op = op
	e.flags = flags & (FlagInject | FlagRemoteCQData | FlagNoCompletion)
	e.peer = dest
	e.tag = tag
	e.hasData = flags&FlagRemoteCQData != 0
	if e.hasData {
		e.data = data
	}
	e.total = total

	if flags&FlagInject != 0 {
		e.inject = make([]byte, total)
		copyFromIOV(e.inject, iov, 0)
	} else {
		e.context = ctx
		e.setIOV(iov)
	}
	e.numSegs = ep.segments(op, total, e.hasData)

	p := ep.getPeer(dest, ap)
	p.queue.PushBack(e)
	if p.txReady {
		ep.pump(p)
	} else {
		ep.startHandshake(p)
	}
	return nil
}
