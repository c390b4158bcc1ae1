package rxd

import (
	"github.com/iziemba/rxd/header"
)

// TRecv posts buf for the next message from src whose tag matches tag on every bit not set in ignore
func (ep *Endpoint) TRecv(buf []byte, src Addr, tag, ignore uint64, ctx any) error {
	return ep.postRecv(header.OpTagged, [][]byte{buf}, src, tag, ignore, ctx, 0)
}

func (ep *Endpoint) TRecvv(iov [][]byte, src Addr, tag, ignore uint64, ctx any) error {
	return ep.postRecv(header.OpTagged, iov, src, tag, ignore, ctx, 0)
}

// TRecvMsg posts a tagged receive or, with FlagPeek, FlagClaim and FlagDiscard, inspects the unexpected messages:
//
//	FlagPeek                  Peek
//	FlagPeek|FlagClaim        Claim, the handle is stored in msg.Claim
//	FlagPeek|FlagDiscard      PeekDiscard
//	FlagClaim                 RecvClaimed with msg.Claim
//	FlagClaim|FlagDiscard     Discard of msg.Claim
func (ep *Endpoint) TRecvMsg(msg *Msg, flags Flags) error {
	switch flags & (FlagPeek | FlagClaim | FlagDiscard) {
	case 0:
		return ep.postRecv(header.OpTagged, msg.IOV, msg.Addr, msg.Tag, msg.Ignore, msg.Context, flags)
	case FlagPeek:
		return ep.Peek(msg.Addr, msg.Tag, msg.Ignore, msg.Context)
	case FlagPeek | FlagClaim:
		c, err := ep.Claim(msg.Addr, msg.Tag, msg.Ignore, msg.Context)
		if err != nil {
			return err
		}
		msg.Claim = c
		return nil
	case FlagPeek | FlagDiscard:
		return ep.PeekDiscard(msg.Addr, msg.Tag, msg.Ignore, msg.Context)
	case FlagClaim:
		return ep.RecvClaimed(msg.Claim, msg.IOV, msg.Context)
	case FlagClaim | FlagDiscard:
		return ep.Discard(msg.Claim, msg.Context)
	}
	return ErrNoClaim
}

func (ep *Endpoint) TSend(buf []byte, dest Addr, tag uint64, ctx any) error {
	return ep.postSend(header.OpTagged, [][]byte{buf}, dest, tag, 0, ctx, 0)
}

func (ep *Endpoint) TSendv(iov [][]byte, dest Addr, tag uint64, ctx any) error {
	return ep.postSend(header.OpTagged, iov, dest, tag, 0, ctx, 0)
}

func (ep *Endpoint) TSendMsg(msg *Msg, flags Flags) error {
	return ep.postSend(header.OpTagged, msg.IOV, msg.Addr, msg.Tag, msg.Data, msg.Context, flags)
}

func (ep *Endpoint) TSendData(buf []byte, data uint64, dest Addr, tag uint64, ctx any) error {
	return ep.postSend(header.OpTagged, [][]byte{buf}, dest, tag, data, ctx, FlagRemoteCQData)
}

func (ep *Endpoint) TInject(buf []byte, dest Addr, tag uint64) error {
	return ep.postSend(header.OpTagged, [][]byte{buf}, dest, tag, 0, nil, FlagInject)
}

func (ep *Endpoint) TInjectData(buf []byte, data uint64, dest Addr, tag uint64) error {
	return ep.postSend(header.OpTagged, [][]byte{buf}, dest, tag, data, nil, FlagInject|FlagRemoteCQData)
}
