package rxd

import (
	"net/netip"
	"reflect"
	"sync"
	"time"

	"github.com/iziemba/rxd/cq"
	"github.com/iziemba/rxd/header"
	"github.com/iziemba/rxd/udp"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

// Endpoint is a reliable message endpoint on top of a datagram Conn.
// Every public method takes the endpoint lock for its duration, only Peek drops it to run one Progress pass.
// Nothing blocks on the network, work that can not be admitted returns ErrAgain.
type Endpoint struct {
	lock sync.Mutex

	l    *logrus.Logger
	cfg  EndpointConfig
	conn udp.Conn
	av   *AddressVector
	txCQ *cq.Queue
	rxCQ *cq.Queue

	txPool *entryPool
	rxPool *entryPool
	bufs   *packetPool

	posted       *arenaList[*xEntry]
	postedTagged *arenaList[*xEntry]
	unexp        *unexpRegistry
	claimed      map[*unexpMsg]struct{}

	peers  map[Addr]*peer
	timers *TimerWheel[Addr]

	messageMetrics *MessageMetrics
	retransmits    metrics.Counter
	unreachable    metrics.Counter
	closed         bool
}

func NewEndpoint(l *logrus.Logger, cfg EndpointConfig, conn udp.Conn, av *AddressVector, txCQ, rxCQ *cq.Queue) (*Endpoint, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var mm *MessageMetrics
	if cfg.MessageMetrics {
		mm = newMessageMetrics()
	}

	return &Endpoint{
		l:              l,
		cfg:            cfg,
		conn:           conn,
		av:             av,
		txCQ:           txCQ,
		rxCQ:           rxCQ,
		txPool:         newEntryPool(kindTx, cfg.TxSize),
		rxPool:         newEntryPool(kindRx, cfg.RxSize),
		bufs:           newPacketPool(cfg.MTU),
		posted:         newArenaList[*xEntry](cfg.RxSize),
		postedTagged:   newArenaList[*xEntry](cfg.RxSize),
		unexp:          newUnexpRegistry(cfg.RxSize),
		claimed:        make(map[*unexpMsg]struct{}),
		peers:          make(map[Addr]*peer),
		timers:         NewTimerWheel[Addr](max(cfg.RetryInterval/4, time.Millisecond), cfg.RetryInterval*time.Duration(cfg.Retries+1)),
		messageMetrics: mm,
		retransmits:    metrics.GetOrRegisterCounter("network.packets.retransmitted", nil),
		unreachable:    metrics.GetOrRegisterCounter("peers.unreachable", nil),
	}, nil
}

func (ep *Endpoint) AddressVector() *AddressVector {
	return ep.av
}

func (ep *Endpoint) TxCQ() *cq.Queue {
	return ep.txCQ
}

func (ep *Endpoint) RxCQ() *cq.Queue {
	return ep.rxCQ
}

// Progress reads up to listen.batch datagrams, retries anything stalled on resources and runs the retransmit timers
func (ep *Endpoint) Progress() {
	ep.lock.Lock()
	defer ep.lock.Unlock()
	if ep.closed {
		return
	}

	ep.conn.Poll(ep.handle, ep.cfg.Batch)
	for _, p := range ep.peers {
		if p.window.Peek() != nil && ep.drain(p) {
			ep.sendAck(p)
		}
	}
	ep.retransmit(time.Now())
}

// Stats returns a snapshot of the pools and lists
func (ep *Endpoint) Stats() Stats {
	ep.lock.Lock()
	defer ep.lock.Unlock()

	s := Stats{
		TxInUse:          ep.txPool.InUse(),
		RxInUse:          ep.rxPool.InUse(),
		Posted:           ep.posted.Len(),
		PostedTagged:     ep.postedTagged.Len(),
		Unexpected:       ep.unexp.untagged.Len(),
		UnexpectedTagged: ep.unexp.tagged.Len(),
		Peers:            len(ep.peers),
	}
	for _, p := range ep.peers {
		s.TxQueued += p.queue.Len()
		s.Unacked += len(p.unacked)
	}
	return s
}

// Close releases every entry and buffered packet without writing completions. The Conn is left open.
func (ep *Endpoint) Close() error {
	ep.lock.Lock()
	defer ep.lock.Unlock()
	if ep.closed {
		return nil
	}
	ep.closed = true

	for _, p := range ep.peers {
		ep.resetTx(p, nil)
		if p.curRx != nil {
			ep.rxPool.Put(p.curRx)
			p.curRx = nil
		}
		p.curUnexp = nil
		p.window.Reset(0, ep.bufs.Put)
	}

	for _, l := range []*arenaList[*xEntry]{ep.posted, ep.postedTagged} {
		l.Each(func(r int32, e *xEntry) bool {
			l.Remove(r)
			ep.rxPool.Put(e)
			return true
		})
	}

	ep.unexp.each(func(u *unexpMsg) {
		ep.unexp.remove(u)
		u.release(ep.bufs)
	})
	for u := range ep.claimed {
		u.release(ep.bufs)
	}
	clear(ep.claimed)

	ep.l.WithField("stats", m{"peers": len(ep.peers)}).Info("Endpoint closed")
	return nil
}

// RemoveAddr removes a from the address vector and drops the peer's session. Queued and unacknowledged
// sends to a complete with ErrCanceled, a partially received message with ErrPeerReset. Complete
// unexpected messages from a stay receivable.
func (ep *Endpoint) RemoveAddr(a Addr) error {
	ep.lock.Lock()
	defer ep.lock.Unlock()
	if ep.closed {
		return ErrClosed
	}
	if !ep.av.Remove(a) {
		return ErrUnknownAddr
	}

	p := ep.peers[a]
	if p == nil {
		return nil
	}
	ep.l.WithField("addr", a).WithField("udpAddr", p.ap).WithField("queued", p.queue.Len()).
		WithField("unacked", len(p.unacked)).Info("Removing peer")

	ep.resetTx(p, ErrCanceled)
	ep.resetRx(p)
	p.window.Reset(0, ep.bufs.Put)
	delete(ep.peers, a)
	return nil
}

// CancelRecv withdraws the posted receive that carries ctx. ctx must be comparable.
// A canceled receive completes with ErrCanceled, ErrNoMessage is returned when nothing was found.
func (ep *Endpoint) CancelRecv(ctx any) error {
	ep.lock.Lock()
	defer ep.lock.Unlock()
	if ep.closed {
		return ErrClosed
	}

	if ctx == nil || !reflect.TypeOf(ctx).Comparable() {
		return ErrNoMessage
	}

	for _, l := range []*arenaList[*xEntry]{ep.posted, ep.postedTagged} {
		r, ok := l.Find(func(e *xEntry) bool {
			return e.context == ctx
		})
		if !ok {
			continue
		}

		e := l.Remove(r)
		e.ref = nilRef
		e.state = stateCanceled

		ent := cq.ErrEntry{
			Entry: cq.Entry{Context: e.context, Flags: rxFlags(e.op)},
			Err:   ErrCanceled,
			OLen:  e.capacity(),
		}
		if e.flags&FlagMultiRecv != 0 {
			ent.Flags |= cq.FlagMultiRecv
			ent.Buf = e.iov[0]
		}
		ep.rxCQ.WriteErr(ent)
		ep.l.WithField("entry", e).Debug("Receive canceled")
		ep.rxPool.Put(e)
		return nil
	}

	return ErrNoMessage
}

func (ep *Endpoint) handle(from netip.AddrPort, b []byte) {
	var h header.H
	if err := h.Parse(b); err != nil {
		ep.l.WithError(err).WithField("udpAddr", from).WithField("packet", b).Debug("Error while parsing inbound packet")
		return
	}
	ep.messageMetrics.Rx(h.Type, 1)

	switch h.Type {
	case header.RTS:
		ep.handleRTS(from, &h, b[header.Len:])
	case header.CTS:
		ep.handleCTS(from, &h, b[header.Len:])
	case header.Ack:
		ep.handleAck(from, &h, b[header.Len:])
	case header.Op, header.Data:
		ep.handleSeq(from, &h, b)
	default:
		ep.l.WithField("udpAddr", from).WithField("header", h).Debug("Unexpected packet received")
	}
}

// getPeer returns the state for a, creating it if this is the first time we talk to a
func (ep *Endpoint) getPeer(a Addr, ap netip.AddrPort) *peer {
	p := ep.peers[a]
	if p == nil {
		p = newPeer(a, ap, ep.cfg.ReorderWindow)
		ep.peers[a] = p
	}
	return p
}

// peerFrom resolves the peer index carried in a header, the source must match what the index was learned from
func (ep *Endpoint) peerFrom(from netip.AddrPort, idx uint32) *peer {
	p := ep.peers[Addr(idx)]
	if p == nil || p.ap != from {
		ep.l.WithField("udpAddr", from).WithField("peer", idx).Debug("Dropping packet from unknown peer")
		return nil
	}
	return p
}

func (ep *Endpoint) write(p *peer, t header.MessageType, b []byte) {
	ep.messageMetrics.Tx(t, 1)
	err := ep.conn.WriteTo(b, p.ap)
	if err != nil && !IsAgain(err) {
		ep.l.WithError(err).WithField("udpAddr", p.ap).Error("Failed to write outgoing packet")
	}
}

func rxFlags(op header.OpCode) cq.Flags {
	if op == header.OpTagged {
		return cq.FlagRecv | cq.FlagTagged
	}
	return cq.FlagRecv | cq.FlagMsg
}

func txFlags(op header.OpCode) cq.Flags {
	if op == header.OpTagged {
		return cq.FlagSend | cq.FlagTagged
	}
	return cq.FlagSend | cq.FlagMsg
}

// completeRx reports a finished receive and returns its entry to the pool
func (ep *Endpoint) completeRx(e *xEntry) {
	e.state = stateComplete
	ent := cq.Entry{
		Context: e.context,
		Flags:   rxFlags(e.op),
		Len:     e.done,
		Src:     uint64(e.peer),
	}
	if e.op == header.OpTagged {
		ent.Tag = e.tag
	}
	if e.hasData {
		ent.Flags |= cq.FlagRemoteCQData
		ent.Data = e.data
	}
	if e.claimed {
		ent.Flags |= cq.FlagClaim
	}
	if e.flags&FlagMultiRecv != 0 {
		ent.Buf = e.region
		if e.release {
			ent.Flags |= cq.FlagMultiRecv
		}
	}

	ep.rxCQ.Write(ent)
	ep.rxPool.Put(e)
}

func (ep *Endpoint) failRx(e *xEntry, err error) {
	e.state = stateCanceled
	ent := cq.ErrEntry{
		Entry: cq.Entry{Context: e.context, Flags: rxFlags(e.op), Len: e.done},
		Err:   err,
		OLen:  e.total - e.done,
	}
	if e.flags&FlagMultiRecv != 0 {
		ent.Buf = e.region
		if e.release {
			ent.Flags |= cq.FlagMultiRecv
		}
	}
	ep.rxCQ.WriteErr(ent)
	ep.rxPool.Put(e)
}

// completeTx reports a fully acknowledged send unless the caller asked for silence
func (ep *Endpoint) completeTx(e *xEntry) {
	e.state = stateComplete
	if e.flags&(FlagInject|FlagNoCompletion) == 0 {
		ep.txCQ.Write(cq.Entry{Context: e.context, Flags: txFlags(e.op), Len: e.total})
	}
	ep.txPool.Put(e)
}

func (ep *Endpoint) failTx(e *xEntry, err error) {
	e.state = stateCanceled
	if e.flags&(FlagInject|FlagNoCompletion) == 0 {
		ep.txCQ.WriteErr(cq.ErrEntry{
			Entry: cq.Entry{Context: e.context, Flags: txFlags(e.op)},
			Err:   err,
			OLen:  e.total,
		})
	}
	ep.txPool.Put(e)
}
