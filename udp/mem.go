package udp

import (
	"errors"
	"net/netip"
	"sync"

	"code.hybscloud.com/iox"
	"github.com/iziemba/rxd/config"
	"github.com/sirupsen/logrus"
)

// Packet is a datagram in flight on a MemNet
type Packet struct {
	From netip.AddrPort
	To   netip.AddrPort
	Data []byte
}

func (p *Packet) Copy() *Packet {
	n := &Packet{From: p.From, To: p.To, Data: make([]byte, len(p.Data))}
	copy(n.Data, p.Data)
	return n
}

// Verdict is what a MemNet filter decides to do with a datagram
type Verdict int

const (
	Deliver Verdict = iota
	Drop
	Duplicate
	// Hold keeps the datagram until Release, which delivers held datagrams newest first
	Hold
	// Busy refuses the write with iox.ErrWouldBlock
	Busy
)

var ErrAddrInUse = errors.New("address already in use")

// MemNet is an in-memory datagram network. It is lossless and ordered unless Filter says otherwise.
type MemNet struct {
	sync.Mutex
	conns  map[netip.AddrPort]*TesterConn
	held   []*Packet
	filter func(*Packet) Verdict
	port   uint16
	l      *logrus.Logger
}

func NewMemNet(l *logrus.Logger) *MemNet {
	return &MemNet{
		conns: make(map[netip.AddrPort]*TesterConn),
		port:  4241,
		l:     l,
	}
}

// SetFilter installs f to judge every datagram written from now on, nil restores lossless delivery
func (n *MemNet) SetFilter(f func(*Packet) Verdict) {
	n.Lock()
	n.filter = f
	n.Unlock()
}

// Listen attaches a new conn at addr, a zero port picks the next free one
func (n *MemNet) Listen(addr netip.Addr) (*TesterConn, error) {
	return n.ListenAddrPort(netip.AddrPortFrom(addr, 0))
}

func (n *MemNet) ListenAddrPort(ap netip.AddrPort) (*TesterConn, error) {
	n.Lock()
	defer n.Unlock()

	if ap.Port() == 0 {
		for {
			n.port++
			ap = netip.AddrPortFrom(ap.Addr(), n.port)
			if _, ok := n.conns[ap]; !ok {
				break
			}
		}
	}

	if _, ok := n.conns[ap]; ok {
		return nil, ErrAddrInUse
	}

	c := &TesterConn{Addr: ap, net: n}
	n.conns[ap] = c
	return c, nil
}

// Release delivers every held datagram in reverse order of arrival
func (n *MemNet) Release() int {
	n.Lock()
	held := n.held
	n.held = nil
	n.Unlock()

	for i := len(held) - 1; i >= 0; i-- {
		n.deliver(held[i])
	}
	return len(held)
}

// Held returns the number of datagrams waiting for Release
func (n *MemNet) Held() int {
	n.Lock()
	defer n.Unlock()
	return len(n.held)
}

func (n *MemNet) route(p *Packet) error {
	n.Lock()
	v := Deliver
	if n.filter != nil {
		v = n.filter(p)
	}

	switch v {
	case Busy:
		n.Unlock()
		return iox.ErrWouldBlock
	case Drop:
		n.Unlock()
		return nil
	case Hold:
		n.held = append(n.held, p)
		n.Unlock()
		return nil
	}
	n.Unlock()

	n.deliver(p)
	if v == Duplicate {
		n.deliver(p.Copy())
	}
	return nil
}

func (n *MemNet) deliver(p *Packet) {
	n.Lock()
	c := n.conns[p.To]
	n.Unlock()

	if c == nil {
		if n.l != nil {
			n.l.WithField("to", p.To).Debug("Dropping datagram to unknown address")
		}
		return
	}
	c.push(p)
}

func (n *MemNet) detach(c *TesterConn) {
	n.Lock()
	if n.conns[c.Addr] == c {
		delete(n.conns, c.Addr)
	}
	n.Unlock()
}

// TesterConn is a Conn attached to a MemNet
type TesterConn struct {
	Addr netip.AddrPort

	net    *MemNet
	lock   sync.Mutex
	inbox  []*Packet
	sent   int
	closed bool
}

func (u *TesterConn) push(p *Packet) {
	u.lock.Lock()
	if !u.closed {
		u.inbox = append(u.inbox, p)
	}
	u.lock.Unlock()
}

func (u *TesterConn) WriteTo(b []byte, addr netip.AddrPort) error {
	u.lock.Lock()
	if u.closed {
		u.lock.Unlock()
		return errors.New("use of closed conn")
	}
	u.sent++
	u.lock.Unlock()

	p := &Packet{From: u.Addr, To: addr, Data: make([]byte, len(b))}
	copy(p.Data, b)
	return u.net.route(p)
}

func (u *TesterConn) Poll(r Reader, budget int) int {
	u.lock.Lock()
	if budget > len(u.inbox) {
		budget = len(u.inbox)
	}
	batch := u.inbox[:budget]
	u.inbox = u.inbox[budget:]
	u.lock.Unlock()

	for _, p := range batch {
		r(p.From, p.Data)
	}
	return len(batch)
}

// Pending returns the number of datagrams waiting to be polled
func (u *TesterConn) Pending() int {
	u.lock.Lock()
	defer u.lock.Unlock()
	return len(u.inbox)
}

// Sent returns the number of datagrams written, including ones the network dropped
func (u *TesterConn) Sent() int {
	u.lock.Lock()
	defer u.lock.Unlock()
	return u.sent
}

func (u *TesterConn) LocalAddr() (netip.AddrPort, error) {
	return u.Addr, nil
}

func (u *TesterConn) ReloadConfig(*config.C) {}

func (u *TesterConn) Close() error {
	u.lock.Lock()
	u.closed = true
	u.inbox = nil
	u.lock.Unlock()
	u.net.detach(u)
	return nil
}
