package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/iziemba/rxd/config"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

type rxPacket struct {
	from netip.AddrPort
	buf  *[]byte
	n    int
}

// StdConn is a Conn on a kernel UDP socket. A reader goroutine moves datagrams
// into a bounded ring which Poll drains on the caller's goroutine.
type StdConn struct {
	*net.UDPConn
	l *logrus.Logger

	ring   lfq.SPSC[rxPacket]
	bufs   sync.Pool
	closed atomix.Uint32
	done   chan struct{}

	rxDropped metrics.Counter
	rxErrors  metrics.Counter
	txErrors  metrics.Counter
}

// NewListener binds ip:port. batch sizes the ring between the socket and Poll.
func NewListener(l *logrus.Logger, ip string, port int, batch int) (*StdConn, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(context.TODO(), "udp", net.JoinHostPort(ip, fmt.Sprint(port)))
	if err != nil {
		return nil, err
	}

	uc, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected PacketConn: %T %#v", pc, pc)
	}

	if batch <= 0 {
		batch = 64
	}

	u := &StdConn{
		UDPConn:   uc,
		l:         l,
		done:      make(chan struct{}),
		rxDropped: metrics.GetOrRegisterCounter("udp.rx.dropped", nil),
		rxErrors:  metrics.GetOrRegisterCounter("udp.rx.errors", nil),
		txErrors:  metrics.GetOrRegisterCounter("udp.tx.errors", nil),
	}
	u.bufs.New = func() any {
		b := make([]byte, MTU)
		return &b
	}
	u.ring.Init(batch * 4)

	go u.listen()
	return u, nil
}

func (u *StdConn) listen() {
	defer close(u.done)

	for {
		bp := u.bufs.Get().(*[]byte)
		n, from, err := u.ReadFromUDPAddrPort(*bp)
		if err != nil {
			u.bufs.Put(bp)
			if u.closed.Load() != 0 || errors.Is(err, net.ErrClosed) {
				return
			}
			u.rxErrors.Inc(1)
			u.l.WithError(err).Error("Failed to read packets")
			continue
		}

		p := rxPacket{from: netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), buf: bp, n: n}
		if err := u.ring.Enqueue(&p); err != nil {
			// the endpoint is not keeping up, the peer will retransmit
			u.bufs.Put(bp)
			u.rxDropped.Inc(1)
		}
	}
}

func (u *StdConn) Poll(r Reader, budget int) int {
	n := 0
	for n < budget {
		p, err := u.ring.Dequeue()
		if err != nil {
			break
		}
		r(p.from, (*p.buf)[:p.n])
		u.bufs.Put(p.buf)
		n++
	}
	return n
}

func (u *StdConn) WriteTo(b []byte, addr netip.AddrPort) error {
	_, err := u.UDPConn.WriteToUDPAddrPort(b, addr)
	if err == nil {
		return nil
	}
	if isTemporary(err) {
		return iox.ErrWouldBlock
	}
	u.txErrors.Inc(1)
	return err
}

func (u *StdConn) LocalAddr() (netip.AddrPort, error) {
	a := u.UDPConn.LocalAddr()

	switch v := a.(type) {
	case *net.UDPAddr:
		ap := v.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("LocalAddr returned: %#v", a)
	}
}

func (u *StdConn) ReloadConfig(c *config.C) {
	b := c.GetInt("listen.read_buffer", 0)
	if b > 0 {
		if err := u.SetRecvBuffer(b); err != nil {
			u.l.WithError(err).Error("Failed to set listen.read_buffer")
		} else if s, err := u.GetRecvBuffer(); err == nil {
			u.l.WithField("size", s).Info("listen.read_buffer was set")
		} else {
			u.l.WithError(err).Warn("Failed to get listen.read_buffer")
		}
	}

	b = c.GetInt("listen.write_buffer", 0)
	if b > 0 {
		if err := u.SetSendBuffer(b); err != nil {
			u.l.WithError(err).Error("Failed to set listen.write_buffer")
		} else if s, err := u.GetSendBuffer(); err == nil {
			u.l.WithField("size", s).Info("listen.write_buffer was set")
		} else {
			u.l.WithError(err).Warn("Failed to get listen.write_buffer")
		}
	}
}

func (u *StdConn) SetRecvBuffer(n int) error {
	return u.control(func(fd uintptr) error { return setRecvBuffer(fd, n) })
}

func (u *StdConn) SetSendBuffer(n int) error {
	return u.control(func(fd uintptr) error { return setSendBuffer(fd, n) })
}

func (u *StdConn) GetRecvBuffer() (int, error) {
	var s int
	err := u.control(func(fd uintptr) (err error) {
		s, err = getRecvBuffer(fd)
		return err
	})
	return s, err
}

func (u *StdConn) GetSendBuffer() (int, error) {
	var s int
	err := u.control(func(fd uintptr) (err error) {
		s, err = getSendBuffer(fd)
		return err
	})
	return s, err
}

func (u *StdConn) control(f func(fd uintptr) error) error {
	rc, err := u.UDPConn.SyscallConn()
	if err != nil {
		return err
	}

	var serr error
	if err := rc.Control(func(fd uintptr) { serr = f(fd) }); err != nil {
		return err
	}
	return serr
}

// Close stops the reader goroutine and releases any datagrams still queued
func (u *StdConn) Close() error {
	u.closed.Add(1)
	err := u.UDPConn.Close()
	<-u.done

	for {
		p, err := u.ring.Dequeue()
		if err != nil {
			break
		}
		u.bufs.Put(p.buf)
	}
	return err
}
