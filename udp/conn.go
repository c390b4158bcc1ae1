package udp

import (
	"net/netip"

	"github.com/iziemba/rxd/config"
)

const MTU = 9001

// Reader is handed each received datagram. b is only valid for the duration of the call.
type Reader func(from netip.AddrPort, b []byte)

// Conn is the unreliable datagram transport an endpoint runs on.
// WriteTo returns iox.ErrWouldBlock when the datagram could not be queued and should be tried again.
// Poll never blocks, it dispatches at most budget datagrams to r and returns how many it dispatched.
type Conn interface {
	LocalAddr() (netip.AddrPort, error)
	WriteTo(b []byte, addr netip.AddrPort) error
	Poll(r Reader, budget int) int
	ReloadConfig(c *config.C)
	Close() error
}

type NoopConn struct{}

func (NoopConn) LocalAddr() (netip.AddrPort, error) {
	return netip.AddrPort{}, nil
}
func (NoopConn) WriteTo(_ []byte, _ netip.AddrPort) error {
	return nil
}
func (NoopConn) Poll(_ Reader, _ int) int {
	return 0
}
func (NoopConn) ReloadConfig(_ *config.C) {
	return
}
func (NoopConn) Close() error {
	return nil
}
