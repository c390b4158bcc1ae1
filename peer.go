package rxd

import (
	"net/netip"
	"time"
)

type txPacket struct {
	seq    uint64
	buf    *[]byte
	entry  *xEntry
	sentAt time.Time
}

// peer is the sequence state for one remote address. The tx and rx directions are separate
// sessions, each opened by its own RTS/CTS exchange.
type peer struct {
	addr Addr
	ap   netip.AddrPort

	// remoteIdx is our index in the remote address vector, sent in the header of every packet to it
	remoteIdx uint32

	// tx session
	txNonce    uint64
	txReady    bool
	rtsPending bool
	txSeq      uint64
	queue      *arenaList[*xEntry]
	unacked    []txPacket
	retries    int
	timerArmed bool

	// rx session
	rxNonce  uint64
	rxKnown  bool
	window   *Window
	curRx    *xEntry
	curUnexp *unexpMsg
}

func newPeer(a Addr, ap netip.AddrPort, reorder int) *peer {
	return &peer{
		addr:   a,
		ap:     ap,
		queue:  newArenaList[*xEntry](8),
		window: NewWindow(uint64(reorder)),
	}
}

// busy is true while the peer has tx work outstanding
func (p *peer) busy() bool {
	return p.queue.Len() > 0 || len(p.unacked) > 0 || p.rtsPending
}

func (p *peer) oldestUnacked() time.Time {
	if len(p.unacked) == 0 {
		return time.Time{}
	}
	return p.unacked[0].sentAt
}
