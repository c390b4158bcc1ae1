package rxd

// addrMatch is true when the addresses are equal or either one is AddrUnspec
func addrMatch(a, b Addr) bool {
	return a == AddrUnspec || b == AddrUnspec || a == b
}

// tagMatch is true when tag and candidate agree on every bit not set in ignore
func tagMatch(tag, ignore, candidate uint64) bool {
	return (tag^candidate)&^ignore == 0
}

// findMatch returns the first unexpected message in l that a receive for peer, tag and ignore accepts
func findMatch(l *arenaList[*unexpMsg], peer Addr, tag, ignore uint64) (int32, *unexpMsg) {
	r, ok := l.Find(func(u *unexpMsg) bool {
		if !addrMatch(peer, u.peer) {
			return false
		}
		return !u.hasTag || tagMatch(tag, ignore, u.tag)
	})
	if !ok {
		return nilRef, nil
	}
	return r, l.Get(r)
}

// findPosted returns the first posted receive in l that accepts a message from peer.
// The receive's own ignore mask applies to the message tag.
func findPosted(l *arenaList[*xEntry], peer Addr, hasTag bool, tag uint64) (int32, *xEntry) {
	r, ok := l.Find(func(e *xEntry) bool {
		if !addrMatch(e.peer, peer) {
			return false
		}
		return !hasTag || tagMatch(e.tag, e.ignore, tag)
	})
	if !ok {
		return nilRef, nil
	}
	return r, l.Get(r)
}
