package rxd

import (
	"fmt"

	"github.com/iziemba/rxd/header"
)

type entryKind uint8

const (
	kindTx entryKind = iota
	kindRx
)

type entryState uint8

const (
	statePending entryState = iota
	stateProgressing
	stateComplete
	stateCanceled
)

var stateNames = [...]string{"pending", "progressing", "complete", "canceled"}

func (s entryState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// xEntry is one send or receive in flight
type xEntry struct {
	slot  int32
	kind  entryKind
	state entryState
	op    header.OpCode
	flags Flags

	iov    [IOVLimit][]byte
	iovCnt int

	peer    Addr
	tag     uint64
	ignore  uint64
	data    uint64
	context any

	// total is what the operation will move, done what has moved so far. done never exceeds total.
	total int
	done  int

	// receive side
	ref     int32
	numSegs uint32
	segs    uint32
	hasData bool
	// region is the consumed slice of a multi-recv buffer, release marks the last one
	region  []byte
	release bool
	claimed bool

	// send side
	sent   uint32
	acked  uint32
	inject []byte
}

func (e *xEntry) buffers() [][]byte {
	return e.iov[:e.iovCnt]
}

func (e *xEntry) capacity() int {
	return iovLen(e.buffers())
}

func (e *xEntry) setIOV(iov [][]byte) {
	e.iovCnt = copy(e.iov[:], iov)
}

func (e *xEntry) String() string {
	return fmt.Sprintf("slot=%d op=%s state=%s peer=%d tag=%#x done=%d/%d", e.slot, header.OpName(e.op), e.state, e.peer, e.tag, e.done, e.total)
}

// entryPool is a fixed set of entries, exhaustion is reported as a nil Get
type entryPool struct {
	kind    entryKind
	entries []xEntry
	busy    []bool
	free    []int32
}

func newEntryPool(kind entryKind, size int) *entryPool {
	p := &entryPool{
		kind:    kind,
		entries: make([]xEntry, size),
		busy:    make([]bool, size),
		free:    make([]int32, size),
	}
	// hand out low slots first
	for i := range p.free {
		p.free[i] = int32(size - 1 - i)
	}
	return p
}

func (p *entryPool) Get() *xEntry {
	if len(p.free) == 0 {
		return nil
	}
	i := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	p.busy[i] = true
	e := &p.entries[i]
	*e = xEntry{slot: i, kind: p.kind, ref: nilRef}
	return e
}

func (p *entryPool) Put(e *xEntry) {
	if &p.entries[e.slot] != e || e.kind != p.kind {
		panic("entryPool: entry does not belong to this pool")
	}
	if !p.busy[e.slot] {
		panic("entryPool: double free")
	}
	p.busy[e.slot] = false
	*e = xEntry{slot: e.slot, kind: p.kind, ref: nilRef}
	p.free = append(p.free, e.slot)
}

func (p *entryPool) Avail() int {
	return len(p.free)
}

func (p *entryPool) InUse() int {
	return len(p.entries) - len(p.free)
}
