package rxd

import (
	"math/rand/v2"
	"testing"

	"github.com/iziemba/rxd/header"
	"github.com/stretchr/testify/assert"
)

func TestAddrMatch(t *testing.T) {
	assert.True(t, addrMatch(1, 1))
	assert.False(t, addrMatch(1, 2))
	assert.True(t, addrMatch(AddrUnspec, 2))
	assert.True(t, addrMatch(2, AddrUnspec))
}

func TestTagMatch(t *testing.T) {
	assert.True(t, tagMatch(0x1234, 0, 0x1234))
	assert.False(t, tagMatch(0x1234, 0, 0x1235))
	assert.True(t, tagMatch(0x1234, 0xff, 0x12aa))
	assert.False(t, tagMatch(0x1234, 0xff, 0x13aa))
	assert.True(t, tagMatch(0, ^uint64(0), 0xdeadbeef))
}

func TestTagMatch_Algebra(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 10_000 {
		tag, ignore, cand := r.Uint64(), r.Uint64(), r.Uint64()
		want := tag|ignore == cand|ignore
		assert.Equal(t, want, tagMatch(tag, ignore, cand), "tag=%#x ignore=%#x cand=%#x", tag, ignore, cand)
		// matching is symmetric in tag and candidate
		assert.Equal(t, tagMatch(tag, ignore, cand), tagMatch(cand, ignore, tag))
		// a candidate always matches itself
		assert.True(t, tagMatch(cand, ignore, cand))
	}
}

func FuzzTagMatch(f *testing.F) {
	f.Add(uint64(0x1234), uint64(0xff), uint64(0x12aa))
	f.Fuzz(func(t *testing.T, tag, ignore, cand uint64) {
		got := tagMatch(tag, ignore, cand)
		if got != (tag&^ignore == cand&^ignore) {
			t.Fatalf("tagMatch(%#x, %#x, %#x) = %v", tag, ignore, cand, got)
		}
	})
}

func TestFindMatch(t *testing.T) {
	l := newArenaList[*unexpMsg](0)
	r, u := findMatch(l, AddrUnspec, 0, 0)
	assert.Equal(t, nilRef, r)
	assert.Nil(t, u)

	u1 := &unexpMsg{peer: 1, op: header.OpTagged, hasTag: true, tag: 0x10}
	u2 := &unexpMsg{peer: 2, op: header.OpTagged, hasTag: true, tag: 0x20}
	u3 := &unexpMsg{peer: 2, op: header.OpTagged, hasTag: true, tag: 0x10}
	for _, u := range []*unexpMsg{u1, u2, u3} {
		u.ref = l.PushBack(u)
	}

	// first in arrival order wins
	_, u = findMatch(l, AddrUnspec, 0x10, 0)
	assert.Same(t, u1, u)
	_, u = findMatch(l, 2, 0x10, 0)
	assert.Same(t, u3, u)
	_, u = findMatch(l, 2, 0, 0xff)
	assert.Same(t, u2, u)
	_, u = findMatch(l, 3, 0x10, 0)
	assert.Nil(t, u)

	// untagged messages match any receive from the right peer
	m := newArenaList[*unexpMsg](0)
	m.PushBack(&unexpMsg{peer: 4})
	r, u = findMatch(m, 4, 0x99, 0)
	assert.NotEqual(t, nilRef, r)
	assert.Equal(t, Addr(4), u.peer)
}

func TestFindPosted(t *testing.T) {
	p := newEntryPool(kindRx, 4)
	l := newArenaList[*xEntry](0)

	wild := p.Get()
	wild.peer = AddrUnspec
	wild.tag = 0x100
	wild.ignore = 0xff
	exact := p.Get()
	exact.peer = 5
	exact.tag = 0x42
	wild.ref = l.PushBack(wild)
	exact.ref = l.PushBack(exact)

	_, e := findPosted(l, 5, true, 0x42)
	assert.Same(t, exact, e)
	_, e = findPosted(l, 5, true, 0x1aa)
	assert.Same(t, wild, e)
	_, e = findPosted(l, 6, true, 0x42)
	assert.Nil(t, e)

	// without a tag the first receive from a matching peer is taken
	_, e = findPosted(l, 5, false, 0)
	assert.Same(t, wild, e)
}

func TestUnexpRegistry(t *testing.T) {
	r := newUnexpRegistry(0)
	a := &unexpMsg{peer: 1, op: header.OpMsg}
	b := &unexpMsg{peer: 1, op: header.OpTagged, hasTag: true, tag: 7}
	r.add(a)
	r.add(b)
	assert.Equal(t, 2, r.Len())

	assert.Same(t, b, r.find(header.OpTagged, 1, 7, 0))
	assert.Nil(t, r.find(header.OpTagged, 1, 8, 0))
	assert.Same(t, a, r.find(header.OpMsg, AddrUnspec, 0, 0))

	var seen []*unexpMsg
	r.each(func(u *unexpMsg) { seen = append(seen, u) })
	assert.Equal(t, []*unexpMsg{a, b}, seen)

	r.remove(a)
	r.remove(a)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, nilRef, a.ref)
	assert.Nil(t, r.find(header.OpMsg, AddrUnspec, 0, 0))
}
