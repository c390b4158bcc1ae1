package rxd

import (
	"testing"

	"github.com/iziemba/rxd/header"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryPool(t *testing.T) {
	p := newEntryPool(kindRx, 2)
	assert.Equal(t, 2, p.Avail())

	a := p.Get()
	require.NotNil(t, a)
	assert.Equal(t, int32(0), a.slot)
	assert.Equal(t, kindRx, a.kind)
	assert.Equal(t, nilRef, a.ref)

	b := p.Get()
	require.NotNil(t, b)
	assert.Equal(t, int32(1), b.slot)
	assert.Nil(t, p.Get())
	assert.Equal(t, 2, p.InUse())

	a.tag = 0xff
	a.setIOV([][]byte{make([]byte, 3), make([]byte, 5)})
	assert.Equal(t, 8, a.capacity())
	p.Put(a)
	assert.Equal(t, 1, p.Avail())
	assert.Panics(t, func() { p.Put(a) })

	// entries come back clean
	a = p.Get()
	assert.Equal(t, uint64(0), a.tag)
	assert.Equal(t, 0, a.capacity())

	other := newEntryPool(kindTx, 2)
	assert.Panics(t, func() { other.Put(a) })
}

func TestEntry_String(t *testing.T) {
	p := newEntryPool(kindTx, 1)
	e := p.Get()
	e.op = header.OpTagged
	e.peer = 3
	e.tag = 0x10
	e.total = 20
	e.done = 5
	e.state = stateProgressing
	assert.Equal(t, "slot=0 op=tagged state=progressing peer=3 tag=0x10 done=5/20", e.String())
	assert.Equal(t, "unknown", entryState(9).String())
}
