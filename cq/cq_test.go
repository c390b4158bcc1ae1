package cq

import (
	"errors"
	"testing"

	"code.hybscloud.com/iox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FullGate(t *testing.T) {
	q := New("test_full", 2)
	assert.False(t, q.Full())
	assert.Equal(t, 2, q.Size())

	q.Write(Entry{Context: 1, Flags: FlagSend | FlagMsg})
	assert.False(t, q.Full())
	q.Write(Entry{Context: 2, Flags: FlagSend | FlagMsg})
	assert.True(t, q.Full())
	assert.Equal(t, 2, q.Len())

	buf := make([]Entry, 1)
	n, err := q.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, buf[0].Context)
	assert.False(t, q.Full())
	assert.Equal(t, 1, q.Len())
}

func TestQueue_OverflowKeepsOrder(t *testing.T) {
	q := New("test_overflow", 2)

	// writes past the admission size must never be lost
	for i := range 40 {
		q.Write(Entry{Context: i, Len: i})
	}
	assert.Equal(t, 40, q.Len())
	assert.Positive(t, q.Overflow())

	buf := make([]Entry, 7)
	var got []int
	for {
		n, err := q.Read(buf)
		if iox.IsWouldBlock(err) {
			break
		}
		require.NoError(t, err)
		for _, e := range buf[:n] {
			got = append(got, e.Context.(int))
		}

		// keep writing while draining
		if len(got) == 14 {
			q.Write(Entry{Context: 40})
		}
	}

	want := make([]int, 41)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Overflow())
}

func TestQueue_Errors(t *testing.T) {
	q := New("test_errors", 4)
	boom := errors.New("boom")

	_, err := q.ReadErr()
	assert.True(t, iox.IsWouldBlock(err))

	q.Write(Entry{Context: "ok"})
	q.WriteErr(ErrEntry{Entry: Entry{Context: "bad", Flags: FlagRecv}, Err: boom, OLen: 12})
	assert.Equal(t, 1, q.ErrLen())
	// error completions do not consume admission space
	assert.Equal(t, 1, q.Len())

	buf := make([]Entry, 4)
	_, err = q.Read(buf)
	assert.ErrorIs(t, err, ErrAvail)

	e, err := q.ReadErr()
	require.NoError(t, err)
	assert.Equal(t, "bad", e.Context)
	assert.ErrorIs(t, e.Err, boom)
	assert.Equal(t, 12, e.OLen)
	assert.Equal(t, "flags=recv len=0 olen=12 err=boom", e.String())

	n, err := q.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "ok", buf[0].Context)

	_, err = q.Read(buf)
	assert.True(t, iox.IsWouldBlock(err))
}

func TestFlags_String(t *testing.T) {
	assert.Equal(t, "none", Flags(0).String())
	assert.Equal(t, "recv|tagged|multi_recv", (FlagRecv | FlagTagged | FlagMultiRecv).String())
}
