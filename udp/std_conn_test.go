package udp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/iziemba/rxd/config"
	"github.com/iziemba/rxd/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdConn_Loopback(t *testing.T) {
	l := test.NewLogger()

	a, err := NewListener(l, "127.0.0.1", 0, 4)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewListener(l, "127.0.0.1", 0, 4)
	require.NoError(t, err)
	defer b.Close()

	aa, err := a.LocalAddr()
	require.NoError(t, err)
	ba, err := b.LocalAddr()
	require.NoError(t, err)
	assert.True(t, aa.Addr().Is4())
	assert.NotZero(t, ba.Port())

	require.NoError(t, a.WriteTo([]byte("ping"), ba))

	var got []received
	assert.Eventually(t, func() bool {
		b.Poll(func(from netip.AddrPort, p []byte) {
			got = append(got, received{from: from, data: string(p)})
		}, 8)
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []received{{from: aa, data: "ping"}}, got)
}

func TestStdConn_ReloadConfig(t *testing.T) {
	l := test.NewLogger()
	u, err := NewListener(l, "127.0.0.1", 0, 1)
	require.NoError(t, err)
	defer u.Close()

	c := config.NewC(l)
	require.NoError(t, c.LoadString("listen:\n  read_buffer: 65536\n  write_buffer: 65536\n"))
	u.ReloadConfig(c)

	s, err := u.GetRecvBuffer()
	require.NoError(t, err)
	// kernels are free to round the requested size
	assert.Positive(t, s)
}
