package rxd

import (
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"github.com/iziemba/rxd/config"
	"github.com/iziemba/rxd/cq"
	"github.com/iziemba/rxd/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain_ConfigTest(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString(`
listen:
  host: 127.0.0.1
  port: 0
endpoint:
  mtu: 1200
av:
  peers:
    - 127.0.0.1:4242
  allow_list:
    127.0.0.0/8: true
`))

	ctrl, err := Main(c, true, "test", l)
	require.NoError(t, err)
	assert.Nil(t, ctrl)
}

func TestMain_InvalidConfig(t *testing.T) {
	l := test.NewLogger()

	cases := map[string]string{
		"endpoint:\n  mtu: 10\n":                      "Invalid endpoint config",
		"av:\n  peers:\n    - nowhere\n":              "Failed to load the address vector",
		"av:\n  allow_list:\n    10.0.0.0/8: maybe\n": "Failed to load the address vector",
		"cq:\n  size: 0\n":                            "cq.size must be positive",
		"logging:\n  level: loud\n":                   "Failed to configure the logger",
		"stats:\n  type: statsd\n  interval: 1s\n":    "Failed to start stats emitter",
	}

	for raw, want := range cases {
		c := config.NewC(l)
		require.NoError(t, c.LoadString(raw))
		_, err := Main(c, true, "test", l)
		assert.ErrorContains(t, err, want, raw)
	}
}

func newLoopback(t *testing.T, peers ...string) *Control {
	l := test.NewLogger()
	c := config.NewC(l)
	c.Settings["listen"] = map[string]any{"host": "127.0.0.1", "port": 0}
	c.Settings["endpoint"] = map[string]any{"retry_interval": "20ms"}
	if len(peers) > 0 {
		p := make([]any, len(peers))
		for i := range peers {
			p[i] = peers[i]
		}
		c.Settings["av"] = map[string]any{"peers": p}
	}

	ctrl, err := Main(c, false, "test", l)
	require.NoError(t, err)
	require.NotNil(t, ctrl)
	return ctrl
}

func TestMain_Loopback(t *testing.T) {
	server := newLoopback(t)
	sa, err := server.LocalAddr()
	require.NoError(t, err)
	assert.True(t, sa.Addr().IsLoopback())
	assert.NotZero(t, sa.Port())

	client := newLoopback(t, sa.String())
	ca, err := client.LocalAddr()
	require.NoError(t, err)

	server.Start()
	client.Start()
	defer client.Stop()
	defer server.Stop()

	buf := make([]byte, 64)
	require.NoError(t, server.Endpoint().Recv(buf, AddrUnspec, "srv"))
	require.NoError(t, client.Endpoint().Send([]byte("over udp"), 0, "cli"))

	var rx cq.Entry
	require.Eventually(t, func() bool {
		ents := make([]cq.Entry, 1)
		n, err := server.Endpoint().RxCQ().Read(ents)
		if iox.IsWouldBlock(err) || n == 0 {
			return false
		}
		rx = ents[0]
		return true
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, "srv", rx.Context)
	assert.Equal(t, "over udp", string(buf[:rx.Len]))

	// the server learned the client from its handshake
	ap, ok := server.Endpoint().AddressVector().Lookup(Addr(rx.Src))
	assert.True(t, ok)
	assert.Equal(t, ca, ap)

	require.Eventually(t, func() bool {
		return client.Endpoint().TxCQ().Len() == 1
	}, 5*time.Second, 5*time.Millisecond)

	peers := server.ListPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, ca, peers[0].UDPAddr)
	assert.Equal(t, uint64(1), peers[0].RxNext)
	assert.False(t, peers[0].TxReady)

	peers = client.ListPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, sa, peers[0].UDPAddr)
	assert.True(t, peers[0].TxReady)
	assert.Equal(t, uint64(1), peers[0].TxSeq)
}
