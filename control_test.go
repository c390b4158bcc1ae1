package rxd

import (
	"context"
	"encoding/json"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControl_ListPeers(t *testing.T) {
	tp := newTestPair(t, smallMTU())
	ctrl := &Control{ep: tp.a, conn: tp.aConn, l: tp.a.l}
	assert.Empty(t, ctrl.ListPeers())

	require.NoError(t, tp.b.Recv(make([]byte, 300), 0, nil))
	require.NoError(t, tp.a.Send(payload(300, 1), 0, nil))
	tp.read(t, tp.a.TxCQ(), 1)

	peers := ctrl.ListPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, ControlPeerInfo{
		Addr:    0,
		UDPAddr: tp.bConn.Addr,
		TxReady: true,
		TxSeq:   3,
	}, peers[0])

	b, err := json.Marshal(peers[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"addr":0,"udpAddr":"`+tp.bConn.Addr.String()+`","remoteIndex":0,"txReady":true,"txSeq":3,"rxNext":0,"txQueued":0,"unacked":0,"held":0}`, string(b))

	// peers come back ordered by address
	for _, s := range []string{"127.0.0.1:9", "127.0.0.1:8"} {
		a, err := tp.a.AddressVector().Insert(netip.MustParseAddrPort(s))
		require.NoError(t, err)
		require.NoError(t, tp.a.Send(nil, a, nil))
	}
	peers = ctrl.ListPeers()
	require.Len(t, peers, 3)
	for i, p := range peers {
		assert.Equal(t, Addr(i), p.Addr)
	}
	assert.Equal(t, 1, peers[2].TxQueued)

	ap, err := ctrl.LocalAddr()
	require.NoError(t, err)
	assert.Equal(t, tp.aConn.Addr, ap)
	assert.Same(t, tp.a, ctrl.Endpoint())
}

func TestControl_StartStop(t *testing.T) {
	tp := newTestPair(t, DefaultEndpointConfig())
	ctrl := &Control{ep: tp.b, conn: tp.bConn, l: tp.b.l, interval: tp.b.cfg.ProgressInterval}
	ctrl.ctx, ctrl.cancel = context.WithCancel(context.Background())

	ctrl.Start()
	require.NoError(t, tp.b.Recv(make([]byte, 8), 0, nil))
	require.NoError(t, tp.a.Send([]byte("tick"), 0, nil))

	// only a is progressed here, the control loop drives b
	require.Eventually(t, func() bool {
		tp.a.Progress()
		return tp.a.TxCQ().Len() == 1 && tp.b.RxCQ().Len() == 1
	}, 5*time.Second, time.Millisecond)

	ctrl.Stop()
	assert.ErrorIs(t, tp.b.Recv(nil, 0, nil), ErrClosed)
	assert.Error(t, tp.bConn.WriteTo([]byte("x"), tp.aConn.Addr))
}
