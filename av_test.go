package rxd

import (
	"net/netip"
	"testing"

	"github.com/iziemba/rxd/config"
	"github.com/iziemba/rxd/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressVector_Insert(t *testing.T) {
	av := NewAddressVector(test.NewLogger())
	ap1 := netip.MustParseAddrPort("10.0.0.1:4242")
	ap2 := netip.MustParseAddrPort("[::ffff:10.0.0.2]:4242")

	a, err := av.Insert(ap1)
	require.NoError(t, err)
	assert.Equal(t, Addr(0), a)

	// inserting again is idempotent
	a, err = av.Insert(ap1)
	require.NoError(t, err)
	assert.Equal(t, Addr(0), a)

	// mapped v4 addresses are stored unmapped
	b, err := av.Insert(ap2)
	require.NoError(t, err)
	assert.Equal(t, Addr(1), b)
	got, ok := av.Lookup(b)
	assert.True(t, ok)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.2:4242"), got)

	r, ok := av.Reverse(ap2)
	assert.True(t, ok)
	assert.Equal(t, b, r)

	assert.Equal(t, 2, av.Len())
	assert.Equal(t, []Addr{0, 1}, av.Addrs())

	assert.True(t, av.Remove(a))
	assert.False(t, av.Remove(a))
	_, ok = av.Lookup(a)
	assert.False(t, ok)

	// addresses are not reused
	a, err = av.Insert(ap1)
	require.NoError(t, err)
	assert.Equal(t, Addr(2), a)

	av.next = Addr(1) << 32
	_, err = av.Insert(netip.MustParseAddrPort("10.0.0.3:1"))
	assert.ErrorIs(t, err, ErrAddressVectorFull)
}

func TestAddressVector_InsertIfAllowed(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	c.Settings["av"] = map[string]any{
		"allow_list": map[string]any{"10.0.0.0/8": true},
	}

	av, err := NewAddressVectorFromConfig(l, c)
	require.NoError(t, err)

	a, ok := av.InsertIfAllowed(netip.MustParseAddrPort("10.1.2.3:9"))
	assert.True(t, ok)
	assert.Equal(t, Addr(0), a)

	_, ok = av.InsertIfAllowed(netip.MustParseAddrPort("192.168.0.1:9"))
	assert.False(t, ok)
	assert.Equal(t, 1, av.Len())

	// a reload that opens up the list is picked up
	require.NoError(t, c.ReloadConfigString("av:\n  allow_list:\n    0.0.0.0/0: true\n"))
	a, ok = av.InsertIfAllowed(netip.MustParseAddrPort("192.168.0.1:9"))
	assert.True(t, ok)
	assert.Equal(t, Addr(1), a)
}

func TestNewAddressVectorFromConfig_Peers(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	c.Settings["av"] = map[string]any{
		"peers": []any{"127.0.0.1:4242", "[::1]:4243", "localhost:4244"},
	}

	av, err := NewAddressVectorFromConfig(l, c)
	require.NoError(t, err)
	assert.Equal(t, 3, av.Len())

	ap, ok := av.Lookup(0)
	assert.True(t, ok)
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:4242"), ap)

	ap, ok = av.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, netip.MustParseAddrPort("[::1]:4243"), ap)

	c.Settings["av"] = map[string]any{"peers": []any{"not an address"}}
	_, err = NewAddressVectorFromConfig(l, c)
	assert.Error(t, err)
}

func TestNewAllowListFromConfig(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)

	al, err := NewAllowListFromConfig(c, "allowlist")
	require.NoError(t, err)
	assert.Nil(t, al)
	assert.True(t, al.Allow(netip.MustParseAddr("1.1.1.1")))

	c.Settings["allowlist"] = "10.0.0.0/8"
	_, err = NewAllowListFromConfig(c, "allowlist")
	assert.EqualError(t, err, "config `allowlist` has invalid type: string")

	c.Settings["allowlist"] = map[string]any{"10.0.0.0/33": true}
	_, err = NewAllowListFromConfig(c, "allowlist")
	assert.ErrorContains(t, err, "config `allowlist` has invalid CIDR: 10.0.0.0/33")

	c.Settings["allowlist"] = map[string]any{"10.0.0.0/8": "maybe"}
	_, err = NewAllowListFromConfig(c, "allowlist")
	assert.EqualError(t, err, "config `allowlist` has invalid value (type string): maybe")

	// only denies, everything else is allowed
	c.Settings["allowlist"] = map[string]any{"10.0.0.0/8": false, "10.42.0.0/16": "no"}
	al, err = NewAllowListFromConfig(c, "allowlist")
	require.NoError(t, err)
	assert.False(t, al.Allow(netip.MustParseAddr("10.1.1.1")))
	assert.True(t, al.Allow(netip.MustParseAddr("192.168.1.1")))
	assert.True(t, al.Allow(netip.MustParseAddr("fd00::1")))

	// any allow flips the default
	c.Settings["allowlist"] = map[string]any{"10.0.0.0/8": true, "10.42.0.0/16": false}
	al, err = NewAllowListFromConfig(c, "allowlist")
	require.NoError(t, err)
	assert.True(t, al.Allow(netip.MustParseAddr("10.1.1.1")))
	assert.True(t, al.Allow(netip.MustParseAddr("::ffff:10.1.1.1")))
	assert.False(t, al.Allow(netip.MustParseAddr("10.42.1.1")))
	assert.False(t, al.Allow(netip.MustParseAddr("192.168.1.1")))

	// explicit defaults win
	c.Settings["allowlist"] = map[string]any{"10.0.0.0/8": true, "0.0.0.0/0": true, "::/0": false}
	al, err = NewAllowListFromConfig(c, "allowlist")
	require.NoError(t, err)
	assert.True(t, al.Allow(netip.MustParseAddr("192.168.1.1")))
	assert.False(t, al.Allow(netip.MustParseAddr("fd00::1")))
}
