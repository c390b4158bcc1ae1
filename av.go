package rxd

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"
	"slices"
	"sync"

	"github.com/gaissmai/bart"
	"github.com/iziemba/rxd/config"
	"github.com/sirupsen/logrus"
)

var ErrAddressVectorFull = errors.New("address vector is full")

// AddressVector maps logical addresses to transport addresses. An Addr doubles as the
// index a peer puts in the header of packets it sends to us, so it must fit in 32 bits.
type AddressVector struct {
	sync.RWMutex
	byAddr map[Addr]netip.AddrPort
	byAP   map[netip.AddrPort]Addr
	next   Addr
	allow  *AllowList
	l      *logrus.Logger
}

func NewAddressVector(l *logrus.Logger) *AddressVector {
	return &AddressVector{
		byAddr: make(map[Addr]netip.AddrPort),
		byAP:   make(map[netip.AddrPort]Addr),
		l:      l,
	}
}

// NewAddressVectorFromConfig inserts av.peers and loads av.allow_list
func NewAddressVectorFromConfig(l *logrus.Logger, c *config.C) (*AddressVector, error) {
	av := NewAddressVector(l)
	if err := av.reload(c, true); err != nil {
		return nil, err
	}

	for _, p := range c.GetStringSlice("av.peers", nil) {
		ap, err := resolveAddrPort(p)
		if err != nil {
			return nil, fmt.Errorf("av.peers has an invalid entry %q: %w", p, err)
		}
		a, err := av.Insert(ap)
		if err != nil {
			return nil, err
		}
		l.WithField("addr", a).WithField("udpAddr", ap).Debug("Inserted static peer")
	}

	c.RegisterReloadCallback(func(c *config.C) {
		if err := av.reload(c, false); err != nil {
			l.WithError(err).Error("Failed to reload the address vector")
		}
	})

	return av, nil
}

func (av *AddressVector) reload(c *config.C, initial bool) error {
	if !initial && !c.HasChanged("av.allow_list") {
		return nil
	}

	al, err := NewAllowListFromConfig(c, "av.allow_list")
	if err != nil {
		return err
	}

	av.Lock()
	av.allow = al
	av.Unlock()

	if !initial {
		av.l.Info("av.allow_list has changed")
	}
	return nil
}

func resolveAddrPort(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}

	ua, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return netip.AddrPort{}, err
	}
	ap := ua.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// Insert returns the logical address for ap, allocating one if ap is new
func (av *AddressVector) Insert(ap netip.AddrPort) (Addr, error) {
	av.Lock()
	defer av.Unlock()
	return av.insert(ap)
}

func (av *AddressVector) insert(ap netip.AddrPort) (Addr, error) {
	ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	if a, ok := av.byAP[ap]; ok {
		return a, nil
	}

	if av.next > math.MaxUint32 {
		return AddrUnspec, ErrAddressVectorFull
	}

	a := av.next
	av.next++
	av.byAddr[a] = ap
	av.byAP[ap] = a
	return a, nil
}

// InsertIfAllowed inserts a source we have not seen before when the allow list permits it
func (av *AddressVector) InsertIfAllowed(ap netip.AddrPort) (Addr, bool) {
	ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	av.Lock()
	defer av.Unlock()

	if a, ok := av.byAP[ap]; ok {
		return a, true
	}

	if !av.allow.Allow(ap.Addr()) {
		return AddrUnspec, false
	}

	a, err := av.insert(ap)
	if err != nil {
		av.l.WithError(err).WithField("udpAddr", ap).Error("Failed to insert peer")
		return AddrUnspec, false
	}
	return a, true
}

func (av *AddressVector) Lookup(a Addr) (netip.AddrPort, bool) {
	av.RLock()
	defer av.RUnlock()
	ap, ok := av.byAddr[a]
	return ap, ok
}

func (av *AddressVector) Reverse(ap netip.AddrPort) (Addr, bool) {
	av.RLock()
	defer av.RUnlock()
	a, ok := av.byAP[netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())]
	return a, ok
}

// Remove forgets a. Logical addresses are never reused. An endpoint still holding a session with a
// keeps it until Endpoint.RemoveAddr is used instead.
func (av *AddressVector) Remove(a Addr) bool {
	av.Lock()
	defer av.Unlock()
	ap, ok := av.byAddr[a]
	if !ok {
		return false
	}
	delete(av.byAddr, a)
	delete(av.byAP, ap)
	return true
}

func (av *AddressVector) Len() int {
	av.RLock()
	defer av.RUnlock()
	return len(av.byAddr)
}

// Addrs returns every logical address in ascending order
func (av *AddressVector) Addrs() []Addr {
	av.RLock()
	r := make([]Addr, 0, len(av.byAddr))
	for a := range av.byAddr {
		r = append(r, a)
	}
	av.RUnlock()

	slices.Sort(r)
	return r
}

// AllowList decides which unknown sources may open a session with us
type AllowList struct {
	// The values of this table are `bool`, signifying allow/deny
	cidrTree *bart.Table[bool]
}

// NewAllowListFromConfig reads a map of cidr to bool. When every rule denies, anything unlisted is allowed,
// otherwise anything unlisted is denied. A missing key allows everything.
func NewAllowListFromConfig(c *config.C, k string) (*AllowList, error) {
	r := c.Get(k)
	if r == nil {
		return nil, nil
	}

	rawMap, ok := r.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config `%s` has invalid type: %T", k, r)
	}

	tree := new(bart.Table[bool])
	allValuesFalse := true
	var default4, default6 *bool

	for rawCIDR, rawValue := range rawMap {
		prefix, err := netip.ParsePrefix(rawCIDR)
		if err != nil {
			return nil, fmt.Errorf("config `%s` has invalid CIDR: %s. %w", k, rawCIDR, err)
		}

		value, ok := config.AsBool(rawValue)
		if !ok {
			return nil, fmt.Errorf("config `%s` has invalid value (type %T): %v", k, rawValue, rawValue)
		}

		prefix = prefix.Masked()
		if value {
			allValuesFalse = false
		}
		if prefix.Bits() == 0 {
			if prefix.Addr().Is4() {
				default4 = &value
			} else {
				default6 = &value
			}
		}

		tree.Insert(prefix, value)
	}

	if default4 == nil {
		tree.Insert(netip.MustParsePrefix("0.0.0.0/0"), allValuesFalse)
	}
	if default6 == nil {
		tree.Insert(netip.MustParsePrefix("::/0"), allValuesFalse)
	}

	return &AllowList{cidrTree: tree}, nil
}

func (al *AllowList) Allow(ip netip.Addr) bool {
	if al == nil {
		return true
	}

	v, ok := al.cidrTree.Lookup(ip.Unmap())
	if !ok {
		return false
	}
	return v
}
