package rxd

import (
	"context"
	"net/netip"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/iziemba/rxd/udp"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/errgroup"
)

// Every interaction here needs to take extra care to copy memory and not return or use arguments "as is" when touching
// core. This means copying slices, de-referencing pointers and taking the actual value, etc

type Control struct {
	ep         *Endpoint
	conn       udp.Conn
	l          *logrus.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	statsStart func()
	interval   time.Duration
	eg         *errgroup.Group
}

type ControlPeerInfo struct {
	Addr        Addr           `json:"addr"`
	UDPAddr     netip.AddrPort `json:"udpAddr"`
	RemoteIndex uint32         `json:"remoteIndex"`
	TxReady     bool           `json:"txReady"`
	TxSeq       uint64         `json:"txSeq"`
	RxNext      uint64         `json:"rxNext"`
	TxQueued    int            `json:"txQueued"`
	Unacked     int            `json:"unacked"`
	Held        int            `json:"held"`
}

// Start runs the progress loop, this is a nonblocking call. To block use Control.ShutdownBlock()
func (c *Control) Start() {
	if c.statsStart != nil {
		go c.statsStart()
	}

	eg, ctx := errgroup.WithContext(c.ctx)
	c.eg = eg
	eg.Go(func() error {
		c.run(ctx)
		return nil
	})
}

func (c *Control) run(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.ep.Progress()
		}
	}
}

// Stop signals the progress loop to exit and closes the endpoint, returns after the shutdown is complete
func (c *Control) Stop() {
	c.cancel()
	if c.eg != nil {
		if err := c.eg.Wait(); err != nil {
			c.l.WithError(err).Error("Progress loop failed")
		}
	}

	if err := c.ep.Close(); err != nil {
		c.l.WithError(err).Error("Close endpoint failed")
	}
	if err := c.conn.Close(); err != nil {
		c.l.WithError(err).Error("Close udp listener failed")
	}
	c.l.Info("Goodbye")
}

// ShutdownBlock will listen for and block on term and interrupt signals, calling Control.Stop() once signalled
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	rawSig := <-sigChan
	sig := rawSig.String()
	c.l.WithField("signal", sig).Info("Caught signal, shutting down")
	c.Stop()
}

func (c *Control) Endpoint() *Endpoint {
	return c.ep
}

// ListPeers returns the sequence state of every peer, ordered by address
func (c *Control) ListPeers() []ControlPeerInfo {
	return c.ep.listPeers()
}

func (ep *Endpoint) listPeers() []ControlPeerInfo {
	ep.lock.Lock()
	defer ep.lock.Unlock()

	addrs := maps.Keys(ep.peers)
	slices.Sort(addrs)

	r := make([]ControlPeerInfo, len(addrs))
	for i, a := range addrs {
		p := ep.peers[a]
		r[i] = ControlPeerInfo{
			Addr:        p.addr,
			UDPAddr:     p.ap,
			RemoteIndex: p.remoteIdx,
			TxReady:     p.txReady,
			TxSeq:       p.txSeq,
			RxNext:      p.window.Next(),
			TxQueued:    p.queue.Len(),
			Unacked:     len(p.unacked),
			Held:        p.window.Held(),
		}
	}
	return r
}
