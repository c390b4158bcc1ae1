package rxd

import (
	"context"
	"net/netip"

	"github.com/iziemba/rxd/config"
	"github.com/iziemba/rxd/cq"
	"github.com/iziemba/rxd/udp"
	"github.com/iziemba/rxd/util"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

// Main builds an endpoint from c: the udp listener, address vector, completion queues and stats.
// With configTest set nothing touches the network and the returned Control must not be started.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger) (*Control, error) {
	ctx, cancel := context.WithCancel(context.Background())
	// Automatically cancel the context if Main returns an error, to signal all created goroutines to quit.
	defer func() {
		if cancel != nil {
			cancel()
		}
	}()

	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	// Print the config if in test, the exit comes later
	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			return nil, err
		}

		// Print the final config
		l.Println(string(b))
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to configure the logger", err)
	}

	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	epConfig, err := NewEndpointConfig(c)
	if err != nil {
		return nil, util.NewContextualError("Invalid endpoint config", nil, err)
	}

	av, err := NewAddressVectorFromConfig(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to load the address vector", nil, err)
	}
	l.WithField("peers", av.Len()).Debug("Address vector loaded")

	cqSize := c.GetInt("cq.size", 1024)
	if cqSize <= 0 {
		return nil, util.NewContextualError("cq.size must be positive", m{"cq.size": cqSize}, nil)
	}

	////////////////////////////////////////////////////////////////////////////////////////////////////////////////////
	// All non system modifying configuration consumption should live above this line
	// listeners, anything modifying the computer should be below
	////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

	var conn udp.Conn = udp.NoopConn{}
	if !configTest {
		c.CatchHUP(ctx)

		uc, err := udp.NewListener(l, c.GetString("listen.host", "0.0.0.0"), c.GetInt("listen.port", 0), epConfig.Batch)
		if err != nil {
			return nil, util.NewContextualError("Failed to open udp listener", m{"host": c.GetString("listen.host", "0.0.0.0")}, err)
		}
		uc.ReloadConfig(c)
		c.RegisterReloadCallback(uc.ReloadConfig)
		conn = uc

		la, err := uc.LocalAddr()
		if err != nil {
			uc.Close()
			return nil, util.NewContextualError("Failed to get listening address", nil, err)
		}
		l.WithField("udpAddr", la).Info("Listening")
	}

	ep, err := NewEndpoint(l, epConfig, conn, av, cq.New("tx", cqSize), cq.New("rx", cqSize))
	if err != nil {
		conn.Close()
		return nil, util.NewContextualError("Failed to create endpoint", nil, err)
	}

	statsStart, err := startStats(l, c, buildVersion, configTest)
	if err != nil {
		conn.Close()
		return nil, util.ContextualizeIfNeeded("Failed to start stats emitter", err)
	}

	if configTest {
		return nil, nil
	}

	l.WithField("endpoint", m{"mtu": epConfig.MTU, "window": epConfig.Window, "cq": cqSize}).Info("Endpoint created")

	ctrl := &Control{
		ep:         ep,
		conn:       conn,
		l:          l,
		ctx:        ctx,
		cancel:     cancel,
		statsStart: statsStart,
		interval:   epConfig.ProgressInterval,
	}
	// the Control owns the context now
	cancel = nil
	return ctrl, nil
}

// LocalAddr returns the address the endpoint is reachable on
func (c *Control) LocalAddr() (netip.AddrPort, error) {
	return c.conn.LocalAddr()
}
