package rxd

import (
	"fmt"
	"time"

	"github.com/iziemba/rxd/config"
	"github.com/iziemba/rxd/header"
	"github.com/iziemba/rxd/udp"
)

// EndpointConfig sizes the pools and tunes the reliability layer of an Endpoint
type EndpointConfig struct {
	MTU          int
	InjectSize   int
	TxSize       int
	RxSize       int
	MinMultiRecv int

	// MaxMsgSize bounds a single message, sent or announced by a peer
	MaxMsgSize int

	// Window is how many packets may be unacknowledged per peer, ReorderWindow how far ahead of
	// the next expected sequence number arrivals are held
	Window        int
	ReorderWindow int

	RetryInterval    time.Duration
	Retries          int
	ProgressInterval time.Duration

	// Batch is the most datagrams one Progress pass reads
	Batch int

	// MessageMetrics counts packets by type
	MessageMetrics bool
}

func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		MTU:              1400,
		InjectSize:       256,
		TxSize:           256,
		RxSize:           256,
		MinMultiRecv:     64,
		MaxMsgSize:       maxMsgSize,
		Window:           64,
		ReorderWindow:    128,
		RetryInterval:    100 * time.Millisecond,
		Retries:          10,
		ProgressInterval: time.Millisecond,
		Batch:            64,
	}
}

func NewEndpointConfig(c *config.C) (EndpointConfig, error) {
	d := DefaultEndpointConfig()
	cfg := EndpointConfig{
		MTU:              c.GetInt("endpoint.mtu", d.MTU),
		InjectSize:       c.GetInt("endpoint.inject_size", d.InjectSize),
		TxSize:           c.GetInt("endpoint.tx_size", d.TxSize),
		RxSize:           c.GetInt("endpoint.rx_size", d.RxSize),
		MinMultiRecv:     c.GetInt("endpoint.min_multi_recv", d.MinMultiRecv),
		MaxMsgSize:       c.GetInt("endpoint.max_msg_size", d.MaxMsgSize),
		Window:           c.GetInt("endpoint.window", d.Window),
		ReorderWindow:    c.GetInt("endpoint.reorder_window", d.ReorderWindow),
		RetryInterval:    c.GetDuration("endpoint.retry_interval", d.RetryInterval),
		Retries:          c.GetInt("endpoint.retries", d.Retries),
		ProgressInterval: c.GetDuration("endpoint.progress_interval", d.ProgressInterval),
		Batch:            c.GetInt("listen.batch", d.Batch),
		MessageMetrics:   c.GetBool("stats.message_metrics", false),
	}

	return cfg, cfg.validate()
}

// the smallest mtu that fits an op packet with every sub header and one byte of payload
const minMTU = header.Len + header.TagLen + header.SARLen + header.DataLen + 1

// maxMsgSize keeps segment arithmetic inside a 32 bit int
const maxMsgSize = 1 << 30

func (cfg EndpointConfig) validate() error {
	switch {
	case cfg.MTU < minMTU || cfg.MTU > udp.MTU:
		return fmt.Errorf("endpoint.mtu must be between %d and %d, got %d", minMTU, udp.MTU, cfg.MTU)
	case cfg.InjectSize < 0 || cfg.InjectSize > cfg.MTU-minMTU+1:
		return fmt.Errorf("endpoint.inject_size must fit in a single packet, got %d", cfg.InjectSize)
	case cfg.TxSize <= 0:
		return fmt.Errorf("endpoint.tx_size must be positive, got %d", cfg.TxSize)
	case cfg.RxSize <= 0:
		return fmt.Errorf("endpoint.rx_size must be positive, got %d", cfg.RxSize)
	case cfg.MinMultiRecv <= 0:
		return fmt.Errorf("endpoint.min_multi_recv must be positive, got %d", cfg.MinMultiRecv)
	case cfg.MaxMsgSize <= 0 || cfg.MaxMsgSize > maxMsgSize:
		return fmt.Errorf("endpoint.max_msg_size must be between 1 and %d, got %d", maxMsgSize, cfg.MaxMsgSize)
	case cfg.Window <= 0:
		return fmt.Errorf("endpoint.window must be positive, got %d", cfg.Window)
	case cfg.ReorderWindow < cfg.Window:
		return fmt.Errorf("endpoint.reorder_window must be at least endpoint.window (%d), got %d", cfg.Window, cfg.ReorderWindow)
	case cfg.RetryInterval <= 0:
		return fmt.Errorf("endpoint.retry_interval must be positive, got %s", cfg.RetryInterval)
	case cfg.Retries < 0:
		return fmt.Errorf("endpoint.retries can not be negative, got %d", cfg.Retries)
	case cfg.ProgressInterval <= 0:
		return fmt.Errorf("endpoint.progress_interval must be positive, got %s", cfg.ProgressInterval)
	case cfg.Batch <= 0:
		return fmt.Errorf("listen.batch must be positive, got %d", cfg.Batch)
	}
	return nil
}
