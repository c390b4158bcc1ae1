package rxd

import (
	"testing"
	"time"

	"github.com/iziemba/rxd/config"
	"github.com/iziemba/rxd/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEndpointConfig(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)

	cfg, err := NewEndpointConfig(c)
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpointConfig(), cfg)

	require.NoError(t, c.LoadString(`
endpoint:
  mtu: 512
  inject_size: 64
  tx_size: 8
  rx_size: 16
  window: 4
  reorder_window: 8
  retry_interval: 20ms
  retries: 3
  min_multi_recv: 1
  max_msg_size: 4096
listen:
  batch: 16
stats:
  message_metrics: true
`))
	cfg, err = NewEndpointConfig(c)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.MTU)
	assert.Equal(t, 64, cfg.InjectSize)
	assert.Equal(t, 8, cfg.TxSize)
	assert.Equal(t, 16, cfg.RxSize)
	assert.Equal(t, 4, cfg.Window)
	assert.Equal(t, 8, cfg.ReorderWindow)
	assert.Equal(t, 20*time.Millisecond, cfg.RetryInterval)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 1, cfg.MinMultiRecv)
	assert.Equal(t, 4096, cfg.MaxMsgSize)
	assert.Equal(t, 16, cfg.Batch)
	assert.True(t, cfg.MessageMetrics)
}

func TestEndpointConfig_Validate(t *testing.T) {
	assert.Equal(t, 45, minMTU)

	cases := map[string]func(*EndpointConfig){
		"endpoint.mtu must be between":         func(c *EndpointConfig) { c.MTU = minMTU - 1 },
		"endpoint.inject_size must fit":        func(c *EndpointConfig) { c.InjectSize = c.MTU },
		"endpoint.tx_size must be positive":    func(c *EndpointConfig) { c.TxSize = 0 },
		"endpoint.rx_size must be positive":    func(c *EndpointConfig) { c.RxSize = 0 },
		"endpoint.min_multi_recv must be":      func(c *EndpointConfig) { c.MinMultiRecv = 0 },
		"endpoint.max_msg_size must be":        func(c *EndpointConfig) { c.MaxMsgSize = maxMsgSize + 1 },
		"endpoint.window must be positive":     func(c *EndpointConfig) { c.Window = 0 },
		"endpoint.reorder_window must be":      func(c *EndpointConfig) { c.ReorderWindow = c.Window - 1 },
		"endpoint.retry_interval must be":      func(c *EndpointConfig) { c.RetryInterval = 0 },
		"endpoint.retries can not be negative": func(c *EndpointConfig) { c.Retries = -1 },
		"endpoint.progress_interval must be":   func(c *EndpointConfig) { c.ProgressInterval = 0 },
		"listen.batch must be positive":        func(c *EndpointConfig) { c.Batch = 0 },
	}

	for want, f := range cases {
		cfg := DefaultEndpointConfig()
		f(&cfg)
		assert.ErrorContains(t, cfg.validate(), want)
	}

	cfg := DefaultEndpointConfig()
	cfg.MTU = minMTU
	cfg.InjectSize = 1
	assert.NoError(t, cfg.validate())

	cfg.MinMultiRecv = -1
	_, err := NewEndpoint(test.NewLogger(), cfg, nil, nil, nil, nil)
	assert.ErrorContains(t, err, "endpoint.min_multi_recv must be positive")
}
