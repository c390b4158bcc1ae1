package rxd

import (
	"testing"

	"github.com/iziemba/rxd/header"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
)

func TestMessageMetrics(t *testing.T) {
	mm := newMessageMetrics()
	ack := metrics.GetOrRegisterCounter("messages.tx.ack", nil)
	other := metrics.GetOrRegisterCounter("messages.rx.other", nil)

	before := ack.Count()
	mm.Tx(header.Ack, 2)
	assert.Equal(t, before+2, ack.Count())

	before = other.Count()
	mm.Rx(header.MessageType(12), 1)
	assert.Equal(t, before+1, other.Count())

	// a nil set is a no-op
	var none *MessageMetrics
	none.Rx(header.Op, 1)
	none.Tx(header.Op, 1)
}
