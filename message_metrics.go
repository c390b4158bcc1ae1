package rxd

import (
	"fmt"

	"github.com/iziemba/rxd/header"
	"github.com/rcrowley/go-metrics"
)

// MessageMetrics counts packets by header type in each direction
type MessageMetrics struct {
	rx []metrics.Counter
	tx []metrics.Counter

	rxUnknown metrics.Counter
	txUnknown metrics.Counter
}

func (m *MessageMetrics) Rx(t header.MessageType, i int64) {
	if m != nil {
		if int(t) < len(m.rx) {
			m.rx[t].Inc(i)
		} else if m.rxUnknown != nil {
			m.rxUnknown.Inc(i)
		}
	}
}

func (m *MessageMetrics) Tx(t header.MessageType, i int64) {
	if m != nil {
		if int(t) < len(m.tx) {
			m.tx[t].Inc(i)
		} else if m.txUnknown != nil {
			m.txUnknown.Inc(i)
		}
	}
}

func newMessageMetrics() *MessageMetrics {
	gen := func(t string) []metrics.Counter {
		return []metrics.Counter{
			header.RTS:  metrics.GetOrRegisterCounter(fmt.Sprintf("messages.%s.rts", t), nil),
			header.CTS:  metrics.GetOrRegisterCounter(fmt.Sprintf("messages.%s.cts", t), nil),
			header.Ack:  metrics.GetOrRegisterCounter(fmt.Sprintf("messages.%s.ack", t), nil),
			header.Op:   metrics.GetOrRegisterCounter(fmt.Sprintf("messages.%s.op", t), nil),
			header.Data: metrics.GetOrRegisterCounter(fmt.Sprintf("messages.%s.data", t), nil),
		}
	}
	return &MessageMetrics{
		rx: gen("rx"),
		tx: gen("tx"),

		rxUnknown: metrics.GetOrRegisterCounter("messages.rx.other", nil),
		txUnknown: metrics.GetOrRegisterCounter("messages.tx.other", nil),
	}
}
