package main

import (
	"errors"

	"code.hybscloud.com/iox"
	"github.com/iziemba/rxd"
	"github.com/iziemba/rxd/cq"
	"github.com/sirupsen/logrus"
)

const echoDepth = 16

// runEcho keeps echoDepth receives posted and sends every message back where it came from
func runEcho(l *logrus.Logger, ep *rxd.Endpoint, size int, stop <-chan struct{}) {
	var bo iox.Backoff
	bufs := make([][]byte, echoDepth)
	for i := range bufs {
		bufs[i] = make([]byte, size)
		post(l, ep, bufs[i], i)
	}

	comps := make([]cq.Entry, echoDepth)
	for {
		select {
		case <-stop:
			return
		default:
		}

		progress := false
		n, err := ep.RxCQ().Read(comps)
		if errors.Is(err, cq.ErrAvail) {
			e, _ := ep.RxCQ().ReadErr()
			l.WithField("completion", e.String()).Warn("Receive failed")
			if i, ok := e.Context.(int); ok {
				post(l, ep, bufs[i], i)
			}
			progress = true
		}

		for _, c := range comps[:n] {
			i := c.Context.(int)
			// the receive buffer is reused for the next message once the echo is acknowledged
			if err := ep.SendMsg(&rxd.Msg{IOV: [][]byte{bufs[i][:c.Len]}, Addr: rxd.Addr(c.Src), Context: i}, 0); err != nil {
				l.WithError(err).WithField("addr", c.Src).Warn("Failed to echo")
				post(l, ep, bufs[i], i)
			}
			progress = true
		}

		n, _ = ep.TxCQ().Read(comps)
		for _, c := range comps[:n] {
			i := c.Context.(int)
			post(l, ep, bufs[i], i)
			progress = true
		}
		for {
			e, err := ep.TxCQ().ReadErr()
			if err != nil {
				break
			}
			l.WithField("completion", e.String()).Warn("Echo failed")
			post(l, ep, bufs[e.Context.(int)], e.Context.(int))
			progress = true
		}

		if progress {
			bo.Reset()
		} else {
			bo.Wait()
		}
	}
}

func post(l *logrus.Logger, ep *rxd.Endpoint, buf []byte, i int) {
	var bo iox.Backoff
	for {
		err := ep.Recv(buf, rxd.AddrUnspec, i)
		if err == nil {
			return
		}
		if !rxd.IsAgain(err) {
			l.WithError(err).Error("Failed to post receive")
			return
		}
		bo.Wait()
	}
}
