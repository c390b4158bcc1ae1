package rxd

import (
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

// Window holds packets that arrived ahead of the next expected sequence number.
// Next is the receive sequence: everything below it has been processed.
type Window struct {
	length uint64
	next   uint64
	slots  []*[]byte
	held   int

	dupeCounter        metrics.Counter
	outOfWindowCounter metrics.Counter
	reorderCounter     metrics.Counter
}

func NewWindow(length uint64) *Window {
	if length == 0 {
		length = 1
	}
	return &Window{
		length:             length,
		slots:              make([]*[]byte, length),
		dupeCounter:        metrics.GetOrRegisterCounter("network.packets.duplicate", nil),
		outOfWindowCounter: metrics.GetOrRegisterCounter("network.packets.out_of_window", nil),
		reorderCounter:     metrics.GetOrRegisterCounter("network.packets.reordered", nil),
	}
}

// Next returns the next sequence number the window will hand out
func (w *Window) Next() uint64 {
	return w.next
}

// Held returns the number of packets waiting in the window
func (w *Window) Held() int {
	return w.held
}

// Insert stores b at seq. It returns false, leaving b with the caller, when seq was
// already processed, is already held, or is too far ahead.
func (w *Window) Insert(l logrus.FieldLogger, seq uint64, b *[]byte) bool {
	if seq < w.next {
		w.dupeCounter.Inc(1)
		w.debug(l, seq, "duplicate")
		return false
	}

	if seq >= w.next+w.length {
		w.outOfWindowCounter.Inc(1)
		w.debug(l, seq, "out of window")
		return false
	}

	i := seq % w.length
	if w.slots[i] != nil {
		w.dupeCounter.Inc(1)
		w.debug(l, seq, "old duplicate")
		return false
	}

	if seq != w.next {
		w.reorderCounter.Inc(1)
	}
	w.slots[i] = b
	w.held++
	return true
}

// Peek returns the packet for Next if it has arrived
func (w *Window) Peek() *[]byte {
	return w.slots[w.next%w.length]
}

// Advance hands out the packet for Next and moves past it
func (w *Window) Advance() *[]byte {
	i := w.next % w.length
	b := w.slots[i]
	if b != nil {
		w.slots[i] = nil
		w.held--
	}
	w.next++
	return b
}

// SkipTo moves Next forward to seq, handing every held packet below seq to release
func (w *Window) SkipTo(seq uint64, release func(*[]byte)) {
	for w.next < seq {
		if b := w.Advance(); b != nil {
			release(b)
		}
		if w.held == 0 && w.next < seq {
			w.next = seq
		}
	}
}

// Reset drops everything held and restarts the window at seq
func (w *Window) Reset(seq uint64, release func(*[]byte)) {
	for i, b := range w.slots {
		if b != nil {
			release(b)
			w.slots[i] = nil
		}
	}
	w.held = 0
	w.next = seq
}

func (w *Window) debug(l logrus.FieldLogger, seq uint64, reason string) {
	if lg, ok := l.(*logrus.Logger); ok && lg.Level < logrus.DebugLevel {
		return
	}
	l.WithField("receiveWindow", m{"accepted": false, "currentCounter": w.next, "incomingCounter": seq, "reason": reason}).
		Debug("Receive window")
}
