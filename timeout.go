package rxd

import (
	"time"
)

// How many timer items to keep around for reuse
const timerCacheMax = 4096

// TimerWheel buckets items by timeout at a fixed tick resolution. It is lazily ticked with Advance,
// expired items are drained with Purge. It is not safe for concurrent use, the endpoint lock guards it.
type TimerWheel[T any] struct {
	// Current tick
	current int

	// Cheat on finding the length of the wheel
	wheelLen int

	// Last time we ticked, zero until the first Advance
	lastTick time.Time

	// Durations of a tick and the entire wheel
	tickDuration  time.Duration
	wheelDuration time.Duration

	// The wheel is a ring of singly linked lists
	wheel []timeoutList[T]

	// Items that have timed out of the wheel, oldest first
	expired timeoutList[T]

	itemCache   *timeoutItem[T]
	itemsCached int
}

type timeoutList[T any] struct {
	head *timeoutItem[T]
	tail *timeoutItem[T]
}

type timeoutItem[T any] struct {
	item T
	next *timeoutItem[T]
}

func (tl *timeoutList[T]) push(ti *timeoutItem[T]) {
	if tl.tail == nil {
		tl.head = ti
	} else {
		tl.tail.next = ti
	}
	tl.tail = ti
}

// NewTimerWheel builds a wheel able to track timeouts between min and max
func NewTimerWheel[T any](min, max time.Duration) *TimerWheel[T] {
	if min <= 0 {
		min = time.Millisecond
	}
	if max < min {
		max = min
	}

	// Round down and add 2 so a max timeout added at the last position of the current tick still fits
	wLen := int((max / min) + 2)

	return &TimerWheel[T]{
		wheelLen:      wLen,
		wheel:         make([]timeoutList[T], wLen),
		tickDuration:  min,
		wheelDuration: max,
	}
}

// Add places v in the wheel to expire after timeout.
// Caller should Advance the wheel prior to ensure the proper slot is used.
func (tw *TimerWheel[T]) Add(v T, timeout time.Duration) {
	i := tw.findWheel(timeout)

	ti := tw.itemCache
	if ti != nil {
		tw.itemCache = ti.next
		tw.itemsCached--
		ti.next = nil
	} else {
		ti = &timeoutItem[T]{}
	}

	ti.item = v
	tw.wheel[i].push(ti)
}

// Purge removes and returns the oldest expired item, false when there is none
func (tw *TimerWheel[T]) Purge() (T, bool) {
	ti := tw.expired.head
	if ti == nil {
		var na T
		return na, false
	}

	tw.expired.head = ti.next
	if tw.expired.head == nil {
		tw.expired.tail = nil
	}

	v := ti.item
	var zero T
	ti.item = zero
	ti.next = nil
	if tw.itemsCached < timerCacheMax {
		ti.next = tw.itemCache
		tw.itemCache = ti
		tw.itemsCached++
	}

	return v, true
}

// findWheel finds the slot for timeout given the current tick
func (tw *TimerWheel[T]) findWheel(timeout time.Duration) int {
	if timeout < tw.tickDuration {
		timeout = tw.tickDuration
	} else if timeout > tw.wheelDuration {
		timeout = tw.wheelDuration
	}

	// Find the next highest, rounding up
	tick := int(((timeout - 1) / tw.tickDuration) + 1)

	// Add another tick since the current tick may almost be over
	tick += tw.current + 1
	if tick >= tw.wheelLen {
		tick -= tw.wheelLen
	}

	return tick
}

// Advance moves the wheel forward to now, every item passed over is moved to the expired list
func (tw *TimerWheel[T]) Advance(now time.Time) {
	if tw.lastTick.IsZero() {
		tw.lastTick = now
	}

	ticks := int(now.Sub(tw.lastTick) / tw.tickDuration)
	if ticks <= 0 {
		return
	}
	adv := ticks
	if ticks > tw.wheelLen {
		ticks = tw.wheelLen
	}

	for range ticks {
		tw.current++
		if tw.current >= tw.wheelLen {
			tw.current = 0
		}

		slot := &tw.wheel[tw.current]
		if slot.head != nil {
			// Append so the oldest items are purged first
			if tw.expired.tail == nil {
				tw.expired.head = slot.head
			} else {
				tw.expired.tail.next = slot.head
			}
			tw.expired.tail = slot.tail
			slot.head = nil
			slot.tail = nil
		}
	}

	// Advance by whole ticks to avoid drifting
	tw.lastTick = tw.lastTick.Add(tw.tickDuration * time.Duration(adv))
}
