// Package cq is the completion queue an endpoint reports finished transfers to.
//
// Admission is decided by the producer with Full before work starts. Once admitted,
// a completion is never dropped: when the ring is full it spills to an overflow list
// which the reader drains after the ring.
package cq

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/rcrowley/go-metrics"
)

// ErrAvail is returned by Read while an error completion is waiting to be read with ReadErr
var ErrAvail = errors.New("error completion available")

type Flags uint32

const (
	FlagSend Flags = 1 << iota
	FlagRecv
	FlagMsg
	FlagTagged
	FlagMultiRecv
	FlagRemoteCQData
	FlagPeek
	FlagClaim
)

var flagNames = []string{"send", "recv", "msg", "tagged", "multi_recv", "remote_cq_data", "peek", "claim"}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var s []string
	for i, n := range flagNames {
		if f&(1<<i) != 0 {
			s = append(s, n)
		}
	}
	return strings.Join(s, "|")
}

// Entry is a successful completion
type Entry struct {
	Context any
	Flags   Flags
	Len     int
	// Buf is the start of the consumed region, set for multi-recv completions
	Buf  []byte
	Data uint64
	Tag  uint64
	// Src is the address vector index of the sender on receive completions
	Src uint64
}

// ErrEntry is a failed or informational completion
type ErrEntry struct {
	Entry
	Err error
	// OLen is the length of data that did not fit or was never delivered
	OLen int
}

func (e ErrEntry) String() string {
	return fmt.Sprintf("flags=%s len=%d olen=%d err=%v", e.Flags, e.Len, e.OLen, e.Err)
}

type Queue struct {
	size uint32
	ring lfq.SPSC[Entry]

	// written and read count successful completions only
	written atomix.Uint32
	read    atomix.Uint32

	sync.Mutex
	overflow []Entry
	errs     []ErrEntry

	readLock sync.Mutex

	overflowed metrics.Counter
	errCount   metrics.Counter
}

// New returns a queue that admits up to size outstanding successful completions.
// name scopes the metrics registered for the queue.
func New(name string, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	q := &Queue{
		size:       uint32(size),
		overflowed: metrics.GetOrRegisterCounter(fmt.Sprintf("cq.%s.overflow", name), nil),
		errCount:   metrics.GetOrRegisterCounter(fmt.Sprintf("cq.%s.errors", name), nil),
	}
	q.ring.Init(max(size, 2))
	return q
}

// Size is the admission capacity
func (q *Queue) Size() int {
	return int(q.size)
}

// Len returns the number of successful completions not yet read
func (q *Queue) Len() int {
	return int(q.written.Load() - q.read.Load())
}

// Full reports whether a new operation targeting this queue must be refused
func (q *Queue) Full() bool {
	return q.written.Load()-q.read.Load() >= q.size
}

// Write records a successful completion. Only one goroutine may write at a time.
func (q *Queue) Write(e Entry) {
	q.written.Add(1)

	q.Lock()
	if len(q.overflow) > 0 {
		q.overflow = append(q.overflow, e)
		q.Unlock()
		q.overflowed.Inc(1)
		return
	}
	q.Unlock()

	if err := q.ring.Enqueue(&e); err != nil {
		q.Lock()
		q.overflow = append(q.overflow, e)
		q.Unlock()
		q.overflowed.Inc(1)
	}
}

// WriteErr records an error completion
func (q *Queue) WriteErr(e ErrEntry) {
	q.Lock()
	q.errs = append(q.errs, e)
	q.Unlock()
	q.errCount.Inc(1)
}

// Read fills buf with successful completions in the order they were written.
// It returns ErrAvail if an error completion is pending and iox.ErrWouldBlock if there is nothing to read.
func (q *Queue) Read(buf []Entry) (int, error) {
	if q.ErrLen() > 0 {
		return 0, ErrAvail
	}

	q.readLock.Lock()
	defer q.readLock.Unlock()

	n := 0
	for n < len(buf) {
		e, ok := q.next()
		if !ok {
			break
		}
		buf[n] = e
		n++
	}
	if n == 0 {
		return 0, iox.ErrWouldBlock
	}

	q.read.Add(uint32(n))
	return n, nil
}

func (q *Queue) next() (Entry, bool) {
	if e, err := q.ring.Dequeue(); err == nil {
		return e, true
	}

	q.Lock()
	defer q.Unlock()
	// the writer may have filled the ring before spilling
	if e, err := q.ring.Dequeue(); err == nil {
		return e, true
	}
	if len(q.overflow) == 0 {
		return Entry{}, false
	}

	e := q.overflow[0]
	q.overflow[0] = Entry{}
	q.overflow = q.overflow[1:]
	if len(q.overflow) == 0 {
		q.overflow = nil
	}
	return e, true
}

// ReadErr pops the oldest error completion, iox.ErrWouldBlock if there is none
func (q *Queue) ReadErr() (ErrEntry, error) {
	q.Lock()
	defer q.Unlock()
	if len(q.errs) == 0 {
		return ErrEntry{}, iox.ErrWouldBlock
	}

	e := q.errs[0]
	q.errs[0] = ErrEntry{}
	q.errs = q.errs[1:]
	return e, nil
}

// ErrLen returns the number of error completions not yet read
func (q *Queue) ErrLen() int {
	q.Lock()
	defer q.Unlock()
	return len(q.errs)
}

// Overflow returns the number of admitted completions waiting behind a full ring
func (q *Queue) Overflow() int {
	q.Lock()
	defer q.Unlock()
	return len(q.overflow)
}
